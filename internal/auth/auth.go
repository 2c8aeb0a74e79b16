// Package auth implements the OAuth authorisation lifecycle shared by every
// provider: reuse a persisted token when the provider still accepts it,
// otherwise run the authorization code flow through a local redirect
// listener and persist the new token.
//
// Providers plug in through small capability interfaces (TokenExchanger,
// TokenValidator, TokenStore) instead of a class hierarchy.
package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/cloudtree/cloudtree/internal/csperr"
)

// Default timeouts.
const (
	DefaultAcquireTimeout = 5 * time.Minute
	DefaultCallbackHost   = "localhost"
)

// Sentinel causes carried inside csperr.ErrAuthorisation errors.
var (
	ErrNoToken      = errors.New("no persisted token")
	ErrInvalidToken = errors.New("token rejected by provider")
	ErrNotAuthed    = errors.New("not authenticated")
)

// Credential is the minimal persisted credential: the token and the
// endpoint it was issued for.
type Credential struct {
	Token *oauth2.Token
	Host  string
}

// CredentialHolder exposes the credential a session authenticated with.
type CredentialHolder interface {
	Credential() (Credential, bool)
}

// TokenExchanger builds the provider consent URL and exchanges the returned
// authorization code for a token.
type TokenExchanger interface {
	AuthCodeURL(redirectURI, state, verifier string) string
	Exchange(ctx context.Context, code, redirectURI, verifier string) (*oauth2.Token, error)
}

// TokenRefresher is optionally implemented by a TokenExchanger whose tokens
// can be refreshed without user interaction.
type TokenRefresher interface {
	TokenSource(ctx context.Context, tok *oauth2.Token) oauth2.TokenSource
}

// TokenValidator confirms a credential with a cheap authenticated call.
// It returns nil when the provider accepts the credential.
type TokenValidator interface {
	ValidateToken(ctx context.Context, cred Credential) error
}

// TokenStore persists one credential. Load returns (nil, nil) when nothing
// is stored.
type TokenStore interface {
	Load() (*Credential, error)
	Save(cred Credential) error
	Remove() error
}

// State is the authorisation state of an Authoriser.
type State int

const (
	Unauthenticated State = iota
	Authenticated
)

func (s State) String() string {
	if s == Authenticated {
		return "AUTHENTICATED"
	}

	return "UNAUTHENTICATED"
}

// Config wires an Authoriser.
type Config struct {
	Provider  string
	Host      string // recorded in the persisted credential
	Exchanger TokenExchanger
	Validator TokenValidator
	Store     TokenStore

	// CallbackHost and CallbackPort form the redirect URI. Port 0 picks an
	// ephemeral port.
	CallbackHost string
	CallbackPort int
	// Timeout bounds the whole acquire flow, including the wait for the
	// user to consent.
	Timeout time.Duration

	// OpenURL launches a browser. Defaults to OpenBrowser. The URL is
	// always printed to Prompt as well.
	OpenURL func(string) error
	Prompt  io.Writer

	Logger *slog.Logger
}

// Authoriser runs the lifecycle for one provider session.
type Authoriser struct {
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	state State
	cred  Credential
}

// New validates cfg and returns an unauthenticated Authoriser.
func New(cfg Config) (*Authoriser, error) {
	switch {
	case cfg.Exchanger == nil:
		return nil, csperr.Build("new authoriser", errors.New("no token exchanger"))
	case cfg.Validator == nil:
		return nil, csperr.Build("new authoriser", errors.New("no token validator"))
	case cfg.Store == nil:
		return nil, csperr.Build("new authoriser", errors.New("no token store"))
	}

	if cfg.CallbackHost == "" {
		cfg.CallbackHost = DefaultCallbackHost
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultAcquireTimeout
	}

	if cfg.OpenURL == nil {
		cfg.OpenURL = OpenBrowser
	}

	if cfg.Prompt == nil {
		cfg.Prompt = os.Stderr
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Authoriser{
		cfg:    cfg,
		logger: logger.With(slog.String("provider", cfg.Provider)),
	}, nil
}

// State returns the current authorisation state.
func (a *Authoriser) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.state
}

// Credential returns the credential once authenticated.
func (a *Authoriser) Credential() (Credential, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.cred, a.state == Authenticated
}

// Authorise reuses the persisted token when the provider still accepts it
// and falls through to the interactive flow otherwise.
func (a *Authoriser) Authorise(ctx context.Context) error {
	err := a.Reacquire(ctx)
	if err == nil {
		return nil
	}

	a.logger.Info("persisted token unusable, starting authorization flow",
		slog.String("reason", err.Error()),
	)

	return a.Acquire(ctx)
}

// Reacquire loads the persisted token, refreshes it if it has expired and
// the exchanger can refresh, and validates it against the provider. Any
// failure leaves the Authoriser unauthenticated.
func (a *Authoriser) Reacquire(ctx context.Context) error {
	stored, err := a.cfg.Store.Load()
	if err != nil {
		return csperr.Authorisation("reacquire", err)
	}

	if stored == nil || stored.Token == nil {
		return csperr.Authorisation("reacquire", ErrNoToken)
	}

	cred := *stored

	if !cred.Token.Valid() {
		cred, err = a.refresh(ctx, cred)
		if err != nil {
			return csperr.Authorisation("reacquire", err)
		}
	}

	if err := a.cfg.Validator.ValidateToken(ctx, cred); err != nil {
		return csperr.Authorisation("reacquire", fmt.Errorf("%w: %w", ErrInvalidToken, err))
	}

	a.setAuthenticated(cred)

	a.logger.Info("reused persisted token", slog.Time("expiry", cred.Token.Expiry))

	return nil
}

// refresh exchanges an expired token's refresh token for a new one and
// persists the result.
func (a *Authoriser) refresh(ctx context.Context, cred Credential) (Credential, error) {
	r, ok := a.cfg.Exchanger.(TokenRefresher)
	if !ok || cred.Token.RefreshToken == "" {
		return cred, errors.New("token expired and cannot be refreshed")
	}

	tok, err := r.TokenSource(ctx, cred.Token).Token()
	if err != nil {
		return cred, fmt.Errorf("refreshing token: %w", err)
	}

	cred.Token = tok

	if err := a.cfg.Store.Save(cred); err != nil {
		return cred, fmt.Errorf("saving refreshed token: %w", err)
	}

	return cred, nil
}

// Acquire runs the interactive flow: start the redirect listener, surface
// the consent URL, wait for exactly one authorization code, exchange it,
// persist the token and stop the listener. A token that cannot be persisted
// fails the flow.
func (a *Authoriser) Acquire(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	state, err := generateState()
	if err != nil {
		return csperr.Authorisation("acquire", fmt.Errorf("generating state: %w", err))
	}

	rl, err := startRedirectListener(ctx, a.cfg.CallbackHost, a.cfg.CallbackPort, state, a.logger)
	if err != nil {
		return csperr.Authorisation("start redirect listener", err)
	}
	defer rl.Close()

	verifier := oauth2.GenerateVerifier()
	consentURL := a.cfg.Exchanger.AuthCodeURL(rl.RedirectURI(), state, verifier)

	a.surface(consentURL)

	code, err := rl.Wait(ctx)
	if err != nil {
		return csperr.Authorisation("await redirect", err)
	}

	a.logger.Info("authorization code received, exchanging")

	tok, err := a.cfg.Exchanger.Exchange(ctx, code, rl.RedirectURI(), verifier)
	if err != nil {
		return csperr.Authorisation("exchange code", err)
	}

	cred := Credential{Token: tok, Host: a.cfg.Host}

	if err := a.cfg.Store.Save(cred); err != nil {
		return csperr.Authorisation("save token", err)
	}

	a.setAuthenticated(cred)

	a.logger.Info("authorization successful", slog.Time("expiry", tok.Expiry))

	return nil
}

// surface prints the consent URL and tries to open it in a browser.
func (a *Authoriser) surface(consentURL string) {
	fmt.Fprintf(a.cfg.Prompt, "Open this URL in your browser to authorize access:\n%s\n", consentURL)

	if err := a.cfg.OpenURL(consentURL); err != nil {
		a.logger.Warn("could not open browser", slog.String("error", err.Error()))
	}
}

// Logout removes the persisted token and forgets the credential.
func (a *Authoriser) Logout() error {
	if err := a.cfg.Store.Remove(); err != nil {
		return csperr.Authorisation("logout", err)
	}

	a.mu.Lock()
	a.state = Unauthenticated
	a.cred = Credential{}
	a.mu.Unlock()

	a.logger.Info("logged out")

	return nil
}

// TokenSource returns a token source for API clients. Tokens the provider
// rotates during refresh are persisted so the next run can reuse them.
func (a *Authoriser) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	cred, ok := a.Credential()
	if !ok {
		return nil, csperr.Authorisation("token source", ErrNotAuthed)
	}

	var src oauth2.TokenSource = oauth2.StaticTokenSource(cred.Token)
	if r, ok := a.cfg.Exchanger.(TokenRefresher); ok {
		src = r.TokenSource(ctx, cred.Token)
	}

	return &persistingSource{src: src, a: a, last: cred.Token.AccessToken}, nil
}

func (a *Authoriser) setAuthenticated(cred Credential) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.cred = cred
	a.state = Authenticated
}

// rotate records a token obtained by a silent refresh.
func (a *Authoriser) rotate(tok *oauth2.Token) {
	a.mu.Lock()
	a.cred.Token = tok
	cred := a.cred
	a.mu.Unlock()

	if err := a.cfg.Store.Save(cred); err != nil {
		a.logger.Warn("failed to persist refreshed token", slog.String("error", err.Error()))
		return
	}

	a.logger.Debug("persisted refreshed token", slog.Time("expiry", tok.Expiry))
}

// persistingSource hands out tokens from src and persists every new one.
type persistingSource struct {
	src oauth2.TokenSource
	a   *Authoriser

	mu   sync.Mutex
	last string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.src.Token()
	if err != nil {
		return nil, csperr.Authorisation("obtain token", err)
	}

	p.mu.Lock()
	changed := tok.AccessToken != p.last
	p.last = tok.AccessToken
	p.mu.Unlock()

	if changed {
		p.a.rotate(tok)
	}

	return tok, nil
}
