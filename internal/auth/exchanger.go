package auth

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

// OAuth2Exchanger is a TokenExchanger and TokenRefresher for any provider
// with a standard OAuth2 authorization code endpoint. It always uses PKCE.
type OAuth2Exchanger struct {
	Config oauth2.Config
	// HTTPClient is used for token endpoint calls when set.
	HTTPClient *http.Client
}

// NewOAuth2Exchanger wraps cfg. cfg.RedirectURL is ignored; the redirect URI
// of each flow is passed per call.
func NewOAuth2Exchanger(cfg oauth2.Config) *OAuth2Exchanger {
	return &OAuth2Exchanger{Config: cfg}
}

func (e *OAuth2Exchanger) configFor(redirectURI string) *oauth2.Config {
	c := e.Config
	c.RedirectURL = redirectURI

	return &c
}

func (e *OAuth2Exchanger) withClient(ctx context.Context) context.Context {
	if e.HTTPClient == nil {
		return ctx
	}

	return context.WithValue(ctx, oauth2.HTTPClient, e.HTTPClient)
}

// AuthCodeURL builds the consent URL with an S256 PKCE challenge and offline
// access so the provider returns a refresh token.
func (e *OAuth2Exchanger) AuthCodeURL(redirectURI, state, verifier string) string {
	return e.configFor(redirectURI).AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier),
	)
}

// Exchange trades the authorization code for a token.
func (e *OAuth2Exchanger) Exchange(ctx context.Context, code, redirectURI, verifier string) (*oauth2.Token, error) {
	tok, err := e.configFor(redirectURI).Exchange(e.withClient(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}

	return tok, nil
}

// TokenSource returns a refreshing source starting from tok. ctx must
// outlive the source.
func (e *OAuth2Exchanger) TokenSource(ctx context.Context, tok *oauth2.Token) oauth2.TokenSource {
	return e.Config.TokenSource(e.withClient(ctx), tok)
}
