package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/browser"
)

// stateTokenBytes is the number of random bytes in the OAuth2 state.
const stateTokenBytes = 16

// callbackPath is the path the provider redirects to. Root keeps the
// redirect URI an exact match for a registered "http://localhost".
const callbackPath = "/"

// shutdownTimeout bounds draining the redirect listener.
const shutdownTimeout = 5 * time.Second

// callbackResult carries the authorization code or the provider's error.
type callbackResult struct {
	code string
	err  error
}

// redirectListener is a one-shot local HTTP server for the OAuth redirect.
// It delivers the first outcome (a code or a provider error) and answers
// every later request with 410 Gone.
type redirectListener struct {
	srv     *http.Server
	uri     string
	state   string
	logger  *slog.Logger
	results chan callbackResult

	mu       sync.Mutex
	captured bool

	closeOnce sync.Once
}

// startRedirectListener binds 127.0.0.1:port (0 for ephemeral) and serves
// the callback in the background.
func startRedirectListener(ctx context.Context, host string, port int, state string, logger *slog.Logger) (*redirectListener, error) {
	lc := net.ListenConfig{}

	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("binding redirect listener: %w", err)
	}

	tcpAddr, ok := ln.Addr().(*net.TCPAddr)
	if !ok {
		ln.Close()
		return nil, errors.New("redirect listener address is not TCP")
	}

	rl := &redirectListener{
		uri:     fmt.Sprintf("http://%s:%d", host, tcpAddr.Port),
		state:   state,
		logger:  logger,
		results: make(chan callbackResult, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+callbackPath, rl.handle)

	rl.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: shutdownTimeout,
	}

	go func() {
		if err := rl.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rl.deliver(callbackResult{err: fmt.Errorf("redirect listener: %w", err)})
		}
	}()

	logger.Info("redirect listener started", slog.Int("port", tcpAddr.Port))

	return rl, nil
}

// RedirectURI is the URI to register with the provider for this flow.
func (rl *redirectListener) RedirectURI() string { return rl.uri }

func (rl *redirectListener) handle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// Requests carrying the wrong state are answered and ignored, so a stray
	// or forged request cannot end the flow.
	if q.Get("state") != rl.state {
		rl.logger.Warn("redirect with mismatched state ignored")
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)

		return
	}

	var res callbackResult

	switch {
	case q.Get("error") != "":
		res.err = fmt.Errorf("provider denied authorization: %s: %s", q.Get("error"), q.Get("error_description"))
	case q.Get("code") == "":
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		return
	default:
		res.code = q.Get("code")
	}

	if !rl.deliver(res) {
		http.Error(w, "Authorization already received", http.StatusGone)
		return
	}

	if res.err != nil {
		http.Error(w, "Authorization failed", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><body><h1>Authentication successful</h1>"+
		"<p>You can close this window and return to the terminal.</p></body></html>")
}

// deliver hands over the first result only. Reports whether res was taken.
func (rl *redirectListener) deliver(res callbackResult) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.captured {
		return false
	}

	rl.captured = true
	rl.results <- res

	return true
}

// Wait blocks until the redirect arrives or ctx ends.
func (rl *redirectListener) Wait(ctx context.Context) (string, error) {
	select {
	case res := <-rl.results:
		if res.err != nil {
			return "", res.err
		}

		return res.code, nil
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for authorization: %w", ctx.Err())
	}
}

// Close shuts the server down. Safe to call more than once.
func (rl *redirectListener) Close() {
	rl.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := rl.srv.Shutdown(ctx); err != nil {
			rl.logger.Warn("redirect listener shutdown", slog.String("error", err.Error()))
		}
	})
}

// generateState returns a random hex string for the OAuth2 state parameter.
func generateState() (string, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}

// OpenBrowser opens url in the user's default browser.
func OpenBrowser(url string) error {
	return browser.OpenURL(url)
}
