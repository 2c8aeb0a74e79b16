package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cloudtree/cloudtree/internal/auth"
	"github.com/cloudtree/cloudtree/internal/cloud"
	"github.com/cloudtree/cloudtree/internal/config"
	"github.com/cloudtree/cloudtree/internal/graph"
	"github.com/cloudtree/cloudtree/internal/journal"
	"github.com/cloudtree/cloudtree/internal/metrics"
	"github.com/cloudtree/cloudtree/internal/provider/objstore"
	"github.com/cloudtree/cloudtree/internal/provider/onedrive"
)

// errNotLoggedIn is returned when a OneDrive command runs without a usable
// persisted token.
var errNotLoggedIn = errors.New("not logged in, run 'cloudtree login' first")

// workspace bundles everything one command needs: the provider tree and
// the cross-cutting observers attached to its session.
type workspace struct {
	remote  remote
	logger  *slog.Logger
	cfg     *config.Resolved
	journal *journal.Store
	metrics *metrics.Metrics

	// Set for OneDrive providers only.
	onedrive   *onedrive.Adapter
	authoriser *auth.Authoriser
}

// newHTTPClient builds the client for provider traffic. There is no
// overall request timeout because large transfers legitimately run long;
// the data timeout bounds the wait for response headers instead.
func newHTTPClient(cfg *config.Resolved) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext
	transport.TLSHandshakeTimeout = cfg.ConnectTimeout
	transport.ResponseHeaderTimeout = cfg.DataTimeout

	return &http.Client{Transport: transport}
}

// authConfig wires the OAuth lifecycle for a OneDrive provider.
func authConfig(cfg *config.Resolved, logger *slog.Logger) auth.Config {
	base := cfg.Provider.BaseURL
	if base == "" {
		base = graph.DefaultBaseURL
	}

	return auth.Config{
		Provider:     cfg.Name,
		Host:         base,
		Exchanger:    onedrive.NewExchanger(cfg.Provider.ClientID, cfg.Provider.Tenant),
		Validator:    &onedrive.Validator{BaseURL: base, HTTPClient: newHTTPClient(cfg), Logger: logger},
		Store:        auth.NewFileStore(cfg.Auth.TokenDir, cfg.Name),
		CallbackPort: cfg.Auth.CallbackPort,
		Timeout:      cfg.AuthTimeout,
		Prompt:       os.Stderr,
		Logger:       logger,
	}
}

func newAuthoriser(cfg *config.Resolved, logger *slog.Logger) (*auth.Authoriser, error) {
	return auth.New(authConfig(cfg, logger))
}

// openWorkspace builds the provider session selected by resolvedCfg and
// attaches the journal and metrics observers. Callers must Close it.
func openWorkspace(ctx context.Context, logger *slog.Logger) (*workspace, error) {
	if resolvedCfg == nil {
		return nil, errors.New("no configuration loaded")
	}

	ws := &workspace{
		logger:  logger,
		cfg:     resolvedCfg,
		metrics: metrics.New(),
	}

	if resolvedCfg.Journal.Enabled {
		if err := os.MkdirAll(filepath.Dir(resolvedCfg.Journal.Path), 0o700); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}

		store, err := journal.Open(ctx, resolvedCfg.Journal.Path, logger)
		if err != nil {
			return nil, err
		}

		ws.journal = store
	}

	var err error

	switch resolvedCfg.Provider.Kind {
	case config.KindOneDrive:
		err = ws.openOneDrive(ctx)
	case config.KindObjStore:
		err = ws.openObjStore()
	default:
		err = fmt.Errorf("unknown provider kind %q", resolvedCfg.Provider.Kind)
	}

	if err != nil {
		ws.Close()
		return nil, err
	}

	return ws, nil
}

func (ws *workspace) openOneDrive(ctx context.Context) error {
	a, err := newAuthoriser(ws.cfg, ws.logger)
	if err != nil {
		return err
	}

	if err := a.Reacquire(ctx); err != nil {
		ws.logger.Debug("reacquire failed", slog.String("error", err.Error()))
		return errNotLoggedIn
	}

	ts, err := a.TokenSource(ctx)
	if err != nil {
		return err
	}

	cred, _ := a.Credential()
	client := graph.NewClient(cred.Host, newHTTPClient(ws.cfg), ts, ws.logger)

	adapter, err := onedrive.New(client, ws.cfg.Provider.DriveID, ws.logger)
	if err != nil {
		return err
	}

	ws.authoriser = a
	ws.onedrive = adapter

	return attachSession(ws, adapter)
}

func (ws *workspace) openObjStore() error {
	adapter, err := objstore.New(ws.cfg.Provider.URI, ws.logger)
	if err != nil {
		return err
	}

	return attachSession(ws, adapter)
}

// attachSession creates the session over adapter and registers the
// session-wide observers.
func attachSession[N any](ws *workspace, adapter cloud.Adapter[N]) error {
	s, err := cloud.NewSession(adapter, ws.logger,
		cloud.WithPollInterval(ws.cfg.PollInterval),
		cloud.WithWatchFiles(ws.cfg.Transfers.WatchFiles),
	)
	if err != nil {
		return err
	}

	s.AddOperationListener(metrics.Operations[N](ws.metrics))
	s.AddTransferListener(ws.metrics.Transfers())

	if ws.journal != nil {
		s.AddTransferListener(ws.journal.Listener())
	}

	ws.remote = newTree(s, ws.logger)

	return nil
}

// Close flushes the metrics textfile and closes the journal.
func (ws *workspace) Close() {
	if path := ws.cfg.Metrics.Textfile; path != "" {
		if err := ws.metrics.WriteTextfile(path); err != nil {
			ws.logger.Warn("writing metrics textfile failed",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
	}

	if ws.journal != nil {
		if err := ws.journal.Close(); err != nil {
			ws.logger.Warn("closing journal failed", slog.String("error", err.Error()))
		}
	}
}

// withWorkspace runs fn against a freshly opened workspace under a
// signal-aware context.
func withWorkspace(cmd *cobra.Command, fn func(ctx context.Context, ws *workspace) error) error {
	logger := buildLogger()

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}

	ctx, stop := shutdownContext(parent, logger)
	defer stop()

	ws, err := openWorkspace(ctx, logger)
	if err != nil {
		return err
	}
	defer ws.Close()

	return fn(ctx, ws)
}
