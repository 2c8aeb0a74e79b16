package cloud

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cloudtree/cloudtree/internal/csperr"
	"github.com/cloudtree/cloudtree/internal/event"
	"github.com/cloudtree/cloudtree/internal/transfer"
)

// Session is the factory for containers of one provider. Callers never
// construct Files or Folders directly: they obtain the root with Root or a
// node with Lookup and navigate from there.
//
// Listeners registered on the session observe every operation and transfer
// of every container it produced, which is how cross-cutting observers
// (metrics, the transfer journal) attach.
type Session[N any] struct {
	adapter Adapter[N]
	logger  *slog.Logger
	now     func() time.Time

	pollInterval time.Duration
	watchFiles   bool

	operations *event.Bus[Operation, OperationEvent[N]]
	transfers  *event.Bus[transfer.State, transfer.Event]

	mu   sync.Mutex
	root *Folder[N]
}

// SessionOption configures a Session.
type SessionOption func(*sessionConfig)

type sessionConfig struct {
	now          func() time.Time
	pollInterval time.Duration
	watchFiles   bool
}

// WithClock replaces time.Now for link expiry checks.
func WithClock(now func() time.Time) SessionOption {
	return func(c *sessionConfig) { c.now = now }
}

// WithPollInterval sets the download progress sampling interval.
func WithPollInterval(d time.Duration) SessionOption {
	return func(c *sessionConfig) { c.pollInterval = d }
}

// WithWatchFiles enables write-event assisted download progress sampling.
func WithWatchFiles(enabled bool) SessionOption {
	return func(c *sessionConfig) { c.watchFiles = enabled }
}

// NewSession builds a session over adapter.
func NewSession[N any](adapter Adapter[N], logger *slog.Logger, opts ...SessionOption) (*Session[N], error) {
	if adapter == nil {
		return nil, csperr.Build("new session", errors.New("nil adapter"))
	}

	if logger == nil {
		logger = slog.Default()
	}

	cfg := sessionConfig{now: time.Now, pollInterval: transfer.DefaultPollInterval}
	for _, o := range opts {
		o(&cfg)
	}

	return &Session[N]{
		adapter:      adapter,
		logger:       logger,
		now:          cfg.now,
		pollInterval: cfg.pollInterval,
		watchFiles:   cfg.watchFiles,
		operations:   event.NewBus[Operation, OperationEvent[N]](logger),
		transfers:    event.NewBus[transfer.State, transfer.Event](logger),
	}, nil
}

// Adapter returns the provider adapter the session was built with.
func (s *Session[N]) Adapter() Adapter[N] { return s.adapter }

// Root returns the root folder, fetching it on first use.
func (s *Session[N]) Root(ctx context.Context) (*Folder[N], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.root != nil {
		return s.root, nil
	}

	native, err := s.adapter.FetchMetadata(ctx, Ref{Path: "/"})
	if err != nil {
		return nil, csperr.Creation("root", "/", err)
	}

	if !s.adapter.Describe(native).IsFolder {
		return nil, csperr.Errorf(csperr.ErrCreation, "root", "/", "provider root is not a folder")
	}

	root := newFolder(s, native)
	root.relocate("/", "/")
	s.root = root

	return root, nil
}

// Lookup resolves p from the root, fetching and attaching any segment not
// yet in the tree. Already known nodes are returned without a remote call.
func (s *Session[N]) Lookup(ctx context.Context, p string) (Node[N], error) {
	root, err := s.Root(ctx)
	if err != nil {
		return nil, err
	}

	p = cleanPath(p)
	if p == "/" {
		return root, nil
	}

	current := root

	segments := strings.Split(strings.TrimPrefix(p, "/"), "/")
	for i, seg := range segments {
		child := current.Child(seg)

		if child == nil {
			child, err = s.fetchChild(ctx, current, seg)
			if err != nil {
				return nil, err
			}
		}

		if i == len(segments)-1 {
			return child, nil
		}

		folder, ok := child.(*Folder[N])
		if !ok {
			return nil, csperr.Access("lookup", child.Path(), errors.New("not a folder"))
		}

		current = folder
	}

	return current, nil
}

func (s *Session[N]) fetchChild(ctx context.Context, parent *Folder[N], name string) (Node[N], error) {
	target := joinPath(parent.Path(), name)

	native, err := s.adapter.FetchMetadata(ctx, Ref{Path: target})
	if err != nil {
		return nil, csperr.Access("lookup", target, err)
	}

	node := s.newNode(native)
	if err := parent.Add(node); err != nil {
		// Lost a race with a concurrent lookup or load.
		if existing := parent.Child(name); existing != nil {
			return existing, nil
		}

		return nil, err
	}

	return node, nil
}

// newNode wraps a native object in a File or Folder.
func (s *Session[N]) newNode(native N) Node[N] {
	if s.adapter.Describe(native).IsFolder {
		return newFolder(s, native)
	}

	return newFile(s, native)
}

// AddOperationListener observes operations on every container of the
// session. With no ops, all operations are observed.
func (s *Session[N]) AddOperationListener(l OperationListener[N], ops ...Operation) event.Subscription {
	return s.operations.AddListener(event.Listener[OperationEvent[N]](l), ops...)
}

// RemoveOperationListener drops a session-wide operation subscription.
func (s *Session[N]) RemoveOperationListener(sub event.Subscription) bool {
	return s.operations.RemoveListener(sub)
}

// AddTransferListener observes every transfer job the session runs.
func (s *Session[N]) AddTransferListener(l transfer.Listener, states ...transfer.State) event.Subscription {
	return s.transfers.AddListener(l, states...)
}

// RemoveTransferListener drops a session-wide transfer subscription.
func (s *Session[N]) RemoveTransferListener(sub event.Subscription) bool {
	return s.transfers.RemoveListener(sub)
}

// newJob creates a transfer job whose events also reach the session's
// transfer observers.
func (s *Session[N]) newJob(dir transfer.Direction, src, dst transfer.Endpoint, total int64) *transfer.Job {
	job := transfer.NewJob(dir, src, dst, total, s.logger)
	job.AddListener(func(e transfer.Event) { s.transfers.Notify(e.State, e) })

	return job
}
