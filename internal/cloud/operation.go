package cloud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/cloudtree/cloudtree/internal/csperr"
	"github.com/cloudtree/cloudtree/internal/event"
)

// invocation is one run of the operation state machine on one container.
// The caller's listener only sees events carrying this invocation's ID and
// is unsubscribed by end, whatever the outcome.
type invocation[N any] struct {
	c   *Container[N]
	op  Operation
	id  string
	sub event.Subscription

	mu       sync.Mutex
	terminal bool
}

func (c *Container[N]) begin(op Operation, l OperationListener[N]) *invocation[N] {
	inv := &invocation[N]{c: c, op: op, id: uuid.NewString()}

	if l != nil {
		inv.sub = c.operations.AddListener(func(e OperationEvent[N]) {
			if e.InvocationID == inv.id {
				l(e)
			}
		}, op)
	}

	c.logger.Debug("operation started",
		slog.String("op", op.String()),
		slog.String("invocation_id", inv.id),
		slog.String("path", c.Path()),
	)

	return inv
}

// end removes the caller's listener. Always deferred right after begin.
func (inv *invocation[N]) end() {
	if inv.sub != 0 {
		inv.c.operations.RemoveListener(inv.sub)
	}
}

func (inv *invocation[N]) progress(p float64) {
	inv.emit(InProgress, p, nil)
}

func (inv *invocation[N]) complete() {
	inv.emit(Completed, 1, nil)

	inv.c.logger.Info("operation completed",
		slog.String("op", inv.op.String()),
		slog.String("invocation_id", inv.id),
		slog.String("path", inv.c.Path()),
	)
}

// fail emits FAILED at progress 0 and returns err as an operation error.
// The cause's message is kept.
func (inv *invocation[N]) fail(path string, err error) error {
	if !errors.Is(err, csperr.ErrOperation) {
		err = csperr.Operation(inv.op.String(), path, err)
	}

	inv.emit(Failed, 0, err)

	inv.c.logger.Warn("operation failed",
		slog.String("op", inv.op.String()),
		slog.String("invocation_id", inv.id),
		slog.String("path", path),
		slog.String("error", err.Error()),
	)

	return err
}

// emit delivers one event to the container's listeners and the session
// observers. Nothing is delivered after the terminal event.
func (inv *invocation[N]) emit(state OperationState, progress float64, err error) {
	inv.mu.Lock()
	if inv.terminal {
		inv.mu.Unlock()
		return
	}

	inv.terminal = state.Terminal()
	inv.mu.Unlock()

	ev := OperationEvent[N]{
		InvocationID: inv.id,
		Subject:      inv.c.self,
		Operation:    inv.op,
		State:        state,
		Progress:     min(max(progress, 0), 1),
		Err:          err,
	}

	inv.c.operations.Notify(inv.op, ev)
	inv.c.session.operations.Notify(inv.op, ev)
}

// clearCollision runs the name-collision pre-check for name in dest. The
// check is an exact, case-sensitive match on dest's direct children; a name
// the in-memory tree does not know is looked up at the provider, so an
// unloaded folder is checked too. Without overwrite a collision fails the
// invocation; with overwrite the colliding node is deleted first as its own
// DELETE operation. A name reserved by a running upload always collides.
// The caller holds dest.opMu.
func (inv *invocation[N]) clearCollision(ctx context.Context, dest *Folder[N], name string, overwrite bool) error {
	target := joinPath(dest.Path(), name)

	if _, uploading := dest.pending[name]; uploading {
		return inv.fail(target, fmt.Errorf("%w: upload in progress", csperr.ErrExists))
	}

	existing := dest.Child(name)
	if existing == nil {
		found, err := dest.remoteChild(ctx, name)
		if err != nil {
			return inv.fail(target, err)
		}

		existing = found
	}

	if existing == nil {
		return nil
	}

	if existing.base() == inv.c || existing.Path() == inv.c.Path() {
		return inv.fail(target, errors.New("source and destination are the same"))
	}

	if !overwrite {
		return inv.fail(target, csperr.ErrExists)
	}

	inv.c.logger.Info("overwriting existing item",
		slog.String("op", inv.op.String()),
		slog.String("invocation_id", inv.id),
		slog.String("path", target),
	)

	if err := existing.base().deleteNode(ctx, nil, false); err != nil {
		return inv.fail(target, err)
	}

	return nil
}

// remoteChild asks the provider for dest's child called name and attaches
// it when found. It returns nil, nil when the provider has no such item.
func (f *Folder[N]) remoteChild(ctx context.Context, name string) (Node[N], error) {
	native, err := f.adapter.FetchMetadata(ctx, Ref{Path: joinPath(f.Path(), name)})
	if errors.Is(err, csperr.ErrNotFound) {
		return nil, nil //nolint:nilnil // absent is not an error here
	}

	if err != nil {
		return nil, csperr.Access("stat", joinPath(f.Path(), name), err)
	}

	node := f.session.newNode(native)
	if err := f.attach(node); err != nil {
		if known := f.Child(name); known != nil {
			return known, nil
		}

		return nil, err
	}

	return node, nil
}
