package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/cloudtree/cloudtree/internal/csperr"
	"github.com/cloudtree/cloudtree/internal/event"
)

// Listener receives transfer events.
type Listener = event.Listener[Event]

// ErrAlreadyStarted is returned by Run when the job has left INITIALISED.
var ErrAlreadyStarted = errors.New("transfer: job already started")

// Job is one upload or download attempt. Create it with NewJob before any
// byte moves, register listeners, then drive it with Run.
//
// Listeners run on the goroutine that reports progress and must not call
// Report, ReportBytes or Run on the same job. Cancel is safe from anywhere.
type Job struct {
	id          string
	direction   Direction
	source      Endpoint
	destination Endpoint
	total       int64
	logger      *slog.Logger
	bus         *event.Bus[State, Event]

	// emitMu serialises notifications so IN_PROGRESS samples from a monitor
	// goroutine never interleave with, or follow, the terminal notification.
	emitMu sync.Mutex

	mu       sync.Mutex
	state    State
	progress float64
	bytes    int64
	err      error
	handle   io.Closer
	closed   bool
	cancelFn context.CancelFunc

	cancelled atomic.Bool
	done      chan struct{}
}

// NewJob creates a job in state INITIALISED. total is the expected byte
// count (0 if unknown).
func NewJob(dir Direction, source, destination Endpoint, total int64, logger *slog.Logger) *Job {
	if logger == nil {
		logger = slog.Default()
	}

	return &Job{
		id:          uuid.NewString(),
		direction:   dir,
		source:      source,
		destination: destination,
		total:       total,
		logger:      logger,
		bus:         event.NewBus[State, Event](logger),
		state:       Initialised,
		done:        make(chan struct{}),
	}
}

// ID returns the job's unique identifier.
func (j *Job) ID() string { return j.id }

// Direction returns upload or download.
func (j *Job) Direction() Direction { return j.direction }

// Source returns the endpoint being read.
func (j *Job) Source() Endpoint { return j.source }

// Destination returns the endpoint being written.
func (j *Job) Destination() Endpoint { return j.destination }

// Total returns the expected byte count, 0 if unknown.
func (j *Job) Total() int64 { return j.total }

// Done is closed once the terminal notification has been delivered.
func (j *Job) Done() <-chan struct{} { return j.done }

// State returns the current state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.state
}

// Progress returns the last reported progress in [0,1].
func (j *Job) Progress() float64 {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.progress
}

// Err returns the failure cause once the job ended in Failed or Cancelled.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.err
}

// AddListener subscribes l to the given states, or to all states if none
// are given.
func (j *Job) AddListener(l Listener, states ...State) event.Subscription {
	return j.bus.AddListener(l, states...)
}

// RemoveListener drops a subscription made with AddListener.
func (j *Job) RemoveListener(sub event.Subscription) bool {
	return j.bus.RemoveListener(sub)
}

// ClearListeners removes listeners for the given state, or every listener
// when no state is given.
func (j *Job) ClearListeners(states ...State) {
	if len(states) == 0 {
		j.bus.ClearAll()
		return
	}

	for _, s := range states {
		j.bus.Clear(s)
	}
}

// Attach hands the local I/O handle to the job. The job closes it exactly
// once: on Cancel, or when Run returns. Attaching to an already cancelled
// job closes the handle immediately.
func (j *Job) Attach(handle io.Closer) {
	j.mu.Lock()
	j.handle = handle
	j.closed = false
	j.mu.Unlock()

	if j.cancelled.Load() {
		j.closeHandle()
	}
}

// Cancel requests cancellation: it sets the cancelled flag, cancels the
// context passed to Run's function and closes the attached handle. The
// CANCELLED notification is delivered by Run. A Cancel that arrives after
// the job is terminal has no effect.
func (j *Job) Cancel() {
	if j.State().Terminal() {
		return
	}

	if !j.cancelled.CompareAndSwap(false, true) {
		return
	}

	j.logger.Info("transfer cancel requested",
		slog.String("job_id", j.id),
		slog.String("direction", j.direction.String()),
	)

	j.mu.Lock()
	cancel := j.cancelFn
	j.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	j.closeHandle()
}

// Cancelled reports whether Cancel was called.
func (j *Job) Cancelled() bool { return j.cancelled.Load() }

// Report pushes an IN_PROGRESS sample. Progress is clamped to [0,1] and
// never moves backwards. Samples after the terminal notification are dropped.
func (j *Job) Report(progress float64) {
	j.emit(InProgress, progress, -1, nil)
}

// ReportBytes pushes an IN_PROGRESS sample computed as n/total. With an
// unknown total the progress stays where it is and only the byte count moves.
func (j *Job) ReportBytes(n int64) {
	progress := -1.0
	if j.total > 0 {
		progress = float64(n) / float64(j.total)
	}

	j.emit(InProgress, progress, n, nil)
}

// Run drives the job: it delivers INITIALISED, calls fn, and delivers the
// single terminal notification. fn reports progress through Report,
// ReportBytes, a ProgressReader or a PollMonitor it stops before returning.
//
// Outcome rules: fn returning nil completes the job even if Cancel raced
// with it; fn returning an error after Cancel (or after ctx was cancelled)
// ends in CANCELLED; any other error ends in FAILED. The attached handle is
// closed before the terminal notification on every path.
func (j *Job) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	j.mu.Lock()
	if j.state != Initialised || j.cancelFn != nil {
		j.mu.Unlock()
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	j.cancelFn = cancel
	j.mu.Unlock()

	defer cancel()

	stop := context.AfterFunc(ctx, j.Cancel)
	defer stop()

	j.logger.Debug("transfer started",
		slog.String("job_id", j.id),
		slog.String("direction", j.direction.String()),
		slog.String("source", j.source.Path()),
		slog.String("destination", j.destination.Path()),
		slog.Int64("total", j.total),
	)

	j.emit(Initialised, 0, 0, nil)

	if j.cancelled.Load() {
		j.closeHandle()
		return j.finish(Cancelled, csperr.ErrCancelled)
	}

	err := fn(runCtx)

	// A failed close on the success path means the local side is incomplete.
	if closeErr := j.closeHandle(); err == nil && closeErr != nil && !j.cancelled.Load() {
		err = fmt.Errorf("closing local handle: %w", closeErr)
	}

	switch {
	case err == nil:
		return j.finish(Completed, nil)
	case j.cancelled.Load() || ctx.Err() != nil:
		return j.finish(Cancelled, fmt.Errorf("%w: %w", csperr.ErrCancelled, err))
	default:
		return j.finish(Failed, err)
	}
}

// finish delivers the terminal notification and returns the caller-facing
// error for it.
func (j *Job) finish(state State, cause error) error {
	delivered := j.emit(state, -1, -1, cause)
	if delivered {
		close(j.done)
	}

	attrs := []any{
		slog.String("job_id", j.id),
		slog.String("direction", j.direction.String()),
		slog.String("state", state.String()),
	}

	if cause == nil {
		j.logger.Info("transfer finished", attrs...)
		return nil
	}

	j.logger.Warn("transfer finished", append(attrs, slog.String("error", cause.Error()))...)

	return csperr.Transfer(j.direction.String(), j.destination.Path(), cause)
}

// emit applies a transition and delivers it. progress < 0 keeps the current
// progress, bytes < 0 keeps the current byte count. Reports whether the
// event was delivered (false once a terminal state has been delivered).
func (j *Job) emit(state State, progress float64, bytes int64, cause error) bool {
	j.emitMu.Lock()
	defer j.emitMu.Unlock()

	j.mu.Lock()
	if j.state.Terminal() {
		j.mu.Unlock()
		return false
	}

	if progress >= 0 {
		progress = min(progress, 1)
		j.progress = max(j.progress, progress)
	}

	if bytes >= 0 {
		j.bytes = max(j.bytes, bytes)
	}

	if state == Completed {
		j.progress = 1
		if j.total > 0 {
			j.bytes = j.total
		}
	}

	j.state = state
	j.err = cause

	ev := Event{
		JobID:       j.id,
		Direction:   j.direction,
		Source:      j.source,
		Destination: j.destination,
		State:       state,
		Progress:    j.progress,
		Bytes:       j.bytes,
		Total:       j.total,
		Err:         cause,
	}
	j.mu.Unlock()

	j.bus.Notify(state, ev)

	return true
}

// closeHandle closes the attached handle at most once and returns the close
// error, if any. Later calls return nil.
func (j *Job) closeHandle() error {
	j.mu.Lock()
	h := j.handle
	already := j.closed
	j.closed = true
	j.mu.Unlock()

	if h == nil || already {
		return nil
	}

	err := h.Close()
	if err != nil && !errors.Is(err, os.ErrClosed) {
		j.logger.Debug("closing transfer handle",
			slog.String("job_id", j.id),
			slog.String("error", err.Error()),
		)

		return err
	}

	return nil
}
