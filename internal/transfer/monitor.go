package transfer

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultPollInterval is the sampling interval of a PollMonitor.
const DefaultPollInterval = 1 * time.Second

// PollMonitor is the poll-style monitor: when the only observable signal is
// the size of a growing local file, it samples that size on a fixed interval
// and reports bytesSoFar/total to the job until stopped.
type PollMonitor struct {
	job      *Job
	path     string
	interval time.Duration
	watch    bool
	logger   *slog.Logger
	statFn   func(string) (int64, error)

	startOnce sync.Once
	started   atomic.Bool
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// PollOption configures a PollMonitor.
type PollOption func(*PollMonitor)

// WithInterval overrides DefaultPollInterval. Non-positive values are ignored.
func WithInterval(d time.Duration) PollOption {
	return func(m *PollMonitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithWatch additionally samples on filesystem write events for the file,
// so progress moves between ticks. The ticker stays the baseline; a watcher
// that cannot be created is logged and ignored.
func WithWatch(enabled bool) PollOption {
	return func(m *PollMonitor) { m.watch = enabled }
}

// WithStat replaces os.Stat-based size sampling. Used by tests.
func WithStat(fn func(path string) (int64, error)) PollOption {
	return func(m *PollMonitor) { m.statFn = fn }
}

// NewPollMonitor creates a monitor for the local file at path. It does not
// sample until Start is called.
func NewPollMonitor(job *Job, path string, logger *slog.Logger, opts ...PollOption) *PollMonitor {
	if logger == nil {
		logger = slog.Default()
	}

	m := &PollMonitor{
		job:      job,
		path:     path,
		interval: DefaultPollInterval,
		logger:   logger,
		statFn:   statSize,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	for _, o := range opts {
		o(m)
	}

	return m
}

// Start launches the sampling goroutine. Calling Start more than once has
// no further effect.
func (m *PollMonitor) Start() {
	m.startOnce.Do(func() {
		m.started.Store(true)
		go m.loop()
	})
}

// Stop sets the done flag and waits for the sampling goroutine to exit.
// The goroutine takes one final sample after observing the flag, so a
// transfer that finished between ticks is not under-reported. Stop on a
// monitor that was never started returns immediately.
func (m *PollMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })

	if m.started.Load() {
		<-m.done
	}
}

func (m *PollMonitor) loop() {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)

	if m.watch {
		if w := m.newWatcher(); w != nil {
			defer w.Close()

			events = w.Events
			errs = w.Errors
		}
	}

	for {
		select {
		case <-m.stop:
			m.sample()
			return
		case <-ticker.C:
			m.sample()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}

			if filepath.Clean(ev.Name) == filepath.Clean(m.path) && ev.Has(fsnotify.Write) {
				m.sample()
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}

			m.logger.Debug("transfer watch error",
				slog.String("path", m.path),
				slog.String("error", err.Error()),
			)
		}
	}
}

// newWatcher watches the file's directory; watching the directory survives
// the file being created after the monitor starts.
func (m *PollMonitor) newWatcher() *fsnotify.Watcher {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		m.logger.Warn("transfer watch unavailable, polling only",
			slog.String("path", m.path),
			slog.String("error", err.Error()),
		)

		return nil
	}

	if err := w.Add(filepath.Dir(m.path)); err != nil {
		w.Close()
		m.logger.Warn("transfer watch unavailable, polling only",
			slog.String("path", m.path),
			slog.String("error", err.Error()),
		)

		return nil
	}

	return w
}

func (m *PollMonitor) sample() {
	size, err := m.statFn(m.path)
	if err != nil {
		// The destination may not exist until the first byte lands.
		if !errors.Is(err, fs.ErrNotExist) {
			m.logger.Debug("transfer size sample failed",
				slog.String("path", m.path),
				slog.String("error", err.Error()),
			)
		}

		return
	}

	m.job.ReportBytes(size)
}

func statSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}

	return info.Size(), nil
}
