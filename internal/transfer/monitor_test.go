package transfer

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollMonitor_FinalSampleBeforeCompleted(t *testing.T) {
	job, rec := newTestJob(1000)

	var size atomic.Int64
	stat := func(string) (int64, error) { return size.Load(), nil }

	err := job.Run(context.Background(), func(context.Context) error {
		mon := NewPollMonitor(job, "/tmp/a.txt", nil, WithInterval(5*time.Millisecond), WithStat(stat))
		mon.Start()

		for _, n := range []int64{100, 300, 600} {
			size.Store(n)
			time.Sleep(15 * time.Millisecond)
		}

		// Finishes between ticks; only the final sample can see it.
		size.Store(1000)
		mon.Stop()

		return nil
	})
	require.NoError(t, err)

	states := rec.states()
	progress := rec.progress()
	require.GreaterOrEqual(t, len(states), 3)

	assert.Equal(t, Initialised, states[0])
	assert.Equal(t, Completed, states[len(states)-1])
	assert.Equal(t, InProgress, states[len(states)-2])
	assert.InDelta(t, 1.0, progress[len(progress)-2], 1e-9)

	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i], progress[i-1])
	}
}

func TestPollMonitor_MissingFileIsNotAnError(t *testing.T) {
	job, rec := newTestJob(10)

	stat := func(string) (int64, error) { return 0, fs.ErrNotExist }

	mon := NewPollMonitor(job, "/nope", nil, WithInterval(time.Millisecond), WithStat(stat))
	mon.Start()
	time.Sleep(10 * time.Millisecond)
	mon.Stop()

	assert.Empty(t, rec.states())
}

func TestPollMonitor_StopWithoutStart(t *testing.T) {
	job, _ := newTestJob(10)
	mon := NewPollMonitor(job, "/x", nil)

	done := make(chan struct{})
	go func() {
		mon.Stop()
		mon.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a monitor that was never started")
	}
}

func TestPollMonitor_RealFileWithWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "download.bin")
	payload := make([]byte, 4096)

	job, rec := newTestJob(int64(len(payload)))

	err := job.Run(context.Background(), func(context.Context) error {
		f, err := os.Create(path)
		if err != nil {
			return err
		}

		job.Attach(f)

		mon := NewPollMonitor(job, path, nil, WithInterval(10*time.Millisecond), WithWatch(true))
		mon.Start()

		for i := 0; i < 4; i++ {
			if _, err := f.Write(payload[i*1024 : (i+1)*1024]); err != nil {
				return err
			}

			time.Sleep(5 * time.Millisecond)
		}

		mon.Stop()

		return nil
	})
	require.NoError(t, err)

	states := rec.states()
	assert.Equal(t, Completed, states[len(states)-1])

	rec.mu.Lock()
	lastSample := rec.events[len(rec.events)-2]
	rec.mu.Unlock()

	assert.Equal(t, InProgress, lastSample.State)
	assert.Equal(t, int64(len(payload)), lastSample.Bytes)
}
