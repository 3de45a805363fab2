package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testWorkerConfig() *Config {
	cfg := DefaultConfig()
	cfg.Concurrency = 1
	cfg.PollInterval = 10 * time.Millisecond
	cfg.RetryDelay = 10 * time.Millisecond
	cfg.MaxRetries = 1
	return cfg
}

func runPool(t *testing.T, store *TaskStore, lookup HandlerLookup, cfg *Config) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewWorkerPool(store, lookup, cfg, testLogger())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func singleHandler(kind string, h Handler) HandlerLookup {
	return func(k string) (Handler, bool) {
		if k == kind {
			return h, true
		}
		return nil, false
	}
}

func waitForState(t *testing.T, store *TaskStore, taskID string, want State) *Task {
	t.Helper()
	var got *Task
	require.Eventually(t, func() bool {
		task, err := store.Get(taskID)
		if err != nil || task == nil {
			return false
		}
		got = task
		return task.State == want
	}, 3*time.Second, 10*time.Millisecond)
	return got
}

func TestWorkerProcessesTask(t *testing.T) {
	store := NewTaskStore(setupTestDB(t))

	var calls atomic.Int32
	var gotPayload atomic.Value
	lookup := singleHandler("start_run", func(_ context.Context, payload []byte) error {
		calls.Add(1)
		gotPayload.Store(string(payload))
		return nil
	})
	runPool(t, store, lookup, testWorkerConfig())

	task, err := store.Enqueue(newTestTask("start_run", ""))
	require.NoError(t, err)

	done := waitForState(t, store, task.ID, StateSucceeded)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, `{"simulation_id":1}`, gotPayload.Load())
	assert.NotNil(t, done.FinishedAt)
}

func TestWorkerRetriesOnFailure(t *testing.T) {
	store := NewTaskStore(setupTestDB(t))

	var calls atomic.Int32
	lookup := singleHandler("start_run", func(_ context.Context, _ []byte) error {
		if calls.Add(1) == 1 {
			return errors.New("transient failure")
		}
		return nil
	})
	cfg := testWorkerConfig()
	cfg.MaxRetries = 2
	runPool(t, store, lookup, cfg)

	task, err := store.Enqueue(newTestTask("start_run", ""))
	require.NoError(t, err)

	waitForState(t, store, task.ID, StateSucceeded)
	assert.Equal(t, int32(2), calls.Load())
}

func TestWorkerFailsAfterMaxRetries(t *testing.T) {
	store := NewTaskStore(setupTestDB(t))

	lookup := singleHandler("start_run", func(_ context.Context, _ []byte) error {
		return errors.New("permanent failure")
	})
	runPool(t, store, lookup, testWorkerConfig())

	task, err := store.Enqueue(newTestTask("start_run", ""))
	require.NoError(t, err)

	got := waitForState(t, store, task.ID, StateFailed)
	assert.Contains(t, got.Message, "Max retries exceeded")
	assert.Equal(t, "permanent failure", got.LastError)
}

// A gate that is not yet satisfied defers the task; the worker picks it up
// again after the retry delay and it eventually succeeds without ever
// counting as a failed attempt.
func TestWorkerDefersOnRetryLater(t *testing.T) {
	store := NewTaskStore(setupTestDB(t))

	var calls atomic.Int32
	lookup := singleHandler("recheck_merge", func(_ context.Context, _ []byte) error {
		if calls.Add(1) < 3 {
			return fmt.Errorf("%w: results incomplete", ErrRetryLater)
		}
		return nil
	})
	runPool(t, store, lookup, testWorkerConfig())

	task, err := store.Enqueue(newTestTask("recheck_merge", ""))
	require.NoError(t, err)

	waitForState(t, store, task.ID, StateSucceeded)
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestWorkerUnknownKindFails(t *testing.T) {
	store := NewTaskStore(setupTestDB(t))

	lookup := func(string) (Handler, bool) { return nil, false }
	runPool(t, store, lookup, testWorkerConfig())

	task, err := store.Enqueue(newTestTask("mystery", ""))
	require.NoError(t, err)

	got := waitForState(t, store, task.ID, StateFailed)
	assert.Contains(t, got.LastError, "no handler registered")
}
