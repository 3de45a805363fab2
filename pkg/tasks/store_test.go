package tasks

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Task{}))
	return db
}

func newTestTask(kind, key string) *Task {
	return &Task{
		ID:             uuid.New().String(),
		Kind:           kind,
		Payload:        []byte(`{"simulation_id":1}`),
		RequestedBy:    "test-user",
		RequestedAt:    time.Now(),
		State:          StateQueued,
		IdempotencyKey: key,
	}
}

func TestEnqueueCreatesTask(t *testing.T) {
	store := NewTaskStore(setupTestDB(t))

	task := newTestTask("start_run", "start-run-a")
	created, err := store.Enqueue(task)
	require.NoError(t, err)
	assert.Equal(t, task.ID, created.ID)
	assert.Equal(t, StateQueued, created.State)
}

func TestEnqueueGeneratesID(t *testing.T) {
	store := NewTaskStore(setupTestDB(t))

	task := newTestTask("start_run", "")
	task.ID = ""
	created, err := store.Enqueue(task)
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
}

func TestEnqueueIdempotencyReturnsDuplicate(t *testing.T) {
	store := NewTaskStore(setupTestDB(t))

	first, err := store.Enqueue(newTestTask("start_run", "start-run-a"))
	require.NoError(t, err)

	second, err := store.Enqueue(newTestTask("start_run", "start-run-a"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	tasks, err := store.List("start_run", "", 10)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestEnqueueIdempotencyAllowsAfterTerminal(t *testing.T) {
	store := NewTaskStore(setupTestDB(t))

	first, err := store.Enqueue(newTestTask("start_run", "start-run-a"))
	require.NoError(t, err)

	claimed, err := store.Claim(1)
	require.NoError(t, err)
	require.NoError(t, store.Complete(claimed.ID, 100))

	second, err := store.Enqueue(newTestTask("start_run", "start-run-a"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, StateQueued, second.State)
}

func TestClaimReturnsQueuedTask(t *testing.T) {
	store := NewTaskStore(setupTestDB(t))

	task := newTestTask("process_assumption", "")
	_, err := store.Enqueue(task)
	require.NoError(t, err)

	claimed, err := store.Claim(1)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, task.ID, claimed.ID)
	assert.Equal(t, StateRunning, claimed.State)
	assert.Equal(t, 1, claimed.AttemptCount)
	assert.NotNil(t, claimed.StartedAt)
}

func TestClaimReturnsNilWhenEmpty(t *testing.T) {
	store := NewTaskStore(setupTestDB(t))

	claimed, err := store.Claim(1)
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestClaimSkipsDeferredTasks(t *testing.T) {
	store := NewTaskStore(setupTestDB(t))

	task := newTestTask("recheck_merge", "")
	future := time.Now().Add(time.Hour)
	task.RunAfter = &future
	_, err := store.Enqueue(task)
	require.NoError(t, err)

	claimed, err := store.Claim(1)
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestFailRequeuesWhenRetriesLeft(t *testing.T) {
	store := NewTaskStore(setupTestDB(t))

	task := newTestTask("start_run", "")
	_, err := store.Enqueue(task)
	require.NoError(t, err)

	claimed, err := store.Claim(2)
	require.NoError(t, err)
	require.NoError(t, store.Fail(claimed.ID, "boom", 2))

	got, err := store.Get(claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, StateQueued, got.State)
	assert.Equal(t, "boom", got.LastError)
}

func TestFailMarksFailedAtMaxRetries(t *testing.T) {
	store := NewTaskStore(setupTestDB(t))

	task := newTestTask("start_run", "")
	_, err := store.Enqueue(task)
	require.NoError(t, err)

	claimed, err := store.Claim(2)
	require.NoError(t, err)
	require.NoError(t, store.Fail(claimed.ID, "boom", 2))

	got, err := store.Get(claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, StateQueued, got.State) // attempt 1 of 2, one retry left

	claimed, err = store.Claim(2)
	require.NoError(t, err)
	require.NoError(t, store.Fail(claimed.ID, "boom again", 2))

	got, err = store.Get(claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State)
	assert.Contains(t, got.Message, "Max retries exceeded")
}

func TestRequeueDefersWithoutBurningAttempt(t *testing.T) {
	store := NewTaskStore(setupTestDB(t))

	task := newTestTask("recheck_merge", "")
	_, err := store.Enqueue(task)
	require.NoError(t, err)

	claimed, err := store.Claim(1)
	require.NoError(t, err)
	require.NoError(t, store.Requeue(claimed.ID, "3 of 21 expected results", time.Minute))

	got, err := store.Get(claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, StateQueued, got.State)
	assert.Zero(t, got.AttemptCount)
	require.NotNil(t, got.RunAfter)
	assert.True(t, got.RunAfter.After(time.Now()))
}

func TestCancelQueuedTaskSucceeds(t *testing.T) {
	store := NewTaskStore(setupTestDB(t))

	task := newTestTask("start_run", "")
	_, err := store.Enqueue(task)
	require.NoError(t, err)

	require.NoError(t, store.Cancel(task.ID))

	got, err := store.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCanceled, got.State)
}

func TestCancelRunningTaskFails(t *testing.T) {
	store := NewTaskStore(setupTestDB(t))

	task := newTestTask("start_run", "")
	_, err := store.Enqueue(task)
	require.NoError(t, err)

	_, err = store.Claim(1)
	require.NoError(t, err)

	err = store.Cancel(task.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only queued tasks can be canceled")
}

func TestCleanupStuckTasks(t *testing.T) {
	store := NewTaskStore(setupTestDB(t))

	task := newTestTask("start_run", "")
	_, err := store.Enqueue(task)
	require.NoError(t, err)

	claimed, err := store.Claim(1)
	require.NoError(t, err)

	stale := time.Now().Add(-time.Hour)
	require.NoError(t, store.db.Model(&Task{}).Where("id = ?", claimed.ID).
		Update("started_at", stale).Error)

	recovered, err := store.CleanupStuckTasks(30 * time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), recovered)

	got, err := store.Get(claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, StateQueued, got.State)
}

func TestDeleteOlderThan(t *testing.T) {
	store := NewTaskStore(setupTestDB(t))

	task := newTestTask("start_run", "")
	_, err := store.Enqueue(task)
	require.NoError(t, err)

	claimed, err := store.Claim(1)
	require.NoError(t, err)
	require.NoError(t, store.Complete(claimed.ID, 10))

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, store.db.Model(&Task{}).Where("id = ?", claimed.ID).
		Update("finished_at", old).Error)

	deleted, err := store.DeleteOlderThan(time.Now().Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}
