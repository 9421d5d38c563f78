package queue

import (
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"coldreach/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRunner(store *Store) *Runner {
	return NewRunner(store, RunnerConfig{
		TickInterval: time.Second,
		BatchSize:    10,
		RetryBackoff: time.Millisecond,
		StaleAfter:   10 * time.Minute,
	}, log.New(io.Discard, "", 0))
}

func TestRunnerDispatchesDueJobs(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db, 3)
	runner := newTestRunner(store)

	var got Payload
	runner.Register(models.JobTypeCampaignTick, func(payload Payload) (Payload, error) {
		got = payload
		return Payload{"ok": true}, nil
	})

	id, err := store.Enqueue(models.JobTypeCampaignTick,
		Payload{"campaign_lead_id": uint(42)}, EnqueueOptions{})
	require.NoError(t, err)

	runner.Tick()

	require.NotNil(t, got)
	assert.Equal(t, uint(42), got.Uint("campaign_lead_id"))

	var job models.Job
	require.NoError(t, db.First(&job, id).Error)
	assert.Equal(t, models.JobStatusDone, job.Status)
	assert.Contains(t, job.Result, `"ok":true`)
	assert.NotNil(t, job.CompletedAt)
}

func TestRunnerLeavesFutureJobsAlone(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db, 3)
	runner := newTestRunner(store)

	calls := 0
	runner.Register(models.JobTypeCampaignTick, func(payload Payload) (Payload, error) {
		calls++
		return nil, nil
	})

	_, err := store.Enqueue(models.JobTypeCampaignTick, Payload{},
		EnqueueOptions{RunAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	runner.Tick()
	assert.Zero(t, calls)
}

func TestRunnerRetriesUntilSuccess(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db, 3)
	runner := newTestRunner(store)

	attempts := 0
	runner.Register(models.JobTypeSendStep, func(payload Payload) (Payload, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("transient failure")
		}
		return Payload{"attempts": attempts}, nil
	})

	id, err := store.Enqueue(models.JobTypeSendStep, Payload{"campaign_lead_id": uint(1)}, EnqueueOptions{})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		runner.Tick()
		time.Sleep(5 * time.Millisecond) // let the retry backoff elapse
	}

	assert.Equal(t, 3, attempts)

	var job models.Job
	require.NoError(t, db.First(&job, id).Error)
	assert.Equal(t, models.JobStatusDone, job.Status)
	assert.Equal(t, 2, job.Retries)
}

func TestRunnerFailsJobAfterRetryBudget(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db, 2)
	runner := newTestRunner(store)

	runner.Register(models.JobTypeSendStep, func(payload Payload) (Payload, error) {
		return nil, errors.New("always broken")
	})

	id, err := store.Enqueue(models.JobTypeSendStep, Payload{}, EnqueueOptions{})
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		runner.Tick()
		time.Sleep(5 * time.Millisecond)
	}

	var job models.Job
	require.NoError(t, db.First(&job, id).Error)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, 2, job.Retries)
	assert.Equal(t, "always broken", job.LastError)
}

func TestRunnerFailsPermanentErrorImmediately(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db, 5)
	runner := newTestRunner(store)

	runner.Register(models.JobTypeGenerateReply, func(payload Payload) (Payload, error) {
		return nil, Permanent(errors.New("enrollment deleted"))
	})

	id, err := store.Enqueue(models.JobTypeGenerateReply, Payload{}, EnqueueOptions{})
	require.NoError(t, err)

	runner.Tick()

	var job models.Job
	require.NoError(t, db.First(&job, id).Error)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Zero(t, job.Retries)
}

func TestRunnerIsolatesHandlerPanics(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db, 3)
	runner := newTestRunner(store)

	runner.Register(models.JobTypeWarmupTick, func(payload Payload) (Payload, error) {
		panic("handler bug")
	})
	handled := false
	runner.Register(models.JobTypeStatsRollup, func(payload Payload) (Payload, error) {
		handled = true
		return nil, nil
	})

	panicID, err := store.Enqueue(models.JobTypeWarmupTick, Payload{},
		EnqueueOptions{RunAt: time.Now().Add(-time.Minute)})
	require.NoError(t, err)
	okID, err := store.Enqueue(models.JobTypeStatsRollup, Payload{}, EnqueueOptions{})
	require.NoError(t, err)

	runner.Tick()

	// The panic is contained and does not block the rest of the batch
	assert.True(t, handled)

	var job models.Job
	require.NoError(t, db.First(&job, panicID).Error)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Contains(t, job.LastError, "handler panicked")

	var okJob models.Job
	require.NoError(t, db.First(&okJob, okID).Error)
	assert.Equal(t, models.JobStatusDone, okJob.Status)
}

func TestRegisterRejectsUnknownAndDuplicateTypes(t *testing.T) {
	db := setupTestDB(t)
	runner := newTestRunner(NewStore(db, 3))

	assert.Panics(t, func() {
		runner.Register(models.JobType("mystery"), func(Payload) (Payload, error) { return nil, nil })
	})

	runner.Register(models.JobTypeCampaignTick, func(Payload) (Payload, error) { return nil, nil })
	assert.Panics(t, func() {
		runner.Register(models.JobTypeCampaignTick, func(Payload) (Payload, error) { return nil, nil })
	})
}

func TestIsPermanentUnwrapsWrappedErrors(t *testing.T) {
	base := errors.New("boom")
	wrapped := Permanent(base)

	assert.True(t, IsPermanent(wrapped))
	assert.False(t, IsPermanent(base))
	assert.True(t, errors.Is(wrapped, base))
}
