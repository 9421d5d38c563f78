package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"coldreach/models"
	"coldreach/utils"
)

// Handler processes one job's payload. A nil error marks the job done; the
// returned payload is stored as the job result. Returning an error wrapped by
// Permanent skips the retry path entirely.
type Handler func(payload Payload) (Payload, error)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps an error so the runner fails the job immediately instead of
// retrying a condition that cannot self-heal (e.g. a missing sequence step).
func Permanent(err error) error {
	return &permanentError{err: err}
}

// IsPermanent reports whether err came through Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// RunnerConfig tunes the polling loop.
type RunnerConfig struct {
	TickInterval time.Duration
	BatchSize    int
	RetryBackoff time.Duration
	StaleAfter   time.Duration
}

// Runner is the fixed-interval polling scheduler. Any pending job with run_at
// in the past is eventually picked up by whichever runner ticks next, which
// keeps the model restart-tolerant without broker infrastructure.
type Runner struct {
	store    *Store
	handlers map[models.JobType]Handler
	cfg      RunnerConfig
	logger   *log.Logger
}

func NewRunner(store *Store, cfg RunnerConfig, logger *log.Logger) *Runner {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 60 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 10 * time.Minute
	}
	return &Runner{
		store:    store,
		handlers: make(map[models.JobType]Handler),
		cfg:      cfg,
		logger:   logger,
	}
}

// Register installs the handler for a job type. Registering twice is a
// programming error and panics at startup rather than at dispatch time.
func (r *Runner) Register(jobType models.JobType, handler Handler) {
	if !jobType.Valid() {
		panic(fmt.Sprintf("queue: registering handler for unknown job type %q", jobType))
	}
	if _, exists := r.handlers[jobType]; exists {
		panic(fmt.Sprintf("queue: handler for %q already registered", jobType))
	}
	r.handlers[jobType] = handler
}

// Start runs the polling loop until the context is cancelled.
func (r *Runner) Start(ctx context.Context) {
	r.logger.Printf("Job runner started (tick=%s batch=%d)", r.cfg.TickInterval, r.cfg.BatchSize)

	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()

	// Initial run so due work doesn't wait a full interval after boot
	r.Tick()

	for {
		select {
		case <-ctx.Done():
			r.logger.Println("Job runner shutting down...")
			return
		case <-ticker.C:
			r.Tick()
		}
	}
}

// Tick claims and dispatches one batch of due jobs, each on its own
// goroutine; a failure in one never blocks the rest. Claiming stays
// conditional so several runners can tick the same store safely. Jobs for the
// same enrollment are causally chained by the handlers, so in-batch
// parallelism never reorders one enrollment's steps.
func (r *Runner) Tick() {
	if reclaimed, err := r.store.ReclaimStale(r.cfg.StaleAfter); err != nil {
		r.logger.Printf("Failed to reclaim stale jobs: %v", err)
	} else if reclaimed > 0 {
		r.logger.Printf("Reclaimed %d stale jobs", reclaimed)
	}

	now := time.Now()
	jobs, err := r.store.Due(now, r.cfg.BatchSize)
	if err != nil {
		r.logger.Printf("Failed to fetch due jobs: %v", err)
		return
	}

	var wg sync.WaitGroup
	for i := range jobs {
		job := jobs[i]

		claimed, err := r.store.Claim(job.ID, now)
		if err != nil {
			r.logger.Printf("Failed to claim %s: %v", job.String(), err)
			continue
		}
		if !claimed {
			// Lost the race to a concurrent runner
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			r.dispatch(&job)
		}()
	}
	wg.Wait()
}

func (r *Runner) dispatch(job *models.Job) {
	handler, ok := r.handlers[job.Type]
	if !ok {
		err := Permanent(fmt.Errorf("no handler registered for job type %q", job.Type))
		if failErr := r.store.Fail(job, err, r.cfg.RetryBackoff); failErr != nil {
			r.logger.Printf("Failed to mark %s failed: %v", job.String(), failErr)
		}
		return
	}

	payload, err := DecodePayload(job.Payload)
	if err != nil {
		if failErr := r.store.Fail(job, Permanent(err), r.cfg.RetryBackoff); failErr != nil {
			r.logger.Printf("Failed to mark %s failed: %v", job.String(), failErr)
		}
		return
	}

	result, err := r.run(handler, payload)
	if err != nil {
		r.logger.Printf("%s failed: %v", job.String(), err)
		utils.LogError("job_failed", err, map[string]interface{}{
			"job_id":   job.ID,
			"job_type": string(job.Type),
			"retries":  job.Retries,
		})
		if failErr := r.store.Fail(job, err, r.cfg.RetryBackoff); failErr != nil {
			r.logger.Printf("Failed to record failure of %s: %v", job.String(), failErr)
		}
		return
	}

	if err := r.store.Complete(job.ID, result); err != nil {
		r.logger.Printf("Failed to complete %s: %v", job.String(), err)
	}
}

// run invokes the handler, converting panics into permanent errors so a broken
// handler can never take the scheduler loop down with it.
func (r *Runner) run(handler Handler, payload Payload) (result Payload, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = Permanent(fmt.Errorf("handler panicked: %v", rec))
		}
	}()
	return handler(payload)
}
