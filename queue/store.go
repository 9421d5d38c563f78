package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"coldreach/models"

	"gorm.io/gorm"
)

// Payload is the opaque key-value map carried by a job. It is JSON-encoded
// into the job row, so numbers come back as float64 on decode; use the typed
// accessors instead of raw assertions.
type Payload map[string]interface{}

// Uint reads a numeric payload field as an id. Missing or non-numeric fields
// return 0.
func (p Payload) Uint(key string) uint {
	switch v := p[key].(type) {
	case float64:
		return uint(v)
	case int:
		return uint(v)
	case uint:
		return v
	}
	return 0
}

// Int reads a numeric payload field. Missing or non-numeric fields return 0.
func (p Payload) Int(key string) int {
	switch v := p[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// String reads a string payload field, "" when absent.
func (p Payload) String(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// EnqueueOptions tune a single enqueue. The zero value means run now with the
// store's default retry budget and no duplicate suppression.
type EnqueueOptions struct {
	RunAt      time.Time
	MaxRetries int
	DedupeKey  string
}

// Store is the durable job queue backed by the jobs table.
type Store struct {
	db         *gorm.DB
	maxRetries int
}

// NewStore creates a job store. defaultMaxRetries applies when EnqueueOptions
// leaves MaxRetries at zero.
func NewStore(db *gorm.DB, defaultMaxRetries int) *Store {
	if defaultMaxRetries <= 0 {
		defaultMaxRetries = 3
	}
	return &Store{db: db, maxRetries: defaultMaxRetries}
}

// Enqueue inserts a new pending job and returns its id. When opts.DedupeKey is
// set and a pending job with the same key already exists, no new job is
// created and the existing job's id is returned; duplicate suppression is the
// caller's tool for keeping at most one scheduled advance per enrollment.
//
// Only pending rows count for dedupe: an in-progress handler re-enqueueing its
// own successor under the same key must not suppress itself.
func (s *Store) Enqueue(jobType models.JobType, payload Payload, opts EnqueueOptions) (uint, error) {
	if !jobType.Valid() {
		return 0, fmt.Errorf("unknown job type %q", jobType)
	}

	if opts.DedupeKey != "" {
		var existing models.Job
		err := s.db.
			Where("dedupe_key = ? AND status = ?", opts.DedupeKey, models.JobStatusPending).
			First(&existing).Error
		if err == nil {
			return existing.ID, nil
		}
		if err != gorm.ErrRecordNotFound {
			return 0, fmt.Errorf("dedupe lookup: %w", err)
		}
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode payload: %w", err)
	}

	runAt := opts.RunAt
	if runAt.IsZero() {
		runAt = time.Now()
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = s.maxRetries
	}

	job := models.Job{
		Type:       jobType,
		Payload:    string(encoded),
		DedupeKey:  opts.DedupeKey,
		RunAt:      runAt,
		Status:     models.JobStatusPending,
		MaxRetries: maxRetries,
	}
	if err := s.db.Create(&job).Error; err != nil {
		return 0, fmt.Errorf("insert job: %w", err)
	}
	return job.ID, nil
}

// Due returns up to limit pending jobs whose run_at has passed, oldest first.
func (s *Store) Due(now time.Time, limit int) ([]models.Job, error) {
	var jobs []models.Job
	err := s.db.
		Where("status = ? AND run_at <= ?", models.JobStatusPending, now).
		Order("run_at asc").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("select due jobs: %w", err)
	}
	return jobs, nil
}

// Claim atomically transitions a job from pending to in_progress. The
// conditional update is the exclusivity guarantee: of two concurrent runners
// racing for the same row, exactly one sees RowsAffected == 1.
func (s *Store) Claim(jobID uint, now time.Time) (bool, error) {
	res := s.db.Model(&models.Job{}).
		Where("id = ? AND status = ?", jobID, models.JobStatusPending).
		Updates(map[string]interface{}{
			"status":     models.JobStatusInProgress,
			"started_at": now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("claim job %d: %w", jobID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Complete marks a claimed job done and stores the handler result.
func (s *Store) Complete(jobID uint, result Payload) error {
	encoded := ""
	if len(result) > 0 {
		b, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		encoded = string(b)
	}
	return s.db.Model(&models.Job{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"status":       models.JobStatusDone,
			"result":       encoded,
			"completed_at": time.Now(),
		}).Error
}

// Fail records a handler error. Retryable failures go back to pending with a
// fixed backoff; exhausted or permanent failures land in failed with the last
// error kept for diagnosis.
func (s *Store) Fail(job *models.Job, handlerErr error, backoff time.Duration) error {
	if !IsPermanent(handlerErr) && job.Retries < job.MaxRetries {
		return s.db.Model(&models.Job{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"status":     models.JobStatusPending,
				"retries":    gorm.Expr("retries + ?", 1),
				"run_at":     time.Now().Add(backoff),
				"last_error": handlerErr.Error(),
			}).Error
	}
	return s.db.Model(&models.Job{}).
		Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"status":       models.JobStatusFailed,
			"last_error":   handlerErr.Error(),
			"completed_at": time.Now(),
		}).Error
}

// ReclaimStale returns jobs stuck in_progress past the threshold to pending so
// a later tick can pick them up. This is what makes a crashed worker harmless:
// at-least-once delivery, with handlers written to tolerate redelivery.
func (s *Store) ReclaimStale(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res := s.db.Model(&models.Job{}).
		Where("status = ? AND started_at < ?", models.JobStatusInProgress, cutoff).
		Updates(map[string]interface{}{
			"status": models.JobStatusPending,
			"run_at": time.Now(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// DecodePayload unpacks a job row's payload column.
func DecodePayload(raw string) (Payload, error) {
	if raw == "" {
		return Payload{}, nil
	}
	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}
