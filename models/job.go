package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// JobType identifies the handler a job is dispatched to. The set is closed:
// unknown values are rejected at enqueue time instead of falling through.
type JobType string

const (
	JobTypeCampaignTick  JobType = "campaign_tick"
	JobTypeSendStep      JobType = "send_step"
	JobTypeGenerateReply JobType = "generate_reply"
	JobTypeWarmupTick    JobType = "warmup_tick"
	JobTypeStatsRollup   JobType = "stats_rollup"
)

func (t JobType) Valid() bool {
	switch t {
	case JobTypeCampaignTick, JobTypeSendStep, JobTypeGenerateReply,
		JobTypeWarmupTick, JobTypeStatsRollup:
		return true
	}
	return false
}

// JobStatus transitions are monotonic:
// pending -> in_progress -> done | pending (retry) | failed.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusDone       JobStatus = "done"
	JobStatusFailed     JobStatus = "failed"
)

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusInProgress, JobStatusDone, JobStatusFailed:
		return true
	}
	return false
}

// Job is a durable, time-stamped unit of work. Rows are only ever mutated by
// the scheduler (claim/complete/fail); cleanup happens in a retention sweep.
type Job struct {
	gorm.Model
	Type    JobType `gorm:"not null;index" json:"type"`
	Payload string  `gorm:"type:text" json:"payload"` // JSON-encoded map

	// DedupeKey suppresses duplicate pending jobs for the same logical unit
	// (e.g. one campaign tick per enrollment). Empty means no suppression.
	DedupeKey string `gorm:"index" json:"dedupe_key"`

	RunAt  time.Time `gorm:"not null;index" json:"run_at"`
	Status JobStatus `gorm:"default:'pending';index" json:"status"`

	Retries    int    `gorm:"default:0" json:"retries"`
	MaxRetries int    `gorm:"default:3" json:"max_retries"`
	LastError  string `json:"last_error"`
	Result     string `gorm:"type:text" json:"result"`

	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

func (j *Job) String() string {
	return fmt.Sprintf("job %d (%s, %s)", j.ID, j.Type, j.Status)
}
