// Package jobs runs index-all as asynchronous, persisted jobs: a row per job
// in the application database, a queue carrying job ids, and a worker pool
// that consumes them.
package jobs

import "time"

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

type IndexJob struct {
	ID string `gorm:"primaryKey;size:26" json:"job_id"` // ULID length

	SessionID string `gorm:"size:26;index;not null;index:uniq_session_idempo,unique,priority:1" json:"session_id"`
	MaxRows   int    `gorm:"not null" json:"max_rows"`

	IdempotencyKey *string `gorm:"type:varchar(128);index:uniq_session_idempo,unique,priority:2" json:"idempotency_key,omitempty"`

	Status   Status `gorm:"type:varchar(16);index;not null" json:"status"`
	Attempts int    `gorm:"not null;default:0" json:"attempts"`

	// JSON-encoded per-table stats, filled when succeeded
	Stats *string `gorm:"type:text" json:"-"`

	// Filled when failed
	Error *string `gorm:"type:text" json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (IndexJob) TableName() string { return "index_jobs" }
