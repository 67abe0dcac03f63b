package domain

import "time"

// JobStatus enumerates the states of a verification job.
// The only transitions are pending → processing → completed|failed.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// CanTransition reports whether from → to is a legal job transition.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobPending:
		return to == JobProcessing || to == JobFailed
	case JobProcessing:
		return to == JobCompleted || to == JobFailed
	}
	return false
}

const (
	JobTypeSMTPBulk = "smtp_bulk"
	JobSourceAdmin  = "admin"
)

// JobResults is the final tally of a completed job.
type JobResults struct {
	Valid   int `json:"valid"`
	Invalid int `json:"invalid"`
}

// VerificationJob is the persisted record of one bulk verification run.
type VerificationJob struct {
	ID           string      `json:"id" db:"id"`
	Total        int         `json:"total" db:"total"`
	Processed    int         `json:"processed" db:"processed"`
	Status       JobStatus   `json:"status" db:"status"`
	AdminEmail   string      `json:"adminEmail" db:"admin_email"`
	JobType      string      `json:"jobType" db:"job_type"`
	Source       string      `json:"source" db:"source"`
	CampaignID   *string     `json:"campaignId,omitempty" db:"campaign_id"`
	CurrentEmail string      `json:"currentEmail,omitempty" db:"current_email"`
	Results      *JobResults `json:"results,omitempty" db:"results"`
	Error        *string     `json:"error,omitempty" db:"error"`
	CreatedAt    time.Time   `json:"createdAt" db:"created_at"`
	StartedAt    *time.Time  `json:"startedAt,omitempty" db:"started_at"`
	CompletedAt  *time.Time  `json:"completedAt,omitempty" db:"completed_at"`
}

// JobTransition is the partial update for a status change. Fields left nil
// are not written.
type JobTransition struct {
	Status      JobStatus
	StartedAt   *time.Time
	CompletedAt *time.Time
	Results     *JobResults
	Error       *string
}

// ProbeResult is the outcome of one mailbox probe.
type ProbeResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}
