package domain

import "time"

// QueueStatus enumerates the lifecycle of a send queue entry.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
)

// SendQueueEntry is one time-sliced batch of a campaign send.
type SendQueueEntry struct {
	ID         string      `json:"id" db:"id"`
	CampaignID string      `json:"campaignId" db:"campaign_id"`
	ContactIDs []string    `json:"contactIds" db:"contact_ids"`
	Content    Content     `json:"content" db:"content"`
	RunAfter   time.Time   `json:"runAfter" db:"run_after"`
	Status     QueueStatus `json:"status" db:"status"`
	Attempts   int         `json:"attempts" db:"attempts"`
	Sent       int         `json:"sent" db:"sent"`
	Failed     int         `json:"failed" db:"failed"`
	Error      *string     `json:"error,omitempty" db:"error"`
	CreatedAt  time.Time   `json:"createdAt" db:"created_at"`
}

// QueueSummary counts entries by status.
type QueueSummary struct {
	Pending      int        `json:"pending"`
	Processing   int        `json:"processing"`
	Completed    int        `json:"completed"`
	Failed       int        `json:"failed"`
	NextRunAfter *time.Time `json:"nextRunAfter,omitempty"`
}
