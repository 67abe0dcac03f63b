package domain

import (
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignActive    CampaignStatus = "active"
	CampaignSending   CampaignStatus = "sending"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignSent      CampaignStatus = "sent"
	CampaignCancelled CampaignStatus = "cancelled"
)

// RecipientType selects how a campaign's audience is described.
type RecipientType string

const (
	RecipientsManual   RecipientType = "manual"
	RecipientsContacts RecipientType = "contacts"
	RecipientsSegments RecipientType = "segments"
	RecipientsCriteria RecipientType = "criteria"
)

// Recipients is a campaign's audience configuration. Only the field matching
// Type is consulted.
type Recipients struct {
	Type       RecipientType    `json:"type"`
	Emails     []string         `json:"emails,omitempty"`
	ContactIDs []string         `json:"contactIds,omitempty"`
	SegmentIDs []string         `json:"segmentIds,omitempty"`
	Criteria   *SegmentCriteria `json:"criteria,omitempty"`
}

// Content is the message body of a campaign. Queue entries hold their own copy.
type Content struct {
	Subject   string `json:"subject"`
	FromEmail string `json:"fromEmail"`
	FromName  string `json:"fromName,omitempty"`
	ReplyTo   string `json:"replyTo,omitempty"`
	HTML      string `json:"html,omitempty"`
	Text      string `json:"text,omitempty"`
}

// Campaign is a segment given send configuration and a lifecycle.
type Campaign struct {
	ID            string           `json:"id" db:"id"`
	Name          string           `json:"name" db:"name"`
	Criteria      *SegmentCriteria `json:"criteria,omitempty" db:"criteria"`
	Recipients    Recipients       `json:"recipients" db:"recipients"`
	Content       Content          `json:"content" db:"content"`
	Status        CampaignStatus   `json:"status" db:"status"`
	IsActive      bool             `json:"isActive" db:"is_active"`
	TotalContacts int              `json:"totalContacts" db:"total_contacts"`
	SentContacts  int              `json:"sentContacts" db:"sent_contacts"`
	EmailsPerHour *int             `json:"emailsPerHour,omitempty" db:"emails_per_hour"`
	StartedAt     *time.Time       `json:"startedAt,omitempty" db:"started_at"`
	PausedAt      *time.Time       `json:"pausedAt,omitempty" db:"paused_at"`
	CompletedAt   *time.Time       `json:"completedAt,omitempty" db:"completed_at"`
	NextSendTime  *time.Time       `json:"nextSendTime,omitempty" db:"next_send_time"`
	CreatedAt     time.Time        `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time        `json:"updatedAt" db:"updated_at"`
}

// IsTerminal returns true if the campaign is in a final state.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignCompleted || c.Status == CampaignSent || c.Status == CampaignCancelled
}

// InFlight reports whether the campaign is currently being sent.
func (c *Campaign) InFlight() bool {
	return c.IsActive && (c.Status == CampaignActive || c.Status == CampaignSending)
}

// CampaignActivation is the partial update applied once batches are queued.
type CampaignActivation struct {
	TotalContacts int
	NextSendTime  time.Time
	StartedAt     time.Time // applied only when the campaign has none
}
