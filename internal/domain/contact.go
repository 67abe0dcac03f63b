package domain

import (
	"strings"
	"time"
)

// ContactStatus enumerates the deliverability states of a contact.
type ContactStatus string

const (
	ContactPending         ContactStatus = "pending"
	ContactVerifying       ContactStatus = "verifying"
	ContactVerified        ContactStatus = "verified"
	ContactVerifiedGeneric ContactStatus = "verified_generic"
	ContactInvalid         ContactStatus = "invalid"
	ContactBounced         ContactStatus = "bounced"
	ContactUnsubscribed    ContactStatus = "unsubscribed"
)

// Valid reports whether s is a known contact status.
func (s ContactStatus) Valid() bool {
	switch s {
	case ContactPending, ContactVerifying, ContactVerified, ContactVerifiedGeneric,
		ContactInvalid, ContactBounced, ContactUnsubscribed:
		return true
	}
	return false
}

// Contact is a single addressable recipient.
type Contact struct {
	ID              string         `json:"id" db:"id"`
	Email           string         `json:"email" db:"email"`
	Status          ContactStatus  `json:"status" db:"status"`
	Source          string         `json:"source" db:"source"`
	Segments        []string       `json:"segments" db:"segments"`
	EngagementScore float64        `json:"engagementScore" db:"engagement_score"`
	LastSent        *time.Time     `json:"lastSent,omitempty" db:"last_sent"`
	Metadata        map[string]any `json:"metadata,omitempty" db:"metadata"`
	CreatedAt       time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time      `json:"updatedAt" db:"updated_at"`
}

// Eligible reports whether the contact may be sent to or re-verified.
// verified_generic counts only when includeGeneric is set.
func (c *Contact) Eligible(includeGeneric bool) bool {
	if c.Status == ContactUnsubscribed {
		return false
	}
	if c.Status == ContactVerified {
		return true
	}
	return includeGeneric && c.Status == ContactVerifiedGeneric
}

// NormalizeEmail case-folds and trims an address for comparisons and lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// StatusUpdate is one contact status write. When ExpectedStatus is set the
// write only applies if the stored status still equals it.
type StatusUpdate struct {
	ContactID      string
	Status         ContactStatus
	ExpectedStatus ContactStatus
}
