package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// TrackingRecord is the persisted record of one sent email and its opens.
// Created at send time; mutated only by open events.
type TrackingRecord struct {
	ID        string     `json:"tracking_id"`
	Recipient string     `json:"recipient"`
	Subject   string     `json:"subject"`
	Campaign  string     `json:"campaign"`
	SentAt    time.Time  `json:"sent_at"`
	OpenedAt  *time.Time `json:"opened_at,omitempty"`
	OpenCount int        `json:"open_count"`
}

// FollowUpStatus is the lifecycle state of a scheduled follow-up.
type FollowUpStatus string

const (
	FollowUpPending FollowUpStatus = "pending"
	FollowUpSent    FollowUpStatus = "sent"
)

// FollowUp is a scheduled subsequent message tied to an earlier tracked
// email. Transitions pending to sent exactly once, by the scheduler.
type FollowUp struct {
	ID           string         `json:"id"`
	TrackingID   string         `json:"tracking_id"`
	Recipient    string         `json:"recipient"`
	ScheduledFor time.Time      `json:"scheduled_for"`
	Template     string         `json:"template"`
	Status       FollowUpStatus `json:"status"`
	SentAt       *time.Time     `json:"sent_at,omitempty"`
}

// DedupeKey returns the deterministic idempotency key used as the mail
// Message-ID for this follow-up, so a re-dispatch after a crash between
// send and status update carries the same identity at the transport.
func (f FollowUp) DedupeKey() string {
	return "followup-" + f.ID
}

// NewTrackingID derives a tracking identifier from the recipient, subject
// and a high-resolution timestamp. 16 hex chars of SHA-256 keeps collisions
// practically impossible at outreach volumes.
func NewTrackingID(recipient, subject string, at time.Time) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%d", recipient, subject, at.UnixNano()))
	return hex.EncodeToString(sum[:])[:16]
}

// TrackingPixelHTML renders the invisible open-tracking beacon appended to
// outbound email bodies.
func TrackingPixelHTML(baseURL, trackingID string) string {
	return fmt.Sprintf(`<img src="%s/track/%s.png" width="1" height="1" style="display:none;">`, baseURL, trackingID)
}
