// Package newsletter implements subscriber lifecycle management with double
// opt-in: subscribe, confirm, unsubscribe, reactivation, and the campaign
// records dispatched through the notification queue.
package newsletter

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Campaign status constants
const (
	CampaignDraft   = "draft"
	CampaignSending = "sending"
	CampaignSent    = "sent"
	CampaignFailed  = "failed"
)

// Subscriber lifecycle states derived from the confirmed/active flags.
const (
	StatePending  = "pending"
	StateActive   = "active"
	StateInactive = "inactive"
)

// Subscribe/confirm/unsubscribe outcome codes returned to callers.
// Replay paths (already_*) are statuses, not errors.
const (
	OutcomePendingConfirmation = "pending_confirmation"
	OutcomeConfirmationResent  = "confirmation_resent"
	OutcomeAlreadySubscribed   = "already_subscribed"
	OutcomeReactivated         = "reactivated"
	OutcomeConfirmed           = "confirmed"
	OutcomeAlreadyConfirmed    = "already_confirmed"
	OutcomeUnsubscribed        = "unsubscribed"
	OutcomeAlreadyUnsubscribed = "already_unsubscribed"
)

// Subscriber is a newsletter subscriber record. Both tokens exist for the
// lifetime of the record; email is unique after normalization.
type Subscriber struct {
	ID                 uuid.UUID  `json:"id"`
	Email              string     `json:"email"`
	Name               string     `json:"name"`
	Interests          string     `json:"interests"` // comma-separated tags
	Source             string     `json:"source"`
	ConfirmationToken  string     `json:"-"`
	UnsubscribeToken   string     `json:"-"`
	IsConfirmed        bool       `json:"is_confirmed"`
	ConfirmedAt        *time.Time `json:"confirmed_at,omitempty"`
	IsActive           bool       `json:"is_active"`
	UnsubscribedAt     *time.Time `json:"unsubscribed_at,omitempty"`
	ConfirmationSentAt *time.Time `json:"confirmation_sent_at,omitempty"`
	EmailsSent         int        `json:"emails_sent"`
	LastEmailSentAt    *time.Time `json:"last_email_sent_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// State maps the flag pair to the lifecycle state. A record is never
// unconfirmed and inactive at the same time: unconfirmed rows are purged,
// not deactivated.
func (s *Subscriber) State() string {
	switch {
	case !s.IsConfirmed:
		return StatePending
	case s.IsActive:
		return StateActive
	default:
		return StateInactive
	}
}

// Campaign is a bulk newsletter send. It moves draft -> sending exactly
// once, and reaches sent when every recipient job is terminal, regardless
// of individual failures.
type Campaign struct {
	ID              uuid.UUID  `json:"id"`
	Title           string     `json:"title"`
	Subject         string     `json:"subject"`
	PreviewText     string     `json:"preview_text"`
	Content         string     `json:"content"` // may embed {{unsubscribe_url}}
	Status          string     `json:"status"`
	ScheduledAt     *time.Time `json:"scheduled_at,omitempty"`
	SentAt          *time.Time `json:"sent_at,omitempty"`
	RecipientsCount int        `json:"recipients_count"`
	SentCount       int        `json:"sent_count"`
	FailedCount     int        `json:"failed_count"`
	CreatedBy       string     `json:"created_by"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// StatusSnapshot is the read-only answer to a status check. Absence of a
// record is a valid snapshot, not an error.
type StatusSnapshot struct {
	IsSubscribed bool       `json:"is_subscribed"`
	IsConfirmed  bool       `json:"is_confirmed"`
	IsActive     bool       `json:"is_active"`
	SubscribedAt *time.Time `json:"subscribed_at,omitempty"`
}

// NormalizeEmail lower-cases and trims an address. All store lookups and
// uniqueness checks operate on the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail performs structural validation on an address before it
// reaches the store.
func ValidateEmail(email string) bool {
	email = strings.TrimSpace(email)
	if len(email) < 3 || len(email) > 254 {
		return false
	}
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return false
	}
	local, domain := parts[0], parts[1]
	if len(local) == 0 || len(local) > 64 {
		return false
	}
	if len(domain) == 0 || len(domain) > 253 {
		return false
	}
	if !strings.Contains(domain, ".") {
		return false
	}
	if strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return false
	}
	return true
}
