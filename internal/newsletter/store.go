package newsletter

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Store provides database operations for subscribers and campaigns.
// Lookups return (nil, nil) when no row matches; callers decide whether
// absence is an error.
type Store struct {
	db *sql.DB
}

// NewStore creates a newsletter store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const subscriberColumns = `id, email, name, interests, source,
	confirmation_token, unsubscribe_token, is_confirmed, confirmed_at,
	is_active, unsubscribed_at, confirmation_sent_at, emails_sent,
	last_email_sent_at, created_at, updated_at`

func scanSubscriber(row interface{ Scan(...any) error }) (*Subscriber, error) {
	sub := &Subscriber{}
	err := row.Scan(
		&sub.ID, &sub.Email, &sub.Name, &sub.Interests, &sub.Source,
		&sub.ConfirmationToken, &sub.UnsubscribeToken, &sub.IsConfirmed, &sub.ConfirmedAt,
		&sub.IsActive, &sub.UnsubscribedAt, &sub.ConfirmationSentAt, &sub.EmailsSent,
		&sub.LastEmailSentAt, &sub.CreatedAt, &sub.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// FindByEmail retrieves a subscriber by exact normalized email.
func (s *Store) FindByEmail(ctx context.Context, email string) (*Subscriber, error) {
	query := `SELECT ` + subscriberColumns + ` FROM newsletter_subscribers WHERE email = $1`
	return scanSubscriber(s.db.QueryRowContext(ctx, query, NormalizeEmail(email)))
}

// FindByConfirmationToken retrieves a subscriber by exact confirmation token.
func (s *Store) FindByConfirmationToken(ctx context.Context, token string) (*Subscriber, error) {
	query := `SELECT ` + subscriberColumns + ` FROM newsletter_subscribers WHERE confirmation_token = $1`
	return scanSubscriber(s.db.QueryRowContext(ctx, query, token))
}

// FindByUnsubscribeToken retrieves a subscriber by exact unsubscribe token.
func (s *Store) FindByUnsubscribeToken(ctx context.Context, token string) (*Subscriber, error) {
	query := `SELECT ` + subscriberColumns + ` FROM newsletter_subscribers WHERE unsubscribe_token = $1`
	return scanSubscriber(s.db.QueryRowContext(ctx, query, token))
}

// FindByID retrieves a subscriber by row ID.
func (s *Store) FindByID(ctx context.Context, id uuid.UUID) (*Subscriber, error) {
	query := `SELECT ` + subscriberColumns + ` FROM newsletter_subscribers WHERE id = $1`
	return scanSubscriber(s.db.QueryRowContext(ctx, query, id))
}

// UpsertOnSubscribe inserts a new pending subscriber, or returns the row
// that won the race when a concurrent subscribe for the same email got
// there first. The unique index on email is the correctness mechanism;
// created reports whether this call inserted the row.
func (s *Store) UpsertOnSubscribe(ctx context.Context, sub *Subscriber) (*Subscriber, bool, error) {
	sub.ID = uuid.New()
	sub.Email = NormalizeEmail(sub.Email)
	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	// ON CONFLICT DO UPDATE with a no-op touch so RETURNING always yields
	// the surviving row; xmax = 0 distinguishes insert from conflict-update.
	query := `INSERT INTO newsletter_subscribers
		(id, email, name, interests, source, confirmation_token, unsubscribe_token,
		 is_confirmed, is_active, emails_sent, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, TRUE, 0, $8, $8)
		ON CONFLICT (email) DO UPDATE SET updated_at = NOW()
		RETURNING ` + subscriberColumns + `, (xmax = 0) AS inserted`

	got := &Subscriber{}
	var inserted bool
	err := s.db.QueryRowContext(ctx, query,
		sub.ID, sub.Email, sub.Name, sub.Interests, sub.Source,
		sub.ConfirmationToken, sub.UnsubscribeToken, now).Scan(
		&got.ID, &got.Email, &got.Name, &got.Interests, &got.Source,
		&got.ConfirmationToken, &got.UnsubscribeToken, &got.IsConfirmed, &got.ConfirmedAt,
		&got.IsActive, &got.UnsubscribedAt, &got.ConfirmationSentAt, &got.EmailsSent,
		&got.LastEmailSentAt, &got.CreatedAt, &got.UpdatedAt, &inserted)
	if err != nil {
		return nil, false, err
	}
	return got, inserted, nil
}

// Save persists the mutable lifecycle fields of a subscriber.
func (s *Store) Save(ctx context.Context, sub *Subscriber) error {
	query := `UPDATE newsletter_subscribers SET
		name = $2, interests = $3, source = $4,
		is_confirmed = $5, confirmed_at = $6,
		is_active = $7, unsubscribed_at = $8,
		updated_at = NOW()
		WHERE id = $1`
	_, err := s.db.ExecContext(ctx, query, sub.ID,
		sub.Name, sub.Interests, sub.Source,
		sub.IsConfirmed, sub.ConfirmedAt,
		sub.IsActive, sub.UnsubscribedAt)
	return err
}

// UpdateTokens replaces both tokens in one statement, invalidating any
// previously issued confirmation or unsubscribe links.
func (s *Store) UpdateTokens(ctx context.Context, id uuid.UUID, confirmationToken, unsubscribeToken string) error {
	query := `UPDATE newsletter_subscribers SET
		confirmation_token = $2, unsubscribe_token = $3, updated_at = NOW()
		WHERE id = $1`
	_, err := s.db.ExecContext(ctx, query, id, confirmationToken, unsubscribeToken)
	return err
}

// RecordDelivery updates the delivery counters after a successful send.
// For confirmation sends it also stamps confirmation_sent_at, which the
// sweeper's resend scan keys on.
func (s *Store) RecordDelivery(ctx context.Context, id uuid.UUID, confirmation bool) error {
	query := `UPDATE newsletter_subscribers SET
		emails_sent = emails_sent + 1,
		last_email_sent_at = NOW(),
		confirmation_sent_at = CASE WHEN $2 THEN NOW() ELSE confirmation_sent_at END,
		updated_at = NOW()
		WHERE id = $1`
	_, err := s.db.ExecContext(ctx, query, id, confirmation)
	return err
}

// DeleteStalePending removes unconfirmed subscribers created strictly
// before the cutoff and returns the removed addresses for the audit log.
func (s *Store) DeleteStalePending(ctx context.Context, cutoff time.Time) ([]string, error) {
	query := `DELETE FROM newsletter_subscribers
		WHERE is_confirmed = FALSE AND created_at < $1
		RETURNING email`

	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		emails = append(emails, email)
	}
	return emails, rows.Err()
}

// ListOverduePending returns still-active pending subscribers whose last
// confirmation send is older than the cutoff (or was never recorded).
func (s *Store) ListOverduePending(ctx context.Context, cutoff time.Time) ([]*Subscriber, error) {
	query := `SELECT ` + subscriberColumns + ` FROM newsletter_subscribers
		WHERE is_confirmed = FALSE AND is_active = TRUE
		  AND (confirmation_sent_at IS NULL OR confirmation_sent_at < $1)
		ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// ListActiveConfirmed returns the eligible recipients for a campaign in
// stable subscription order.
func (s *Store) ListActiveConfirmed(ctx context.Context) ([]*Subscriber, error) {
	query := `SELECT ` + subscriberColumns + ` FROM newsletter_subscribers
		WHERE is_confirmed = TRUE AND is_active = TRUE
		ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

const campaignColumns = `id, title, subject, preview_text, content, status,
	scheduled_at, sent_at, recipients_count, sent_count, failed_count,
	created_by, created_at, updated_at`

func scanCampaign(row interface{ Scan(...any) error }) (*Campaign, error) {
	c := &Campaign{}
	err := row.Scan(
		&c.ID, &c.Title, &c.Subject, &c.PreviewText, &c.Content, &c.Status,
		&c.ScheduledAt, &c.SentAt, &c.RecipientsCount, &c.SentCount, &c.FailedCount,
		&c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// CreateCampaign inserts a new draft campaign.
func (s *Store) CreateCampaign(ctx context.Context, c *Campaign) error {
	c.ID = uuid.New()
	c.Status = CampaignDraft
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	query := `INSERT INTO newsletter_campaigns
		(id, title, subject, preview_text, content, status, scheduled_at,
		 recipients_count, sent_count, failed_count, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, 0, 0, $8, $9, $9)`
	_, err := s.db.ExecContext(ctx, query, c.ID, c.Title, c.Subject, c.PreviewText,
		c.Content, c.Status, c.ScheduledAt, c.CreatedBy, now)
	return err
}

// GetCampaign retrieves a campaign by ID.
func (s *Store) GetCampaign(ctx context.Context, id uuid.UUID) (*Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM newsletter_campaigns WHERE id = $1`
	return scanCampaign(s.db.QueryRowContext(ctx, query, id))
}

// ListCampaigns retrieves campaigns newest first.
func (s *Store) ListCampaigns(ctx context.Context, limit, offset int) ([]*Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM newsletter_campaigns
		ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var campaigns []*Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// MarkCampaignSending transitions draft -> sending and snapshots the
// recipient count. The WHERE status = 'draft' guard makes the transition
// single-shot: a second dispatch attempt matches no row and returns false.
func (s *Store) MarkCampaignSending(ctx context.Context, id uuid.UUID, recipientsCount int) (bool, error) {
	query := `UPDATE newsletter_campaigns
		SET status = $2, recipients_count = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4`
	res, err := s.db.ExecContext(ctx, query, id, CampaignSending, recipientsCount, CampaignDraft)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// FinalizeCampaign records the terminal counts and marks the campaign sent.
// Partial failure still finalizes as sent; only the counters differ.
func (s *Store) FinalizeCampaign(ctx context.Context, id uuid.UUID, sentCount, failedCount int) error {
	query := `UPDATE newsletter_campaigns
		SET status = $2, sent_at = NOW(), sent_count = $3, failed_count = $4, updated_at = NOW()
		WHERE id = $1 AND status = $5`
	_, err := s.db.ExecContext(ctx, query, id, CampaignSent, sentCount, failedCount, CampaignSending)
	return err
}

// ListSendingCampaigns returns campaigns currently in the sending state,
// with their recipient snapshots, for the finalizer scan.
func (s *Store) ListSendingCampaigns(ctx context.Context) ([]*Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM newsletter_campaigns WHERE status = $1`
	rows, err := s.db.QueryContext(ctx, query, CampaignSending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var campaigns []*Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}
