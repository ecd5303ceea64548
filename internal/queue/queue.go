// Package queue implements the durable notification dispatch queue on
// Postgres. Jobs are claimed with FOR UPDATE SKIP LOCKED so each row is
// delivered to exactly one worker attempt at a time; delivery is
// at-least-once with a bounded retry budget per job.
package queue

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Job kinds. The payload (subject + rendered HTML) is snapshotted at
// enqueue time so workers never re-render.
const (
	KindConfirmation      = "confirmation"
	KindWelcome           = "welcome"
	KindUnsubscribeAck    = "unsubscribe_ack"
	KindCampaignRecipient = "campaign_recipient"
)

// Job status constants.
const (
	StatusQueued    = "queued"
	StatusClaimed   = "claimed"
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

// Job is one notification dispatch unit.
type Job struct {
	ID             uuid.UUID
	Kind           string
	SubscriberID   uuid.UUID
	CampaignID     uuid.NullUUID
	RecipientEmail string
	RecipientName  string
	Subject        string
	HTMLContent    string
	Attempt        int // 0-based
	MaxAttempts    int
	NotBefore      time.Time
	Status         string
	LastError      string
	CreatedAt      time.Time
}

// Queue is the Postgres-backed dispatch queue.
type Queue struct {
	db          *sql.DB
	maxAttempts int
}

// New creates a queue. maxAttempts is stamped onto each job at enqueue.
func New(db *sql.DB, maxAttempts int) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Queue{db: db, maxAttempts: maxAttempts}
}

// Enqueue inserts a job in the queued state, ready immediately unless
// NotBefore is set.
func (q *Queue) Enqueue(ctx context.Context, job *Job) error {
	job.ID = uuid.New()
	job.Status = StatusQueued
	job.MaxAttempts = q.maxAttempts
	if job.NotBefore.IsZero() {
		job.NotBefore = time.Now().UTC()
	}
	job.CreatedAt = time.Now().UTC()

	query := `INSERT INTO notification_jobs
		(id, kind, subscriber_id, campaign_id, recipient_email, recipient_name,
		 subject, html_content, attempt, max_attempts, not_before, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, $10, $11, $12, $12)`
	_, err := q.db.ExecContext(ctx, query,
		job.ID, job.Kind, job.SubscriberID, job.CampaignID, job.RecipientEmail, job.RecipientName,
		job.Subject, job.HTMLContent, job.MaxAttempts, job.NotBefore, job.Status, job.CreatedAt)
	return err
}

// EnqueueFailed inserts a job directly in the failed state. Used by
// campaign fan-out for recipients that never made it into the queue
// (render failures), so per-campaign counts still reconcile against the
// recipient snapshot.
func (q *Queue) EnqueueFailed(ctx context.Context, job *Job, reason string) error {
	job.ID = uuid.New()
	job.Status = StatusFailed
	job.MaxAttempts = q.maxAttempts
	job.LastError = reason
	now := time.Now().UTC()
	job.NotBefore = now
	job.CreatedAt = now

	query := `INSERT INTO notification_jobs
		(id, kind, subscriber_id, campaign_id, recipient_email, recipient_name,
		 subject, html_content, attempt, max_attempts, not_before, status, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, $10, $11, $12, $13, $13)`
	_, err := q.db.ExecContext(ctx, query,
		job.ID, job.Kind, job.SubscriberID, job.CampaignID, job.RecipientEmail, job.RecipientName,
		job.Subject, job.HTMLContent, job.MaxAttempts, job.NotBefore, job.Status, job.LastError, job.CreatedAt)
	return err
}

// ClaimBatch atomically claims up to n ready jobs for the given worker.
// Ready means queued with not_before in the past. Jobs are claimed in
// enqueue order, which preserves per-subscriber FIFO under the
// single-claim protocol.
func (q *Queue) ClaimBatch(ctx context.Context, workerID string, n int) ([]*Job, error) {
	query := `
		UPDATE notification_jobs
		SET status = $1, worker_id = $2, claimed_at = NOW(), updated_at = NOW()
		WHERE id IN (
			SELECT id FROM notification_jobs
			WHERE status = $3 AND not_before <= NOW()
			ORDER BY created_at ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, kind, subscriber_id, campaign_id, recipient_email, recipient_name,
			subject, html_content, attempt, max_attempts, not_before, status,
			COALESCE(last_error, ''), created_at`

	rows, err := q.db.QueryContext(ctx, query, StatusClaimed, workerID, StatusQueued, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job := &Job{}
		err := rows.Scan(
			&job.ID, &job.Kind, &job.SubscriberID, &job.CampaignID,
			&job.RecipientEmail, &job.RecipientName, &job.Subject, &job.HTMLContent,
			&job.Attempt, &job.MaxAttempts, &job.NotBefore, &job.Status,
			&job.LastError, &job.CreatedAt)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Ack marks a claimed job delivered.
func (q *Queue) Ack(ctx context.Context, jobID uuid.UUID) error {
	query := `UPDATE notification_jobs
		SET status = $2, delivered_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = $3`
	_, err := q.db.ExecContext(ctx, query, jobID, StatusDelivered, StatusClaimed)
	return err
}

// Nack records a failed attempt. While the retry budget holds, the job
// goes back to queued with not_before pushed to retryAt; once attempts
// reach max_attempts it is marked permanently failed. Returns the
// resulting status.
func (q *Queue) Nack(ctx context.Context, jobID uuid.UUID, retryAt time.Time, reason string) (string, error) {
	query := `UPDATE notification_jobs
		SET attempt = attempt + 1,
			status = CASE WHEN attempt + 1 >= max_attempts THEN $4 ELSE $5 END,
			not_before = $2,
			last_error = $3,
			worker_id = NULL,
			updated_at = NOW()
		WHERE id = $1 AND status = $6
		RETURNING status`

	var status string
	err := q.db.QueryRowContext(ctx, query, jobID, retryAt, reason,
		StatusFailed, StatusQueued, StatusClaimed).Scan(&status)
	if err != nil {
		return "", err
	}
	return status, nil
}

// CampaignCounts aggregates job outcomes for one campaign's recipients.
type CampaignCounts struct {
	Delivered int
	Failed    int
	Pending   int
}

// CountByCampaign reports delivered/failed/pending totals for a campaign.
// Pending covers queued and claimed jobs; the campaign finalizes when it
// reaches zero.
func (q *Queue) CountByCampaign(ctx context.Context, campaignID uuid.UUID) (*CampaignCounts, error) {
	query := `SELECT
		COUNT(*) FILTER (WHERE status = $2),
		COUNT(*) FILTER (WHERE status = $3),
		COUNT(*) FILTER (WHERE status IN ($4, $5))
		FROM notification_jobs WHERE campaign_id = $1`

	counts := &CampaignCounts{}
	err := q.db.QueryRowContext(ctx, query, campaignID,
		StatusDelivered, StatusFailed, StatusQueued, StatusClaimed).Scan(
		&counts.Delivered, &counts.Failed, &counts.Pending)
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// ReclaimStuck returns claimed jobs whose worker disappeared (claimed
// longer than the given age) to the queued state. Attempt counts are not
// incremented: a crash between claim and send is not a delivery failure.
func (q *Queue) ReclaimStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `UPDATE notification_jobs
		SET status = $1, worker_id = NULL, updated_at = NOW()
		WHERE status = $2 AND claimed_at < NOW() - ($3 * INTERVAL '1 second')`
	res, err := q.db.ExecContext(ctx, query, StatusQueued, StatusClaimed, int(olderThan.Seconds()))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
