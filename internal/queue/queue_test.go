package queue

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jobCols = []string{
	"id", "kind", "subscriber_id", "campaign_id", "recipient_email", "recipient_name",
	"subject", "html_content", "attempt", "max_attempts", "not_before", "status",
	"last_error", "created_at",
}

func newMockQueue(t *testing.T) (*Queue, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, 3), mock
}

func TestEnqueueStampsDefaults(t *testing.T) {
	q, mock := newMockQueue(t)

	mock.ExpectExec(`INSERT INTO notification_jobs`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	job := &Job{
		Kind:           KindConfirmation,
		SubscriberID:   uuid.New(),
		RecipientEmail: "jane@example.com",
		Subject:        "Confirm",
		HTMLContent:    "<p>hi</p>",
	}
	require.NoError(t, q.Enqueue(context.Background(), job))

	assert.NotEqual(t, uuid.UUID{}, job.ID)
	assert.Equal(t, StatusQueued, job.Status)
	assert.Equal(t, 3, job.MaxAttempts)
	assert.False(t, job.NotBefore.IsZero(), "ready immediately unless deferred")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueFailedIsTerminal(t *testing.T) {
	q, mock := newMockQueue(t)

	mock.ExpectExec(`INSERT INTO notification_jobs`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	job := &Job{
		Kind:           KindCampaignRecipient,
		SubscriberID:   uuid.New(),
		CampaignID:     uuid.NullUUID{UUID: uuid.New(), Valid: true},
		RecipientEmail: "jane@example.com",
		Subject:        "Autumn",
	}
	require.NoError(t, q.EnqueueFailed(context.Background(), job, "render: tag not closed"))

	assert.Equal(t, StatusFailed, job.Status, "never enters the claimable pool")
	assert.Equal(t, "render: tag not closed", job.LastError)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimBatch(t *testing.T) {
	q, mock := newMockQueue(t)
	now := time.Now().UTC()
	jobID := uuid.New()

	rows := sqlmock.NewRows(jobCols).AddRow(
		jobID, KindWelcome, uuid.New(), nil, "jane@example.com", "Jane",
		"Welcome", "<p>hi</p>", 0, 3, now, StatusClaimed, "", now)

	mock.ExpectQuery(`UPDATE notification_jobs`).
		WithArgs(StatusClaimed, "w0", StatusQueued, 25).
		WillReturnRows(rows)

	jobs, err := q.ClaimBatch(context.Background(), "w0", 25)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, jobID, jobs[0].ID)
	assert.Equal(t, StatusClaimed, jobs[0].Status)
	assert.False(t, jobs[0].CampaignID.Valid, "transactional jobs carry no campaign")
}

func TestNackRequeuesWithinBudget(t *testing.T) {
	q, mock := newMockQueue(t)
	jobID := uuid.New()
	retryAt := time.Now().UTC().Add(time.Minute)

	mock.ExpectQuery(`UPDATE notification_jobs`).
		WithArgs(jobID, retryAt, "smtp 421", StatusFailed, StatusQueued, StatusClaimed).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(StatusQueued))

	status, err := q.Nack(context.Background(), jobID, retryAt, "smtp 421")
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, status)
}

func TestNackExhaustedBudgetFails(t *testing.T) {
	q, mock := newMockQueue(t)
	jobID := uuid.New()
	retryAt := time.Now().UTC().Add(time.Minute)

	mock.ExpectQuery(`UPDATE notification_jobs`).
		WithArgs(jobID, retryAt, "mailbox full", StatusFailed, StatusQueued, StatusClaimed).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(StatusFailed))

	status, err := q.Nack(context.Background(), jobID, retryAt, "mailbox full")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, status, "budget exhausted means permanent failure")
}

func TestCountByCampaign(t *testing.T) {
	q, mock := newMockQueue(t)
	campaignID := uuid.New()

	mock.ExpectQuery(`SELECT`).
		WithArgs(campaignID, StatusDelivered, StatusFailed, StatusQueued, StatusClaimed).
		WillReturnRows(sqlmock.NewRows([]string{"delivered", "failed", "pending"}).
			AddRow(8, 2, 0))

	counts, err := q.CountByCampaign(context.Background(), campaignID)
	require.NoError(t, err)
	assert.Equal(t, 8, counts.Delivered)
	assert.Equal(t, 2, counts.Failed)
	assert.Zero(t, counts.Pending)
}

func TestReclaimStuck(t *testing.T) {
	q, mock := newMockQueue(t)

	mock.ExpectExec(`UPDATE notification_jobs`).
		WithArgs(StatusQueued, StatusClaimed, 600).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := q.ReclaimStuck(context.Background(), 10*time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)
}
