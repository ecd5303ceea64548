package newsletter

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var subscriberCols = []string{
	"id", "email", "name", "interests", "source",
	"confirmation_token", "unsubscribe_token", "is_confirmed", "confirmed_at",
	"is_active", "unsubscribed_at", "confirmation_sent_at", "emails_sent",
	"last_email_sent_at", "created_at", "updated_at",
}

func subscriberRow(id uuid.UUID, email string) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(subscriberCols).AddRow(
		id, email, "Jane", "", "website",
		"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		false, nil, true, nil, nil, 0, nil, now, now)
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func TestFindByEmailNormalizes(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery(`SELECT .+ FROM newsletter_subscribers WHERE email =`).
		WithArgs("jane@example.com").
		WillReturnRows(subscriberRow(id, "jane@example.com"))

	sub, err := store.FindByEmail(context.Background(), "  Jane@Example.COM ")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, id, sub.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByEmailMissingIsNil(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM newsletter_subscribers WHERE email =`).
		WithArgs("nobody@example.com").
		WillReturnRows(sqlmock.NewRows(subscriberCols))

	sub, err := store.FindByEmail(context.Background(), "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, sub, "absence is (nil, nil), not an error")
}

func TestUpsertOnSubscribeInsert(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	rows := sqlmock.NewRows(append(subscriberCols, "inserted")).AddRow(
		id, "jane@example.com", "Jane", "", "website",
		"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		false, nil, true, nil, nil, 0, nil, time.Now().UTC(), time.Now().UTC(), true)

	mock.ExpectQuery(`INSERT INTO newsletter_subscribers`).
		WillReturnRows(rows)

	got, created, err := store.UpsertOnSubscribe(context.Background(), &Subscriber{
		Email: "Jane@Example.com",
		Name:  "Jane",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "jane@example.com", got.Email)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertOnSubscribeConflictReturnsSurvivor(t *testing.T) {
	store, mock := newMockStore(t)
	survivorID := uuid.New()

	rows := sqlmock.NewRows(append(subscriberCols, "inserted")).AddRow(
		survivorID, "jane@example.com", "Jane", "", "website",
		"cccccccccccccccccccccccccccccccc", "dddddddddddddddddddddddddddddddd",
		true, time.Now().UTC(), true, nil, nil, 3, nil,
		time.Now().UTC(), time.Now().UTC(), false)

	mock.ExpectQuery(`INSERT INTO newsletter_subscribers`).
		WillReturnRows(rows)

	got, created, err := store.UpsertOnSubscribe(context.Background(), &Subscriber{
		Email: "jane@example.com",
	})
	require.NoError(t, err)
	assert.False(t, created, "conflict reports the existing row")
	assert.Equal(t, survivorID, got.ID)
	assert.True(t, got.IsConfirmed, "survivor state wins, not the attempted insert")
}

func TestRecordDelivery(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec(`UPDATE newsletter_subscribers SET`).
		WithArgs(id, true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.RecordDelivery(context.Background(), id, true))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteStalePending(t *testing.T) {
	store, mock := newMockStore(t)
	cutoff := time.Now().UTC().AddDate(0, 0, -7)

	mock.ExpectQuery(`DELETE FROM newsletter_subscribers`).
		WithArgs(cutoff).
		WillReturnRows(sqlmock.NewRows([]string{"email"}).
			AddRow("a@example.com").AddRow("b@example.com"))

	emails, err := store.DeleteStalePending(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, emails)
}

func TestMarkCampaignSending(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec(`UPDATE newsletter_campaigns`).
		WithArgs(id, CampaignSending, 10, CampaignDraft).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := store.MarkCampaignSending(context.Background(), id, 10)
	require.NoError(t, err)
	assert.True(t, ok)

	// A second transition matches no row.
	mock.ExpectExec(`UPDATE newsletter_campaigns`).
		WithArgs(id, CampaignSending, 10, CampaignDraft).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err = store.MarkCampaignSending(context.Background(), id, 10)
	require.NoError(t, err)
	assert.False(t, ok, "draft -> sending is single-shot")
}

func TestListOverduePending(t *testing.T) {
	store, mock := newMockStore(t)
	cutoff := time.Now().UTC().Add(-24 * time.Hour)

	mock.ExpectQuery(`SELECT .+ FROM newsletter_subscribers\s+WHERE is_confirmed = FALSE AND is_active = TRUE`).
		WithArgs(cutoff).
		WillReturnRows(subscriberRow(uuid.New(), "jane@example.com"))

	subs, err := store.ListOverduePending(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "jane@example.com", subs[0].Email)
}
