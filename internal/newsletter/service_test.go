package newsletter

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/girasoltours/newsletter/internal/queue"
)

type fakeStore struct {
	byEmail map[string]*Subscriber
	saves   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{byEmail: make(map[string]*Subscriber)}
}

func (f *fakeStore) FindByEmail(_ context.Context, email string) (*Subscriber, error) {
	if sub, ok := f.byEmail[email]; ok {
		cp := *sub
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) FindByConfirmationToken(_ context.Context, tok string) (*Subscriber, error) {
	for _, sub := range f.byEmail {
		if sub.ConfirmationToken == tok {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) FindByUnsubscribeToken(_ context.Context, tok string) (*Subscriber, error) {
	for _, sub := range f.byEmail {
		if sub.UnsubscribeToken == tok {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) FindByID(_ context.Context, id uuid.UUID) (*Subscriber, error) {
	for _, sub := range f.byEmail {
		if sub.ID == id {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) UpsertOnSubscribe(_ context.Context, sub *Subscriber) (*Subscriber, bool, error) {
	if existing, ok := f.byEmail[sub.Email]; ok {
		cp := *existing
		return &cp, false, nil
	}
	cp := *sub
	cp.ID = uuid.New()
	f.byEmail[cp.Email] = &cp
	out := cp
	return &out, true, nil
}

func (f *fakeStore) Save(_ context.Context, sub *Subscriber) error {
	cp := *sub
	f.byEmail[cp.Email] = &cp
	f.saves++
	return nil
}

func (f *fakeStore) UpdateTokens(_ context.Context, id uuid.UUID, confirmationToken, unsubscribeToken string) error {
	for _, sub := range f.byEmail {
		if sub.ID == id {
			sub.ConfirmationToken = confirmationToken
			sub.UnsubscribeToken = unsubscribeToken
			return nil
		}
	}
	return nil
}

type fakeQueue struct {
	jobs []*queue.Job
}

func (f *fakeQueue) Enqueue(_ context.Context, job *queue.Job) error {
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakeQueue) kinds() []string {
	out := make([]string, 0, len(f.jobs))
	for _, j := range f.jobs {
		out = append(out, j.Kind)
	}
	return out
}

type fakeLimiter struct {
	allow bool
	calls int
}

func (f *fakeLimiter) Allow(context.Context, string) (bool, error) {
	f.calls++
	return f.allow, nil
}

func newTestService(t *testing.T) (*Service, *fakeStore, *fakeQueue, *fakeLimiter) {
	t.Helper()
	store := newFakeStore()
	q := &fakeQueue{}
	limiter := &fakeLimiter{allow: true}
	composer := NewEmailComposer(
		NewTemplateEngine(),
		NewLinkBuilder("https://girasoltours.com"),
		"Girasol Tours",
		"hello@girasoltours.com",
	)
	return NewService(store, q, limiter, composer), store, q, limiter
}

func TestSubscribeNewEmail(t *testing.T) {
	svc, store, q, _ := newTestService(t)

	outcome, err := svc.Subscribe(context.Background(), SubscribeRequest{
		Email: "jane@example.com",
		Name:  "Jane",
	}, "203.0.113.7")
	require.NoError(t, err)
	assert.Equal(t, OutcomePendingConfirmation, outcome)

	sub := store.byEmail["jane@example.com"]
	require.NotNil(t, sub)
	assert.False(t, sub.IsConfirmed)
	assert.True(t, sub.IsActive)
	assert.Len(t, sub.ConfirmationToken, 32)
	assert.Len(t, sub.UnsubscribeToken, 32)
	assert.NotEqual(t, sub.ConfirmationToken, sub.UnsubscribeToken)

	require.Len(t, q.jobs, 1)
	assert.Equal(t, queue.KindConfirmation, q.jobs[0].Kind)
	assert.Equal(t, "jane@example.com", q.jobs[0].RecipientEmail)
	assert.Contains(t, q.jobs[0].HTMLContent, sub.ConfirmationToken)
}

func TestSubscribeNormalizesEmail(t *testing.T) {
	svc, store, _, _ := newTestService(t)

	_, err := svc.Subscribe(context.Background(), SubscribeRequest{Email: "  Jane@Example.COM "}, "k")
	require.NoError(t, err)

	_, ok := store.byEmail["jane@example.com"]
	assert.True(t, ok, "record stored under the normalized address")

	outcome, err := svc.Subscribe(context.Background(), SubscribeRequest{Email: "JANE@example.com"}, "k")
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmationResent, outcome, "variant casing hits the same record")
	assert.Len(t, store.byEmail, 1)
}

func TestSubscribePendingResendsConfirmation(t *testing.T) {
	svc, _, q, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Subscribe(ctx, SubscribeRequest{Email: "jane@example.com"}, "k")
	require.NoError(t, err)

	outcome, err := svc.Subscribe(ctx, SubscribeRequest{Email: "jane@example.com"}, "k")
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmationResent, outcome)
	assert.Equal(t, []string{queue.KindConfirmation, queue.KindConfirmation}, q.kinds())
}

func TestSubscribeActiveIsIdempotent(t *testing.T) {
	svc, store, q, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Subscribe(ctx, SubscribeRequest{Email: "jane@example.com"}, "k")
	require.NoError(t, err)
	_, err = svc.Confirm(ctx, store.byEmail["jane@example.com"].ConfirmationToken)
	require.NoError(t, err)

	jobsBefore := len(q.jobs)
	outcome, err := svc.Subscribe(ctx, SubscribeRequest{Email: "jane@example.com"}, "k")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadySubscribed, outcome)
	assert.Len(t, q.jobs, jobsBefore, "no email for an already active subscriber")
}

func TestSubscribeReactivatesInactive(t *testing.T) {
	svc, store, q, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Subscribe(ctx, SubscribeRequest{Email: "jane@example.com"}, "k")
	require.NoError(t, err)
	_, err = svc.Confirm(ctx, store.byEmail["jane@example.com"].ConfirmationToken)
	require.NoError(t, err)

	unsubTok := store.byEmail["jane@example.com"].UnsubscribeToken
	_, err = svc.Unsubscribe(ctx, unsubTok)
	require.NoError(t, err)

	jobsBefore := len(q.jobs)
	outcome, err := svc.Subscribe(ctx, SubscribeRequest{Email: "jane@example.com"}, "k")
	require.NoError(t, err)
	assert.Equal(t, OutcomeReactivated, outcome)
	assert.Len(t, q.jobs, jobsBefore, "reactivation sends no email")

	sub := store.byEmail["jane@example.com"]
	assert.True(t, sub.IsActive)
	assert.True(t, sub.IsConfirmed, "reactivation preserves confirmed status")
	assert.Nil(t, sub.UnsubscribedAt)
	assert.Equal(t, unsubTok, sub.UnsubscribeToken, "tokens survive the unsubscribe round trip")
}

func TestSubscribeRejectsInvalidEmail(t *testing.T) {
	svc, _, _, limiter := newTestService(t)

	for _, email := range []string{"", "nodomain", "two@@example.com", "a@b"} {
		_, err := svc.Subscribe(context.Background(), SubscribeRequest{Email: email}, "k")
		assert.ErrorIs(t, err, ErrInvalidEmail, "email %q", email)
	}
	assert.Zero(t, limiter.calls, "validation runs before the rate limiter")
}

func TestSubscribeThrottled(t *testing.T) {
	svc, store, _, limiter := newTestService(t)
	limiter.allow = false

	_, err := svc.Subscribe(context.Background(), SubscribeRequest{Email: "jane@example.com"}, "k")
	assert.ErrorIs(t, err, ErrThrottled)
	assert.Empty(t, store.byEmail, "throttled attempts never touch the store")
}

func TestConfirmFlow(t *testing.T) {
	svc, store, q, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Subscribe(ctx, SubscribeRequest{Email: "jane@example.com", Name: "Jane"}, "k")
	require.NoError(t, err)
	tok := store.byEmail["jane@example.com"].ConfirmationToken

	outcome, err := svc.Confirm(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, outcome)

	sub := store.byEmail["jane@example.com"]
	assert.True(t, sub.IsConfirmed)
	require.NotNil(t, sub.ConfirmedAt)

	require.Len(t, q.jobs, 2)
	assert.Equal(t, queue.KindWelcome, q.jobs[1].Kind)
	assert.Contains(t, q.jobs[1].HTMLContent, sub.UnsubscribeToken)

	// Replay is a status, not an error, and sends nothing.
	outcome, err = svc.Confirm(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyConfirmed, outcome)
	assert.Len(t, q.jobs, 2)
}

func TestConfirmUnknownToken(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.Confirm(context.Background(), "deadbeefdeadbeefdeadbeefdeadbeef")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.Confirm(context.Background(), "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestUnsubscribeFlow(t *testing.T) {
	svc, store, q, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Subscribe(ctx, SubscribeRequest{Email: "jane@example.com"}, "k")
	require.NoError(t, err)
	_, err = svc.Confirm(ctx, store.byEmail["jane@example.com"].ConfirmationToken)
	require.NoError(t, err)

	tok := store.byEmail["jane@example.com"].UnsubscribeToken
	outcome, err := svc.Unsubscribe(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnsubscribed, outcome)

	sub := store.byEmail["jane@example.com"]
	assert.False(t, sub.IsActive)
	require.NotNil(t, sub.UnsubscribedAt)
	assert.Equal(t, queue.KindUnsubscribeAck, q.jobs[len(q.jobs)-1].Kind)

	// Replaying the link is idempotent and enqueues nothing further.
	jobsBefore := len(q.jobs)
	outcome, err = svc.Unsubscribe(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyUnsubscribed, outcome)
	assert.Len(t, q.jobs, jobsBefore)
}

func TestUnsubscribePendingIsNotFound(t *testing.T) {
	svc, store, q, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Subscribe(ctx, SubscribeRequest{Email: "jane@example.com"}, "k")
	require.NoError(t, err)

	jobsBefore := len(q.jobs)
	_, err = svc.UnsubscribeByEmail(ctx, "jane@example.com")
	assert.ErrorIs(t, err, ErrNotFound, "nothing to cancel before confirmation")

	_, err = svc.Unsubscribe(ctx, store.byEmail["jane@example.com"].UnsubscribeToken)
	assert.ErrorIs(t, err, ErrNotFound)

	sub := store.byEmail["jane@example.com"]
	assert.True(t, sub.IsActive, "pending record untouched")
	assert.False(t, sub.IsConfirmed)
	assert.Len(t, q.jobs, jobsBefore)
}

func TestUnsubscribeUnknownToken(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.Unsubscribe(context.Background(), "deadbeefdeadbeefdeadbeefdeadbeef")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUnsubscribeByEmail(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Subscribe(ctx, SubscribeRequest{Email: "jane@example.com"}, "k")
	require.NoError(t, err)
	_, err = svc.Confirm(ctx, store.byEmail["jane@example.com"].ConfirmationToken)
	require.NoError(t, err)

	outcome, err := svc.UnsubscribeByEmail(ctx, "Jane@Example.com")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnsubscribed, outcome)

	_, err = svc.UnsubscribeByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStatus(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	snap, err := svc.Status(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.False(t, snap.IsSubscribed)
	assert.False(t, snap.IsConfirmed)
	assert.False(t, snap.IsActive)

	_, err = svc.Subscribe(ctx, SubscribeRequest{Email: "jane@example.com"}, "k")
	require.NoError(t, err)

	snap, err = svc.Status(ctx, "jane@example.com")
	require.NoError(t, err)
	assert.False(t, snap.IsSubscribed, "pending is not subscribed")
	assert.True(t, snap.IsActive)

	_, err = svc.Confirm(ctx, store.byEmail["jane@example.com"].ConfirmationToken)
	require.NoError(t, err)

	snap, err = svc.Status(ctx, "jane@example.com")
	require.NoError(t, err)
	assert.True(t, snap.IsSubscribed)
	assert.True(t, snap.IsConfirmed)
}

func TestRegenerateTokens(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Subscribe(ctx, SubscribeRequest{Email: "jane@example.com"}, "k")
	require.NoError(t, err)

	before := *store.byEmail["jane@example.com"]
	require.NoError(t, svc.RegenerateTokens(ctx, before.ID))

	after := store.byEmail["jane@example.com"]
	assert.NotEqual(t, before.ConfirmationToken, after.ConfirmationToken)
	assert.NotEqual(t, before.UnsubscribeToken, after.UnsubscribeToken)

	err = svc.RegenerateTokens(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}
