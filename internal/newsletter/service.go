package newsletter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/girasoltours/newsletter/internal/pkg/logger"
	"github.com/girasoltours/newsletter/internal/queue"
	"github.com/girasoltours/newsletter/internal/token"
)

// Sentinel errors mapped to HTTP statuses in the API layer.
var (
	ErrInvalidEmail      = errors.New("invalid email address")
	ErrInvalidToken      = errors.New("invalid token")
	ErrNotFound          = errors.New("subscriber not found")
	ErrThrottled         = errors.New("too many subscribe attempts")
	ErrAlreadyDispatched = errors.New("campaign already dispatched")
)

// SubscriberStore is the persistence contract the service needs. *Store
// satisfies it; tests substitute fakes.
type SubscriberStore interface {
	FindByEmail(ctx context.Context, email string) (*Subscriber, error)
	FindByConfirmationToken(ctx context.Context, tok string) (*Subscriber, error)
	FindByUnsubscribeToken(ctx context.Context, tok string) (*Subscriber, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Subscriber, error)
	UpsertOnSubscribe(ctx context.Context, sub *Subscriber) (*Subscriber, bool, error)
	Save(ctx context.Context, sub *Subscriber) error
	UpdateTokens(ctx context.Context, id uuid.UUID, confirmationToken, unsubscribeToken string) error
}

// JobEnqueuer is the dispatch queue contract the service needs.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, job *queue.Job) error
}

// SubscribeLimiter throttles subscribe attempts per originating caller.
type SubscribeLimiter interface {
	Allow(ctx context.Context, callerKey string) (bool, error)
}

// Service owns the subscriber state machine. Transitions mutate the store
// first and enqueue notification jobs after, so a job never references a
// transition that did not commit.
type Service struct {
	store    SubscriberStore
	jobs     JobEnqueuer
	limiter  SubscribeLimiter
	composer *EmailComposer
}

// NewService creates the subscription service.
func NewService(store SubscriberStore, jobs JobEnqueuer, limiter SubscribeLimiter, composer *EmailComposer) *Service {
	return &Service{
		store:    store,
		jobs:     jobs,
		limiter:  limiter,
		composer: composer,
	}
}

// SubscribeRequest carries the signup form fields.
type SubscribeRequest struct {
	Email     string `json:"email"`
	Name      string `json:"name"`
	Interests string `json:"interests"`
	Source    string `json:"source"`
}

// Subscribe handles a signup attempt. Outcomes by current state:
// no record -> pending_confirmation, Pending -> confirmation_resent,
// Active -> already_subscribed, Inactive -> reactivated. Reactivation
// sends no email and mints no tokens.
func (s *Service) Subscribe(ctx context.Context, req SubscribeRequest, callerKey string) (string, error) {
	if !ValidateEmail(req.Email) {
		return "", ErrInvalidEmail
	}

	// Throttle before touching the store.
	allowed, err := s.limiter.Allow(ctx, callerKey)
	if err != nil {
		return "", fmt.Errorf("checking rate limit: %w", err)
	}
	if !allowed {
		return "", ErrThrottled
	}

	email := NormalizeEmail(req.Email)
	sub, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("looking up subscriber: %w", err)
	}

	if sub == nil {
		fresh := &Subscriber{
			Email:             email,
			Name:              req.Name,
			Interests:         req.Interests,
			Source:            req.Source,
			ConfirmationToken: token.New(),
			UnsubscribeToken:  token.New(),
			IsActive:          true,
		}
		created := false
		sub, created, err = s.store.UpsertOnSubscribe(ctx, fresh)
		if err != nil {
			return "", fmt.Errorf("creating subscriber: %w", err)
		}
		if created {
			if err := s.enqueueConfirmation(ctx, sub); err != nil {
				return "", err
			}
			logger.Info("subscriber created", "email", sub.Email, "source", sub.Source)
			return OutcomePendingConfirmation, nil
		}
		// Lost the insert race; fall through and treat the surviving row
		// by its actual state.
	}

	switch sub.State() {
	case StateActive:
		return OutcomeAlreadySubscribed, nil
	case StateInactive:
		sub.IsActive = true
		sub.UnsubscribedAt = nil
		if err := s.store.Save(ctx, sub); err != nil {
			return "", fmt.Errorf("reactivating subscriber: %w", err)
		}
		logger.Info("subscriber reactivated", "email", sub.Email)
		return OutcomeReactivated, nil
	default: // StatePending
		if err := s.enqueueConfirmation(ctx, sub); err != nil {
			return "", err
		}
		logger.Info("confirmation resent", "email", sub.Email)
		return OutcomeConfirmationResent, nil
	}
}

// Confirm applies the double opt-in confirmation for a token. Replaying a
// token after confirmation is a no-op status, not an error.
func (s *Service) Confirm(ctx context.Context, confirmationToken string) (string, error) {
	if !token.Valid(confirmationToken) {
		return "", ErrInvalidToken
	}

	sub, err := s.store.FindByConfirmationToken(ctx, confirmationToken)
	if err != nil {
		return "", fmt.Errorf("looking up confirmation token: %w", err)
	}
	if sub == nil {
		return "", ErrInvalidToken
	}
	if sub.IsConfirmed {
		return OutcomeAlreadyConfirmed, nil
	}

	now := time.Now().UTC()
	sub.IsConfirmed = true
	sub.ConfirmedAt = &now
	sub.IsActive = true
	if err := s.store.Save(ctx, sub); err != nil {
		return "", fmt.Errorf("confirming subscriber: %w", err)
	}

	// The welcome job is enqueued only after the confirm transition has
	// committed, preserving per-subscriber ordering.
	rendered, err := s.composer.Welcome(sub)
	if err != nil {
		return "", fmt.Errorf("rendering welcome email: %w", err)
	}
	if err := s.enqueue(ctx, queue.KindWelcome, sub, rendered); err != nil {
		return "", err
	}

	logger.Info("subscriber confirmed", "email", sub.Email)
	return OutcomeConfirmed, nil
}

// Unsubscribe deactivates a subscriber via the one-click token link.
func (s *Service) Unsubscribe(ctx context.Context, unsubscribeToken string) (string, error) {
	if !token.Valid(unsubscribeToken) {
		return "", ErrNotFound
	}
	sub, err := s.store.FindByUnsubscribeToken(ctx, unsubscribeToken)
	if err != nil {
		return "", fmt.Errorf("looking up unsubscribe token: %w", err)
	}
	return s.deactivate(ctx, sub)
}

// UnsubscribeByEmail deactivates a subscriber via the legacy email path.
func (s *Service) UnsubscribeByEmail(ctx context.Context, email string) (string, error) {
	if !ValidateEmail(email) {
		return "", ErrInvalidEmail
	}
	sub, err := s.store.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return "", fmt.Errorf("looking up subscriber: %w", err)
	}
	return s.deactivate(ctx, sub)
}

func (s *Service) deactivate(ctx context.Context, sub *Subscriber) (string, error) {
	if sub == nil {
		return "", ErrNotFound
	}
	// An unconfirmed record has no subscription to cancel; it leaves via
	// confirm or the maintenance purge. Deactivating it would produce an
	// unconfirmed+inactive row, which no lifecycle state maps to.
	if !sub.IsConfirmed {
		return "", ErrNotFound
	}
	if !sub.IsActive {
		return OutcomeAlreadyUnsubscribed, nil
	}

	now := time.Now().UTC()
	sub.IsActive = false
	sub.UnsubscribedAt = &now
	if err := s.store.Save(ctx, sub); err != nil {
		return "", fmt.Errorf("unsubscribing: %w", err)
	}

	rendered, err := s.composer.UnsubscribeAck(sub)
	if err != nil {
		return "", fmt.Errorf("rendering unsubscribe email: %w", err)
	}
	if err := s.enqueue(ctx, queue.KindUnsubscribeAck, sub, rendered); err != nil {
		return "", err
	}

	logger.Info("subscriber unsubscribed", "email", sub.Email)
	return OutcomeUnsubscribed, nil
}

// Status returns the subscription snapshot for an email. Absence is a
// valid snapshot with every flag false.
func (s *Service) Status(ctx context.Context, email string) (*StatusSnapshot, error) {
	if !ValidateEmail(email) {
		return nil, ErrInvalidEmail
	}
	sub, err := s.store.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("looking up subscriber: %w", err)
	}
	if sub == nil {
		return &StatusSnapshot{}, nil
	}
	return &StatusSnapshot{
		IsSubscribed: sub.IsConfirmed && sub.IsActive,
		IsConfirmed:  sub.IsConfirmed,
		IsActive:     sub.IsActive,
		SubscribedAt: &sub.CreatedAt,
	}, nil
}

// RegenerateTokens replaces both of a subscriber's tokens atomically,
// invalidating every previously issued link. Used when a token leaks.
func (s *Service) RegenerateTokens(ctx context.Context, id uuid.UUID) error {
	sub, err := s.store.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("looking up subscriber: %w", err)
	}
	if sub == nil {
		return ErrNotFound
	}
	if err := s.store.UpdateTokens(ctx, id, token.New(), token.New()); err != nil {
		return fmt.Errorf("regenerating tokens: %w", err)
	}
	logger.Info("tokens regenerated", "subscriber_id", id)
	return nil
}

// EnqueueConfirmation renders and enqueues a confirmation email for a
// pending subscriber. Also used by the maintenance sweeper's resend scan.
func (s *Service) EnqueueConfirmation(ctx context.Context, sub *Subscriber) error {
	return s.enqueueConfirmation(ctx, sub)
}

func (s *Service) enqueueConfirmation(ctx context.Context, sub *Subscriber) error {
	rendered, err := s.composer.Confirmation(sub)
	if err != nil {
		return fmt.Errorf("rendering confirmation email: %w", err)
	}
	return s.enqueue(ctx, queue.KindConfirmation, sub, rendered)
}

func (s *Service) enqueue(ctx context.Context, kind string, sub *Subscriber, rendered *RenderedEmail) error {
	job := &queue.Job{
		Kind:           kind,
		SubscriberID:   sub.ID,
		RecipientEmail: sub.Email,
		RecipientName:  sub.Name,
		Subject:        rendered.Subject,
		HTMLContent:    rendered.HTML,
	}
	if err := s.jobs.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("enqueuing %s job: %w", kind, err)
	}
	return nil
}
