package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/girasoltours/newsletter/internal/newsletter"
	"github.com/girasoltours/newsletter/internal/pkg/distlock"
	"github.com/girasoltours/newsletter/internal/pkg/logger"
	"github.com/girasoltours/newsletter/internal/queue"
)

// CampaignStore is the campaign + recipient surface the batch sender and
// finalizer need.
type CampaignStore interface {
	GetCampaign(ctx context.Context, id uuid.UUID) (*newsletter.Campaign, error)
	MarkCampaignSending(ctx context.Context, id uuid.UUID, recipientsCount int) (bool, error)
	FinalizeCampaign(ctx context.Context, id uuid.UUID, sentCount, failedCount int) error
	ListSendingCampaigns(ctx context.Context) ([]*newsletter.Campaign, error)
	ListActiveConfirmed(ctx context.Context) ([]*newsletter.Subscriber, error)
}

// CampaignEnqueuer is the queue surface campaign fan-out needs.
type CampaignEnqueuer interface {
	Enqueue(ctx context.Context, job *queue.Job) error
	EnqueueFailed(ctx context.Context, job *queue.Job, reason string) error
	CountByCampaign(ctx context.Context, campaignID uuid.UUID) (*queue.CampaignCounts, error)
}

// BatchSender fans a campaign out into one queue job per eligible
// recipient. The draft -> sending transition happens exactly once; a
// replayed dispatch request is rejected before any job is enqueued.
type BatchSender struct {
	store    CampaignStore
	jobs     CampaignEnqueuer
	composer *newsletter.EmailComposer
}

// NewBatchSender creates a campaign batch sender.
func NewBatchSender(store CampaignStore, jobs CampaignEnqueuer, composer *newsletter.EmailComposer) *BatchSender {
	return &BatchSender{store: store, jobs: jobs, composer: composer}
}

// Send dispatches a campaign: snapshots the recipient set, flips the
// campaign to sending, and enqueues one personalized job per recipient.
// Recipients whose content fails to render count as failures without
// aborting the batch.
func (b *BatchSender) Send(ctx context.Context, campaignID uuid.UUID) (int, error) {
	campaign, err := b.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return 0, fmt.Errorf("loading campaign: %w", err)
	}
	if campaign == nil {
		return 0, newsletter.ErrNotFound
	}
	if campaign.Status != newsletter.CampaignDraft {
		return 0, newsletter.ErrAlreadyDispatched
	}

	recipients, err := b.store.ListActiveConfirmed(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing recipients: %w", err)
	}

	ok, err := b.store.MarkCampaignSending(ctx, campaignID, len(recipients))
	if err != nil {
		return 0, fmt.Errorf("marking campaign sending: %w", err)
	}
	if !ok {
		// Lost the race against a concurrent dispatch of the same campaign.
		return 0, newsletter.ErrAlreadyDispatched
	}

	enqueued := 0
	for _, sub := range recipients {
		job := &queue.Job{
			Kind:           queue.KindCampaignRecipient,
			SubscriberID:   sub.ID,
			CampaignID:     uuid.NullUUID{UUID: campaignID, Valid: true},
			RecipientEmail: sub.Email,
			RecipientName:  sub.Name,
			Subject:        campaign.Subject,
		}

		rendered, err := b.composer.CampaignRecipient(campaign, sub)
		if err != nil {
			logger.Error("rendering campaign for recipient",
				"campaign_id", campaignID, "recipient", sub.Email, "err", err)
			// Recorded as a failed job so delivered+failed still reaches
			// the recipient snapshot and the campaign can finalize.
			if err := b.jobs.EnqueueFailed(ctx, job, "render: "+err.Error()); err != nil {
				logger.Error("recording render failure",
					"campaign_id", campaignID, "recipient", sub.Email, "err", err)
			}
			continue
		}
		job.Subject = rendered.Subject
		job.HTMLContent = rendered.HTML

		if err := b.jobs.Enqueue(ctx, job); err != nil {
			logger.Error("enqueuing campaign job",
				"campaign_id", campaignID, "recipient", sub.Email, "err", err)
			if err := b.jobs.EnqueueFailed(ctx, job, "enqueue: "+err.Error()); err != nil {
				logger.Error("recording enqueue failure",
					"campaign_id", campaignID, "recipient", sub.Email, "err", err)
			}
			continue
		}
		enqueued++
	}

	logger.Info("campaign dispatched",
		"campaign_id", campaignID, "recipients", len(recipients), "enqueued", enqueued)
	return enqueued, nil
}

// Finalizer periodically scans sending campaigns and marks each one sent
// once every recipient job has reached a terminal state. Partial failure
// still finalizes as sent; the per-campaign counters carry the outcome.
type Finalizer struct {
	store    CampaignStore
	jobs     CampaignEnqueuer
	lock     distlock.DistLock
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFinalizer creates a campaign finalizer. The lock keeps the scan on a
// single worker process when several run.
func NewFinalizer(store CampaignStore, jobs CampaignEnqueuer, lock distlock.DistLock, interval time.Duration) *Finalizer {
	return &Finalizer{store: store, jobs: jobs, lock: lock, interval: interval}
}

// Start launches the finalizer loop.
func (f *Finalizer) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				f.runOnce(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for a running scan to finish.
func (f *Finalizer) Stop() {
	if f.cancel == nil {
		return
	}
	f.cancel()
	f.wg.Wait()
}

func (f *Finalizer) runOnce(ctx context.Context) {
	acquired, err := f.lock.Acquire(ctx)
	if err != nil {
		logger.Warn("acquiring finalizer lock", "err", err)
		return
	}
	if !acquired {
		return
	}
	defer func() {
		if err := f.lock.Release(ctx); err != nil {
			logger.Warn("releasing finalizer lock", "err", err)
		}
	}()

	campaigns, err := f.store.ListSendingCampaigns(ctx)
	if err != nil {
		logger.Error("listing sending campaigns", "err", err)
		return
	}

	for _, c := range campaigns {
		counts, err := f.jobs.CountByCampaign(ctx, c.ID)
		if err != nil {
			logger.Error("counting campaign jobs", "campaign_id", c.ID, "err", err)
			continue
		}
		if counts.Pending > 0 {
			continue
		}
		// Fan-out may still be enqueuing: an empty (or short) queue is not
		// a finished campaign until the rows cover the recipient snapshot.
		if counts.Delivered+counts.Failed < c.RecipientsCount {
			continue
		}
		if err := f.store.FinalizeCampaign(ctx, c.ID, counts.Delivered, counts.Failed); err != nil {
			logger.Error("finalizing campaign", "campaign_id", c.ID, "err", err)
			continue
		}
		logger.Info("campaign finalized",
			"campaign_id", c.ID, "delivered", counts.Delivered, "failed", counts.Failed)
	}
}
