// Package worker runs the background loops of the newsletter subsystem:
// the notification dispatch pool, the campaign fan-out and finalizer, and
// the maintenance sweeper.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/girasoltours/newsletter/internal/config"
	"github.com/girasoltours/newsletter/internal/newsletter"
	"github.com/girasoltours/newsletter/internal/notifier"
	"github.com/girasoltours/newsletter/internal/pkg/logger"
	"github.com/girasoltours/newsletter/internal/queue"
)

// JobQueue is the queue surface the dispatcher consumes.
type JobQueue interface {
	ClaimBatch(ctx context.Context, workerID string, n int) ([]*queue.Job, error)
	Ack(ctx context.Context, jobID uuid.UUID) error
	Nack(ctx context.Context, jobID uuid.UUID, retryAt time.Time, reason string) (string, error)
	ReclaimStuck(ctx context.Context, olderThan time.Duration) (int64, error)
}

// DeliveryRecorder stamps subscriber counters after a successful send.
type DeliveryRecorder interface {
	RecordDelivery(ctx context.Context, id uuid.UUID, confirmation bool) error
}

// Dispatcher drains the notification queue with a pool of workers. Each
// worker claims its own batches, so adding workers scales throughput
// without coordination beyond SKIP LOCKED.
type Dispatcher struct {
	queue    JobQueue
	store    DeliveryRecorder
	notifier notifier.Notifier
	cfg      config.DispatchConfig

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool

	delivered atomic.Int64
	failed    atomic.Int64
}

// NewDispatcher creates a dispatcher over the given queue and notifier.
func NewDispatcher(q JobQueue, store DeliveryRecorder, n notifier.Notifier, cfg config.DispatchConfig) *Dispatcher {
	return &Dispatcher{
		queue:    q,
		store:    store,
		notifier: n,
		cfg:      cfg,
	}
}

// Start launches the worker pool. Safe to call once per Dispatcher.
func (d *Dispatcher) Start(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return fmt.Errorf("dispatcher already running")
	}
	ctx, d.cancel = context.WithCancel(ctx)

	for i := 0; i < d.cfg.NumWorkers; i++ {
		workerID := fmt.Sprintf("dispatch-%d", i)
		d.wg.Add(1)
		go d.runWorker(ctx, workerID)
	}

	logger.Info("dispatcher started", "workers", d.cfg.NumWorkers, "batch_size", d.cfg.BatchSize)
	return nil
}

// Stop cancels the workers and waits for in-flight sends to finish.
func (d *Dispatcher) Stop() {
	if !d.running.CompareAndSwap(true, false) {
		return
	}
	d.cancel()
	d.wg.Wait()
	logger.Info("dispatcher stopped",
		"delivered", d.delivered.Load(), "failed", d.failed.Load())
}

// Stats reports lifetime delivery counters.
func (d *Dispatcher) Stats() (delivered, failed int64) {
	return d.delivered.Load(), d.failed.Load()
}

func (d *Dispatcher) runWorker(ctx context.Context, workerID string) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.drainOnce(ctx, workerID)
		}
	}
}

// drainOnce claims and processes batches until the queue has nothing ready,
// so a burst is worked off without waiting out the poll interval.
func (d *Dispatcher) drainOnce(ctx context.Context, workerID string) {
	for {
		jobs, err := d.queue.ClaimBatch(ctx, workerID, d.cfg.BatchSize)
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("claiming jobs", "worker", workerID, "err", err)
			}
			return
		}
		if len(jobs) == 0 {
			return
		}
		for _, job := range jobs {
			if ctx.Err() != nil {
				return
			}
			d.process(ctx, job)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, job *queue.Job) {
	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()

	msg := &notifier.Message{
		To:       job.RecipientEmail,
		ToName:   job.RecipientName,
		Subject:  job.Subject,
		HTMLBody: job.HTMLContent,
		TextBody: newsletter.StripTags(job.HTMLContent),
	}

	result, err := d.notifier.Send(sendCtx, msg)
	if err != nil {
		d.nack(ctx, job, err.Error())
		return
	}
	if !result.Success {
		d.nack(ctx, job, result.Reason)
		return
	}

	if err := d.queue.Ack(ctx, job.ID); err != nil {
		logger.Error("acking job", "job_id", job.ID, "err", err)
		return
	}
	d.delivered.Add(1)

	if err := d.store.RecordDelivery(ctx, job.SubscriberID, job.Kind == queue.KindConfirmation); err != nil {
		logger.Warn("recording delivery", "subscriber_id", job.SubscriberID, "err", err)
	}

	logger.Debug("job delivered",
		"job_id", job.ID, "kind", job.Kind, "recipient", job.RecipientEmail,
		"message_id", result.MessageID)
}

func (d *Dispatcher) nack(ctx context.Context, job *queue.Job, reason string) {
	retryAt := time.Now().UTC().Add(d.cfg.RetryDelay)
	status, err := d.queue.Nack(ctx, job.ID, retryAt, reason)
	if err != nil {
		logger.Error("nacking job", "job_id", job.ID, "err", err)
		return
	}

	if status == queue.StatusFailed {
		d.failed.Add(1)
		logger.Error("job permanently failed",
			"job_id", job.ID, "kind", job.Kind, "recipient", job.RecipientEmail,
			"attempts", job.Attempt+1, "reason", reason)
		return
	}
	logger.Warn("job send failed, retrying",
		"job_id", job.ID, "kind", job.Kind, "attempt", job.Attempt+1, "reason", reason)
}
