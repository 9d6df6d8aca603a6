package order

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/nfc-card-store/internal/config"
	"github.com/vasiliy-maslov/nfc-card-store/internal/payment"
)

// claimLease hides a claimed job from other workers while it is processed.
const claimLease = 5 * time.Minute

type RetryJob struct {
	ID        uuid.UUID
	Event     payment.Event
	Attempts  int
	LastError string
	CreatedAt time.Time
}

type RetryRepository interface {
	Enqueue(ctx context.Context, ev payment.Event, lastErr string, nextAttemptAt time.Time) (uuid.UUID, error)
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]RetryJob, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Reschedule(ctx context.Context, id uuid.UUID, attempts int, nextAttemptAt time.Time, lastErr string) error
	MarkDead(ctx context.Context, id uuid.UUID, attempts int, lastErr string) error
}

type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func NewRetryPolicy(cfg config.ReconcileConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		BaseBackoff: cfg.BaseBackoff,
		MaxBackoff:  cfg.MaxBackoff,
	}
}

// Backoff is the delay after the given failed attempt: BaseBackoff doubled
// for each earlier attempt, capped at MaxBackoff.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.BaseBackoff
	if d <= 0 {
		d = 30 * time.Second
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// EventApplier re-applies a verified payment event.
type EventApplier interface {
	ApplyPaymentEvent(ctx context.Context, ev payment.Event) error
}

// RetryWorker drains the reconciliation retry queue.
type RetryWorker struct {
	retries  RetryRepository
	applier  EventApplier
	policy   RetryPolicy
	interval time.Duration
	batch    int
	now      func() time.Time
}

func NewRetryWorker(retries RetryRepository, applier EventApplier, cfg config.ReconcileConfig) *RetryWorker {
	return &RetryWorker{
		retries:  retries,
		applier:  applier,
		policy:   NewRetryPolicy(cfg),
		interval: cfg.PollInterval,
		batch:    cfg.BatchSize,
		now:      time.Now,
	}
}

// Run polls until ctx is cancelled.
func (w *RetryWorker) Run(ctx context.Context) {
	interval := w.interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Dur("interval", interval).Msg("reconcile: retry worker started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("reconcile: retry worker stopped")
			return
		case <-ticker.C:
			if _, err := w.ProcessDue(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("reconcile: failed to process retry queue")
			}
		}
	}
}

// ProcessDue claims due jobs and retries each once. It returns how many
// jobs were resolved.
func (w *RetryWorker) ProcessDue(ctx context.Context) (int, error) {
	batch := w.batch
	if batch <= 0 {
		batch = 20
	}

	jobs, err := w.retries.ClaimDue(ctx, w.now(), claimLease, batch)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, job := range jobs {
		if w.process(ctx, job) {
			resolved++
		}
	}
	return resolved, nil
}

func (w *RetryWorker) process(ctx context.Context, job RetryJob) bool {
	applyErr := w.applier.ApplyPaymentEvent(ctx, job.Event)
	if applyErr == nil {
		if err := w.retries.Delete(ctx, job.ID); err != nil {
			log.Error().Err(err).Stringer("job_id", job.ID).Msg("reconcile: applied event but failed to remove retry job")
		}
		log.Info().
			Stringer("job_id", job.ID).
			Str("event_id", job.Event.ID).
			Int("attempts", job.Attempts+1).
			Msg("reconcile: payment event applied on retry")
		return true
	}

	attempts := job.Attempts + 1
	if attempts >= w.policy.MaxAttempts {
		if err := w.retries.MarkDead(ctx, job.ID, attempts, applyErr.Error()); err != nil {
			log.Error().Err(err).Stringer("job_id", job.ID).Msg("reconcile: failed to mark retry job dead")
		}
		log.Error().
			Err(applyErr).
			Bool("alert", true).
			Stringer("job_id", job.ID).
			Str("event_id", job.Event.ID).
			Str("order_id", job.Event.OrderID).
			Str("session_id", job.Event.SessionID).
			Int("attempts", attempts).
			Msg("reconcile: payment confirmed by provider but order could not be marked paid, giving up")
		return false
	}

	next := w.now().Add(w.policy.Backoff(attempts))
	if err := w.retries.Reschedule(ctx, job.ID, attempts, next, applyErr.Error()); err != nil {
		log.Error().Err(err).Stringer("job_id", job.ID).Msg("reconcile: failed to reschedule retry job")
		return false
	}
	log.Warn().
		Err(applyErr).
		Stringer("job_id", job.ID).
		Int("attempts", attempts).
		Time("next_attempt_at", next).
		Msg("reconcile: payment event retry failed")
	return false
}
