package order

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/nfc-card-store/internal/payment"
)

// ReconcilePaymentEvent verifies a webhook delivery and applies it. Once the
// signature checks out it returns nil even when the order could not be
// updated; such events go to the retry queue.
func (s *service) ReconcilePaymentEvent(ctx context.Context, payload []byte, signature string) error {
	ev, err := s.payments.ParseEvent(payload, signature)
	if err != nil {
		if errors.Is(err, payment.ErrMalformedEvent) {
			log.Error().Err(err).Int("payload_bytes", len(payload)).Msg("service: signed payment event could not be decoded, acknowledging")
			return nil
		}
		return fmt.Errorf("service: webhook rejected: %w", err)
	}

	if ev.Type != payment.EventCheckoutCompleted {
		log.Debug().Str("event_id", ev.ID).Str("event_type", ev.Type).Msg("service: ignoring payment event")
		return nil
	}

	if err := s.ApplyPaymentEvent(ctx, *ev); err != nil {
		log.Error().
			Err(err).
			Str("event_id", ev.ID).
			Str("order_id", ev.OrderID).
			Str("session_id", ev.SessionID).
			Msg("service: payment reconciliation failed, queueing retry")
		s.enqueueRetry(ctx, *ev, err)
	}

	return nil
}

func (s *service) enqueueRetry(ctx context.Context, ev payment.Event, cause error) {
	if s.retries == nil {
		log.Error().Str("event_id", ev.ID).Msg("service: no retry queue configured, payment event dropped")
		return
	}

	next := s.now().Add(s.retry.Backoff(1))
	jobID, err := s.retries.Enqueue(ctx, ev, cause.Error(), next)
	if err != nil {
		log.Error().
			Err(err).
			Str("event_id", ev.ID).
			Str("order_id", ev.OrderID).
			Str("session_id", ev.SessionID).
			Msg("service: failed to queue payment event for retry")
		return
	}

	log.Warn().Stringer("job_id", jobID).Str("event_id", ev.ID).Time("next_attempt_at", next).Msg("service: payment event queued for retry")
}

// ApplyPaymentEvent marks the order paid with the event's values. The order
// is found by id first and by session id when the id matches nothing.
// Applying the same event twice leaves the same state.
func (s *service) ApplyPaymentEvent(ctx context.Context, ev payment.Event) error {
	upd := PaymentUpdate{
		SessionID:     strings.TrimSpace(ev.SessionID),
		CustomerEmail: strings.TrimSpace(ev.CustomerEmail),
		CustomerName:  strings.TrimSpace(ev.CustomerName),
		NFCLink:       strings.TrimSpace(ev.NFCLink),
	}
	if ev.AmountTotal != nil {
		upd.Amount = decimal.NewNullDecimal(decimal.New(*ev.AmountTotal, -2))
	}

	if id, err := uuid.FromString(strings.TrimSpace(ev.OrderID)); err == nil {
		err = s.repo.MarkPaidByID(ctx, id, upd)
		if err == nil {
			log.Info().Stringer("order_id", id).Str("session_id", upd.SessionID).Msg("service: order marked paid")
			return nil
		}
		if !errors.Is(err, ErrOrderNotFound) {
			return fmt.Errorf("service: failed to mark order %s paid: %w", id, err)
		}
		log.Warn().Stringer("order_id", id).Str("session_id", upd.SessionID).Msg("service: order id from payment event not found, trying session id")
	}

	if upd.SessionID == "" {
		return fmt.Errorf("service: payment event %s has no resolvable order: %w", ev.ID, ErrOrderNotFound)
	}

	if err := s.repo.MarkPaidBySessionID(ctx, upd.SessionID, upd); err != nil {
		return fmt.Errorf("service: failed to mark order paid by session %s: %w", upd.SessionID, err)
	}

	log.Info().Str("session_id", upd.SessionID).Msg("service: order marked paid by session id")
	return nil
}
