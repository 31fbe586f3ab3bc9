package ledger

import (
	"context"
	"time"

	"creatorpay/internal/models"

	"github.com/jackc/pgx/v5"
)

// Outcome reports what an event application did to the ledger.
type Outcome int

const (
	// OutcomeApplied means the event produced a new ledger mutation.
	OutcomeApplied Outcome = iota
	// OutcomeDuplicateEvent means this exact event id was already
	// processed; nothing was written.
	OutcomeDuplicateEvent
	// OutcomeDuplicateRecord means the event id was new but the ledger
	// row it targets was already written by an earlier event carrying
	// the same external id. The event is recorded, the row untouched.
	OutcomeDuplicateRecord
	// OutcomeTargetMissing means the event referenced money movement
	// with no matching ledger row. The caller raises an alert; no row
	// is fabricated.
	OutcomeTargetMissing
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeDuplicateEvent:
		return "duplicate_event"
	case OutcomeDuplicateRecord:
		return "duplicate_record"
	case OutcomeTargetMissing:
		return "target_missing"
	}
	return "unknown"
}

// SubscriptionUpsert carries the fields a subscription lifecycle event
// reconciles into the ledger.
type SubscriptionUpsert struct {
	FanID                string
	CreatorID            int64
	StripeSubscriptionID string
	Status               string
	PeriodStart          time.Time
	PeriodEnd            time.Time
	CancelAtPeriodEnd    bool
}

// InvoicePayment is one billing-cycle charge, already split.
type InvoicePayment struct {
	SubscriptionID int64
	FanID          string
	CreatorID      int64
	InvoiceID      string
	Gross          int64
	Commission     int64
	CreatorNet     int64
	PeriodStart    time.Time
	PeriodEnd      time.Time
}

// CheckoutKind selects which pending record a completed checkout
// session resolves.
type CheckoutKind string

const (
	CheckoutPurchase CheckoutKind = "purchase"
	CheckoutTip      CheckoutKind = "tip"
)

// TransferPhase is the provider-side lifecycle stage of a payout
// transfer.
type TransferPhase string

const (
	TransferCreated TransferPhase = "created"
	TransferPaid    TransferPhase = "paid"
	TransferFailed  TransferPhase = "failed"
)

// recordEvent inserts the event-level dedup row inside tx. A conflict
// on the event id means a replay; the caller rolls back and acks.
func recordEvent(ctx context.Context, tx pgx.Tx, eventID, eventType string) (bool, error) {
	ct, err := tx.Exec(ctx, `
		INSERT INTO webhook_events (stripe_event_id, event_type)
		VALUES ($1, $2)
		ON CONFLICT (stripe_event_id) DO NOTHING`, eventID, eventType)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// withEvent runs fn inside one transaction together with the event
// dedup row, so a failed mutation leaves no trace of the event having
// been seen and the provider's retry gets a clean slate.
func (s *Store) withEvent(ctx context.Context, eventID, eventType string, fn func(tx pgx.Tx) (Outcome, error)) (Outcome, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	fresh, err := recordEvent(ctx, tx, eventID, eventType)
	if err != nil {
		return 0, err
	}
	if !fresh {
		return OutcomeDuplicateEvent, nil
	}
	outcome, err := fn(tx)
	if err != nil {
		return 0, err
	}
	if outcome == OutcomeTargetMissing {
		// Nothing was written for this event. Roll the dedup row back
		// too, so the caller can settle the event together with its
		// alert in one transaction of its own.
		return outcome, nil
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return outcome, nil
}

// ApplySubscriptionUpsert creates or updates the subscription row for a
// provider subscription id. A canceled row is terminal: late or
// out-of-order updates cannot resurrect it. When the incoming status is
// active, any other active row for the same fan/creator pair is demoted
// in the same transaction so at most one active subscription exists per
// pair.
func (s *Store) ApplySubscriptionUpsert(ctx context.Context, eventID, eventType string, up SubscriptionUpsert) (Outcome, error) {
	if !models.ValidSubscriptionStatus(up.Status) {
		return 0, ErrInvalidRequest
	}
	return s.withEvent(ctx, eventID, eventType, func(tx pgx.Tx) (Outcome, error) {
		ct, err := tx.Exec(ctx, `
			INSERT INTO subscriptions (fan_id, creator_id, stripe_subscription_id, status,
				current_period_start, current_period_end, cancel_at_period_end)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (stripe_subscription_id) DO UPDATE SET
				status = EXCLUDED.status,
				current_period_start = EXCLUDED.current_period_start,
				current_period_end = EXCLUDED.current_period_end,
				cancel_at_period_end = EXCLUDED.cancel_at_period_end,
				updated_at = NOW()
			WHERE subscriptions.status <> 'canceled'`,
			up.FanID, up.CreatorID, up.StripeSubscriptionID, up.Status,
			up.PeriodStart, up.PeriodEnd, up.CancelAtPeriodEnd)
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			// Terminal guard blocked the update.
			return OutcomeDuplicateRecord, nil
		}
		if up.Status == models.SubscriptionActive {
			_, err = tx.Exec(ctx, `
				UPDATE subscriptions SET status = 'canceled', updated_at = NOW()
				WHERE fan_id = $1 AND creator_id = $2 AND status = 'active'
					AND stripe_subscription_id <> $3`,
				up.FanID, up.CreatorID, up.StripeSubscriptionID)
			if err != nil {
				return 0, err
			}
		}
		return OutcomeApplied, nil
	})
}

// ApplySubscriptionCancel marks the subscription canceled. The row is
// kept; only its status transitions.
func (s *Store) ApplySubscriptionCancel(ctx context.Context, eventID, eventType, stripeSubscriptionID string) (Outcome, error) {
	return s.withEvent(ctx, eventID, eventType, func(tx pgx.Tx) (Outcome, error) {
		ct, err := tx.Exec(ctx, `
			UPDATE subscriptions SET status = 'canceled', updated_at = NOW()
			WHERE stripe_subscription_id = $1 AND status <> 'canceled'`, stripeSubscriptionID)
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() > 0 {
			return OutcomeApplied, nil
		}
		var exists bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM subscriptions WHERE stripe_subscription_id = $1)`,
			stripeSubscriptionID).Scan(&exists); err != nil {
			return 0, err
		}
		if exists {
			return OutcomeDuplicateRecord, nil
		}
		return OutcomeTargetMissing, nil
	})
}

// ApplyInvoicePayment records one billing-cycle payment. The invoice id
// uniqueness constraint is the replay guard for retried deliveries that
// arrive under distinct event ids.
func (s *Store) ApplyInvoicePayment(ctx context.Context, eventID, eventType string, p InvoicePayment) (Outcome, error) {
	if p.Commission+p.CreatorNet != p.Gross {
		return 0, ErrInvalidRequest
	}
	return s.withEvent(ctx, eventID, eventType, func(tx pgx.Tx) (Outcome, error) {
		ct, err := tx.Exec(ctx, `
			INSERT INTO subscription_payments (subscription_id, fan_id, creator_id,
				stripe_invoice_id, gross, commission, creator_net, period_start, period_end)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (stripe_invoice_id) DO NOTHING`,
			p.SubscriptionID, p.FanID, p.CreatorID,
			p.InvoiceID, p.Gross, p.Commission, p.CreatorNet, p.PeriodStart, p.PeriodEnd)
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			return OutcomeDuplicateRecord, nil
		}
		return OutcomeApplied, nil
	})
}

// ApplyCheckoutCompletion flips the pending purchase or tip identified
// by the checkout session id to completed. A session with no pending
// row and no completed row is unattributable money movement; the caller
// alerts instead of fabricating a record.
func (s *Store) ApplyCheckoutCompletion(ctx context.Context, eventID, eventType string, kind CheckoutKind, sessionID, paymentIntentID string) (Outcome, error) {
	table := "purchases"
	if kind == CheckoutTip {
		table = "tips"
	}
	return s.withEvent(ctx, eventID, eventType, func(tx pgx.Tx) (Outcome, error) {
		ct, err := tx.Exec(ctx, `
			UPDATE `+table+` SET status = 'completed', stripe_payment_intent_id = $2,
				completed_at = NOW()
			WHERE stripe_session_id = $1 AND status = 'pending'`, sessionID, paymentIntentID)
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() > 0 {
			return OutcomeApplied, nil
		}
		var exists bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM `+table+` WHERE stripe_session_id = $1)`,
			sessionID).Scan(&exists); err != nil {
			return 0, err
		}
		if exists {
			return OutcomeDuplicateRecord, nil
		}
		return OutcomeTargetMissing, nil
	})
}

// ApplyTransferUpdate advances the payout matched by the payout id the
// initiator stamped into the transfer metadata.
func (s *Store) ApplyTransferUpdate(ctx context.Context, eventID, eventType string, phase TransferPhase, payoutID int64, transferID string) (Outcome, error) {
	return s.withEvent(ctx, eventID, eventType, func(tx pgx.Tx) (Outcome, error) {
		var query string
		switch phase {
		case TransferCreated:
			query = `UPDATE payouts SET stripe_transfer_id = $2, status = 'processing'
				WHERE id = $1 AND status IN ('pending', 'processing')`
		case TransferPaid:
			query = `UPDATE payouts SET stripe_transfer_id = $2, status = 'paid', paid_at = NOW()
				WHERE id = $1 AND status IN ('pending', 'processing')`
		case TransferFailed:
			query = `UPDATE payouts SET stripe_transfer_id = $2, status = 'failed'
				WHERE id = $1 AND status IN ('pending', 'processing')`
		default:
			return 0, ErrInvalidRequest
		}
		ct, err := tx.Exec(ctx, query, payoutID, transferID)
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() > 0 {
			return OutcomeApplied, nil
		}
		var exists bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM payouts WHERE id = $1)`, payoutID).Scan(&exists); err != nil {
			return 0, err
		}
		if exists {
			return OutcomeDuplicateRecord, nil
		}
		return OutcomeTargetMissing, nil
	})
}

// ApplyAccountOnboarded marks the creator attached to a provider
// account as payout-ready.
func (s *Store) ApplyAccountOnboarded(ctx context.Context, eventID, eventType, stripeAccountID string) (Outcome, error) {
	return s.withEvent(ctx, eventID, eventType, func(tx pgx.Tx) (Outcome, error) {
		ct, err := tx.Exec(ctx, `
			UPDATE creators SET onboarding_complete = true, updated_at = NOW()
			WHERE stripe_account_id = $1`, stripeAccountID)
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			return OutcomeTargetMissing, nil
		}
		return OutcomeApplied, nil
	})
}

// AckEvent records an event id for event types the reconciler receives
// but applies no mutation for, so replays are still detectable.
func (s *Store) AckEvent(ctx context.Context, eventID, eventType string) (Outcome, error) {
	return s.withEvent(ctx, eventID, eventType, func(pgx.Tx) (Outcome, error) {
		return OutcomeApplied, nil
	})
}

// AckEventWithAlert settles an unattributable event: the dedup row and
// the operator alert commit in one transaction, so either both land or
// the provider's retry gets to write both. A replay of an already
// settled event returns OutcomeDuplicateEvent with no second alert.
func (s *Store) AckEventWithAlert(ctx context.Context, eventID, eventType string, alert models.ReconcileAlert) (Outcome, error) {
	return s.withEvent(ctx, eventID, eventType, func(tx pgx.Tx) (Outcome, error) {
		_, err := tx.Exec(ctx, `
			INSERT INTO reconcile_alerts (alert_id, event_type, external_id, detail)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (alert_id) DO NOTHING`,
			alert.AlertID, alert.EventType, alert.ExternalID, alert.Detail)
		if err != nil {
			return 0, err
		}
		return OutcomeApplied, nil
	})
}
