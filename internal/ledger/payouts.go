package ledger

import (
	"context"
	"errors"
	"time"

	"creatorpay/internal/models"

	"github.com/jackc/pgx/v5"
)

// availableBalanceSQL derives the withdrawable balance from the ledger
// itself rather than a stored counter: the sum of all completed creator
// nets minus everything already paid out or reserved by an in-flight
// payout. A failed or canceled payout drops out of the subtrahend, so
// its funds return to the balance with no compensating write.
const availableBalanceSQL = `
	SELECT
		COALESCE((SELECT SUM(creator_net) FROM subscription_payments WHERE creator_id = $1), 0)
		+ COALESCE((SELECT SUM(creator_net) FROM purchases WHERE creator_id = $1 AND status = 'completed'), 0)
		+ COALESCE((SELECT SUM(creator_net) FROM tips WHERE creator_id = $1 AND status = 'completed'), 0)
		- COALESCE((SELECT SUM(amount) FROM payouts WHERE creator_id = $1 AND status IN ('pending', 'processing', 'paid')), 0)`

func (s *Store) AvailableBalance(ctx context.Context, creatorID int64) (int64, error) {
	var available int64
	err := s.pool.QueryRow(ctx, availableBalanceSQL, creatorID).Scan(&available)
	return available, err
}

// ReservePayout locks the creator row, recomputes the available balance
// under the lock, and asks decide for the amount to reserve. The lock
// serializes concurrent requests for the same creator so two of them
// cannot both spend the same balance. decide returning an error aborts
// with nothing written.
func (s *Store) ReservePayout(ctx context.Context, creatorID int64, decide func(available int64) (int64, error)) (models.Payout, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.Payout{}, err
	}
	defer tx.Rollback(ctx)

	var locked int64
	err = tx.QueryRow(ctx, `SELECT id FROM creators WHERE id = $1 FOR UPDATE`, creatorID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Payout{}, ErrNotFound
	}
	if err != nil {
		return models.Payout{}, err
	}

	var available int64
	if err := tx.QueryRow(ctx, availableBalanceSQL, creatorID).Scan(&available); err != nil {
		return models.Payout{}, err
	}
	amount, err := decide(available)
	if err != nil {
		return models.Payout{}, err
	}

	p := models.Payout{CreatorID: creatorID, Amount: amount, Status: models.PayoutPending}
	err = tx.QueryRow(ctx, `
		INSERT INTO payouts (creator_id, amount, status)
		VALUES ($1, $2, 'pending')
		RETURNING id, requested_at`, creatorID, amount).Scan(&p.ID, &p.RequestedAt)
	if err != nil {
		return models.Payout{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Payout{}, err
	}
	return p, nil
}

// SetPayoutOutcome records the result of handing a reserved payout to
// the transfer gateway.
func (s *Store) SetPayoutOutcome(ctx context.Context, payoutID int64, status, transferID, failureReason string) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE payouts SET status = $2, stripe_transfer_id = $3, failure_reason = $4
		WHERE id = $1`, payoutID, status, transferID, failureReason)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateRequest
		}
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetPayout(ctx context.Context, payoutID int64) (models.Payout, error) {
	var p models.Payout
	err := s.pool.QueryRow(ctx, `
		SELECT id, creator_id, amount, status, stripe_transfer_id, failure_reason, requested_at, paid_at
		FROM payouts WHERE id = $1`, payoutID,
	).Scan(&p.ID, &p.CreatorID, &p.Amount, &p.Status, &p.StripeTransferID, &p.FailureReason,
		&p.RequestedAt, &p.PaidAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Payout{}, ErrNotFound
	}
	return p, err
}

func (s *Store) ListPayouts(ctx context.Context, creatorID int64, limit, offset int) ([]models.Payout, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, creator_id, amount, status, stripe_transfer_id, failure_reason, requested_at, paid_at
		FROM payouts WHERE creator_id = $1
		ORDER BY requested_at DESC, id DESC
		LIMIT $2 OFFSET $3`, creatorID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var payouts []models.Payout
	for rows.Next() {
		var p models.Payout
		if err := rows.Scan(&p.ID, &p.CreatorID, &p.Amount, &p.Status, &p.StripeTransferID,
			&p.FailureReason, &p.RequestedAt, &p.PaidAt); err != nil {
			return nil, err
		}
		payouts = append(payouts, p)
	}
	return payouts, rows.Err()
}

// EarningsSummary is the creator dashboard rollup, all in minor units.
type EarningsSummary struct {
	SubscriptionNet int64 `json:"subscription_net"`
	PurchaseNet     int64 `json:"purchase_net"`
	TipNet          int64 `json:"tip_net"`
	TotalGross      int64 `json:"total_gross"`
	TotalCommission int64 `json:"total_commission"`
	TotalNet        int64 `json:"total_net"`
	PaidOut         int64 `json:"paid_out"`
	InFlight        int64 `json:"in_flight"`
	Available       int64 `json:"available"`
}

func (s *Store) EarningsSummary(ctx context.Context, creatorID int64) (EarningsSummary, error) {
	var sum EarningsSummary
	err := s.pool.QueryRow(ctx, `
		SELECT
			COALESCE((SELECT SUM(creator_net) FROM subscription_payments WHERE creator_id = $1), 0),
			COALESCE((SELECT SUM(creator_net) FROM purchases WHERE creator_id = $1 AND status = 'completed'), 0),
			COALESCE((SELECT SUM(creator_net) FROM tips WHERE creator_id = $1 AND status = 'completed'), 0),
			COALESCE((SELECT SUM(gross) FROM subscription_payments WHERE creator_id = $1), 0)
				+ COALESCE((SELECT SUM(gross) FROM purchases WHERE creator_id = $1 AND status = 'completed'), 0)
				+ COALESCE((SELECT SUM(gross) FROM tips WHERE creator_id = $1 AND status = 'completed'), 0),
			COALESCE((SELECT SUM(commission) FROM subscription_payments WHERE creator_id = $1), 0)
				+ COALESCE((SELECT SUM(commission) FROM purchases WHERE creator_id = $1 AND status = 'completed'), 0)
				+ COALESCE((SELECT SUM(commission) FROM tips WHERE creator_id = $1 AND status = 'completed'), 0),
			COALESCE((SELECT SUM(amount) FROM payouts WHERE creator_id = $1 AND status = 'paid'), 0),
			COALESCE((SELECT SUM(amount) FROM payouts WHERE creator_id = $1 AND status IN ('pending', 'processing')), 0)`,
		creatorID,
	).Scan(&sum.SubscriptionNet, &sum.PurchaseNet, &sum.TipNet,
		&sum.TotalGross, &sum.TotalCommission, &sum.PaidOut, &sum.InFlight)
	if err != nil {
		return EarningsSummary{}, err
	}
	sum.TotalNet = sum.SubscriptionNet + sum.PurchaseNet + sum.TipNet
	sum.Available = sum.TotalNet - sum.PaidOut - sum.InFlight
	return sum, nil
}

// SaleRecord is one completed inbound payment, for the sales listing.
type SaleRecord struct {
	Kind       string    `json:"kind"`
	FanID      string    `json:"fan_id"`
	ExternalID string    `json:"external_id"`
	Gross      int64     `json:"gross"`
	Commission int64     `json:"commission"`
	CreatorNet int64     `json:"creator_net"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ListSales returns completed payments of every kind for a creator,
// newest first, interleaved by time.
func (s *Store) ListSales(ctx context.Context, creatorID int64, limit, offset int) ([]SaleRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT 'subscription', fan_id, stripe_invoice_id, gross, commission, creator_net, created_at
		FROM subscription_payments WHERE creator_id = $1
		UNION ALL
		SELECT 'purchase', fan_id, stripe_session_id, gross, commission, creator_net, completed_at
		FROM purchases WHERE creator_id = $1 AND status = 'completed'
		UNION ALL
		SELECT 'tip', fan_id, stripe_session_id, gross, commission, creator_net, completed_at
		FROM tips WHERE creator_id = $1 AND status = 'completed'
		ORDER BY 7 DESC
		LIMIT $2 OFFSET $3`, creatorID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sales []SaleRecord
	for rows.Next() {
		var rec SaleRecord
		if err := rows.Scan(&rec.Kind, &rec.FanID, &rec.ExternalID, &rec.Gross,
			&rec.Commission, &rec.CreatorNet, &rec.OccurredAt); err != nil {
			return nil, err
		}
		sales = append(sales, rec)
	}
	return sales, rows.Err()
}
