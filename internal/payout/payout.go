// Package payout moves a creator's available balance to their connected
// account. A payout is reserved in the ledger before the provider is
// called, so the reserved amount is out of the balance the moment it is
// requested and concurrent requests cannot spend it twice.
package payout

import (
	"context"
	"errors"
	"log/slog"

	"creatorpay/internal/metrics"
	"creatorpay/internal/models"
)

var (
	ErrNotOnboarded        = errors.New("creator has not completed payout onboarding")
	ErrBelowMinimum        = errors.New("amount below payout minimum")
	ErrInsufficientBalance = errors.New("amount exceeds available balance")
	ErrTransferFailed      = errors.New("transfer failed")
)

// Ledger is the payout slice of the store.
type Ledger interface {
	ReservePayout(ctx context.Context, creatorID int64, decide func(available int64) (int64, error)) (models.Payout, error)
	SetPayoutOutcome(ctx context.Context, payoutID int64, status, transferID, failureReason string) error
}

// Gateway creates provider transfers.
type Gateway interface {
	CreateTransfer(ctx context.Context, payoutID, amountCents int64, destinationAccountID string) (string, error)
}

// Notifier reports failed transfers to operators, best effort.
type Notifier interface {
	IsConfigured() bool
	PayoutFailure(payoutID, creatorID, amountCents int64, reason string) error
}

type Initiator struct {
	store    Ledger
	gateway  Gateway
	notifier Notifier
	minCents int64
	log      *slog.Logger
}

func NewInitiator(store Ledger, gateway Gateway, notifier Notifier, minCents int64, log *slog.Logger) *Initiator {
	if log == nil {
		log = slog.Default()
	}
	return &Initiator{store: store, gateway: gateway, notifier: notifier, minCents: minCents, log: log}
}

// Request reserves and initiates a payout. A requested amount of zero
// means the full available balance. The reservation happens under the
// creator's row lock; by the time the provider is called the amount is
// already subtracted from the available balance. A gateway failure flips
// the payout to failed, which releases the funds, and reports the
// failure; the returned error wraps ErrTransferFailed.
func (i *Initiator) Request(ctx context.Context, creator models.Creator, requested int64) (models.Payout, error) {
	if requested < 0 {
		return models.Payout{}, ErrBelowMinimum
	}
	if !creator.OnboardingComplete || creator.StripeAccountID == "" {
		return models.Payout{}, ErrNotOnboarded
	}

	p, err := i.store.ReservePayout(ctx, creator.ID, func(available int64) (int64, error) {
		amount := requested
		if amount == 0 {
			amount = available
		}
		if amount < i.minCents {
			return 0, ErrBelowMinimum
		}
		if amount > available {
			return 0, ErrInsufficientBalance
		}
		return amount, nil
	})
	if err != nil {
		return models.Payout{}, err
	}

	transferID, err := i.gateway.CreateTransfer(ctx, p.ID, p.Amount, creator.StripeAccountID)
	// The payout row is already committed, so the status writes below must
	// outlive the request: a client abort must not strand the row pending.
	writeCtx := context.WithoutCancel(ctx)
	if err != nil {
		i.log.Error("transfer creation failed",
			"payout_id", p.ID, "creator_id", creator.ID, "amount", p.Amount, "err", err)
		metrics.PayoutFailures.Inc()
		if setErr := i.store.SetPayoutOutcome(writeCtx, p.ID, models.PayoutFailed, "", err.Error()); setErr != nil {
			i.log.Error("failed to mark payout failed", "payout_id", p.ID, "err", setErr)
		}
		if i.notifier != nil && i.notifier.IsConfigured() {
			if nerr := i.notifier.PayoutFailure(p.ID, creator.ID, p.Amount, err.Error()); nerr != nil {
				i.log.Error("payout failure email failed", "payout_id", p.ID, "err", nerr)
			}
		}
		return models.Payout{}, errors.Join(ErrTransferFailed, err)
	}

	if err := i.store.SetPayoutOutcome(writeCtx, p.ID, models.PayoutProcessing, transferID, ""); err != nil {
		// The transfer exists; the transfer webhook will converge the
		// row by its payout id even if this write is lost.
		i.log.Error("failed to mark payout processing", "payout_id", p.ID, "err", err)
	}
	p.Status = models.PayoutProcessing
	p.StripeTransferID = transferID

	metrics.PayoutsInitiated.Inc()
	metrics.PayoutCents.Add(float64(p.Amount))
	i.log.Info("payout initiated",
		"payout_id", p.ID, "creator_id", creator.ID, "amount", p.Amount, "transfer", transferID)
	return p, nil
}
