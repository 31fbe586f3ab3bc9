// Package reconciler turns verified provider webhook events into ledger
// state. Events arrive at-least-once and out of order; every application
// is idempotent and money movement that cannot be attributed to a ledger
// row raises an operator alert instead of fabricating an entry.
package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"creatorpay/internal/ledger"
	"creatorpay/internal/metrics"
	"creatorpay/internal/models"
	"creatorpay/internal/revenue"
	"creatorpay/internal/stripegw"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

var (
	// ErrBadSignature means the payload failed signature verification
	// and must be rejected without touching the store.
	ErrBadSignature = errors.New("invalid webhook signature")
	// ErrMalformed means the payload verified but could not be decoded.
	ErrMalformed = errors.New("malformed webhook payload")
)

// Ledger is the slice of the store the reconciler writes through. Every
// Apply method records the event id and its mutation in one transaction.
type Ledger interface {
	ApplySubscriptionUpsert(ctx context.Context, eventID, eventType string, up ledger.SubscriptionUpsert) (ledger.Outcome, error)
	ApplySubscriptionCancel(ctx context.Context, eventID, eventType, stripeSubscriptionID string) (ledger.Outcome, error)
	ApplyInvoicePayment(ctx context.Context, eventID, eventType string, p ledger.InvoicePayment) (ledger.Outcome, error)
	ApplyCheckoutCompletion(ctx context.Context, eventID, eventType string, kind ledger.CheckoutKind, sessionID, paymentIntentID string) (ledger.Outcome, error)
	ApplyTransferUpdate(ctx context.Context, eventID, eventType string, phase ledger.TransferPhase, payoutID int64, transferID string) (ledger.Outcome, error)
	ApplyAccountOnboarded(ctx context.Context, eventID, eventType, stripeAccountID string) (ledger.Outcome, error)
	AckEvent(ctx context.Context, eventID, eventType string) (ledger.Outcome, error)
	AckEventWithAlert(ctx context.Context, eventID, eventType string, alert models.ReconcileAlert) (ledger.Outcome, error)
	GetSubscriptionByProviderID(ctx context.Context, stripeSubscriptionID string) (models.Subscription, error)
	GetCreator(ctx context.Context, id int64) (models.Creator, error)
}

// Notifier delivers operator alerts. Delivery failures are logged, never
// propagated, so a broken mail provider cannot block reconciliation.
type Notifier interface {
	IsConfigured() bool
	ReconcileAlert(alertID, eventType, externalID, detail string) error
}

type Reconciler struct {
	store    Ledger
	notifier Notifier
	secret   string
	log      *slog.Logger
}

func New(store Ledger, notifier Notifier, webhookSecret string, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{store: store, notifier: notifier, secret: webhookSecret, log: log}
}

// Handle verifies and applies one webhook delivery. A nil return means
// the event is settled and the provider should not redeliver; an error
// other than ErrBadSignature/ErrMalformed means a transient failure the
// provider should retry.
func (r *Reconciler) Handle(ctx context.Context, payload []byte, sigHeader string) error {
	event, err := webhook.ConstructEvent(payload, sigHeader, r.secret)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	outcome, err := r.apply(ctx, event)
	if err != nil {
		if errors.Is(err, ErrMalformed) {
			return err
		}
		metrics.EventFailures.WithLabelValues(string(event.Type)).Inc()
		r.log.Error("event application failed",
			"event_id", event.ID, "type", event.Type, "err", err)
		return err
	}

	metrics.EventsTotal.WithLabelValues(string(event.Type), outcome.String()).Inc()
	switch outcome {
	case ledger.OutcomeDuplicateEvent, ledger.OutcomeDuplicateRecord:
		r.log.Info("duplicate event ignored",
			"event_id", event.ID, "type", event.Type, "outcome", outcome.String())
	default:
		r.log.Info("event reconciled",
			"event_id", event.ID, "type", event.Type, "outcome", outcome.String())
	}
	return nil
}

func (r *Reconciler) apply(ctx context.Context, event stripe.Event) (ledger.Outcome, error) {
	switch event.Type {
	case "checkout.session.completed":
		return r.applyCheckoutCompleted(ctx, event)
	case "customer.subscription.created", "customer.subscription.updated":
		return r.applySubscriptionChange(ctx, event)
	case "customer.subscription.deleted":
		return r.applySubscriptionDeleted(ctx, event)
	case "invoice.paid":
		return r.applyInvoicePaid(ctx, event)
	case "transfer.created":
		return r.applyTransfer(ctx, event, ledger.TransferCreated)
	case "transfer.paid":
		return r.applyTransfer(ctx, event, ledger.TransferPaid)
	case "transfer.failed", "transfer.reversed":
		return r.applyTransfer(ctx, event, ledger.TransferFailed)
	case "account.updated":
		return r.applyAccountUpdated(ctx, event)
	default:
		// Unhandled types are acknowledged so redeliveries stay
		// detectable, but they never mutate the ledger.
		return r.store.AckEvent(ctx, event.ID, string(event.Type))
	}
}

func (r *Reconciler) applyCheckoutCompleted(ctx context.Context, event stripe.Event) (ledger.Outcome, error) {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var kind ledger.CheckoutKind
	switch sess.Metadata[stripegw.MetaCheckoutType] {
	case stripegw.CheckoutTypePurchase:
		kind = ledger.CheckoutPurchase
	case stripegw.CheckoutTypeTip:
		kind = ledger.CheckoutTip
	case stripegw.CheckoutTypeSubscription:
		// Subscription money is reconciled from the subscription and
		// invoice events, not the session.
		return r.store.AckEvent(ctx, event.ID, string(event.Type))
	default:
		return r.alertUnattributable(ctx, event, sess.ID,
			"checkout session has no recognized checkout_type metadata")
	}

	paymentIntentID := ""
	if sess.PaymentIntent != nil {
		paymentIntentID = sess.PaymentIntent.ID
	}
	outcome, err := r.store.ApplyCheckoutCompletion(ctx, event.ID, string(event.Type), kind, sess.ID, paymentIntentID)
	if err != nil {
		return 0, err
	}
	if outcome == ledger.OutcomeTargetMissing {
		return r.alertUnattributable(ctx, event, sess.ID,
			fmt.Sprintf("completed %s checkout has no pending ledger record", kind))
	}
	return outcome, nil
}

// mapSubscriptionStatus folds provider statuses into the closed set the
// ledger tracks. Statuses outside it (incomplete, paused) carry no
// entitlement change we track and are acknowledged.
func mapSubscriptionStatus(s stripe.SubscriptionStatus) (string, bool) {
	switch s {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return models.SubscriptionActive, true
	case stripe.SubscriptionStatusPastDue:
		return models.SubscriptionPastDue, true
	case stripe.SubscriptionStatusUnpaid:
		return models.SubscriptionUnpaid, true
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return models.SubscriptionCanceled, true
	}
	return "", false
}

func (r *Reconciler) applySubscriptionChange(ctx context.Context, event stripe.Event) (ledger.Outcome, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	status, tracked := mapSubscriptionStatus(sub.Status)
	if !tracked {
		return r.store.AckEvent(ctx, event.ID, string(event.Type))
	}

	fanID := sub.Metadata[stripegw.MetaFanID]
	creatorID, _ := strconv.ParseInt(sub.Metadata[stripegw.MetaCreatorID], 10, 64)
	if fanID == "" || creatorID == 0 {
		// A subscription this platform created always carries the
		// attribution metadata; one without it is not ours to ledger.
		return r.alertUnattributable(ctx, event, sub.ID,
			"subscription carries no fan/creator attribution metadata")
	}

	return r.store.ApplySubscriptionUpsert(ctx, event.ID, string(event.Type), ledger.SubscriptionUpsert{
		FanID:                fanID,
		CreatorID:            creatorID,
		StripeSubscriptionID: sub.ID,
		Status:               status,
		PeriodStart:          unixTime(sub.CurrentPeriodStart),
		PeriodEnd:            unixTime(sub.CurrentPeriodEnd),
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
	})
}

func (r *Reconciler) applySubscriptionDeleted(ctx context.Context, event stripe.Event) (ledger.Outcome, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	outcome, err := r.store.ApplySubscriptionCancel(ctx, event.ID, string(event.Type), sub.ID)
	if err != nil {
		return 0, err
	}
	if outcome == ledger.OutcomeTargetMissing {
		// Cancellation of a subscription we never ledgered moves no
		// money; log and settle.
		r.log.Warn("cancel for unknown subscription", "event_id", event.ID, "subscription", sub.ID)
	}
	return outcome, nil
}

func (r *Reconciler) applyInvoicePaid(ctx context.Context, event stripe.Event) (ledger.Outcome, error) {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if inv.AmountPaid == 0 {
		// Trial or fully discounted cycle; nothing to ledger.
		return r.store.AckEvent(ctx, event.ID, string(event.Type))
	}
	if inv.Subscription == nil || inv.Subscription.ID == "" {
		return r.alertUnattributable(ctx, event, inv.ID,
			"paid invoice is not attached to a subscription")
	}

	sub, err := r.store.GetSubscriptionByProviderID(ctx, inv.Subscription.ID)
	if errors.Is(err, ledger.ErrNotFound) {
		return r.alertUnattributable(ctx, event, inv.ID,
			fmt.Sprintf("paid invoice references unknown subscription %s", inv.Subscription.ID))
	}
	if err != nil {
		return 0, err
	}
	creator, err := r.store.GetCreator(ctx, sub.CreatorID)
	if err != nil {
		return 0, err
	}

	commission, creatorNet := revenue.Split(inv.AmountPaid, creator.CommissionRateBps)
	return r.store.ApplyInvoicePayment(ctx, event.ID, string(event.Type), ledger.InvoicePayment{
		SubscriptionID: sub.ID,
		FanID:          sub.FanID,
		CreatorID:      sub.CreatorID,
		InvoiceID:      inv.ID,
		Gross:          inv.AmountPaid,
		Commission:     commission,
		CreatorNet:     creatorNet,
		PeriodStart:    unixTime(inv.PeriodStart),
		PeriodEnd:      unixTime(inv.PeriodEnd),
	})
}

func (r *Reconciler) applyTransfer(ctx context.Context, event stripe.Event, phase ledger.TransferPhase) (ledger.Outcome, error) {
	var tr stripe.Transfer
	if err := json.Unmarshal(event.Data.Raw, &tr); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	payoutID, _ := strconv.ParseInt(tr.Metadata[stripegw.MetaPayoutID], 10, 64)
	if payoutID == 0 {
		return r.alertUnattributable(ctx, event, tr.ID,
			"transfer carries no payout attribution metadata")
	}
	outcome, err := r.store.ApplyTransferUpdate(ctx, event.ID, string(event.Type), phase, payoutID, tr.ID)
	if err != nil {
		return 0, err
	}
	if outcome == ledger.OutcomeTargetMissing {
		return r.alertUnattributable(ctx, event, tr.ID,
			fmt.Sprintf("transfer references unknown payout %d", payoutID))
	}
	return outcome, nil
}

func (r *Reconciler) applyAccountUpdated(ctx context.Context, event stripe.Event) (ledger.Outcome, error) {
	var acct stripe.Account
	if err := json.Unmarshal(event.Data.Raw, &acct); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !acct.DetailsSubmitted || !acct.PayoutsEnabled {
		return r.store.AckEvent(ctx, event.ID, string(event.Type))
	}
	outcome, err := r.store.ApplyAccountOnboarded(ctx, event.ID, string(event.Type), acct.ID)
	if err != nil {
		return 0, err
	}
	if outcome == ledger.OutcomeTargetMissing {
		// Account not attached to any creator; onboarding state will be
		// picked up once the creator links it.
		r.log.Warn("account update for unknown account", "event_id", event.ID, "account", acct.ID)
	}
	return outcome, nil
}

func unixTime(ts int64) time.Time {
	return time.Unix(ts, 0).UTC()
}

// alertUnattributable settles money movement with no ledger home: the
// event ack and the operator alert commit in one store transaction, so
// a transient failure leaves neither behind and the provider's retry
// writes both. A redelivery of an already settled event comes back as a
// duplicate and raises no second alert. No ledger entry is ever created.
func (r *Reconciler) alertUnattributable(ctx context.Context, event stripe.Event, externalID, detail string) (ledger.Outcome, error) {
	alert := models.ReconcileAlert{
		AlertID:    uuid.NewString(),
		EventType:  string(event.Type),
		ExternalID: externalID,
		Detail:     detail,
	}
	outcome, err := r.store.AckEventWithAlert(ctx, event.ID, string(event.Type), alert)
	if err != nil {
		return 0, err
	}
	if outcome == ledger.OutcomeDuplicateEvent {
		return outcome, nil
	}
	metrics.UnattributableTotal.WithLabelValues(string(event.Type)).Inc()
	r.log.Warn("unattributable payment event",
		"event_id", event.ID, "type", event.Type, "external_id", externalID,
		"alert_id", alert.AlertID, "detail", detail)

	if r.notifier != nil && r.notifier.IsConfigured() {
		if err := r.notifier.ReconcileAlert(alert.AlertID, alert.EventType, alert.ExternalID, alert.Detail); err != nil {
			r.log.Error("alert email failed", "alert_id", alert.AlertID, "err", err)
		}
	}
	return ledger.OutcomeTargetMissing, nil
}
