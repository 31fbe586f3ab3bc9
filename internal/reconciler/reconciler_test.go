package reconciler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"creatorpay/internal/ledger"
	"creatorpay/internal/models"

	"github.com/stripe/stripe-go/v76"
)

const testSecret = "whsec_test_secret"

// signedPayload builds an event envelope and a valid Stripe-Signature
// header for it, the same scheme the provider uses: v1 is the hex
// HMAC-SHA256 of "<timestamp>.<payload>".
func signedPayload(t *testing.T, eventID, eventType string, object any) ([]byte, string) {
	t.Helper()
	raw, err := json.Marshal(object)
	if err != nil {
		t.Fatalf("marshal object: %v", err)
	}
	envelope := map[string]any{
		"id":          eventID,
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"data":        map[string]any{"object": json.RawMessage(raw)},
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(testSecret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	header := fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
	return payload, header
}

// mockLedger applies events against in-memory state with the same
// idempotency contract as the real store: an event id is recorded only
// when the application commits, and a missing target records nothing.
type mockLedger struct {
	seenEvents       map[string]bool
	failAlertInserts int
	subscriptions map[string]models.Subscription
	creators      map[int64]models.Creator
	invoices      map[string]ledger.InvoicePayment
	completions   []string
	pendingBySess map[string]bool
	transferCalls []ledger.TransferPhase
	payouts       map[int64]string
	alerts        []models.ReconcileAlert
	onboarded     []string
}

func newMockLedger() *mockLedger {
	return &mockLedger{
		seenEvents:    map[string]bool{},
		subscriptions: map[string]models.Subscription{},
		creators:      map[int64]models.Creator{},
		invoices:      map[string]ledger.InvoicePayment{},
		pendingBySess: map[string]bool{},
		payouts:       map[int64]string{},
	}
}

func (m *mockLedger) record(eventID string) bool {
	if m.seenEvents[eventID] {
		return false
	}
	m.seenEvents[eventID] = true
	return true
}

func (m *mockLedger) ApplySubscriptionUpsert(_ context.Context, eventID, _ string, up ledger.SubscriptionUpsert) (ledger.Outcome, error) {
	if !m.record(eventID) {
		return ledger.OutcomeDuplicateEvent, nil
	}
	if existing, ok := m.subscriptions[up.StripeSubscriptionID]; ok && existing.Status == models.SubscriptionCanceled {
		return ledger.OutcomeDuplicateRecord, nil
	}
	m.subscriptions[up.StripeSubscriptionID] = models.Subscription{
		ID:                   int64(len(m.subscriptions) + 1),
		FanID:                up.FanID,
		CreatorID:            up.CreatorID,
		StripeSubscriptionID: up.StripeSubscriptionID,
		Status:               up.Status,
	}
	return ledger.OutcomeApplied, nil
}

func (m *mockLedger) ApplySubscriptionCancel(_ context.Context, eventID, _, subID string) (ledger.Outcome, error) {
	if m.seenEvents[eventID] {
		return ledger.OutcomeDuplicateEvent, nil
	}
	sub, ok := m.subscriptions[subID]
	if !ok {
		return ledger.OutcomeTargetMissing, nil
	}
	m.seenEvents[eventID] = true
	if sub.Status == models.SubscriptionCanceled {
		return ledger.OutcomeDuplicateRecord, nil
	}
	sub.Status = models.SubscriptionCanceled
	m.subscriptions[subID] = sub
	return ledger.OutcomeApplied, nil
}

func (m *mockLedger) ApplyInvoicePayment(_ context.Context, eventID, _ string, p ledger.InvoicePayment) (ledger.Outcome, error) {
	if !m.record(eventID) {
		return ledger.OutcomeDuplicateEvent, nil
	}
	if _, ok := m.invoices[p.InvoiceID]; ok {
		return ledger.OutcomeDuplicateRecord, nil
	}
	m.invoices[p.InvoiceID] = p
	return ledger.OutcomeApplied, nil
}

func (m *mockLedger) ApplyCheckoutCompletion(_ context.Context, eventID, _ string, kind ledger.CheckoutKind, sessionID, _ string) (ledger.Outcome, error) {
	if m.seenEvents[eventID] {
		return ledger.OutcomeDuplicateEvent, nil
	}
	if !m.pendingBySess[sessionID] {
		return ledger.OutcomeTargetMissing, nil
	}
	m.seenEvents[eventID] = true
	delete(m.pendingBySess, sessionID)
	m.completions = append(m.completions, string(kind)+":"+sessionID)
	return ledger.OutcomeApplied, nil
}

func (m *mockLedger) ApplyTransferUpdate(_ context.Context, eventID, _ string, phase ledger.TransferPhase, payoutID int64, transferID string) (ledger.Outcome, error) {
	if m.seenEvents[eventID] {
		return ledger.OutcomeDuplicateEvent, nil
	}
	if _, ok := m.payouts[payoutID]; !ok {
		return ledger.OutcomeTargetMissing, nil
	}
	m.seenEvents[eventID] = true
	m.payouts[payoutID] = transferID
	m.transferCalls = append(m.transferCalls, phase)
	return ledger.OutcomeApplied, nil
}

func (m *mockLedger) ApplyAccountOnboarded(_ context.Context, eventID, _, accountID string) (ledger.Outcome, error) {
	if !m.record(eventID) {
		return ledger.OutcomeDuplicateEvent, nil
	}
	m.onboarded = append(m.onboarded, accountID)
	return ledger.OutcomeApplied, nil
}

func (m *mockLedger) AckEvent(_ context.Context, eventID, _ string) (ledger.Outcome, error) {
	if !m.record(eventID) {
		return ledger.OutcomeDuplicateEvent, nil
	}
	return ledger.OutcomeApplied, nil
}

func (m *mockLedger) GetSubscriptionByProviderID(_ context.Context, subID string) (models.Subscription, error) {
	sub, ok := m.subscriptions[subID]
	if !ok {
		return models.Subscription{}, ledger.ErrNotFound
	}
	return sub, nil
}

func (m *mockLedger) GetCreator(_ context.Context, id int64) (models.Creator, error) {
	c, ok := m.creators[id]
	if !ok {
		return models.Creator{}, ledger.ErrNotFound
	}
	return c, nil
}

func (m *mockLedger) AckEventWithAlert(_ context.Context, eventID, _ string, alert models.ReconcileAlert) (ledger.Outcome, error) {
	if m.seenEvents[eventID] {
		return ledger.OutcomeDuplicateEvent, nil
	}
	if m.failAlertInserts > 0 {
		m.failAlertInserts--
		return 0, errors.New("alert insert failed")
	}
	m.seenEvents[eventID] = true
	m.alerts = append(m.alerts, alert)
	return ledger.OutcomeApplied, nil
}

type stubNotifier struct {
	alerts int
}

func (s *stubNotifier) IsConfigured() bool { return true }
func (s *stubNotifier) ReconcileAlert(string, string, string, string) error {
	s.alerts++
	return nil
}

func TestHandleRejectsBadSignature(t *testing.T) {
	store := newMockLedger()
	rec := New(store, nil, testSecret, nil)

	payload, _ := signedPayload(t, "evt_1", "checkout.session.completed",
		map[string]any{"id": "cs_1"})
	err := rec.Handle(context.Background(), payload, "t=1,v1=deadbeef")
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
	if len(store.seenEvents) != 0 {
		t.Fatalf("store must not be touched on signature failure")
	}
}

func TestHandleCheckoutCompletedPurchase(t *testing.T) {
	store := newMockLedger()
	store.pendingBySess["cs_42"] = true
	rec := New(store, nil, testSecret, nil)

	payload, header := signedPayload(t, "evt_10", "checkout.session.completed", map[string]any{
		"id":             "cs_42",
		"payment_intent": map[string]any{"id": "pi_1"},
		"metadata":       map[string]string{"checkout_type": "purchase"},
	})
	if err := rec.Handle(context.Background(), payload, header); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(store.completions) != 1 || store.completions[0] != "purchase:cs_42" {
		t.Fatalf("unexpected completions: %v", store.completions)
	}

	// Exact redelivery settles as a duplicate with no second mutation.
	if err := rec.Handle(context.Background(), payload, header); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(store.completions) != 1 {
		t.Fatalf("replay must not complete twice: %v", store.completions)
	}
}

func TestHandleCheckoutUnattributable(t *testing.T) {
	store := newMockLedger()
	notifier := &stubNotifier{}
	rec := New(store, notifier, testSecret, nil)

	payload, header := signedPayload(t, "evt_11", "checkout.session.completed", map[string]any{
		"id":       "cs_unknown",
		"metadata": map[string]string{"checkout_type": "tip"},
	})
	if err := rec.Handle(context.Background(), payload, header); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(store.completions) != 0 {
		t.Fatalf("no ledger entry may be fabricated: %v", store.completions)
	}
	if len(store.alerts) != 1 {
		t.Fatalf("expected one alert, got %d", len(store.alerts))
	}
	if store.alerts[0].ExternalID != "cs_unknown" || store.alerts[0].AlertID == "" {
		t.Fatalf("bad alert: %+v", store.alerts[0])
	}
	if notifier.alerts != 1 {
		t.Fatalf("expected notifier call, got %d", notifier.alerts)
	}

	// Redelivery settles as a duplicate; no second alert.
	if err := rec.Handle(context.Background(), payload, header); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(store.alerts) != 1 || notifier.alerts != 1 {
		t.Fatalf("replay must not raise a second alert: %d alerts, %d notifications",
			len(store.alerts), notifier.alerts)
	}
}

func TestHandleUnattributableAlertFailureRetried(t *testing.T) {
	store := newMockLedger()
	store.failAlertInserts = 1
	notifier := &stubNotifier{}
	rec := New(store, notifier, testSecret, nil)

	payload, header := signedPayload(t, "evt_12", "checkout.session.completed", map[string]any{
		"id":       "cs_lost",
		"metadata": map[string]string{"checkout_type": "purchase"},
	})

	// The alert write fails transiently. The event must not be left
	// acked, or the redelivery would settle as a duplicate and the alert
	// would be lost for good.
	if err := rec.Handle(context.Background(), payload, header); err == nil {
		t.Fatalf("expected error from failed alert write")
	}
	if store.seenEvents["evt_12"] {
		t.Fatalf("event must not be acked when its alert was not recorded")
	}
	if len(store.alerts) != 0 {
		t.Fatalf("unexpected alerts: %v", store.alerts)
	}

	// The provider redelivers and both land together.
	if err := rec.Handle(context.Background(), payload, header); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if len(store.alerts) != 1 || store.alerts[0].ExternalID != "cs_lost" {
		t.Fatalf("alert not recorded on redelivery: %v", store.alerts)
	}
	if notifier.alerts != 1 {
		t.Fatalf("expected one notification, got %d", notifier.alerts)
	}
}

func TestHandleInvoicePaidSplitsRevenue(t *testing.T) {
	store := newMockLedger()
	store.creators[7] = models.Creator{ID: 7, CommissionRateBps: 2000}
	store.subscriptions["sub_1"] = models.Subscription{
		ID: 3, FanID: "fan_a", CreatorID: 7,
		StripeSubscriptionID: "sub_1", Status: models.SubscriptionActive,
	}
	rec := New(store, nil, testSecret, nil)

	payload, header := signedPayload(t, "evt_20", "invoice.paid", map[string]any{
		"id":           "in_1",
		"amount_paid":  999,
		"subscription": map[string]any{"id": "sub_1"},
		"period_start": 1700000000,
		"period_end":   1702592000,
	})
	if err := rec.Handle(context.Background(), payload, header); err != nil {
		t.Fatalf("handle: %v", err)
	}
	p, ok := store.invoices["in_1"]
	if !ok {
		t.Fatalf("invoice payment not recorded")
	}
	if p.Gross != 999 || p.Commission != 200 || p.CreatorNet != 799 {
		t.Fatalf("bad split: %+v", p)
	}
	if p.Commission+p.CreatorNet != p.Gross {
		t.Fatalf("split does not conserve: %+v", p)
	}
	if p.FanID != "fan_a" || p.CreatorID != 7 || p.SubscriptionID != 3 {
		t.Fatalf("bad attribution: %+v", p)
	}
}

func TestHandleInvoicePaidUnknownSubscription(t *testing.T) {
	store := newMockLedger()
	rec := New(store, nil, testSecret, nil)

	payload, header := signedPayload(t, "evt_21", "invoice.paid", map[string]any{
		"id":           "in_orphan",
		"amount_paid":  500,
		"subscription": map[string]any{"id": "sub_missing"},
	})
	if err := rec.Handle(context.Background(), payload, header); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(store.invoices) != 0 {
		t.Fatalf("orphan invoice must not be ledgered")
	}
	if len(store.alerts) != 1 {
		t.Fatalf("expected alert for orphan invoice, got %d", len(store.alerts))
	}
}

func TestHandleZeroAmountInvoiceAcked(t *testing.T) {
	store := newMockLedger()
	rec := New(store, nil, testSecret, nil)

	payload, header := signedPayload(t, "evt_22", "invoice.paid", map[string]any{
		"id":           "in_trial",
		"amount_paid":  0,
		"subscription": map[string]any{"id": "sub_1"},
	})
	if err := rec.Handle(context.Background(), payload, header); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(store.invoices) != 0 || len(store.alerts) != 0 {
		t.Fatalf("zero-amount invoice should be acked quietly")
	}
}

func TestHandleSubscriptionLifecycle(t *testing.T) {
	store := newMockLedger()
	rec := New(store, nil, testSecret, nil)

	payload, header := signedPayload(t, "evt_30", "customer.subscription.created", map[string]any{
		"id":                   "sub_9",
		"status":               "active",
		"current_period_start": 1700000000,
		"current_period_end":   1702592000,
		"metadata":             map[string]string{"fan_id": "fan_b", "creator_id": "4"},
	})
	if err := rec.Handle(context.Background(), payload, header); err != nil {
		t.Fatalf("create: %v", err)
	}
	if store.subscriptions["sub_9"].Status != models.SubscriptionActive {
		t.Fatalf("subscription not active: %+v", store.subscriptions["sub_9"])
	}

	payload, header = signedPayload(t, "evt_31", "customer.subscription.deleted", map[string]any{
		"id": "sub_9",
	})
	if err := rec.Handle(context.Background(), payload, header); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if store.subscriptions["sub_9"].Status != models.SubscriptionCanceled {
		t.Fatalf("subscription not canceled: %+v", store.subscriptions["sub_9"])
	}

	// A stale update after cancellation must not resurrect the row.
	payload, header = signedPayload(t, "evt_32", "customer.subscription.updated", map[string]any{
		"id":                   "sub_9",
		"status":               "active",
		"current_period_start": 1700000000,
		"current_period_end":   1702592000,
		"metadata":             map[string]string{"fan_id": "fan_b", "creator_id": "4"},
	})
	if err := rec.Handle(context.Background(), payload, header); err != nil {
		t.Fatalf("stale update: %v", err)
	}
	if store.subscriptions["sub_9"].Status != models.SubscriptionCanceled {
		t.Fatalf("canceled is terminal, got %+v", store.subscriptions["sub_9"])
	}
}

func TestHandleSubscriptionWithoutMetadata(t *testing.T) {
	store := newMockLedger()
	rec := New(store, nil, testSecret, nil)

	payload, header := signedPayload(t, "evt_33", "customer.subscription.created", map[string]any{
		"id":     "sub_foreign",
		"status": "active",
	})
	if err := rec.Handle(context.Background(), payload, header); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(store.subscriptions) != 0 {
		t.Fatalf("unattributed subscription must not be ledgered")
	}
	if len(store.alerts) != 1 {
		t.Fatalf("expected alert, got %d", len(store.alerts))
	}
}

func TestHandleTransferEvents(t *testing.T) {
	store := newMockLedger()
	store.payouts[15] = ""
	rec := New(store, nil, testSecret, nil)

	payload, header := signedPayload(t, "evt_40", "transfer.created", map[string]any{
		"id":       "tr_1",
		"metadata": map[string]string{"payout_id": "15"},
	})
	if err := rec.Handle(context.Background(), payload, header); err != nil {
		t.Fatalf("transfer.created: %v", err)
	}
	payload, header = signedPayload(t, "evt_41", "transfer.paid", map[string]any{
		"id":       "tr_1",
		"metadata": map[string]string{"payout_id": "15"},
	})
	if err := rec.Handle(context.Background(), payload, header); err != nil {
		t.Fatalf("transfer.paid: %v", err)
	}
	if store.payouts[15] != "tr_1" {
		t.Fatalf("transfer id not attached: %q", store.payouts[15])
	}
	if len(store.transferCalls) != 2 ||
		store.transferCalls[0] != ledger.TransferCreated || store.transferCalls[1] != ledger.TransferPaid {
		t.Fatalf("unexpected phases: %v", store.transferCalls)
	}
}

func TestHandleTransferWithoutPayoutMetadata(t *testing.T) {
	store := newMockLedger()
	rec := New(store, nil, testSecret, nil)

	payload, header := signedPayload(t, "evt_42", "transfer.created", map[string]any{
		"id": "tr_manual",
	})
	if err := rec.Handle(context.Background(), payload, header); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(store.alerts) != 1 {
		t.Fatalf("expected alert for unattributed transfer, got %d", len(store.alerts))
	}

	if err := rec.Handle(context.Background(), payload, header); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(store.alerts) != 1 {
		t.Fatalf("replay must not duplicate the alert, got %d", len(store.alerts))
	}
}

func TestHandleAccountUpdated(t *testing.T) {
	store := newMockLedger()
	rec := New(store, nil, testSecret, nil)

	// Incomplete onboarding is acknowledged without a mutation.
	payload, header := signedPayload(t, "evt_50", "account.updated", map[string]any{
		"id":                "acct_1",
		"details_submitted": true,
		"payouts_enabled":   false,
	})
	if err := rec.Handle(context.Background(), payload, header); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(store.onboarded) != 0 {
		t.Fatalf("incomplete account must not onboard")
	}

	payload, header = signedPayload(t, "evt_51", "account.updated", map[string]any{
		"id":                "acct_1",
		"details_submitted": true,
		"payouts_enabled":   true,
	})
	if err := rec.Handle(context.Background(), payload, header); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(store.onboarded) != 1 || store.onboarded[0] != "acct_1" {
		t.Fatalf("expected onboarding, got %v", store.onboarded)
	}
}

func TestHandleUnknownEventTypeAcked(t *testing.T) {
	store := newMockLedger()
	rec := New(store, nil, testSecret, nil)

	payload, header := signedPayload(t, "evt_60", "charge.refunded", map[string]any{
		"id": "ch_1",
	})
	if err := rec.Handle(context.Background(), payload, header); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !store.seenEvents["evt_60"] {
		t.Fatalf("unknown event should still be acknowledged")
	}
}

func TestMapSubscriptionStatus(t *testing.T) {
	cases := []struct {
		in      stripe.SubscriptionStatus
		want    string
		tracked bool
	}{
		{stripe.SubscriptionStatusActive, models.SubscriptionActive, true},
		{stripe.SubscriptionStatusTrialing, models.SubscriptionActive, true},
		{stripe.SubscriptionStatusPastDue, models.SubscriptionPastDue, true},
		{stripe.SubscriptionStatusUnpaid, models.SubscriptionUnpaid, true},
		{stripe.SubscriptionStatusCanceled, models.SubscriptionCanceled, true},
		{stripe.SubscriptionStatusIncompleteExpired, models.SubscriptionCanceled, true},
		{stripe.SubscriptionStatusIncomplete, "", false},
		{stripe.SubscriptionStatusPaused, "", false},
	}
	for _, tc := range cases {
		got, tracked := mapSubscriptionStatus(tc.in)
		if got != tc.want || tracked != tc.tracked {
			t.Fatalf("mapSubscriptionStatus(%s) = (%q, %v), want (%q, %v)",
				tc.in, got, tracked, tc.want, tc.tracked)
		}
	}
}
