package payout

import (
	"context"
	"errors"
	"testing"

	"creatorpay/internal/models"
)

// mockStore keeps a single available balance and mirrors the real
// reservation contract: the decided amount is subtracted immediately,
// and a failed outcome adds it back.
type mockStore struct {
	available int64
	payouts   map[int64]models.Payout
	nextID    int64
}

func newMockStore(available int64) *mockStore {
	return &mockStore{available: available, payouts: map[int64]models.Payout{}, nextID: 1}
}

func (m *mockStore) ReservePayout(_ context.Context, creatorID int64, decide func(int64) (int64, error)) (models.Payout, error) {
	amount, err := decide(m.available)
	if err != nil {
		return models.Payout{}, err
	}
	m.available -= amount
	p := models.Payout{ID: m.nextID, CreatorID: creatorID, Amount: amount, Status: models.PayoutPending}
	m.payouts[p.ID] = p
	m.nextID++
	return p, nil
}

func (m *mockStore) SetPayoutOutcome(ctx context.Context, payoutID int64, status, transferID, failureReason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, ok := m.payouts[payoutID]
	if !ok {
		return errors.New("no such payout")
	}
	if status == models.PayoutFailed {
		m.available += p.Amount
	}
	p.Status = status
	p.StripeTransferID = transferID
	p.FailureReason = failureReason
	m.payouts[payoutID] = p
	return nil
}

type mockGateway struct {
	fail  bool
	calls int
}

func (g *mockGateway) CreateTransfer(_ context.Context, payoutID, _ int64, _ string) (string, error) {
	g.calls++
	if g.fail {
		return "", errors.New("account cannot receive transfers")
	}
	return "tr_mock", nil
}

type recordingNotifier struct {
	failures int
}

func (n *recordingNotifier) IsConfigured() bool { return true }
func (n *recordingNotifier) PayoutFailure(int64, int64, int64, string) error {
	n.failures++
	return nil
}

func onboardedCreator() models.Creator {
	return models.Creator{ID: 9, StripeAccountID: "acct_9", OnboardingComplete: true}
}

func TestRequestFullBalance(t *testing.T) {
	store := newMockStore(5000)
	gw := &mockGateway{}
	init := NewInitiator(store, gw, nil, 100, nil)

	p, err := init.Request(context.Background(), onboardedCreator(), 0)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if p.Amount != 5000 || p.Status != models.PayoutProcessing || p.StripeTransferID != "tr_mock" {
		t.Fatalf("unexpected payout: %+v", p)
	}
	if store.available != 0 {
		t.Fatalf("balance not reserved: %d", store.available)
	}
}

func TestRequestPartialAmount(t *testing.T) {
	store := newMockStore(5000)
	init := NewInitiator(store, &mockGateway{}, nil, 100, nil)

	p, err := init.Request(context.Background(), onboardedCreator(), 1500)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if p.Amount != 1500 || store.available != 3500 {
		t.Fatalf("amount=%d available=%d", p.Amount, store.available)
	}
}

func TestRequestRejectsOverdraw(t *testing.T) {
	store := newMockStore(5000)
	gw := &mockGateway{}
	init := NewInitiator(store, gw, nil, 100, nil)

	_, err := init.Request(context.Background(), onboardedCreator(), 5001)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if gw.calls != 0 {
		t.Fatalf("gateway must not be called on rejection")
	}
	if store.available != 5000 {
		t.Fatalf("balance must be untouched: %d", store.available)
	}
}

func TestRequestRejectsBelowMinimum(t *testing.T) {
	store := newMockStore(5000)
	init := NewInitiator(store, &mockGateway{}, nil, 100, nil)

	if _, err := init.Request(context.Background(), onboardedCreator(), 99); !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("expected ErrBelowMinimum, got %v", err)
	}
	if _, err := init.Request(context.Background(), onboardedCreator(), -5); !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("expected ErrBelowMinimum for negative, got %v", err)
	}

	// An empty balance with a full-balance request is also below floor.
	empty := NewInitiator(newMockStore(0), &mockGateway{}, nil, 100, nil)
	if _, err := empty.Request(context.Background(), onboardedCreator(), 0); !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("expected ErrBelowMinimum on empty balance, got %v", err)
	}
}

func TestRequestRequiresOnboarding(t *testing.T) {
	store := newMockStore(5000)
	gw := &mockGateway{}
	init := NewInitiator(store, gw, nil, 100, nil)

	for _, c := range []models.Creator{
		{ID: 1, StripeAccountID: "acct_1", OnboardingComplete: false},
		{ID: 2, StripeAccountID: "", OnboardingComplete: true},
	} {
		if _, err := init.Request(context.Background(), c, 1000); !errors.Is(err, ErrNotOnboarded) {
			t.Fatalf("creator %d: expected ErrNotOnboarded, got %v", c.ID, err)
		}
	}
	if gw.calls != 0 {
		t.Fatalf("gateway must not be called before onboarding")
	}
}

func TestRequestTransferFailureReleasesFunds(t *testing.T) {
	store := newMockStore(5000)
	notifier := &recordingNotifier{}
	init := NewInitiator(store, &mockGateway{fail: true}, notifier, 100, nil)

	_, err := init.Request(context.Background(), onboardedCreator(), 2000)
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if store.available != 5000 {
		t.Fatalf("failed payout must release funds: %d", store.available)
	}
	p := store.payouts[1]
	if p.Status != models.PayoutFailed || p.FailureReason == "" {
		t.Fatalf("unexpected payout state: %+v", p)
	}
	if notifier.failures != 1 {
		t.Fatalf("expected failure notification, got %d", notifier.failures)
	}
}

func TestRequestStatusWriteOutlivesRequest(t *testing.T) {
	store := newMockStore(5000)
	init := NewInitiator(store, &mockGateway{}, nil, 100, nil)

	// The client goes away while the transfer is in flight. The row must
	// still move to processing instead of stranding as pending.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p, err := init.Request(ctx, onboardedCreator(), 2000)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	got := store.payouts[p.ID]
	if got.Status != models.PayoutProcessing || got.StripeTransferID != "tr_mock" {
		t.Fatalf("status write lost on canceled request: %+v", got)
	}
}

func TestSequentialRequestsCannotDoubleSpend(t *testing.T) {
	store := newMockStore(3000)
	init := NewInitiator(store, &mockGateway{}, nil, 100, nil)

	if _, err := init.Request(context.Background(), onboardedCreator(), 3000); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if _, err := init.Request(context.Background(), onboardedCreator(), 3000); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("second request must be rejected, got %v", err)
	}
}
