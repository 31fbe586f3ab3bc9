package access

import (
	"context"
	"testing"

	"creatorpay/internal/models"
)

func TestEvaluatePremium(t *testing.T) {
	item := models.ContentItem{ID: 7, IsPremium: true, PriceCents: 499}

	d := Evaluate(item, Facts{PurchasedItemIDs: map[int64]bool{7: true}})
	if !d.CanView || d.ShouldBlur {
		t.Fatalf("buyer should see premium item: %+v", d)
	}

	d = Evaluate(item, Facts{ActiveSubscriber: true})
	if d.CanView || !d.ShouldBlur {
		t.Fatalf("subscription alone must not unlock premium: %+v", d)
	}

	d = Evaluate(item, Facts{})
	if d.CanView || !d.ShouldBlur {
		t.Fatalf("stranger should be blurred: %+v", d)
	}
}

func TestEvaluateFreeContent(t *testing.T) {
	item := models.ContentItem{ID: 3}

	d := Evaluate(item, Facts{ActiveSubscriber: true})
	if !d.CanView || d.ShouldBlur {
		t.Fatalf("active subscriber should see free content: %+v", d)
	}

	// A purchase of some other item grants nothing on free content.
	d = Evaluate(item, Facts{PurchasedItemIDs: map[int64]bool{9: true}})
	if d.CanView || !d.ShouldBlur {
		t.Fatalf("non-subscriber should be blurred: %+v", d)
	}
}

func TestEvaluateOwner(t *testing.T) {
	for _, premium := range []bool{true, false} {
		d := Evaluate(models.ContentItem{ID: 1, IsPremium: premium}, Facts{IsOwner: true})
		if !d.CanView || d.ShouldBlur {
			t.Fatalf("owner must always see own content (premium=%v): %+v", premium, d)
		}
	}
}

type stubFacts struct {
	active    bool
	purchased map[int64]bool
}

func (s stubFacts) HasActiveSubscription(context.Context, string, int64) (bool, error) {
	return s.active, nil
}

func (s stubFacts) CompletedPurchaseContentIDs(context.Context, string, int64) (map[int64]bool, error) {
	return s.purchased, nil
}

func TestFactsFor(t *testing.T) {
	creator := models.Creator{ID: 5, UserID: "creator-user"}
	ev := NewEvaluator(stubFacts{active: true, purchased: map[int64]bool{2: true}})

	facts, err := ev.FactsFor(context.Background(), "creator-user", creator)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !facts.IsOwner {
		t.Fatalf("expected owner facts")
	}

	facts, err = ev.FactsFor(context.Background(), "fan-user", creator)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if facts.IsOwner || !facts.ActiveSubscriber || !facts.PurchasedItemIDs[2] {
		t.Fatalf("unexpected fan facts: %+v", facts)
	}

	facts, err = ev.FactsFor(context.Background(), "", creator)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if facts.IsOwner || facts.ActiveSubscriber || len(facts.PurchasedItemIDs) != 0 {
		t.Fatalf("anonymous viewer should hold no facts: %+v", facts)
	}
}
