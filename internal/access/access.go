// Package access decides whether a viewer may see a content item
// unblurred. Decisions are derived from ledger state on every request;
// nothing here is cached, because subscription and purchase state change
// asynchronously as provider events are reconciled.
package access

import (
	"context"

	"creatorpay/internal/models"
)

// Decision is returned per content item. When ShouldBlur is true the
// caller withholds the asset URL and, for premium items, surfaces the
// unlock price instead.
type Decision struct {
	CanView    bool `json:"can_view"`
	ShouldBlur bool `json:"should_blur"`
}

// Facts are the ledger lookups a decision depends on, resolved for one
// (viewer, creator) pair.
type Facts struct {
	IsOwner          bool
	ActiveSubscriber bool
	PurchasedItemIDs map[int64]bool
}

// Evaluate applies the gating rules to a single item:
// the owning creator always sees everything; premium items require a
// completed purchase of that item; free items require a subscription
// with status exactly "active" (past_due does not grant access).
func Evaluate(item models.ContentItem, facts Facts) Decision {
	if facts.IsOwner {
		return Decision{CanView: true, ShouldBlur: false}
	}
	if item.IsPremium {
		ok := facts.PurchasedItemIDs[item.ID]
		return Decision{CanView: ok, ShouldBlur: !ok}
	}
	return Decision{CanView: facts.ActiveSubscriber, ShouldBlur: !facts.ActiveSubscriber}
}

// FactSource is the slice of the ledger the evaluator reads.
type FactSource interface {
	HasActiveSubscription(ctx context.Context, fanID string, creatorID int64) (bool, error)
	CompletedPurchaseContentIDs(ctx context.Context, fanID string, creatorID int64) (map[int64]bool, error)
}

type Evaluator struct {
	store FactSource
}

func NewEvaluator(store FactSource) *Evaluator {
	return &Evaluator{store: store}
}

// FactsFor loads the viewer's standing with a creator. An anonymous
// viewer (empty id) holds no facts and sees everything blurred.
func (e *Evaluator) FactsFor(ctx context.Context, viewerUserID string, creator models.Creator) (Facts, error) {
	if viewerUserID == "" {
		return Facts{}, nil
	}
	if viewerUserID == creator.UserID {
		return Facts{IsOwner: true}, nil
	}
	active, err := e.store.HasActiveSubscription(ctx, viewerUserID, creator.ID)
	if err != nil {
		return Facts{}, err
	}
	purchased, err := e.store.CompletedPurchaseContentIDs(ctx, viewerUserID, creator.ID)
	if err != nil {
		return Facts{}, err
	}
	return Facts{ActiveSubscriber: active, PurchasedItemIDs: purchased}, nil
}
