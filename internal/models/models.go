package models

import "time"

// All monetary amounts are integer minor units (cents).

type Creator struct {
	ID                     int64     `json:"id"`
	UserID                 string    `json:"user_id"`
	Username               string    `json:"username"`
	DisplayName            string    `json:"display_name"`
	Email                  string    `json:"email"`
	SubscriptionPriceCents int64     `json:"subscription_price_cents"`
	CommissionRateBps      int       `json:"commission_rate_bps"`
	StripeAccountID        string    `json:"stripe_account_id"`
	OnboardingComplete     bool      `json:"onboarding_complete"`
	Active                 bool      `json:"active"`
	PayoutSchedule         string    `json:"payout_schedule"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

type ContentItem struct {
	ID          int64     `json:"id"`
	CreatorID   int64     `json:"creator_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	MediaURL    string    `json:"media_url"`
	MediaType   string    `json:"media_type"`
	PriceCents  int64     `json:"price_cents"`
	IsPremium   bool      `json:"is_premium"`
	Published   bool      `json:"is_published"`
	CreatedAt   time.Time `json:"created_at"`
}

type Subscription struct {
	ID                   int64     `json:"id"`
	FanID                string    `json:"fan_id"`
	CreatorID            int64     `json:"creator_id"`
	StripeSubscriptionID string    `json:"stripe_subscription_id"`
	Status               string    `json:"status"`
	CurrentPeriodStart   time.Time `json:"current_period_start"`
	CurrentPeriodEnd     time.Time `json:"current_period_end"`
	CancelAtPeriodEnd    bool      `json:"cancel_at_period_end"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

type SubscriptionPayment struct {
	ID              int64     `json:"id"`
	SubscriptionID  int64     `json:"subscription_id"`
	FanID           string    `json:"fan_id"`
	CreatorID       int64     `json:"creator_id"`
	StripeInvoiceID string    `json:"stripe_invoice_id"`
	Gross           int64     `json:"gross"`
	Commission      int64     `json:"commission"`
	CreatorNet      int64     `json:"creator_net"`
	PeriodStart     time.Time `json:"period_start"`
	PeriodEnd       time.Time `json:"period_end"`
	CreatedAt       time.Time `json:"created_at"`
}

type Purchase struct {
	ID                    int64      `json:"id"`
	FanID                 string     `json:"fan_id"`
	ContentID             int64      `json:"content_id"`
	CreatorID             int64      `json:"creator_id"`
	Gross                 int64      `json:"gross"`
	Commission            int64      `json:"commission"`
	CreatorNet            int64      `json:"creator_net"`
	StripeSessionID       string     `json:"stripe_session_id"`
	StripePaymentIntentID string     `json:"stripe_payment_intent_id"`
	Status                string     `json:"status"`
	CreatedAt             time.Time  `json:"created_at"`
	CompletedAt           *time.Time `json:"completed_at"`
}

type Tip struct {
	ID                    int64      `json:"id"`
	ConversationID        string     `json:"conversation_id"`
	FanID                 string     `json:"fan_id"`
	CreatorID             int64      `json:"creator_id"`
	Gross                 int64      `json:"gross"`
	Commission            int64      `json:"commission"`
	CreatorNet            int64      `json:"creator_net"`
	StripeSessionID       string     `json:"stripe_session_id"`
	StripePaymentIntentID string     `json:"stripe_payment_intent_id"`
	Status                string     `json:"status"`
	CreatedAt             time.Time  `json:"created_at"`
	CompletedAt           *time.Time `json:"completed_at"`
}

type Payout struct {
	ID               int64      `json:"id"`
	CreatorID        int64      `json:"creator_id"`
	Amount           int64      `json:"amount"`
	Status           string     `json:"status"`
	StripeTransferID string     `json:"stripe_transfer_id"`
	FailureReason    string     `json:"failure_reason,omitempty"`
	RequestedAt      time.Time  `json:"requested_at"`
	PaidAt           *time.Time `json:"paid_at"`
}

// ReconcileAlert records money movement reported by the provider that
// could not be attributed to any internal ledger row. These require
// manual reconciliation by an operator; they are never turned into
// ledger entries automatically.
type ReconcileAlert struct {
	ID         int64     `json:"id"`
	AlertID    string    `json:"alert_id"`
	EventType  string    `json:"event_type"`
	ExternalID string    `json:"external_id"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}

const (
	SubscriptionActive   = "active"
	SubscriptionPastDue  = "past_due"
	SubscriptionUnpaid   = "unpaid"
	SubscriptionCanceled = "canceled"
)

const (
	PurchasePending   = "pending"
	PurchaseCompleted = "completed"
	PurchaseFailed    = "failed"
)

const (
	TipPending   = "pending"
	TipCompleted = "completed"
)

const (
	PayoutPending    = "pending"
	PayoutProcessing = "processing"
	PayoutPaid       = "paid"
	PayoutFailed     = "failed"
	PayoutCanceled   = "canceled"
)

const (
	MediaTypeImage = "image"
	MediaTypeVideo = "video"
)

const (
	PayoutScheduleDaily   = "daily"
	PayoutScheduleWeekly  = "weekly"
	PayoutScheduleMonthly = "monthly"
)

// ValidSubscriptionStatus restricts provider-reported statuses to the
// closed set the ledger tracks.
func ValidSubscriptionStatus(status string) bool {
	switch status {
	case SubscriptionActive, SubscriptionPastDue, SubscriptionUnpaid, SubscriptionCanceled:
		return true
	}
	return false
}
