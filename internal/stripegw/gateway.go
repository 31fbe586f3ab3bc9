// Package stripegw wraps the Stripe API surface the platform uses:
// checkout sessions for inbound payments, Connect express accounts for
// creator onboarding, and transfers for payouts. Charges settle into the
// platform account; creator money moves later via transfers, so checkout
// sessions carry no destination and the ledger owns the split.
package stripegw

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// Metadata keys stamped onto provider objects so webhook events can be
// attributed back to ledger rows.
const (
	MetaCheckoutType = "checkout_type"
	MetaFanID        = "fan_id"
	MetaCreatorID    = "creator_id"
	MetaContentID    = "content_id"
	MetaPayoutID     = "payout_id"
)

const (
	CheckoutTypeSubscription = "subscription"
	CheckoutTypePurchase     = "purchase"
	CheckoutTypeTip          = "tip"
)

type Gateway struct {
	api      *client.API
	currency string
}

// New builds a gateway with its own API client and a bounded HTTP
// timeout, rather than mutating the package-global key.
func New(secretKey, currency string, timeout time.Duration) *Gateway {
	httpClient := &http.Client{Timeout: timeout}
	api := &client.API{}
	api.Init(secretKey, &stripe.Backends{
		API: stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			HTTPClient: httpClient,
		}),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, &stripe.BackendConfig{
			HTTPClient: httpClient,
		}),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, &stripe.BackendConfig{
			HTTPClient: httpClient,
		}),
	})
	return &Gateway{api: api, currency: currency}
}

// CheckoutSession is the subset of the provider session the handlers
// hand back to the client.
type CheckoutSession struct {
	ID  string
	URL string
}

// SubscriptionCheckout opens a recurring monthly checkout for a
// creator's subscription price.
type SubscriptionCheckout struct {
	FanID       string
	CreatorID   int64
	CreatorName string
	PriceCents  int64
	SuccessURL  string
	CancelURL   string
}

func (g *Gateway) CreateSubscriptionCheckout(ctx context.Context, in SubscriptionCheckout) (CheckoutSession, error) {
	metadata := map[string]string{
		MetaCheckoutType: CheckoutTypeSubscription,
		MetaFanID:        in.FanID,
		MetaCreatorID:    strconv.FormatInt(in.CreatorID, 10),
	}
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL: stripe.String(in.SuccessURL),
		CancelURL:  stripe.String(in.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(g.currency),
					UnitAmount: stripe.Int64(in.PriceCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String("Subscription to " + in.CreatorName),
					},
					Recurring: &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
						Interval: stripe.String("month"),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: metadata,
		// The same metadata rides on the subscription object itself so
		// subscription lifecycle events are attributable without the
		// originating session.
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
	}
	params.Context = ctx
	sess, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return CheckoutSession{}, err
	}
	return CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

// PaymentCheckout opens a one-time checkout for a premium-content
// purchase or a tip.
type PaymentCheckout struct {
	Type        string
	FanID       string
	CreatorID   int64
	ContentID   int64
	Description string
	AmountCents int64
	SuccessURL  string
	CancelURL   string
}

func (g *Gateway) CreatePaymentCheckout(ctx context.Context, in PaymentCheckout) (CheckoutSession, error) {
	metadata := map[string]string{
		MetaCheckoutType: in.Type,
		MetaFanID:        in.FanID,
		MetaCreatorID:    strconv.FormatInt(in.CreatorID, 10),
	}
	if in.ContentID != 0 {
		metadata[MetaContentID] = strconv.FormatInt(in.ContentID, 10)
	}
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(in.SuccessURL),
		CancelURL:  stripe.String(in.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(g.currency),
					UnitAmount: stripe.Int64(in.AmountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(in.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: metadata,
	}
	params.Context = ctx
	sess, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return CheckoutSession{}, err
	}
	return CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

// CreateTransfer moves a reserved payout to the creator's connected
// account. The payout id in the metadata is what the transfer webhook
// events are matched back on.
func (g *Gateway) CreateTransfer(ctx context.Context, payoutID, amountCents int64, destinationAccountID string) (string, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(amountCents),
		Currency:    stripe.String(g.currency),
		Destination: stripe.String(destinationAccountID),
	}
	params.Context = ctx
	params.AddMetadata(MetaPayoutID, strconv.FormatInt(payoutID, 10))
	tr, err := g.api.Transfers.New(params)
	if err != nil {
		return "", err
	}
	return tr.ID, nil
}

// CreateExpressAccount provisions the connected account a creator is
// paid into.
func (g *Gateway) CreateExpressAccount(ctx context.Context, email string) (string, error) {
	params := &stripe.AccountParams{
		Type:  stripe.String(string(stripe.AccountTypeExpress)),
		Email: stripe.String(email),
		Capabilities: &stripe.AccountCapabilitiesParams{
			Transfers: &stripe.AccountCapabilitiesTransfersParams{
				Requested: stripe.Bool(true),
			},
		},
	}
	params.Context = ctx
	acct, err := g.api.Accounts.New(params)
	if err != nil {
		return "", err
	}
	return acct.ID, nil
}

// CreateAccountLink returns the hosted onboarding URL for a connected
// account. Links expire quickly; the refresh URL lets the creator mint a
// fresh one.
func (g *Gateway) CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error) {
	params := &stripe.AccountLinkParams{
		Account:    stripe.String(accountID),
		RefreshURL: stripe.String(refreshURL),
		ReturnURL:  stripe.String(returnURL),
		Type:       stripe.String("account_onboarding"),
	}
	params.Context = ctx
	link, err := g.api.AccountLinks.New(params)
	if err != nil {
		return "", err
	}
	return link.URL, nil
}

// AccountStatus mirrors the onboarding flags the account-updated
// webhook also reports.
type AccountStatus struct {
	DetailsSubmitted bool `json:"details_submitted"`
	ChargesEnabled   bool `json:"charges_enabled"`
	PayoutsEnabled   bool `json:"payouts_enabled"`
}

func (g *Gateway) GetAccountStatus(ctx context.Context, accountID string) (AccountStatus, error) {
	params := &stripe.AccountParams{}
	params.Context = ctx
	acct, err := g.api.Accounts.GetByID(accountID, params)
	if err != nil {
		return AccountStatus{}, err
	}
	return AccountStatus{
		DetailsSubmitted: acct.DetailsSubmitted,
		ChargesEnabled:   acct.ChargesEnabled,
		PayoutsEnabled:   acct.PayoutsEnabled,
	}, nil
}

// CreateLoginLink returns a one-time URL into the connected account's
// express dashboard.
func (g *Gateway) CreateLoginLink(ctx context.Context, accountID string) (string, error) {
	params := &stripe.LoginLinkParams{
		Account: stripe.String(accountID),
	}
	params.Context = ctx
	link, err := g.api.LoginLinks.New(params)
	if err != nil {
		return "", err
	}
	return link.URL, nil
}
