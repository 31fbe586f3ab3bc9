// Package httpapi exposes the platform API: the provider webhook
// endpoint, creator profiles and gated content listings, checkout
// creation for subscriptions, purchases and tips, and the creator
// earnings and payout surface.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"creatorpay/internal/access"
	"creatorpay/internal/config"
	"creatorpay/internal/ledger"
	"creatorpay/internal/models"
	"creatorpay/internal/payout"
	"creatorpay/internal/reconciler"
	"creatorpay/internal/revenue"
	"creatorpay/internal/stripegw"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxWebhookBody = 1 << 20

type Server struct {
	store     *ledger.Store
	cfg       config.Config
	gateway   *stripegw.Gateway
	rec       *reconciler.Reconciler
	payouts   *payout.Initiator
	evaluator *access.Evaluator
}

func NewServer(store *ledger.Store, cfg config.Config, gateway *stripegw.Gateway, rec *reconciler.Reconciler, payouts *payout.Initiator) *Server {
	return &Server{
		store:     store,
		cfg:       cfg,
		gateway:   gateway,
		rec:       rec,
		payouts:   payouts,
		evaluator: access.NewEvaluator(store),
	}
}

func loggingRecoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				reqID := middleware.GetReqID(r.Context())
				log.Printf("[ERROR] [%s] Panic recovered in %s %s: %v\n%s",
					reqID, r.Method, r.URL.Path, rvr, debug.Stack())

				if r.Header.Get("Connection") != "Upgrade" {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					errMsg := fmt.Sprintf("internal server error: %v", rvr)
					_ = json.NewEncoder(w).Encode(ErrorResponse{Error: errMsg})
				}
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			reqID := middleware.GetReqID(r.Context())
			log.Printf("[%s] %s %s %d %s",
				reqID, r.Method, r.URL.Path, ww.Status(), time.Since(start))
		}()
		next.ServeHTTP(ww, r)
	})
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(loggingRecoverer)
	r.Use(requestLogger)
	r.Use(s.corsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/webhooks/stripe", s.handleStripeWebhook)

		// Public browsing, viewer resolved when a token is present.
		r.Group(func(r chi.Router) {
			r.Use(s.optionalJWTMiddleware)

			r.Get("/creators/{username}", s.handleGetCreator)
			r.Get("/creators/{username}/posts", s.handleListPosts)
			r.Get("/posts/{id}", s.handleGetPost)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.jwtMiddleware)

			r.Post("/creators", s.handleCreateCreator)
			r.Delete("/creators", s.handleDeactivateCreator)
			r.Post("/posts", s.handleCreatePost)
			r.Patch("/payout-schedule", s.handleSetPayoutSchedule)

			r.Post("/subscriptions/checkout", s.handleSubscriptionCheckout)
			r.Post("/purchases/checkout", s.handlePurchaseCheckout)
			r.Post("/tips/checkout", s.handleTipCheckout)

			r.Get("/earnings", s.handleEarnings)
			r.Get("/sales", s.handleSales)
			r.Get("/payouts", s.handleListPayouts)
			r.Get("/payouts/{id}", s.handleGetPayout)
			r.Post("/payouts", s.handleRequestPayout)

			r.Post("/connect/account", s.handleConnectAccount)
			r.Get("/connect/status", s.handleConnectStatus)
			r.Get("/connect/login-link", s.handleConnectLoginLink)
		})
	})

	return r
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,PUT,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type")
		w.Header().Set("Access-Control-Max-Age", "86400")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStripeWebhook is the reconciliation entry point. A 2xx tells
// the provider the event is settled; 4xx rejects it; anything else gets
// redelivered.
func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if s.cfg.StripeWebhookSecret == "" {
		respondError(w, http.StatusInternalServerError, errors.New("stripe webhook not configured"))
		return
	}
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	sigHeader := r.Header.Get("Stripe-Signature")
	if err := s.rec.Handle(r.Context(), payload, sigHeader); err != nil {
		switch {
		case errors.Is(err, reconciler.ErrBadSignature), errors.Is(err, reconciler.ErrMalformed):
			respondError(w, http.StatusBadRequest, err)
		default:
			respondError(w, http.StatusInternalServerError, err)
		}
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"received": true})
}

type creatorProfile struct {
	ID                     int64  `json:"id"`
	Username               string `json:"username"`
	DisplayName            string `json:"display_name"`
	SubscriptionPriceCents int64  `json:"subscription_price_cents"`
}

func (s *Server) handleGetCreator(w http.ResponseWriter, r *http.Request) {
	creator, err := s.store.GetCreatorByUsername(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, creatorProfile{
		ID:                     creator.ID,
		Username:               creator.Username,
		DisplayName:            creator.DisplayName,
		SubscriptionPriceCents: creator.SubscriptionPriceCents,
	})
}

// postView is a content item shaped for one viewer. Blurred items omit
// the asset URL; a blurred premium item carries its unlock price.
type postView struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	MediaType   string `json:"media_type"`
	MediaURL    string `json:"media_url,omitempty"`
	IsPremium   bool   `json:"is_premium"`
	PriceCents  int64  `json:"price_cents,omitempty"`
	CanView     bool   `json:"can_view"`
	ShouldBlur  bool   `json:"should_blur"`
}

func buildPostView(item models.ContentItem, d access.Decision) postView {
	view := postView{
		ID:          item.ID,
		Title:       item.Title,
		Description: item.Description,
		MediaType:   item.MediaType,
		IsPremium:   item.IsPremium,
		CanView:     d.CanView,
		ShouldBlur:  d.ShouldBlur,
	}
	if d.CanView {
		view.MediaURL = item.MediaURL
	}
	if d.ShouldBlur && item.IsPremium {
		view.PriceCents = item.PriceCents
	}
	return view
}

func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	creator, err := s.store.GetCreatorByUsername(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	viewerID := getUserIDFromContext(r.Context())
	facts, err := s.evaluator.FactsFor(r.Context(), viewerID, creator)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	limit, offset := parseLimitOffset(r)
	items, err := s.store.ListPublishedContent(r.Context(), creator.ID, facts.IsOwner, limit, offset)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	views := make([]postView, 0, len(items))
	for _, item := range items {
		views = append(views, buildPostView(item, access.Evaluate(item, facts)))
	}
	respondJSON(w, http.StatusOK, map[string]any{"posts": views})
}

func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	item, err := s.store.GetContentItem(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	creator, err := s.store.GetCreator(r.Context(), item.CreatorID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	facts, err := s.evaluator.FactsFor(r.Context(), getUserIDFromContext(r.Context()), creator)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if !item.Published && !facts.IsOwner {
		respondError(w, http.StatusNotFound, ledger.ErrNotFound)
		return
	}
	respondJSON(w, http.StatusOK, buildPostView(item, access.Evaluate(item, facts)))
}

type createCreatorRequest struct {
	Username               string `json:"username"`
	DisplayName            string `json:"display_name"`
	Email                  string `json:"email"`
	SubscriptionPriceCents int64  `json:"subscription_price_cents"`
}

func (s *Server) handleCreateCreator(w http.ResponseWriter, r *http.Request) {
	var req createCreatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	creator, err := s.store.CreateCreator(r.Context(), models.Creator{
		UserID:                 getUserIDFromContext(r.Context()),
		Username:               req.Username,
		DisplayName:            req.DisplayName,
		Email:                  req.Email,
		SubscriptionPriceCents: req.SubscriptionPriceCents,
		CommissionRateBps:      s.cfg.CommissionRateBps,
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, creator)
}

// handleDeactivateCreator soft-deactivates the viewer's creator profile.
// Financial history stays; the profile just stops resolving publicly.
func (s *Server) handleDeactivateCreator(w http.ResponseWriter, r *http.Request) {
	creator, err := s.creatorForViewer(w, r)
	if err != nil {
		return
	}
	if err := s.store.DeactivateCreator(r.Context(), creator.ID); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"deactivated": true})
}

type createPostRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	MediaURL    string `json:"media_url"`
	MediaType   string `json:"media_type"`
	PriceCents  int64  `json:"price_cents"`
	IsPremium   bool   `json:"is_premium"`
	Publish     bool   `json:"publish"`
}

func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	creator, err := s.creatorForViewer(w, r)
	if err != nil {
		return
	}
	var req createPostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	mediaType := req.MediaType
	if mediaType == "" {
		mediaType = models.MediaTypeImage
	}
	item, err := s.store.CreateContentItem(r.Context(), models.ContentItem{
		CreatorID:   creator.ID,
		Title:       req.Title,
		Description: req.Description,
		MediaURL:    req.MediaURL,
		MediaType:   mediaType,
		PriceCents:  req.PriceCents,
		IsPremium:   req.IsPremium,
		Published:   req.Publish,
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, item)
}

func (s *Server) handleSetPayoutSchedule(w http.ResponseWriter, r *http.Request) {
	creator, err := s.creatorForViewer(w, r)
	if err != nil {
		return
	}
	var req struct {
		Schedule string `json:"schedule"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	switch req.Schedule {
	case models.PayoutScheduleDaily, models.PayoutScheduleWeekly, models.PayoutScheduleMonthly:
	default:
		respondError(w, http.StatusBadRequest, errors.New("invalid payout schedule"))
		return
	}
	if err := s.store.SetPayoutSchedule(r.Context(), creator.ID, req.Schedule); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"payout_schedule": req.Schedule})
}

type checkoutURLs struct {
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

func (s *Server) checkoutURLs(in checkoutURLs) checkoutURLs {
	if in.SuccessURL == "" {
		in.SuccessURL = s.cfg.AppBaseURL + "/checkout/success"
	}
	if in.CancelURL == "" {
		in.CancelURL = s.cfg.AppBaseURL + "/checkout/cancel"
	}
	return in
}

type subscriptionCheckoutRequest struct {
	Username string `json:"username"`
	checkoutURLs
}

func (s *Server) handleSubscriptionCheckout(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())
	var req subscriptionCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	creator, err := s.store.GetCreatorByUsername(r.Context(), req.Username)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	fanID := getUserIDFromContext(r.Context())
	if fanID == creator.UserID {
		respondError(w, http.StatusBadRequest, errors.New("cannot subscribe to yourself"))
		return
	}
	if creator.SubscriptionPriceCents <= 0 {
		respondError(w, http.StatusBadRequest, errors.New("creator has no subscription price"))
		return
	}
	active, err := s.store.HasActiveSubscription(r.Context(), fanID, creator.ID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if active {
		respondError(w, http.StatusConflict, errors.New("already subscribed"))
		return
	}

	urls := s.checkoutURLs(req.checkoutURLs)
	sess, err := s.gateway.CreateSubscriptionCheckout(r.Context(), stripegw.SubscriptionCheckout{
		FanID:       fanID,
		CreatorID:   creator.ID,
		CreatorName: creator.DisplayName,
		PriceCents:  creator.SubscriptionPriceCents,
		SuccessURL:  urls.SuccessURL,
		CancelURL:   urls.CancelURL,
	})
	if err != nil {
		log.Printf("[ERROR] [%s] Failed to create subscription checkout: %v", reqID, err)
		respondError(w, http.StatusBadGateway, err)
		return
	}
	log.Printf("[INFO] [%s] Subscription checkout created: session=%s creator=%d", reqID, sess.ID, creator.ID)
	respondJSON(w, http.StatusCreated, map[string]string{
		"stripe_session": sess.ID,
		"checkout_url":   sess.URL,
	})
}

type purchaseCheckoutRequest struct {
	ContentID int64 `json:"content_id"`
	checkoutURLs
}

func (s *Server) handlePurchaseCheckout(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())
	var req purchaseCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	item, err := s.store.GetContentItem(r.Context(), req.ContentID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if !item.IsPremium || !item.Published {
		respondError(w, http.StatusBadRequest, errors.New("content is not purchasable"))
		return
	}
	creator, err := s.store.GetCreator(r.Context(), item.CreatorID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	fanID := getUserIDFromContext(r.Context())
	if fanID == creator.UserID {
		respondError(w, http.StatusBadRequest, errors.New("cannot purchase your own content"))
		return
	}
	purchased, err := s.store.HasCompletedPurchase(r.Context(), fanID, item.ID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if purchased {
		respondError(w, http.StatusConflict, errors.New("already purchased"))
		return
	}

	urls := s.checkoutURLs(req.checkoutURLs)
	sess, err := s.gateway.CreatePaymentCheckout(r.Context(), stripegw.PaymentCheckout{
		Type:        stripegw.CheckoutTypePurchase,
		FanID:       fanID,
		CreatorID:   creator.ID,
		ContentID:   item.ID,
		Description: "Unlock: " + item.Title,
		AmountCents: item.PriceCents,
		SuccessURL:  urls.SuccessURL,
		CancelURL:   urls.CancelURL,
	})
	if err != nil {
		log.Printf("[ERROR] [%s] Failed to create purchase checkout: %v", reqID, err)
		respondError(w, http.StatusBadGateway, err)
		return
	}

	commission, creatorNet := revenue.Split(item.PriceCents, creator.CommissionRateBps)
	purchase, err := s.store.CreatePendingPurchase(r.Context(), models.Purchase{
		FanID:           fanID,
		ContentID:       item.ID,
		CreatorID:       creator.ID,
		Gross:           item.PriceCents,
		Commission:      commission,
		CreatorNet:      creatorNet,
		StripeSessionID: sess.ID,
	})
	if err != nil {
		log.Printf("[ERROR] [%s] Failed to record pending purchase for session %s: %v", reqID, sess.ID, err)
		respondStoreError(w, err)
		return
	}
	log.Printf("[INFO] [%s] Purchase checkout created: session=%s purchase=%d", reqID, sess.ID, purchase.ID)
	respondJSON(w, http.StatusCreated, map[string]any{
		"purchase_id":    purchase.ID,
		"stripe_session": sess.ID,
		"checkout_url":   sess.URL,
	})
}

type tipCheckoutRequest struct {
	Username       string `json:"username"`
	AmountCents    int64  `json:"amount_cents"`
	ConversationID string `json:"conversation_id"`
	checkoutURLs
}

func (s *Server) handleTipCheckout(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())
	var req tipCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.AmountCents < s.cfg.MinTipCents {
		respondError(w, http.StatusBadRequest,
			fmt.Errorf("tip must be at least %d cents", s.cfg.MinTipCents))
		return
	}
	creator, err := s.store.GetCreatorByUsername(r.Context(), req.Username)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	fanID := getUserIDFromContext(r.Context())
	if fanID == creator.UserID {
		respondError(w, http.StatusBadRequest, errors.New("cannot tip yourself"))
		return
	}

	urls := s.checkoutURLs(req.checkoutURLs)
	sess, err := s.gateway.CreatePaymentCheckout(r.Context(), stripegw.PaymentCheckout{
		Type:        stripegw.CheckoutTypeTip,
		FanID:       fanID,
		CreatorID:   creator.ID,
		Description: "Tip for " + creator.DisplayName,
		AmountCents: req.AmountCents,
		SuccessURL:  urls.SuccessURL,
		CancelURL:   urls.CancelURL,
	})
	if err != nil {
		log.Printf("[ERROR] [%s] Failed to create tip checkout: %v", reqID, err)
		respondError(w, http.StatusBadGateway, err)
		return
	}

	commission, creatorNet := revenue.Split(req.AmountCents, creator.CommissionRateBps)
	tip, err := s.store.CreatePendingTip(r.Context(), models.Tip{
		ConversationID:  req.ConversationID,
		FanID:           fanID,
		CreatorID:       creator.ID,
		Gross:           req.AmountCents,
		Commission:      commission,
		CreatorNet:      creatorNet,
		StripeSessionID: sess.ID,
	})
	if err != nil {
		log.Printf("[ERROR] [%s] Failed to record pending tip for session %s: %v", reqID, sess.ID, err)
		respondStoreError(w, err)
		return
	}
	log.Printf("[INFO] [%s] Tip checkout created: session=%s tip=%d", reqID, sess.ID, tip.ID)
	respondJSON(w, http.StatusCreated, map[string]any{
		"tip_id":         tip.ID,
		"stripe_session": sess.ID,
		"checkout_url":   sess.URL,
	})
}

// creatorForViewer resolves the authenticated viewer's creator profile,
// writing the error response itself on failure.
func (s *Server) creatorForViewer(w http.ResponseWriter, r *http.Request) (models.Creator, error) {
	creator, err := s.store.GetCreatorByUserID(r.Context(), getUserIDFromContext(r.Context()))
	if errors.Is(err, ledger.ErrNotFound) {
		respondError(w, http.StatusForbidden, errors.New("not a creator"))
		return models.Creator{}, err
	}
	if err != nil {
		respondStoreError(w, err)
		return models.Creator{}, err
	}
	return creator, nil
}

func (s *Server) handleEarnings(w http.ResponseWriter, r *http.Request) {
	creator, err := s.creatorForViewer(w, r)
	if err != nil {
		return
	}
	summary, err := s.store.EarningsSummary(r.Context(), creator.ID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (s *Server) handleSales(w http.ResponseWriter, r *http.Request) {
	creator, err := s.creatorForViewer(w, r)
	if err != nil {
		return
	}
	limit, offset := parseLimitOffset(r)
	sales, err := s.store.ListSales(r.Context(), creator.ID, limit, offset)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"sales": sales})
}

func (s *Server) handleListPayouts(w http.ResponseWriter, r *http.Request) {
	creator, err := s.creatorForViewer(w, r)
	if err != nil {
		return
	}
	limit, offset := parseLimitOffset(r)
	payouts, err := s.store.ListPayouts(r.Context(), creator.ID, limit, offset)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	available, err := s.store.AvailableBalance(r.Context(), creator.ID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"available_cents": available,
		"payouts":         payouts,
	})
}

func (s *Server) handleGetPayout(w http.ResponseWriter, r *http.Request) {
	creator, err := s.creatorForViewer(w, r)
	if err != nil {
		return
	}
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	p, err := s.store.GetPayout(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if p.CreatorID != creator.ID {
		respondError(w, http.StatusNotFound, ledger.ErrNotFound)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

type requestPayoutRequest struct {
	AmountCents int64 `json:"amount_cents"`
}

func (s *Server) handleRequestPayout(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())
	creator, err := s.creatorForViewer(w, r)
	if err != nil {
		return
	}
	var req requestPayoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	p, err := s.payouts.Request(r.Context(), creator, req.AmountCents)
	if err != nil {
		switch {
		case errors.Is(err, payout.ErrNotOnboarded):
			respondError(w, http.StatusConflict, err)
		case errors.Is(err, payout.ErrBelowMinimum), errors.Is(err, payout.ErrInsufficientBalance):
			respondError(w, http.StatusBadRequest, err)
		case errors.Is(err, payout.ErrTransferFailed):
			respondError(w, http.StatusBadGateway, err)
		default:
			respondStoreError(w, err)
		}
		return
	}
	log.Printf("[INFO] [%s] Payout requested: id=%d creator=%d amount=%d", reqID, p.ID, creator.ID, p.Amount)
	respondJSON(w, http.StatusCreated, p)
}

func (s *Server) handleConnectAccount(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())
	creator, err := s.creatorForViewer(w, r)
	if err != nil {
		return
	}
	accountID := creator.StripeAccountID
	if accountID == "" {
		accountID, err = s.gateway.CreateExpressAccount(r.Context(), creator.Email)
		if err != nil {
			log.Printf("[ERROR] [%s] Failed to create connect account: %v", reqID, err)
			respondError(w, http.StatusBadGateway, err)
			return
		}
		if err := s.store.SetStripeAccount(r.Context(), creator.ID, accountID); err != nil {
			respondStoreError(w, err)
			return
		}
		log.Printf("[INFO] [%s] Connect account created: creator=%d account=%s", reqID, creator.ID, accountID)
	}
	onboardingURL, err := s.gateway.CreateAccountLink(r.Context(), accountID,
		s.cfg.AppBaseURL+"/connect/refresh", s.cfg.AppBaseURL+"/connect/return")
	if err != nil {
		log.Printf("[ERROR] [%s] Failed to create account link: %v", reqID, err)
		respondError(w, http.StatusBadGateway, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{
		"account_id":     accountID,
		"onboarding_url": onboardingURL,
	})
}

func (s *Server) handleConnectStatus(w http.ResponseWriter, r *http.Request) {
	creator, err := s.creatorForViewer(w, r)
	if err != nil {
		return
	}
	if creator.StripeAccountID == "" {
		respondJSON(w, http.StatusOK, map[string]any{"onboarding_complete": false})
		return
	}
	status, err := s.gateway.GetAccountStatus(r.Context(), creator.StripeAccountID)
	if err != nil {
		respondError(w, http.StatusBadGateway, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"onboarding_complete": creator.OnboardingComplete,
		"account":             status,
	})
}

func (s *Server) handleConnectLoginLink(w http.ResponseWriter, r *http.Request) {
	creator, err := s.creatorForViewer(w, r)
	if err != nil {
		return
	}
	if creator.StripeAccountID == "" || !creator.OnboardingComplete {
		respondError(w, http.StatusConflict, errors.New("payout onboarding not complete"))
		return
	}
	url, err := s.gateway.CreateLoginLink(r.Context(), creator.StripeAccountID)
	if err != nil {
		respondError(w, http.StatusBadGateway, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"login_url": url})
}

func parseLimitOffset(r *http.Request) (int, int) {
	limit := 50
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}
