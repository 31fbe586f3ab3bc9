package httpapi

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"creatorpay/internal/access"
	"creatorpay/internal/config"
	"creatorpay/internal/models"
	"creatorpay/internal/reconciler"

	"github.com/golang-jwt/jwt/v5"
)

func TestParseID(t *testing.T) {
	id, err := parseID("123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 123 {
		t.Fatalf("unexpected id: %d", id)
	}
	if _, err := parseID(""); err == nil {
		t.Fatalf("expected error for empty id")
	}
	if _, err := parseID("-4"); err == nil {
		t.Fatalf("expected error for negative id")
	}
}

func TestParseLimitOffset(t *testing.T) {
	req := &http.Request{URL: &url.URL{}}
	limit, offset := parseLimitOffset(req)
	if limit != 50 || offset != 0 {
		t.Fatalf("unexpected defaults: %d %d", limit, offset)
	}

	q := url.Values{}
	q.Set("limit", "25")
	q.Set("offset", "100")
	req = &http.Request{URL: &url.URL{RawQuery: q.Encode()}}
	limit, offset = parseLimitOffset(req)
	if limit != 25 || offset != 100 {
		t.Fatalf("unexpected parsed values: %d %d", limit, offset)
	}

	q.Set("limit", "9999")
	req = &http.Request{URL: &url.URL{RawQuery: q.Encode()}}
	if limit, _ = parseLimitOffset(req); limit != 50 {
		t.Fatalf("oversized limit should fall back to default, got %d", limit)
	}
}

func TestBuildPostView(t *testing.T) {
	item := models.ContentItem{
		ID: 4, Title: "drop", MediaURL: "https://cdn.example/p4.jpg",
		MediaType: models.MediaTypeImage, IsPremium: true, PriceCents: 499,
	}

	blurred := buildPostView(item, access.Decision{CanView: false, ShouldBlur: true})
	if blurred.MediaURL != "" {
		t.Fatalf("blurred view must not leak asset URL: %+v", blurred)
	}
	if blurred.PriceCents != 499 {
		t.Fatalf("blurred premium view should carry unlock price: %+v", blurred)
	}

	visible := buildPostView(item, access.Decision{CanView: true, ShouldBlur: false})
	if visible.MediaURL != item.MediaURL {
		t.Fatalf("visible view should carry asset URL: %+v", visible)
	}
	if visible.PriceCents != 0 {
		t.Fatalf("unlocked view should not advertise a price: %+v", visible)
	}

	free := models.ContentItem{ID: 5, MediaURL: "https://cdn.example/p5.jpg"}
	freeBlurred := buildPostView(free, access.Decision{CanView: false, ShouldBlur: true})
	if freeBlurred.PriceCents != 0 {
		t.Fatalf("free content has no unlock price: %+v", freeBlurred)
	}
}

func testServer() *Server {
	cfg := config.Config{
		JWTSecretKey:        "test-secret",
		StripeWebhookSecret: "whsec_test",
	}
	rec := reconciler.New(nil, nil, cfg.StripeWebhookSecret, nil)
	return NewServer(nil, cfg, nil, rec, nil)
}

func mintToken(t *testing.T, secret, userID string) string {
	t.Helper()
	claims := JWTClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestJWTMiddleware(t *testing.T) {
	s := testServer()
	var gotUserID string
	handler := s.jwtMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = getUserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/earnings", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: expected 401, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/earnings", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: expected 401, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/earnings", nil)
	req.Header.Set("Authorization", "Bearer "+mintToken(t, "test-secret", "user-7"))
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("valid token: expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}
	if gotUserID != "user-7" {
		t.Fatalf("unexpected viewer id: %q", gotUserID)
	}
}

func TestOptionalJWTMiddlewareAllowsAnonymous(t *testing.T) {
	s := testServer()
	var gotUserID string
	handler := s.optionalJWTMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = getUserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/creators/alice/posts", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || gotUserID != "" {
		t.Fatalf("anonymous request should pass with no viewer: %d %q", rr.Code, gotUserID)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/creators/alice/posts", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || gotUserID != "" {
		t.Fatalf("bad token should degrade to anonymous: %d %q", rr.Code, gotUserID)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	s := testServer()
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe",
		nil)
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	rr := httptest.NewRecorder()
	http.HandlerFunc(s.handleStripeWebhook).ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad signature, got %d", rr.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	s := testServer()
	handler := s.corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("preflight must not reach the handler")
	}))
	req := httptest.NewRequest(http.MethodOptions, "/api/payouts", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatalf("missing CORS headers")
	}
}
