package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ghostwriter/ghostwriter-api/internal/catalog"
	"github.com/ghostwriter/ghostwriter-api/internal/domain"
	"github.com/ghostwriter/ghostwriter-api/internal/handler"
	"github.com/ghostwriter/ghostwriter-api/internal/infra/cache"
	"github.com/ghostwriter/ghostwriter-api/internal/infra/observability"
	"github.com/ghostwriter/ghostwriter-api/internal/infra/payment"
	"github.com/ghostwriter/ghostwriter-api/internal/infra/sqlite"
	"github.com/ghostwriter/ghostwriter-api/internal/service"
)

const testWebhookSecret = "whsec_test"

type stubLLM struct{}

func (stubLLM) Generate(ctx context.Context, prompt, systemPrompt, model string) (string, error) {
	if strings.Contains(prompt, "story outline") {
		return `{"title":"Test Story","chapters":[{"title":"One","synopsis":"Things begin."}]}`, nil
	}
	return "Generated prose of respectable length.", nil
}

type stubCheckout struct{}

func (stubCheckout) CreateCheckoutSession(ctx context.Context, email, packID, packName string, priceCents, credits int64) (*domain.CheckoutSession, error) {
	return &domain.CheckoutSession{SessionID: "cs_test", CheckoutURL: "https://pay.example/cs_test"}, nil
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	store, err := sqlite.Open(":memory:", zap.NewNop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	cat := catalog.Default()

	creditSvc := service.NewCreditService(store, store, cat, metrics, logger)
	authSvc := service.NewAuthService(store, store, "test-secret", 15*time.Minute, 7*24*time.Hour, logger)
	genSvc := service.NewGenerationService(store, creditSvc, stubLLM{}, service.Models{
		Creative:   "test-creative",
		Structured: "test-structured",
		Biography:  "test-biography",
	}, 2, 30*time.Second, cache.New[*domain.Story](time.Minute), metrics, logger)
	billingSvc := service.NewBillingService(stubCheckout{}, cat, logger)

	return handler.NewRouter(authSvc, creditSvc, genSvc, billingSvc, store, testWebhookSecret, metrics, logger)
}

func doJSON(t *testing.T, router http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func signup(t *testing.T, router http.Handler, email string) *domain.TokenResponse {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/v1/auth/signup", "", domain.SignupRequest{
		Email:    email,
		Password: "correct-horse-battery",
		FullName: "Test Author",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup returned %d: %s", rec.Code, rec.Body.String())
	}
	var resp domain.TokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode signup response: %v", err)
	}
	return &resp
}

// deliverWebhook posts a signed checkout.session.completed event.
func deliverWebhook(t *testing.T, router http.Handler, eventID, email, packID string, credits int64) *httptest.ResponseRecorder {
	t.Helper()
	payload := []byte(fmt.Sprintf(`{
		"id": %q,
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_%s",
			"mode": "payment",
			"customer_email": %q,
			"metadata": {"pack_id": %q, "credits": "%d"}
		}}
	}`, eventID, eventID, email, packID, credits))

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/payment", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", payment.SignPayload(payload, testWebhookSecret, time.Now()))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestReadyz(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestAuthFlow(t *testing.T) {
	router := newTestRouter(t)
	tokens := signup(t, router, "flow@example.com")

	// Me with the access token.
	rec := doJSON(t, router, http.MethodGet, "/v1/auth/me", tokens.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("me returned %d: %s", rec.Code, rec.Body.String())
	}
	var acc domain.Account
	if err := json.Unmarshal(rec.Body.Bytes(), &acc); err != nil {
		t.Fatalf("decode account: %v", err)
	}
	if acc.Email != "flow@example.com" {
		t.Errorf("email = %q", acc.Email)
	}

	// No token -> 401.
	rec = doJSON(t, router, http.MethodGet, "/v1/auth/me", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("me without token returned %d, want 401", rec.Code)
	}

	// Refresh rotates the pair.
	rec = doJSON(t, router, http.MethodPost, "/v1/auth/refresh", "", domain.RefreshRequest{RefreshToken: tokens.RefreshToken})
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh returned %d: %s", rec.Code, rec.Body.String())
	}

	// The old refresh token is revoked now.
	rec = doJSON(t, router, http.MethodPost, "/v1/auth/refresh", "", domain.RefreshRequest{RefreshToken: tokens.RefreshToken})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("reused refresh token returned %d, want 401", rec.Code)
	}
}

func TestDuplicateSignupConflicts(t *testing.T) {
	router := newTestRouter(t)
	signup(t, router, "dup@example.com")

	rec := doJSON(t, router, http.MethodPost, "/v1/auth/signup", "", domain.SignupRequest{
		Email:    "dup@example.com",
		Password: "another-password",
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate signup returned %d, want 409", rec.Code)
	}
}

func TestWebhookAppliesOnceAcrossRedeliveries(t *testing.T) {
	router := newTestRouter(t)
	tokens := signup(t, router, "buyer@example.com")

	for i := 0; i < 3; i++ {
		rec := deliverWebhook(t, router, "evt_pack", "buyer@example.com", "starter", 100)
		if rec.Code != http.StatusOK {
			t.Fatalf("delivery %d returned %d: %s", i+1, rec.Code, rec.Body.String())
		}
	}

	rec := doJSON(t, router, http.MethodGet, "/v1/credits/balance", tokens.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("balance returned %d", rec.Code)
	}
	var balance domain.BalanceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &balance); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	if balance.CreditsBalance != 100 {
		t.Errorf("balance = %d, want 100 after redeliveries", balance.CreditsBalance)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	router := newTestRouter(t)
	payload := []byte(`{"id":"evt_forged","type":"checkout.session.completed"}`)

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/payment", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", payment.SignPayload(payload, "wrong-secret", time.Now()))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("forged webhook returned %d, want 400", rec.Code)
	}
}

func TestGenerateFictionEndpoint(t *testing.T) {
	router := newTestRouter(t)
	tokens := signup(t, router, "writer@example.com")
	deliverWebhook(t, router, "evt_fund", "writer@example.com", "starter", 100)

	rec := doJSON(t, router, http.MethodPost, "/v1/generate/fiction", tokens.AccessToken, domain.FictionRequest{
		Premise:     "A librarian discovers the card catalog is sentient",
		StoryLength: domain.FictionNovella,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("generate returned %d: %s", rec.Code, rec.Body.String())
	}
	var resp domain.GenerationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.CreditsRemaining != 50 {
		t.Errorf("credits_remaining = %d, want 50", resp.CreditsRemaining)
	}
	if resp.Story.Status != domain.GenerationComplete {
		t.Errorf("story status = %s", resp.Story.Status)
	}

	// The story shows up in the list.
	rec = doJSON(t, router, http.MethodGet, "/v1/stories", tokens.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list stories returned %d", rec.Code)
	}
	var list struct {
		Stories []domain.Story `json:"stories"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Stories) != 1 {
		t.Errorf("stories = %d, want 1", len(list.Stories))
	}
}

func TestGenerateFictionInsufficientCredits(t *testing.T) {
	router := newTestRouter(t)
	tokens := signup(t, router, "broke@example.com")

	rec := doJSON(t, router, http.MethodPost, "/v1/generate/fiction", tokens.AccessToken, domain.FictionRequest{
		Premise:     "A story nobody can afford",
		StoryLength: domain.FictionNovel,
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestStoriesAreScopedToTheAccount(t *testing.T) {
	router := newTestRouter(t)
	owner := signup(t, router, "owner@example.com")
	deliverWebhook(t, router, "evt_owner", "owner@example.com", "starter", 100)

	rec := doJSON(t, router, http.MethodPost, "/v1/generate/fiction", owner.AccessToken, domain.FictionRequest{
		Premise:     "A private story",
		StoryLength: domain.FictionNovella,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("generate returned %d", rec.Code)
	}
	var resp domain.GenerationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	intruder := signup(t, router, "intruder@example.com")
	rec = doJSON(t, router, http.MethodGet, "/v1/stories/"+resp.Story.ID, intruder.AccessToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("foreign story returned %d, want 404", rec.Code)
	}
}

func TestCheckoutSession(t *testing.T) {
	router := newTestRouter(t)
	tokens := signup(t, router, "shopper@example.com")

	rec := doJSON(t, router, http.MethodPost, "/v1/credits/checkout", tokens.AccessToken, domain.CheckoutRequest{PackID: "starter"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout returned %d: %s", rec.Code, rec.Body.String())
	}
	var session domain.CheckoutSession
	if err := json.Unmarshal(rec.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if session.CheckoutURL == "" {
		t.Error("checkout URL is empty")
	}

	// Unknown pack is a validation error.
	rec = doJSON(t, router, http.MethodPost, "/v1/credits/checkout", tokens.AccessToken, domain.CheckoutRequest{PackID: "nonexistent"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown pack returned %d, want 400", rec.Code)
	}
}

func TestPacksArePublic(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/v1/credits/packs", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("packs returned %d", rec.Code)
	}
	var body struct {
		Packs []domain.PackInfo `json:"packs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode packs: %v", err)
	}
	if len(body.Packs) == 0 {
		t.Error("no packs returned")
	}
}
