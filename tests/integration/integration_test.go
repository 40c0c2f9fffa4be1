package integration_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ghostwriter/ghostwriter-api/internal/catalog"
	"github.com/ghostwriter/ghostwriter-api/internal/domain"
	"github.com/ghostwriter/ghostwriter-api/internal/handler"
	"github.com/ghostwriter/ghostwriter-api/internal/infra/cache"
	"github.com/ghostwriter/ghostwriter-api/internal/infra/llm"
	"github.com/ghostwriter/ghostwriter-api/internal/infra/observability"
	"github.com/ghostwriter/ghostwriter-api/internal/infra/payment"
	"github.com/ghostwriter/ghostwriter-api/internal/infra/resilience"
	"github.com/ghostwriter/ghostwriter-api/internal/infra/sqlite"
	"github.com/ghostwriter/ghostwriter-api/internal/service"

	"go.uber.org/zap"
)

const webhookSecret = "whsec_integration"

// newStack wires the real clients against mock external servers and
// returns a fully routed handler.
func newStack(t *testing.T, ollamaURL, stripeURL string) http.Handler {
	t.Helper()

	store, err := sqlite.Open(":memory:", zap.NewNop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	cat := catalog.Default()
	if err := cat.Validate(); err != nil {
		t.Fatalf("catalog: %v", err)
	}

	cfg := resilience.Config{MaxRetries: 1, InitialBackoff: 10 * time.Millisecond, MaxConcurrency: 10}
	httpClient := &http.Client{Timeout: 5 * time.Second}

	llmClient := llm.NewClient(httpClient, llm.ProviderOllama, ollamaURL, "", "",
		resilience.NewCircuitBreaker("llm-integration"), cfg, logger)
	paymentClient := payment.NewClient(httpClient, stripeURL, "sk_test_integration", "http://localhost:3000",
		resilience.NewCircuitBreaker("payment-integration"), cfg, logger)

	creditSvc := service.NewCreditService(store, store, cat, metrics, logger)
	authSvc := service.NewAuthService(store, store, "integration-secret", 15*time.Minute, 7*24*time.Hour, logger)
	billingSvc := service.NewBillingService(paymentClient, cat, logger)
	genSvc := service.NewGenerationService(store, creditSvc, llmClient, service.Models{
		Creative:   "llama3.1:8b",
		Structured: "llama3.1:8b",
		Biography:  "llama3.1:8b",
	}, 2, 30*time.Second, cache.New[*domain.Story](time.Minute), metrics, logger)

	return handler.NewRouter(authSvc, creditSvc, genSvc, billingSvc, store, webhookSecret, metrics, logger)
}

// mockOllama answers /api/chat with an outline or chapter text depending
// on the prompt, mirroring the real chat response shape.
func mockOllama(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		content := "The prose arrived on schedule, which surprised everyone involved."
		if strings.Contains(string(body), "story outline") {
			content = `{"title":"The Integration","chapters":[` +
				`{"title":"Setup","synopsis":"Everything is wired together."},` +
				`{"title":"Payoff","synopsis":"It all works, somehow."}]}`
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"role": "assistant", "content": content},
		})
	}))
}

func mockStripe(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/checkout/sessions" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"id":  "cs_test_integration",
			"url": "https://checkout.stripe.test/pay/cs_test_integration",
		})
	}))
}

func do(t *testing.T, router http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// TestIntegration_PurchaseAndGenerateFlow walks the whole product loop:
// signup, checkout, webhook fulfillment, generation, extras, ledger.
func TestIntegration_PurchaseAndGenerateFlow(t *testing.T) {
	ollama := mockOllama(t)
	defer ollama.Close()
	stripe := mockStripe(t)
	defer stripe.Close()

	router := newStack(t, ollama.URL, stripe.URL)

	// --- Signup ---
	rec := do(t, router, http.MethodPost, "/v1/auth/signup", "", domain.SignupRequest{
		Email:    "integration@example.com",
		Password: "a-long-enough-password",
		FullName: "Integration Tester",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup: %d %s", rec.Code, rec.Body.String())
	}
	var tokens domain.TokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &tokens); err != nil {
		t.Fatalf("decode tokens: %v", err)
	}

	// --- Checkout session against the mock processor ---
	rec = do(t, router, http.MethodPost, "/v1/credits/checkout", tokens.AccessToken, domain.CheckoutRequest{PackID: "starter"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout: %d %s", rec.Code, rec.Body.String())
	}
	var session domain.CheckoutSession
	if err := json.Unmarshal(rec.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if session.SessionID != "cs_test_integration" {
		t.Errorf("session id = %q", session.SessionID)
	}

	// --- Webhook fulfillment, delivered twice ---
	event := []byte(`{
		"id": "evt_integration",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_test_integration",
			"mode": "payment",
			"customer_email": "integration@example.com",
			"metadata": {"pack_id": "starter", "credits": "100"}
		}}
	}`)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/payment", bytes.NewReader(event))
		req.Header.Set("Stripe-Signature", payment.SignPayload(event, webhookSecret, time.Now()))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("webhook delivery %d: %d %s", i+1, rec.Code, rec.Body.String())
		}
	}

	rec = do(t, router, http.MethodGet, "/v1/credits/balance", tokens.AccessToken, nil)
	var balance domain.BalanceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &balance); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	if balance.CreditsBalance != 100 {
		t.Fatalf("balance = %d, want 100", balance.CreditsBalance)
	}

	// --- Generate a novella through the mock model ---
	rec = do(t, router, http.MethodPost, "/v1/generate/fiction", tokens.AccessToken, domain.FictionRequest{
		Premise:     "An integration test becomes self-aware",
		StoryLength: domain.FictionNovella,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("generate: %d %s", rec.Code, rec.Body.String())
	}
	var genResp domain.GenerationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &genResp); err != nil {
		t.Fatalf("decode generation: %v", err)
	}
	if genResp.Story.Title != "The Integration" {
		t.Errorf("title = %q", genResp.Story.Title)
	}
	if genResp.CreditsRemaining != 50 {
		t.Errorf("credits_remaining = %d, want 50", genResp.CreditsRemaining)
	}

	// --- Blurb extra ---
	rec = do(t, router, http.MethodPost, "/v1/stories/"+genResp.Story.ID+"/extras", tokens.AccessToken,
		domain.ExtraRequest{ExtraType: catalog.ExtraBlurb})
	if rec.Code != http.StatusCreated {
		t.Fatalf("extra: %d %s", rec.Code, rec.Body.String())
	}
	var extraResp domain.ExtraResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &extraResp); err != nil {
		t.Fatalf("decode extra: %v", err)
	}
	if extraResp.CreditsRemaining != 45 {
		t.Errorf("credits_remaining = %d, want 45", extraResp.CreditsRemaining)
	}

	// --- Ledger shows purchase and both spends ---
	rec = do(t, router, http.MethodGet, "/v1/credits/transactions", tokens.AccessToken, nil)
	var txList struct {
		Transactions []domain.LedgerEntry `json:"transactions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &txList); err != nil {
		t.Fatalf("decode transactions: %v", err)
	}
	if len(txList.Transactions) != 3 {
		t.Errorf("ledger entries = %d, want 3", len(txList.Transactions))
	}
	var sum int64
	for _, e := range txList.Transactions {
		sum += e.Delta
	}
	if sum != balance.CreditsBalance-55 {
		t.Errorf("ledger sum = %d, want %d", sum, balance.CreditsBalance-55)
	}
}

// TestIntegration_GenerationFailureRefunds drives a generation against a
// dead model endpoint and checks the debit comes back.
func TestIntegration_GenerationFailureRefunds(t *testing.T) {
	// Model endpoint that always fails.
	brokenOllama := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer brokenOllama.Close()
	stripe := mockStripe(t)
	defer stripe.Close()

	router := newStack(t, brokenOllama.URL, stripe.URL)

	rec := do(t, router, http.MethodPost, "/v1/auth/signup", "", domain.SignupRequest{
		Email:    "refund@example.com",
		Password: "a-long-enough-password",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup: %d", rec.Code)
	}
	var tokens domain.TokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &tokens); err != nil {
		t.Fatalf("decode tokens: %v", err)
	}

	event := []byte(`{
		"id": "evt_refund_fund",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_refund",
			"mode": "payment",
			"customer_email": "refund@example.com",
			"metadata": {"pack_id": "starter", "credits": "100"}
		}}
	}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/payment", bytes.NewReader(event))
	req.Header.Set("Stripe-Signature", payment.SignPayload(event, webhookSecret, time.Now()))
	fundRec := httptest.NewRecorder()
	router.ServeHTTP(fundRec, req)
	if fundRec.Code != http.StatusOK {
		t.Fatalf("fund webhook: %d", fundRec.Code)
	}

	rec = do(t, router, http.MethodPost, "/v1/generate/fiction", tokens.AccessToken, domain.FictionRequest{
		Premise:     "A story the model refuses to write",
		StoryLength: domain.FictionNovella,
	})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("generate against dead model: %d, want 502", rec.Code)
	}

	rec = do(t, router, http.MethodGet, "/v1/credits/balance", tokens.AccessToken, nil)
	var balance domain.BalanceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &balance); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	if balance.CreditsBalance != 100 {
		t.Errorf("balance = %d, want 100 after refund", balance.CreditsBalance)
	}
}
