package domain

// CheckoutRequest is the body for POST /v1/credits/checkout.
type CheckoutRequest struct {
	PackID string `json:"pack_id"`
}

// CheckoutSession is the provider-side session a purchase redirects to.
type CheckoutSession struct {
	SessionID   string `json:"session_id"`
	CheckoutURL string `json:"checkout_url"`
}

// PackInfo describes one purchasable credit pack.
type PackInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	Credits    int64  `json:"credits"`
	Bonus      int64  `json:"bonus_percent,omitempty"`
}

// ServiceHealth is one dependency's health snapshot.
type ServiceHealth struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
}

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"`
	Services []ServiceHealth `json:"services"`
}

// UsageMetrics is the aggregate snapshot for GET /v1/metrics/usage.
type UsageMetrics struct {
	TotalRequests    int64   `json:"total_requests"`
	ErrorRate        float64 `json:"error_rate"`
	PromptTokens     float64 `json:"prompt_tokens"`
	CompletionTokens float64 `json:"completion_tokens"`
	CreditsSpent     float64 `json:"credits_spent"`
	CreditsPurchased float64 `json:"credits_purchased"`
	CacheHitRate     float64 `json:"cache_hit_rate"`
	Period           string  `json:"period"`
}
