// Package payment integrates with the Stripe HTTP API: hosted checkout
// sessions on the way out, signed webhook events on the way back.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ghostwriter/ghostwriter-api/internal/domain"
	"github.com/ghostwriter/ghostwriter-api/internal/infra/resilience"
)

var tracer = otel.Tracer("payment")

// Client talks to the payment processor's REST API.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	secretKey   string
	frontendURL string
	cb          *gobreaker.CircuitBreaker
	cfg         resilience.Config
	logger      *zap.Logger
}

// NewClient creates a payment Client.
func NewClient(httpClient *http.Client, baseURL, secretKey, frontendURL string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient:  httpClient,
		baseURL:     baseURL,
		secretKey:   secretKey,
		frontendURL: frontendURL,
		cb:          cb,
		cfg:         cfg,
		logger:      logger,
	}
}

// CreateCheckoutSession creates a hosted checkout session for one credit
// pack. Pack id and credit amount travel in the session metadata and come
// back on the webhook, so fulfillment never trusts client input.
func (c *Client) CreateCheckoutSession(ctx context.Context, email, packID, packName string, priceCents, credits int64) (*domain.CheckoutSession, error) {
	ctx, span := tracer.Start(ctx, "PaymentClient.CreateCheckoutSession")
	defer span.End()
	span.SetAttributes(
		attribute.String("pack.id", packID),
		attribute.Int64("pack.credits", credits),
	)

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("customer_email", email)
	form.Set("success_url", c.frontendURL+"/credits/success?session_id={CHECKOUT_SESSION_ID}")
	form.Set("cancel_url", c.frontendURL+"/credits/cancelled")
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", "usd")
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(priceCents, 10))
	form.Set("line_items[0][price_data][product_data][name]", packName)
	form.Set("metadata[pack_id]", packID)
	form.Set("metadata[credits]", strconv.FormatInt(credits, 10))

	var session domain.CheckoutSession
	result, err := c.cb.Execute(func() (any, error) {
		innerErr := resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			endpoint := fmt.Sprintf("%s/v1/checkout/sessions", c.baseURL)
			httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
			if err != nil {
				return err
			}
			httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			httpReq.SetBasicAuth(c.secretKey, "")

			resp, err := c.httpClient.Do(httpReq)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
				return fmt.Errorf("payment API returned status %d: %s", resp.StatusCode, body)
			}

			var out struct {
				ID  string `json:"id"`
				URL string `json:"url"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				return err
			}
			session = domain.CheckoutSession{SessionID: out.ID, CheckoutURL: out.URL}
			return nil
		})
		if innerErr != nil {
			return nil, innerErr
		}
		return &session, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &domain.ErrCircuitOpen{Service: "payment"}
		}
		return nil, &domain.ErrExternalService{Service: "payment", Err: err}
	}

	return result.(*domain.CheckoutSession), nil
}

// ParseEvent decodes a verified webhook payload into a PaymentEvent.
// Only checkout.session.completed carries fulfillment data; other event
// types return a bare event with just the id and type set.
func ParseEvent(payload []byte) (*domain.PaymentEvent, error) {
	var raw struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID             string `json:"id"`
				Mode           string `json:"mode"`
				Customer       string `json:"customer"`
				CustomerEmail  string `json:"customer_email"`
				CustomerDetail struct {
					Email string `json:"email"`
				} `json:"customer_details"`
				Metadata map[string]string `json:"metadata"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, &domain.ErrValidation{Field: "payload", Message: "malformed webhook payload"}
	}
	if raw.ID == "" || raw.Type == "" {
		return nil, &domain.ErrValidation{Field: "payload", Message: "webhook payload missing id or type"}
	}

	event := &domain.PaymentEvent{
		EventID:       raw.ID,
		SessionID:     raw.Data.Object.ID,
		Type:          raw.Type,
		Mode:          raw.Data.Object.Mode,
		CustomerEmail: raw.Data.Object.CustomerEmail,
		CustomerID:    raw.Data.Object.Customer,
		PackID:        raw.Data.Object.Metadata["pack_id"],
	}
	if event.CustomerEmail == "" {
		event.CustomerEmail = raw.Data.Object.CustomerDetail.Email
	}
	if v := raw.Data.Object.Metadata["credits"]; v != "" {
		credits, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, &domain.ErrValidation{Field: "metadata.credits", Message: "credits metadata is not a number"}
		}
		event.Credits = credits
	}
	return event, nil
}
