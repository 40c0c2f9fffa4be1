// Package llm calls the text-generation providers (Ollama locally, Groq
// hosted). Both speak a chat-completions shape; the client normalizes
// them behind a single Generate method.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ghostwriter/ghostwriter-api/internal/domain"
	"github.com/ghostwriter/ghostwriter-api/internal/infra/resilience"
)

var tracer = otel.Tracer("llm")

// Provider names accepted by NewClient.
const (
	ProviderOllama = "ollama"
	ProviderGroq   = "groq"
)

// Client is the HTTP client for the configured LLM provider.
type Client struct {
	httpClient *http.Client
	provider   string
	ollamaURL  string
	groqURL    string
	groqAPIKey string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	logger     *zap.Logger
}

// NewClient creates a Client for the given provider.
func NewClient(httpClient *http.Client, provider, ollamaURL, groqURL, groqAPIKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		provider:   provider,
		ollamaURL:  ollamaURL,
		groqURL:    groqURL,
		groqAPIKey: groqAPIKey,
		cb:         cb,
		cfg:        cfg,
		logger:     logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generate sends one prompt to the provider and returns the completion
// text. Retries and the circuit breaker wrap the whole call; a cancelled
// ctx aborts immediately.
func (c *Client) Generate(ctx context.Context, prompt, systemPrompt, model string) (string, error) {
	ctx, span := tracer.Start(ctx, "LLMClient.Generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", c.provider),
		attribute.String("llm.model", model),
	)

	messages := []chatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt},
	}

	var content string
	result, err := c.cb.Execute(func() (any, error) {
		innerErr := resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			var err error
			switch c.provider {
			case ProviderGroq:
				content, err = c.generateGroq(ctx, messages, model)
			default:
				content, err = c.generateOllama(ctx, messages, model)
			}
			return err
		})
		if innerErr != nil {
			return nil, innerErr
		}
		return content, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", &domain.ErrCircuitOpen{Service: "llm"}
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return "", &domain.ErrTimeout{Operation: "llm generate"}
		}
		return "", &domain.ErrExternalService{Service: "llm", Err: err}
	}

	return result.(string), nil
}

func (c *Client) generateOllama(ctx context.Context, messages []chatMessage, model string) (string, error) {
	reqBody := map[string]any{
		"model":    model,
		"messages": messages,
		"stream":   false,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/api/chat", c.ollamaURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	var out struct {
		Message chatMessage `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Message.Content, nil
}

func (c *Client) generateGroq(ctx context.Context, messages []chatMessage, model string) (string, error) {
	reqBody := map[string]any{
		"model":    model,
		"messages": messages,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/chat/completions", c.groqURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.groqAPIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("groq returned status %d", resp.StatusCode)
	}

	var out struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("groq returned no choices")
	}
	return out.Choices[0].Message.Content, nil
}
