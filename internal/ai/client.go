// Package ai describes surveillance images with the Gemini vision model.
package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/vzahanych/videoloft-bridge/internal/config"
	"github.com/vzahanych/videoloft-bridge/internal/logger"
	"github.com/vzahanych/videoloft-bridge/internal/retry"
)

// AnalysisPrompt is sent with every image
const AnalysisPrompt = "Analyze this CCTV footage image with maximum detail for security purposes. " +
	"Provide a comprehensive, factual description in ONE detailed paragraph. " +
	"Include ALL observable details about people (gender, age, clothing, actions), " +
	"vehicles (make, model, color, license plates), objects, environment, " +
	"time of day, weather, and specific actions being performed. " +
	"Use specific, searchable terms. Only describe what is clearly visible. " +
	"Do not use headings, bullet points, or markdown formatting."

// ErrNotConfigured is returned when no API key is set
var ErrNotConfigured = errors.New("gemini API key not configured")

// RateLimitedError reports a provider 429; Body carries the structured
// error used to compute the retry delay
type RateLimitedError struct {
	Body []byte
}

func (e *RateLimitedError) Error() string {
	return "gemini rate limited"
}

// APIError reports any other non-200 provider response
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("gemini returned status %d: %s", e.StatusCode, body)
}

func (e *APIError) retryable() bool {
	switch e.StatusCode {
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Client is an HTTP client for the Gemini generateContent API
type Client struct {
	cfg    config.GeminiConfig
	http   *resty.Client
	logger *logger.Logger
	policy retry.Policy
}

// NewClient creates a Gemini client
func NewClient(cfg config.GeminiConfig, log *logger.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	httpClient := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")

	return &Client{
		cfg:    cfg,
		http:   httpClient,
		logger: log.Named("gemini"),
		policy: retry.Policy{
			MaxAttempts: cfg.MaxRetries + 1,
			Backoff: func(attempt int) time.Duration {
				return time.Duration(1<<uint(attempt-1)) * time.Second
			},
			Retryable: func(err error) bool {
				var apiErr *APIError
				if errors.As(err, &apiErr) {
					return apiErr.retryable()
				}
				var rl *RateLimitedError
				return !errors.As(err, &rl) && !errors.Is(err, context.Canceled)
			},
		},
	}
}

// Configured reports whether an API key is set
func (c *Client) Configured() bool {
	return c.cfg.APIKey != ""
}

// Model returns the configured model name
func (c *Client) Model() string {
	return c.cfg.Model
}

// Describe sends a JPEG image with the analysis prompt and returns the raw
// model text. Server errors are retried with exponential backoff; a 429 is
// returned immediately as RateLimitedError.
func (c *Client) Describe(ctx context.Context, image []byte) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	req := GenerateRequest{
		Contents: []Content{{
			Parts: []Part{
				{InlineData: &InlineData{MimeType: "image/jpeg", Data: base64.StdEncoding.EncodeToString(image)}},
				{Text: AnalysisPrompt},
			},
		}},
	}

	var text string
	err := c.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			c.logger.Debug("Retrying vision request", "attempt", attempt)
		}
		var err error
		text, err = c.generate(ctx, req)
		if err != nil {
			c.logger.Warn("Vision request failed", "attempt", attempt, "error", err)
		}
		return err
	})
	return text, err
}

func (c *Client) generate(ctx context.Context, req GenerateRequest) (string, error) {
	url := fmt.Sprintf("%s/models/%s:generateContent", strings.TrimRight(c.cfg.Endpoint, "/"), c.cfg.Model)

	startTime := time.Now()
	// the key travels in a header so that it never appears in logged URLs
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("x-goog-api-key", c.cfg.APIKey).
		SetBody(req).
		Post(url)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}

	switch {
	case resp.StatusCode() == http.StatusTooManyRequests:
		return "", &RateLimitedError{Body: resp.Body()}
	case resp.StatusCode() != http.StatusOK:
		return "", &APIError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}

	var parsed GenerateResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return "", retry.Stop(fmt.Errorf("failed to parse response: %w", err))
	}
	text, ok := parsed.Text()
	if !ok {
		return "", retry.Stop(errors.New("response has no candidate text"))
	}

	c.logger.Debug("Vision request completed",
		"request_duration_ms", time.Since(startTime).Milliseconds(),
		"total_tokens", parsed.UsageMetadata.TotalTokenCount,
	)
	return text, nil
}
