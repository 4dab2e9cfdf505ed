// Package oracle is the boundary to the external decision source: the
// Anthropic Messages client, prompt rendering, reply parsing and the retry
// controller that shields the turn from transient failures.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/allannapier/gangsofclaude-sub000/internal/config"
)

const (
	apiURL     = "https://api.anthropic.com/v1/messages"
	apiVersion = "2023-06-01"
)

var (
	// ErrRateLimited marks a reply refused because of rate limiting or overload.
	ErrRateLimited = errors.New("oracle rate limited")
	// ErrDisconnected marks a request whose connection dropped mid-flight.
	ErrDisconnected = errors.New("oracle disconnected")
	// ErrNotConfigured is returned when no API key is set.
	ErrNotConfigured = errors.New("oracle client not configured")
)

// Oracle produces a raw decision reply for a request.
type Oracle interface {
	Decide(ctx context.Context, req *Request) (string, error)
}

// Client wraps the Anthropic Messages API.
type Client struct {
	apiKey     string
	model      string
	maxTokens  int
	url        string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a Messages API client.
// Returns nil if no API key is configured.
func NewClient(cfg config.Oracle) *Client {
	if cfg.APIKey == "" {
		return nil
	}
	perMin := cfg.CallsPerMinute
	if perMin <= 0 {
		perMin = 20
	}
	return &Client{
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		url:        apiURL,
		httpClient: &http.Client{},
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMin)), 1),
	}
}

// Enabled returns true if the client has a valid API key.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
}

type response struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Decide renders the request's context and asks the model for a decision.
func (c *Client) Decide(ctx context.Context, req *Request) (string, error) {
	system, user := RenderPrompt(req.Context)
	return c.Complete(ctx, system, user)
}

// Complete sends a prompt and returns the response text. Overload statuses
// (429, 503, 529) are reported as ErrRateLimited; a dropped connection as
// ErrDisconnected.
func (c *Client) Complete(ctx context.Context, system, userPrompt string) (string, error) {
	if !c.Enabled() {
		return "", ErrNotConfigured
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRateLimited, err)
	}

	body, err := json.Marshal(request{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    system,
		Messages:  []Message{{Role: "user", Content: userPrompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrDisconnected, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, 529:
		return "", fmt.Errorf("%w: API error %d: %s", ErrRateLimited, resp.StatusCode, respBody)
	default:
		return "", fmt.Errorf("API error %d: %s", resp.StatusCode, respBody)
	}

	var apiResp response
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if len(apiResp.Content) == 0 {
		return "", fmt.Errorf("empty response")
	}

	slog.Debug("oracle call",
		"input_tokens", apiResp.Usage.InputTokens,
		"output_tokens", apiResp.Usage.OutputTokens,
	)
	return apiResp.Content[0].Text, nil
}

// Offline stands in when no API key is configured: every family waits.
type Offline struct{}

// Decide always replies with wait.
func (Offline) Decide(context.Context, *Request) (string, error) {
	return `{"action":"wait","reasoning":"no oracle configured"}`, nil
}
