package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var (
	// ErrNotConfigured is returned when AI_BASE_URL is empty.
	ErrNotConfigured = errors.New("ai provider not configured")
	// ErrRateLimited is returned when the local request budget is spent.
	ErrRateLimited = errors.New("ai request budget exhausted")
	// ErrUpstream wraps non-2xx answers from the provider.
	ErrUpstream = errors.New("ai provider error")
)

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content" validate:"required,max=20000"`
}

// Usage reports token counts when the provider returns them.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResult is the first choice of a completion.
type ChatResult struct {
	Model   string      `json:"model"`
	Message ChatMessage `json:"message"`
	Usage   *Usage      `json:"usage,omitempty"`
}

type completionRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
}

type completionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logrus.Logger
}

// NewClient creates a client allowing requestsPerMinute upstream calls,
// with bursts up to the same number.
func NewClient(baseURL, apiKey, model string, requestsPerMinute int) *Client {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	if requestsPerMinute <= 0 {
		requestsPerMinute = 1
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), requestsPerMinute),
		logger:  logger,
	}
}

// SetOutput redirects the client's logs.
func (c *Client) SetOutput(w io.Writer) {
	c.logger.SetOutput(w)
}

// Configured reports whether a provider URL is set.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

// Model is the default model name.
func (c *Client) Model() string {
	return c.model
}

// Chat sends messages and returns the first choice. model overrides the
// default when non-empty.
func (c *Client) Chat(ctx context.Context, model string, messages []ChatMessage) (*ChatResult, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if !c.limiter.Allow() {
		return nil, ErrRateLimited
	}
	if model == "" {
		model = c.model
	}

	jsonData, err := json.Marshal(completionRequest{Model: model, Messages: messages})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"model":         model,
		"message_count": len(messages),
	}).Info("Sending chat completion request")

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"body":   truncate(string(body), 512),
		}).Warn("Chat completion request failed")
		return nil, fmt.Errorf("%w: status=%d", ErrUpstream, resp.StatusCode)
	}

	var out completionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response: %v", ErrUpstream, err)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", ErrUpstream)
	}
	if out.Model == "" {
		out.Model = model
	}

	c.logger.WithFields(logrus.Fields{
		"model":    out.Model,
		"duration": time.Since(start).String(),
	}).Info("Chat completion finished")

	return &ChatResult{Model: out.Model, Message: out.Choices[0].Message, Usage: out.Usage}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
