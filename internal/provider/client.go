package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"github.com/taskforge-ai/taskforge/internal/core"
	"github.com/taskforge-ai/taskforge/internal/logging"
)

const (
	defaultTimeout = 120 * time.Second
	defaultRetries = 3
	retryBackoff   = 2 * time.Second
)

// Client speaks the OpenAI-compatible chat completions API.
type Client struct {
	model      string
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
	maxRetries int
	backoff    time.Duration
}

// Config configures a provider client.
type Config struct {
	Model      string
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBackoff overrides the delay between retry attempts.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

// NewClient creates a chat completions client.
func NewClient(cfg Config, logger *logging.Logger, opts ...Option) (*Client, error) {
	if cfg.Model == "" {
		return nil, core.ErrValidation("MODEL_REQUIRED", "provider model cannot be empty")
	}
	if cfg.BaseURL == "" {
		return nil, core.ErrValidation("BASE_URL_REQUIRED", "provider base URL cannot be empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = defaultRetries
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	c := &Client{
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		maxRetries: retries,
		backoff:    retryBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Chat sends one completion request, retrying transient failures with a
// fixed backoff.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		resp, err := c.complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !core.IsRetryable(err) {
			return nil, err
		}
		if attempt < c.maxRetries {
			c.logger.Warn("provider request failed, retrying",
				"attempt", attempt, "max", c.maxRetries, "error", err)
			select {
			case <-time.After(c.backoff):
			case <-ctx.Done():
				return nil, core.ErrCancelled("provider request cancelled").WithCause(ctx.Err())
			}
		}
	}
	return nil, core.ErrProvider(fmt.Sprintf("provider request failed after %d attempts", c.maxRetries)).WithCause(lastErr)
}

func (c *Client) complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	wireReq := chatCompletionRequest{
		Model:       c.model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if len(req.Tools) > 0 {
		wireReq.Tools = req.Tools
		wireReq.ToolChoice = "auto"
	}

	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, core.ErrProvider("marshal request").WithCause(err)
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, core.ErrProvider("build request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.logger.Debug("provider request", "model", c.model, "messages", len(req.Messages), "tools", len(req.Tools))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, core.ErrCancelled("provider request cancelled").WithCause(ctx.Err())
		}
		return nil, retryableProviderError("http request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, retryableProviderError("read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, mapStatusError(resp.StatusCode, respBody)
	}

	var wireResp chatCompletionResponse
	if err := json.Unmarshal(respBody, &wireResp); err != nil {
		return nil, core.ErrProvider("decode response").WithCause(err)
	}
	if wireResp.Error != nil && wireResp.Error.Message != "" {
		return nil, core.ErrProvider(fmt.Sprintf("%s: %s", wireResp.Error.Type, wireResp.Error.Message))
	}
	if len(wireResp.Choices) == 0 {
		return nil, retryableProviderError("empty response", fmt.Errorf("no choices returned"))
	}

	choice := wireResp.Choices[0]
	out := &ChatResponse{
		Content:      choice.Message.Content,
		ToolCalls:    choice.Message.ToolCalls,
		FinishReason: choice.FinishReason,
		Usage:        wireResp.Usage,
	}

	c.logger.Debug("provider response",
		"finish_reason", out.FinishReason,
		"tool_calls", len(out.ToolCalls),
		"tokens", out.Usage.TotalTokens)

	return out, nil
}

// ParseToolArguments decodes a tool call's argument JSON. Malformed JSON
// is run through jsonrepair before giving up; models truncate or
// mis-quote arguments often enough to make this worthwhile.
func ParseToolArguments(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		return args, nil
	}

	repaired, repairErr := jsonrepair.JSONRepair(raw)
	if repairErr != nil {
		return nil, core.ErrProvider("tool arguments are not valid JSON").WithCause(repairErr)
	}
	if err := json.Unmarshal([]byte(repaired), &args); err != nil {
		return nil, core.ErrProvider("tool arguments are not valid JSON after repair").WithCause(err)
	}
	return args, nil
}

func retryableProviderError(message string, cause error) *core.DomainError {
	err := core.ErrProvider(message).WithCause(cause)
	err.Retryable = true
	return err
}

func mapStatusError(status int, body []byte) *core.DomainError {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 500 {
		msg = msg[:500]
	}

	var apiErr struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
		msg = apiErr.Error.Message
	}

	err := core.ErrProvider(fmt.Sprintf("provider returned HTTP %d: %s", status, msg))
	// Rate limits and server-side failures are worth retrying; bad
	// requests and auth failures are not.
	if status == http.StatusTooManyRequests || status >= 500 {
		err.Retryable = true
	}
	return err.WithDetail("status_code", status)
}
