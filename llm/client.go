// Package llm provides an OpenAI-compatible client with retry support,
// usable against Ollama, vLLM, OpenRouter and similar endpoints. The
// knowledge core itself depends only on two narrow function contracts (a
// reasoning function and an embedding function); this package is the
// batteries-included implementation of both.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// maxResponseSize limits the response body to prevent memory exhaustion.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`    // "system", "user", or "assistant"
	Content string `json:"content"` // Message content
}

// Response contains a completion result.
type Response struct {
	Content      string
	Model        string
	TokensUsed   int
	FinishReason string
}

// Client is an OpenAI-compatible chat and embeddings client.
type Client struct {
	endpoint    string
	model       string
	embedModel  string
	temperature *float64
	httpClient  *http.Client
	retryConfig RetryConfig
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) { client.httpClient = c }
}

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(client *Client) { client.retryConfig = cfg }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(client *Client) { client.logger = logger }
}

// WithEmbedModel sets the model used by Embed. Defaults to the completion
// model.
func WithEmbedModel(model string) Option {
	return func(client *Client) { client.embedModel = model }
}

// WithTemperature sets an explicit sampling temperature; nil uses the
// endpoint default.
func WithTemperature(t float64) Option {
	return func(client *Client) { client.temperature = &t }
}

// NewClient creates a client for an OpenAI-compatible base URL (e.g.
// "http://localhost:11434/v1").
func NewClient(endpoint, model string, opts ...Option) *Client {
	c := &Client{
		endpoint:    strings.TrimSuffix(endpoint, "/"),
		model:       model,
		retryConfig: DefaultRetryConfig(),
		httpClient: &http.Client{
			Timeout: 180 * time.Second, // Allow time for LLM responses
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.embedModel == "" {
		c.embedModel = c.model
	}
	return c
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete sends a chat completion request, retrying transient failures
// with exponential backoff.
func (c *Client) Complete(ctx context.Context, messages []Message) (*Response, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("at least one message is required")
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	raw, err := c.post(ctx, c.endpoint+"/chat/completions", body)
	if err != nil {
		return nil, err
	}

	var resp chatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("parse completion response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}
	return &Response{
		Content:      resp.Choices[0].Message.Content,
		Model:        resp.Model,
		TokensUsed:   resp.Usage.TotalTokens,
		FinishReason: resp.Choices[0].FinishReason,
	}, nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding vector for one text.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	body, err := json.Marshal(embedRequest{Model: c.embedModel, Input: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	raw, err := c.post(ctx, c.endpoint+"/embeddings", body)
	if err != nil {
		return nil, err
	}

	var resp embedResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("parse embeddings response: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding in response")
	}
	return resp.Data[0].Embedding, nil
}

// ReasoningFunc adapts the client to the core's prompt-in/string-out
// reasoning contract.
func (c *Client) ReasoningFunc() func(prompt string) (string, error) {
	return func(prompt string) (string, error) {
		resp, err := c.Complete(context.Background(), []Message{{Role: "user", Content: prompt}})
		if err != nil {
			return "", err
		}
		return resp.Content, nil
	}
}

// EmbeddingFunc adapts the client to the core's text-to-vector contract.
func (c *Client) EmbeddingFunc() func(text string) ([]float64, error) {
	return func(text string) ([]float64, error) {
		return c.Embed(context.Background(), text)
	}
}

// post sends a JSON request with retry and backoff. Transient failures
// (network errors, 429, 5xx) are retried up to the configured attempts;
// fatal ones (other 4xx) abort immediately.
func (c *Client) post(ctx context.Context, url string, body []byte) ([]byte, error) {
	backoff := c.retryConfig.BackoffBase
	var lastErr error

	for attempt := 1; attempt <= c.retryConfig.MaxAttempts; attempt++ {
		if attempt > 1 {
			c.logger.Debug("retrying request",
				slog.String("url", url),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff = time.Duration(float64(backoff) * c.retryConfig.BackoffMultiplier)
			if backoff > c.retryConfig.MaxBackoff {
				backoff = c.retryConfig.MaxBackoff
			}
		}

		raw, err := c.doPost(ctx, url, body)
		if err == nil {
			return raw, nil
		}
		if IsFatal(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", c.retryConfig.MaxAttempts, lastErr)
}

func (c *Client) doPost(ctx context.Context, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("send request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return raw, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, NewTransientError(fmt.Errorf("status %d: %s", resp.StatusCode, truncate(raw, 200)))
	default:
		return nil, NewFatalError(fmt.Errorf("status %d: %s", resp.StatusCode, truncate(raw, 200)))
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
