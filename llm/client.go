// Package llm provides an OpenAI-compatible chat-completions client
// implementing core.AIClient for the planner and critic.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/concordlabs/concord/core"
	"github.com/concordlabs/concord/resilience"
)

// Client talks to any OpenAI-compatible chat completions endpoint
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
	retryCfg   *resilience.RetryConfig
	logger     core.Logger
}

// NewClient creates a chat client from configuration. The API key is
// read from the environment variable named in the config so it never
// lives in the YAML document.
func NewClient(cfg *core.Config) *Client {
	timeout := cfg.LLM.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &Client{
		apiKey:     os.Getenv(cfg.LLM.APIKeyEnv),
		baseURL:    cfg.LLM.BaseURL,
		model:      cfg.LLM.Model,
		maxTokens:  cfg.LLM.MaxTokens,
		httpClient: &http.Client{Timeout: timeout},
		retryCfg: &resilience.RetryConfig{
			MaxAttempts:   3,
			InitialDelay:  500 * time.Millisecond,
			MaxDelay:      5 * time.Second,
			BackoffFactor: 2.0,
			JitterEnabled: true,
		},
		logger: &core.NoOpLogger{},
	}
}

// SetLogger configures the logger for this client
func (c *Client) SetLogger(logger core.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// GenerateResponse sends one chat completion request, retrying
// transient upstream failures with backoff.
func (c *Client) GenerateResponse(ctx context.Context, prompt string, options *core.AIOptions) (*core.AIResponse, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("%w: LLM API key not configured", core.ErrMissingConfiguration)
	}

	model := c.model
	var temperature float32
	maxTokens := c.maxTokens
	var system string
	if options != nil {
		if options.Model != "" {
			model = options.Model
		}
		temperature = options.Temperature
		if options.MaxTokens > 0 {
			maxTokens = options.MaxTokens
		}
		system = options.SystemPrompt
	}

	var messages []chatMessage
	if system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding chat request: %w", err)
	}

	var response *core.AIResponse
	err = resilience.Retry(ctx, c.retryCfg, func() error {
		response, err = c.doRequest(ctx, body)
		return err
	})
	if err != nil {
		return nil, err
	}
	return response, nil
}

func (c *Client) doRequest(ctx context.Context, body []byte) (*core.AIResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading chat response: %w", err)
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: upstream returned %d", core.ErrToolFailed, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chat endpoint returned %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("decoding chat response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("chat endpoint error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("chat response has no choices")
	}

	c.logger.Debug("LLM call completed", map[string]interface{}{
		"operation":    "llm_request",
		"model":        parsed.Model,
		"duration_ms":  time.Since(start).Milliseconds(),
		"total_tokens": parsed.Usage.TotalTokens,
	})

	return &core.AIResponse{
		Content: parsed.Choices[0].Message.Content,
		Model:   parsed.Model,
		Usage: core.TokenUsage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
