package aiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	defaultBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	defaultModel   = "qwen-plus"
)

// MalformedOutputError signals a generation-service response whose text could
// not be parsed as a JSON value after fence-stripping and region scanning
type MalformedOutputError struct {
	Detail string
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("generation output is not parseable JSON: %s", e.Detail)
}

// Client calls an OpenAI-compatible chat-completions endpoint and extracts
// the JSON value from its replies
type Client struct {
	http   *resty.Client
	model  string
	logger *zap.Logger
}

// Config holds endpoint settings for the generation service
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
}

// ConfigFromEnv reads endpoint settings from the environment, applying the
// compatible-mode defaults
func ConfigFromEnv() Config {
	cfg := Config{
		BaseURL: os.Getenv("GENERATION_API_BASE"),
		APIKey:  os.Getenv("GENERATION_API_KEY"),
		Model:   os.Getenv("GENERATION_MODEL"),
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	return cfg
}

// New creates a generation-service client. Transient failures (429 and 5xx)
// are retried with backoff before surfacing an error.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(120 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetAuthToken(cfg.APIKey).
		SetRetryCount(3).
		SetRetryWaitTime(2 * time.Second).
		SetRetryMaxWaitTime(20 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		})

	return &Client{http: httpClient, model: cfg.Model, logger: logger}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// ChatJSON sends one system/user prompt pair and returns the JSON value
// extracted from the reply together with the total token count
func (c *Client) ChatJSON(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int) (json.RawMessage, int, error) {
	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}

	var result chatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&result).
		Post("/chat/completions")
	if err != nil {
		return nil, 0, fmt.Errorf("generation request failed: %w", err)
	}
	if resp.IsError() {
		detail := resp.Status()
		if result.Error != nil && result.Error.Message != "" {
			detail = result.Error.Message
		}
		return nil, 0, fmt.Errorf("generation request failed: %s", detail)
	}
	if len(result.Choices) == 0 {
		return nil, result.Usage.TotalTokens, &MalformedOutputError{Detail: "empty choices"}
	}

	value, err := ExtractJSON(result.Choices[0].Message.Content)
	if err != nil {
		c.logger.Warn("generation reply not parseable", zap.Error(err))
		return nil, result.Usage.TotalTokens, err
	}
	return value, result.Usage.TotalTokens, nil
}
