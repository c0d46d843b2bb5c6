// Package assist fills template slots with Claude when anchor matching
// leaves them empty.
package assist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"

	"github.com/Mschirtzinger/todosync/internal/templates"
)

const (
	maxRetries     = 3
	initialBackoff = 1 * time.Second
	maxTokens      = 2048
)

// ErrAPIKeyRequired is returned when no API key is configured.
var ErrAPIKeyRequired = errors.New("API key required")

// Config configures a Client.
type Config struct {
	// APIKey for the Anthropic API; ANTHROPIC_API_KEY is used when empty
	APIKey string

	// Model to call (required)
	Model string

	// MaxRetries bounds retries of rate-limited or failed requests
	MaxRetries int

	// InitialBackoff is the first retry delay; later ones double
	InitialBackoff time.Duration

	// Logger for retries (default: stderr logger)
	Logger *log.Logger
}

// Client implements templates.Assistant on the Anthropic Messages API.
type Client struct {
	client         anthropic.Client
	model          anthropic.Model
	prompt         *template.Template
	maxRetries     int
	initialBackoff time.Duration
	logger         *log.Logger
}

var _ templates.Assistant = (*Client)(nil)

// New creates a client. Extra request options (base URL, HTTP client) are
// passed through to the SDK.
func New(cfg Config, opts ...option.RequestOption) (*Client, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY or ai.api-key", ErrAPIKeyRequired)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	tmpl, err := template.New("fill").Parse(fillPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt template: %w", err)
	}

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = maxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = initialBackoff
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[assist] ", log.LstdFlags)
	}

	// SDK retries are off; callWithRetry owns the policy
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)

	return &Client{
		client:         anthropic.NewClient(opts...),
		model:          anthropic.Model(cfg.Model),
		prompt:         tmpl,
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.InitialBackoff,
		logger:         cfg.Logger,
	}, nil
}

// FillSlots asks the model for the missing slot values. Slots the model
// does not answer are left out of the returned map.
func (c *Client) FillSlots(ctx context.Context, req templates.AssistRequest) (map[string]string, error) {
	if len(req.Slots) == 0 {
		return map[string]string{}, nil
	}

	var buf bytes.Buffer
	if err := c.prompt.Execute(&buf, req); err != nil {
		return nil, fmt.Errorf("failed to render prompt: %w", err)
	}

	reply, err := c.callWithRetry(ctx, buf.String())
	if err != nil {
		return nil, err
	}
	return parseReply(reply, req.Slots)
}

func (c *Client) callWithRetry(ctx context.Context, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialBackoff
	bo.Multiplier = 2
	bo.RandomizationFactor = 0

	var text string
	attempt := 0
	op := func() error {
		attempt++
		message, err := c.client.Messages.New(ctx, params)
		if err != nil {
			if ctx.Err() != nil || !isRetryable(err) {
				return backoff.Permanent(err)
			}
			c.logger.Printf("Warning: attempt %d failed, retrying: %v", attempt, err)
			return err
		}

		if len(message.Content) == 0 {
			return backoff.Permanent(fmt.Errorf("unexpected response format: no content blocks"))
		}
		content := message.Content[0]
		if content.Type != "text" {
			return backoff.Permanent(fmt.Errorf("unexpected response format: not a text block (type=%s)", content.Type))
		}
		text = content.Text
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.maxRetries)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("model request failed after %d attempt(s): %w", attempt, err)
	}
	return text, nil
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

// parseReply reads the JSON object in the model's reply, tolerating a
// surrounding code fence or prose, and keeps only the requested slots.
func parseReply(reply string, slots []string) (map[string]string, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("model reply has no JSON object")
	}

	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(reply[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse model reply: %w", err)
	}

	out := make(map[string]string, len(slots))
	for _, slot := range slots {
		v, ok := raw[slot]
		if !ok || v == nil {
			continue
		}
		switch v := v.(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				out[slot] = s
			}
		case []interface{}:
			var parts []string
			for _, item := range v {
				parts = append(parts, fmt.Sprint(item))
			}
			if len(parts) > 0 {
				out[slot] = strings.Join(parts, ", ")
			}
		default:
			out[slot] = fmt.Sprint(v)
		}
	}
	return out, nil
}

const fillPromptTemplate = `You are extracting structured fields from a markdown issue file.

The file was written from this template, where {path} marks a value:

<template>
{{.Template}}
</template>

The file now reads:

<document>
{{.Document}}
</document>

Recover the values of these template paths:
{{range .Slots}}- {{.}}
{{end}}
Reply with a single JSON object mapping each path to its value as a string.
Use comma-separated text for lists. Omit a path when the document has no value for it.
Do not include any other text.`
