// Package generation wraps the OpenAI API for response generation, post-call
// summarization, action-point extraction, and the small yes/no classifiers
// used by routing and escalation.
package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/ringlet-ai/ringlet/logger"
)

const (
	// classifierModel runs the cheap yes/no classification prompts.
	classifierModel = "gpt-4o-mini"

	// embeddingModel matches the 1536-dimension snippet index.
	embeddingModel = "text-embedding-3-small"
	embeddingDim   = 1536

	// defaultTimeout bounds every upstream call so a stuck request cannot
	// hang the call loop.
	defaultTimeout = 15 * time.Second
)

// Client performs all model calls for a deployment.
type Client struct {
	api     *openai.Client
	timeout time.Duration
}

// Option configures a Client.
type Option func(*clientConfig)

type clientConfig struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

// WithBaseURL overrides the API endpoint (for OpenAI-compatible providers
// and tests).
func WithBaseURL(url string) Option {
	return func(c *clientConfig) {
		c.baseURL = url
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *clientConfig) {
		c.timeout = d
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *clientConfig) {
		c.httpClient = hc
	}
}

// NewClient creates a generation client.
func NewClient(apiKey string, opts ...Option) *Client {
	cfg := clientConfig{
		timeout:    defaultTimeout,
		httpClient: http.DefaultClient,
	}
	for _, o := range opts {
		o(&cfg)
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(cfg.httpClient),
	}
	if cfg.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.baseURL))
	}
	api := openai.NewClient(clientOpts...)

	return &Client{api: &api, timeout: cfg.timeout}
}

// Generate produces the agent's reply to userText, grounded in the retrieved
// context snippets, using the routed model.
func (c *Client) Generate(ctx context.Context, model, userText string, snippets []string) (string, error) {
	prompt := fmt.Sprintf("Context:\n%s\n\nUser:\n%s\n\nAssistant:", strings.Join(snippets, "\n"), userText)
	return c.complete(ctx, model, prompt)
}

// Summarize produces a post-call summary of the transcript.
func (c *Client) Summarize(ctx context.Context, transcript string) (string, error) {
	prompt := fmt.Sprintf("Summarize the call and list action points as JSON.\n\nTranscript:\n%s", transcript)
	return c.complete(ctx, classifierModel, prompt)
}

// ActionPoint is one follow-up task extracted from a call summary.
// Details carries the delivery parameters for the action's type (recipient,
// body, webhook URL).
type ActionPoint struct {
	Type    string            `json:"type"`
	Details map[string]string `json:"details"`
}

// ExtractActionPoints pulls structured follow-ups out of a summary.
// Unparseable model output degrades to an empty list.
func (c *Client) ExtractActionPoints(ctx context.Context, summary string) ([]ActionPoint, error) {
	prompt := "Extract action points as JSON array. " +
		"Each item must include: type (sms|email|webhook), details. " +
		"Respond with JSON only.\n\nSummary:\n" + summary

	out, err := c.complete(ctx, classifierModel, prompt)
	if err != nil {
		return nil, err
	}

	var points []ActionPoint
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &points); err != nil {
		logger.Warn("action point parse failed", "error", err)
		return nil, nil
	}
	return points, nil
}

// IsSensitive reports whether text warrants escalation to a human.
func (c *Client) IsSensitive(ctx context.Context, text string) (bool, error) {
	prompt := fmt.Sprintf("Determine if this is sensitive or requires escalation:\n%s", text)
	out, err := c.complete(ctx, classifierModel, prompt)
	if err != nil {
		return false, err
	}
	lower := strings.ToLower(out)
	return strings.Contains(lower, "yes") || strings.Contains(lower, "sensitive"), nil
}

// IsComplex reports whether text needs the complex model tier.
func (c *Client) IsComplex(ctx context.Context, text string) (bool, error) {
	prompt := "Classify if this user request requires a complex model. " +
		"Respond with only 'yes' or 'no'.\n\nText:\n" + text
	out, err := c.complete(ctx, classifierModel, prompt)
	if err != nil {
		return false, err
	}
	return strings.Contains(strings.ToLower(out), "yes"), nil
}

// Embed returns the embedding vector for text, matching the snippet index's
// dimensionality.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model:          embeddingModel,
		Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{text}},
		Dimensions:     openai.Int(embeddingDim),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embeddings: empty response")
	}

	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

func (c *Client) complete(ctx context.Context, model, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai chat: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}
