// Package telephony drives call-control actions (media streaming, transfer)
// through the Telnyx Call Control API.
//
// All actions are best-effort: an unconfigured client degrades to a logged
// no-op, and callers are expected to log failures rather than retry.
package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ringlet-ai/ringlet/logger"
)

const defaultBaseURL = "https://api.telnyx.com/v2"

// Controller issues Telnyx call-control actions.
type Controller struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Option configures a Controller.
type Option func(*Controller)

// WithBaseURL overrides the API endpoint (for tests).
func WithBaseURL(url string) Option {
	return func(c *Controller) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Controller) {
		c.httpClient = hc
	}
}

// NewController creates a call controller. An empty apiKey yields a disabled
// controller whose actions are logged no-ops.
func NewController(apiKey string, opts ...Option) *Controller {
	c := &Controller{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether the controller is configured to reach Telnyx.
func (c *Controller) Enabled() bool {
	return c.apiKey != ""
}

// StartMediaStream asks Telnyx to fork the call's audio to streamURL.
func (c *Controller) StartMediaStream(ctx context.Context, callControlID, streamURL string) error {
	return c.action(ctx, callControlID, "streaming_start", map[string]string{
		"stream_url": streamURL,
	})
}

// StopMediaStream stops a previously started media fork.
func (c *Controller) StopMediaStream(ctx context.Context, callControlID string) error {
	return c.action(ctx, callControlID, "streaming_stop", nil)
}

// Transfer hands the live call to a human at phoneNumber.
func (c *Controller) Transfer(ctx context.Context, callControlID, phoneNumber string) error {
	return c.action(ctx, callControlID, "transfer", map[string]string{
		"to": phoneNumber,
	})
}

func (c *Controller) action(ctx context.Context, callControlID, name string, payload map[string]string) error {
	if !c.Enabled() {
		logger.Warn("telephony disabled, skipping action", "action", name)
		return nil
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("telnyx %s: marshal payload: %w", name, err)
		}
		body = bytes.NewReader(data)
	}

	url := fmt.Sprintf("%s/calls/%s/actions/%s", c.baseURL, callControlID, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("telnyx %s: create request: %w", name, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telnyx %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telnyx %s: status %d: %s", name, resp.StatusCode, string(data))
	}
	return nil
}
