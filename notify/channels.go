package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ringlet-ai/ringlet/logger"
	prom "github.com/ringlet-ai/ringlet/metrics/prometheus"
)

// Contact is one user's delivery endpoints. Empty fields skip that channel.
type Contact struct {
	Email     string
	Phone     string
	PushToken string
}

// ChannelConfig holds provider credentials. Any unset provider degrades its
// channel to a silent no-op.
type ChannelConfig struct {
	TwilioSID        string
	TwilioToken      string
	TwilioFromNumber string

	SendGridAPIKey    string
	SendGridFromEmail string

	FCMServerKey string
}

const (
	twilioBaseURL   = "https://api.twilio.com/2010-04-01"
	sendGridBaseURL = "https://api.sendgrid.com/v3"
	fcmBaseURL      = "https://fcm.googleapis.com/fcm"
)

// Channels delivers notifications over SMS, email, and push.
type Channels struct {
	cfg             ChannelConfig
	httpClient      *http.Client
	twilioBaseURL   string
	sendGridBaseURL string
	fcmBaseURL      string
}

// ChannelOption configures a Channels.
type ChannelOption func(*Channels)

// WithChannelHTTPClient sets a custom HTTP client.
func WithChannelHTTPClient(hc *http.Client) ChannelOption {
	return func(c *Channels) {
		c.httpClient = hc
	}
}

// WithProviderBaseURLs overrides the provider endpoints (for tests).
func WithProviderBaseURLs(twilio, sendGrid, fcm string) ChannelOption {
	return func(c *Channels) {
		c.twilioBaseURL = twilio
		c.sendGridBaseURL = sendGrid
		c.fcmBaseURL = fcm
	}
}

// NewChannels creates a notification channel set.
func NewChannels(cfg ChannelConfig, opts ...ChannelOption) *Channels {
	c := &Channels{
		cfg:             cfg,
		httpClient:      &http.Client{Timeout: 10 * time.Second},
		twilioBaseURL:   twilioBaseURL,
		sendGridBaseURL: sendGridBaseURL,
		fcmBaseURL:      fcmBaseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NotifyUser delivers title/body over every channel the contact has
// configured. Per-channel failures are logged and do not block the others.
func (c *Channels) NotifyUser(ctx context.Context, contact Contact, title, body string) {
	if contact.PushToken != "" {
		if err := c.SendPush(ctx, contact.PushToken, title, body); err != nil {
			logger.Warn("push delivery failed", "error", err)
		}
	}
	if contact.Phone != "" {
		if err := c.SendSMS(ctx, contact.Phone, body); err != nil {
			logger.Warn("sms delivery failed", "error", err)
		}
	}
	if contact.Email != "" {
		if err := c.SendEmail(ctx, contact.Email, title, body); err != nil {
			logger.Warn("email delivery failed", "error", err)
		}
	}
}

// SendSMS delivers body to phone through Twilio.
func (c *Channels) SendSMS(ctx context.Context, phone, body string) error {
	if c.cfg.TwilioSID == "" || c.cfg.TwilioToken == "" || c.cfg.TwilioFromNumber == "" {
		return nil
	}

	form := url.Values{}
	form.Set("From", c.cfg.TwilioFromNumber)
	form.Set("To", phone)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", c.twilioBaseURL, c.cfg.TwilioSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("twilio request: %w", err)
	}
	req.SetBasicAuth(c.cfg.TwilioSID, c.cfg.TwilioToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return c.do(req, "sms")
}

// SendEmail delivers subject/body to toEmail through SendGrid.
func (c *Channels) SendEmail(ctx context.Context, toEmail, subject, body string) error {
	if c.cfg.SendGridAPIKey == "" || c.cfg.SendGridFromEmail == "" {
		return nil
	}

	payload := map[string]any{
		"personalizations": []map[string]any{
			{"to": []map[string]string{{"email": toEmail}}},
		},
		"from":    map[string]string{"email": c.cfg.SendGridFromEmail},
		"subject": subject,
		"content": []map[string]string{
			{"type": "text/html", "value": body},
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("sendgrid payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sendGridBaseURL+"/mail/send", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("sendgrid request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.SendGridAPIKey)
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, "email")
}

// SendPush delivers a push notification to the device token through FCM.
func (c *Channels) SendPush(ctx context.Context, pushToken, title, body string) error {
	if c.cfg.FCMServerKey == "" {
		return nil
	}

	payload := map[string]any{
		"to": pushToken,
		"notification": map[string]string{
			"title": title,
			"body":  body,
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("fcm payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.fcmBaseURL+"/send", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("fcm request: %w", err)
	}
	req.Header.Set("Authorization", "key="+c.cfg.FCMServerKey)
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, "push")
}

// TriggerActionPoint dispatches one extracted action point to its declared
// delivery target. Webhook delivery retries on the default schedule.
// Returns the number of delivery attempts made and the final error.
func (c *Channels) TriggerActionPoint(ctx context.Context, actionType string, details map[string]string) (int, error) {
	logger.Info("action point triggered", "action_type", actionType)

	switch actionType {
	case "sms":
		return 1, c.SendSMS(ctx, details["to"], details["body"])
	case "email":
		subject := details["subject"]
		if subject == "" {
			subject = "Notification"
		}
		return 1, c.SendEmail(ctx, details["to"], subject, details["body"])
	case "webhook":
		target := details["url"]
		if target == "" {
			return 0, nil
		}
		attempts, err := Retry(ctx, DefaultRetrySchedule, func() error {
			return c.postWebhook(ctx, target, details["payload"])
		})
		if err != nil {
			return attempts, fmt.Errorf("webhook delivery failed after %d attempts: %w", attempts, err)
		}
		return attempts, nil
	default:
		logger.Warn("unknown action point type", "action_type", actionType)
		return 0, nil
	}
}

func (c *Channels) postWebhook(ctx context.Context, target, payload string) error {
	if payload == "" {
		payload = "{}"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(payload))
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, "webhook")
}

func (c *Channels) do(req *http.Request, channel string) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		prom.RecordNotification(channel, "error")
		return fmt.Errorf("%s: %w", channel, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		prom.RecordNotification(channel, "error")
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: status %d: %s", channel, resp.StatusCode, string(data))
	}
	prom.RecordNotification(channel, "success")
	return nil
}
