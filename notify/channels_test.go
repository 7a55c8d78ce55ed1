package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type providerRecorder struct {
	mu       sync.Mutex
	requests []*recordedDelivery
	status   int
}

type recordedDelivery struct {
	path string
	auth string
	body []byte
}

func (p *providerRecorder) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		p.mu.Lock()
		p.requests = append(p.requests, &recordedDelivery{
			path: r.URL.Path,
			auth: r.Header.Get("Authorization"),
			body: body,
		})
		p.mu.Unlock()
		if p.status != 0 {
			w.WriteHeader(p.status)
		}
	})
}

func (p *providerRecorder) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *providerRecorder) last() *recordedDelivery {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		return nil
	}
	return p.requests[len(p.requests)-1]
}

func newTestChannels(t *testing.T, rec *providerRecorder) *Channels {
	t.Helper()
	server := httptest.NewServer(rec.handler())
	t.Cleanup(server.Close)
	cfg := ChannelConfig{
		TwilioSID:         "AC123",
		TwilioToken:       "token",
		TwilioFromNumber:  "+15550000",
		SendGridAPIKey:    "sg-key",
		SendGridFromEmail: "agent@example.com",
		FCMServerKey:      "fcm-key",
	}
	return NewChannels(cfg, WithProviderBaseURLs(server.URL, server.URL, server.URL))
}

func TestSendSMS(t *testing.T) {
	rec := &providerRecorder{}
	c := newTestChannels(t, rec)

	require.NoError(t, c.SendSMS(context.Background(), "+15551234", "your quote is ready"))

	got := rec.last()
	require.NotNil(t, got)
	assert.Equal(t, "/Accounts/AC123/Messages.json", got.path)

	form, err := url.ParseQuery(string(got.body))
	require.NoError(t, err)
	assert.Equal(t, "+15551234", form.Get("To"))
	assert.Equal(t, "+15550000", form.Get("From"))
	assert.Equal(t, "your quote is ready", form.Get("Body"))
}

func TestSendEmail(t *testing.T) {
	rec := &providerRecorder{}
	c := newTestChannels(t, rec)

	require.NoError(t, c.SendEmail(context.Background(), "owner@example.com", "Call escalation", "details"))

	got := rec.last()
	require.NotNil(t, got)
	assert.Equal(t, "/mail/send", got.path)
	assert.Equal(t, "Bearer sg-key", got.auth)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(got.body, &payload))
	assert.Equal(t, "Call escalation", payload["subject"])
}

func TestSendPush(t *testing.T) {
	rec := &providerRecorder{}
	c := newTestChannels(t, rec)

	require.NoError(t, c.SendPush(context.Background(), "device-token", "Call escalation", "details"))

	got := rec.last()
	require.NotNil(t, got)
	assert.Equal(t, "/send", got.path)
	assert.Equal(t, "key=fcm-key", got.auth)
}

func TestUnconfiguredChannelsAreNoOps(t *testing.T) {
	c := NewChannels(ChannelConfig{})

	assert.NoError(t, c.SendSMS(context.Background(), "+15551234", "body"))
	assert.NoError(t, c.SendEmail(context.Background(), "a@b.c", "s", "body"))
	assert.NoError(t, c.SendPush(context.Background(), "token", "t", "body"))
}

func TestNotifyUser_DeliversAllConfiguredChannels(t *testing.T) {
	rec := &providerRecorder{}
	c := newTestChannels(t, rec)

	c.NotifyUser(context.Background(), Contact{
		Email:     "owner@example.com",
		Phone:     "+15551234",
		PushToken: "device-token",
	}, "Call escalation", "Call call-1 escalated")

	assert.Equal(t, 3, rec.count())
}

func TestTriggerActionPoint_SMS(t *testing.T) {
	rec := &providerRecorder{}
	c := newTestChannels(t, rec)

	attempts, err := c.TriggerActionPoint(context.Background(), "sms", map[string]string{
		"to":   "+15551234",
		"body": "follow up tomorrow",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, rec.count())
}

func TestTriggerActionPoint_WebhookRetries(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		calls++
		failing := calls < 2
		mu.Unlock()
		if failing {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer server.Close()

	c := NewChannels(ChannelConfig{})
	// Shrink the schedule so the test does not sleep for real.
	orig := DefaultRetrySchedule
	DefaultRetrySchedule = []time.Duration{0, time.Millisecond, time.Millisecond}
	defer func() { DefaultRetrySchedule = orig }()

	attempts, err := c.TriggerActionPoint(context.Background(), "webhook", map[string]string{
		"url":     server.URL,
		"payload": `{"note":"call back"}`,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, calls)
}

func TestTriggerActionPoint_UnknownTypeIgnored(t *testing.T) {
	c := NewChannels(ChannelConfig{})
	attempts, err := c.TriggerActionPoint(context.Background(), "carrier-pigeon", nil)
	assert.NoError(t, err)
	assert.Zero(t, attempts)
}
