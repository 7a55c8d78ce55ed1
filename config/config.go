// Package config loads service configuration from the environment.
//
// Provider credentials are all optional: a missing credential puts the owning
// component into a degraded no-op mode rather than failing startup. Only the
// listen address and session-store settings have defaults that always apply.
package config

import (
	"os"
	"strconv"
	"time"
)

// Default values applied when the corresponding variable is unset.
const (
	DefaultListenAddr     = ":8080"
	DefaultMetricsAddr    = ":9090"
	DefaultRedisAddr      = "localhost:6379"
	DefaultSessionTTL     = time.Hour
	DefaultEventTimeout   = 25 * time.Second
	DefaultMaxTurns       = 50
	DefaultPrefetchMinLen = 12
	DefaultRecordingTTL   = 30 * 24 * time.Hour
)

// Config holds all runtime settings for the service.
type Config struct {
	// ListenAddr is the HTTP/WebSocket listen address.
	ListenAddr string

	// MetricsAddr is the Prometheus exporter listen address.
	MetricsAddr string

	// PublicBaseURL is the externally reachable base URL handed to the
	// telephony provider for media-stream callbacks.
	PublicBaseURL string

	// DeepgramAPIKey enables live speech recognition when set.
	DeepgramAPIKey string

	// ElevenLabsAPIKey and ElevenLabsVoiceID enable speech synthesis when both set.
	ElevenLabsAPIKey  string
	ElevenLabsVoiceID string

	// OpenAIAPIKey enables response generation, summaries, and classifiers.
	OpenAIAPIKey string

	// OpenAIPrimaryModel and OpenAIComplexModel are the routing tiers.
	OpenAIPrimaryModel string
	OpenAIComplexModel string

	// TelnyxAPIKey enables call-control operations (media streams, transfer).
	TelnyxAPIKey string

	// Twilio credentials enable SMS delivery.
	TwilioSID        string
	TwilioToken      string
	TwilioFromNumber string

	// SendGrid credentials enable email delivery.
	SendGridAPIKey    string
	SendGridFromEmail string

	// FCMServerKey enables push notification delivery.
	FCMServerKey string

	// RedisAddr is the session state store address.
	RedisAddr string

	// PostgresDSN is the persistence/retrieval database connection string.
	PostgresDSN string

	// RecordingsDir enables call-audio recording when set.
	RecordingsDir string

	// RecordingTTL bounds how long finished recordings are retained.
	RecordingTTL time.Duration

	// SessionTTL bounds how long call session state stays readable.
	SessionTTL time.Duration

	// EventTimeout bounds each wait for the next recognition event.
	EventTimeout time.Duration

	// MaxTurns is the listening-loop iteration cap per call.
	MaxTurns int

	// PrefetchMinLen is the interim-transcript length that triggers
	// speculative retrieval prefetch.
	PrefetchMinLen int
}

// Load reads configuration from the environment.
func Load() *Config {
	return &Config{
		ListenAddr:         getEnv("LISTEN_ADDR", DefaultListenAddr),
		MetricsAddr:        getEnv("METRICS_ADDR", DefaultMetricsAddr),
		PublicBaseURL:      os.Getenv("PUBLIC_BASE_URL"),
		DeepgramAPIKey:     os.Getenv("DEEPGRAM_API_KEY"),
		ElevenLabsAPIKey:   os.Getenv("ELEVENLABS_API_KEY"),
		ElevenLabsVoiceID:  os.Getenv("ELEVENLABS_VOICE_ID"),
		OpenAIAPIKey:       os.Getenv("OPENAI_API_KEY"),
		OpenAIPrimaryModel: getEnv("OPENAI_PRIMARY_MODEL", "gpt-4o-mini"),
		OpenAIComplexModel: getEnv("OPENAI_COMPLEX_MODEL", "gpt-4o"),
		TelnyxAPIKey:       os.Getenv("TELNYX_API_KEY"),
		TwilioSID:          os.Getenv("TWILIO_SID"),
		TwilioToken:        os.Getenv("TWILIO_TOKEN"),
		TwilioFromNumber:   os.Getenv("TWILIO_FROM_NUMBER"),
		SendGridAPIKey:     os.Getenv("SENDGRID_API_KEY"),
		SendGridFromEmail:  os.Getenv("SENDGRID_FROM_EMAIL"),
		FCMServerKey:       os.Getenv("FCM_SERVER_KEY"),
		RedisAddr:          getEnv("REDIS_ADDR", DefaultRedisAddr),
		PostgresDSN:        os.Getenv("POSTGRES_DSN"),
		RecordingsDir:      os.Getenv("RECORDINGS_DIR"),
		RecordingTTL:       getDurationEnv("RECORDING_TTL", DefaultRecordingTTL),
		SessionTTL:         getDurationEnv("SESSION_TTL", DefaultSessionTTL),
		EventTimeout:       getDurationEnv("EVENT_TIMEOUT", DefaultEventTimeout),
		MaxTurns:           getIntEnv("MAX_TURNS", DefaultMaxTurns),
		PrefetchMinLen:     getIntEnv("PREFETCH_MIN_LEN", DefaultPrefetchMinLen),
	}
}

// RecognitionEnabled reports whether live speech recognition is configured.
func (c *Config) RecognitionEnabled() bool {
	return c.DeepgramAPIKey != ""
}

// SynthesisEnabled reports whether speech synthesis is configured.
func (c *Config) SynthesisEnabled() bool {
	return c.ElevenLabsAPIKey != "" && c.ElevenLabsVoiceID != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
