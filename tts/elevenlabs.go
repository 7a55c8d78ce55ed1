package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	elevenLabsBaseURL = "https://api.elevenlabs.io/v1"

	// ElevenLabsModelTurbo is the low-latency model used for live calls.
	ElevenLabsModelTurbo = "eleven_turbo_v2"
	// ElevenLabsModelMultilingual is the multilingual v2 model.
	ElevenLabsModelMultilingual = "eleven_multilingual_v2"

	defaultElevenLabsTimeout = 30 * time.Second

	elevenLabsServerErrorThreshold = 500

	elevenLabsDefaultStability       = 0.5
	elevenLabsDefaultSimilarityBoost = 0.75

	elevenLabsFormatMP3 = "mp3_44100_128"
	elevenLabsFormatPCM = "pcm_24000"
)

// ElevenLabsService implements Service using ElevenLabs' streaming TTS API.
type ElevenLabsService struct {
	apiKey  string
	baseURL string
	client  *http.Client
	model   string
}

// ElevenLabsOption configures the ElevenLabs TTS service.
type ElevenLabsOption func(*ElevenLabsService)

// WithElevenLabsBaseURL sets a custom base URL.
func WithElevenLabsBaseURL(url string) ElevenLabsOption {
	return func(s *ElevenLabsService) {
		s.baseURL = url
	}
}

// WithElevenLabsClient sets a custom HTTP client.
func WithElevenLabsClient(client *http.Client) ElevenLabsOption {
	return func(s *ElevenLabsService) {
		s.client = client
	}
}

// WithElevenLabsModel sets the TTS model.
func WithElevenLabsModel(model string) ElevenLabsOption {
	return func(s *ElevenLabsService) {
		s.model = model
	}
}

// NewElevenLabs creates an ElevenLabs TTS service.
func NewElevenLabs(apiKey string, opts ...ElevenLabsOption) *ElevenLabsService {
	s := &ElevenLabsService{
		apiKey:  apiKey,
		baseURL: elevenLabsBaseURL,
		client:  &http.Client{Timeout: defaultElevenLabsTimeout},
		model:   ElevenLabsModelTurbo,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the provider identifier.
func (s *ElevenLabsService) Name() string {
	return "elevenlabs"
}

// elevenLabsRequest is the request body for ElevenLabs TTS API.
type elevenLabsRequest struct {
	Text          string                   `json:"text"`
	ModelID       string                   `json:"model_id,omitempty"`
	VoiceSettings *elevenLabsVoiceSettings `json:"voice_settings,omitempty"`
}

// elevenLabsVoiceSettings configures voice parameters.
type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Synthesize streams synthesized audio from ElevenLabs' streaming endpoint.
// The returned reader yields audio chunks as the provider produces them;
// canceling ctx aborts the stream.
func (s *ElevenLabsService) Synthesize(
	ctx context.Context, text string, config SynthesisConfig,
) (io.ReadCloser, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	if config.Voice == "" {
		return nil, ErrInvalidVoice
	}

	model := config.Model
	if model == "" {
		model = s.model
	}

	reqBody := elevenLabsRequest{
		Text:    text,
		ModelID: model,
		VoiceSettings: &elevenLabsVoiceSettings{
			Stability:       elevenLabsDefaultStability,
			SimilarityBoost: elevenLabsDefaultSimilarityBoost,
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/text-to-speech/%s/stream", s.baseURL, config.Voice)
	if format := s.mapFormat(config.Format); format != "" {
		endpoint += "?output_format=" + format
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		endpoint,
		bytes.NewReader(bodyBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("xi-api-key", s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, NewSynthesisError("elevenlabs", "", "request failed", err, true)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, s.handleError(resp)
	}

	return resp.Body, nil
}

// mapFormat converts a format name to the ElevenLabs format string.
func (s *ElevenLabsService) mapFormat(format string) string {
	switch format {
	case "pcm":
		return elevenLabsFormatPCM
	default:
		return elevenLabsFormatMP3
	}
}

// elevenLabsErrorResponse represents an error response from ElevenLabs.
type elevenLabsErrorResponse struct {
	Detail struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"detail"`
}

// handleError processes an error response from ElevenLabs.
func (s *ElevenLabsService) handleError(resp *http.Response) error {
	var errResp elevenLabsErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return NewSynthesisError(
			"elevenlabs",
			fmt.Sprintf("%d", resp.StatusCode),
			"unknown error",
			err,
			resp.StatusCode >= elevenLabsServerErrorThreshold,
		)
	}

	retryable := resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode >= elevenLabsServerErrorThreshold

	var cause error
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		cause = ErrRateLimited
	case http.StatusUnauthorized:
		cause = fmt.Errorf("invalid API key")
	case http.StatusNotFound:
		cause = ErrInvalidVoice
	}

	return NewSynthesisError(
		"elevenlabs",
		errResp.Detail.Status,
		errResp.Detail.Message,
		cause,
		retryable,
	)
}
