package tts

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestElevenLabs_Synthesize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("xi-api-key"))
		assert.Contains(t, r.URL.Path, "/text-to-speech/voice-1/stream")

		var req elevenLabsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hello caller", req.Text)
		assert.Equal(t, ElevenLabsModelTurbo, req.ModelID)

		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("fake-mp3-bytes"))
	}))
	defer srv.Close()

	svc := NewElevenLabs("test-key", WithElevenLabsBaseURL(srv.URL))
	body, err := svc.Synthesize(context.Background(), "hello caller", SynthesisConfig{Voice: "voice-1"})
	require.NoError(t, err)
	defer body.Close()

	audio, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "fake-mp3-bytes", string(audio))
}

func TestElevenLabs_EmptyText(t *testing.T) {
	svc := NewElevenLabs("test-key")
	_, err := svc.Synthesize(context.Background(), "", SynthesisConfig{Voice: "voice-1"})
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestElevenLabs_MissingVoice(t *testing.T) {
	svc := NewElevenLabs("test-key")
	_, err := svc.Synthesize(context.Background(), "hi", SynthesisConfig{})
	assert.ErrorIs(t, err, ErrInvalidVoice)
}

func TestElevenLabs_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"detail": {"status": "rate_limited", "message": "slow down"}}`))
	}))
	defer srv.Close()

	svc := NewElevenLabs("test-key", WithElevenLabsBaseURL(srv.URL))
	_, err := svc.Synthesize(context.Background(), "hi", SynthesisConfig{Voice: "voice-1"})
	require.Error(t, err)

	var synthErr *SynthesisError
	require.ErrorAs(t, err, &synthErr)
	assert.True(t, synthErr.Retryable)
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestElevenLabs_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"detail": {"status": "server_error", "message": "boom"}}`))
	}))
	defer srv.Close()

	svc := NewElevenLabs("test-key", WithElevenLabsBaseURL(srv.URL))
	_, err := svc.Synthesize(context.Background(), "hi", SynthesisConfig{Voice: "voice-1"})

	var synthErr *SynthesisError
	require.ErrorAs(t, err, &synthErr)
	assert.True(t, synthErr.Retryable)
	assert.Equal(t, "boom", synthErr.Message)
}
