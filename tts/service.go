// Package tts provides speech synthesis for outbound call audio.
//
// A Service abstracts a synthesis provider; a Controller wraps a Service with
// the per-call guarantees the turn loop relies on: serialized synthesis,
// prompt barge-in cancellation, and graceful degradation when the provider
// is not configured.
package tts

import (
	"context"
	"io"
)

// Service converts text to a stream of audio bytes.
type Service interface {
	// Name returns the provider identifier (for logging/debugging).
	Name() string

	// Synthesize converts text to audio.
	// Returns a reader for streaming audio data; the caller closes it.
	Synthesize(ctx context.Context, text string, config SynthesisConfig) (io.ReadCloser, error)
}

// SynthesisConfig configures text-to-speech synthesis.
type SynthesisConfig struct {
	// Voice is the provider-specific voice ID.
	Voice string

	// Model is the synthesis model (provider-specific).
	Model string

	// Format is the output audio format name ("mp3", "pcm").
	Format string
}

// DefaultSynthesisConfig returns sensible defaults for call audio.
func DefaultSynthesisConfig() SynthesisConfig {
	return SynthesisConfig{
		Format: "mp3",
	}
}
