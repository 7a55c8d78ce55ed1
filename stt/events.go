package stt

// EventType tags a RecognitionEvent variant.
type EventType int

const (
	// EventVoiceStart marks the caller beginning to speak.
	EventVoiceStart EventType = iota
	// EventVoiceEnd marks the end of a caller utterance.
	EventVoiceEnd
	// EventTranscript carries interim or final transcript text.
	EventTranscript
)

// String returns a human-readable representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventVoiceStart:
		return "voice_start"
	case EventVoiceEnd:
		return "voice_end"
	case EventTranscript:
		return "transcript"
	default:
		return "unknown"
	}
}

// Metadata carries recognition-side signals attached to a transcript.
type Metadata struct {
	// Sentiment is the upstream sentiment score in [-1, 1]; 0 when absent.
	Sentiment float64 `json:"sentiment"`

	// Tone lists upstream tone tags (e.g. "aggressive"); empty when absent.
	Tone []string `json:"tone,omitempty"`
}

// RecognitionEvent is one element of a stream's ordered event sequence.
// Only EventTranscript events populate IsFinal, Text, and Metadata.
// Metadata is nil when the upstream attached no signals.
type RecognitionEvent struct {
	Type     EventType
	IsFinal  bool
	Text     string
	Metadata *Metadata
}
