package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ringlet-ai/ringlet/logger"
)

const (
	deepgramWSBaseURL = "wss://api.deepgram.com/v1/listen"

	// DeepgramModelNova2 is the default live transcription model.
	DeepgramModelNova2 = "nova-2"

	// deepgramEndpointingMS is the upstream silence window that finalizes an utterance.
	deepgramEndpointingMS = 300
)

// AudioSource supplies inbound caller audio chunks in FIFO order.
// *media.ChunkQueue satisfies this interface.
type AudioSource interface {
	Next(ctx context.Context) ([]byte, error)
}

// DeepgramStream implements Stream over Deepgram's live transcription WebSocket.
type DeepgramStream struct {
	apiKey string
	wsURL  string
	model  string
	dialer *websocket.Dialer
	source AudioSource
	log    interface {
		Warn(msg string, args ...any)
		Debug(msg string, args ...any)
	}

	events  *eventQueue
	enabled bool

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc

	closeOnce sync.Once
}

// DeepgramOption configures a DeepgramStream.
type DeepgramOption func(*DeepgramStream)

// WithDeepgramURL sets a custom WebSocket endpoint (for testing).
func WithDeepgramURL(wsURL string) DeepgramOption {
	return func(s *DeepgramStream) {
		s.wsURL = wsURL
	}
}

// WithDeepgramModel sets the live transcription model.
func WithDeepgramModel(model string) DeepgramOption {
	return func(s *DeepgramStream) {
		s.model = model
	}
}

// WithDeepgramDialer sets a custom WebSocket dialer.
func WithDeepgramDialer(dialer *websocket.Dialer) DeepgramOption {
	return func(s *DeepgramStream) {
		s.dialer = dialer
	}
}

// NewDeepgram creates a live recognition stream reading caller audio from source.
// An empty apiKey yields a stream that starts in degraded mode.
func NewDeepgram(apiKey string, source AudioSource, opts ...DeepgramOption) *DeepgramStream {
	s := &DeepgramStream{
		apiKey: apiKey,
		wsURL:  deepgramWSBaseURL,
		model:  DeepgramModelNova2,
		dialer: websocket.DefaultDialer,
		source: source,
		log:    logger.DefaultLogger,
		events: newEventQueue(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the live transcription connection and launches the audio
// forwarding and event reading tasks. Without an API key it logs a warning
// and leaves the stream disabled.
func (s *DeepgramStream) Start(ctx context.Context) error {
	if s.apiKey == "" {
		s.log.Warn("recognition disabled: no API key configured")
		return nil
	}

	endpoint, err := url.Parse(s.wsURL)
	if err != nil {
		return fmt.Errorf("invalid recognition endpoint: %w", err)
	}
	q := endpoint.Query()
	q.Set("model", s.model)
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	q.Set("endpointing", fmt.Sprintf("%d", deepgramEndpointingMS))
	q.Set("vad_events", "true")
	endpoint.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Token "+s.apiKey)

	conn, resp, err := s.dialer.DialContext(ctx, endpoint.String(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("recognition connect failed: %w", err)
	}

	streamCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.conn = conn
	s.cancel = cancel
	s.enabled = true
	s.mu.Unlock()

	go s.forwardAudio(streamCtx, conn)
	go s.readEvents(conn)

	return nil
}

// forwardAudio drains the inbound audio source and sends each chunk upstream.
// Runs until the source closes, the stream context is canceled, or a write fails.
func (s *DeepgramStream) forwardAudio(ctx context.Context, conn *websocket.Conn) {
	for {
		chunk, err := s.source.Next(ctx)
		if err != nil {
			return
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			s.log.Debug("recognition audio send stopped", "error", err)
			return
		}
	}
}

// readEvents translates upstream messages into recognition events until the
// connection closes. Each upstream message yields at most one event.
func (s *DeepgramStream) readEvents(conn *websocket.Conn) {
	defer s.events.close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("recognition event read stopped", "error", err)
			}
			return
		}

		if ev := translateDeepgramMessage(data); ev != nil {
			s.events.push(ev)
		}
	}
}

// deepgramMessage is the subset of Deepgram's live message schema we consume.
type deepgramMessage struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
	Sentiment float64  `json:"sentiment"`
	Tone      []string `json:"tone"`
}

// translateDeepgramMessage maps one upstream message to at most one event.
// Unknown message types and empty transcripts produce nil.
func translateDeepgramMessage(data []byte) *RecognitionEvent {
	var msg deepgramMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil
	}

	switch msg.Type {
	case "SpeechStarted":
		return &RecognitionEvent{Type: EventVoiceStart}
	case "UtteranceEnd":
		return &RecognitionEvent{Type: EventVoiceEnd}
	case "Results":
		if len(msg.Channel.Alternatives) == 0 {
			return nil
		}
		text := msg.Channel.Alternatives[0].Transcript
		if text == "" {
			return nil
		}
		return &RecognitionEvent{
			Type:    EventTranscript,
			IsFinal: msg.IsFinal,
			Text:    text,
			Metadata: &Metadata{
				Sentiment: msg.Sentiment,
				Tone:      msg.Tone,
			},
		}
	default:
		return nil
	}
}

// NextEvent returns the next recognition event in arrival order, or (nil, nil)
// after timeout. A disabled stream always times out.
func (s *DeepgramStream) NextEvent(ctx context.Context, timeout time.Duration) (*RecognitionEvent, error) {
	if !s.Enabled() {
		return DisabledStream{}.NextEvent(ctx, timeout)
	}
	return s.events.next(ctx, timeout)
}

// Close tears down the upstream connection. Idempotent and safe after a
// failed Start; never returns an error so teardown cannot fail on it.
func (s *DeepgramStream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		conn := s.conn
		cancel := s.cancel
		s.conn = nil
		s.enabled = false
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if conn != nil {
			// Ask upstream to flush any pending finals before closing.
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
			_ = conn.Close()
		}
		s.events.close()
	})
	return nil
}

// Enabled reports whether the upstream connection is live.
func (s *DeepgramStream) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}
