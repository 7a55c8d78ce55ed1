// Package api exposes the service's HTTP surface: the inbound-call webhook,
// the telephony media stream WebSocket, the operator takeover endpoint, and
// the realtime alerts socket.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/ringlet-ai/ringlet/logger"
	"github.com/ringlet-ai/ringlet/media"
	"github.com/ringlet-ai/ringlet/orchestrator"
	"github.com/ringlet-ai/ringlet/recording"
	"github.com/ringlet-ai/ringlet/statestore"
)

// CallHandler runs one inbound call to completion.
type CallHandler interface {
	HandleInboundCall(ctx context.Context, n orchestrator.Notification) error
}

// Server routes HTTP and WebSocket traffic to the call-handling runtime.
type Server struct {
	handler  CallHandler
	registry *media.Registry
	sessions statestore.Store
	alerts   http.Handler
	recorder *recording.Recorder
	upgrader websocket.Upgrader
}

// Option configures a Server.
type Option func(*Server)

// WithRecorder enables call-audio recording on the media bridge.
func WithRecorder(r *recording.Recorder) Option {
	return func(s *Server) {
		s.recorder = r
	}
}

// NewServer creates the HTTP surface. alerts may be nil to disable the
// realtime alerts socket.
func NewServer(handler CallHandler, registry *media.Registry, sessions statestore.Store, alerts http.Handler, opts ...Option) *Server {
	s := &Server{
		handler:  handler,
		registry: registry,
		sessions: sessions,
		alerts:   alerts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the full route table.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/calls/inbound", s.handleInboundCall)
	mux.HandleFunc("GET /api/v1/media", s.handleMediaStream)
	mux.HandleFunc("POST /api/v1/calls/{call_id}/takeover", s.handleTakeover)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.alerts != nil {
		mux.Handle("GET /ws/alerts", s.alerts)
	}
	return mux
}

// inboundCallRequest is the telephony provider's call notification.
type inboundCallRequest struct {
	CallControlID string `json:"call_control_id"`
	CallerNumber  string `json:"caller_number"`
	ToNumber      string `json:"to_number"`
}

// handleInboundCall accepts the provider webhook and starts the call in the
// background. The webhook must return quickly; the call outlives the request.
func (s *Server) handleInboundCall(w http.ResponseWriter, r *http.Request) {
	var req inboundCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	if req.CallerNumber == "" || req.ToNumber == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "caller_number and to_number are required"})
		return
	}

	go func() {
		err := s.handler.HandleInboundCall(context.Background(), orchestrator.Notification{
			CalledNumber:  req.ToNumber,
			CallerNumber:  req.CallerNumber,
			CallControlID: req.CallControlID,
		})
		if err != nil {
			logger.Warn("inbound call handling failed", "caller", req.CallerNumber, "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// mediaMessage is one frame of the provider's media stream protocol. Audio
// payloads are base64-encoded in both directions.
type mediaMessage struct {
	Event string `json:"event"`
	Media struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

// handleMediaStream bridges the provider's media WebSocket to the call's
// audio channel pair: inbound frames feed recognition, synthesized audio is
// sent back as outbound frames.
func (s *Server) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	callID := r.URL.Query().Get("call_id")
	pair := s.registry.Get(callID)
	if pair == nil {
		http.Error(w, "unknown call", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("media stream upgrade failed", "call_id", callID, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go s.sendOutboundAudio(ctx, conn, pair.Outbound, callID)

	if s.recorder != nil {
		if err := s.recorder.Start(callID); err != nil {
			logger.Warn("call recording start failed", "call_id", callID, "error", err)
		}
		defer func() {
			if _, err := s.recorder.Close(callID); err != nil {
				logger.Warn("call recording close failed", "call_id", callID, "error", err)
			}
		}()
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg mediaMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Event {
		case "media":
			chunk, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
			if err != nil || len(chunk) == 0 {
				continue
			}
			s.registry.PushInbound(callID, chunk)
			if s.recorder != nil {
				if err := s.recorder.Append(callID, chunk); err != nil {
					logger.Warn("call recording write failed", "call_id", callID, "error", err)
				}
			}
		case "stop", "closed":
			return
		}
	}
}

// sendOutboundAudio drains the call's outbound queue onto the WebSocket.
// It is the connection's only writer.
func (s *Server) sendOutboundAudio(ctx context.Context, conn *websocket.Conn, outbound *media.ChunkQueue, callID string) {
	for {
		chunk, err := outbound.Next(ctx)
		if err != nil {
			if !errors.Is(err, media.ErrQueueClosed) && !errors.Is(err, context.Canceled) {
				logger.Warn("outbound audio read failed", "call_id", callID, "error", err)
			}
			return
		}

		var msg mediaMessage
		msg.Event = "media"
		msg.Media.Payload = base64.StdEncoding.EncodeToString(chunk)
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// takeoverRequest asks for a live call to be handed to a human operator.
type takeoverRequest struct {
	UserID      string `json:"user_id"`
	PhoneNumber string `json:"phone_number"`
}

// handleTakeover flags the call's session state so the turn loop's next poll
// transfers the call to the operator's number.
func (s *Server) handleTakeover(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("call_id")

	var req takeoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	if req.UserID == "" || req.PhoneNumber == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id and phone_number are required"})
		return
	}

	if _, err := s.sessions.Get(r.Context(), callID); err != nil {
		if errors.Is(err, statestore.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no active session for call"})
			return
		}
		logger.Warn("session lookup failed", "call_id", callID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "session lookup failed"})
		return
	}

	err := s.sessions.Update(r.Context(), callID, func(state *statestore.CallState) {
		state.TakeoverRequested = true
		state.TakeoverUserID = req.UserID
		state.TakeoverPhone = req.PhoneNumber
	})
	if err != nil {
		logger.Warn("takeover state write failed", "call_id", callID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "takeover state write failed"})
		return
	}

	logger.Info("takeover requested", "call_id", callID, "user_id", req.UserID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
