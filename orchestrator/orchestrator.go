// Package orchestrator drives one inbound call end to end: greeting,
// listening loop with barge-in and takeover handling, turn processing, and
// teardown with summarization and action-point dispatch.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ringlet-ai/ringlet/escalation"
	"github.com/ringlet-ai/ringlet/logger"
	"github.com/ringlet-ai/ringlet/media"
	prom "github.com/ringlet-ai/ringlet/metrics/prometheus"
	"github.com/ringlet-ai/ringlet/notify"
	"github.com/ringlet-ai/ringlet/retrieval"
	"github.com/ringlet-ai/ringlet/statestore"
	"github.com/ringlet-ai/ringlet/store"
	"github.com/ringlet-ai/ringlet/stt"
	"github.com/ringlet-ai/ringlet/tts"
)

// ErrUnknownBusiness aborts call setup when the called number does not
// resolve to a business.
var ErrUnknownBusiness = errors.New("orchestrator: no business for called number")

// RecognitionStream is the speech recognition channel the loop waits on.
type RecognitionStream interface {
	Start(ctx context.Context) error
	NextEvent(ctx context.Context, timeout time.Duration) (*stt.RecognitionEvent, error)
	Close() error
	Enabled() bool
}

// RecognitionFactory binds a recognition stream to a call's inbound audio.
type RecognitionFactory func(callID string, source stt.AudioSource) RecognitionStream

// SpeechController is the synthesis side of the call.
type SpeechController interface {
	SendStream(ctx context.Context, text string) error
	Flush()
	IsActive() bool
}

// SpeechFactory binds a synthesis controller to a call's outbound audio.
type SpeechFactory func(callID string, sink tts.Sink) SpeechController

// Generator produces responses, summaries, and action points.
type Generator interface {
	Generate(ctx context.Context, model, userText string, snippets []string) (string, error)
	Summarize(ctx context.Context, transcript string) (string, error)
	ExtractActionPoints(ctx context.Context, summary string) ([]ActionPoint, error)
}

// ActionPoint mirrors the generator's extracted follow-up shape.
type ActionPoint struct {
	Type    string            `json:"type"`
	Details map[string]string `json:"details"`
}

// Router picks the generation model for a turn.
type Router interface {
	ChooseModel(ctx context.Context, text string) string
}

// CallControl drives telephony-side actions. All methods are best-effort.
type CallControl interface {
	StartMediaStream(ctx context.Context, callControlID, streamURL string) error
	StopMediaStream(ctx context.Context, callControlID string) error
	Transfer(ctx context.Context, callControlID, phoneNumber string) error
}

// Broadcaster fans escalation events out to realtime subscribers.
type Broadcaster interface {
	EmitEscalation(ctx context.Context, businessID string, payload any)
}

// UserNotifier delivers per-user notifications and action points.
type UserNotifier interface {
	NotifyUser(ctx context.Context, contact notify.Contact, title, body string)
	TriggerActionPoint(ctx context.Context, actionType string, details map[string]string) (int, error)
}

// Config bounds the listening loop.
type Config struct {
	// EventTimeout is how long one loop iteration waits for a recognition
	// event before assuming silence or hangup.
	EventTimeout time.Duration

	// MaxTurns caps loop iterations as a safety valve against runaway calls.
	MaxTurns int

	// PrefetchMinLen is the interim-text length at which retrieval context
	// is speculatively prefetched.
	PrefetchMinLen int

	// RetrievalTimeout bounds each context fetch, including the wait on a
	// speculative prefetch, so a stalled query cannot hang the loop.
	RetrievalTimeout time.Duration

	// StatePollTimeout bounds the per-iteration takeover poll.
	StatePollTimeout time.Duration

	// PublicBaseURL is where the transport layer reaches this process for
	// media streaming.
	PublicBaseURL string
}

// Notification announces an inbound call.
type Notification struct {
	// CalledNumber is the business line the customer dialed.
	CalledNumber string

	// CallerNumber identifies the customer.
	CallerNumber string

	// CallControlID is the telephony provider's handle for this call leg.
	// Optional; media streaming and transfer need it.
	CallControlID string
}

// Handler multiplexes one call's audio, recognition, synthesis, session
// state, and escalation decisions into a single control loop.
type Handler struct {
	cfg       Config
	registry  *media.Registry
	sessions  statestore.Store
	calls     store.CallStore
	newRec    RecognitionFactory
	newSpeech SpeechFactory
	retriever retrieval.Searcher
	router    Router
	generator Generator
	evaluator *escalation.Evaluator
	control   CallControl
	broadcast Broadcaster
	notifier  UserNotifier
}

// New creates a call handler. retriever, router, generator, control,
// broadcast, and notifier may be nil; their features degrade to no-ops.
func New(
	cfg Config,
	registry *media.Registry,
	sessions statestore.Store,
	calls store.CallStore,
	newRec RecognitionFactory,
	newSpeech SpeechFactory,
	retriever retrieval.Searcher,
	router Router,
	generator Generator,
	evaluator *escalation.Evaluator,
	control CallControl,
	broadcast Broadcaster,
	notifier UserNotifier,
) *Handler {
	if cfg.EventTimeout <= 0 {
		cfg.EventTimeout = 25 * time.Second
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 50
	}
	if cfg.PrefetchMinLen <= 0 {
		cfg.PrefetchMinLen = 12
	}
	if cfg.RetrievalTimeout <= 0 {
		cfg.RetrievalTimeout = 5 * time.Second
	}
	if cfg.StatePollTimeout <= 0 {
		cfg.StatePollTimeout = 3 * time.Second
	}
	return &Handler{
		cfg:       cfg,
		registry:  registry,
		sessions:  sessions,
		calls:     calls,
		newRec:    newRec,
		newSpeech: newSpeech,
		retriever: retriever,
		router:    router,
		generator: generator,
		evaluator: evaluator,
		control:   control,
		broadcast: broadcast,
		notifier:  notifier,
	}
}

// callSession is one call's live state inside the loop.
type callSession struct {
	call     *store.Call
	business *store.Business
	rec      RecognitionStream
	speech   SpeechController
	rules    []escalation.Rule

	controlID     string
	interim       string
	pf            *prefetchResult
	customerTurns int
	status        string // terminal status decided during the loop
	handlerUserID string
}

// prefetchResult carries a speculative retrieval started on interim text.
type prefetchResult struct {
	query    string
	snippets []string
	done     chan struct{}
}

// HandleInboundCall runs one call to completion. It blocks until the call
// ends by silence, turn cap, transfer, or error, and always tears down the
// streams and registry entry it created.
func (h *Handler) HandleInboundCall(ctx context.Context, n Notification) error {
	business, err := h.calls.GetBusinessByPhone(ctx, n.CalledNumber)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrUnknownBusiness, n.CalledNumber)
		}
		return fmt.Errorf("business lookup failed: %w", err)
	}

	call, err := h.calls.CreateCall(ctx, business.ID, n.CallerNumber)
	if err != nil {
		return fmt.Errorf("call create failed: %w", err)
	}
	log := logger.WithCall(call.ID)

	channels, err := h.registry.Register(call.ID)
	if err != nil {
		return fmt.Errorf("audio channel registration failed: %w", err)
	}

	sess := &callSession{
		call:      call,
		business:  business,
		controlID: n.CallControlID,
	}
	sess.rec = h.newRec(call.ID, channels.Inbound)
	sess.speech = h.newSpeech(call.ID, func(chunk []byte) error {
		h.registry.PushOutbound(call.ID, chunk)
		return nil
	})

	prom.RecordCallStart()
	defer h.teardown(sess, log)

	if err := sess.rec.Start(ctx); err != nil {
		log.Warn("recognition start failed, continuing degraded", "error", err)
	}

	if rules, err := h.calls.ListEscalationRules(ctx, business.ID); err != nil {
		log.Warn("escalation rule load failed", "error", err)
	} else {
		for _, r := range rules {
			sess.rules = append(sess.rules, escalation.Rule{Keywords: r.Keywords, Priority: r.Priority})
		}
	}

	h.greet(ctx, sess, log)

	if err := h.sessions.Set(ctx, call.ID, &statestore.CallState{
		Status: statestore.StatusActive,
		Caller: n.CallerNumber,
	}); err != nil {
		log.Warn("session state write failed", "error", err)
	}

	if h.control != nil && n.CallControlID != "" && h.cfg.PublicBaseURL != "" {
		streamURL := fmt.Sprintf("%s/api/v1/media?call_id=%s", h.cfg.PublicBaseURL, call.ID)
		if err := h.control.StartMediaStream(ctx, n.CallControlID, streamURL); err != nil {
			log.Warn("media stream start failed", "error", err)
		}
	}

	h.listen(ctx, sess, log)
	return nil
}

// listen runs the bounded event loop until silence, transfer, or the turn cap.
func (h *Handler) listen(ctx context.Context, sess *callSession, log *slog.Logger) {
	if !sess.rec.Enabled() {
		log.Warn("recognition unavailable, ending listening loop")
		return
	}

	for i := 0; i < h.cfg.MaxTurns; i++ {
		// Takeover wins over any buffered speech.
		if h.checkTakeover(ctx, sess, log) {
			return
		}

		ev, err := sess.rec.NextEvent(ctx, h.cfg.EventTimeout)
		if err != nil {
			log.Warn("recognition event read failed", "error", err)
			return
		}
		if ev == nil {
			log.Info("no speech within timeout, ending call")
			return
		}
		prom.RecordRecognitionEvent(ev.Type.String())

		switch ev.Type {
		case stt.EventVoiceStart:
			h.flushIfSpeaking(sess)

		case stt.EventVoiceEnd:
			// Bookkeeping only.

		case stt.EventTranscript:
			if !ev.IsFinal {
				sess.interim = ev.Text
				h.flushIfSpeaking(sess)
				h.maybePrefetch(ctx, sess)
				continue
			}

			text := strings.TrimSpace(ev.Text)
			if text == "" {
				text = strings.TrimSpace(sess.interim)
			}
			if sess.speech.IsActive() {
				sess.speech.Flush()
			}
			if text != "" {
				h.processTurn(ctx, sess, text, ev.Metadata, log)
			}
			sess.interim = ""
			sess.pf = nil
		}
	}
	log.Info("turn cap reached, ending call")
}

// checkTakeover polls session state and transfers the call when a human has
// requested it with a target number. Returns true when the loop must exit.
func (h *Handler) checkTakeover(ctx context.Context, sess *callSession, log *slog.Logger) bool {
	pollCtx, cancel := context.WithTimeout(ctx, h.cfg.StatePollTimeout)
	state, err := h.sessions.Get(pollCtx, sess.call.ID)
	cancel()
	if err != nil {
		if !errors.Is(err, statestore.ErrNotFound) {
			log.Warn("session state read failed", "error", err)
		}
		return false
	}
	if !state.TakeoverRequested || state.TakeoverPhone == "" {
		return false
	}

	log.Info("takeover requested, transferring call",
		"user_id", state.TakeoverUserID, "target", state.TakeoverPhone)

	if sess.speech.IsActive() {
		sess.speech.Flush()
	}
	if h.control != nil && sess.controlID != "" {
		if err := h.control.Transfer(ctx, sess.controlID, state.TakeoverPhone); err != nil {
			log.Warn("call transfer failed", "error", err)
		}
	}
	sess.status = store.CallTransferred
	sess.handlerUserID = state.TakeoverUserID
	if err := h.calls.SetCallStatus(ctx, sess.call.ID, store.CallTransferred, state.TakeoverUserID); err != nil {
		log.Warn("call status update failed", "error", err)
	}
	return true
}

func (h *Handler) flushIfSpeaking(sess *callSession) {
	if sess.speech.IsActive() {
		sess.speech.Flush()
		prom.RecordBargeIn()
	}
}

// maybePrefetch starts a speculative retrieval once the interim text is long
// enough, hiding retrieval latency behind continued speech.
func (h *Handler) maybePrefetch(ctx context.Context, sess *callSession) {
	if h.retriever == nil || sess.pf != nil || len(sess.interim) < h.cfg.PrefetchMinLen {
		return
	}
	pf := &prefetchResult{query: sess.interim, done: make(chan struct{})}
	sess.pf = pf
	go func() {
		defer close(pf.done)
		fetchCtx, cancel := context.WithTimeout(ctx, h.cfg.RetrievalTimeout)
		defer cancel()
		snippets, err := h.retriever.FetchContext(fetchCtx, sess.business.ID, pf.query, 3)
		if err != nil {
			logger.WithCall(sess.call.ID).Debug("context prefetch failed", "error", err)
			return
		}
		pf.snippets = snippets
	}()
}

// fetchContext returns retrieval context for the finalized text, reusing the
// prefetched result when the final text extends the prefetch query.
func (h *Handler) fetchContext(ctx context.Context, sess *callSession, text string) []string {
	if h.retriever == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, h.cfg.RetrievalTimeout)
	defer cancel()

	if pf := sess.pf; pf != nil && strings.HasPrefix(text, pf.query) {
		select {
		case <-pf.done:
			if pf.snippets != nil {
				return pf.snippets
			}
		case <-ctx.Done():
			logger.WithCall(sess.call.ID).Warn("context fetch timed out waiting on prefetch")
			return nil
		}
	}
	snippets, err := h.retriever.FetchContext(ctx, sess.business.ID, text, 3)
	if err != nil {
		logger.WithCall(sess.call.ID).Warn("context fetch failed", "error", err)
		return nil
	}
	return snippets
}

// processTurn handles one finalized customer utterance: retrieval, routing,
// generation, transcript recording, synthesis, and escalation.
func (h *Handler) processTurn(ctx context.Context, sess *callSession, text string, meta *stt.Metadata, log *slog.Logger) {
	snippets := h.fetchContext(ctx, sess, text)

	model := ""
	if h.router != nil {
		model = h.router.ChooseModel(ctx, text)
	}

	var sentiment *float64
	if meta != nil {
		s := meta.Sentiment
		sentiment = &s
	}
	if err := h.calls.AppendTurn(ctx, &store.Turn{
		CallID:    sess.call.ID,
		Speaker:   store.SpeakerCustomer,
		Content:   text,
		Sentiment: sentiment,
	}); err != nil {
		log.Warn("customer turn record failed", "error", err)
	}
	sess.customerTurns++
	prom.RecordTurn(store.SpeakerCustomer)

	if h.generator == nil {
		return
	}

	start := time.Now()
	response, err := h.generator.Generate(ctx, model, text, snippets)
	if err != nil {
		// Failed turn: the customer hears nothing new, the loop continues.
		prom.RecordGeneration(model, "error", time.Since(start).Seconds())
		log.Warn("response generation failed, skipping turn", "error", err)
		return
	}
	prom.RecordGeneration(model, "success", time.Since(start).Seconds())

	if err := h.calls.AppendTurn(ctx, &store.Turn{
		CallID:  sess.call.ID,
		Speaker: store.SpeakerAI,
		Content: response,
	}); err != nil {
		log.Warn("agent turn record failed", "error", err)
	}
	prom.RecordTurn(store.SpeakerAI)

	if err := sess.speech.SendStream(ctx, response); err != nil {
		log.Warn("synthesis failed", "error", err)
	}

	h.evaluateEscalation(ctx, sess, text+" "+response, meta, log)
}

// evaluateEscalation scores the exchange and, on escalation, updates status,
// assigns a handler, and notifies the business.
func (h *Handler) evaluateEscalation(ctx context.Context, sess *callSession, text string, meta *stt.Metadata, log *slog.Logger) {
	if h.evaluator == nil || sess.status == store.CallEscalated {
		return
	}

	decision := h.evaluator.Evaluate(ctx, sess.rules, text, meta)
	if !decision.Escalated {
		return
	}

	log.Info("call escalated", "reason", decision.Reason, "score", decision.Score)
	prom.RecordEscalation()
	sess.status = store.CallEscalated

	users, err := h.calls.ListBusinessUsers(ctx, sess.business.ID)
	if err != nil {
		log.Warn("business user load failed", "error", err)
	}

	// First staff member gets the call; the owner is the fallback handler.
	for _, u := range users {
		if sess.handlerUserID == "" || u.Role == "staff" {
			sess.handlerUserID = u.ID
			if u.Role == "staff" {
				break
			}
		}
	}

	if err := h.calls.SetCallStatus(ctx, sess.call.ID, store.CallEscalated, sess.handlerUserID); err != nil {
		log.Warn("call status update failed", "error", err)
	}
	if err := h.sessions.Update(ctx, sess.call.ID, func(s *statestore.CallState) {
		s.Status = statestore.StatusEscalated
	}); err != nil {
		log.Warn("session state update failed", "error", err)
	}

	if h.broadcast != nil {
		h.broadcast.EmitEscalation(ctx, sess.business.ID, map[string]any{
			"call_id": sess.call.ID,
			"reason":  decision.Reason,
			"score":   decision.Score,
		})
	}
	if h.notifier != nil {
		title := "Call escalation"
		body := fmt.Sprintf("Call %s escalated: %s", sess.call.ID, decision.Reason)
		for _, u := range users {
			h.notifier.NotifyUser(ctx, notify.Contact{
				Email:     u.Email,
				Phone:     u.Phone,
				PushToken: u.PushToken,
			}, title, body)
		}
	}
}

// greet looks up the caller's profile and synthesizes a personalized
// greeting. Lookup failures fall back to the generic greeting.
func (h *Handler) greet(ctx context.Context, sess *callSession, log *slog.Logger) {
	greeting := "Hi there! Thanks for calling. How can I help you today?"
	profile, err := h.calls.GetCustomerProfile(ctx, sess.business.ID, sess.call.CallerNumber)
	if err == nil && profile.Preferences["greeting"] == "formal" {
		greeting = fmt.Sprintf("Hello %s. How may I assist you today?", profile.Name)
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Warn("customer profile lookup failed", "error", err)
	}

	if err := sess.speech.SendStream(ctx, greeting); err != nil {
		log.Warn("greeting synthesis failed", "error", err)
	}
}

// teardown releases everything setup acquired and finalizes the call record.
// Every step swallows its own errors: one call's cleanup failure must never
// block other calls.
func (h *Handler) teardown(sess *callSession, log *slog.Logger) {
	// Teardown must finish even if the caller's context is gone.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := sess.rec.Close(); err != nil {
		log.Warn("recognition close failed", "error", err)
	}
	h.registry.Unregister(sess.call.ID)

	if h.control != nil && sess.controlID != "" {
		if err := h.control.StopMediaStream(ctx, sess.controlID); err != nil {
			log.Warn("media stream stop failed", "error", err)
		}
	}

	if err := h.sessions.Delete(ctx, sess.call.ID); err != nil {
		log.Warn("session state delete failed", "error", err)
	}

	status := sess.status
	if status == "" {
		if sess.customerTurns == 0 {
			status = store.CallMissed
		} else {
			status = store.CallCompleted
		}
		if err := h.calls.SetCallStatus(ctx, sess.call.ID, status, ""); err != nil {
			log.Warn("call status update failed", "error", err)
		}
	}

	endedAt := time.Now().UTC()
	duration := int(endedAt.Sub(sess.call.StartedAt).Seconds())

	summary, points := h.summarize(ctx, sess, log)
	if err := h.calls.FinalizeCall(ctx, sess.call.ID, endedAt, duration, summary, points); err != nil {
		log.Warn("call finalize failed", "error", err)
	}

	h.dispatchActionPoints(ctx, sess, points, log)

	prom.RecordCallEnd(status, float64(duration))
	log.Info("call ended", "status", status, "duration_seconds", duration)
}

// summarize builds the transcript summary and extracts action points.
func (h *Handler) summarize(ctx context.Context, sess *callSession, log *slog.Logger) (string, []store.ActionPoint) {
	if h.generator == nil || sess.customerTurns == 0 {
		return "", nil
	}

	turns, err := h.calls.ListTurns(ctx, sess.call.ID)
	if err != nil {
		log.Warn("transcript load failed", "error", err)
		return "", nil
	}
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Speaker, t.Content)
	}

	summary, err := h.generator.Summarize(ctx, b.String())
	if err != nil {
		log.Warn("summarization failed", "error", err)
		return "", nil
	}

	extracted, err := h.generator.ExtractActionPoints(ctx, summary)
	if err != nil {
		log.Warn("action point extraction failed", "error", err)
		return summary, nil
	}

	points := make([]store.ActionPoint, len(extracted))
	for i, p := range extracted {
		points[i] = store.ActionPoint{Type: p.Type, Details: p.Details}
	}
	return summary, points
}

// dispatchActionPoints delivers each action point to its declared target and
// records the delivery outcome.
func (h *Handler) dispatchActionPoints(ctx context.Context, sess *callSession, points []store.ActionPoint, log *slog.Logger) {
	if h.notifier == nil {
		return
	}
	for _, p := range points {
		target := p.Details["to"]
		if target == "" {
			target = p.Details["url"]
		}
		delivery, err := h.calls.CreateActionDelivery(ctx, sess.call.ID, p.Type, target)
		if err != nil {
			log.Warn("action delivery record failed", "error", err)
		}

		attempts, sendErr := h.notifier.TriggerActionPoint(ctx, p.Type, p.Details)
		status := store.DeliverySuccess
		lastError := ""
		if sendErr != nil {
			status = store.DeliveryFailed
			lastError = sendErr.Error()
			log.Warn("action point dispatch failed", "action_type", p.Type, "error", sendErr)
		}
		if delivery != nil {
			if err := h.calls.UpdateActionDelivery(ctx, delivery.ID, status, attempts, lastError); err != nil {
				log.Warn("action delivery update failed", "error", err)
			}
		}
	}
}
