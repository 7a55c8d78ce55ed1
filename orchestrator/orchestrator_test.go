package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringlet-ai/ringlet/escalation"
	"github.com/ringlet-ai/ringlet/media"
	"github.com/ringlet-ai/ringlet/notify"
	"github.com/ringlet-ai/ringlet/statestore"
	"github.com/ringlet-ai/ringlet/store"
	"github.com/ringlet-ai/ringlet/stt"
	"github.com/ringlet-ai/ringlet/tts"
)

// fakeRecognition serves a scripted event sequence, then reports timeouts.
type fakeRecognition struct {
	mu      sync.Mutex
	events  []*stt.RecognitionEvent
	enabled bool
	closes  int

	// onNext runs after each delivered event, outside the lock.
	onNext func(ev *stt.RecognitionEvent)
}

func (f *fakeRecognition) Start(context.Context) error { return nil }

func (f *fakeRecognition) NextEvent(_ context.Context, _ time.Duration) (*stt.RecognitionEvent, error) {
	f.mu.Lock()
	if len(f.events) == 0 {
		f.mu.Unlock()
		return nil, nil
	}
	ev := f.events[0]
	f.events = f.events[1:]
	f.mu.Unlock()

	if f.onNext != nil {
		f.onNext(ev)
	}
	return ev, nil
}

func (f *fakeRecognition) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeRecognition) Enabled() bool { return f.enabled }

// fakeSpeech records synthesized texts and flushes. If stickyActive is set,
// IsActive stays true until the next Flush.
type fakeSpeech struct {
	mu           sync.Mutex
	texts        []string
	flushes      int
	stickyActive bool
	active       bool
}

func (f *fakeSpeech) SendStream(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	if f.stickyActive {
		f.active = true
	}
	return nil
}

func (f *fakeSpeech) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	f.active = false
}

func (f *fakeSpeech) IsActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeSpeech) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type fakeGenerator struct {
	response string
	err      error
	summary  string
	points   []ActionPoint
}

func (f *fakeGenerator) Generate(context.Context, string, string, []string) (string, error) {
	return f.response, f.err
}

func (f *fakeGenerator) Summarize(context.Context, string) (string, error) {
	return f.summary, nil
}

func (f *fakeGenerator) ExtractActionPoints(context.Context, string) ([]ActionPoint, error) {
	return f.points, nil
}

type fakeRouter struct{ model string }

func (f *fakeRouter) ChooseModel(context.Context, string) string { return f.model }

type fakeRetriever struct {
	mu      sync.Mutex
	queries []string
}

func (f *fakeRetriever) FetchContext(_ context.Context, _, query string, _ int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	return []string{"hours: 9-5"}, nil
}

func (f *fakeRetriever) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

func (f *fakeRetriever) allQueries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

// blockingRetriever blocks every fetch until its context is cancelled.
type blockingRetriever struct{}

func (blockingRetriever) FetchContext(ctx context.Context, _, _ string, _ int) ([]string, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// stallingStateStore delays every Get until its context is cancelled.
type stallingStateStore struct {
	statestore.Store
}

func (s stallingStateStore) Get(ctx context.Context, _ string) (*statestore.CallState, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type fakeControl struct {
	mu        sync.Mutex
	started   []string
	stopped   []string
	transfers []string
}

func (f *fakeControl) StartMediaStream(_ context.Context, id, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, id)
	return nil
}

func (f *fakeControl) StopMediaStream(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, id)
	return nil
}

func (f *fakeControl) Transfer(_ context.Context, _, phone string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers = append(f.transfers, phone)
	return nil
}

type fakeBroadcaster struct {
	mu       sync.Mutex
	payloads []any
}

func (f *fakeBroadcaster) EmitEscalation(_ context.Context, _ string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
}

type fakeNotifier struct {
	mu       sync.Mutex
	contacts []notify.Contact
	actions  []string
}

func (f *fakeNotifier) NotifyUser(_ context.Context, contact notify.Contact, _, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contacts = append(f.contacts, contact)
}

func (f *fakeNotifier) TriggerActionPoint(_ context.Context, actionType string, _ map[string]string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, actionType)
	return 1, nil
}

// fixture wires a Handler around in-memory stores and fakes.
type fixture struct {
	handler   *Handler
	registry  *media.Registry
	sessions  *statestore.MemoryStore
	calls     *store.MemoryCallStore
	rec       *fakeRecognition
	speech    *fakeSpeech
	generator *fakeGenerator
	retriever *fakeRetriever
	control   *fakeControl
	broadcast *fakeBroadcaster
	notifier  *fakeNotifier
}

func newFixture(t *testing.T, events []*stt.RecognitionEvent) *fixture {
	t.Helper()
	f := &fixture{
		registry:  media.NewRegistry(),
		sessions:  statestore.NewMemoryStore(),
		calls:     store.NewMemoryCallStore(),
		rec:       &fakeRecognition{events: events, enabled: true},
		speech:    &fakeSpeech{},
		generator: &fakeGenerator{response: "We open at nine.", summary: "caller asked about hours"},
		retriever: &fakeRetriever{},
		control:   &fakeControl{},
		broadcast: &fakeBroadcaster{},
		notifier:  &fakeNotifier{},
	}
	f.calls.AddBusiness(&store.Business{ID: "biz-1", Name: "Acme", PhoneNumber: "+15550001"})

	f.handler = New(
		Config{EventTimeout: 100 * time.Millisecond, MaxTurns: 50, PrefetchMinLen: 12, PublicBaseURL: "https://agent.example.com"},
		f.registry,
		f.sessions,
		f.calls,
		func(string, stt.AudioSource) RecognitionStream { return f.rec },
		func(string, tts.Sink) SpeechController { return f.speech },
		f.retriever,
		&fakeRouter{model: "gpt-4o-mini"},
		f.generator,
		escalation.NewEvaluator(nil),
		f.control,
		f.broadcast,
		f.notifier,
	)
	return f
}

func (f *fixture) onlyCall(t *testing.T) *store.Call {
	t.Helper()
	calls := f.calls.ListCalls()
	require.Len(t, calls, 1)
	return calls[0]
}

func transcriptEvent(text string, final bool, meta *stt.Metadata) *stt.RecognitionEvent {
	return &stt.RecognitionEvent{Type: stt.EventTranscript, IsFinal: final, Text: text, Metadata: meta}
}

func voiceStart() *stt.RecognitionEvent { return &stt.RecognitionEvent{Type: stt.EventVoiceStart} }

func TestHandleInboundCall_UnknownBusinessAborts(t *testing.T) {
	f := newFixture(t, nil)

	err := f.handler.HandleInboundCall(context.Background(), Notification{
		CalledNumber: "+19990000",
		CallerNumber: "+15551234",
	})

	assert.ErrorIs(t, err, ErrUnknownBusiness)
	assert.Zero(t, f.registry.Len(), "no audio channels may be left behind")
	assert.Empty(t, f.speech.sent(), "no greeting without a resolved business")
}

func TestHandleInboundCall_HappyPath(t *testing.T) {
	f := newFixture(t, []*stt.RecognitionEvent{
		voiceStart(),
		transcriptEvent("when do you open", true, &stt.Metadata{Sentiment: 0.1}),
	})

	err := f.handler.HandleInboundCall(context.Background(), Notification{
		CalledNumber:  "+15550001",
		CallerNumber:  "+15551234",
		CallControlID: "ctrl-1",
	})
	require.NoError(t, err)

	call := f.onlyCall(t)
	assert.Equal(t, store.CallCompleted, call.Status)
	require.NotNil(t, call.EndedAt)
	assert.Equal(t, "caller asked about hours", call.Summary)

	turns, err := f.calls.ListTurns(context.Background(), call.ID)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, store.SpeakerCustomer, turns[0].Speaker)
	assert.Equal(t, "when do you open", turns[0].Content)
	assert.Equal(t, store.SpeakerAI, turns[1].Speaker)
	assert.False(t, turns[1].Timestamp.Before(turns[0].Timestamp))

	// Greeting plus the generated response were synthesized.
	sent := f.speech.sent()
	require.Len(t, sent, 2)
	assert.Contains(t, sent[0], "Thanks for calling")
	assert.Equal(t, "We open at nine.", sent[1])

	// Teardown released everything exactly once.
	assert.Equal(t, 1, f.rec.closes)
	assert.Zero(t, f.registry.Len())
	_, err = f.sessions.Get(context.Background(), call.ID)
	assert.ErrorIs(t, err, statestore.ErrNotFound)
	assert.Equal(t, []string{"ctrl-1"}, f.control.started)
	assert.Equal(t, []string{"ctrl-1"}, f.control.stopped)
}

func TestHandleInboundCall_FormalGreeting(t *testing.T) {
	f := newFixture(t, nil)
	f.calls.AddCustomerProfile(&store.CustomerProfile{
		BusinessID:   "biz-1",
		CallerNumber: "+15551234",
		Name:         "Dana",
		Preferences:  map[string]string{"greeting": "formal"},
	})

	err := f.handler.HandleInboundCall(context.Background(), Notification{
		CalledNumber: "+15550001",
		CallerNumber: "+15551234",
	})
	require.NoError(t, err)

	sent := f.speech.sent()
	require.NotEmpty(t, sent)
	assert.Equal(t, "Hello Dana. How may I assist you today?", sent[0])
}

func TestHandleInboundCall_BargeInFlushesSynthesis(t *testing.T) {
	f := newFixture(t, []*stt.RecognitionEvent{
		voiceStart(),
		transcriptEvent("actually wait", true, nil),
	})
	f.speech.stickyActive = true

	err := f.handler.HandleInboundCall(context.Background(), Notification{
		CalledNumber: "+15550001",
		CallerNumber: "+15551234",
	})
	require.NoError(t, err)

	// The greeting left synthesis active; voice_activity_start must flush
	// it before the final transcript is processed.
	assert.GreaterOrEqual(t, f.speech.flushes, 1)
	// The turn was still answered after the flush.
	assert.Len(t, f.speech.sent(), 2)
}

func TestHandleInboundCall_TakeoverBeatsBufferedSpeech(t *testing.T) {
	f := newFixture(t, []*stt.RecognitionEvent{
		transcriptEvent("I want a", false, nil),
		transcriptEvent("I want a refund", true, nil),
	})
	// A human requests takeover right after the interim arrives; the next
	// poll must transfer before the buffered final transcript is processed.
	f.rec.onNext = func(ev *stt.RecognitionEvent) {
		if !ev.IsFinal {
			_ = f.sessions.Update(context.Background(), f.onlyCall(t).ID, func(s *statestore.CallState) {
				s.TakeoverRequested = true
				s.TakeoverUserID = "user-9"
				s.TakeoverPhone = "+15559999"
			})
		}
	}

	err := f.handler.HandleInboundCall(context.Background(), Notification{
		CalledNumber:  "+15550001",
		CallerNumber:  "+15551234",
		CallControlID: "ctrl-1",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"+15559999"}, f.control.transfers)

	call := f.onlyCall(t)
	assert.Equal(t, store.CallTransferred, call.Status)
	assert.Equal(t, "user-9", call.EscalatedToUser)

	// The buffered final transcript was never processed as a turn.
	turns, err := f.calls.ListTurns(context.Background(), call.ID)
	require.NoError(t, err)
	assert.Empty(t, turns)

	// Teardown still ran.
	assert.Equal(t, 1, f.rec.closes)
	assert.Zero(t, f.registry.Len())
}

func TestHandleInboundCall_DisabledRecognitionExitsCleanly(t *testing.T) {
	f := newFixture(t, nil)
	f.rec.enabled = false

	err := f.handler.HandleInboundCall(context.Background(), Notification{
		CalledNumber: "+15550001",
		CallerNumber: "+15551234",
	})
	require.NoError(t, err)

	call := f.onlyCall(t)
	assert.Equal(t, store.CallMissed, call.Status)
	require.NotNil(t, call.EndedAt)

	// Teardown executed fully despite the immediate exit.
	assert.Equal(t, 1, f.rec.closes)
	assert.Zero(t, f.registry.Len())
}

func TestHandleInboundCall_EscalationNotifiesBusiness(t *testing.T) {
	f := newFixture(t, []*stt.RecognitionEvent{
		transcriptEvent("I want a refund now", true, &stt.Metadata{Sentiment: -0.8}),
	})
	f.calls.AddEscalationRule(&store.EscalationRule{
		BusinessID: "biz-1",
		Keywords:   []string{"refund"},
		Priority:   4,
	})
	f.calls.AddBusinessUser("biz-1", &store.BusinessUser{ID: "owner-1", Email: "owner@example.com", Role: "owner"})
	f.calls.AddBusinessUser("biz-1", &store.BusinessUser{ID: "staff-1", Email: "staff@example.com", Role: "staff"})

	err := f.handler.HandleInboundCall(context.Background(), Notification{
		CalledNumber: "+15550001",
		CallerNumber: "+15551234",
	})
	require.NoError(t, err)

	call := f.onlyCall(t)
	assert.Equal(t, store.CallEscalated, call.Status)
	assert.Equal(t, "staff-1", call.EscalatedToUser, "available staff gets the call")

	require.Len(t, f.broadcast.payloads, 1)
	payload := f.broadcast.payloads[0].(map[string]any)
	assert.Equal(t, "Keyword rule match", payload["reason"])
	assert.GreaterOrEqual(t, payload["score"].(int), 9)

	// Every business user was notified through their channels.
	assert.Len(t, f.notifier.contacts, 2)
}

func TestHandleInboundCall_GenerationFailureSkipsTurn(t *testing.T) {
	f := newFixture(t, []*stt.RecognitionEvent{
		transcriptEvent("when do you open", true, nil),
		transcriptEvent("hello?", true, nil),
	})
	f.generator.err = errors.New("upstream timeout")

	err := f.handler.HandleInboundCall(context.Background(), Notification{
		CalledNumber: "+15550001",
		CallerNumber: "+15551234",
	})
	require.NoError(t, err)

	call := f.onlyCall(t)
	turns, err := f.calls.ListTurns(context.Background(), call.ID)
	require.NoError(t, err)

	// Both customer turns recorded, no agent turns, loop kept going.
	require.Len(t, turns, 2)
	for _, turn := range turns {
		assert.Equal(t, store.SpeakerCustomer, turn.Speaker)
	}
	// Only the greeting was synthesized.
	assert.Len(t, f.speech.sent(), 1)
}

func TestHandleInboundCall_EmptyFinalFallsBackToInterim(t *testing.T) {
	f := newFixture(t, []*stt.RecognitionEvent{
		transcriptEvent("do you do weekends", false, nil),
		transcriptEvent("", true, nil),
	})

	err := f.handler.HandleInboundCall(context.Background(), Notification{
		CalledNumber: "+15550001",
		CallerNumber: "+15551234",
	})
	require.NoError(t, err)

	call := f.onlyCall(t)
	turns, err := f.calls.ListTurns(context.Background(), call.ID)
	require.NoError(t, err)
	require.NotEmpty(t, turns)
	assert.Equal(t, "do you do weekends", turns[0].Content)
}

func TestHandleInboundCall_PrefetchReusedForExtendingFinal(t *testing.T) {
	f := newFixture(t, []*stt.RecognitionEvent{
		transcriptEvent("when do you open on", false, nil),
		transcriptEvent("when do you open on saturdays", true, nil),
	})

	err := f.handler.HandleInboundCall(context.Background(), Notification{
		CalledNumber: "+15550001",
		CallerNumber: "+15551234",
	})
	require.NoError(t, err)

	// One retrieval for the prefetch; the final reused it because the
	// finalized text extends the prefetch query.
	assert.Equal(t, 1, f.retriever.queryCount())
	assert.Equal(t, "when do you open on", f.retriever.allQueries()[0])
}

func TestHandleInboundCall_PrefetchDiscardedWhenSuperseded(t *testing.T) {
	f := newFixture(t, []*stt.RecognitionEvent{
		transcriptEvent("when do you open on", false, nil),
		transcriptEvent("can I get a quote instead", true, nil),
	})

	err := f.handler.HandleInboundCall(context.Background(), Notification{
		CalledNumber: "+15550001",
		CallerNumber: "+15551234",
	})
	require.NoError(t, err)

	// Prefetch plus a fresh fetch for the unrelated final text. The
	// prefetch goroutine may still be in flight when the call returns.
	assert.Eventually(t, func() bool { return f.retriever.queryCount() == 2 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, f.retriever.allQueries(), "can I get a quote instead")
	assert.Contains(t, f.retriever.allQueries(), "when do you open on")
}

func TestHandleInboundCall_StalledRetrievalDoesNotHangLoop(t *testing.T) {
	f := newFixture(t, []*stt.RecognitionEvent{
		transcriptEvent("when do you open on", false, nil),
		transcriptEvent("when do you open on saturdays", true, nil),
	})
	f.handler.retriever = blockingRetriever{}
	f.handler.cfg.RetrievalTimeout = 50 * time.Millisecond

	done := make(chan error, 1)
	go func() {
		done <- f.handler.HandleInboundCall(context.Background(), Notification{
			CalledNumber: "+15550001",
			CallerNumber: "+15551234",
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("call loop blocked on stalled retrieval")
	}

	// The turn was still answered, just without retrieval context.
	call := f.onlyCall(t)
	turns, err := f.calls.ListTurns(context.Background(), call.ID)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	sent := f.speech.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "We open at nine.", sent[1])
}

func TestHandleInboundCall_SlowStatePollDoesNotHangLoop(t *testing.T) {
	f := newFixture(t, []*stt.RecognitionEvent{
		transcriptEvent("when do you open", true, nil),
	})
	f.handler.sessions = stallingStateStore{Store: f.sessions}
	f.handler.cfg.StatePollTimeout = 50 * time.Millisecond

	done := make(chan error, 1)
	go func() {
		done <- f.handler.HandleInboundCall(context.Background(), Notification{
			CalledNumber: "+15550001",
			CallerNumber: "+15551234",
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("call loop blocked on stalled session-state poll")
	}

	// A failed poll is treated as no takeover; the call still completed.
	call := f.onlyCall(t)
	assert.Equal(t, store.CallCompleted, call.Status)
}

func TestHandleInboundCall_SilenceEndsCall(t *testing.T) {
	f := newFixture(t, nil)

	err := f.handler.HandleInboundCall(context.Background(), Notification{
		CalledNumber: "+15550001",
		CallerNumber: "+15551234",
	})
	require.NoError(t, err)

	call := f.onlyCall(t)
	assert.Equal(t, store.CallMissed, call.Status)
}

func TestHandleInboundCall_ActionPointsDispatched(t *testing.T) {
	f := newFixture(t, []*stt.RecognitionEvent{
		transcriptEvent("send me a quote", true, nil),
	})
	f.generator.points = []ActionPoint{
		{Type: "sms", Details: map[string]string{"to": "+15551234", "body": "quote attached"}},
		{Type: "webhook", Details: map[string]string{"url": "https://example.com/hook"}},
	}

	err := f.handler.HandleInboundCall(context.Background(), Notification{
		CalledNumber: "+15550001",
		CallerNumber: "+15551234",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"sms", "webhook"}, f.notifier.actions)

	deliveries := f.calls.ListActionDeliveries()
	require.Len(t, deliveries, 2)
	for _, d := range deliveries {
		assert.Equal(t, store.DeliverySuccess, d.Status)
		assert.Equal(t, 1, d.Attempts)
	}

	call := f.onlyCall(t)
	require.Len(t, call.ActionPoints, 2)
}
