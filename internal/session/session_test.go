package session

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/sarathi-ai/voicecore/internal/audioopt"
	"github.com/sarathi-ai/voicecore/internal/gateway"
	"github.com/sarathi-ai/voicecore/internal/limiter"
	"github.com/sarathi-ai/voicecore/pkg/types"
)

// fakeGateway is an in-memory SpeechGateway.
type fakeGateway struct {
	mu             sync.Mutex
	transcript     types.Transcript
	recognizeErr   error
	recognizeCalls [][]byte
	synthAudio     []byte
	synthErr       error
	synthCalls     []types.VoiceRequest
	blockRecognize chan struct{} // when non-nil, Recognize waits for it or ctx
}

func (g *fakeGateway) Recognize(ctx context.Context, audio []byte, _ types.AudioFormat, _ string, _ gateway.CallOptions) (types.Transcript, error) {
	g.mu.Lock()
	g.recognizeCalls = append(g.recognizeCalls, append([]byte(nil), audio...))
	block := g.blockRecognize
	g.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return types.Transcript{}, ctx.Err()
		}
	}
	if g.recognizeErr != nil {
		return types.Transcript{}, g.recognizeErr
	}
	return g.transcript, nil
}

func (g *fakeGateway) Synthesize(_ context.Context, req types.VoiceRequest, _ gateway.CallOptions) ([]byte, error) {
	g.mu.Lock()
	g.synthCalls = append(g.synthCalls, req)
	g.mu.Unlock()
	if g.synthErr != nil {
		return nil, g.synthErr
	}
	return append([]byte(nil), g.synthAudio...), nil
}

func (g *fakeGateway) recognizeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.recognizeCalls)
}

// passCache runs the computation on every call, no storage.
type passCache struct{}

func (passCache) GetOrCompute(ctx context.Context, _ types.VoiceRequest, compute func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	return compute(ctx)
}

// fixedClassifier returns a configured intent for any input.
type fixedClassifier struct {
	intent types.CommandIntent
}

func (c fixedClassifier) Classify(_, language string, confidence float64) types.CommandIntent {
	out := c.intent
	if out.Language == "" {
		out.Language = language
	}
	if out.Confidence == 0 {
		out.Confidence = confidence
	}
	return out
}

// echoGenerator responds with a fixed line.
type echoGenerator struct {
	response string
}

func (g echoGenerator) Respond(context.Context, string, types.CommandIntent, string) (string, error) {
	return g.response, nil
}

// sentChunk is one recorded SendAudioChunk call.
type sentChunk struct {
	audio []byte
	seq   int
	last  bool
}

// memorySink records everything a session sends.
type memorySink struct {
	mu             sync.Mutex
	chunks         []sentChunk
	transcriptions []types.CommandIntent
	texts          []string
	statuses       []string
	errors         []string
	agentSwitches  []string
}

func (m *memorySink) SendAudioChunk(audio []byte, seq int, last bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = append(m.chunks, sentChunk{audio: append([]byte(nil), audio...), seq: seq, last: last})
	return nil
}

func (m *memorySink) SendTranscription(text string, intent types.CommandIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts = append(m.texts, text)
	m.transcriptions = append(m.transcriptions, intent)
	return nil
}

func (m *memorySink) SendStatus(state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, state)
	return nil
}

func (m *memorySink) SendError(kind, _ string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, kind)
	return nil
}

func (m *memorySink) SendAgentSwitch(newAgent string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agentSwitches = append(m.agentSwitches, newAgent)
	return nil
}

func (m *memorySink) snapshot() memorySink {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memorySink{
		chunks:         append([]sentChunk(nil), m.chunks...),
		transcriptions: append([]types.CommandIntent(nil), m.transcriptions...),
		texts:          append([]string(nil), m.texts...),
		statuses:       append([]string(nil), m.statuses...),
		errors:         append([]string(nil), m.errors...),
		agentSwitches:  append([]string(nil), m.agentSwitches...),
	}
}

func testDeps(g *fakeGateway, intent types.CommandIntent, response string) Deps {
	return Deps{
		Gateway:    g,
		Cache:      passCache{},
		Optimizer:  audioopt.New(),
		Classifier: fixedClassifier{intent: intent},
		Generator:  echoGenerator{response: response},
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func openTestSession(t *testing.T, deps Deps, settings Settings, sink Sink) (*Manager, *Session) {
	t.Helper()
	m := NewManager(deps, WithIdleTimeout(0))
	s := m.Open(context.Background(), "user-1", settings, sink)
	t.Cleanup(m.CloseAll)
	return m, s
}

// waitState polls until the session reaches want or the deadline passes.
func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if s.State() == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("state = %s, want %s", s.State(), want)
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func dispatch(t *testing.T, s *Session, ev Event) {
	t.Helper()
	if err := s.Dispatch(ev); err != nil {
		t.Fatalf("dispatch %s: %v", ev.eventName(), err)
	}
}

func TestSession_FullVoiceCycle(t *testing.T) {
	g := &fakeGateway{
		transcript: types.Transcript{Text: "hello", Confidence: 0.9},
		synthAudio: make([]byte, 40000),
	}
	sink := &memorySink{}
	settings := Settings{Quality: types.QualityLow, OutputFormat: types.FormatPCM, InputFormat: types.FormatPCM}
	_, s := openTestSession(t, testDeps(g, types.CommandIntent{Type: types.IntentGreeting}, "hi there"), settings, sink)

	dispatch(t, s, StartListening{})
	waitState(t, s, StateListening)
	dispatch(t, s, AudioChunk{Audio: []byte{1, 2, 3, 4}})
	dispatch(t, s, AudioChunk{Audio: []byte{5, 6}})
	dispatch(t, s, StopListening{})
	waitState(t, s, StateIdle)

	if g.recognizeCount() != 1 {
		t.Fatalf("recognize called %d times, want exactly 1", g.recognizeCount())
	}
	if !bytes.Equal(g.recognizeCalls[0], []byte{1, 2, 3, 4, 5, 6}) {
		t.Errorf("recognize payload = %v, want concatenated chunks", g.recognizeCalls[0])
	}

	got := sink.snapshot()
	if len(got.texts) != 1 || got.texts[0] != "hello" {
		t.Errorf("transcriptions = %v, want [hello]", got.texts)
	}
	if len(got.chunks) == 0 {
		t.Fatal("no audio chunks streamed")
	}
	if !got.chunks[len(got.chunks)-1].last {
		t.Error("final chunk not marked last")
	}
	if len(got.errors) != 0 {
		t.Errorf("unexpected errors: %v", got.errors)
	}
}

func TestSession_ChunksAreHalfSecondUnits(t *testing.T) {
	// Low preset PCM: 16 kHz mono int16 = 32000 B/s, so 16000 B per 500ms.
	// 40000 bytes of synthesized audio => chunks of 16000, 16000, 8000.
	g := &fakeGateway{synthAudio: make([]byte, 40000)}
	sink := &memorySink{}
	settings := Settings{Quality: types.QualityLow, OutputFormat: types.FormatPCM}
	_, s := openTestSession(t, testDeps(g, types.CommandIntent{Type: types.IntentGreeting}, "hi"), settings, sink)

	dispatch(t, s, TextInput{Text: "hello"})
	waitState(t, s, StateIdle)

	got := sink.snapshot()
	// The optimizer may trim the all-zero payload, but chunk sizing must hold.
	if len(got.chunks) == 0 {
		t.Fatal("no chunks")
	}
	for i, c := range got.chunks[:len(got.chunks)-1] {
		if len(c.audio) != 16000 {
			t.Errorf("chunk %d size = %d, want 16000", i, len(c.audio))
		}
		if c.seq != i {
			t.Errorf("chunk %d seq = %d", i, c.seq)
		}
	}
}

func TestSession_TextInputBypassesRecognition(t *testing.T) {
	g := &fakeGateway{synthAudio: []byte{1, 2, 3, 4}}
	sink := &memorySink{}
	_, s := openTestSession(t, testDeps(g, types.CommandIntent{Type: types.IntentQuestion}, "answer"),
		Settings{OutputFormat: types.FormatMP3}, sink)

	dispatch(t, s, TextInput{Text: "what is go"})
	waitState(t, s, StateIdle)

	if g.recognizeCount() != 0 {
		t.Errorf("recognize called %d times for text input, want 0", g.recognizeCount())
	}
	if len(g.synthCalls) != 1 {
		t.Fatalf("synthesize called %d times, want 1", len(g.synthCalls))
	}
	if g.synthCalls[0].Text != "answer" {
		t.Errorf("synthesized %q, want generator response", g.synthCalls[0].Text)
	}
}

func TestSession_InvalidEventsDropped(t *testing.T) {
	g := &fakeGateway{synthAudio: []byte{1, 2}}
	sink := &memorySink{}
	_, s := openTestSession(t, testDeps(g, types.CommandIntent{Type: types.IntentGreeting}, "hi"), Settings{}, sink)

	// Audio without a listening window, and a stray stop.
	dispatch(t, s, AudioChunk{Audio: []byte{9, 9}})
	dispatch(t, s, StopListening{})

	// The session is still functional.
	dispatch(t, s, StartListening{})
	waitState(t, s, StateListening)
	if g.recognizeCount() != 0 {
		t.Errorf("dropped events triggered recognition")
	}
	if got := sink.snapshot(); len(got.errors) != 0 {
		t.Errorf("dropped events produced errors: %v", got.errors)
	}
}

func TestSession_AgentSwitchUpdatesPersona(t *testing.T) {
	g := &fakeGateway{synthAudio: []byte{1, 2, 3, 4}}
	sink := &memorySink{}
	intent := types.CommandIntent{Type: types.IntentAgentSwitch, TargetAgent: "guru"}
	_, s := openTestSession(t, testDeps(g, intent, "welcome"), Settings{Agent: "mitra"}, sink)

	dispatch(t, s, VoiceCommand{Text: "guru se baat karo"})
	waitState(t, s, StateIdle)

	got := sink.snapshot()
	if len(got.agentSwitches) != 1 || got.agentSwitches[0] != "guru" {
		t.Fatalf("agent switches = %v, want [guru]", got.agentSwitches)
	}
	// The response synthesis speaks as the new persona.
	if len(g.synthCalls) != 1 || g.synthCalls[0].Agent != "guru" {
		t.Errorf("synthesis agent = %+v, want guru", g.synthCalls)
	}
}

func TestSession_ConfigUpdateAppliesWithoutStateChange(t *testing.T) {
	g := &fakeGateway{synthAudio: []byte{1, 2}}
	sink := &memorySink{}
	_, s := openTestSession(t, testDeps(g, types.CommandIntent{Type: types.IntentGreeting}, "hi"), Settings{}, sink)

	dispatch(t, s, StartListening{})
	waitState(t, s, StateListening)

	dispatch(t, s, ConfigUpdate{Language: "en-IN", Quality: "high"})

	// Still listening; the config applied in place.
	dispatch(t, s, AudioChunk{Audio: []byte{1, 2}})
	dispatch(t, s, StopListening{})
	waitState(t, s, StateIdle)

	if len(g.synthCalls) != 1 {
		t.Fatalf("synth calls = %d", len(g.synthCalls))
	}
	if g.synthCalls[0].Language != "en-IN" || g.synthCalls[0].Quality != types.QualityHigh {
		t.Errorf("settings not applied: %+v", g.synthCalls[0])
	}
}

func TestSession_ProviderErrorIsRecoverable(t *testing.T) {
	g := &fakeGateway{
		recognizeErr: &limiter.RateLimitError{Kind: types.CallSTT, Limit: 200, RetryAfter: time.Minute},
	}
	sink := &memorySink{}
	_, s := openTestSession(t, testDeps(g, types.CommandIntent{Type: types.IntentGreeting}, "hi"),
		Settings{InputFormat: types.FormatPCM}, sink)

	dispatch(t, s, StartListening{})
	dispatch(t, s, AudioChunk{Audio: []byte{1, 2}})
	dispatch(t, s, StopListening{})
	waitState(t, s, StateIdle)

	got := sink.snapshot()
	if len(got.errors) != 1 || got.errors[0] != "rate_limited" {
		t.Fatalf("errors = %v, want [rate_limited]", got.errors)
	}

	// The session survives and accepts the next cycle.
	dispatch(t, s, StartListening{})
	waitState(t, s, StateListening)
}

func TestSession_CloseCancelsInFlightWork(t *testing.T) {
	block := make(chan struct{})
	g := &fakeGateway{blockRecognize: block}
	sink := &memorySink{}
	_, s := openTestSession(t, testDeps(g, types.CommandIntent{Type: types.IntentGreeting}, "hi"),
		Settings{InputFormat: types.FormatPCM}, sink)

	dispatch(t, s, StartListening{})
	dispatch(t, s, AudioChunk{Audio: []byte{1, 2}})
	dispatch(t, s, StopListening{})

	// Wait until the recognition call is in flight, then close.
	deadline := time.After(2 * time.Second)
	for g.recognizeCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("recognition never started")
		case <-time.After(2 * time.Millisecond):
		}
	}
	s.Close()

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not shut down after Close")
	}
	if s.State() != StateClosed {
		t.Errorf("state = %s, want closed", s.State())
	}
	if err := s.Dispatch(TextInput{Text: "late"}); err == nil {
		t.Error("dispatch after close should fail")
	}
}

func TestManager_RegistryAndCloseAll(t *testing.T) {
	g := &fakeGateway{synthAudio: []byte{1}}
	m := NewManager(testDeps(g, types.CommandIntent{Type: types.IntentGreeting}, "hi"), WithIdleTimeout(0))

	a := m.Open(context.Background(), "alice", Settings{}, &memorySink{})
	b := m.Open(context.Background(), "bob", Settings{}, &memorySink{})

	if m.Count() != 2 {
		t.Errorf("count = %d, want 2", m.Count())
	}
	if m.Get(a.ID()) != a || m.Get(b.ID()) != b {
		t.Error("registry lookup failed")
	}

	m.CloseAll()
	if a.State() != StateClosed || b.State() != StateClosed {
		t.Error("CloseAll left sessions open")
	}

	// Deregistration runs asynchronously after loop exit.
	deadline := time.After(2 * time.Second)
	for m.Count() != 0 {
		select {
		case <-deadline:
			t.Fatalf("count = %d after CloseAll, want 0", m.Count())
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func TestManager_EvictsIdleSessions(t *testing.T) {
	g := &fakeGateway{synthAudio: []byte{1}}
	m := NewManager(testDeps(g, types.CommandIntent{Type: types.IntentGreeting}, "hi"),
		WithIdleTimeout(20*time.Millisecond),
		WithSweepInterval(5*time.Millisecond),
	)
	defer m.CloseAll()

	s := m.Open(context.Background(), "sleepy", Settings{}, &memorySink{})

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("idle session was never evicted")
	}
}
