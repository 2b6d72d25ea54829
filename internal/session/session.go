// Package session drives one conversation per connected client through the
// voice pipeline.
//
// A [Session] is a small state machine (see [State]) fed by a buffered event
// queue and driven by exactly one goroutine, so events are processed strictly
// in arrival order and handlers never run concurrently. Provider round-trips,
// cache waits, and limiter queue waits all happen inside that goroutine and
// therefore suspend only their own session. The [Manager] owns the session
// registry and evicts sessions idle past the configured timeout.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sarathi-ai/voicecore/internal/audioopt"
	"github.com/sarathi-ai/voicecore/internal/gateway"
	"github.com/sarathi-ai/voicecore/internal/limiter"
	"github.com/sarathi-ai/voicecore/pkg/provider/speech"
	"github.com/sarathi-ai/voicecore/pkg/types"
)

// Session tuning defaults.
const (
	// defaultQueueSize bounds the inbound event queue. Audio chunks dominate
	// the queue; at ~100ms client chunks this is several seconds of slack.
	defaultQueueSize = 128

	// chunkDuration is the fixed playback duration of one outbound
	// audio_chunk message.
	chunkDuration = 500 * time.Millisecond

	// maxBufferedAudio caps the concatenated listening buffer.
	maxBufferedAudio = 10 << 20
)

var (
	// ErrSessionClosed is returned by Dispatch after the session closed.
	ErrSessionClosed = errors.New("session: closed")

	// ErrQueueFull is returned by Dispatch when the client outpaces the
	// event loop.
	ErrQueueFull = errors.New("session: event queue full")
)

// SpeechGateway is the slice of the provider gateway the session uses.
type SpeechGateway interface {
	Synthesize(ctx context.Context, req types.VoiceRequest, opts gateway.CallOptions) ([]byte, error)
	Recognize(ctx context.Context, audio []byte, format types.AudioFormat, language string, opts gateway.CallOptions) (types.Transcript, error)
}

// ResponseCache is the slice of the voice cache the session uses.
type ResponseCache interface {
	GetOrCompute(ctx context.Context, req types.VoiceRequest, compute func(ctx context.Context) ([]byte, error)) ([]byte, error)
}

// Optimizer post-processes synthesized audio deterministically.
type Optimizer interface {
	Transform(data []byte, src audioopt.SourceSpec, srcFormat, dstFormat types.AudioFormat, preset types.QualityPreset) ([]byte, error)
}

// Classifier turns transcript text into a platform intent.
type Classifier interface {
	Classify(text, languageHint string, recognitionConfidence float64) types.CommandIntent
}

// Generator produces persona response text. Mirrors agent.Generator; declared
// here so the session layer depends on the seam, not the package.
type Generator interface {
	Respond(ctx context.Context, agentID string, intent types.CommandIntent, text string) (string, error)
}

// Deps bundles the pipeline collaborators shared by all sessions.
type Deps struct {
	Gateway    SpeechGateway
	Cache      ResponseCache
	Optimizer  Optimizer
	Classifier Classifier
	Generator  Generator
	Logger     *slog.Logger
}

// Settings is the per-session agent context. Fields change at runtime via
// [ConfigUpdate] events.
type Settings struct {
	// Agent is the active persona.
	Agent string

	// Language is the BCP-47 conversation language.
	Language string

	// Quality selects the synthesis profile.
	Quality types.QualityPreset

	// OutputFormat is the response audio encoding.
	OutputFormat types.AudioFormat

	// InputFormat describes the client's uploaded audio.
	InputFormat types.AudioFormat
}

// DefaultSettings is applied where a new session leaves fields empty.
var DefaultSettings = Settings{
	Agent:        "mitra",
	Language:     "hi-IN",
	Quality:      types.QualityGood,
	OutputFormat: types.FormatMP3,
	InputFormat:  types.FormatWAV,
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings
	if s.Agent == "" {
		s.Agent = d.Agent
	}
	if s.Language == "" {
		s.Language = d.Language
	}
	if !s.Quality.IsValid() {
		s.Quality = d.Quality
	}
	if !s.OutputFormat.IsValid() {
		s.OutputFormat = d.OutputFormat
	}
	if !s.InputFormat.IsValid() {
		s.InputFormat = d.InputFormat
	}
	return s
}

// Session is one client conversation. All fields below mu-free access are
// confined to the event loop goroutine.
type Session struct {
	id       string
	identity string
	deps     Deps
	sink     Sink
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	events chan Event
	done   chan struct{}

	state      atomic.Int32
	lastActive atomic.Int64 // unix nanos

	// Event-loop confined.
	settings Settings
	audioBuf bytes.Buffer
}

// newSession wires one session; the Manager is the only constructor caller.
func newSession(parent context.Context, id, identity string, settings Settings, sink Sink, deps Deps) *Session {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		id:       id,
		identity: identity,
		deps:     deps,
		sink:     sink,
		logger: deps.Logger.With(
			slog.String("session_id", id),
			slog.String("identity", identity)),
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan Event, defaultQueueSize),
		done:     make(chan struct{}),
		settings: settings.withDefaults(),
	}
	s.touch()
	go s.run()
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current machine state. Safe from any goroutine.
func (s *Session) State() State { return State(s.state.Load()) }

// Done is closed when the event loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Dispatch enqueues one event for the session's loop. It never blocks:
// a full queue returns [ErrQueueFull] so a flooding client cannot wedge the
// transport reader.
func (s *Session) Dispatch(ev Event) error {
	select {
	case <-s.ctx.Done():
		return ErrSessionClosed
	default:
	}
	select {
	case s.events <- ev:
		s.touch()
		return nil
	default:
		return ErrQueueFull
	}
}

// Close cancels the session context. In-flight provider calls owned by this
// session abort; a single-flight synthesis shared with other sessions keeps
// running for them. Close is idempotent and returns without waiting for the
// loop to exit.
func (s *Session) Close() {
	s.cancel()
}

func (s *Session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

// idleSince returns the time of the last inbound event.
func (s *Session) idleSince() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

func (s *Session) setState(next State) {
	prev := State(s.state.Swap(int32(next)))
	if prev == next || next == StateClosed {
		return
	}
	if err := s.sink.SendStatus(next.String()); err != nil {
		s.logger.Debug("status send failed", slog.String("error", err.Error()))
	}
}

// run is the session's event loop. It is the only goroutine that touches the
// state machine, the settings, and the audio buffer.
func (s *Session) run() {
	defer close(s.done)
	defer s.state.Store(int32(StateClosed))
	defer s.cancel()

	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.events:
			s.handle(ev)
			if s.ctx.Err() != nil {
				return
			}
		}
	}
}

// handle applies one event to the state machine. Invalid state/event pairs
// are dropped with a debug log: clients with stale state views are tolerated,
// never interleaved.
func (s *Session) handle(ev Event) {
	state := s.State()
	switch e := ev.(type) {
	case StartListening:
		if state != StateIdle {
			s.dropEvent(ev, state)
			return
		}
		s.audioBuf.Reset()
		s.setState(StateListening)

	case AudioChunk:
		if state != StateListening {
			s.dropEvent(ev, state)
			return
		}
		if s.audioBuf.Len()+len(e.Audio) > maxBufferedAudio {
			s.fail("invalid_input", "listening buffer limit exceeded", 0, true)
			return
		}
		s.audioBuf.Write(e.Audio)

	case StopListening:
		if state != StateListening {
			s.dropEvent(ev, state)
			return
		}
		s.runVoiceCycle()

	case TextInput:
		if state != StateIdle {
			s.dropEvent(ev, state)
			return
		}
		s.runTextCycle(e.Text)

	case VoiceCommand:
		if state != StateIdle {
			s.dropEvent(ev, state)
			return
		}
		s.runTextCycle(e.Text)

	case ConfigUpdate:
		s.applyConfig(e)

	default:
		s.logger.Debug("unknown event dropped", slog.String("event", ev.eventName()))
	}
}

func (s *Session) dropEvent(ev Event, state State) {
	s.logger.Debug("event invalid in state, dropped",
		slog.String("event", ev.eventName()),
		slog.String("state", state.String()))
}

// runVoiceCycle executes one Listening→Processing→Responding→Idle pass over
// the concatenated audio buffer.
func (s *Session) runVoiceCycle() {
	s.setState(StateProcessing)

	audio := make([]byte, s.audioBuf.Len())
	copy(audio, s.audioBuf.Bytes())
	s.audioBuf.Reset()
	if len(audio) == 0 {
		s.fail("invalid_input", "empty listening window", 0, true)
		return
	}

	transcript, err := s.deps.Gateway.Recognize(s.ctx, audio, s.settings.InputFormat, s.settings.Language, s.callOptions())
	if err != nil {
		s.providerFailure(err)
		return
	}
	s.respondTo(transcript.Text, transcript.Confidence)
}

// runTextCycle handles text_input and voice_command, which skip recognition.
func (s *Session) runTextCycle(text string) {
	s.setState(StateProcessing)
	s.respondTo(text, 1)
}

// respondTo classifies text, resolves the response, and streams it back.
// Runs with the session already in Processing.
func (s *Session) respondTo(text string, confidence float64) {
	intent := s.deps.Classifier.Classify(text, baseLanguage(s.settings.Language), confidence)
	if err := s.sink.SendTranscription(text, intent); err != nil {
		s.logger.Debug("transcription send failed", slog.String("error", err.Error()))
	}

	if intent.Type == types.IntentAgentSwitch && intent.TargetAgent != "" {
		s.switchAgent(intent.TargetAgent)
	}

	responseText, err := s.deps.Generator.Respond(s.ctx, s.settings.Agent, intent, text)
	if err != nil {
		s.fail("internal", "response generation failed", 0, true)
		return
	}
	s.speak(responseText)
}

// speak synthesizes responseText (through the cache) and streams it as
// fixed-duration chunks.
func (s *Session) speak(responseText string) {
	s.setState(StateResponding)

	req := types.VoiceRequest{
		Text:     responseText,
		Agent:    s.settings.Agent,
		Language: s.settings.Language,
		Quality:  s.settings.Quality,
		Format:   s.settings.OutputFormat,
	}
	opts := s.callOptions()
	audio, err := s.deps.Cache.GetOrCompute(s.ctx, req, func(ctx context.Context) ([]byte, error) {
		raw, serr := s.deps.Gateway.Synthesize(ctx, req, opts)
		if serr != nil {
			return nil, serr
		}
		profile := audioopt.ProfileFor(req.Quality)
		return s.deps.Optimizer.Transform(raw, audioopt.SourceSpec{
			SampleRate: profile.SampleRate,
			Channels:   profile.Channels,
		}, req.Format, req.Format, req.Quality)
	})
	if err != nil {
		s.providerFailure(err)
		return
	}

	size := chunkBytes(req.Quality, req.Format)
	seq := 0
	for off := 0; off < len(audio); off += size {
		end := off + size
		if end > len(audio) {
			end = len(audio)
		}
		if s.ctx.Err() != nil {
			return
		}
		if err := s.sink.SendAudioChunk(audio[off:end], seq, end == len(audio)); err != nil {
			s.logger.Warn("audio chunk send failed, closing session",
				slog.String("error", err.Error()))
			s.Close()
			return
		}
		seq++
	}
	s.setState(StateIdle)
}

// switchAgent updates the persona and announces the change.
func (s *Session) switchAgent(target string) {
	if target == s.settings.Agent {
		return
	}
	s.settings.Agent = target
	s.logger.Info("agent switched", slog.String("agent", target))
	if err := s.sink.SendAgentSwitch(target); err != nil {
		s.logger.Debug("agent switch send failed", slog.String("error", err.Error()))
	}
}

// applyConfig merges a session_config event into the agent context. Valid in
// any non-Closed state; never changes the machine state.
func (s *Session) applyConfig(e ConfigUpdate) {
	if e.Agent != "" {
		s.switchAgent(e.Agent)
	}
	if e.Language != "" {
		s.settings.Language = e.Language
	}
	if q := types.QualityPreset(e.Quality); e.Quality != "" && q.IsValid() {
		s.settings.Quality = q
	}
	if f := types.AudioFormat(e.Format); e.Format != "" && f.IsValid() {
		s.settings.OutputFormat = f
	}
}

// providerFailure maps a pipeline error onto the wire and decides whether
// the session survives.
func (s *Session) providerFailure(err error) {
	if errors.Is(err, context.Canceled) || s.ctx.Err() != nil {
		return // closing anyway
	}

	var rle *limiter.RateLimitError
	switch {
	case errors.As(err, &rle):
		s.fail("rate_limited", rle.Error(), rle.RetryAfter, true)
	case errors.Is(err, limiter.ErrBackpressure):
		s.fail("backpressure", err.Error(), 0, true)
	default:
		kind := string(speech.KindOf(err))
		if kind == "" {
			kind = "internal"
		}
		s.fail(kind, err.Error(), 0, true)
	}
}

// fail emits an error message and returns to Idle when recoverable, or
// closes the session otherwise.
func (s *Session) fail(kind, message string, retryAfter time.Duration, recoverable bool) {
	s.logger.Warn("session cycle failed",
		slog.String("kind", kind),
		slog.String("message", message))
	if err := s.sink.SendError(kind, message, retryAfter); err != nil {
		s.logger.Debug("error send failed", slog.String("error", err.Error()))
	}
	if !recoverable {
		s.Close()
		return
	}
	s.setState(StateIdle)
}

// callOptions derives limiter metadata for this session's provider calls.
// Session traffic is always interactive; background priority is reserved for
// preload work.
func (s *Session) callOptions() gateway.CallOptions {
	return gateway.CallOptions{Identity: s.identity, Priority: types.PriorityInteractive}
}

// chunkBytes returns the byte length of one outbound chunk: the preset's
// byte rate over chunkDuration. PCM and WAV use the raw sample rate; encoded
// formats use the preset bitrate.
func chunkBytes(preset types.QualityPreset, format types.AudioFormat) int {
	profile := audioopt.ProfileFor(preset)
	var perSecond int
	switch format {
	case types.FormatPCM, types.FormatWAV:
		perSecond = profile.SampleRate * profile.Channels * 2
	default:
		perSecond = profile.BitrateKbps * 1000 / 8
	}
	n := perSecond * int(chunkDuration/time.Millisecond) / 1000
	if n <= 0 {
		n = 1
	}
	return n
}

// baseLanguage reduces a BCP-47 tag to the primary subtag the classifier
// expects ("hi-IN" → "hi").
func baseLanguage(tag string) string {
	for i := 0; i < len(tag); i++ {
		if tag[i] == '-' {
			return tag[:i]
		}
	}
	return tag
}

// String implements fmt.Stringer for log readability.
func (s *Session) String() string {
	return fmt.Sprintf("session(%s, %s)", s.id, s.State())
}
