package session

// State is the lifecycle phase of a [Session].
//
// The machine is Idle → Listening → Processing → Responding → Idle, with
// Closed reachable from any state on disconnect or fatal error. Exactly one
// Processing/Responding cycle is active per session at any time.
type State int

const (
	// StateIdle accepts start_listening and text_input.
	StateIdle State = iota

	// StateListening buffers inbound audio chunks until stop_listening.
	StateListening

	// StateProcessing runs recognition and intent classification.
	StateProcessing

	// StateResponding synthesizes and streams the response audio.
	StateResponding

	// StateClosed is terminal; the event loop has exited.
	StateClosed
)

// String returns the wire name of the state, as sent in status messages.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateResponding:
		return "responding"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is a message consumed by a session's event loop. Events are handled
// strictly in arrival order by one goroutine; an event that is invalid in
// the current state is dropped with a debug log rather than failing the
// session.
type Event interface {
	eventName() string
}

// StartListening opens a listening window. Valid in Idle.
type StartListening struct{}

func (StartListening) eventName() string { return "start_listening" }

// AudioChunk carries one inbound audio fragment. Valid while Listening;
// chunks are buffered and concatenated, never dispatched individually.
type AudioChunk struct {
	Audio []byte
}

func (AudioChunk) eventName() string { return "audio_chunk" }

// StopListening closes the listening window and triggers exactly one
// recognition round-trip over the concatenated buffer.
type StopListening struct{}

func (StopListening) eventName() string { return "stop_listening" }

// TextInput submits typed text, bypassing recognition. Valid in Idle.
type TextInput struct {
	Text string
}

func (TextInput) eventName() string { return "text_input" }

// VoiceCommand submits pre-transcribed command text straight to intent
// classification. Valid in Idle.
type VoiceCommand struct {
	Text string
}

func (VoiceCommand) eventName() string { return "voice_command" }

// ConfigUpdate adjusts the session's agent context. Valid in any non-Closed
// state and never changes the state itself. Zero-valued fields keep their
// current setting.
type ConfigUpdate struct {
	Agent    string
	Language string
	Quality  string
	Format   string
}

func (ConfigUpdate) eventName() string { return "session_config" }
