package server

import (
	"github.com/sarathi-ai/voicecore/pkg/types"
)

// Client-to-core frame types.
const (
	frameStartListening = "start_listening"
	frameAudioChunk     = "audio_chunk"
	frameStopListening  = "stop_listening"
	frameTextInput      = "text_input"
	frameVoiceCommand   = "voice_command"
	frameSessionConfig  = "session_config"
)

// Core-to-client frame types.
const (
	frameTranscription = "transcription"
	frameStatus        = "status"
	frameError         = "error"
	frameAgentSwitch   = "agent_switch"
)

// clientFrame is one inbound WebSocket message. Type selects which of the
// optional fields are meaningful; audio payloads are base64 strings on the
// wire per encoding/json's []byte handling.
type clientFrame struct {
	Type    string          `json:"type"`
	Audio   []byte          `json:"audio,omitempty"`
	Text    string          `json:"text,omitempty"`
	Options *sessionOptions `json:"options,omitempty"`
}

// sessionOptions is the payload of a session_config frame. Empty fields keep
// their current value.
type sessionOptions struct {
	Agent    string `json:"agent,omitempty"`
	Language string `json:"language,omitempty"`
	Quality  string `json:"quality,omitempty"`
	Format   string `json:"format,omitempty"`
}

// serverFrame is one outbound WebSocket message.
type serverFrame struct {
	Type string `json:"type"`

	// audio_chunk fields.
	Audio []byte `json:"audio,omitempty"`
	Seq   int    `json:"seq,omitempty"`
	Last  bool   `json:"last,omitempty"`

	// transcription fields.
	Text   string         `json:"text,omitempty"`
	Intent *intentPayload `json:"intent,omitempty"`

	// status field.
	State string `json:"state,omitempty"`

	// error fields.
	Kind         string `json:"kind,omitempty"`
	Message      string `json:"message,omitempty"`
	RetryAfterMs int64  `json:"retry_after_ms,omitempty"`

	// agent_switch field.
	NewAgent string `json:"new_agent,omitempty"`
}

// intentPayload is the wire form of a classified command intent.
type intentPayload struct {
	Type        string   `json:"type"`
	Confidence  float64  `json:"confidence"`
	TargetAgent string   `json:"target_agent,omitempty"`
	Topics      []string `json:"topics,omitempty"`
	Language    string   `json:"language,omitempty"`
}

func intentToWire(in types.CommandIntent) *intentPayload {
	return &intentPayload{
		Type:        string(in.Type),
		Confidence:  in.Confidence,
		TargetAgent: in.TargetAgent,
		Topics:      in.Topics,
		Language:    in.Language,
	}
}
