package session

import (
	"time"

	"github.com/sarathi-ai/voicecore/pkg/types"
)

// Sink is where a session writes its outbound messages. The server layer
// implements it over the client's WebSocket; tests implement it in memory.
//
// Sink methods are only ever called from the session's own event loop, so
// implementations need not be safe for concurrent use by one session.
// Errors are treated as a lost client: the session closes.
type Sink interface {
	// SendAudioChunk delivers one fixed-duration unit of response audio.
	// last marks the final chunk of the current response.
	SendAudioChunk(audio []byte, seq int, last bool) error

	// SendTranscription reports the recognised text and classified intent.
	SendTranscription(text string, intent types.CommandIntent) error

	// SendStatus reports a state transition.
	SendStatus(state string) error

	// SendError reports a recoverable or fatal failure. retryAfter is zero
	// unless the failure is a rate limit.
	SendError(kind, message string, retryAfter time.Duration) error

	// SendAgentSwitch announces that the session's persona changed.
	SendAgentSwitch(newAgent string) error
}
