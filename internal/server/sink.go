package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coder/websocket"
	"github.com/sarathi-ai/voicecore/internal/session"
	"github.com/sarathi-ai/voicecore/pkg/types"
)

// writeTimeout bounds one outbound frame write. A client that stops reading
// loses the session rather than wedging its event loop.
const writeTimeout = 10 * time.Second

// wsSink delivers session output over one WebSocket connection. It is only
// called from the session's event loop, matching the [session.Sink] contract.
type wsSink struct {
	ctx  context.Context
	conn *websocket.Conn
}

var _ session.Sink = (*wsSink)(nil)

func (s *wsSink) send(f serverFrame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
	defer cancel()
	return s.conn.Write(ctx, websocket.MessageText, data)
}

func (s *wsSink) SendAudioChunk(audio []byte, seq int, last bool) error {
	return s.send(serverFrame{Type: frameAudioChunk, Audio: audio, Seq: seq, Last: last})
}

func (s *wsSink) SendTranscription(text string, intent types.CommandIntent) error {
	return s.send(serverFrame{Type: frameTranscription, Text: text, Intent: intentToWire(intent)})
}

func (s *wsSink) SendStatus(state string) error {
	return s.send(serverFrame{Type: frameStatus, State: state})
}

func (s *wsSink) SendError(kind, message string, retryAfter time.Duration) error {
	return s.send(serverFrame{
		Type:         frameError,
		Kind:         kind,
		Message:      message,
		RetryAfterMs: retryAfter.Milliseconds(),
	})
}

func (s *wsSink) SendAgentSwitch(newAgent string) error {
	return s.send(serverFrame{Type: frameAgentSwitch, NewAgent: newAgent})
}
