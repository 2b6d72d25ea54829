package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/sarathi-ai/voicecore/internal/session"
)

// handleVoice upgrades the connection and runs one session for its lifetime.
// The HTTP handler goroutine becomes the connection's read loop; the session
// event loop writes responses through the sink.
func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{})
	if err != nil {
		s.logger.Debug("websocket accept failed", slog.String("error", err.Error()))
		return
	}
	// Inbound frames carry up to several seconds of audio.
	conn.SetReadLimit(1 << 22)

	identity := clientIdentity(r)
	settings := s.settingsFor(r)

	ctx := context.WithoutCancel(r.Context())
	sess := s.manager.Open(ctx, identity, settings, &wsSink{ctx: ctx, conn: conn})

	s.metrics.ActiveSessions.Add(ctx, 1)
	defer s.metrics.ActiveSessions.Add(ctx, -1)

	defer func() {
		sess.Close()
		<-sess.Done()
		conn.Close(websocket.StatusNormalClosure, "session closed")
	}()

	for {
		// A closed session means the client's frames can no longer be
		// delivered; drop the connection.
		select {
		case <-sess.Done():
			return
		default:
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				s.logger.Debug("websocket read failed",
					slog.String("session_id", sess.ID()),
					slog.String("error", err.Error()))
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.logger.Debug("malformed frame dropped",
				slog.String("session_id", sess.ID()),
				slog.String("error", err.Error()))
			continue
		}

		ev, ok := eventFor(frame)
		if !ok {
			s.logger.Debug("unknown frame type dropped",
				slog.String("session_id", sess.ID()),
				slog.String("type", frame.Type))
			continue
		}

		switch err := sess.Dispatch(ev); {
		case errors.Is(err, session.ErrSessionClosed):
			return
		case errors.Is(err, session.ErrQueueFull):
			s.logger.Warn("event queue full, frame dropped",
				slog.String("session_id", sess.ID()),
				slog.String("type", frame.Type))
		}
	}
}

// eventFor maps a wire frame to a session event.
func eventFor(f clientFrame) (session.Event, bool) {
	switch f.Type {
	case frameStartListening:
		return session.StartListening{}, true
	case frameAudioChunk:
		return session.AudioChunk{Audio: f.Audio}, true
	case frameStopListening:
		return session.StopListening{}, true
	case frameTextInput:
		return session.TextInput{Text: f.Text}, true
	case frameVoiceCommand:
		return session.VoiceCommand{Text: f.Text}, true
	case frameSessionConfig:
		ev := session.ConfigUpdate{}
		if f.Options != nil {
			ev.Agent = f.Options.Agent
			ev.Language = f.Options.Language
			ev.Quality = f.Options.Quality
			ev.Format = f.Options.Format
		}
		return ev, true
	default:
		return nil, false
	}
}

// clientIdentity resolves the rate-limit key for a connection: the identity
// query parameter, then the X-Identity header, then the remote address.
func clientIdentity(r *http.Request) string {
	if id := r.URL.Query().Get("identity"); id != "" {
		return id
	}
	if id := r.Header.Get("X-Identity"); id != "" {
		return id
	}
	return r.RemoteAddr
}

// settingsFor derives initial session settings from the server defaults plus
// agent/language query overrides.
func (s *Server) settingsFor(r *http.Request) session.Settings {
	settings := s.defaults
	q := r.URL.Query()
	if agent := q.Get("agent"); agent != "" {
		settings.Agent = agent
	}
	if lang := q.Get("language"); lang != "" {
		settings.Language = lang
	}
	return settings
}
