package server

import (
	"encoding/binary"
	"math"
	"net/http"

	"github.com/gorilla/websocket"

	"asrd/internal/recognizer"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1 << 16,
	WriteBufferSize: 1 << 16,
	// Browser clients load the recording page from this server or a dev
	// origin; the audio protocol carries no credentials.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// serveWS upgrades the connection and runs its read loop. The loop is the
// sole reader for the connection; all writes go through Send on the
// connection executor.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	conn.SetReadLimit(maxMessageBytes)

	sess := &session{conn: conn, remote: conn.RemoteAddr().String()}
	s.onOpen(sess)
	defer func() {
		s.onClose(sess)
		_ = conn.Close()
	}()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Err(err).Str("remote", sess.remote).Msg("read loop ended")
			}
			return
		}
		s.onMessage(sess, mt, data)
	}
}

// onMessage handles one inbound frame for the session.
func (s *Server) onMessage(sess *session, messageType int, payload []byte) {
	stream := s.lookup(sess)
	if stream == nil {
		// Race with close; the frame has nowhere to go.
		return
	}

	switch messageType {
	case websocket.TextMessage:
		wsMessagesTotal.WithLabelValues("text").Inc()
		if string(payload) != endOfStreamWord {
			return
		}
		// Flush the model context with tail padding before ending input.
		stream.AcceptWaveform(s.rec.SampleRate(), make([]float32, s.tailPadding))
		stream.InputFinished()
		s.maybeDispatch(sess, stream)

	case websocket.BinaryMessage:
		wsMessagesTotal.WithLabelValues("binary").Inc()
		if len(payload)%4 != 0 {
			droppedFramesTotal.WithLabelValues("bad_length").Inc()
			s.log.Warn().Str("remote", sess.remote).Int("bytes", len(payload)).
				Msg("binary payload length not a multiple of 4, frame dropped")
			return
		}
		stream.AcceptWaveform(s.rec.SampleRate(), decodeSamples(payload))
		s.maybeDispatch(sess, stream)

	default:
		// Other opcodes are ignored.
	}
}

// maybeDispatch enqueues the stream for a decode step when it has enough
// frames, and schedules one work unit on the compute executor.
func (s *Server) maybeDispatch(sess *session, stream *recognizer.Stream) {
	if !s.rec.IsReady(stream) {
		return
	}
	if err := s.disp.Push(sess, stream); err != nil {
		droppedFramesTotal.WithLabelValues("queue_full").Inc()
		s.log.Warn().Str("remote", sess.remote).Err(err).Msg("decoder overloaded, frame dropped")
		return
	}
	s.disp.Kick()
}

// decodeSamples copies the payload into a freshly allocated sample buffer.
// The payload's backing memory belongs to the transport and is reused after
// the handler returns, so the copy is a correctness requirement.
func decodeSamples(payload []byte) []float32 {
	samples := make([]float32, len(payload)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[i*4:]))
	}
	return samples
}
