package server

import (
	"github.com/gorilla/websocket"

	"asrd/internal/dispatch"
	"asrd/internal/recognizer"
)

// session is the connection handle: one per websocket, comparable by
// pointer identity.
type session struct {
	conn   *websocket.Conn
	remote string
}

// onOpen creates the session's stream and registers it.
func (s *Server) onOpen(sess *session) {
	stream := s.rec.CreateStream()
	s.mu.Lock()
	s.conns[sess] = stream
	n := len(s.conns)
	s.mu.Unlock()
	activeConnections.Set(float64(n))
	s.log.Info().Str("remote", sess.remote).Int("active", n).Msg("new connection")
}

// onClose removes the session. Streams still held by the dispatcher stay
// valid; Send is a no-op for this handle from now on.
func (s *Server) onClose(sess *session) {
	s.mu.Lock()
	delete(s.conns, sess)
	n := len(s.conns)
	s.mu.Unlock()
	activeConnections.Set(float64(n))
	s.log.Info().Str("remote", sess.remote).Int("active", n).Msg("connection closed")
}

// lookup resolves the session's stream, or nil after close.
func (s *Server) lookup(sess *session) *recognizer.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[sess]
}

// Contains implements dispatch.ConnectionTable.
func (s *Server) Contains(h dispatch.Handle) bool {
	sess, ok := h.(*session)
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok = s.conns[sess]
	return ok
}

// Send implements dispatch.ConnectionTable. It runs on the connection
// executor, so frame serialization for one handle is never concurrent with
// itself. Transport errors are logged and not propagated.
func (s *Server) Send(h dispatch.Handle, text string) {
	sess, ok := h.(*session)
	if !ok || !s.Contains(h) {
		return
	}
	if err := sess.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		s.log.Warn().Err(err).Str("remote", sess.remote).Msg("send failed")
	}
}

// ActiveConnections returns the number of open sessions.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}
