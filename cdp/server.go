package cdp

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/grafana/xk6-compositor/common"
	"github.com/grafana/xk6-compositor/log"
)

// Server accepts CDP peers over websocket and runs a Session for each.
type Server struct {
	ctx    context.Context
	target Target
	events common.EventEmitter
	logger *log.Logger

	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[*Session]struct{}
}

// NewServer returns a Server posting to t. Events emitted by events are
// written to every connected peer. Sessions end when ctx is done.
func NewServer(ctx context.Context, t Target, events common.EventEmitter, logger *log.Logger) *Server {
	return &Server{
		ctx:    ctx,
		target: t,
		events: events,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  wsReadBufferSize,
			WriteBufferSize: wsWriteBufferSize,
		},
		sessions: make(map[*Session]struct{}),
	}
}

// ServeHTTP upgrades the request and starts a session.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		s.logger.Warnf("cdp:ServeHTTP", "upgrading %s: %v", r.RemoteAddr, err)
		return
	}

	sess := newSession(s.ctx, newConnection(ws, r.RemoteAddr, s.logger), s.target, s.events, s.logger)
	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()
	s.logger.Infof("cdp", "peer %s connected", r.RemoteAddr)

	go func() {
		<-sess.Done()
		s.mu.Lock()
		delete(s.sessions, sess)
		s.mu.Unlock()
		s.logger.Infof("cdp", "peer %s disconnected", r.RemoteAddr)
	}()
}

// Sessions returns the number of connected peers.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close ends every session.
func (s *Server) Close() {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.Close()
	}
}
