package dispatch

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"
)

var ErrNoSession = errors.New("no ws session")

// WSSession is a connected driver-device socket. Writes are serialized per
// session; gorilla connections do not allow concurrent writers.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// Registry holds the live device sessions keyed by rickshaw id. Devices also
// poll over HTTP, so every send here is best-effort.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewRegistry() *Registry { return &Registry{sessions: make(map[string]*WSSession)} }

func (r *Registry) Add(rickshawID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[rickshawID]; ok {
		_ = old.conn.Close()
	}
	r.sessions[rickshawID] = &WSSession{conn: conn}
}

func (r *Registry) Remove(rickshawID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[rickshawID]; ok {
		_ = s.conn.Close()
		delete(r.sessions, rickshawID)
	}
}

// RemoveConn drops the session only while it still owns conn, so the read
// pump of a replaced socket cannot evict the device's newer session.
func (r *Registry) RemoveConn(rickshawID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[rickshawID]; ok && s.conn == conn {
		_ = s.conn.Close()
		delete(r.sessions, rickshawID)
	}
}

func (r *Registry) Send(rickshawID string, v any) error {
	r.mu.RLock()
	s, ok := r.sessions[rickshawID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	return s.Send(v)
}

// Broadcast delivers v to every connected device, dropping sessions whose
// sockets have gone away.
func (r *Registry) Broadcast(v any) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	for _, id := range ids {
		if err := r.Send(id, v); err != nil && err != ErrNoSession {
			r.Remove(id)
		}
	}
}
