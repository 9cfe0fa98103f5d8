package app

import "time"

// Session is one connected client. The engine writes to Outbound; the
// transport owns the single goroutine that drains it.
type Session struct {
	ID string

	out      chan []byte
	lastSeen time.Time
	closed   bool
	// welcomed is set once the welcome state is queued. Updates wait for it.
	welcomed bool
}

func newSession(id string, buffer int, now time.Time) *Session {
	return &Session{
		ID:       id,
		out:      make(chan []byte, buffer),
		lastSeen: now,
	}
}

// Outbound yields encoded messages. It is closed when the engine drops the
// session.
func (s *Session) Outbound() <-chan []byte {
	return s.out
}

// enqueue never blocks. It reports false when the buffer is full.
func (s *Session) enqueue(msg []byte) bool {
	if s.closed {
		return false
	}
	select {
	case s.out <- msg:
		return true
	default:
		return false
	}
}

func (s *Session) close() {
	if !s.closed {
		s.closed = true
		close(s.out)
	}
}
