package vm

import "sync"

// SignalHandler receives the arguments of an emission.
type SignalHandler func(in *Interpreter, args []Value)

type connection struct {
	id      uint64
	handler SignalHandler
	oneShot bool
}

// Signal is a named completion channel. Handlers run synchronously on the
// emitting goroutine, outside the signal's lock.
type Signal struct {
	name string

	mu    sync.Mutex
	next  uint64
	conns []connection
}

// NewSignal creates a signal with no connections.
func NewSignal(name string) *Signal {
	return &Signal{name: name}
}

// Name returns the signal name.
func (s *Signal) Name() string {
	if s == nil {
		return "null"
	}
	return s.name
}

// Connect registers h and returns its connection id. One-shot connections
// are removed before their first delivery.
func (s *Signal) Connect(h SignalHandler, oneShot bool) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.conns = append(s.conns, connection{id: s.next, handler: h, oneShot: oneShot})
	return s.next
}

// Disconnect removes a connection. It reports whether it was present.
func (s *Signal) Disconnect(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.conns {
		if c.id == id {
			s.conns = append(s.conns[:i], s.conns[i+1:]...)
			return true
		}
	}
	return false
}

// IsConnected reports whether the connection id is live.
func (s *Signal) IsConnected(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		if c.id == id {
			return true
		}
	}
	return false
}

// ConnectionCount returns the number of live connections.
func (s *Signal) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Emit delivers args to every connection. in may be nil when the emitter
// is not running script code; handlers that need one create their own.
func (s *Signal) Emit(in *Interpreter, args ...Value) {
	s.mu.Lock()
	snapshot := make([]connection, len(s.conns))
	copy(snapshot, s.conns)
	kept := s.conns[:0]
	for _, c := range s.conns {
		if !c.oneShot {
			kept = append(kept, c)
		}
	}
	clear(s.conns[len(kept):])
	s.conns = kept
	s.mu.Unlock()

	for _, c := range snapshot {
		c.handler(in, args)
	}
}

// emissionValue folds signal arguments into the single value an awaiting
// function receives.
func emissionValue(args []Value) Value {
	switch len(args) {
	case 0:
		return Nil
	case 1:
		return args[0]
	}
	return ArrayValue(NewArray(append([]Value(nil), args...)...))
}
