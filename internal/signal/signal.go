// Package signal provides a typed publish/subscribe primitive for
// single-threaded event dispatch.
//
// Subscribing returns a Listener token. Removing a token is idempotent and a
// removed listener never fires again, even when it is removed from inside an
// emission of the same signal.
package signal

// Signal is a list of listeners notified in subscription order.
// The zero value is ready to use.
type Signal[T any] struct {
	listeners []*Listener[T]
	emitting  int
}

// Listener is the token returned by Signal.Add.
type Listener[T any] struct {
	signal  *Signal[T]
	notify  func(T)
	removed bool
}

// Add subscribes fn and returns its token.
func (s *Signal[T]) Add(fn func(T)) *Listener[T] {
	l := &Listener[T]{signal: s, notify: fn}
	s.listeners = append(s.listeners, l)
	return l
}

// Emit notifies every listener that was subscribed when Emit was called and
// has not been removed since.
func (s *Signal[T]) Emit(data T) {
	snapshot := make([]*Listener[T], len(s.listeners))
	copy(snapshot, s.listeners)

	s.emitting++
	for _, l := range snapshot {
		if l.removed {
			continue
		}
		l.notify(data)
	}
	s.emitting--

	if s.emitting == 0 {
		s.compact()
	}
}

// Len returns the number of live listeners.
func (s *Signal[T]) Len() int {
	n := 0
	for _, l := range s.listeners {
		if !l.removed {
			n++
		}
	}
	return n
}

func (s *Signal[T]) compact() {
	live := s.listeners[:0]
	for _, l := range s.listeners {
		if !l.removed {
			live = append(live, l)
		}
	}
	for i := len(live); i < len(s.listeners); i++ {
		s.listeners[i] = nil
	}
	s.listeners = live
}

// Remove unsubscribes the listener. It reports whether the listener was still
// subscribed; calling it again is a no-op returning false.
func (l *Listener[T]) Remove() bool {
	if l == nil || l.removed {
		return false
	}
	l.removed = true
	if l.signal.emitting == 0 {
		l.signal.compact()
	}
	return true
}

// Active reports whether the listener is still subscribed.
func (l *Listener[T]) Active() bool {
	return l != nil && !l.removed
}
