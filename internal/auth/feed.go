// Package auth exposes the session feed the registry watches. The rest of
// authentication lives outside this service; all the layer subsystem needs
// is "who is signed in now, if anyone".
package auth

import "sync"

// Session identifies the signed-in user.
type Session struct {
	UserID string
}

// Feed publishes the current session, or nil when it ends. Active layers
// are user-scoped, so a nil transition clears them.
type Feed struct {
	mu      sync.RWMutex
	current *Session
	subs    map[chan *Session]struct{}
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[chan *Session]struct{})}
}

// Current returns the session as of the last Set, nil when signed out.
func (f *Feed) Current() *Session {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current
}

// Set records the new session state and notifies subscribers. Pass nil on
// logout or token expiry.
func (f *Feed) Set(s *Session) {
	f.mu.Lock()
	f.current = s
	subs := make([]chan *Session, 0, len(f.subs))
	for ch := range f.subs {
		subs = append(subs, ch)
	}
	f.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- s:
		default:
		}
	}
}

// Subscribe returns a buffered channel of session transitions.
func (f *Feed) Subscribe() chan *Session {
	ch := make(chan *Session, 8)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()
	return ch
}

func (f *Feed) Unsubscribe(ch chan *Session) {
	f.mu.Lock()
	delete(f.subs, ch)
	f.mu.Unlock()
	close(ch)
}
