package notify

import (
	"context"
	"sync"
	"time"
)

const (
	defaultHeartbeatInterval = 30 * time.Second

	// sessionBuffer bounds per-session queueing. A session that cannot drain
	// this many events is treated as gone and skipped, never blocked on.
	sessionBuffer = 16
)

// Session is one live subscriber connection. Obtained from Registry.Register
// and released with Registry.Unregister.
type Session struct {
	UserID string

	ch        chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// Events is the stream the transport handler drains. The channel is closed
// when the session is unregistered.
func (s *Session) Events() <-chan Event { return s.ch }

// Registry fans events out to the live sessions of each user on this
// instance. A user may hold several sessions (multiple tabs); every one
// receives every event.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]map[*Session]struct{}

	heartbeat time.Duration
	clock     func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		sessions:  make(map[string]map[*Session]struct{}),
		heartbeat: defaultHeartbeatInterval,
		clock:     time.Now,
	}
}

// Register adds a session for userID. The connected event is queued before
// Register returns, so it is always the first event the subscriber sees.
func (r *Registry) Register(userID string) *Session {
	s := &Session{
		UserID: userID,
		ch:     make(chan Event, sessionBuffer),
		done:   make(chan struct{}),
	}

	r.mu.Lock()
	set := r.sessions[userID]
	if set == nil {
		set = make(map[*Session]struct{})
		r.sessions[userID] = set
	}
	set[s] = struct{}{}
	r.mu.Unlock()

	s.ch <- Event{Type: EventConnected, Timestamp: r.clock().UTC()}
	go r.heartbeatLoop(s)
	return s
}

// Unregister removes the session and closes its event channel. Safe to call
// more than once.
func (r *Registry) Unregister(s *Session) {
	s.closeOnce.Do(func() {
		r.mu.Lock()
		if set := r.sessions[s.UserID]; set != nil {
			delete(set, s)
			if len(set) == 0 {
				delete(r.sessions, s.UserID)
			}
		}
		r.mu.Unlock()

		close(s.done)
		close(s.ch)
	})
}

// Publish delivers ev to every live session of userID on this instance.
// Returns true when at least one session received it. Sessions with a full
// buffer are skipped.
func (r *Registry) Publish(ctx context.Context, userID string, ev Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	delivered := false
	for s := range r.sessions[userID] {
		select {
		case s.ch <- ev:
			delivered = true
		default:
		}
	}
	return delivered
}

// SessionCount reports the live sessions for userID on this instance.
func (r *Registry) SessionCount(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions[userID])
}

func (r *Registry) heartbeatLoop(s *Session) {
	t := time.NewTicker(r.heartbeat)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-t.C:
			// Sending under the lock keeps the tick ordered against
			// Unregister's channel close.
			r.mu.Lock()
			if _, live := r.sessions[s.UserID][s]; live {
				select {
				case s.ch <- Event{Type: EventHeartbeat, Timestamp: r.clock().UTC()}:
				default:
				}
			}
			r.mu.Unlock()
		}
	}
}
