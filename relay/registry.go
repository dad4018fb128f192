package relay

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
)

// Session binds an accepted identity to its transport channel. The
// Registry owns it from acceptance until removal; removal is the only
// destruction path.
type Session struct {
	Identity domain.Identity
	Channel  contract.SessionChannel
	JoinedAt time.Time
}

// Registry maps active identities to their sessions, keyed on the
// lower-cased name so two casings of one name cannot coexist. It also
// keeps the presence tracker 1:1 with the session map: every successful
// Register creates a presence record, every removal deletes it.
type Registry struct {
	mu       sync.RWMutex
	clk      clock.Clock
	presence *Presence
	sessions map[string]*Session
}

func NewRegistry(clk clock.Clock, presence *Presence) *Registry {
	return &Registry{
		clk:      clk,
		presence: presence,
		sessions: make(map[string]*Session),
	}
}

// Register claims an identity for a channel. The whole check-and-insert
// runs under one lock so two sessions can never both win the same name.
func (r *Registry) Register(raw string, ch contract.SessionChannel) (*Session, error) {
	identity, err := domain.ParseIdentity(raw)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.sessions[identity.Key()]; taken {
		return nil, errors.ErrIdentityTaken
	}
	s := &Session{Identity: identity, Channel: ch, JoinedAt: r.clk.Now()}
	r.sessions[identity.Key()] = s
	r.presence.Track(identity)
	return s, nil
}

// Remove deletes the session and its presence record, reporting whether
// anything was removed. Idempotent: a session already gone, or a name
// since re-registered by someone else, is left untouched.
func (r *Registry) Remove(s *Session) bool {
	if s == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.sessions[s.Identity.Key()]; ok && current == s {
		delete(r.sessions, s.Identity.Key())
		r.presence.Forget(s.Identity)
		return true
	}
	return false
}

// RemoveIdentity removes by name (presence sweep path) and returns the
// evicted session, or nil when the name was not registered.
func (r *Registry) RemoveIdentity(identity domain.Identity) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[identity.Key()]
	if !ok {
		return nil
	}
	delete(r.sessions, identity.Key())
	r.presence.Forget(identity)
	return s
}

// Identities returns a sorted snapshot of the online names in display
// form; callers can hold it without racing registrations.
func (r *Registry) Identities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sessions))
	for _, s := range r.sessions {
		names = append(names, s.Identity.String())
	}
	sort.Strings(names)
	return names
}

// Snapshot returns the active sessions for fan-out iteration.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
