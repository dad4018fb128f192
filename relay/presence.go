package relay

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"chat-relay/domain"
)

type record struct {
	identity domain.Identity
	lastSeen time.Time
}

// Presence records the last liveness instant per identity. Eviction is
// decoupled from message traffic: a periodic sweep scans every record
// instead of each inbound message paying for an O(n) scan.
type Presence struct {
	mu   sync.Mutex
	clk  clock.Clock
	seen map[string]record
}

func NewPresence(clk clock.Clock) *Presence {
	return &Presence{
		clk:  clk,
		seen: make(map[string]record),
	}
}

// Track starts or refreshes tracking and reports whether the identity was
// previously unknown.
func (p *Presence) Track(identity domain.Identity) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, known := p.seen[identity.Key()]
	p.seen[identity.Key()] = record{identity: identity, lastSeen: p.clk.Now()}
	return !known
}

// Touch refreshes lastSeen. Unknown identities are ignored: a session may
// be touched racing with its own removal.
func (p *Presence) Touch(identity domain.Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.seen[identity.Key()]
	if !ok {
		return
	}
	rec.lastSeen = p.clk.Now()
	p.seen[identity.Key()] = rec
}

// Forget drops the record, reporting whether it existed.
func (p *Presence) Forget(identity domain.Identity) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, known := p.seen[identity.Key()]
	delete(p.seen, identity.Key())
	return known
}

// Sweep removes every identity silent longer than timeout and returns the
// evicted names for downstream announcements.
func (p *Presence) Sweep(timeout time.Duration) []domain.Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clk.Now()
	var evicted []domain.Identity
	for key, rec := range p.seen {
		if now.Sub(rec.lastSeen) > timeout {
			delete(p.seen, key)
			evicted = append(evicted, rec.identity)
		}
	}
	return evicted
}

// Identities returns a sorted snapshot of the tracked names in display form.
func (p *Presence) Identities() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.seen))
	for _, rec := range p.seen {
		names = append(names, rec.identity.String())
	}
	sort.Strings(names)
	return names
}

func (p *Presence) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seen)
}
