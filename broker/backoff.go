package broker

import "time"

const (
	DefaultBackoffInitial = 5 * time.Second
	DefaultBackoffCap     = 60 * time.Second
)

// Backoff yields the delay before each reconnect attempt: the initial
// delay doubles after every failure up to the cap. Not safe for
// concurrent use; each connection loop owns its own instance.
type Backoff struct {
	initial time.Duration
	cap     time.Duration
	next    time.Duration
}

func NewBackoff(initial, cap time.Duration) *Backoff {
	if initial <= 0 {
		initial = DefaultBackoffInitial
	}
	if cap < initial {
		cap = DefaultBackoffCap
	}
	return &Backoff{initial: initial, cap: cap, next: initial}
}

// Next returns the delay to wait before the upcoming attempt and
// advances the sequence.
func (b *Backoff) Next() time.Duration {
	d := b.next
	b.next *= 2
	if b.next > b.cap {
		b.next = b.cap
	}
	return d
}

// Reset restarts the sequence after a successful connection.
func (b *Backoff) Reset() {
	b.next = b.initial
}
