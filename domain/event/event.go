package event

import (
	"time"

	"github.com/google/uuid"

	"chat-relay/domain"
)

type Kind string

const (
	KindChat    Kind = "chat"
	KindSystem  Kind = "system"
	KindJoin    Kind = "user_join"
	KindLeave   Kind = "user_leave"
	KindTimeout Kind = "user_timeout"
)

// ChatEvent is one immutable chat-room occurrence. Sender is empty for
// pure system events.
type ChatEvent struct {
	ID     uuid.UUID
	Kind   Kind
	Sender domain.Identity
	Body   string
	At     time.Time
}

// NewChat builds the event for a user message.
func NewChat(sender domain.Identity, body string, at time.Time) ChatEvent {
	return ChatEvent{
		ID:     uuid.New(),
		Kind:   KindChat,
		Sender: sender,
		Body:   body,
		At:     at,
	}
}

// NewSystem builds a join/leave/timeout/system event. Sender names the
// user the event is about, not its author.
func NewSystem(kind Kind, sender domain.Identity, body string, at time.Time) ChatEvent {
	return ChatEvent{
		ID:     uuid.New(),
		Kind:   kind,
		Sender: sender,
		Body:   body,
		At:     at,
	}
}
