// Package protocol defines the JSON envelopes exchanged between clients
// and the relay. The same shapes travel over the websocket connection and
// the broker topics, so both transports stay interchangeable.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/samber/lo"

	"chat-relay/domain/event"
)

type Type string

const (
	// Client -> Relay message types
	TypeSetUsername Type = "set_username"
	TypeChat        Type = "chat"
	TypePing        Type = "ping"
	TypeGetUsers    Type = "get_users"
	TypeLeave       Type = "leave"

	// Relay -> Client message types
	TypeUsernameAccepted Type = "username_accepted"
	TypeUsernameError    Type = "username_error"
	TypeSystem           Type = "system"
	TypeUserJoin         Type = "user_join"
	TypeUserLeave        Type = "user_leave"
	TypeUserTimeout      Type = "user_timeout"
	TypeOnlineUsers      Type = "online_users"
	TypeHistory          Type = "history"
	TypeError            Type = "error"
	TypePong             Type = "pong"
)

// Inbound is the client->relay envelope. Only the fields required by the
// declared type are expected to be set.
type Inbound struct {
	Type     Type   `json:"type"`
	Username string `json:"username,omitempty"`
	Message  string `json:"message,omitempty"`
}

// DecodeInbound parses one raw payload. A payload that is valid JSON but
// carries no type is malformed as well.
func DecodeInbound(raw []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return Inbound{}, fmt.Errorf("invalid message format: %w", err)
	}
	if in.Type == "" {
		return Inbound{}, fmt.Errorf("invalid message format: missing type")
	}
	return in, nil
}

// ChatMessage is a single user message, used standalone and inside
// history replays.
type ChatMessage struct {
	Type      Type   `json:"type"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// PresenceEvent announces a join, leave, or timeout together with the
// roster after the change.
type PresenceEvent struct {
	Type        Type     `json:"type"`
	Username    string   `json:"username"`
	Message     string   `json:"message"`
	Timestamp   string   `json:"timestamp"`
	OnlineUsers int      `json:"online_users"`
	UsersList   []string `json:"users_list"`
}

type OnlineUsers struct {
	Type      Type     `json:"type"`
	Users     []string `json:"users"`
	Count     int      `json:"count"`
	Timestamp string   `json:"timestamp"`
}

type History struct {
	Type      Type          `json:"type"`
	Messages  []ChatMessage `json:"messages"`
	Timestamp string        `json:"timestamp"`
}

type Accepted struct {
	Type      Type   `json:"type"`
	Username  string `json:"username"`
	Timestamp string `json:"timestamp"`
}

// Notice covers the single-message envelopes: system, error,
// username_error, and pong (which carries no message).
type Notice struct {
	Type      Type   `json:"type"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Encode marshals an outbound envelope once so fan-out reuses the bytes.
func Encode(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding %T: %w", v, err)
	}
	return payload, nil
}

// Stamp renders timestamps the way every envelope carries them.
func Stamp(t time.Time) string {
	return t.Format(time.RFC3339)
}

// FromEvent converts a stored chat event into its wire shape.
func FromEvent(e event.ChatEvent) ChatMessage {
	return ChatMessage{
		Type:      TypeChat,
		Username:  e.Sender.String(),
		Message:   e.Body,
		Timestamp: Stamp(e.At),
	}
}

// HistoryOf builds a history replay from stored events, oldest first.
func HistoryOf(events []event.ChatEvent, at time.Time) History {
	return History{
		Type:      TypeHistory,
		Messages:  lo.Map(events, func(e event.ChatEvent, _ int) ChatMessage { return FromEvent(e) }),
		Timestamp: Stamp(at),
	}
}
