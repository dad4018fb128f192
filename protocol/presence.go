package protocol

// Broker-side payloads. Presence updates and request envelopes travel on
// their own topics instead of carrying a message type.

type PresenceAction string

const (
	ActionJoin      PresenceAction = "join"
	ActionLeave     PresenceAction = "leave"
	ActionHeartbeat PresenceAction = "heartbeat"
)

// PresenceUpdate is published by clients on the presence topic.
type PresenceUpdate struct {
	Action    PresenceAction `json:"action"`
	Username  string         `json:"username"`
	Timestamp string         `json:"timestamp"`
}

// Request asks the relay for the user list or the history; the reply goes
// to the requester's private topic.
type Request struct {
	Requester string `json:"requester"`
	Timestamp string `json:"timestamp"`
}
