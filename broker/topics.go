// Package broker implements the broker-mediated chat relay shape: the
// relay and its clients meet on publish/subscribe topics instead of
// direct connections, and each side manages its own connection lifecycle
// with reconnect-and-backoff.
package broker

const (
	TopicChat     = "chat/messages"
	TopicPresence = "chat/presence"
	TopicUsers    = "chat/users"
	TopicHistory  = "chat/history"
	TopicSystem   = "chat/system"

	// TopicPrivateAll matches every per-user private topic.
	TopicPrivateAll = "chat/private/+"

	TopicRequestUsers   = "chat/request/users"
	TopicRequestHistory = "chat/request/history"
)

// PrivateTopic is where one user receives targeted replies such as the
// user list and the history replay.
func PrivateTopic(username string) string {
	return "chat/private/" + username
}
