//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"

	"chat-relay/domain"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// SessionChannel is the send half of one connected session, handed to the
// relay by the transport. Send must respect ctx so a slow recipient never
// blocks fan-out to the others.
type SessionChannel interface {
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// MessageHandler receives one inbound publication.
type MessageHandler func(topic string, payload []byte)

// BrokerConn is a connect-on-demand publish/subscribe capability used by
// the broker-mediated shape. Subscriptions do not survive a reconnect;
// the owner resubscribes after every successful Connect. Lost delivers at
// most one error per established connection.
type BrokerConn interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string, handler MessageHandler) error
	Lost() <-chan error
	Close() error
}

// Sweeper evicts identities silent past the presence timeout and returns
// the evicted names.
type Sweeper interface {
	SweepStale(ctx context.Context) []domain.Identity
}
