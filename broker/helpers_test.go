package broker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"chat-relay/contract"
)

// fakeBrokerConn is an in-memory stand-in for the broker connection:
// subscriptions are recorded so tests can inject inbound traffic, and
// publications are captured per topic for assertions.
type fakeBrokerConn struct {
	mu          sync.Mutex
	handlers    map[string]contract.MessageHandler
	published   map[string][][]byte
	lost        chan error
	connectErrs []error
	connects    int
	subscribes  int
	closed      bool
}

func newFakeBrokerConn() *fakeBrokerConn {
	return &fakeBrokerConn{
		handlers:  make(map[string]contract.MessageHandler),
		published: make(map[string][][]byte),
		lost:      make(chan error, 1),
	}
}

func (f *fakeBrokerConn) Connect(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		return err
	}
	return nil
}

func (f *fakeBrokerConn) Subscribe(_ context.Context, topic string, handler contract.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes++
	f.handlers[topic] = handler
	return nil
}

func (f *fakeBrokerConn) Publish(_ context.Context, topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(payload))
	copy(cp, payload)
	f.published[topic] = append(f.published[topic], cp)
	return nil
}

func (f *fakeBrokerConn) Lost() <-chan error { return f.lost }

func (f *fakeBrokerConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// deliver injects one inbound message through the recorded subscription.
func (f *fakeBrokerConn) deliver(t *testing.T, topic string, v any) {
	t.Helper()
	payload, err := json.Marshal(v)
	require.NoError(t, err)
	f.mu.Lock()
	handler, ok := f.handlers[topic]
	f.mu.Unlock()
	require.True(t, ok, "no subscription on %s", topic)
	handler(topic, payload)
}

func (f *fakeBrokerConn) publishedOn(topic string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.published[topic]))
	copy(out, f.published[topic])
	return out
}

func (f *fakeBrokerConn) decodeLastOn(t *testing.T, topic string, v any) {
	t.Helper()
	payloads := f.publishedOn(topic)
	require.NotEmpty(t, payloads, "nothing published on %s", topic)
	require.NoError(t, json.Unmarshal(payloads[len(payloads)-1], v))
}

func (f *fakeBrokerConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeBrokerConn) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeBrokerConn) subscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes
}
