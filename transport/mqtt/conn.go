// Package mqtt adapts an MQTT client into the broker connection
// capability. Reconnects are left to the owner: auto-reconnect is
// disabled so the Reconnecting state stays observable and testable
// instead of hiding inside the client library.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"chat-relay/contract"
	"chat-relay/errors"
)

const connectTimeout = 10 * time.Second

type Conn struct {
	log  *slog.Logger
	opts *paho.ClientOptions
	lost chan error

	mu     sync.Mutex
	client paho.Client
}

func NewConn(log *slog.Logger, brokerURL, clientID string) *Conn {
	c := &Conn{
		log:  log,
		lost: make(chan error, 1),
	}
	c.opts = paho.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetKeepAlive(30 * time.Second).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			c.log.Warn("Broker connection lost", "error", err)
			select {
			case c.lost <- err:
			default:
			}
		})
	return c
}

func (c *Conn) Connect(ctx context.Context) error {
	client := paho.NewClient(c.opts)
	token := client.Connect()
	select {
	case <-ctx.Done():
		client.Disconnect(0)
		return ctx.Err()
	case <-token.Done():
	case <-time.After(connectTimeout):
		client.Disconnect(0)
		return fmt.Errorf("broker connect timed out after %s", connectTimeout)
	}
	if err := token.Error(); err != nil {
		return err
	}

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()

	// Drop a stale loss notice left over from the previous connection.
	select {
	case <-c.lost:
	default:
	}
	return nil
}

func (c *Conn) Publish(ctx context.Context, topic string, payload []byte) error {
	client := c.current()
	if client == nil || !client.IsConnected() {
		return errors.ErrNotConnected
	}
	return c.await(ctx, client.Publish(topic, 0, false, payload))
}

func (c *Conn) Subscribe(ctx context.Context, topic string, handler contract.MessageHandler) error {
	client := c.current()
	if client == nil || !client.IsConnected() {
		return errors.ErrNotConnected
	}
	token := client.Subscribe(topic, 0, func(_ paho.Client, m paho.Message) {
		handler(m.Topic(), m.Payload())
	})
	return c.await(ctx, token)
}

func (c *Conn) Lost() <-chan error {
	return c.lost
}

func (c *Conn) Close() error {
	if client := c.current(); client != nil {
		client.Disconnect(250)
	}
	return nil
}

func (c *Conn) current() paho.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

func (c *Conn) await(ctx context.Context, token paho.Token) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
		return token.Error()
	}
}
