// Package messaging provides a NATS client wrapper for pub/sub messaging
// across Whisspra services. It handles connection lifecycle, per-conversation
// fan-out subjects, the global presence subject, and the request/reply
// channel used for safety classification.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns used across Whisspra services.
const (
	SubjectConversation = "conversation" // + .<conversation_id> (room fan-out)
	SubjectPresence     = "presence.status"
	SubjectSafetyScan   = "safety.scan" // request/reply classification
)

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "whisspra",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// PublishConversation publishes a room event to conversation.<id>. NATS
// preserves per-subject publish order from a single connection, which keeps
// broadcast order aligned with persistence order within one conversation.
func (c *NATSClient) PublishConversation(conversationID string, data []byte) error {
	return c.Publish(SubjectConversation+"."+conversationID, data)
}

// SubscribeConversation subscribes to the fan-out subject for one
// conversation. Used by the relay when a conversation gains its first local
// subscriber.
func (c *NATSClient) SubscribeConversation(conversationID string, handler func(data []byte)) error {
	subject := SubjectConversation + "." + conversationID
	return c.subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// UnsubscribeConversation drops the fan-out subscription for a conversation.
func (c *NATSClient) UnsubscribeConversation(conversationID string) error {
	return c.unsubscribe(SubjectConversation + "." + conversationID)
}

// PublishPresence publishes a presence change to every server node.
func (c *NATSClient) PublishPresence(data []byte) error {
	return c.Publish(SubjectPresence, data)
}

// SubscribePresence subscribes to presence change events from all nodes.
func (c *NATSClient) SubscribePresence(handler func(data []byte)) error {
	return c.subscribe(SubjectPresence, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// RequestSafetyScan sends a classification request and waits for the
// worker's reply, up to timeout.
func (c *NATSClient) RequestSafetyScan(data []byte, timeout time.Duration) ([]byte, error) {
	msg, err := c.conn.Request(SubjectSafetyScan, data, timeout)
	if err != nil {
		return nil, fmt.Errorf("nats request %s: %w", SubjectSafetyScan, err)
	}
	return msg.Data, nil
}

// SubscribeSafetyScan registers the scan worker side of the request/reply
// channel. The handler's return value is sent back to the requester. A queue
// group spreads requests across worker instances.
func (c *NATSClient) SubscribeSafetyScan(handler func(data []byte) []byte) error {
	sub, err := c.conn.QueueSubscribe(SubjectSafetyScan, "scanworkers", func(msg *nats.Msg) {
		if reply := handler(msg.Data); reply != nil {
			if err := msg.Respond(reply); err != nil {
				log.Printf("[nats] scan reply failed: %v", err)
			}
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", SubjectSafetyScan, err)
	}

	c.mu.Lock()
	c.subs[SubjectSafetyScan] = sub
	c.mu.Unlock()
	return nil
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}

// subscribe registers a handler and stores the subscription for cleanup.
// Subscribing to a subject that already has a subscription is a no-op, which
// keeps relay join races harmless.
func (c *NATSClient) subscribe(subject string, handler func(msg *nats.Msg)) error {
	c.mu.Lock()
	if _, ok := c.subs[subject]; ok {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	if _, ok := c.subs[subject]; ok {
		// Lost the race to another subscriber; keep the first one.
		c.mu.Unlock()
		return sub.Unsubscribe()
	}
	c.subs[subject] = sub
	c.mu.Unlock()
	return nil
}

// unsubscribe removes and unsubscribes from a specific subject.
func (c *NATSClient) unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", subject, err)
	}
	return nil
}
