// Package messaging provides a NATS client wrapper for fanning chat events
// out across server instances. A user's connections may be spread over
// several servers behind a load balancer; events addressed to a user are
// published on a per-user subject and every instance hosting one of that
// user's connections is subscribed to it.
package messaging

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/quickchat/chat-app/internal/message"
)

// SubjectUser is the subject prefix for per-user chat events
// (chat.user.<user_id>).
const SubjectUser = "chat.user"

// Event kinds carried on chat.user subjects.
const (
	EventMessage = "message"
	EventSeen    = "seen"
)

// UserEvent is the payload published on chat.user.<user_id> subjects.
// Origin names the publishing server instance so subscribers can skip events
// they produced themselves; OriginConn names the connection whose send
// produced a message event so the sender's originating tab is never pushed
// its own message.
type UserEvent struct {
	Kind       string           `json:"kind"`                  // "message" or "seen"
	Origin     string           `json:"origin"`                // publishing instance name
	OriginConn string           `json:"origin_conn,omitempty"` // originating connection id
	ClientTag  string           `json:"client_tag,omitempty"`  // sender correlation token
	Message    *message.Message `json:"message,omitempty"`     // for message events
	SeenBy     string           `json:"seen_by,omitempty"`     // for seen events
}

// Bus wraps the NATS connection with helper methods for per-user pub/sub.
type Bus struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription // user_id -> subscription
}

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "quickchat",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewBus connects to NATS with the given config and returns a ready bus.
// It returns an error if the initial connection fails.
func NewBus(config Config) (*Bus, error) {
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

	return &Bus{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// PublishUserEvent publishes an event on the user's subject.
func (b *Bus) PublishUserEvent(userID string, ev UserEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("nats marshal event: %w", err)
	}
	return b.conn.Publish(SubjectUser+"."+userID, data)
}

// SubscribeUser registers a handler for all events addressed to userID.
// Called when the user's first local connection registers; a second call for
// the same user replaces the previous subscription.
func (b *Bus) SubscribeUser(userID string, handler func(ev UserEvent)) error {
	subject := SubjectUser + "." + userID
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		var ev UserEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Printf("[nats] bad event on %s: %v", subject, err)
			return
		}
		handler(ev)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	b.mu.Lock()
	if prev, ok := b.subs[userID]; ok {
		_ = prev.Unsubscribe()
	}
	b.subs[userID] = sub
	b.mu.Unlock()
	return nil
}

// UnsubscribeUser drops the subscription for userID. Called when the user's
// last local connection deregisters.
func (b *Bus) UnsubscribeUser(userID string) error {
	b.mu.Lock()
	sub, ok := b.subs[userID]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("nats: no subscription for user %s", userID)
	}
	delete(b.subs, userID)
	b.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe user %s: %w", userID, err)
	}
	return nil
}

// Close drains all active subscriptions and closes the NATS connection.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for userID, sub := range b.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain user %s: %v", userID, err)
		}
	}
	b.subs = make(map[string]*nats.Subscription)

	if err := b.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] bus closed")
}
