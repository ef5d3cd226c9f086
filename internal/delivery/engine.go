// Package delivery implements the realtime delivery path: persisting an
// accepted message and pushing it to the receiver's live connections and the
// sender's other sessions, plus the seen-state reconciliation between a
// reader and a conversation counterpart.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/quickchat/chat-app/internal/message"
	"github.com/quickchat/chat-app/internal/messaging"
	"github.com/quickchat/chat-app/internal/metrics"
	"github.com/quickchat/chat-app/internal/presence"
	"github.com/quickchat/chat-app/internal/protocol"
)

// Error taxonomy for the delivery path. Callers classify with errors.Is.
var (
	// ErrInvalidPayload rejects a send with neither text nor image. Nothing
	// is persisted and nothing is pushed.
	ErrInvalidPayload = errors.New("delivery: invalid payload")

	// ErrStoreUnavailable wraps a failed message store call. The triggering
	// event is dropped after logging; no partial push occurs and the engine
	// does not retry (the client may re-emit).
	ErrStoreUnavailable = errors.New("delivery: message store unavailable")
)

// Pusher writes a frame to a single live connection. Implemented by the
// WebSocket server. A push to a connection that disappeared between the
// registry lookup and the write fails softly; the caller only logs it.
type Pusher interface {
	Push(connID string, data []byte) error
}

// PushFunc adapts a plain function to the Pusher interface.
type PushFunc func(connID string, data []byte) error

// Push calls f(connID, data).
func (f PushFunc) Push(connID string, data []byte) error { return f(connID, data) }

// Bus fans events out to the user's connections on other server instances.
// Implemented by messaging.Bus; nil disables cross-instance fan-out.
type Bus interface {
	PublishUserEvent(userID string, ev messaging.UserEvent) error
}

// Engine is the delivery engine: it validates and persists a send, then
// pushes the durable message to every live connection of the receiver and to
// the sender's other sessions. The originating connection is never pushed to;
// it reconciles its optimistic placeholder from the direct send response.
type Engine struct {
	store    message.Store
	registry *presence.Registry
	pusher   Pusher
	bus      Bus
	origin   string // this instance's name, stamped on bus events

	// Per sender->receiver pair locks. Holding the pair lock across the
	// persistence call and the pushes guarantees that messages between the
	// same pair are stored and delivered in acceptance order. Pairs are
	// directional; there is no cross-pair ordering guarantee.
	pairMu sync.Mutex
	pairs  map[string]*sync.Mutex
}

// NewEngine creates an Engine. bus may be nil for single-instance deployments.
func NewEngine(store message.Store, registry *presence.Registry, pusher Pusher, bus Bus, origin string) *Engine {
	return &Engine{
		store:    store,
		registry: registry,
		pusher:   pusher,
		bus:      bus,
		origin:   origin,
		pairs:    make(map[string]*sync.Mutex),
	}
}

// SendRequest carries one accepted sendMessage event.
type SendRequest struct {
	SenderID   string
	ReceiverID string
	Text       string
	Image      string
	ClientTag  string // client correlation token, echoed back in pushes
	OriginConn string // connection the send arrived on; excluded from fan-out
}

// Send persists the message and fans it out. It returns the durable message
// so the transport layer can answer the originating connection directly.
// A receiver with zero live connections is not an error: the message stays
// durable and is picked up by the next history fetch.
func (e *Engine) Send(ctx context.Context, req SendRequest) (*message.Message, error) {
	if err := message.ValidateContent(req.Text, req.Image); err != nil {
		metrics.MessagesTotal.WithLabelValues("dropped").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	unlock := e.lockPair(req.SenderID, req.ReceiverID)
	defer unlock()

	start := time.Now()

	m, err := e.store.CreateMessage(ctx, req.SenderID, req.ReceiverID, req.Text, req.Image)
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("dropped").Inc()
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	metrics.MessagesTotal.WithLabelValues("sent").Inc()

	data, err := protocol.NewServerMessage(protocol.TypeNewMessage, protocol.NewMessageMsg{
		Message:   ToPayload(m),
		ClientTag: req.ClientTag,
	})
	if err != nil {
		// The message is durable; only the push is lost. History fetch
		// catches the receiver up.
		log.Printf("delivery: failed to build newMessage push id=%s: %v", m.ID, err)
		return m, nil
	}

	// Push to every live connection of the receiver.
	for _, connID := range e.registry.Connections(req.ReceiverID) {
		if err := e.pusher.Push(connID, data); err != nil {
			log.Printf("delivery: push to receiver conn=%s failed: %v", connID, err)
			continue
		}
		metrics.MessagesTotal.WithLabelValues("delivered").Inc()
	}

	// Push to the sender's other sessions so multi-tab clients converge.
	for _, connID := range e.registry.Connections(req.SenderID) {
		if connID == req.OriginConn {
			continue
		}
		if err := e.pusher.Push(connID, data); err != nil {
			log.Printf("delivery: push to sender conn=%s failed: %v", connID, err)
		}
	}

	e.publish(req.ReceiverID, messaging.UserEvent{
		Kind:       messaging.EventMessage,
		Origin:     e.origin,
		OriginConn: req.OriginConn,
		ClientTag:  req.ClientTag,
		Message:    m,
	})
	if req.SenderID != req.ReceiverID {
		e.publish(req.SenderID, messaging.UserEvent{
			Kind:       messaging.EventMessage,
			Origin:     e.origin,
			OriginConn: req.OriginConn,
			ClientTag:  req.ClientTag,
			Message:    m,
		})
	}

	metrics.DeliveryLatency.Observe(time.Since(start).Seconds())
	return m, nil
}

// DeliverRemote pushes a message that another instance persisted to this
// instance's local connections of userID. skipConn names the originating
// connection; it is only relevant when the sender has tabs on this instance.
func (e *Engine) DeliverRemote(userID string, m *message.Message, clientTag, skipConn string) {
	data, err := protocol.NewServerMessage(protocol.TypeNewMessage, protocol.NewMessageMsg{
		Message:   ToPayload(m),
		ClientTag: clientTag,
	})
	if err != nil {
		log.Printf("delivery: failed to build remote push id=%s: %v", m.ID, err)
		return
	}
	for _, connID := range e.registry.Connections(userID) {
		if connID == skipConn {
			continue
		}
		if err := e.pusher.Push(connID, data); err != nil {
			log.Printf("delivery: remote push conn=%s failed: %v", connID, err)
			continue
		}
		metrics.MessagesTotal.WithLabelValues("delivered").Inc()
	}
}

// publish sends a bus event, logging failures. Bus fan-out is best effort;
// remote tabs converge on their next history fetch if an event is lost.
func (e *Engine) publish(userID string, ev messaging.UserEvent) {
	if e.bus == nil {
		return
	}
	if err := e.bus.PublishUserEvent(userID, ev); err != nil {
		log.Printf("delivery: bus publish user=%s failed: %v", userID, err)
	}
}

// lockPair acquires the mutex for the directional sender->receiver pair,
// creating it on first use, and returns the unlock func.
func (e *Engine) lockPair(senderID, receiverID string) func() {
	key := senderID + "\x00" + receiverID

	e.pairMu.Lock()
	mu, ok := e.pairs[key]
	if !ok {
		mu = &sync.Mutex{}
		e.pairs[key] = mu
	}
	e.pairMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// ToPayload converts a persisted message to its wire representation.
func ToPayload(m *message.Message) protocol.MessagePayload {
	return protocol.MessagePayload{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Text:       m.Text,
		Image:      m.Image,
		Seen:       m.Seen,
		CreatedAt:  m.CreatedAt,
	}
}
