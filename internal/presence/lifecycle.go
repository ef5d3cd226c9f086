package presence

import (
	"log"

	"github.com/quickchat/chat-app/internal/protocol"
)

// Broadcaster fans a frame out to every live connection on this server
// instance. Implemented by the WebSocket connection manager.
type Broadcaster interface {
	Broadcast(data []byte)
}

// BroadcastFunc adapts a plain function to the Broadcaster interface.
type BroadcastFunc func(data []byte)

// Broadcast calls f(data).
func (f BroadcastFunc) Broadcast(data []byte) { f(data) }

// Lifecycle handles connection lifecycle transitions: it registers and
// deregisters connections in the Registry and broadcasts the resulting
// online-user snapshot to all live connections. Every transition triggers a
// full-snapshot getOnlineUsers broadcast; this is O(total connections) per
// connect/disconnect and is the accepted cost at this scale.
type Lifecycle struct {
	registry    *Registry
	broadcaster Broadcaster

	// onFirstOnline runs when a user's first connection registers, and
	// onLastOffline when their last connection deregisters. Used by the
	// server wiring to manage per-user bus subscriptions.
	onFirstOnline func(userID string)
	onLastOffline func(userID string)
}

// NewLifecycle creates a Lifecycle over the given registry and broadcaster.
func NewLifecycle(registry *Registry, broadcaster Broadcaster) *Lifecycle {
	return &Lifecycle{
		registry:    registry,
		broadcaster: broadcaster,
	}
}

// OnFirstOnline registers a hook invoked when a user transitions to online.
func (l *Lifecycle) OnFirstOnline(fn func(userID string)) {
	l.onFirstOnline = fn
}

// OnLastOffline registers a hook invoked when a user transitions to offline.
func (l *Lifecycle) OnLastOffline(fn func(userID string)) {
	l.onLastOffline = fn
}

// Connect registers a connection for userID and broadcasts the updated
// online-user snapshot to all connections. The caller (the WebSocket server)
// has already validated the identity at handshake time.
func (l *Lifecycle) Connect(connID, userID string) {
	first := l.registry.Add(userID, connID)
	if first && l.onFirstOnline != nil {
		l.onFirstOnline(userID)
	}
	log.Printf("presence: user=%s conn=%s connected (online=%d)", userID, connID, l.registry.CountUsers())
	l.broadcastSnapshot()
}

// Disconnect deregisters a connection. A connection that was never
// registered (or already removed) is a no-op: no broadcast is sent. The
// registry mutation is the last, simplest step of connection teardown and is
// not subject to any I/O failure.
func (l *Lifecycle) Disconnect(connID, userID string) {
	removed, last := l.registry.Remove(userID, connID)
	if !removed {
		return
	}
	if last && l.onLastOffline != nil {
		l.onLastOffline(userID)
	}
	log.Printf("presence: user=%s conn=%s disconnected (online=%d)", userID, connID, l.registry.CountUsers())
	l.broadcastSnapshot()
}

// Registry exposes the underlying registry for delivery lookups.
func (l *Lifecycle) Registry() *Registry {
	return l.registry
}

// broadcastSnapshot sends the current online-user set to every connection.
func (l *Lifecycle) broadcastSnapshot() {
	data, err := protocol.NewServerMessage(protocol.TypeOnlineUsers, protocol.OnlineUsersMsg{
		Users: l.registry.Snapshot(),
	})
	if err != nil {
		log.Printf("presence: failed to build online users broadcast: %v", err)
		return
	}
	l.broadcaster.Broadcast(data)
}
