package delivery

import (
	"context"
	"fmt"
	"log"

	"github.com/quickchat/chat-app/internal/messaging"
	"github.com/quickchat/chat-app/internal/metrics"
	"github.com/quickchat/chat-app/internal/presence"
	"github.com/quickchat/chat-app/internal/protocol"
)

// Reconciler flips the seen flag on a reader's unseen messages from a
// counterpart and notifies the counterpart's live connections. Both trigger
// paths — the explicit markSeen event and the implicit mark on a thread
// history fetch — go through MarkSeen, so they converge on the same
// invariant: the counterpart is notified exactly once per batch with effect.
type Reconciler struct {
	store    seenStore
	registry *presence.Registry
	pusher   Pusher
	bus      Bus
	origin   string
}

// seenStore is the slice of the message store the reconciler needs.
type seenStore interface {
	MarkSeenBatch(ctx context.Context, senderID, receiverID string) (int64, error)
}

// NewReconciler creates a Reconciler. bus may be nil.
func NewReconciler(store seenStore, registry *presence.Registry, pusher Pusher, bus Bus, origin string) *Reconciler {
	return &Reconciler{
		store:    store,
		registry: registry,
		pusher:   pusher,
		bus:      bus,
		origin:   origin,
	}
}

// MarkSeen marks every unseen message from counterpartID to readerID as seen
// and, if any record changed, pushes messagesSeen{by: readerID} to the
// counterpart's live connections. A batch that updates zero records (repeat
// call, empty thread) produces no notification. Returns the updated count.
func (r *Reconciler) MarkSeen(ctx context.Context, readerID, counterpartID string) (int64, error) {
	n, err := r.store.MarkSeenBatch(ctx, counterpartID, readerID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if n == 0 {
		return 0, nil
	}
	metrics.SeenBatches.Inc()

	r.NotifySeen(counterpartID, readerID)

	if r.bus != nil {
		ev := messaging.UserEvent{
			Kind:   messaging.EventSeen,
			Origin: r.origin,
			SeenBy: readerID,
		}
		if err := r.bus.PublishUserEvent(counterpartID, ev); err != nil {
			log.Printf("delivery: seen bus publish user=%s failed: %v", counterpartID, err)
		}
	}
	return n, nil
}

// NotifySeen pushes messagesSeen{by} to every local connection of userID.
// Also invoked directly for seen events arriving from other instances.
func (r *Reconciler) NotifySeen(userID, by string) {
	data, err := protocol.NewServerMessage(protocol.TypeMessagesSeen, protocol.MessagesSeenMsg{By: by})
	if err != nil {
		log.Printf("delivery: failed to build messagesSeen push: %v", err)
		return
	}
	for _, connID := range r.registry.Connections(userID) {
		if err := r.pusher.Push(connID, data); err != nil {
			log.Printf("delivery: seen push conn=%s failed: %v", connID, err)
		}
	}
}
