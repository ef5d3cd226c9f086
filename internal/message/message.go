// Package message defines the durable message model and the store gateway
// used to persist and query messages. The store assigns each message its
// durable id and creation timestamp; after that the record is immutable
// except for the seen flag, which only ever transitions false -> true.
package message

import (
	"context"
	"time"
)

// Message is a persisted one-to-one chat message.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Text       string    `json:"text,omitempty"`
	Image      string    `json:"image,omitempty"` // opaque image reference (URL)
	Seen       bool      `json:"seen"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Store is the gateway to durable message storage. Implementations must
// provide single-record atomicity for creation and for each seen flip; the
// callers never require cross-message transactions.
type Store interface {
	// CreateMessage persists a new message with seen=false and returns it
	// with its durable id and creation timestamp assigned.
	CreateMessage(ctx context.Context, senderID, receiverID, text, image string) (*Message, error)

	// FindThread returns every message exchanged between the two users,
	// in ascending creation order.
	FindThread(ctx context.Context, userA, userB string) ([]Message, error)

	// MarkSeenBatch flips seen=false -> true on every message from senderID
	// to receiverID and returns how many records changed. Calling it again
	// immediately returns 0: the flip is monotonic and the batch idempotent.
	MarkSeenBatch(ctx context.Context, senderID, receiverID string) (int64, error)

	// CountUnseenPerSender returns, for the given receiver, a map from
	// sender id to the number of unseen messages from that sender. Senders
	// with zero unseen messages are absent from the map.
	CountUnseenPerSender(ctx context.Context, receiverID string) (map[string]int, error)
}
