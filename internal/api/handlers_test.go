package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/quickchat/chat-app/internal/auth"
	"github.com/quickchat/chat-app/internal/delivery"
	"github.com/quickchat/chat-app/internal/message"
	"github.com/quickchat/chat-app/internal/messaging"
	"github.com/quickchat/chat-app/internal/presence"
)

// fakeStore is an in-memory message.Store for handler tests.
type fakeStore struct {
	messages []message.Message
	failNext bool
}

func (s *fakeStore) CreateMessage(ctx context.Context, senderID, receiverID, text, image string) (*message.Message, error) {
	m := message.Message{
		ID:         fmt.Sprintf("m%d", len(s.messages)+1),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       text,
		Image:      image,
		CreatedAt:  time.Now(),
	}
	s.messages = append(s.messages, m)
	return &m, nil
}

func (s *fakeStore) FindThread(ctx context.Context, userA, userB string) ([]message.Message, error) {
	if s.failNext {
		return nil, errors.New("store down")
	}
	var out []message.Message
	for _, m := range s.messages {
		if (m.SenderID == userA && m.ReceiverID == userB) || (m.SenderID == userB && m.ReceiverID == userA) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeStore) MarkSeenBatch(ctx context.Context, senderID, receiverID string) (int64, error) {
	if s.failNext {
		return 0, errors.New("store down")
	}
	var n int64
	for i := range s.messages {
		m := &s.messages[i]
		if m.SenderID == senderID && m.ReceiverID == receiverID && !m.Seen {
			m.Seen = true
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) CountUnseenPerSender(ctx context.Context, receiverID string) (map[string]int, error) {
	if s.failNext {
		return nil, errors.New("store down")
	}
	counts := make(map[string]int)
	for _, m := range s.messages {
		if m.ReceiverID == receiverID && !m.Seen {
			counts[m.SenderID]++
		}
	}
	return counts, nil
}

type fakePusher struct{}

func (p *fakePusher) Push(connID string, data []byte) error { return nil }

type fakeBus struct{}

func (b *fakeBus) PublishUserEvent(userID string, ev messaging.UserEvent) error { return nil }

// fakeResolver resolves a fixed set of tokens.
type fakeResolver struct {
	tokens map[string]string
}

func (r *fakeResolver) Resolve(ctx context.Context, token string) (string, error) {
	userID, ok := r.tokens[token]
	if !ok {
		return "", auth.ErrUnknownToken
	}
	return userID, nil
}

func newTestHandler(store *fakeStore) http.Handler {
	registry := presence.NewRegistry()
	reconciler := delivery.NewReconciler(store, registry, &fakePusher{}, &fakeBus{}, "test-server")
	resolver := &fakeResolver{tokens: map[string]string{"tok-a": "user-a", "tok-b": "user-b"}}
	return NewHandler(store, reconciler, resolver).Routes()
}

func doRequest(t *testing.T, h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestThreadRequiresToken(t *testing.T) {
	h := newTestHandler(&fakeStore{})

	rec := doRequest(t, h, http.MethodGet, "/api/messages/user-b", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/messages/user-b", "bogus")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown token, got %d", rec.Code)
	}
}

func TestThreadReturnsConversationAndMarksSeen(t *testing.T) {
	store := &fakeStore{}
	store.CreateMessage(context.Background(), "user-b", "user-a", "hello", "")
	store.CreateMessage(context.Background(), "user-a", "user-b", "hi back", "")
	store.CreateMessage(context.Background(), "user-c", "user-a", "unrelated", "")
	h := newTestHandler(store)

	rec := doRequest(t, h, http.MethodGet, "/api/messages/user-b", "tok-a")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var msgs []message.Message
	if err := json.Unmarshal(rec.Body.Bytes(), &msgs); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages in thread, got %d", len(msgs))
	}

	// Fetching the thread marks user-b's messages to user-a as seen.
	if !store.messages[0].Seen {
		t.Error("expected user-b's message to be marked seen after fetch")
	}
	if store.messages[2].Seen {
		t.Error("message from a different sender must not be marked seen")
	}
}

func TestThreadEmptyConversation(t *testing.T) {
	h := newTestHandler(&fakeStore{})

	rec := doRequest(t, h, http.MethodGet, "/api/messages/user-b", "tok-a")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Body.String(); got != "[]\n" {
		t.Fatalf("expected empty JSON array, got %q", got)
	}
}

func TestThreadStoreUnavailable(t *testing.T) {
	store := &fakeStore{failNext: true}
	h := newTestHandler(store)

	rec := doRequest(t, h, http.MethodGet, "/api/messages/user-b", "tok-a")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when store is down, got %d", rec.Code)
	}
}

func TestUnseenCounts(t *testing.T) {
	store := &fakeStore{}
	store.CreateMessage(context.Background(), "user-b", "user-a", "one", "")
	store.CreateMessage(context.Background(), "user-b", "user-a", "two", "")
	store.CreateMessage(context.Background(), "user-c", "user-a", "three", "")
	h := newTestHandler(store)

	rec := doRequest(t, h, http.MethodGet, "/api/messages/unseen", "tok-a")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var counts map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &counts); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if counts["user-b"] != 2 || counts["user-c"] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func TestThreadRejectsMalformedUserID(t *testing.T) {
	h := newTestHandler(&fakeStore{})

	rec := doRequest(t, h, http.MethodGet, "/api/messages/user%20b", "tok-a")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed user id, got %d", rec.Code)
	}
}
