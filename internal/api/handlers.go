// Package api exposes the REST surface of the chat server: conversation
// history fetches and unseen-message counts. All routes require a Bearer
// token that resolves to a user id; handlers act on behalf of that user.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/quickchat/chat-app/internal/auth"
	"github.com/quickchat/chat-app/internal/delivery"
	"github.com/quickchat/chat-app/internal/message"
)

// TokenResolver maps a bearer token to the user id it authenticates.
type TokenResolver interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// Handler serves the REST endpoints. Fetching a conversation marks the
// counterpart's messages as seen, so the handler carries the reconciler to
// run the same seen pipeline as the markSeen wire event.
type Handler struct {
	store      message.Store
	reconciler *delivery.Reconciler
	tokens     TokenResolver
}

// NewHandler creates a Handler backed by the given store, reconciler, and
// token resolver.
func NewHandler(store message.Store, reconciler *delivery.Reconciler, tokens TokenResolver) *Handler {
	return &Handler{
		store:      store,
		reconciler: reconciler,
		tokens:     tokens,
	}
}

// Routes returns the http.Handler exposing the API endpoints.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/messages/unseen", h.requireAuth(h.handleUnseen))
	mux.HandleFunc("GET /api/messages/{userID}", h.requireAuth(h.handleThread))
	return mux
}

// authedHandler is an http.HandlerFunc that additionally receives the
// authenticated user's id.
type authedHandler func(w http.ResponseWriter, r *http.Request, userID string)

// requireAuth extracts and resolves the Bearer token, rejecting the request
// with 401 when the token is missing or unknown.
func (h *Handler) requireAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		userID, err := h.tokens.Resolve(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrUnknownToken) {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			log.Printf("api: token resolve error: %v", err)
			writeError(w, http.StatusServiceUnavailable, "auth backend unavailable")
			return
		}

		next(w, r, userID)
	}
}

// handleThread returns the full conversation between the authenticated user
// and the user named in the path, oldest first. As a side effect it marks the
// counterpart's messages to the caller as seen and notifies the counterpart,
// matching the behavior of opening a conversation in the client.
func (h *Handler) handleThread(w http.ResponseWriter, r *http.Request, userID string) {
	otherID := r.PathValue("userID")
	if err := auth.ValidateUserID(otherID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	msgs, err := h.store.FindThread(r.Context(), userID, otherID)
	if err != nil {
		log.Printf("api: thread fetch failed user=%s other=%s: %v", userID, otherID, err)
		writeError(w, http.StatusServiceUnavailable, "message store unavailable")
		return
	}

	// Opening the thread means the caller has seen everything in it.
	if _, err := h.reconciler.MarkSeen(r.Context(), userID, otherID); err != nil {
		log.Printf("api: implicit mark-seen failed user=%s other=%s: %v", userID, otherID, err)
	}

	if msgs == nil {
		msgs = []message.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// handleUnseen returns a map of sender id to the count of that sender's
// messages the authenticated user has not yet seen.
func (h *Handler) handleUnseen(w http.ResponseWriter, r *http.Request, userID string) {
	counts, err := h.store.CountUnseenPerSender(r.Context(), userID)
	if err != nil {
		log.Printf("api: unseen count failed user=%s: %v", userID, err)
		writeError(w, http.StatusServiceUnavailable, "message store unavailable")
		return
	}

	writeJSON(w, http.StatusOK, counts)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: response encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
