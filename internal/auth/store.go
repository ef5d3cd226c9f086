// Package auth resolves opaque tokens to user identities and records live
// connection sessions, both backed by Redis. Token issuance and password
// handling live in the upstream auth service; this package only consumes the
// mapping it maintains:
//
//	Key:   token:<token>         Value: <user_id>     TTL: set by issuer
//	Key:   session:<conn_id>     Hash of session fields   TTL: 1 hour, refreshed
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// TokenPrefix is the Redis key prefix for token -> user id mappings.
	TokenPrefix = "token:"

	// SessionPrefix is the Redis key prefix for connection session hashes.
	SessionPrefix = "session:"

	// SessionTTL is the time-to-live for session keys in Redis.
	SessionTTL = 1 * time.Hour

	// MaxUserIDLen bounds accepted user identifiers.
	MaxUserIDLen = 64
)

// ErrUnknownToken is returned when a token has no user mapping.
var ErrUnknownToken = errors.New("auth: unknown token")

// ValidateUserID performs the format check on a claimed user identifier.
// Identity trust is established upstream; this only rejects ids that cannot
// be valid under any circumstances.
func ValidateUserID(userID string) error {
	if userID == "" {
		return fmt.Errorf("auth: empty user id")
	}
	if len(userID) > MaxUserIDLen {
		return fmt.Errorf("auth: user id exceeds %d bytes", MaxUserIDLen)
	}
	if strings.ContainsAny(userID, " \t\r\n") {
		return fmt.Errorf("auth: user id contains whitespace")
	}
	return nil
}

// Session is the per-connection record stored in Redis, mostly for
// operational visibility (which server holds which connection).
type Session struct {
	ConnID      string `redis:"conn_id"`
	UserID      string `redis:"user_id"`
	Server      string `redis:"server"`       // which server instance
	ConnectedAt int64  `redis:"connected_at"` // unix timestamp
}

// Store resolves tokens and manages connection sessions in Redis.
type Store struct {
	client     *redis.Client
	serverName string // identifier for this server instance
}

// NewStore creates an auth store connected to Redis.
func NewStore(redisAddr string, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	// Verify connection.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("auth: redis connection failed: %w", err)
	}

	return &Store{client: client, serverName: serverName}, nil
}

// Resolve maps an opaque token to the user id it was issued for. Returns
// ErrUnknownToken when no mapping exists (expired or never issued).
func (s *Store) Resolve(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrUnknownToken
	}
	userID, err := s.client.Get(ctx, TokenPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrUnknownToken
	}
	if err != nil {
		return "", fmt.Errorf("auth: resolve token: %w", err)
	}
	return userID, nil
}

// CreateSession records a live connection for a user with a 1h TTL.
func (s *Store) CreateSession(ctx context.Context, connID, userID string) error {
	key := SessionPrefix + connID

	session := map[string]interface{}{
		"conn_id":      connID,
		"user_id":      userID,
		"server":       s.serverName,
		"connected_at": time.Now().Unix(),
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, session)
	pipe.Expire(ctx, key, SessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// GetSession retrieves a connection session. Returns nil if not found.
func (s *Store) GetSession(ctx context.Context, connID string) (*Session, error) {
	key := SessionPrefix + connID
	var session Session
	err := s.client.HGetAll(ctx, key).Scan(&session)
	if err != nil {
		return nil, err
	}
	if session.ConnID == "" {
		return nil, nil // not found
	}
	return &session, nil
}

// RefreshSession extends the session's TTL. Called from the heartbeat path
// so long-lived connections don't lose their record.
func (s *Store) RefreshSession(ctx context.Context, connID string) error {
	return s.client.Expire(ctx, SessionPrefix+connID, SessionTTL).Err()
}

// DeleteSession removes a connection session from Redis.
func (s *Store) DeleteSession(ctx context.Context, connID string) error {
	return s.client.Del(ctx, SessionPrefix+connID).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}
