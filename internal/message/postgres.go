package message

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // postgres driver
)

// PostgresStore implements Store on top of PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres opens a database handle for the given DSN, verifies the
// connection, and applies pending migrations.
func OpenPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("message: open postgres: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("message: postgres connection failed: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStore wraps an existing database handle without running
// migrations. Used by tests that manage the schema themselves.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Close closes the underlying database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// CreateMessage inserts a new message with seen=false. The durable id is a
// UUID assigned here; the creation timestamp comes from the database clock
// so that thread ordering does not depend on application clocks.
func (s *PostgresStore) CreateMessage(ctx context.Context, senderID, receiverID, text, image string) (*Message, error) {
	m := &Message{
		ID:         uuid.New().String(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       text,
		Image:      image,
		Seen:       false,
	}

	const query = `
		INSERT INTO messages (id, sender_id, receiver_id, text, image)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''))
		RETURNING created_at`

	err := s.db.QueryRowContext(ctx, query, m.ID, senderID, receiverID, text, image).
		Scan(&m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("message: insert: %w", err)
	}
	return m, nil
}

// FindThread returns all messages between userA and userB in ascending
// creation order. The seq column breaks ties between messages created within
// the same timestamp granularity.
func (s *PostgresStore) FindThread(ctx context.Context, userA, userB string) ([]Message, error) {
	const query = `
		SELECT id, sender_id, receiver_id, COALESCE(text, ''), COALESCE(image, ''), seen, created_at
		FROM messages
		WHERE (sender_id = $1 AND receiver_id = $2)
		   OR (sender_id = $2 AND receiver_id = $1)
		ORDER BY created_at ASC, seq ASC`

	rows, err := s.db.QueryContext(ctx, query, userA, userB)
	if err != nil {
		return nil, fmt.Errorf("message: find thread: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Text, &m.Image, &m.Seen, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("message: scan thread row: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("message: thread rows: %w", err)
	}
	return msgs, nil
}

// MarkSeenBatch flips every unseen message from senderID to receiverID to
// seen and returns the number of rows updated. The WHERE seen = FALSE guard
// makes repeated calls no-ops.
func (s *PostgresStore) MarkSeenBatch(ctx context.Context, senderID, receiverID string) (int64, error) {
	const query = `
		UPDATE messages
		SET seen = TRUE
		WHERE sender_id = $1 AND receiver_id = $2 AND seen = FALSE`

	res, err := s.db.ExecContext(ctx, query, senderID, receiverID)
	if err != nil {
		return 0, fmt.Errorf("message: mark seen batch: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("message: mark seen rows affected: %w", err)
	}
	return n, nil
}

// CountUnseenPerSender returns a sender_id -> count map of unseen messages
// addressed to receiverID.
func (s *PostgresStore) CountUnseenPerSender(ctx context.Context, receiverID string) (map[string]int, error) {
	const query = `
		SELECT sender_id, COUNT(*)
		FROM messages
		WHERE receiver_id = $1 AND seen = FALSE
		GROUP BY sender_id`

	rows, err := s.db.QueryContext(ctx, query, receiverID)
	if err != nil {
		return nil, fmt.Errorf("message: count unseen: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var sender string
		var n int
		if err := rows.Scan(&sender, &n); err != nil {
			return nil, fmt.Errorf("message: scan unseen row: %w", err)
		}
		counts[sender] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("message: unseen rows: %w", err)
	}
	return counts, nil
}
