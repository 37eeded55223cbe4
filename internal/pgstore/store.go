// Package pgstore implements the chat.Store contract over PostgreSQL.
// Messages and conversations map onto plain rows; the safety transition and
// the bulk status advance are expressed as conditional single-statement
// updates so they stay atomic under concurrent writers.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/DEcyberhawk/whisspra-backend/internal/chat"
)

// Store is the PostgreSQL-backed chat store.
type Store struct {
	db *sql.DB
}

// New creates a store backed by the given database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to Postgres, verifies the connection, and runs pending
// migrations.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: open: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// DB exposes the underlying handle for packages that share the connection
// pool (the user directory).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateMessage inserts a new message row.
func (s *Store) CreateMessage(ctx context.Context, m *chat.Message) error {
	const query = `
		INSERT INTO messages (
			id, conversation_id, sender_id, content, message_type,
			duration, file_name, file_size, release_at,
			delivery_status, safety_status, safety_type, safety_reason,
			is_twin_message, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`

	_, err := s.db.ExecContext(ctx, query,
		m.ID, m.ConversationID, m.SenderID, m.Content, string(m.Type),
		nullInt(m.Duration), nullStr(m.FileName), nullInt64(m.FileSize), m.ReleaseAt,
		string(m.DeliveryStatus), m.SafetyAnalysis.Status,
		nullStr(m.SafetyAnalysis.Type), nullStr(m.SafetyAnalysis.Reason),
		m.IsTwinMessage, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("pgstore: insert message %s: %w", m.ID, err)
	}
	return nil
}

// Message loads one message by ID.
func (s *Store) Message(ctx context.Context, id string) (*chat.Message, error) {
	const query = messageSelect + ` WHERE id = $1`

	m, err := scanMessage(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, chat.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: query message %s: %w", id, err)
	}
	return m, nil
}

// RecentMessages returns up to limit newest messages in chronological order.
func (s *Store) RecentMessages(ctx context.Context, conversationID string, limit int) ([]*chat.Message, error) {
	const query = messageSelect + `
		WHERE conversation_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("pgstore: recent messages %s: %w", conversationID, err)
	}
	defer rows.Close()

	var newestFirst []*chat.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("pgstore: scan message: %w", err)
		}
		newestFirst = append(newestFirst, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: iterate messages: %w", err)
	}

	// Reverse into chronological order.
	out := make([]*chat.Message, len(newestFirst))
	for i, m := range newestFirst {
		out[len(newestFirst)-1-i] = m
	}
	return out, nil
}

// AdvanceStatus applies the forward-only bulk transition in one statement.
// The rank comparison lives in SQL so that concurrent acknowledgements from
// multiple devices collapse into idempotent no-ops.
func (s *Store) AdvanceStatus(ctx context.Context, conversationID, userID string, target chat.DeliveryStatus) ([]string, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("pgstore: invalid delivery status %q", target)
	}

	const query = `
		UPDATE messages
		SET delivery_status = $3
		WHERE conversation_id = $1
		  AND sender_id <> $2
		  AND array_position(ARRAY['sent','delivered','glimpsed','read'], delivery_status)
		    < array_position(ARRAY['sent','delivered','glimpsed','read'], $3)
		RETURNING id`

	rows, err := s.db.QueryContext(ctx, query, conversationID, userID, string(target))
	if err != nil {
		return nil, fmt.Errorf("pgstore: advance status %s: %w", conversationID, err)
	}
	defer rows.Close()

	var advanced []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("pgstore: scan advanced id: %w", err)
		}
		advanced = append(advanced, id)
	}
	return advanced, rows.Err()
}

// SetSafetyAnalysis writes the terminal verdict only while the message is
// still pending, making the transition exactly-once.
func (s *Store) SetSafetyAnalysis(ctx context.Context, messageID string, a chat.SafetyAnalysis) (bool, error) {
	const query = `
		UPDATE messages
		SET safety_status = $2, safety_type = $3, safety_reason = $4
		WHERE id = $1 AND safety_status = 'pending'`

	res, err := s.db.ExecContext(ctx, query,
		messageID, a.Status, nullStr(a.Type), nullStr(a.Reason))
	if err != nil {
		return false, fmt.Errorf("pgstore: set safety %s: %w", messageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("pgstore: rows affected: %w", err)
	}
	return n == 1, nil
}

// Conversation loads one conversation by ID.
func (s *Store) Conversation(ctx context.Context, id string) (*chat.Conversation, error) {
	const query = `
		SELECT id, COALESCE(name, ''), is_group, participants,
		       COALESCE(last_message_id, ''), is_cognitive, is_roleplay_room,
		       is_whisper_thread, is_community_chat, created_at
		FROM conversations
		WHERE id = $1`

	var c chat.Conversation
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.Name, &c.IsGroup, pq.Array(&c.Participants),
		&c.LastMessageID, &c.IsCognitive, &c.IsRoleplayRoom,
		&c.IsWhisperThread, &c.IsCommunityChat, &c.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, chat.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: query conversation %s: %w", id, err)
	}
	return &c, nil
}

// ConversationsFor returns every conversation the user participates in.
func (s *Store) ConversationsFor(ctx context.Context, userID string) ([]*chat.Conversation, error) {
	const query = `
		SELECT id, COALESCE(name, ''), is_group, participants,
		       COALESCE(last_message_id, ''), is_cognitive, is_roleplay_room,
		       is_whisper_thread, is_community_chat, created_at
		FROM conversations
		WHERE $1 = ANY(participants)
		ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("pgstore: conversations for %s: %w", userID, err)
	}
	defer rows.Close()

	var out []*chat.Conversation
	for rows.Next() {
		var c chat.Conversation
		if err := rows.Scan(
			&c.ID, &c.Name, &c.IsGroup, pq.Array(&c.Participants),
			&c.LastMessageID, &c.IsCognitive, &c.IsRoleplayRoom,
			&c.IsWhisperThread, &c.IsCommunityChat, &c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("pgstore: scan conversation: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// SetLastMessage updates the conversation's last-message pointer in a single
// atomic field update.
func (s *Store) SetLastMessage(ctx context.Context, conversationID, messageID string) error {
	const query = `UPDATE conversations SET last_message_id = $2 WHERE id = $1`

	_, err := s.db.ExecContext(ctx, query, conversationID, messageID)
	if err != nil {
		return fmt.Errorf("pgstore: set last message %s: %w", conversationID, err)
	}
	return nil
}

const messageSelect = `
	SELECT id, conversation_id, sender_id, content, message_type,
	       COALESCE(duration, 0), COALESCE(file_name, ''), COALESCE(file_size, 0),
	       release_at, delivery_status, safety_status,
	       COALESCE(safety_type, ''), COALESCE(safety_reason, ''),
	       is_twin_message, created_at
	FROM messages`

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(r rowScanner) (*chat.Message, error) {
	var (
		m         chat.Message
		msgType   string
		status    string
		releaseAt sql.NullTime
	)
	err := r.Scan(
		&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &msgType,
		&m.Duration, &m.FileName, &m.FileSize,
		&releaseAt, &status, &m.SafetyAnalysis.Status,
		&m.SafetyAnalysis.Type, &m.SafetyAnalysis.Reason,
		&m.IsTwinMessage, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Type = chat.MessageType(msgType)
	m.DeliveryStatus = chat.DeliveryStatus(status)
	if releaseAt.Valid {
		t := releaseAt.Time
		m.ReleaseAt = &t
	}
	return &m, nil
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n int) interface{} {
	if n == 0 {
		return nil
	}
	return n
}

func nullInt64(n int64) interface{} {
	if n == 0 {
		return nil
	}
	return n
}
