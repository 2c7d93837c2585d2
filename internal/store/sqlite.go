// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// timeFormat is the stored timestamp layout. Nanosecond precision keeps the
// (created_at, id) ordering key stable for messages appended within the same
// second.
const timeFormat = time.RFC3339Nano

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id              TEXT PRIMARY KEY,
			pair_key        TEXT NOT NULL,
			last_message_id TEXT,
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_pair
			ON conversations(pair_key);

		CREATE INDEX IF NOT EXISTS idx_conversations_updated
			ON conversations(updated_at DESC);

		CREATE TABLE IF NOT EXISTS conversation_participants (
			conversation_id TEXT NOT NULL,
			user_id         TEXT NOT NULL,
			joined_at       TEXT NOT NULL,
			PRIMARY KEY (conversation_id, user_id),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_participants_user
			ON conversation_participants(user_id);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender          TEXT NOT NULL,
			content         TEXT NOT NULL,
			created_at      TEXT NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at, id);

		CREATE TABLE IF NOT EXISTS message_reads (
			message_id TEXT NOT NULL,
			user_id    TEXT NOT NULL,
			read_at    TEXT NOT NULL,
			PRIMARY KEY (message_id, user_id),
			FOREIGN KEY (message_id) REFERENCES messages(id)
		);

		CREATE INDEX IF NOT EXISTS idx_reads_user
			ON message_reads(user_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// GetOrCreateConversation returns the conversation between the two users,
// creating it on first contact. The UNIQUE index on pair_key makes this safe
// under concurrent calls from both participants: the loser of the insert race
// treats the constraint violation as "fetch and return the existing row".
func (s *SQLiteStore) GetOrCreateConversation(ctx context.Context, userA, userB string) (*Conversation, error) {
	if err := validatePair(userA, userB); err != nil {
		return nil, err
	}

	pairKey := PairKey(userA, userB)

	if conv, err := s.getConversationByPairKey(ctx, pairKey); err == nil {
		return conv, nil
	} else if err != ErrNotFound {
		return nil, err
	}

	now := time.Now().UTC()
	id := uuid.New().String()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, pair_key, last_message_id, created_at, updated_at)
		VALUES (?, ?, NULL, ?, ?)
	`, id, pairKey, now.Format(timeFormat), now.Format(timeFormat))
	if err != nil {
		if isConstraintViolation(err) {
			// Lost the creation race - the other participant got there first
			return s.getConversationByPairKey(ctx, pairKey)
		}
		return nil, fmt.Errorf("inserting conversation: %w", err)
	}

	for _, user := range []string{userA, userB} {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO conversation_participants (conversation_id, user_id, joined_at)
			VALUES (?, ?, ?)
		`, id, user, now.Format(timeFormat))
		if err != nil {
			return nil, fmt.Errorf("inserting participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		if isConstraintViolation(err) {
			return s.getConversationByPairKey(ctx, pairKey)
		}
		return nil, fmt.Errorf("committing conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", id, "pair_key", pairKey)
	return s.GetConversation(ctx, id)
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, last_message_id, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`, id)
	return s.scanConversation(ctx, row)
}

func (s *SQLiteStore) getConversationByPairKey(ctx context.Context, pairKey string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, last_message_id, created_at, updated_at
		FROM conversations
		WHERE pair_key = ?
	`, pairKey)
	return s.scanConversation(ctx, row)
}

func (s *SQLiteStore) scanConversation(ctx context.Context, row *sql.Row) (*Conversation, error) {
	var conv Conversation
	var lastMessageID sql.NullString
	var createdAtStr, updatedAtStr string

	err := row.Scan(&conv.ID, &lastMessageID, &createdAtStr, &updatedAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}

	conv.CreatedAt, err = time.Parse(timeFormat, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	conv.UpdatedAt, err = time.Parse(timeFormat, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	if err := s.loadParticipants(ctx, &conv); err != nil {
		return nil, err
	}

	if lastMessageID.Valid {
		msg, err := s.getMessage(ctx, lastMessageID.String)
		if err != nil && err != ErrNotFound {
			return nil, err
		}
		conv.LastMessage = msg
	}

	return &conv, nil
}

func (s *SQLiteStore) loadParticipants(ctx context.Context, conv *Conversation) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, joined_at
		FROM conversation_participants
		WHERE conversation_id = ?
		ORDER BY user_id
	`, conv.ID)
	if err != nil {
		return fmt.Errorf("querying participants: %w", err)
	}
	defer rows.Close()

	i := 0
	for rows.Next() {
		if i >= 2 {
			break
		}
		var p Participant
		var joinedAtStr string
		if err := rows.Scan(&p.UserID, &joinedAtStr); err != nil {
			return fmt.Errorf("scanning participant: %w", err)
		}
		p.JoinedAt, err = time.Parse(timeFormat, joinedAtStr)
		if err != nil {
			return fmt.Errorf("parsing joined_at: %w", err)
		}
		conv.Participants[i] = p
		i++
	}
	return rows.Err()
}

// ListConversations retrieves a user's conversations ordered by most recent
// activity, with the latest message denormalized onto each row and the
// per-user unread count populated.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID string, page, limit int) ([]*Conversation, error) {
	if userID == "" {
		return nil, ErrEmptyUser
	}
	limit = ClampLimit(limit)
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.user_id = ?
		ORDER BY c.updated_at DESC, c.id
		LIMIT ? OFFSET ?
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}

	conversations := make([]*Conversation, 0, len(ids))
	for _, id := range ids {
		conv, err := s.GetConversation(ctx, id)
		if err != nil {
			return nil, err
		}
		unread, err := s.unreadCount(ctx, id, userID)
		if err != nil {
			return nil, err
		}
		conv.Unread = unread
		conversations = append(conversations, conv)
	}

	return conversations, nil
}

// unreadCount excludes the user's own messages; those are never unread for
// their sender even before a MarkRead covers them.
func (s *SQLiteStore) unreadCount(ctx context.Context, conversationID, userID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM messages m
		WHERE m.conversation_id = ?
		  AND m.sender != ?
		  AND NOT EXISTS (
			SELECT 1 FROM message_reads r
			WHERE r.message_id = m.id AND r.user_id = ?
		  )
	`, conversationID, userID, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting unread messages: %w", err)
	}
	return count, nil
}

// AppendMessage validates and persists a message. The store assigns the ID
// and creation timestamp, clamped so timestamps never decrease within a
// conversation, and updates the parent conversation's last-message pointer
// and updated_at in the same transaction.
func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID, sender, content string) (*Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}

	ok, err := s.IsParticipant(ctx, conversationID, sender)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotParticipant
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	// Clamp against the newest stored timestamp so history ordering is
	// monotonically non-decreasing even if the wall clock steps backwards.
	var lastCreatedStr sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT MAX(created_at) FROM messages WHERE conversation_id = ?
	`, conversationID).Scan(&lastCreatedStr)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("querying last message time: %w", err)
	}
	if lastCreatedStr.Valid {
		if last, perr := time.Parse(timeFormat, lastCreatedStr.String); perr == nil && now.Before(last) {
			now = last
		}
	}

	msg := &Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Sender:         sender,
		Content:        content,
		CreatedAt:      now,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, msg.ID, msg.ConversationID, msg.Sender, msg.Content, now.Format(timeFormat))
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations
		SET last_message_id = ?, updated_at = ?
		WHERE id = ?
	`, msg.ID, now.Format(timeFormat), conversationID)
	if err != nil {
		return nil, fmt.Errorf("updating conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing message: %w", err)
	}

	s.logger.Debug("appended message", "id", msg.ID, "conversation_id", conversationID, "sender", sender)
	return msg, nil
}

// ListMessages returns a page of messages in ascending creation order.
// Page 1 is the oldest window; pages are stable under concurrent appends
// because new messages only ever extend the tail.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, page, limit int) ([]*Message, error) {
	if err := s.requireConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	limit = ClampLimit(limit)
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender, content, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ? OFFSET ?
	`, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	return s.collectMessages(ctx, rows)
}

// LatestMessages returns the most recent `limit` messages in ascending order.
// This is the tail window the synchronizer fetches on open and on reconnect.
func (s *SQLiteStore) LatestMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	if err := s.requireConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	limit = ClampLimit(limit)

	// Select the N most recent, then flip back to chronological order
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender, content, created_at
		FROM (
			SELECT id, conversation_id, sender, content, created_at
			FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		)
		ORDER BY created_at ASC, id ASC
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying latest messages: %w", err)
	}
	return s.collectMessages(ctx, rows)
}

func (s *SQLiteStore) collectMessages(ctx context.Context, rows *sql.Rows) ([]*Message, error) {
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var createdAtStr string
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Sender, &msg.Content, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		created, err := time.Parse(timeFormat, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}
		msg.CreatedAt = created
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	for _, msg := range messages {
		if err := s.loadReadBy(ctx, msg); err != nil {
			return nil, err
		}
	}
	return messages, nil
}

func (s *SQLiteStore) getMessage(ctx context.Context, id string) (*Message, error) {
	var msg Message
	var createdAtStr string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, sender, content, created_at
		FROM messages
		WHERE id = ?
	`, id).Scan(&msg.ID, &msg.ConversationID, &msg.Sender, &msg.Content, &createdAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}
	msg.CreatedAt, err = time.Parse(timeFormat, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing message created_at: %w", err)
	}
	if err := s.loadReadBy(ctx, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *SQLiteStore) loadReadBy(ctx context.Context, msg *Message) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM message_reads WHERE message_id = ? ORDER BY user_id
	`, msg.ID)
	if err != nil {
		return fmt.Errorf("querying read-by set: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var user string
		if err := rows.Scan(&user); err != nil {
			return fmt.Errorf("scanning read-by row: %w", err)
		}
		msg.ReadBy = append(msg.ReadBy, user)
	}
	return rows.Err()
}

// MarkRead adds readerID to the read-by set of every message in the
// conversation not already carrying it, the reader's own included. INSERT OR
// IGNORE makes repeated calls no-ops; the returned count is the number of
// messages newly marked.
func (s *SQLiteStore) MarkRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	if readerID == "" {
		return 0, ErrEmptyUser
	}
	ok, err := s.IsParticipant(ctx, conversationID, readerID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNotParticipant
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO message_reads (message_id, user_id, read_at)
		SELECT m.id, ?, ?
		FROM messages m
		WHERE m.conversation_id = ?
	`, readerID, time.Now().UTC().Format(timeFormat), conversationID)
	if err != nil {
		return 0, fmt.Errorf("marking messages read: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}

	if count > 0 {
		s.logger.Debug("marked messages read", "conversation_id", conversationID, "reader", readerID, "count", count)
	}
	return count, nil
}

// IsParticipant reports whether userID belongs to the conversation.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	if err := s.requireConversation(ctx, conversationID); err != nil {
		return false, err
	}

	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM conversation_participants
		WHERE conversation_id = ? AND user_id = ?
	`, conversationID, userID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying participant: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) requireConversation(ctx context.Context, conversationID string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, conversationID).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("querying conversation: %w", err)
	}
	return nil
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
