// ABOUTME: Store interface and data types for chatsync persistence
// ABOUTME: Defines Conversation, Message structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"sort"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrEmptyContent is returned when a message body is empty after trimming
var ErrEmptyContent = errors.New("message content is empty")

// ErrEmptyUser is returned when a user identifier is blank
var ErrEmptyUser = errors.New("user id is empty")

// ErrSameUser is returned when both conversation participants are the same user
var ErrSameUser = errors.New("conversation requires two distinct users")

// ErrNotParticipant is returned when a user acts on a conversation they are not part of
var ErrNotParticipant = errors.New("user is not a participant of this conversation")

// Participant is one side of a two-party conversation
type Participant struct {
	UserID   string
	JoinedAt time.Time
}

// Conversation is a direct-message thread between exactly two users.
// LastMessage is a denormalized pointer to the most recent message, kept
// current by AppendMessage so list views never need a per-row subquery.
type Conversation struct {
	ID           string
	Participants [2]Participant
	LastMessage  *Message
	Unread       int64 // messages not yet read by the requesting user (list views only)
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID string) bool {
	return c.Participants[0].UserID == userID || c.Participants[1].UserID == userID
}

// Other returns the participant that is not userID.
func (c *Conversation) Other(userID string) Participant {
	if c.Participants[0].UserID == userID {
		return c.Participants[1]
	}
	return c.Participants[0]
}

// Message is a single immutable message within a conversation. Only the
// ReadBy set grows after creation. CreatedAt is assigned by the store and
// is the sole ordering key for history.
type Message struct {
	ID             string
	ConversationID string
	Sender         string
	Content        string
	ReadBy         []string
	CreatedAt      time.Time
}

// ReadByUser reports whether userID has read the message.
func (m *Message) ReadByUser(userID string) bool {
	for _, u := range m.ReadBy {
		if u == userID {
			return true
		}
	}
	return false
}

// PairKey returns the canonical unordered key for a participant pair.
// The same two users always map to the same key regardless of argument order;
// a UNIQUE index on this key is what makes conversation creation race-safe.
func PairKey(userA, userB string) string {
	pair := []string{userA, userB}
	sort.Strings(pair)
	return pair[0] + "|" + pair[1]
}

// Pagination bounds shared by both store implementations.
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

// ClampLimit normalizes a page limit to the allowed range.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageLimit
	}
	if limit > MaxPageLimit {
		return MaxPageLimit
	}
	return limit
}

// Store defines the interface for conversation and message persistence
type Store interface {
	// GetOrCreateConversation returns the existing conversation between the
	// two users, creating it atomically on first contact. Concurrent calls
	// from both participants observe the same conversation.
	GetOrCreateConversation(ctx context.Context, userA, userB string) (*Conversation, error)

	// GetConversation retrieves a conversation by ID.
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// ListConversations returns the user's conversations ordered by most
	// recent activity, with LastMessage and Unread populated.
	ListConversations(ctx context.Context, userID string, page, limit int) ([]*Conversation, error)

	// AppendMessage validates and persists a message, assigns its ID and
	// timestamp, and updates the parent conversation's last-message pointer
	// in the same transaction.
	AppendMessage(ctx context.Context, conversationID, sender, content string) (*Message, error)

	// ListMessages returns a page of messages ascending by creation time.
	// Page 1 is the oldest window.
	ListMessages(ctx context.Context, conversationID string, page, limit int) ([]*Message, error)

	// LatestMessages returns the most recent `limit` messages, still in
	// ascending order. This is the reconcile-on-reconnect fetch.
	LatestMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)

	// MarkRead adds readerID to the read-by set of every message in the
	// conversation not already carrying it, the reader's own included.
	// Idempotent; returns the number of messages newly marked.
	MarkRead(ctx context.Context, conversationID, readerID string) (int64, error)

	// IsParticipant reports whether userID belongs to the conversation.
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)

	// Close releases any resources held by the store
	Close() error
}

// validatePair checks the user pair for GetOrCreateConversation.
func validatePair(userA, userB string) error {
	if userA == "" || userB == "" {
		return ErrEmptyUser
	}
	if userA == userB {
		return ErrSameUser
	}
	return nil
}
