// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation       // keyed by conversation ID
	pairIndex     map[string]string              // pair key -> conversation ID
	messages      map[string][]*Message          // keyed by conversation ID, append order
	reads         map[string]map[string]struct{} // message ID -> set of reader IDs
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		conversations: make(map[string]*Conversation),
		pairIndex:     make(map[string]string),
		messages:      make(map[string][]*Message),
		reads:         make(map[string]map[string]struct{}),
	}
}

// GetOrCreateConversation returns the conversation for the pair, creating it
// if absent. The pair index lookup and insert happen under one lock, so
// concurrent callers observe a single conversation.
func (m *MockStore) GetOrCreateConversation(ctx context.Context, userA, userB string) (*Conversation, error) {
	if err := validatePair(userA, userB); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := PairKey(userA, userB)
	if id, ok := m.pairIndex[key]; ok {
		return m.copyConversationLocked(id, "")
	}

	now := time.Now().UTC()
	conv := &Conversation{
		ID:        uuid.New().String(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	users := []string{userA, userB}
	sort.Strings(users)
	conv.Participants[0] = Participant{UserID: users[0], JoinedAt: now}
	conv.Participants[1] = Participant{UserID: users[1], JoinedAt: now}

	m.conversations[conv.ID] = conv
	m.pairIndex[key] = conv.ID
	return m.copyConversationLocked(conv.ID, "")
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.copyConversationLocked(id, "")
}

// ListConversations returns the user's conversations by most recent activity.
func (m *MockStore) ListConversations(ctx context.Context, userID string, page, limit int) ([]*Conversation, error) {
	if userID == "" {
		return nil, ErrEmptyUser
	}
	limit = ClampLimit(limit)
	if page < 1 {
		page = 1
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, conv := range m.conversations {
		if conv.HasParticipant(userID) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := m.conversations[ids[i]], m.conversations[ids[j]]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID < b.ID
	})

	start := (page - 1) * limit
	if start >= len(ids) {
		return nil, nil
	}
	end := start + limit
	if end > len(ids) {
		end = len(ids)
	}

	result := make([]*Conversation, 0, end-start)
	for _, id := range ids[start:end] {
		conv, err := m.copyConversationLocked(id, userID)
		if err != nil {
			return nil, err
		}
		result = append(result, conv)
	}
	return result, nil
}

// AppendMessage validates and stores a message, assigning ID and timestamp.
func (m *MockStore) AppendMessage(ctx context.Context, conversationID, sender, content string) (*Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	if !conv.HasParticipant(sender) {
		return nil, ErrNotParticipant
	}

	now := time.Now().UTC()
	if msgs := m.messages[conversationID]; len(msgs) > 0 {
		if last := msgs[len(msgs)-1].CreatedAt; now.Before(last) {
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
	m.messages[conversationID] = append(m.messages[conversationID], msg)
	conv.LastMessage = msg
	conv.UpdatedAt = now

	return copyMessage(msg, nil), nil
}

// ListMessages returns a page of messages in ascending creation order.
func (m *MockStore) ListMessages(ctx context.Context, conversationID string, page, limit int) ([]*Message, error) {
	limit = ClampLimit(limit)
	if page < 1 {
		page = 1
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.conversations[conversationID]; !ok {
		return nil, ErrNotFound
	}

	msgs := m.messages[conversationID]
	start := (page - 1) * limit
	if start >= len(msgs) {
		return nil, nil
	}
	end := start + limit
	if end > len(msgs) {
		end = len(msgs)
	}
	return m.copyMessagesLocked(msgs[start:end]), nil
}

// LatestMessages returns the most recent `limit` messages in ascending order.
func (m *MockStore) LatestMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	limit = ClampLimit(limit)

	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.conversations[conversationID]; !ok {
		return nil, ErrNotFound
	}

	msgs := m.messages[conversationID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return m.copyMessagesLocked(msgs), nil
}

// MarkRead adds readerID to the read-by set of every message not already
// carrying it, the reader's own included.
func (m *MockStore) MarkRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	if readerID == "" {
		return 0, ErrEmptyUser
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[conversationID]
	if !ok {
		return 0, ErrNotFound
	}
	if !conv.HasParticipant(readerID) {
		return 0, ErrNotParticipant
	}

	var count int64
	for _, msg := range m.messages[conversationID] {
		readers, ok := m.reads[msg.ID]
		if !ok {
			readers = make(map[string]struct{})
			m.reads[msg.ID] = readers
		}
		if _, seen := readers[readerID]; !seen {
			readers[readerID] = struct{}{}
			count++
		}
	}
	return count, nil
}

// IsParticipant reports whether userID belongs to the conversation.
func (m *MockStore) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.conversations[conversationID]
	if !ok {
		return false, ErrNotFound
	}
	return conv.HasParticipant(userID), nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}

// copyConversationLocked returns a defensive copy with LastMessage read-by
// state resolved and, when forUser is set, the unread count populated.
// Must be called with mu held.
func (m *MockStore) copyConversationLocked(id, forUser string) (*Conversation, error) {
	conv, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}

	c := *conv
	if conv.LastMessage != nil {
		c.LastMessage = copyMessage(conv.LastMessage, m.reads[conv.LastMessage.ID])
	}
	if forUser != "" {
		for _, msg := range m.messages[id] {
			if msg.Sender == forUser {
				continue
			}
			if _, read := m.reads[msg.ID][forUser]; !read {
				c.Unread++
			}
		}
	}
	return &c, nil
}

func (m *MockStore) copyMessagesLocked(msgs []*Message) []*Message {
	out := make([]*Message, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, copyMessage(msg, m.reads[msg.ID]))
	}
	return out
}

func copyMessage(msg *Message, readers map[string]struct{}) *Message {
	c := *msg
	c.ReadBy = nil
	for user := range readers {
		c.ReadBy = append(c.ReadBy, user)
	}
	sort.Strings(c.ReadBy)
	return &c
}

// Ensure MockStore implements Store interface
var _ Store = (*MockStore)(nil)
