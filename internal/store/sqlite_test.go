// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers conversation uniqueness, message ordering, read receipts and pagination

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	return s
}

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	// Verify the database file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestGetOrCreateConversation(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()

	conv, err := store.GetOrCreateConversation(ctx, "mentor-1", "student-1")
	if err != nil {
		t.Fatalf("GetOrCreateConversation failed: %v", err)
	}
	if conv.ID == "" {
		t.Fatal("conversation ID was not assigned")
	}
	if !conv.HasParticipant("mentor-1") || !conv.HasParticipant("student-1") {
		t.Errorf("participants mismatch: %+v", conv.Participants)
	}

	// Same pair in reversed order returns the same conversation
	again, err := store.GetOrCreateConversation(ctx, "student-1", "mentor-1")
	if err != nil {
		t.Fatalf("second GetOrCreateConversation failed: %v", err)
	}
	if again.ID != conv.ID {
		t.Errorf("expected same conversation, got %q and %q", conv.ID, again.ID)
	}
}

func TestGetOrCreateConversation_Validation(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()

	if _, err := store.GetOrCreateConversation(ctx, "user-1", "user-1"); err != ErrSameUser {
		t.Errorf("expected ErrSameUser, got %v", err)
	}
	if _, err := store.GetOrCreateConversation(ctx, "", "user-1"); err != ErrEmptyUser {
		t.Errorf("expected ErrEmptyUser, got %v", err)
	}
}

func TestGetOrCreateConversation_Concurrent(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()

	// Both participants race to create the conversation
	const callers = 8
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "mentor-1", "student-1"
			if i%2 == 1 {
				a, b = b, a
			}
			conv, err := store.GetOrCreateConversation(ctx, a, b)
			if err != nil {
				t.Errorf("concurrent GetOrCreateConversation failed: %v", err)
				return
			}
			ids[i] = conv.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("caller %d observed conversation %q, caller 0 observed %q", i, ids[i], ids[0])
		}
	}
}

func TestAppendMessage(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	conv, err := store.GetOrCreateConversation(ctx, "mentor-1", "student-1")
	if err != nil {
		t.Fatalf("GetOrCreateConversation failed: %v", err)
	}

	msg, err := store.AppendMessage(ctx, conv.ID, "mentor-1", "hello")
	if err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if msg.ID == "" {
		t.Error("message ID was not assigned")
	}
	if msg.CreatedAt.IsZero() {
		t.Error("message timestamp was not assigned")
	}

	// Conversation's latest-message pointer and updated_at track the append
	got, err := store.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got.LastMessage == nil || got.LastMessage.ID != msg.ID {
		t.Errorf("last message pointer not updated: %+v", got.LastMessage)
	}
	if got.UpdatedAt.Before(conv.UpdatedAt) {
		t.Error("conversation updated_at did not advance")
	}
}

func TestAppendMessage_Validation(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	conv, err := store.GetOrCreateConversation(ctx, "mentor-1", "student-1")
	if err != nil {
		t.Fatalf("GetOrCreateConversation failed: %v", err)
	}

	if _, err := store.AppendMessage(ctx, conv.ID, "mentor-1", "   \n\t "); err != ErrEmptyContent {
		t.Errorf("expected ErrEmptyContent, got %v", err)
	}
	if _, err := store.AppendMessage(ctx, conv.ID, "stranger", "hi"); err != ErrNotParticipant {
		t.Errorf("expected ErrNotParticipant, got %v", err)
	}
	if _, err := store.AppendMessage(ctx, "no-such-conversation", "mentor-1", "hi"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListMessages_Order(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	conv, err := store.GetOrCreateConversation(ctx, "mentor-1", "student-1")
	if err != nil {
		t.Fatalf("GetOrCreateConversation failed: %v", err)
	}

	const count = 20
	for i := 0; i < count; i++ {
		sender := "mentor-1"
		if i%2 == 1 {
			sender = "student-1"
		}
		if _, err := store.AppendMessage(ctx, conv.ID, sender, fmt.Sprintf("message %d", i)); err != nil {
			t.Fatalf("AppendMessage %d failed: %v", i, err)
		}
	}

	messages, err := store.ListMessages(ctx, conv.ID, 1, count)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(messages) != count {
		t.Fatalf("expected %d messages, got %d", count, len(messages))
	}
	for i := 1; i < len(messages); i++ {
		if messages[i].CreatedAt.Before(messages[i-1].CreatedAt) {
			t.Errorf("message %d out of order: %v before %v", i, messages[i].CreatedAt, messages[i-1].CreatedAt)
		}
	}
	if messages[0].Content != "message 0" {
		t.Errorf("page 1 should start with the oldest message, got %q", messages[0].Content)
	}
}

func TestListMessages_Order_ConcurrentAppends(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	conv, err := store.GetOrCreateConversation(ctx, "mentor-1", "student-1")
	if err != nil {
		t.Fatalf("GetOrCreateConversation failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sender := "mentor-1"
			if i%2 == 1 {
				sender = "student-1"
			}
			for j := 0; j < 10; j++ {
				if _, err := store.AppendMessage(ctx, conv.ID, sender, fmt.Sprintf("w%d-%d", i, j)); err != nil {
					t.Errorf("concurrent AppendMessage failed: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	messages, err := store.ListMessages(ctx, conv.ID, 1, MaxPageLimit)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(messages) != 40 {
		t.Fatalf("expected 40 messages, got %d", len(messages))
	}
	for i := 1; i < len(messages); i++ {
		if messages[i].CreatedAt.Before(messages[i-1].CreatedAt) {
			t.Errorf("non-decreasing order violated at index %d", i)
		}
	}
}

func TestListMessages_Pagination(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	conv, err := store.GetOrCreateConversation(ctx, "mentor-1", "student-1")
	if err != nil {
		t.Fatalf("GetOrCreateConversation failed: %v", err)
	}

	for i := 0; i < 25; i++ {
		if _, err := store.AppendMessage(ctx, conv.ID, "mentor-1", fmt.Sprintf("message %d", i)); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}

	page1, err := store.ListMessages(ctx, conv.ID, 1, 10)
	if err != nil {
		t.Fatalf("ListMessages page 1 failed: %v", err)
	}
	page3, err := store.ListMessages(ctx, conv.ID, 3, 10)
	if err != nil {
		t.Fatalf("ListMessages page 3 failed: %v", err)
	}

	if len(page1) != 10 {
		t.Errorf("page 1: expected 10 messages, got %d", len(page1))
	}
	if len(page3) != 5 {
		t.Errorf("page 3: expected 5 messages, got %d", len(page3))
	}
	if page1[0].Content != "message 0" {
		t.Errorf("page 1 starts with %q", page1[0].Content)
	}

	// Appending more messages must not re-order previously returned pages
	if _, err := store.AppendMessage(ctx, conv.ID, "student-1", "late arrival"); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	page1Again, err := store.ListMessages(ctx, conv.ID, 1, 10)
	if err != nil {
		t.Fatalf("ListMessages page 1 (again) failed: %v", err)
	}
	for i := range page1 {
		if page1[i].ID != page1Again[i].ID {
			t.Errorf("page 1 changed after append at index %d", i)
		}
	}
}

func TestLatestMessages(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	conv, err := store.GetOrCreateConversation(ctx, "mentor-1", "student-1")
	if err != nil {
		t.Fatalf("GetOrCreateConversation failed: %v", err)
	}

	for i := 0; i < 15; i++ {
		if _, err := store.AppendMessage(ctx, conv.ID, "mentor-1", fmt.Sprintf("message %d", i)); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}

	latest, err := store.LatestMessages(ctx, conv.ID, 5)
	if err != nil {
		t.Fatalf("LatestMessages failed: %v", err)
	}
	if len(latest) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(latest))
	}
	// Tail window, still chronological
	if latest[0].Content != "message 10" || latest[4].Content != "message 14" {
		t.Errorf("unexpected window: first=%q last=%q", latest[0].Content, latest[4].Content)
	}
}

func TestMarkRead(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	conv, err := store.GetOrCreateConversation(ctx, "mentor-1", "student-1")
	if err != nil {
		t.Fatalf("GetOrCreateConversation failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		if _, err := store.AppendMessage(ctx, conv.ID, "mentor-1", fmt.Sprintf("message %d", i)); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}

	count, err := store.MarkRead(ctx, conv.ID, "student-1")
	if err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	if count != 5 {
		t.Errorf("expected 5 messages marked, got %d", count)
	}

	// Idempotent: second call marks nothing
	count, err = store.MarkRead(ctx, conv.ID, "student-1")
	if err != nil {
		t.Fatalf("second MarkRead failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 messages marked on repeat, got %d", count)
	}

	messages, err := store.ListMessages(ctx, conv.ID, 1, 10)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	for _, msg := range messages {
		if !msg.ReadByUser("student-1") {
			t.Errorf("message %q missing student-1 in read-by set", msg.Content)
		}
		if msg.ReadByUser("mentor-1") {
			t.Errorf("message %q unexpectedly read by its sender", msg.Content)
		}
	}
}

func TestMarkRead_CoversOwnMessages(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	conv, err := store.GetOrCreateConversation(ctx, "mentor-1", "student-1")
	if err != nil {
		t.Fatalf("GetOrCreateConversation failed: %v", err)
	}

	if _, err := store.AppendMessage(ctx, conv.ID, "mentor-1", "from mentor"); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if _, err := store.AppendMessage(ctx, conv.ID, "student-1", "from student"); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	count, err := store.MarkRead(ctx, conv.ID, "mentor-1")
	if err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected both messages marked, got %d", count)
	}

	// Every message carries the reader afterwards, own messages included.
	messages, err := store.ListMessages(ctx, conv.ID, 1, 10)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	for _, msg := range messages {
		if !msg.ReadByUser("mentor-1") {
			t.Errorf("message %q missing mentor-1 in read-by set", msg.Content)
		}
	}
}

func TestListConversations(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()

	convA, err := store.GetOrCreateConversation(ctx, "mentor-1", "student-1")
	if err != nil {
		t.Fatalf("GetOrCreateConversation failed: %v", err)
	}
	convB, err := store.GetOrCreateConversation(ctx, "mentor-1", "student-2")
	if err != nil {
		t.Fatalf("GetOrCreateConversation failed: %v", err)
	}

	// Activity in convA makes it the most recent
	if _, err := store.AppendMessage(ctx, convB.ID, "student-2", "first"); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if _, err := store.AppendMessage(ctx, convA.ID, "student-1", "second"); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	list, err := store.ListConversations(ctx, "mentor-1", 1, 10)
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(list))
	}
	if list[0].ID != convA.ID {
		t.Errorf("expected most recently active conversation first")
	}
	if list[0].LastMessage == nil || list[0].LastMessage.Content != "second" {
		t.Errorf("last message not denormalized: %+v", list[0].LastMessage)
	}
	if list[0].Unread != 1 {
		t.Errorf("expected unread count 1, got %d", list[0].Unread)
	}

	// student-2 only sees their own conversation
	list, err = store.ListConversations(ctx, "student-2", 1, 10)
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if len(list) != 1 || list[0].ID != convB.ID {
		t.Errorf("student-2 should see exactly conversation %q", convB.ID)
	}
}

func TestIsParticipant(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	conv, err := store.GetOrCreateConversation(ctx, "mentor-1", "student-1")
	if err != nil {
		t.Fatalf("GetOrCreateConversation failed: %v", err)
	}

	ok, err := store.IsParticipant(ctx, conv.ID, "mentor-1")
	if err != nil || !ok {
		t.Errorf("expected mentor-1 to be a participant, ok=%v err=%v", ok, err)
	}
	ok, err = store.IsParticipant(ctx, conv.ID, "stranger")
	if err != nil || ok {
		t.Errorf("expected stranger not to be a participant, ok=%v err=%v", ok, err)
	}
	if _, err := store.IsParticipant(ctx, "missing", "mentor-1"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
