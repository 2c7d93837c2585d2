// ABOUTME: Tests for the in-memory MockStore
// ABOUTME: Verifies mock semantics match the SQLite implementation's contract

package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore_GetOrCreateConversation_Idempotent(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	conv, err := m.GetOrCreateConversation(ctx, "mentor-1", "student-1")
	require.NoError(t, err)

	again, err := m.GetOrCreateConversation(ctx, "student-1", "mentor-1")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, again.ID)
}

func TestMockStore_GetOrCreateConversation_Concurrent(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	const callers = 16
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv, err := m.GetOrCreateConversation(ctx, "mentor-1", "student-1")
			if err != nil {
				t.Errorf("GetOrCreateConversation failed: %v", err)
				return
			}
			ids[i] = conv.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		assert.Equal(t, ids[0], ids[i], "caller %d observed a different conversation", i)
	}
}

func TestMockStore_AppendAndList(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	conv, err := m.GetOrCreateConversation(ctx, "mentor-1", "student-1")
	require.NoError(t, err)

	_, err = m.AppendMessage(ctx, conv.ID, "mentor-1", "  ")
	assert.ErrorIs(t, err, ErrEmptyContent)

	_, err = m.AppendMessage(ctx, conv.ID, "stranger", "hi")
	assert.ErrorIs(t, err, ErrNotParticipant)

	for i := 0; i < 7; i++ {
		_, err := m.AppendMessage(ctx, conv.ID, "mentor-1", fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}

	msgs, err := m.ListMessages(ctx, conv.ID, 1, 5)
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	assert.Equal(t, "m0", msgs[0].Content)

	latest, err := m.LatestMessages(ctx, conv.ID, 3)
	require.NoError(t, err)
	require.Len(t, latest, 3)
	assert.Equal(t, "m4", latest[0].Content)
	assert.Equal(t, "m6", latest[2].Content)
}

func TestMockStore_MarkRead_Idempotent(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	conv, err := m.GetOrCreateConversation(ctx, "mentor-1", "student-1")
	require.NoError(t, err)

	_, err = m.AppendMessage(ctx, conv.ID, "mentor-1", "hello")
	require.NoError(t, err)
	_, err = m.AppendMessage(ctx, conv.ID, "student-1", "hi back")
	require.NoError(t, err)

	count, err := m.MarkRead(ctx, conv.ID, "student-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	count, err = m.MarkRead(ctx, conv.ID, "student-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	msgs, err := m.ListMessages(ctx, conv.ID, 1, 10)
	require.NoError(t, err)
	assert.True(t, msgs[0].ReadByUser("student-1"))
	assert.True(t, msgs[1].ReadByUser("student-1"), "reader's own message is marked too")
}

func TestMockStore_ListConversations_OrderAndUnread(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	convA, err := m.GetOrCreateConversation(ctx, "mentor-1", "student-1")
	require.NoError(t, err)
	convB, err := m.GetOrCreateConversation(ctx, "mentor-1", "student-2")
	require.NoError(t, err)

	_, err = m.AppendMessage(ctx, convA.ID, "student-1", "older")
	require.NoError(t, err)
	_, err = m.AppendMessage(ctx, convB.ID, "student-2", "newer")
	require.NoError(t, err)

	list, err := m.ListConversations(ctx, "mentor-1", 1, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, convB.ID, list[0].ID)
	assert.Equal(t, int64(1), list[0].Unread)
	require.NotNil(t, list[0].LastMessage)
	assert.Equal(t, "newer", list[0].LastMessage.Content)
}

func TestMockStore_CopiesAreDefensive(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	conv, err := m.GetOrCreateConversation(ctx, "mentor-1", "student-1")
	require.NoError(t, err)

	msg, err := m.AppendMessage(ctx, conv.ID, "mentor-1", "hello")
	require.NoError(t, err)

	// Mutating a returned message must not leak into the store
	msg.Content = "tampered"
	msgs, err := m.ListMessages(ctx, conv.ID, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, "hello", msgs[0].Content)
}
