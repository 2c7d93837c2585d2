// ABOUTME: Tests for the REST client against a real gateway over httptest
// ABOUTME: Covers the five API calls and status-to-code error mapping

package client

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestREST_CreateConversationIdempotent(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	alice := ts.rest(t, "alice")
	bob := ts.rest(t, "bob")

	first, err := alice.CreateConversation(ctx, "bob")
	require.NoError(t, err)
	second, err := bob.CreateConversation(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestREST_SendAndHistory(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	alice := ts.rest(t, "alice")
	conv, err := alice.CreateConversation(ctx, "bob")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		msg, err := alice.SendMessage(ctx, conv.ID, fmt.Sprintf("n%d", i))
		require.NoError(t, err)
		assert.NotEmpty(t, msg.ID)
	}

	// Oldest page first.
	page, err := alice.ListMessages(ctx, conv.ID, 1, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "n0", page[0].Content)

	// Latest window, ascending.
	latest, err := alice.LatestMessages(ctx, conv.ID, 3)
	require.NoError(t, err)
	require.Len(t, latest, 3)
	assert.Equal(t, "n2", latest[0].Content)
	assert.Equal(t, "n4", latest[2].Content)
}

func TestREST_ListConversations(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	alice := ts.rest(t, "alice")
	convBob, err := alice.CreateConversation(ctx, "bob")
	require.NoError(t, err)
	_, err = alice.CreateConversation(ctx, "carol")
	require.NoError(t, err)

	_, err = ts.rest(t, "bob").SendMessage(ctx, convBob.ID, "latest activity")
	require.NoError(t, err)

	conversations, err := alice.ListConversations(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, conversations, 2)
	assert.Equal(t, convBob.ID, conversations[0].ID)
	assert.Equal(t, int64(1), conversations[0].Unread)
	require.NotNil(t, conversations[0].LastMessage)
	assert.Equal(t, "latest activity", conversations[0].LastMessage.Content)
}

func TestREST_MarkReadIdempotent(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	alice := ts.rest(t, "alice")
	conv, err := alice.CreateConversation(ctx, "bob")
	require.NoError(t, err)
	_, err = alice.SendMessage(ctx, conv.ID, "unread")
	require.NoError(t, err)

	bob := ts.rest(t, "bob")
	result, err := bob.MarkRead(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Count)

	result, err = bob.MarkRead(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.Count)
}

func TestREST_ErrorMapping(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	alice := ts.rest(t, "alice")
	conv, err := alice.CreateConversation(ctx, "bob")
	require.NoError(t, err)

	_, err = alice.SendMessage(ctx, conv.ID, "   ")
	assert.True(t, HasCode(err, ErrorBadRequest), "blank content: %v", err)

	_, err = alice.CreateConversation(ctx, "alice")
	assert.True(t, HasCode(err, ErrorBadRequest), "self conversation: %v", err)

	_, err = ts.rest(t, "mallory").ListMessages(ctx, conv.ID, 1, 10)
	assert.True(t, HasCode(err, ErrorForbidden), "outsider history: %v", err)

	_, err = alice.SendMessage(ctx, "missing-conversation", "hi")
	assert.True(t, HasCode(err, ErrorNotFound), "unknown conversation: %v", err)

	_, err = ts.rest(t, "").ListConversations(ctx, 1, 10)
	assert.True(t, HasCode(err, ErrorUnauthorized), "empty user token: %v", err)
}
