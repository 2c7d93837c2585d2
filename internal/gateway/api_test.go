// ABOUTME: Tests for the HTTP API handlers covering auth, error mapping and fan-out
// ABOUTME: Runs the gateway on an in-memory store via httptest

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentorhq/chatsync/internal/config"
	"github.com/mentorhq/chatsync/internal/room"
	"github.com/mentorhq/chatsync/internal/store"
)

const testSecret = "test-secret"

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	cfg := &config.Config{}
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Database.Path = ":memory:"
	cfg.Auth.JWTSecret = testSecret

	gw, err := NewWithStore(cfg, store.NewMockStore(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() {
		gw.rooms.Close()
		gw.typing.Close()
	})
	return gw
}

func bearerToken(t *testing.T, gw *Gateway, userID string) string {
	t.Helper()
	token, err := gw.verifier.Generate(userID, time.Hour)
	require.NoError(t, err)
	return token
}

func doRequest(t *testing.T, gw *Gateway, userID, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken(t, gw, userID))
	}
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)
	return rec
}

func createConversation(t *testing.T, gw *Gateway, userID, peerID string) ConversationResponse {
	t.Helper()
	rec := doRequest(t, gw, userID, http.MethodPost, "/api/conversations", CreateConversationRequest{ParticipantID: peerID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var conv ConversationResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&conv))
	return conv
}

func TestHealthz(t *testing.T) {
	gw := newTestGateway(t)
	rec := doRequest(t, gw, "", http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_RequiresAuth(t *testing.T) {
	gw := newTestGateway(t)

	rec := doRequest(t, gw, "", http.MethodGet, "/api/conversations", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateConversation_GetOrCreate(t *testing.T) {
	gw := newTestGateway(t)

	first := createConversation(t, gw, "alice", "bob")
	assert.NotEmpty(t, first.ID)

	// Same pair from the other side resolves to the same conversation.
	second := createConversation(t, gw, "bob", "alice")
	assert.Equal(t, first.ID, second.ID)
}

func TestCreateConversation_Validation(t *testing.T) {
	gw := newTestGateway(t)

	rec := doRequest(t, gw, "alice", http.MethodPost, "/api/conversations", CreateConversationRequest{ParticipantID: "alice"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, gw, "alice", http.MethodPost, "/api/conversations", CreateConversationRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendMessage_PersistsAndReturnsAuthoritativeCopy(t *testing.T) {
	gw := newTestGateway(t)
	conv := createConversation(t, gw, "alice", "bob")

	rec := doRequest(t, gw, "alice", http.MethodPost, "/api/conversations/"+conv.ID+"/messages", SendMessageRequest{Content: "hello"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var msg MessageResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&msg))
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, conv.ID, msg.ConversationID)
	assert.Equal(t, "alice", msg.Sender)
	assert.Equal(t, "hello", msg.Content)
	assert.False(t, msg.CreatedAt.IsZero())
}

func TestSendMessage_ErrorMapping(t *testing.T) {
	gw := newTestGateway(t)
	conv := createConversation(t, gw, "alice", "bob")

	// Blank content after trimming.
	rec := doRequest(t, gw, "alice", http.MethodPost, "/api/conversations/"+conv.ID+"/messages", SendMessageRequest{Content: "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Outsider.
	rec = doRequest(t, gw, "mallory", http.MethodPost, "/api/conversations/"+conv.ID+"/messages", SendMessageRequest{Content: "hi"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Unknown conversation.
	rec = doRequest(t, gw, "alice", http.MethodPost, "/api/conversations/nope/messages", SendMessageRequest{Content: "hi"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendMessage_BroadcastsToRoom(t *testing.T) {
	gw := newTestGateway(t)
	conv := createConversation(t, gw, "alice", "bob")

	sub := room.NewSubscription("bob")
	require.NoError(t, gw.rooms.Join(context.Background(), conv.ID, sub))

	rec := doRequest(t, gw, "alice", http.MethodPost, "/api/conversations/"+conv.ID+"/messages", SendMessageRequest{Content: "ping"})
	require.Equal(t, http.StatusCreated, rec.Code)

	select {
	case env := <-sub.Events():
		assert.Equal(t, "message-received", env.Type)
	case <-time.After(time.Second):
		t.Fatal("no broadcast received")
	}
}

func TestListMessages_PaginationAndAccess(t *testing.T) {
	gw := newTestGateway(t)
	conv := createConversation(t, gw, "alice", "bob")

	for i := 0; i < 5; i++ {
		rec := doRequest(t, gw, "alice", http.MethodPost, "/api/conversations/"+conv.ID+"/messages", SendMessageRequest{Content: fmt.Sprintf("msg %d", i)})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	// Default fetch returns the most recent window in ascending order.
	rec := doRequest(t, gw, "bob", http.MethodGet, "/api/conversations/"+conv.ID+"/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list MessageListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list.Messages, 5)
	for i := 1; i < len(list.Messages); i++ {
		assert.False(t, list.Messages[i].CreatedAt.Before(list.Messages[i-1].CreatedAt))
	}

	// Page 1 is the oldest window.
	rec = doRequest(t, gw, "bob", http.MethodGet, "/api/conversations/"+conv.ID+"/messages?page=1&limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list = MessageListResponse{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list.Messages, 2)
	assert.Equal(t, "msg 0", list.Messages[0].Content)
	assert.Equal(t, "msg 1", list.Messages[1].Content)

	// Outsiders get 403.
	rec = doRequest(t, gw, "mallory", http.MethodGet, "/api/conversations/"+conv.ID+"/messages", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMarkRead_IdempotentWithReceiptBroadcast(t *testing.T) {
	gw := newTestGateway(t)
	conv := createConversation(t, gw, "alice", "bob")

	rec := doRequest(t, gw, "alice", http.MethodPost, "/api/conversations/"+conv.ID+"/messages", SendMessageRequest{Content: "unread me"})
	require.Equal(t, http.StatusCreated, rec.Code)

	sub := room.NewSubscription("alice")
	require.NoError(t, gw.rooms.Join(context.Background(), conv.ID, sub))

	rec = doRequest(t, gw, "bob", http.MethodPost, "/api/conversations/"+conv.ID+"/read", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp MarkReadResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, int64(1), resp.Count)

	select {
	case env := <-sub.Events():
		assert.Equal(t, "read-receipt", env.Type)
	case <-time.After(time.Second):
		t.Fatal("no read receipt broadcast")
	}

	// Second mark is a no-op and broadcasts nothing.
	rec = doRequest(t, gw, "bob", http.MethodPost, "/api/conversations/"+conv.ID+"/read", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = MarkReadResponse{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, int64(0), resp.Count)

	select {
	case env := <-sub.Events():
		t.Fatalf("unexpected broadcast %q", env.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestListConversations_UnreadAndOrder(t *testing.T) {
	gw := newTestGateway(t)
	convAB := createConversation(t, gw, "alice", "bob")
	convAC := createConversation(t, gw, "alice", "carol")

	rec := doRequest(t, gw, "bob", http.MethodPost, "/api/conversations/"+convAB.ID+"/messages", SendMessageRequest{Content: "to alice"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, gw, "alice", http.MethodGet, "/api/conversations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list ConversationListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list.Conversations, 2)

	// Most recent activity first.
	assert.Equal(t, convAB.ID, list.Conversations[0].ID)
	assert.Equal(t, convAC.ID, list.Conversations[1].ID)
	assert.Equal(t, int64(1), list.Conversations[0].Unread)
	require.NotNil(t, list.Conversations[0].LastMessage)
	assert.Equal(t, "to alice", list.Conversations[0].LastMessage.Content)
}

func TestConversationRoutes_NotFoundAndMethods(t *testing.T) {
	gw := newTestGateway(t)
	conv := createConversation(t, gw, "alice", "bob")

	rec := doRequest(t, gw, "alice", http.MethodGet, "/api/conversations/"+conv.ID+"/bogus", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, gw, "alice", http.MethodGet, "/api/conversations/"+conv.ID+"/read", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = doRequest(t, gw, "alice", http.MethodDelete, "/api/conversations", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
