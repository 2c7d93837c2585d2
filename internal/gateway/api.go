// ABOUTME: HTTP API handlers for conversations, message history and read receipts
// ABOUTME: Message sends persist first, then fan out over the room registry

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mentorhq/chatsync/internal/auth"
	"github.com/mentorhq/chatsync/internal/event"
	"github.com/mentorhq/chatsync/internal/store"
)

// CreateConversationRequest is the JSON request body for POST /api/conversations.
type CreateConversationRequest struct {
	ParticipantID string `json:"participant_id"`
}

// SendMessageRequest is the JSON request body for POST /api/conversations/{id}/messages.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// ParticipantResponse is one side of a conversation in API responses.
type ParticipantResponse struct {
	UserID   string    `json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`
}

// MessageResponse is the JSON shape of a message.
type MessageResponse struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Sender         string    `json:"sender"`
	Content        string    `json:"content"`
	ReadBy         []string  `json:"read_by,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ConversationResponse is the JSON shape of a conversation.
type ConversationResponse struct {
	ID           string                 `json:"id"`
	Participants [2]ParticipantResponse `json:"participants"`
	LastMessage  *MessageResponse       `json:"last_message,omitempty"`
	Unread       int64                  `json:"unread"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// ConversationListResponse is the JSON response for GET /api/conversations.
type ConversationListResponse struct {
	Conversations []ConversationResponse `json:"conversations"`
}

// MessageListResponse is the JSON response for GET /api/conversations/{id}/messages.
type MessageListResponse struct {
	ConversationID string            `json:"conversation_id"`
	Messages       []MessageResponse `json:"messages"`
}

// MarkReadResponse is the JSON response for POST /api/conversations/{id}/read.
type MarkReadResponse struct {
	ConversationID string `json:"conversation_id"`
	Count          int64  `json:"count"`
}

func messageResponse(m *store.Message) MessageResponse {
	return MessageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Sender:         m.Sender,
		Content:        m.Content,
		ReadBy:         m.ReadBy,
		CreatedAt:      m.CreatedAt,
	}
}

func conversationResponse(c *store.Conversation) ConversationResponse {
	resp := ConversationResponse{
		ID:        c.ID,
		Unread:    c.Unread,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
	for i, p := range c.Participants {
		resp.Participants[i] = ParticipantResponse{UserID: p.UserID, JoinedAt: p.JoinedAt}
	}
	if c.LastMessage != nil {
		lm := messageResponse(c.LastMessage)
		resp.LastMessage = &lm
	}
	return resp
}

// handleConversations handles GET and POST /api/conversations.
func (g *Gateway) handleConversations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		g.handleListConversations(w, r)
	case http.MethodPost:
		g.handleCreateConversation(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleListConversations handles GET /api/conversations?page=&limit=.
// Conversations are ordered by most recent activity and carry the
// denormalized last message plus the caller's unread count.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserFromContext(r.Context())
	page, limit := parsePagination(r)

	conversations, err := g.store.ListConversations(r.Context(), userID, page, limit)
	if err != nil {
		g.sendStoreError(w, err)
		return
	}

	resp := ConversationListResponse{Conversations: make([]ConversationResponse, 0, len(conversations))}
	for _, c := range conversations {
		resp.Conversations = append(resp.Conversations, conversationResponse(c))
	}
	g.sendJSON(w, http.StatusOK, resp)
}

// handleCreateConversation handles POST /api/conversations.
// Get-or-create: the same pair always resolves to the same conversation,
// no matter which side asks first or whether both ask at once.
func (g *Gateway) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserFromContext(r.Context())

	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	conv, err := g.store.GetOrCreateConversation(r.Context(), userID, req.ParticipantID)
	if err != nil {
		g.sendStoreError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, conversationResponse(conv))
}

// handleConversationRoutes dispatches /api/conversations/{id}/... paths.
func (g *Gateway) handleConversationRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/conversations/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		g.sendJSONError(w, http.StatusNotFound, "not found")
		return
	}
	conversationID := parts[0]

	switch parts[1] {
	case "messages":
		switch r.Method {
		case http.MethodGet:
			g.handleListMessages(w, r, conversationID)
		case http.MethodPost:
			g.handleSendMessage(w, r, conversationID)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case "read":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		g.handleMarkRead(w, r, conversationID)
	default:
		g.sendJSONError(w, http.StatusNotFound, "not found")
	}
}

// handleListMessages handles GET /api/conversations/{id}/messages?page=&limit=.
// Page 1 is the oldest window; messages are ascending by creation time.
// With neither page nor limit set it returns the most recent window, which is
// what a client opening a conversation wants.
func (g *Gateway) handleListMessages(w http.ResponseWriter, r *http.Request, conversationID string) {
	userID := auth.UserFromContext(r.Context())

	ok, err := g.store.IsParticipant(r.Context(), conversationID, userID)
	if err != nil {
		g.sendStoreError(w, err)
		return
	}
	if !ok {
		g.sendJSONError(w, http.StatusForbidden, "not a participant")
		return
	}

	var messages []*store.Message
	if r.URL.Query().Get("page") == "" {
		_, limit := parsePagination(r)
		messages, err = g.store.LatestMessages(r.Context(), conversationID, limit)
	} else {
		page, limit := parsePagination(r)
		messages, err = g.store.ListMessages(r.Context(), conversationID, page, limit)
	}
	if err != nil {
		g.sendStoreError(w, err)
		return
	}

	resp := MessageListResponse{
		ConversationID: conversationID,
		Messages:       make([]MessageResponse, 0, len(messages)),
	}
	for _, m := range messages {
		resp.Messages = append(resp.Messages, messageResponse(m))
	}
	g.sendJSON(w, http.StatusOK, resp)
}

// handleSendMessage handles POST /api/conversations/{id}/messages.
// The message is persisted first; only after the store has assigned its ID
// and timestamp is it broadcast to the room. The response body is the
// sender's authoritative copy.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request, conversationID string) {
	userID := auth.UserFromContext(r.Context())

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	msg, err := g.store.AppendMessage(r.Context(), conversationID, userID, req.Content)
	if err != nil {
		g.sendStoreError(w, err)
		return
	}

	// A send also implies the sender is no longer typing.
	if g.typing.Stop(conversationID, userID) {
		g.rooms.Broadcast(conversationID, event.MustNew(event.TypeTypingStopped, event.Typing{
			ConversationID: conversationID,
			UserID:         userID,
		}), "")
	}

	// No exclusion: the sender's other connections converge through the
	// same event, and the synchronizer dedupes by message ID.
	g.rooms.Broadcast(conversationID, event.MustNew(event.TypeMessageReceived, event.Message{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Sender:         msg.Sender,
		Content:        msg.Content,
		ReadBy:         msg.ReadBy,
		CreatedAt:      msg.CreatedAt,
	}), "")

	g.sendJSON(w, http.StatusCreated, messageResponse(msg))
}

// handleMarkRead handles POST /api/conversations/{id}/read.
func (g *Gateway) handleMarkRead(w http.ResponseWriter, r *http.Request, conversationID string) {
	userID := auth.UserFromContext(r.Context())

	count, err := g.store.MarkRead(r.Context(), conversationID, userID)
	if err != nil {
		g.sendStoreError(w, err)
		return
	}

	if count > 0 {
		g.rooms.Broadcast(conversationID, event.MustNew(event.TypeReadReceipt, event.ReadReceipt{
			ConversationID: conversationID,
			UserID:         userID,
			Count:          count,
		}), "")
	}

	g.sendJSON(w, http.StatusOK, MarkReadResponse{ConversationID: conversationID, Count: count})
}

// parsePagination extracts page and limit query parameters. Values out of
// range are clamped by the store.
func parsePagination(r *http.Request) (page, limit int) {
	page = 1
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	return page, limit
}

// sendStoreError maps store errors to HTTP statuses.
func (g *Gateway) sendStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrEmptyContent),
		errors.Is(err, store.ErrEmptyUser),
		errors.Is(err, store.ErrSameUser):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotParticipant):
		g.sendJSONError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, store.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, err.Error())
	default:
		g.logger.Error("store error", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// sendJSON writes a JSON response.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
