// ABOUTME: REST client for the chatsync gateway API
// ABOUTME: Typed requests and responses with bearer auth and status-to-code error mapping

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Participant is one side of a conversation.
type Participant struct {
	UserID   string    `json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`
}

// Message is a single message in a conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Sender         string    `json:"sender"`
	Content        string    `json:"content"`
	ReadBy         []string  `json:"read_by,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Conversation is a two-party conversation with its denormalized last message.
type Conversation struct {
	ID           string         `json:"id"`
	Participants [2]Participant `json:"participants"`
	LastMessage  *Message       `json:"last_message,omitempty"`
	Unread       int64          `json:"unread"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// createConversationRequest is the body for POST /api/conversations.
type createConversationRequest struct {
	ParticipantID string `json:"participant_id"`
}

// sendMessageRequest is the body for POST /api/conversations/{id}/messages.
type sendMessageRequest struct {
	Content string `json:"content"`
}

// conversationListResponse is the response for GET /api/conversations.
type conversationListResponse struct {
	Conversations []Conversation `json:"conversations"`
}

// messageListResponse is the response for GET /api/conversations/{id}/messages.
type messageListResponse struct {
	ConversationID string    `json:"conversation_id"`
	Messages       []Message `json:"messages"`
}

// MarkReadResult is the response for POST /api/conversations/{id}/read.
type MarkReadResult struct {
	ConversationID string `json:"conversation_id"`
	Count          int64  `json:"count"`
}

// errorResponse is the JSON error body the gateway sends.
type errorResponse struct {
	Error string `json:"error"`
}

// REST provides typed access to the gateway's HTTP API.
type REST struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewREST creates a REST client. baseURL is the gateway root, e.g.
// "http://localhost:8080".
func NewREST(baseURL, token string) *REST {
	return &REST{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetHTTPClient overrides the underlying HTTP client.
func (c *REST) SetHTTPClient(client *http.Client) {
	if client != nil {
		c.httpClient = client
	}
}

// CreateConversation gets or creates the conversation with another user.
// Idempotent: the same pair always resolves to the same conversation.
func (c *REST) CreateConversation(ctx context.Context, participantID string) (*Conversation, error) {
	var resp Conversation
	if err := c.post(ctx, "/api/conversations", createConversationRequest{ParticipantID: participantID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListConversations returns the caller's conversations ordered by most
// recent activity. limit <= 0 uses the server default.
func (c *REST) ListConversations(ctx context.Context, page, limit int) ([]Conversation, error) {
	var resp conversationListResponse
	if err := c.get(ctx, fmt.Sprintf("/api/conversations?page=%d&limit=%d", page, limit), &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// ListMessages returns a history page ascending by creation time.
// Page 1 is the oldest window.
func (c *REST) ListMessages(ctx context.Context, conversationID string, page, limit int) ([]Message, error) {
	var resp messageListResponse
	if err := c.get(ctx, fmt.Sprintf("/api/conversations/%s/messages?page=%d&limit=%d", conversationID, page, limit), &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// LatestMessages returns the most recent window, still ascending. This is
// the reconcile fetch used when opening a conversation or after a reconnect.
func (c *REST) LatestMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	path := fmt.Sprintf("/api/conversations/%s/messages", conversationID)
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}
	var resp messageListResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// SendMessage persists a message and returns the stored authoritative copy
// with its server-assigned ID and timestamp.
func (c *REST) SendMessage(ctx context.Context, conversationID, content string) (*Message, error) {
	var resp Message
	if err := c.post(ctx, fmt.Sprintf("/api/conversations/%s/messages", conversationID), sendMessageRequest{Content: content}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MarkRead marks every message from the other participant as read.
// Idempotent; the result carries the number of messages newly marked.
func (c *REST) MarkRead(ctx context.Context, conversationID string) (*MarkReadResult, error) {
	var resp MarkReadResult
	if err := c.post(ctx, fmt.Sprintf("/api/conversations/%s/read", conversationID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *REST) post(ctx context.Context, path string, body, dest any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return WrapError(ErrorSerialization, "marshal request", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bodyReader)
	if err != nil {
		return WrapError(ErrorConnection, "create request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, dest)
}

func (c *REST) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return WrapError(ErrorConnection, "create request", err)
	}
	return c.do(req, dest)
}

func (c *REST) do(req *http.Request, dest any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return WrapError(ErrorConnection, "http request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return WrapError(ErrorConnection, "read response", err)
	}

	if resp.StatusCode >= 400 {
		var errResp errorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
			return NewError(statusErrorCode(resp.StatusCode), errResp.Error)
		}
		return NewError(statusErrorCode(resp.StatusCode), fmt.Sprintf("http status %d", resp.StatusCode))
	}

	if dest != nil {
		if err := json.Unmarshal(body, dest); err != nil {
			return WrapError(ErrorSerialization, "unmarshal response", err)
		}
	}
	return nil
}
