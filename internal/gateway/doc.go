// Package gateway orchestrates the chatsync server components.
//
// # Overview
//
// The gateway package is the central coordinator of the chatsync server.
// It owns the durable store, the room registry for live fan-out, the typing
// tracker, and the HTTP server carrying both the REST API and the websocket
// event channel.
//
// # HTTP API
//
// The gateway exposes HTTP endpoints in api.go, all bearer-authenticated:
//
//   - GET  /api/conversations - List the caller's conversations
//   - POST /api/conversations - Get or create a conversation with another user
//   - GET  /api/conversations/{id}/messages - Message history (paginated)
//   - POST /api/conversations/{id}/messages - Send a message
//   - POST /api/conversations/{id}/read - Mark the conversation read
//   - GET  /healthz - Liveness check
//
// # Event Channel
//
// GET /ws?token= upgrades to a websocket carrying JSON event envelopes.
// Clients join per-conversation rooms and receive message-received,
// typing-started/-stopped and read-receipt events. Sending a message is not
// a socket operation: messages go through the REST API, are persisted, and
// only then fan out to the room. The store is the durable record; the
// channel is fire-and-forget.
package gateway
