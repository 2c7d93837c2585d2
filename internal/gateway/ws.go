// ABOUTME: Websocket event channel handler for live room fan-out
// ABOUTME: One read loop per connection, writes serialized through a single goroutine

package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/mentorhq/chatsync/internal/event"
	"github.com/mentorhq/chatsync/internal/room"
	"github.com/mentorhq/chatsync/internal/store"
)

const wsWriteTimeout = 10 * time.Second

// handleWebsocket handles GET /ws?token=. The JWT is verified before the
// websocket handshake so an invalid token fails with a plain 401 instead of
// a cryptic close frame.
func (g *Gateway) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	userID, err := g.verifier.Verify(r.URL.Query().Get("token"))
	if err != nil {
		g.sendJSONError(w, http.StatusUnauthorized, "invalid or missing token")
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		g.logger.Debug("websocket accept failed", "error", err)
		return
	}

	g.serveConn(r.Context(), conn, userID)
}

// serveConn runs the connection until the client disconnects or the context
// is canceled. Room events and direct replies are merged into one writer
// goroutine; the read loop dispatches client events.
func (g *Gateway) serveConn(ctx context.Context, conn *websocket.Conn, userID string) {
	logger := g.logger.With("user_id", userID)
	logger.Info("client connected")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sub := room.NewSubscription(userID)
	replies := make(chan *event.Envelope, 16)

	defer func() {
		g.rooms.LeaveAll(sub.ID())
		// A dropped connection must not leave stuck typing indicators.
		for _, conversationID := range g.typing.StopAll(userID) {
			g.rooms.Broadcast(conversationID, event.MustNew(event.TypeTypingStopped, event.Typing{
				ConversationID: conversationID,
				UserID:         userID,
			}), "")
		}
		logger.Info("client disconnected")
	}()

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		g.writeLoop(ctx, conn, sub, replies)
	}()

	g.readLoop(ctx, conn, sub, replies, logger)

	cancel()
	<-writeDone
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

// writeLoop drains room broadcasts and direct replies into the socket.
func (g *Gateway) writeLoop(ctx context.Context, conn *websocket.Conn, sub *room.Subscription, replies <-chan *event.Envelope) {
	write := func(env *event.Envelope) bool {
		wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
		defer cancel()
		return wsjson.Write(wctx, conn, env) == nil
	}

	for {
		select {
		case env := <-sub.Events():
			if !write(env) {
				return
			}
		case env := <-replies:
			if !write(env) {
				return
			}
		case <-sub.Done():
			return
		case <-ctx.Done():
			return
		}
	}
}

// readLoop decodes client envelopes and dispatches them until read fails.
func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn, sub *room.Subscription, replies chan<- *event.Envelope, logger *slog.Logger) {
	for {
		var env event.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			if websocket.CloseStatus(err) < 0 && ctx.Err() == nil {
				logger.Debug("websocket read failed", "error", err)
			}
			return
		}
		g.dispatchEvent(ctx, &env, sub, replies)
	}
}

// dispatchEvent handles one client->server event. Protocol errors are
// reported on the channel; they never terminate the connection.
func (g *Gateway) dispatchEvent(ctx context.Context, env *event.Envelope, sub *room.Subscription, replies chan<- *event.Envelope) {
	userID := sub.UserID()

	switch env.Type {
	case event.TypePing:
		reply(ctx, replies, event.MustNew(event.TypePong, nil))

	case event.TypeJoinRoom:
		var ref event.RoomRef
		if err := env.Decode(&ref); err != nil {
			replyError(ctx, replies, event.CodeBadRequest, err.Error())
			return
		}
		if err := g.rooms.Join(ctx, ref.ConversationID, sub); err != nil {
			replyError(ctx, replies, joinErrorCode(err), err.Error())
			return
		}
		reply(ctx, replies, event.MustNew(event.TypeRoomJoined, event.RoomJoined{ConversationID: ref.ConversationID}))
		// Catch the joiner up on indicators already in flight.
		for _, typist := range g.typing.Typing(ref.ConversationID) {
			if typist == userID {
				continue
			}
			reply(ctx, replies, event.MustNew(event.TypeTypingStarted, event.Typing{
				ConversationID: ref.ConversationID,
				UserID:         typist,
			}))
		}

	case event.TypeLeaveRoom:
		var ref event.RoomRef
		if err := env.Decode(&ref); err != nil {
			replyError(ctx, replies, event.CodeBadRequest, err.Error())
			return
		}
		g.rooms.Leave(ref.ConversationID, sub.ID())

	case event.TypeTypingStart:
		g.handleTyping(ctx, env, sub, replies, true)

	case event.TypeTypingStop:
		g.handleTyping(ctx, env, sub, replies, false)

	case event.TypeReadMarked:
		var ref event.RoomRef
		if err := env.Decode(&ref); err != nil {
			replyError(ctx, replies, event.CodeBadRequest, err.Error())
			return
		}
		count, err := g.store.MarkRead(ctx, ref.ConversationID, userID)
		if err != nil {
			replyError(ctx, replies, storeErrorCode(err), err.Error())
			return
		}
		if count > 0 {
			receipt := event.MustNew(event.TypeReadReceipt, event.ReadReceipt{
				ConversationID: ref.ConversationID,
				UserID:         userID,
				Count:          count,
			})
			g.rooms.Broadcast(ref.ConversationID, receipt, sub.ID())
			reply(ctx, replies, receipt)
		}

	default:
		replyError(ctx, replies, event.CodeBadRequest, "unknown event type: "+env.Type)
	}
}

// handleTyping relays typing indicator changes to the room, excluding the
// sender. Repeated typing-start within the expiry window only resets the
// tracker timer; it is not re-broadcast.
func (g *Gateway) handleTyping(ctx context.Context, env *event.Envelope, sub *room.Subscription, replies chan<- *event.Envelope, start bool) {
	var ref event.RoomRef
	if err := env.Decode(&ref); err != nil {
		replyError(ctx, replies, event.CodeBadRequest, err.Error())
		return
	}

	userID := sub.UserID()
	ok, err := g.store.IsParticipant(ctx, ref.ConversationID, userID)
	if err != nil {
		replyError(ctx, replies, storeErrorCode(err), err.Error())
		return
	}
	if !ok {
		replyError(ctx, replies, event.CodeForbidden, "not a participant")
		return
	}

	var changed bool
	var eventType string
	if start {
		changed = g.typing.Start(ref.ConversationID, userID)
		eventType = event.TypeTypingStarted
	} else {
		changed = g.typing.Stop(ref.ConversationID, userID)
		eventType = event.TypeTypingStopped
	}
	if !changed {
		return
	}

	g.rooms.Broadcast(ref.ConversationID, event.MustNew(eventType, event.Typing{
		ConversationID: ref.ConversationID,
		UserID:         userID,
	}), sub.ID())
}

// reply queues a direct envelope for the writer goroutine.
func reply(ctx context.Context, replies chan<- *event.Envelope, env *event.Envelope) {
	select {
	case replies <- env:
	case <-ctx.Done():
	}
}

func replyError(ctx context.Context, replies chan<- *event.Envelope, code, msg string) {
	reply(ctx, replies, event.MustNew(event.TypeError, event.Error{Code: code, Msg: msg}))
}

// joinErrorCode maps room join failures to protocol error codes.
func joinErrorCode(err error) string {
	switch {
	case errors.Is(err, room.ErrNotParticipant):
		return event.CodeForbidden
	case errors.Is(err, store.ErrNotFound):
		return event.CodeNotFound
	default:
		return event.CodeInternal
	}
}

// storeErrorCode maps store errors to protocol error codes.
func storeErrorCode(err error) string {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return event.CodeNotFound
	case errors.Is(err, store.ErrNotParticipant):
		return event.CodeForbidden
	default:
		return event.CodeInternal
	}
}
