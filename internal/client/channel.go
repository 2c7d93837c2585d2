// ABOUTME: Live event channel client with automatic reconnect and room rejoin
// ABOUTME: Decodes server envelopes into typed callbacks

package client

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/mentorhq/chatsync/internal/event"
)

// ChannelConfig configures the event channel.
type ChannelConfig struct {
	// URL is the websocket endpoint, e.g. "ws://localhost:8080/ws".
	URL string

	// Token is the bearer JWT, carried as a query parameter on dial.
	Token string

	// HandshakeTimeout bounds each dial attempt.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds each outgoing envelope write.
	WriteTimeout time.Duration

	// ReconnectBase is the first backoff delay after a connection loss.
	// Each subsequent attempt doubles it up to ReconnectMax.
	ReconnectBase time.Duration

	// ReconnectMax caps the backoff delay.
	ReconnectMax time.Duration

	// ReconnectAttempts bounds redial attempts per outage. After the last
	// failure the channel gives up and transitions to disconnected.
	ReconnectAttempts int

	Logger *slog.Logger
}

// DefaultChannelConfig returns a config with the standard timings.
func DefaultChannelConfig(url, token string) ChannelConfig {
	return ChannelConfig{
		URL:               url,
		Token:             token,
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReconnectBase:     500 * time.Millisecond,
		ReconnectMax:      10 * time.Second,
		ReconnectAttempts: 5,
	}
}

// Channel is the client side of the websocket event channel. It survives
// connection loss: on a read failure it redials with exponential backoff,
// rejoins every room it was in, and fires the resync hook so the caller can
// reconcile history it may have missed.
type Channel struct {
	cfg    ChannelConfig
	logger *slog.Logger

	onMessage     func(event.Message)
	onTyping      func(event.Typing, bool)
	onReadReceipt func(event.ReadReceipt)
	onRoomJoined  func(event.RoomJoined)
	onError       func(error)
	onState       func(StateEvent)
	onResync      func()

	writeCh chan *event.Envelope

	mu      sync.Mutex
	state   ConnectionState
	rooms   map[string]struct{}
	cancel  context.CancelFunc
	started bool
}

// NewChannel constructs a channel; Connect starts it.
func NewChannel(cfg ChannelConfig) *Channel {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		cfg:     cfg,
		logger:  logger.With("component", "channel"),
		writeCh: make(chan *event.Envelope, 16),
		state:   StateDisconnected,
		rooms:   make(map[string]struct{}),
	}
}

// OnMessage registers the callback for message-received events.
func (c *Channel) OnMessage(fn func(event.Message)) { c.onMessage = fn }

// OnTyping registers the callback for typing-started (started=true) and
// typing-stopped (started=false) events.
func (c *Channel) OnTyping(fn func(t event.Typing, started bool)) { c.onTyping = fn }

// OnReadReceipt registers the callback for read-receipt events.
func (c *Channel) OnReadReceipt(fn func(event.ReadReceipt)) { c.onReadReceipt = fn }

// OnRoomJoined registers the callback for room-joined acknowledgements.
func (c *Channel) OnRoomJoined(fn func(event.RoomJoined)) { c.onRoomJoined = fn }

// OnError registers the callback for protocol and transport errors.
func (c *Channel) OnError(fn func(error)) { c.onError = fn }

// OnStateChange registers the callback for connection state transitions.
func (c *Channel) OnStateChange(fn func(StateEvent)) { c.onState = fn }

// OnResync registers the hook fired after every successful reconnect, once
// rooms have been rejoined. Callers refetch history here.
func (c *Channel) OnResync(fn func()) { c.onResync = fn }

// State returns the current connection state.
func (c *Channel) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the gateway and starts the channel loops. It returns once
// the first connection is established or fails.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return NewError(ErrorConnection, "already connected")
	}
	c.started = true
	c.mu.Unlock()

	c.setState(StateConnecting, nil)

	conn, err := c.dial(ctx)
	if err != nil {
		c.setState(StateDisconnected, err)
		c.mu.Lock()
		c.started = false
		c.mu.Unlock()
		return WrapError(ErrorConnection, "dial", err)
	}

	// The run loop outlives the dial context.
	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	c.setState(StateConnected, nil)
	go c.run(runCtx, conn)
	return nil
}

// Close stops the channel permanently.
func (c *Channel) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()

	c.setState(StateClosed, nil)
	if cancel != nil {
		cancel()
	}
	return nil
}

// JoinRoom subscribes to a conversation's events. The room is tracked so a
// reconnect rejoins it automatically.
func (c *Channel) JoinRoom(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	c.rooms[conversationID] = struct{}{}
	c.mu.Unlock()
	return c.send(ctx, event.MustNew(event.TypeJoinRoom, event.RoomRef{ConversationID: conversationID}))
}

// LeaveRoom unsubscribes from a conversation's events.
func (c *Channel) LeaveRoom(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	delete(c.rooms, conversationID)
	c.mu.Unlock()
	return c.send(ctx, event.MustNew(event.TypeLeaveRoom, event.RoomRef{ConversationID: conversationID}))
}

// TypingStart signals the caller started typing in the conversation.
func (c *Channel) TypingStart(ctx context.Context, conversationID string) error {
	return c.send(ctx, event.MustNew(event.TypeTypingStart, event.RoomRef{ConversationID: conversationID}))
}

// TypingStop signals the caller stopped typing in the conversation.
func (c *Channel) TypingStop(ctx context.Context, conversationID string) error {
	return c.send(ctx, event.MustNew(event.TypeTypingStop, event.RoomRef{ConversationID: conversationID}))
}

// MarkRead marks the conversation read over the channel.
func (c *Channel) MarkRead(ctx context.Context, conversationID string) error {
	return c.send(ctx, event.MustNew(event.TypeReadMarked, event.RoomRef{ConversationID: conversationID}))
}

// Ping sends a liveness probe; the gateway answers with pong.
func (c *Channel) Ping(ctx context.Context) error {
	return c.send(ctx, event.MustNew(event.TypePing, nil))
}

// send queues an envelope for the writer. Fire and forget: an envelope in
// flight during a connection loss may be dropped, and the resync hook is
// how callers recover.
func (c *Channel) send(ctx context.Context, env *event.Envelope) error {
	if c.State() == StateClosed {
		return NewError(ErrorClosed, "channel closed")
	}
	select {
	case c.writeCh <- env:
		return nil
	case <-ctx.Done():
		return WrapError(ErrorConnection, "send", ctx.Err())
	}
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	if c.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
		defer cancel()
	}
	conn, _, err := websocket.Dial(ctx, c.cfg.URL+"?token="+c.cfg.Token, nil)
	return conn, err
}

// run owns the connection lifecycle: read until failure, then redial with
// backoff, rejoin rooms and fire resync. Exits when the channel is closed
// or the attempt budget is spent.
func (c *Channel) run(ctx context.Context, conn *websocket.Conn) {
	for {
		readErr := c.serveConn(ctx, conn)
		_ = conn.Close(websocket.StatusNormalClosure, "")

		if ctx.Err() != nil || c.State() == StateClosed {
			if c.State() != StateClosed {
				c.setState(StateDisconnected, readErr)
			}
			return
		}

		c.setState(StateReconnecting, readErr)

		var err error
		conn, err = c.redial(ctx)
		if err != nil {
			c.setState(StateDisconnected, err)
			c.fireError(WrapError(ErrorConnection, "reconnect failed", err))
			return
		}

		c.rejoinRooms(ctx)
		c.setState(StateConnected, nil)
		if c.onResync != nil {
			c.onResync()
		}
	}
}

// serveConn runs the writer and read loop for one connection and returns
// the read error that ended it.
func (c *Channel) serveConn(ctx context.Context, conn *websocket.Conn) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		c.writeLoop(connCtx, conn)
	}()

	var readErr error
	for {
		var env event.Envelope
		if err := wsjson.Read(connCtx, conn, &env); err != nil {
			readErr = err
			break
		}
		c.dispatch(&env)
	}

	cancel()
	<-writeDone
	return readErr
}

func (c *Channel) writeLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case env := <-c.writeCh:
			wctx := ctx
			cancel := func() {}
			if c.cfg.WriteTimeout > 0 {
				wctx, cancel = context.WithTimeout(ctx, c.cfg.WriteTimeout)
			}
			err := wsjson.Write(wctx, conn, env)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					c.logger.Debug("write failed", "type", env.Type, "error", err)
				}
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// redial attempts to re-establish the connection with exponential backoff.
func (c *Channel) redial(ctx context.Context) (*websocket.Conn, error) {
	delay := c.cfg.ReconnectBase
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.ReconnectMax
	if maxDelay <= 0 {
		maxDelay = 10 * time.Second
	}
	attempts := c.cfg.ReconnectAttempts
	if attempts <= 0 {
		attempts = 5
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		conn, err := c.dial(ctx)
		if err == nil {
			c.logger.Info("reconnected", "attempt", attempt)
			return conn, nil
		}
		lastErr = err
		c.logger.Debug("reconnect attempt failed", "attempt", attempt, "error", err)

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return nil, lastErr
}

// rejoinRooms queues join-room envelopes for every tracked room.
func (c *Channel) rejoinRooms(ctx context.Context) {
	c.mu.Lock()
	rooms := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		rooms = append(rooms, id)
	}
	c.mu.Unlock()

	for _, id := range rooms {
		if err := c.send(ctx, event.MustNew(event.TypeJoinRoom, event.RoomRef{ConversationID: id})); err != nil {
			c.logger.Debug("rejoin queue failed", "conversation_id", id, "error", err)
		}
	}
}

// dispatch routes a server envelope to the registered callback.
func (c *Channel) dispatch(env *event.Envelope) {
	switch env.Type {
	case event.TypeMessageReceived:
		if c.onMessage == nil {
			return
		}
		var msg event.Message
		if err := env.Decode(&msg); err != nil {
			c.fireError(WrapError(ErrorSerialization, "decode message-received", err))
			return
		}
		c.onMessage(msg)

	case event.TypeTypingStarted, event.TypeTypingStopped:
		if c.onTyping == nil {
			return
		}
		var t event.Typing
		if err := env.Decode(&t); err != nil {
			c.fireError(WrapError(ErrorSerialization, "decode typing event", err))
			return
		}
		c.onTyping(t, env.Type == event.TypeTypingStarted)

	case event.TypeReadReceipt:
		if c.onReadReceipt == nil {
			return
		}
		var receipt event.ReadReceipt
		if err := env.Decode(&receipt); err != nil {
			c.fireError(WrapError(ErrorSerialization, "decode read-receipt", err))
			return
		}
		c.onReadReceipt(receipt)

	case event.TypeRoomJoined:
		if c.onRoomJoined == nil {
			return
		}
		var joined event.RoomJoined
		if err := env.Decode(&joined); err != nil {
			c.fireError(WrapError(ErrorSerialization, "decode room-joined", err))
			return
		}
		c.onRoomJoined(joined)

	case event.TypeError:
		var protoErr event.Error
		if err := env.Decode(&protoErr); err != nil {
			c.fireError(WrapError(ErrorSerialization, "decode error event", err))
			return
		}
		c.fireError(fromProtocolError(&protoErr))

	case event.TypePong:
		// Liveness only.

	default:
		c.logger.Debug("unknown server event", "type", env.Type)
	}
}

func (c *Channel) fireError(err error) {
	if c.onError != nil && err != nil {
		c.onError(err)
	}
}

func (c *Channel) setState(newState ConnectionState, cause error) {
	c.mu.Lock()
	old := c.state
	if old == StateClosed && newState != StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = newState
	c.mu.Unlock()

	if old == newState {
		return
	}
	if c.onState != nil {
		c.onState(StateEvent{OldState: old, NewState: newState, Err: cause})
	}
}
