// ABOUTME: Conversation synchronizer keeping local views converged with the gateway
// ABOUTME: Dedupes by message ID, orders by timestamp and reconciles after reconnects

package client

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mentorhq/chatsync/internal/dedupe"
	"github.com/mentorhq/chatsync/internal/event"
	"github.com/mentorhq/chatsync/internal/typing"
)

// SyncState is the lifecycle of one conversation view.
type SyncState int

const (
	// SyncIdle means the conversation is not open.
	SyncIdle SyncState = iota

	// SyncLoading means the initial history fetch is in flight.
	SyncLoading

	// SyncSynced means the view reflects everything the gateway has delivered.
	SyncSynced

	// SyncStale means the transport dropped and the view may be missing
	// messages until the next reconcile.
	SyncStale
)

// String returns the string representation of a SyncState.
func (s SyncState) String() string {
	switch s {
	case SyncIdle:
		return "idle"
	case SyncLoading:
		return "loading"
	case SyncSynced:
		return "synced"
	case SyncStale:
		return "stale"
	default:
		return "unknown"
	}
}

// dedupe cache sizing: IDs are only a shortcut on top of the in-view
// presence check, so modest bounds are fine.
const (
	seenTTL     = 10 * time.Minute
	seenMaxSize = 10_000
)

// view is the local replica of one open conversation.
type view struct {
	state    SyncState
	messages []Message
	typists  map[string]struct{}
}

// Synchronizer maintains ordered, duplicate-free local views of open
// conversations on top of the REST client and the event channel. Sends go
// through REST first; only the stored authoritative copy is merged, never an
// optimistic fabrication. Duplicate and out-of-order delivery on the channel
// are absorbed by ID dedup and sorted insertion, and every reconnect
// triggers a history refetch that closes any gap.
type Synchronizer struct {
	rest    *REST
	channel *Channel
	seen    *dedupe.Cache
	typing  *typing.Coordinator
	logger  *slog.Logger

	onUpdate func(conversationID string)
	onTyping func(conversationID, userID string, typing bool)
	onRead   func(event.ReadReceipt)
	onError  func(error)

	mu    sync.Mutex
	views map[string]*view

	// pageLimit is the window size for the initial and reconcile fetches.
	pageLimit int
}

// NewSynchronizer wires a synchronizer onto the channel's callbacks.
// Register the synchronizer callbacks before calling Channel.Connect.
func NewSynchronizer(rest *REST, channel *Channel, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Synchronizer{
		rest:    rest,
		channel: channel,
		seen:    dedupe.New(seenTTL, seenMaxSize),
		logger:  logger.With("component", "sync"),
		views:   make(map[string]*view),
	}
	s.typing = typing.NewCoordinator(typing.DefaultDebounce, typing.DefaultIdleStop, s.emitTyping)

	channel.OnMessage(s.handleMessage)
	channel.OnTyping(s.handleTyping)
	channel.OnReadReceipt(s.handleReadReceipt)
	channel.OnStateChange(s.handleStateChange)
	channel.OnResync(s.reconcile)
	return s
}

// OnUpdate registers the callback fired whenever a view's messages or state
// change.
func (s *Synchronizer) OnUpdate(fn func(conversationID string)) { s.onUpdate = fn }

// OnTyping registers the callback for peer typing indicator changes.
func (s *Synchronizer) OnTyping(fn func(conversationID, userID string, typing bool)) {
	s.onTyping = fn
}

// OnRead registers the callback for read receipts.
func (s *Synchronizer) OnRead(fn func(event.ReadReceipt)) { s.onRead = fn }

// OnError registers the callback for background errors (failed reconciles,
// protocol errors surfaced by the channel).
func (s *Synchronizer) OnError(fn func(error)) { s.onError = fn }

// SetPageLimit overrides the history window size for open and reconcile
// fetches. Zero means the server default.
func (s *Synchronizer) SetPageLimit(limit int) { s.pageLimit = limit }

// Open joins the conversation's room and loads the most recent history
// window. Safe to call for an already open conversation; it re-fetches.
func (s *Synchronizer) Open(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	v, ok := s.views[conversationID]
	if !ok {
		v = &view{typists: make(map[string]struct{})}
		s.views[conversationID] = v
	}
	v.state = SyncLoading
	s.mu.Unlock()
	s.fireUpdate(conversationID)

	if err := s.channel.JoinRoom(ctx, conversationID); err != nil {
		s.dropView(conversationID)
		return err
	}

	messages, err := s.rest.LatestMessages(ctx, conversationID, s.pageLimit)
	if err != nil {
		s.dropView(conversationID)
		return err
	}

	s.mergeFetched(conversationID, messages)
	return nil
}

// Close leaves the conversation's room and discards the local view.
func (s *Synchronizer) Close(ctx context.Context, conversationID string) error {
	s.dropView(conversationID)
	return s.channel.LeaveRoom(ctx, conversationID)
}

// Shutdown releases synchronizer resources. The channel is closed by its
// owner.
func (s *Synchronizer) Shutdown() {
	s.typing.Close()
	s.seen.Close()
}

// Send persists the message through the REST API and merges the stored
// authoritative copy into the view. The view is never updated before the
// gateway has acknowledged persistence.
func (s *Synchronizer) Send(ctx context.Context, conversationID, content string) (*Message, error) {
	s.typing.Stop(conversationID)

	msg, err := s.rest.SendMessage(ctx, conversationID, content)
	if err != nil {
		return nil, err
	}

	s.merge(conversationID, *msg)
	return msg, nil
}

// MarkRead marks the conversation read; the local ReadBy sets converge via
// the read receipt the gateway broadcasts back.
func (s *Synchronizer) MarkRead(ctx context.Context, conversationID string) (*MarkReadResult, error) {
	return s.rest.MarkRead(ctx, conversationID)
}

// Keystroke reports local typing activity. The coordinator debounces the
// typing-start and schedules the trailing typing-stop.
func (s *Synchronizer) Keystroke(conversationID string) { s.typing.Keystroke(conversationID) }

// StopTyping reports that local typing ended (send or input cleared).
func (s *Synchronizer) StopTyping(conversationID string) { s.typing.Stop(conversationID) }

// Messages returns a snapshot of the view, ascending by (CreatedAt, ID).
func (s *Synchronizer) Messages(conversationID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.views[conversationID]
	if !ok {
		return nil
	}
	out := make([]Message, len(v.messages))
	copy(out, v.messages)
	return out
}

// State returns the view's current sync state.
func (s *Synchronizer) State(conversationID string) SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.views[conversationID]
	if !ok {
		return SyncIdle
	}
	return v.state
}

// TypingUsers returns the peers currently typing in the conversation.
func (s *Synchronizer) TypingUsers(conversationID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.views[conversationID]
	if !ok {
		return nil
	}
	users := make([]string, 0, len(v.typists))
	for u := range v.typists {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// handleMessage merges a live message-received event into its view.
func (s *Synchronizer) handleMessage(msg event.Message) {
	s.mu.Lock()
	_, open := s.views[msg.ConversationID]
	s.mu.Unlock()
	if !open {
		return
	}

	// Cheap shortcut; merge still checks in-view presence in case the
	// cache evicted the ID.
	if s.seen.SeenOrMark(msg.ID) {
		return
	}

	s.merge(msg.ConversationID, Message{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Sender:         msg.Sender,
		Content:        msg.Content,
		ReadBy:         msg.ReadBy,
		CreatedAt:      msg.CreatedAt,
	})
}

// handleTyping updates the view's typist set.
func (s *Synchronizer) handleTyping(t event.Typing, started bool) {
	s.mu.Lock()
	v, ok := s.views[t.ConversationID]
	if ok {
		if started {
			v.typists[t.UserID] = struct{}{}
		} else {
			delete(v.typists, t.UserID)
		}
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	if s.onTyping != nil {
		s.onTyping(t.ConversationID, t.UserID, started)
	}
}

// handleReadReceipt applies a receipt to every message the reader had not
// yet read, the reader's own messages included, mirroring the store.
func (s *Synchronizer) handleReadReceipt(receipt event.ReadReceipt) {
	s.mu.Lock()
	v, ok := s.views[receipt.ConversationID]
	if ok {
		for i := range v.messages {
			m := &v.messages[i]
			if !containsUser(m.ReadBy, receipt.UserID) {
				m.ReadBy = append(m.ReadBy, receipt.UserID)
			}
		}
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	if s.onRead != nil {
		s.onRead(receipt)
	}
	s.fireUpdate(receipt.ConversationID)
}

// handleStateChange marks open views stale when the transport drops.
func (s *Synchronizer) handleStateChange(ev StateEvent) {
	if ev.NewState != StateReconnecting && ev.NewState != StateDisconnected {
		return
	}

	s.mu.Lock()
	stale := make([]string, 0, len(s.views))
	for id, v := range s.views {
		if v.state == SyncSynced || v.state == SyncLoading {
			v.state = SyncStale
			stale = append(stale, id)
		}
		// Indicators are meaningless across an outage.
		for u := range v.typists {
			delete(v.typists, u)
		}
	}
	s.mu.Unlock()

	for _, id := range stale {
		s.fireUpdate(id)
	}
}

// reconcile refetches the latest window of every open conversation after a
// reconnect. The channel has already rejoined the rooms; merging by ID
// closes any gap from messages missed during the outage.
func (s *Synchronizer) reconcile() {
	s.mu.Lock()
	open := make([]string, 0, len(s.views))
	for id := range s.views {
		open = append(open, id)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, conversationID := range open {
		messages, err := s.rest.LatestMessages(ctx, conversationID, s.pageLimit)
		if err != nil {
			s.logger.Warn("reconcile fetch failed", "conversation_id", conversationID, "error", err)
			s.fireError(err)
			continue
		}
		s.mergeFetched(conversationID, messages)
	}
}

// mergeFetched merges a fetched history window and marks the view synced.
func (s *Synchronizer) mergeFetched(conversationID string, messages []Message) {
	s.mu.Lock()
	v, ok := s.views[conversationID]
	if ok {
		for _, m := range messages {
			s.seen.Mark(m.ID)
			v.messages = upsertMessage(v.messages, m)
		}
		v.state = SyncSynced
	}
	s.mu.Unlock()
	if ok {
		s.fireUpdate(conversationID)
	}
}

// merge inserts one message into its view, keeping order and uniqueness.
func (s *Synchronizer) merge(conversationID string, m Message) {
	s.mu.Lock()
	v, ok := s.views[conversationID]
	if ok {
		s.seen.Mark(m.ID)
		v.messages = upsertMessage(v.messages, m)
		// A live merge into a stale or loading view does not resolve a
		// potential gap; only a fetch does.
		if v.state != SyncStale && v.state != SyncLoading {
			v.state = SyncSynced
		}
		// The sender is definitionally no longer typing.
		delete(v.typists, m.Sender)
	}
	s.mu.Unlock()
	if ok {
		s.fireUpdate(conversationID)
	}
}

// dropView discards the local view.
func (s *Synchronizer) dropView(conversationID string) {
	s.mu.Lock()
	delete(s.views, conversationID)
	s.mu.Unlock()
}

// emitTyping is the coordinator's signal sink, relaying over the channel.
func (s *Synchronizer) emitTyping(conversationID string, typing bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var err error
	if typing {
		err = s.channel.TypingStart(ctx, conversationID)
	} else {
		err = s.channel.TypingStop(ctx, conversationID)
	}
	if err != nil {
		s.logger.Debug("typing signal failed", "conversation_id", conversationID, "error", err)
	}
}

func (s *Synchronizer) fireUpdate(conversationID string) {
	if s.onUpdate != nil {
		s.onUpdate(conversationID)
	}
}

func (s *Synchronizer) fireError(err error) {
	if s.onError != nil && err != nil {
		s.onError(err)
	}
}

// upsertMessage inserts m in (CreatedAt, ID) order, or replaces the stored
// copy if the ID is already present (its ReadBy set may have grown).
// Idempotent and insensitive to delivery order.
func upsertMessage(list []Message, m Message) []Message {
	for i := range list {
		if list[i].ID == m.ID {
			list[i] = m
			return list
		}
	}

	pos := sort.Search(len(list), func(i int) bool {
		if !list[i].CreatedAt.Equal(m.CreatedAt) {
			return list[i].CreatedAt.After(m.CreatedAt)
		}
		return list[i].ID > m.ID
	})

	list = append(list, Message{})
	copy(list[pos+1:], list[pos:])
	list[pos] = m
	return list
}

func containsUser(users []string, target string) bool {
	for _, u := range users {
		if u == target {
			return true
		}
	}
	return false
}
