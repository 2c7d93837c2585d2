// ABOUTME: In-memory presence and room registry for live event fan-out
// ABOUTME: Tracks which connections joined which conversation and broadcasts to them

package room

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/mentorhq/chatsync/internal/event"
)

const (
	// subscriberBufferSize is the channel buffer for each subscription.
	// A slow consumer loses events rather than blocking the room; the
	// store remains the durable record.
	subscriberBufferSize = 64
)

// ErrNotParticipant is returned by Join when the user does not belong to the
// conversation. No room state changes on a rejected join.
var ErrNotParticipant = errors.New("user is not a participant of this conversation")

// ParticipantChecker is what the registry needs from the store to authorize
// a join.
type ParticipantChecker interface {
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
}

// Subscription is one live connection's registration handle. A connection
// holds a single Subscription and joins it to any number of rooms; events
// from all of them arrive on the same channel.
type Subscription struct {
	id     string
	userID string
	ch     chan *event.Envelope
	done   chan struct{}
}

// NewSubscription creates a subscription for a connection owned by userID.
func NewSubscription(userID string) *Subscription {
	return &Subscription{
		id:     uuid.New().String(),
		userID: userID,
		ch:     make(chan *event.Envelope, subscriberBufferSize),
		done:   make(chan struct{}),
	}
}

// ID returns the subscription identifier, used for broadcast exclusion.
func (s *Subscription) ID() string { return s.id }

// UserID returns the owning user.
func (s *Subscription) UserID() string { return s.userID }

// Events returns the channel events are delivered on. It is never closed;
// consumers select on Done to detect removal, which keeps broadcasts racing
// with LeaveAll from ever sending on a closed channel.
func (s *Subscription) Events() <-chan *event.Envelope { return s.ch }

// Done is closed when the subscription is removed via LeaveAll or registry
// Close.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Registry tracks which live connections are interested in which
// conversation. It is the only mutable shared structure on the server side;
// all mutation happens under a single RWMutex and event sends happen outside
// the lock.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[string]map[string]*Subscription // conversationID -> subID -> subscription
	subs    map[string]*subState                // subID -> joined rooms
	checker ParticipantChecker
	logger  *slog.Logger
}

type subState struct {
	sub   *Subscription
	rooms map[string]struct{}
}

// NewRegistry creates a registry. Pass nil logger for default.
func NewRegistry(checker ParticipantChecker, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		rooms:   make(map[string]map[string]*Subscription),
		subs:    make(map[string]*subState),
		checker: checker,
		logger:  logger.With("component", "room"),
	}
}

// Join registers the subscription's interest in a conversation after
// verifying its user is one of the participants. Joining a room twice is a
// no-op. Store errors (including store.ErrNotFound for unknown
// conversations) pass through unchanged.
func (r *Registry) Join(ctx context.Context, conversationID string, sub *Subscription) error {
	ok, err := r.checker.IsParticipant(ctx, conversationID, sub.userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotParticipant
	}

	r.mu.Lock()
	if _, exists := r.rooms[conversationID]; !exists {
		r.rooms[conversationID] = make(map[string]*Subscription)
	}
	r.rooms[conversationID][sub.id] = sub

	state, exists := r.subs[sub.id]
	if !exists {
		state = &subState{sub: sub, rooms: make(map[string]struct{})}
		r.subs[sub.id] = state
	}
	state.rooms[conversationID] = struct{}{}
	r.mu.Unlock()

	r.logger.Debug("subscription joined room",
		"conversation_id", conversationID,
		"sub_id", sub.id,
		"user_id", sub.userID)

	return nil
}

// Leave removes the subscription from one room. The event channel stays
// open; the subscription may still be joined elsewhere.
func (r *Registry) Leave(conversationID, subID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(conversationID, subID)
}

// LeaveAll removes the subscription from every room it joined and closes its
// done channel. Called when the connection disconnects.
func (r *Registry) LeaveAll(subID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.subs[subID]
	if !ok {
		return
	}
	for conversationID := range state.rooms {
		r.leaveLocked(conversationID, subID)
	}
	if _, still := r.subs[subID]; still {
		delete(r.subs, subID)
	}
	close(state.sub.done)

	r.logger.Debug("subscription removed", "sub_id", subID)
}

// leaveLocked removes one registration. Must be called with mu held.
func (r *Registry) leaveLocked(conversationID, subID string) {
	subs, ok := r.rooms[conversationID]
	if !ok {
		return
	}
	if _, exists := subs[subID]; !exists {
		return
	}

	delete(subs, subID)
	if len(subs) == 0 {
		delete(r.rooms, conversationID)
	}

	if state, ok := r.subs[subID]; ok {
		delete(state.rooms, conversationID)
		if len(state.rooms) == 0 {
			delete(r.subs, subID)
		}
	}

	r.logger.Debug("subscription left room",
		"conversation_id", conversationID,
		"sub_id", subID)
}

// Broadcast delivers an event to every subscription in the conversation's
// room except (optionally) excludeSubID. Delivery is fire-and-forget: a full
// channel drops the event for that subscription, never blocks or retries.
func (r *Registry) Broadcast(conversationID string, env *event.Envelope, excludeSubID string) {
	r.mu.RLock()
	subs, ok := r.rooms[conversationID]
	if !ok || len(subs) == 0 {
		r.mu.RUnlock()
		return
	}

	// Copy target channels under read lock to avoid holding it during sends
	targets := make([]chan *event.Envelope, 0, len(subs))
	for id, sub := range subs {
		if excludeSubID != "" && id == excludeSubID {
			continue
		}
		targets = append(targets, sub.ch)
	}
	r.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- env:
		default:
			r.logger.Debug("dropped event for slow subscriber",
				"conversation_id", conversationID,
				"event_type", env.Type)
		}
	}
}

// Members returns the user IDs currently joined to the conversation's room.
// Multiple connections for the same user are deduplicated.
func (r *Registry) Members(conversationID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var users []string
	for _, sub := range r.rooms[conversationID] {
		if _, dup := seen[sub.userID]; dup {
			continue
		}
		seen[sub.userID] = struct{}{}
		users = append(users, sub.userID)
	}
	return users
}

// Close shuts down the registry, closing every subscription's done channel.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for subID, state := range r.subs {
		close(state.sub.done)
		delete(r.subs, subID)
	}
	r.rooms = make(map[string]map[string]*Subscription)

	r.logger.Debug("room registry closed")
}
