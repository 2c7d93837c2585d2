// ABOUTME: Receiver-side typing state with hard expiry per conversation/user
// ABOUTME: Entries are cleared by an explicit stop or by timeout, never by waiting for more events

package typing

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultExpiry is the hard timeout after which a typing entry is cleared
// even if no stop signal ever arrives (e.g. the sender disconnected
// abruptly).
const DefaultExpiry = 5 * time.Second

// Tracker maintains the set of users currently typing in each conversation.
// Each entry carries a timer armed for the expiry window; a repeated start
// re-arms it, an explicit stop cancels it, and expiry fires the onExpire
// callback so the owner can broadcast a synthetic stop.
type Tracker struct {
	mu       sync.Mutex
	expiry   time.Duration
	entries  map[string]map[string]*entry // conversationID -> userID
	onExpire func(conversationID, userID string)
	logger   *slog.Logger
	closed   bool
}

// entry is one user's typing state. gen increments on every re-arm so a
// stale expiry callback that was already waiting on the mutex when the
// entry was refreshed cannot remove it.
type entry struct {
	timer *time.Timer
	gen   uint64
}

// NewTracker creates a tracker. expiry <= 0 selects DefaultExpiry; onExpire
// may be nil. Pass nil logger for default.
func NewTracker(expiry time.Duration, onExpire func(conversationID, userID string), logger *slog.Logger) *Tracker {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		expiry:   expiry,
		entries:  make(map[string]map[string]*entry),
		onExpire: onExpire,
		logger:   logger.With("component", "typing"),
	}
}

// Start records that userID is typing in the conversation, arming (or
// re-arming) the expiry timer. Returns true if this is a new entry.
func (t *Tracker) Start(conversationID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return false
	}

	users, ok := t.entries[conversationID]
	if !ok {
		users = make(map[string]*entry)
		t.entries[conversationID] = users
	}

	if e, exists := users[userID]; exists {
		// Arm a fresh timer under a new generation instead of Reset: a
		// pending expiry may already have fired and be waiting on the
		// mutex, and it must not clear the refreshed entry.
		e.timer.Stop()
		e.gen++
		gen := e.gen
		e.timer = time.AfterFunc(t.expiry, func() {
			t.expire(conversationID, userID, gen)
		})
		return false
	}

	e := &entry{}
	e.timer = time.AfterFunc(t.expiry, func() {
		t.expire(conversationID, userID, 0)
	})
	users[userID] = e
	return true
}

// Stop removes userID from the conversation's typing set. Returns true if
// an entry was present.
func (t *Tracker) Stop(conversationID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(conversationID, userID)
}

// StopAll removes userID from every conversation's typing set and returns
// the affected conversation IDs. Used on disconnect so the room can be told
// the user stopped typing.
func (t *Tracker) StopAll(userID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var affected []string
	for conversationID := range t.entries {
		if t.removeLocked(conversationID, userID) {
			affected = append(affected, conversationID)
		}
	}
	sort.Strings(affected)
	return affected
}

// Typing returns the users currently typing in the conversation, sorted.
func (t *Tracker) Typing(conversationID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	users := make([]string, 0, len(t.entries[conversationID]))
	for user := range t.entries[conversationID] {
		users = append(users, user)
	}
	sort.Strings(users)
	return users
}

// Close stops all timers. Expiry callbacks no longer fire.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	for conversationID, users := range t.entries {
		for userID, e := range users {
			e.timer.Stop()
			delete(users, userID)
		}
		delete(t.entries, conversationID)
	}
}

// expire runs on the timer goroutine when an entry times out. gen identifies
// the arming that scheduled this callback; a mismatch means the entry was
// refreshed in the meantime and this expiry is stale.
func (t *Tracker) expire(conversationID, userID string, gen uint64) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	if e, ok := t.entries[conversationID][userID]; !ok || e.gen != gen {
		t.mu.Unlock()
		return
	}
	removed := t.removeLocked(conversationID, userID)
	t.mu.Unlock()

	if !removed {
		return
	}
	t.logger.Debug("typing entry expired",
		"conversation_id", conversationID,
		"user_id", userID)
	if t.onExpire != nil {
		t.onExpire(conversationID, userID)
	}
}

// removeLocked deletes an entry and stops its timer. Must be called with mu
// held.
func (t *Tracker) removeLocked(conversationID, userID string) bool {
	users, ok := t.entries[conversationID]
	if !ok {
		return false
	}
	e, exists := users[userID]
	if !exists {
		return false
	}
	e.timer.Stop()
	delete(users, userID)
	if len(users) == 0 {
		delete(t.entries, conversationID)
	}
	return true
}
