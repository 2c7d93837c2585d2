// ABOUTME: Sender-side typing signal debouncing per conversation
// ABOUTME: Emits at most one start per burst and schedules a stop after an idle window

package typing

import (
	"sync"
	"time"
)

// Defaults for the sender-side windows. Overridable per Coordinator.
const (
	DefaultDebounce = 2 * time.Second
	DefaultIdleStop = 3 * time.Second
)

// Coordinator debounces outgoing typing signals. A burst of keystrokes
// produces a single start signal; every keystroke pushes back the scheduled
// stop, which fires once the user has been idle for the idle window.
type Coordinator struct {
	mu       sync.Mutex
	debounce time.Duration
	idle     time.Duration
	emit     func(conversationID string, typing bool)
	bursts   map[string]*burst // conversationID -> active burst
	closed   bool
}

type burst struct {
	lastStart time.Time
	stopTimer *time.Timer
}

// NewCoordinator creates a coordinator that calls emit with typing=true for
// start signals and typing=false for stop signals. Non-positive windows
// select the defaults.
func NewCoordinator(debounce, idle time.Duration, emit func(conversationID string, typing bool)) *Coordinator {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if idle <= 0 {
		idle = DefaultIdleStop
	}
	return &Coordinator{
		debounce: debounce,
		idle:     idle,
		emit:     emit,
		bursts:   make(map[string]*burst),
	}
}

// Keystroke records typing activity in the conversation. The start signal is
// suppressed if one was emitted within the debounce window; the stop signal
// is rescheduled either way.
func (c *Coordinator) Keystroke(conversationID string) {
	now := time.Now()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	b, active := c.bursts[conversationID]
	emitStart := false
	if !active {
		b = &burst{}
		c.bursts[conversationID] = b
		emitStart = true
	} else if now.Sub(b.lastStart) >= c.debounce {
		emitStart = true
	}
	if emitStart {
		b.lastStart = now
	}

	if b.stopTimer != nil {
		b.stopTimer.Stop()
	}
	b.stopTimer = time.AfterFunc(c.idle, func() {
		c.idleStop(conversationID)
	})
	c.mu.Unlock()

	if emitStart {
		c.emit(conversationID, true)
	}
}

// Stop ends the burst immediately, emitting a stop signal if one was active.
func (c *Coordinator) Stop(conversationID string) {
	c.mu.Lock()
	b, active := c.bursts[conversationID]
	if active {
		if b.stopTimer != nil {
			b.stopTimer.Stop()
		}
		delete(c.bursts, conversationID)
	}
	c.mu.Unlock()

	if active {
		c.emit(conversationID, false)
	}
}

// Close cancels all pending stop timers without emitting.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	for conversationID, b := range c.bursts {
		if b.stopTimer != nil {
			b.stopTimer.Stop()
		}
		delete(c.bursts, conversationID)
	}
}

// idleStop runs on the timer goroutine when the idle window elapses.
func (c *Coordinator) idleStop(conversationID string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	_, active := c.bursts[conversationID]
	if active {
		delete(c.bursts, conversationID)
	}
	c.mu.Unlock()

	if active {
		c.emit(conversationID, false)
	}
}
