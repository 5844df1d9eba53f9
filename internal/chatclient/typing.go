// ABOUTME: Typing indicator state for the client side of a conversation
// ABOUTME: Tracks peers with a staleness sweep and debounces outbound events

package chatclient

import (
	"sync"
	"time"
)

// typingTracker remembers which peers are currently typing. Indicators
// are soft state: a typing event with no matching stop_typing must not
// leave a stale indicator forever, so a periodic sweep expires entries
// older than the window and synthesizes the stop callback.
type typingTracker struct {
	mu      sync.Mutex
	active  map[string]time.Time
	window  time.Duration
	onStop  func(userID string)
	done    chan struct{}
	stopped bool
}

func newTypingTracker(window time.Duration, onStop func(userID string)) *typingTracker {
	t := &typingTracker{
		active: make(map[string]time.Time),
		window: window,
		onStop: onStop,
		done:   make(chan struct{}),
	}
	go t.sweep()
	return t
}

// set records that a peer is typing now. Returns true if the peer was
// not already marked, so the caller can fire the typing callback once
// instead of on every refresh.
func (t *typingTracker) set(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, already := t.active[userID]
	t.active[userID] = time.Now()
	return !already
}

// clear removes a peer. Returns true if the peer was marked.
func (t *typingTracker) clear(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.active[userID]; !ok {
		return false
	}
	delete(t.active, userID)
	return true
}

// typingUsers returns the peers currently marked as typing.
func (t *typingTracker) typingUsers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	users := make([]string, 0, len(t.active))
	for userID := range t.active {
		users = append(users, userID)
	}
	return users
}

func (t *typingTracker) sweep() {
	interval := t.window / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.expire()
		case <-t.done:
			return
		}
	}
}

func (t *typingTracker) expire() {
	t.mu.Lock()
	var expired []string
	now := time.Now()
	for userID, last := range t.active {
		if now.Sub(last) > t.window {
			delete(t.active, userID)
			expired = append(expired, userID)
		}
	}
	t.mu.Unlock()

	// Callbacks run outside the lock; the handler may call back in.
	for _, userID := range expired {
		if t.onStop != nil {
			t.onStop(userID)
		}
	}
}

func (t *typingTracker) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.stopped {
		close(t.done)
		t.stopped = true
	}
}

// typingNotifier debounces the local user's outbound typing signals.
// Keystrokes call activity; the notifier emits a single typing frame,
// then a stop_typing frame once input goes idle for the window or the
// input is cleared.
type typingNotifier struct {
	mu      sync.Mutex
	window  time.Duration
	emit    func(typing bool)
	typing  bool
	idle    *time.Timer
	stopped bool
}

func newTypingNotifier(window time.Duration, emit func(typing bool)) *typingNotifier {
	return &typingNotifier{window: window, emit: emit}
}

// activity reports the current input state. A non-empty input starts or
// refreshes the typing window; an empty input ends it immediately.
func (n *typingNotifier) activity(inputEmpty bool) {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return
	}

	if inputEmpty {
		fire := n.typing
		n.typing = false
		if n.idle != nil {
			n.idle.Stop()
			n.idle = nil
		}
		n.mu.Unlock()
		if fire {
			n.emit(false)
		}
		return
	}

	fire := !n.typing
	n.typing = true
	if n.idle == nil {
		n.idle = time.AfterFunc(n.window, n.idleExpired)
	} else {
		n.idle.Reset(n.window)
	}
	n.mu.Unlock()

	if fire {
		n.emit(true)
	}
}

func (n *typingNotifier) idleExpired() {
	n.mu.Lock()
	if n.stopped || !n.typing {
		n.mu.Unlock()
		return
	}
	n.typing = false
	n.idle = nil
	n.mu.Unlock()

	n.emit(false)
}

func (n *typingNotifier) stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stopped = true
	if n.idle != nil {
		n.idle.Stop()
		n.idle = nil
	}
}
