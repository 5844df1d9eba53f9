// ABOUTME: Ordered local message log with idempotent merge by message id
// ABOUTME: Read receipts apply only to own-sent messages read by the peer

package chatclient

import (
	"sort"
	"sync"

	"github.com/pawhaven/chat-gateway/internal/store"
)

// MessageLog is the client's local, ordered view of a conversation.
// Messages arrive from two directions: pushed new_message events and REST
// re-syncs after a dropped connection. Both paths merge by message id, so
// applying the same message twice never duplicates it.
type MessageLog struct {
	mu       sync.RWMutex
	selfID   string
	messages []*store.Message
	byID     map[string]*store.Message
}

// NewMessageLog creates an empty log for the given local user.
func NewMessageLog(selfID string) *MessageLog {
	return &MessageLog{
		selfID: selfID,
		byID:   make(map[string]*store.Message),
	}
}

// Insert merges one message into the log. Returns true if the message was
// new, false if a message with the same id was already present.
func (l *MessageLog) Insert(msg *store.Message) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.insertLocked(msg)
}

// Merge folds a batch (typically a REST re-fetch) into the log and
// returns how many messages were new.
func (l *MessageLog) Merge(msgs []*store.Message) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	added := 0
	for _, msg := range msgs {
		if l.insertLocked(msg) {
			added++
		}
	}
	return added
}

func (l *MessageLog) insertLocked(msg *store.Message) bool {
	if existing, ok := l.byID[msg.ID]; ok {
		// Same identity: keep the copy but let a read flag catch up
		if msg.IsRead && !existing.IsRead {
			existing.IsRead = true
		}
		return false
	}

	copied := *msg
	l.byID[copied.ID] = &copied

	// Insert in chronological position; events can arrive out of order
	// around a reconnect re-sync.
	idx := sort.Search(len(l.messages), func(i int) bool {
		if l.messages[i].CreatedAt.Equal(copied.CreatedAt) {
			return l.messages[i].ID > copied.ID
		}
		return l.messages[i].CreatedAt.After(copied.CreatedAt)
	})
	l.messages = append(l.messages, nil)
	copy(l.messages[idx+1:], l.messages[idx:])
	l.messages[idx] = &copied
	return true
}

// ApplyRead marks the given ids read on behalf of readerID. Per the
// read-receipt invariant, only messages the local user sent are affected,
// and a receipt from the local user itself is ignored. Returns the ids
// that actually flipped.
func (l *MessageLog) ApplyRead(messageIDs []string, readerID string) []string {
	if readerID == l.selfID {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var flipped []string
	for _, id := range messageIDs {
		msg, ok := l.byID[id]
		if !ok || msg.IsRead {
			continue
		}
		if msg.SenderID != l.selfID {
			continue
		}
		msg.IsRead = true
		flipped = append(flipped, id)
	}
	return flipped
}

// Messages returns a copy of the log in chronological order.
func (l *MessageLog) Messages() []*store.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*store.Message, len(l.messages))
	for i, msg := range l.messages {
		copied := *msg
		out[i] = &copied
	}
	return out
}

// Len returns the number of messages in the log.
func (l *MessageLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}
