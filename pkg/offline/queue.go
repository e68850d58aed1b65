// Package offline keeps a room usable across connectivity loss and restarts.
package offline

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/baderanaas/hushroom/pkg/protocol"
	"github.com/baderanaas/hushroom/pkg/store"
)

const pendingKey = "pending"

// Queue holds messages composed while offline. It is persisted on every change.
type Queue struct {
	items []protocol.Message
	lock  sync.Mutex
	kv    store.KV
}

// NewQueue restores any queue left by a previous run.
func NewQueue(kv store.KV) (*Queue, error) {
	q := &Queue{kv: kv}
	raw, ok, err := kv.Get(pendingKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending queue: %w", err)
	}
	if ok {
		if err := json.Unmarshal([]byte(raw), &q.items); err != nil {
			return nil, fmt.Errorf("failed to decode pending queue: %w", err)
		}
	}
	return q, nil
}

// Push appends msg. The in-memory queue keeps msg even when persisting fails.
func (q *Queue) Push(msg protocol.Message) error {
	q.lock.Lock()
	defer q.lock.Unlock()
	q.items = append(q.items, msg.Clone())
	return q.saveUnlocked()
}

// Drain empties the queue and returns what it held, oldest first.
func (q *Queue) Drain() ([]protocol.Message, error) {
	q.lock.Lock()
	defer q.lock.Unlock()
	items := q.items
	q.items = nil
	return items, q.saveUnlocked()
}

// Clear discards everything.
func (q *Queue) Clear() error {
	_, err := q.Drain()
	return err
}

func (q *Queue) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return len(q.items)
}

// Items returns a copy of the queued messages.
func (q *Queue) Items() []protocol.Message {
	q.lock.Lock()
	defer q.lock.Unlock()
	return protocol.CloneMessages(q.items)
}

func (q *Queue) saveUnlocked() error {
	if len(q.items) == 0 {
		if err := q.kv.Remove(pendingKey); err != nil {
			return fmt.Errorf("failed to clear pending queue: %w", err)
		}
		return nil
	}
	raw, err := json.Marshal(q.items)
	if err != nil {
		return fmt.Errorf("failed to encode pending queue: %w", err)
	}
	if err := q.kv.Set(pendingKey, string(raw)); err != nil {
		return fmt.Errorf("failed to save pending queue: %w", err)
	}
	return nil
}
