// Package queue tracks in-flight captures so presentation layers can show progress.
package queue

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pbaille/marks/internal/domain"
)

// EventKind describes what happened to a queue entry
type EventKind string

const (
	Added   EventKind = "added"
	Updated EventKind = "updated"
	Removed EventKind = "removed"
)

// Event is sent to subscribers on every change
type Event struct {
	Kind EventKind        `json:"kind"`
	Item domain.MarkQueue `json:"item"`
}

// Queue is an in-memory list of in-flight captures. Entries are never persisted.
type Queue struct {
	mu    sync.RWMutex
	items []domain.MarkQueue
	subs  map[chan Event]struct{}
}

func New() *Queue {
	return &Queue{subs: make(map[chan Event]struct{})}
}

// Add starts tracking a capture and returns its entry
func (q *Queue) Add(t domain.MarkType) domain.MarkQueue {
	item := domain.MarkQueue{
		QueueID:   uuid.New(),
		Type:      t,
		StartTime: time.Now(),
	}

	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()

	q.publish(Event{Kind: Added, Item: item})
	return item
}

// Update sets the progress label of an entry; unknown ids are ignored
func (q *Queue) Update(id uuid.UUID, progress string) {
	q.mu.Lock()
	var item domain.MarkQueue
	found := false
	for i := range q.items {
		if q.items[i].QueueID == id {
			q.items[i].Progress = progress
			item = q.items[i]
			found = true
			break
		}
	}
	q.mu.Unlock()

	if found {
		q.publish(Event{Kind: Updated, Item: item})
	}
}

// Remove stops tracking an entry
func (q *Queue) Remove(id uuid.UUID) {
	q.mu.Lock()
	var item domain.MarkQueue
	found := false
	for i := range q.items {
		if q.items[i].QueueID == id {
			item = q.items[i]
			q.items = append(q.items[:i], q.items[i+1:]...)
			found = true
			break
		}
	}
	q.mu.Unlock()

	if found {
		q.publish(Event{Kind: Removed, Item: item})
	}
}

// List returns a copy of the current entries in start order
func (q *Queue) List() []domain.MarkQueue {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]domain.MarkQueue, len(q.items))
	copy(out, q.items)
	return out
}

// Len returns the number of in-flight entries
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items)
}

// Subscribe returns a buffered channel of events and a function that
// unsubscribes and closes it. Slow subscribers drop events.
func (q *Queue) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	q.mu.Lock()
	q.subs[ch] = struct{}{}
	q.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			q.mu.Lock()
			delete(q.subs, ch)
			q.mu.Unlock()
			close(ch)
		})
	}
}

func (q *Queue) publish(ev Event) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	for ch := range q.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
