// Package feed provides a typed change feed of checklist entry mutations.
// UI surfaces subscribe to refresh their lists; the fraud and GPS logic never
// depends on this channel existing.
package feed

import (
	"context"
	"sync"
	"time"

	"github.com/sitepatrol/backend/internal/models"
)

// EventType identifies the kind of row change.
type EventType string

const (
	EventInserted EventType = "inserted"
	EventUpdated  EventType = "updated"
	EventDeleted  EventType = "deleted"
)

// Event is one row-change notification.
type Event struct {
	Type      EventType              `json:"type"`
	Entry     *models.ChecklistEntry `json:"entry,omitempty"`
	EntryID   string                 `json:"entry_id"`
	Timestamp int64                  `json:"timestamp"`
}

// Feed fans row-change events out to subscribers. Publishing never blocks:
// a subscriber whose buffer is full misses the event rather than stalling
// the submission pipeline.
type Feed struct {
	mu          sync.RWMutex
	subscribers map[int]chan Event
	nextID      int
	bufferSize  int
}

// New creates a Feed. bufferSize <= 0 uses a default of 16 events per
// subscriber.
func New(bufferSize int) *Feed {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &Feed{
		subscribers: make(map[int]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a subscriber. The returned channel is closed when the
// context is cancelled or the cancel function is called.
func (f *Feed) Subscribe(ctx context.Context) (<-chan Event, func()) {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	ch := make(chan Event, f.bufferSize)
	f.subscribers[id] = ch
	f.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			if sub, ok := f.subscribers[id]; ok {
				delete(f.subscribers, id)
				close(sub)
			}
			f.mu.Unlock()
		})
	}

	go func() {
		<-ctx.Done()
		cancel()
	}()

	return ch, cancel
}

// Publish delivers an event to all current subscribers without blocking.
func (f *Feed) Publish(eventType EventType, entry *models.ChecklistEntry) {
	event := Event{
		Type:      eventType,
		Entry:     entry,
		Timestamp: time.Now().Unix(),
	}
	if entry != nil {
		event.EntryID = entry.ID.String()
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ch := range f.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber buffer full; drop rather than stall writers.
		}
	}
}

// PublishDeleted delivers a deletion notice carrying only the entry id.
func (f *Feed) PublishDeleted(entryID string) {
	event := Event{
		Type:      EventDeleted,
		EntryID:   entryID,
		Timestamp: time.Now().Unix(),
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ch := range f.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (f *Feed) SubscriberCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subscribers)
}
