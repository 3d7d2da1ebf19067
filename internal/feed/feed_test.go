// Package feed tests for change-feed delivery and cancellation.
package feed

import (
	"context"
	"testing"
	"time"

	"github.com/sitepatrol/backend/internal/models"
)

func testEntry(id string) *models.ChecklistEntry {
	return &models.ChecklistEntry{ID: models.UUID(id), Location: "Toilet Lobby"}
}

func TestPublishDeliversToSubscribers(t *testing.T) {
	f := New(4)
	ch, cancel := f.Subscribe(context.Background())
	defer cancel()

	f.Publish(EventInserted, testEntry("e1"))

	select {
	case event := <-ch:
		if event.Type != EventInserted {
			t.Errorf("event type = %v, want %v", event.Type, EventInserted)
		}
		if event.EntryID != "e1" {
			t.Errorf("event entry id = %q, want e1", event.EntryID)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered within 1s")
	}
}

func TestCancelClosesChannel(t *testing.T) {
	f := New(4)
	ch, cancel := f.Subscribe(context.Background())

	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed within 1s")
	}
	if f.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount = %d after cancel, want 0", f.SubscriberCount())
	}

	// Cancel is idempotent.
	cancel()
}

func TestContextCancellationUnsubscribes(t *testing.T) {
	f := New(4)
	ctx, cancelCtx := context.WithCancel(context.Background())
	ch, _ := f.Subscribe(ctx)

	cancelCtx()

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return // closed as expected
			}
		case <-deadline:
			t.Fatal("subscription not closed after context cancellation")
		}
	}
}

func TestPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	f := New(1)
	_, cancel := f.Subscribe(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		// Nobody drains the subscriber; publishes must still return.
		for i := 0; i < 100; i++ {
			f.Publish(EventUpdated, testEntry("e"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}

func TestPublishDeleted(t *testing.T) {
	f := New(4)
	ch, cancel := f.Subscribe(context.Background())
	defer cancel()

	f.PublishDeleted("gone-1")

	select {
	case event := <-ch:
		if event.Type != EventDeleted || event.EntryID != "gone-1" {
			t.Errorf("event = %+v, want deleted gone-1", event)
		}
		if event.Entry != nil {
			t.Error("deletion event should not carry an entry body")
		}
	case <-time.After(time.Second):
		t.Fatal("no deletion event delivered")
	}
}
