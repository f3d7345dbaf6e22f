package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	h := NewHub(8)

	ch, cancel := h.Subscribe()
	defer cancel()

	h.Publish(TypeBuildAccepted, BuildEvent{BuildID: "b1"})

	select {
	case ev := <-ch:
		if ev.Type != TypeBuildAccepted {
			t.Errorf("Type = %q, want %q", ev.Type, TypeBuildAccepted)
		}
		if ev.ID != 1 {
			t.Errorf("ID = %d, want 1", ev.ID)
		}
		var payload BuildEvent
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			t.Fatalf("payload unmarshal: %v", err)
		}
		if payload.BuildID != "b1" {
			t.Errorf("BuildID = %q, want b1", payload.BuildID)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestPublishNilDataProducesEmptyObject(t *testing.T) {
	h := NewHub(8)

	h.Publish(TypeSweepCompleted, nil)

	events := h.SnapshotSince(0)
	if len(events) != 1 {
		t.Fatalf("snapshot len = %d, want 1", len(events))
	}
	if string(events[0].Data) != "{}" {
		t.Errorf("Data = %s, want {}", events[0].Data)
	}
}

func TestSnapshotSinceFiltersByID(t *testing.T) {
	h := NewHub(8)

	for i := 0; i < 5; i++ {
		h.Publish(TypeBuildSucceeded, BuildEvent{BuildID: "b"})
	}

	all := h.SnapshotSince(0)
	if len(all) != 5 {
		t.Fatalf("full snapshot len = %d, want 5", len(all))
	}

	tail := h.SnapshotSince(3)
	if len(tail) != 2 {
		t.Fatalf("snapshot since 3 len = %d, want 2", len(tail))
	}
	if tail[0].ID != 4 || tail[1].ID != 5 {
		t.Errorf("tail IDs = %d,%d, want 4,5", tail[0].ID, tail[1].ID)
	}
}

func TestRingBufferOverwritesOldest(t *testing.T) {
	h := NewHub(3)

	for i := 0; i < 5; i++ {
		h.Publish(TypeBuildFailed, nil)
	}

	events := h.SnapshotSince(0)
	if len(events) != 3 {
		t.Fatalf("snapshot len = %d, want 3", len(events))
	}
	if events[0].ID != 3 {
		t.Errorf("oldest retained ID = %d, want 3", events[0].ID)
	}
	if events[2].ID != 5 {
		t.Errorf("newest ID = %d, want 5", events[2].ID)
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	h := NewHub(8)

	ch, cancel := h.Subscribe()
	defer cancel()

	// Overfill the subscriber channel; Publish must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			h.Publish(TypeBuildAccepted, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	// The channel holds only what fit; the rest were dropped.
	if len(ch) > 128 {
		t.Fatalf("channel len = %d, exceeds buffer", len(ch))
	}
}

func TestCancelClosesChannel(t *testing.T) {
	h := NewHub(8)

	ch, cancel := h.Subscribe()
	cancel()

	if _, open := <-ch; open {
		t.Fatal("channel still open after cancel")
	}

	// Publish after cancel must not panic on the removed subscriber.
	h.Publish(TypeBuildAccepted, nil)

	// cancel is idempotent.
	cancel()
}
