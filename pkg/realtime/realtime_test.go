package realtime

import (
	"testing"
	"time"
)

func TestHubFanOut(t *testing.T) {
	h := NewHub(4)
	id1, ch1 := h.Register()
	id2, ch2 := h.Register()
	defer h.Unregister(id1)
	defer h.Unregister(id2)

	h.Publish(NewIndexEvent(KindUpdated, "projects", 3))

	for i, ch := range []<-chan IndexEvent{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.Index != "projects" || ev.Count != 3 || ev.Kind != KindUpdated {
				t.Errorf("listener %d got %+v", i, ev)
			}
			if ev.Timestamp.IsZero() {
				t.Errorf("listener %d got event without timestamp", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("listener %d got nothing", i)
		}
	}
}

func TestHubDropsForSlowListener(t *testing.T) {
	h := NewHub(1)
	id, ch := h.Register()
	defer h.Unregister(id)

	h.Publish(NewIndexEvent(KindUpdated, "chapters", 1))
	h.Publish(NewIndexEvent(KindUpdated, "chapters", 2))

	if ev := <-ch; ev.Count != 1 {
		t.Errorf("expected first event, got %+v", ev)
	}
	select {
	case ev := <-ch:
		t.Errorf("expected second event to be dropped, got %+v", ev)
	default:
	}
}

func TestHubUnregister(t *testing.T) {
	h := NewHub(0)
	id, ch := h.Register()
	if h.Size() != 1 {
		t.Fatalf("Size() = %d", h.Size())
	}

	h.Unregister(id)
	h.Unregister(id)

	if _, ok := <-ch; ok {
		t.Error("channel not closed")
	}
	if h.Size() != 0 {
		t.Errorf("Size() = %d after unregister", h.Size())
	}
	h.Publish(NewIndexEvent(KindPruned, "users", 1))
}
