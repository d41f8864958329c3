package notify

import (
	"context"
	"testing"
	"time"
)

func TestHubFanout(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := h.Subscribe(ctx)
	b := h.Subscribe(ctx)

	h.Emit(Event{Name: EventCredentialShared, SubjectID: "c1", ActorID: "u1"})

	for _, ch := range []<-chan Event{a, b} {
		select {
		case evt := <-ch:
			if evt.Name != EventCredentialShared || evt.SubjectID != "c1" {
				t.Fatalf("event = %+v", evt)
			}
			if evt.OccurredAt.IsZero() {
				t.Fatalf("occurred_at not stamped")
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber did not receive the event")
		}
	}
}

func TestHubUnsubscribeOnContextEnd(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	ch := h.Subscribe(ctx)
	cancel()

	deadline := time.After(time.Second)
	for {
		select {
		case _, open := <-ch:
			if !open {
				return
			}
		case <-deadline:
			t.Fatalf("channel not closed after context end")
		}
	}
}

// A subscriber that stops draining must not block emitters.
func TestHubDropsForSlowSubscriber(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := h.Subscribe(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			h.Emit(Event{Name: EventInvoiceApproved, SubjectID: "i1", ActorID: "a1"})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("emit blocked on a slow subscriber")
	}
	if len(ch) == 0 {
		t.Fatalf("buffered events missing")
	}
}

func TestFanoutSkipsNil(t *testing.T) {
	var got []string
	rec := emitterFunc(func(evt Event) { got = append(got, evt.Name) })
	f := Fanout{nil, rec, rec}
	f.Emit(Event{Name: EventInvoiceRejected})
	if len(got) != 2 {
		t.Fatalf("fanout reached %d emitters, want 2", len(got))
	}
}

type emitterFunc func(Event)

func (f emitterFunc) Emit(evt Event) { f(evt) }
