package notify

import (
	"context"
	"sync"
	"time"

	"opsdesk.org/internal/obs"
)

// Event names emitted by the control core. The email/notification sender
// subscribes to these; sending itself happens outside this service.
const (
	EventCredentialShared  = "credential.shared"
	EventCredentialRevoked = "credential.share_revoked"
	EventInvoiceApproved   = "invoice.approved"
	EventInvoiceRejected   = "invoice.rejected"
)

// Event describes one outbound notification.
type Event struct {
	Name       string            `json:"name"`
	SubjectID  string            `json:"subject_id"`
	ActorID    string            `json:"actor_id"`
	Fields     map[string]string `json:"fields,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Emitter publishes outbound events. Emission is best-effort and must never
// block a primary operation.
type Emitter interface {
	Emit(evt Event)
}

// Hub fans events out to all active subscribers.
type Hub struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// NewHub initialises an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (h *Hub) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Emit fans the event out to all subscribers.
func (h *Hub) Emit(evt Event) {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- evt:
		default:
			// Drop when a subscriber is slow to avoid blocking.
			obs.NotifyEventDropped()
		}
	}
}

// LogEmitter writes each event as a structured log line.
type LogEmitter struct{}

func (LogEmitter) Emit(evt Event) {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	obs.LogEvent(map[string]any{
		"ts":         evt.OccurredAt.Format(time.RFC3339Nano),
		"type":       "event",
		"event":      evt.Name,
		"subject_id": evt.SubjectID,
		"actor_id":   evt.ActorID,
		"fields":     evt.Fields,
	})
}

// Fanout combines several emitters into one.
type Fanout []Emitter

func (f Fanout) Emit(evt Event) {
	for _, e := range f {
		if e != nil {
			e.Emit(evt)
		}
	}
}
