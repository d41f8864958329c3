package audit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"opsdesk.org/internal/ids"
	"opsdesk.org/internal/obs"
)

// SubjectType names the record family an entry refers to.
type SubjectType string

const (
	SubjectCredential SubjectType = "credential"
	SubjectInvoice    SubjectType = "invoice"
)

// Entry is one append-only audit record. Entries are never mutated or
// deleted.
type Entry struct {
	ID          string      `json:"id"`
	SubjectType SubjectType `json:"subject_type"`
	SubjectID   string      `json:"subject_id"`
	ActorID     string      `json:"actor_id"`
	Action      string      `json:"action"`
	Field       string      `json:"field,omitempty"`
	OccurredAt  time.Time   `json:"occurred_at"`
}

// Store persists audit entries. Append is the only write.
type Store interface {
	Append(ctx context.Context, e *Entry) error
	// ListBySubject returns entries for one subject, most recent first.
	ListBySubject(ctx context.Context, st SubjectType, subjectID string, limit int) ([]Entry, error)
}

const defaultRetryInterval = 5 * time.Second

// Recorder appends audit entries. An append failure never fails the caller:
// the entry is queued and retried out-of-band until the store accepts it.
type Recorder struct {
	store         Store
	now           func() time.Time
	retryInterval time.Duration

	mu      sync.Mutex
	pending []Entry
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// WithRetryInterval overrides the out-of-band retry cadence.
func WithRetryInterval(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.retryInterval = d
		}
	}
}

// NewRecorder constructs a Recorder over the given store.
func NewRecorder(store Store, opts ...RecorderOption) (*Recorder, error) {
	if store == nil {
		return nil, errors.New("audit: store is required")
	}
	r := &Recorder{
		store:         store,
		now:           time.Now,
		retryInterval: defaultRetryInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Record appends an entry. Invalid entries are dropped with a log line;
// storage failures queue the entry for retry instead of surfacing to the
// caller.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	e.SubjectID = strings.TrimSpace(e.SubjectID)
	e.ActorID = strings.TrimSpace(e.ActorID)
	e.Action = strings.TrimSpace(e.Action)
	if e.SubjectType == "" || e.SubjectID == "" || e.ActorID == "" || e.Action == "" {
		obs.Error("dropped malformed audit entry", map[string]any{
			"type": "audit", "action": e.Action, "subject_id": e.SubjectID,
		})
		return
	}
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = r.now().UTC()
	}

	obs.LogEvent(map[string]any{
		"ts":           e.OccurredAt.Format(time.RFC3339Nano),
		"type":         "audit",
		"subject_type": string(e.SubjectType),
		"subject_id":   e.SubjectID,
		"actor_id":     e.ActorID,
		"action":       e.Action,
		"field":        e.Field,
	})

	if err := r.store.Append(ctx, &e); err != nil {
		r.enqueue(e)
	}
}

// RetryPending re-attempts queued appends and returns how many remain.
func (r *Recorder) RetryPending(ctx context.Context) int {
	r.mu.Lock()
	queued := r.pending
	r.pending = nil
	r.mu.Unlock()

	var remaining []Entry
	for i := range queued {
		e := queued[i]
		if err := r.store.Append(ctx, &e); err != nil {
			remaining = append(remaining, e)
		}
	}
	r.mu.Lock()
	r.pending = append(remaining, r.pending...)
	depth := len(r.pending)
	r.mu.Unlock()
	obs.SetAuditRetryDepth(depth)
	return depth
}

// Run drives the out-of-band retry loop until the context ends.
func (r *Recorder) Run(ctx context.Context) {
	ticker := time.NewTicker(r.retryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RetryPending(ctx)
		}
	}
}

// LastAccess returns the most recent entry for the subject, used for
// "last accessed / accessed by" displays.
func (r *Recorder) LastAccess(ctx context.Context, st SubjectType, subjectID string) (Entry, bool, error) {
	entries, err := r.store.ListBySubject(ctx, st, subjectID, 1)
	if err != nil {
		return Entry{}, false, err
	}
	if len(entries) == 0 {
		return Entry{}, false, nil
	}
	return entries[0], true, nil
}

// Trail returns recent entries for the subject, most recent first.
func (r *Recorder) Trail(ctx context.Context, st SubjectType, subjectID string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return r.store.ListBySubject(ctx, st, subjectID, limit)
}

func (r *Recorder) enqueue(e Entry) {
	r.mu.Lock()
	r.pending = append(r.pending, e)
	depth := len(r.pending)
	r.mu.Unlock()
	obs.SetAuditRetryDepth(depth)
}
