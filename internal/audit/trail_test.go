package audit

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubAuditStore struct {
	appendFn func(context.Context, *Entry) error
	listFn   func(context.Context, SubjectType, string, int) ([]Entry, error)
}

func (s *stubAuditStore) Append(ctx context.Context, e *Entry) error {
	if s.appendFn != nil {
		return s.appendFn(ctx, e)
	}
	return nil
}

func (s *stubAuditStore) ListBySubject(ctx context.Context, st SubjectType, subjectID string, limit int) ([]Entry, error) {
	if s.listFn != nil {
		return s.listFn(ctx, st, subjectID, limit)
	}
	return nil, nil
}

func TestRecordFillsEntry(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	var stored *Entry
	store := &stubAuditStore{
		appendFn: func(_ context.Context, e *Entry) error {
			stored = e
			return nil
		},
	}
	r, err := NewRecorder(store, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}

	r.Record(context.Background(), Entry{
		SubjectType: SubjectCredential, SubjectID: "c1",
		ActorID: "u1", Action: "disclose", Field: "password",
	})
	if stored == nil {
		t.Fatalf("entry not appended")
	}
	if stored.ID == "" {
		t.Fatalf("id not assigned")
	}
	if !stored.OccurredAt.Equal(now) {
		t.Fatalf("occurred_at = %v, want %v", stored.OccurredAt, now)
	}
}

func TestRecordDropsMalformed(t *testing.T) {
	appended := 0
	store := &stubAuditStore{
		appendFn: func(_ context.Context, _ *Entry) error {
			appended++
			return nil
		},
	}
	r, _ := NewRecorder(store)

	r.Record(context.Background(), Entry{SubjectType: SubjectCredential, SubjectID: "c1", Action: "read"})
	r.Record(context.Background(), Entry{SubjectType: SubjectCredential, ActorID: "u1", Action: "read"})
	r.Record(context.Background(), Entry{SubjectID: "c1", ActorID: "u1", Action: "read"})
	if appended != 0 {
		t.Fatalf("malformed entries appended: %d", appended)
	}
}

// A failed append must not surface to the caller; the entry is queued and
// lands in the store once it recovers.
func TestRecordRetriesFailedAppend(t *testing.T) {
	broken := true
	var stored []Entry
	store := &stubAuditStore{
		appendFn: func(_ context.Context, e *Entry) error {
			if broken {
				return errors.New("store down")
			}
			stored = append(stored, *e)
			return nil
		},
	}
	r, _ := NewRecorder(store)
	ctx := context.Background()

	r.Record(ctx, Entry{SubjectType: SubjectInvoice, SubjectID: "i1", ActorID: "u1", Action: "approve"})
	if len(stored) != 0 {
		t.Fatalf("append succeeded while store down")
	}
	if depth := r.RetryPending(ctx); depth != 1 {
		t.Fatalf("retry depth = %d, want 1", depth)
	}

	broken = false
	if depth := r.RetryPending(ctx); depth != 0 {
		t.Fatalf("retry depth after recovery = %d, want 0", depth)
	}
	if len(stored) != 1 || stored[0].SubjectID != "i1" {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestLastAccess(t *testing.T) {
	store := &stubAuditStore{
		listFn: func(_ context.Context, _ SubjectType, _ string, limit int) ([]Entry, error) {
			if limit != 1 {
				t.Fatalf("limit = %d, want 1", limit)
			}
			return []Entry{{ID: "e2", Action: "disclose"}}, nil
		},
	}
	r, _ := NewRecorder(store)
	e, ok, err := r.LastAccess(context.Background(), SubjectCredential, "c1")
	if err != nil || !ok {
		t.Fatalf("LastAccess: %v, %v", ok, err)
	}
	if e.ID != "e2" {
		t.Fatalf("entry = %+v", e)
	}
}

func TestTrailLimitClamped(t *testing.T) {
	var gotLimit int
	store := &stubAuditStore{
		listFn: func(_ context.Context, _ SubjectType, _ string, limit int) ([]Entry, error) {
			gotLimit = limit
			return nil, nil
		},
	}
	r, _ := NewRecorder(store)
	ctx := context.Background()

	if _, err := r.Trail(ctx, SubjectInvoice, "i1", 0); err != nil {
		t.Fatalf("Trail: %v", err)
	}
	if gotLimit != 100 {
		t.Fatalf("default limit = %d, want 100", gotLimit)
	}
	if _, err := r.Trail(ctx, SubjectInvoice, "i1", 5000); err != nil {
		t.Fatalf("Trail: %v", err)
	}
	if gotLimit != 100 {
		t.Fatalf("oversized limit = %d, want clamp to 100", gotLimit)
	}
}
