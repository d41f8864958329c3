package memory

import (
	"context"

	"opsdesk.org/internal/audit"
)

type AuditLog struct {
	s *Store
}

var _ audit.Store = (*AuditLog)(nil)

func (al *AuditLog) Append(_ context.Context, e *audit.Entry) error {
	al.s.mu.Lock()
	defer al.s.mu.Unlock()
	al.s.entries = append(al.s.entries, *e)
	return nil
}

func (al *AuditLog) ListBySubject(_ context.Context, st audit.SubjectType, subjectID string, limit int) ([]audit.Entry, error) {
	al.s.mu.Lock()
	defer al.s.mu.Unlock()
	var result []audit.Entry
	for i := len(al.s.entries) - 1; i >= 0 && len(result) < limit; i-- {
		e := al.s.entries[i]
		if e.SubjectType == st && e.SubjectID == subjectID {
			result = append(result, e)
		}
	}
	return result, nil
}
