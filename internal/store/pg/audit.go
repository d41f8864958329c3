package pg

import (
	"context"
	"database/sql"
	"errors"

	"opsdesk.org/internal/audit"
)

// AuditLog implements audit.Store over the shared pool. Entries are
// append-only; there is no update or delete path.
type AuditLog struct {
	s *Store
}

func (s *Store) AuditLog() *AuditLog { return &AuditLog{s: s} }

var _ audit.Store = (*AuditLog)(nil)

func (al *AuditLog) Append(ctx context.Context, e *audit.Entry) error {
	if al.s.db == nil {
		return errors.New("database connection unavailable")
	}
	_, err := al.s.db.ExecContext(ctx, `
		insert into audit_entries (id, subject_type, subject_id, actor_id, action, field, occurred_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, string(e.SubjectType), e.SubjectID, e.ActorID, e.Action, nullIfEmpty(e.Field), e.OccurredAt)
	return err
}

func (al *AuditLog) ListBySubject(ctx context.Context, st audit.SubjectType, subjectID string, limit int) ([]audit.Entry, error) {
	if al.s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := al.s.db.QueryContext(ctx, `
		select id, subject_type, subject_id, actor_id, action, field, occurred_at
		from audit_entries
		where subject_type = $1 and subject_id = $2
		order by occurred_at desc, id desc
		limit $3
	`, string(st), subjectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []audit.Entry
	for rows.Next() {
		var (
			e     audit.Entry
			field sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.SubjectType, &e.SubjectID, &e.ActorID, &e.Action, &field, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.Field = field.String
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
