package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"opsdesk.org/internal/access"
	"opsdesk.org/internal/sharing"
)

// Grants implements sharing.Store over the shared pool.
type Grants struct {
	s *Store
}

func (s *Store) Grants() *Grants { return &Grants{s: s} }

var _ sharing.Store = (*Grants)(nil)

func (gs *Grants) Upsert(ctx context.Context, g sharing.Grant) error {
	if gs.s.db == nil {
		return errors.New("database connection unavailable")
	}
	_, err := gs.s.db.ExecContext(ctx, `
		insert into share_grants (credential_id, grantee_id, level, granted_by, granted_at)
		values ($1, $2, $3, $4, $5)
		on conflict (credential_id, grantee_id) do update
		set level = excluded.level, granted_by = excluded.granted_by, granted_at = excluded.granted_at
	`, g.CredentialID, g.GranteeID, string(g.Level), g.GrantedBy, g.GrantedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return fmt.Errorf("%w: credential %s", access.ErrNotFound, g.CredentialID)
		}
		return err
	}
	return nil
}

func (gs *Grants) Delete(ctx context.Context, credentialID, granteeID string) error {
	if gs.s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := gs.s.db.ExecContext(ctx, `
		delete from share_grants where credential_id = $1 and grantee_id = $2
	`, credentialID, granteeID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: grant %s/%s", access.ErrNotFound, credentialID, granteeID)
	}
	return nil
}

func (gs *Grants) Level(ctx context.Context, credentialID, userID string) (access.GrantLevel, bool, error) {
	if gs.s.db == nil {
		return access.LevelNone, false, errors.New("database connection unavailable")
	}
	var level string
	err := gs.s.db.QueryRowContext(ctx, `
		select level from share_grants
		where credential_id = $1 and grantee_id = $2
	`, credentialID, userID).Scan(&level)
	if errors.Is(err, sql.ErrNoRows) {
		return access.LevelNone, false, nil
	}
	if err != nil {
		return access.LevelNone, false, err
	}
	return access.GrantLevel(level), true, nil
}

func (gs *Grants) ListByCredential(ctx context.Context, credentialID string) ([]sharing.Grant, error) {
	if gs.s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := gs.s.db.QueryContext(ctx, `
		select credential_id, grantee_id, level, granted_by, granted_at
		from share_grants
		where credential_id = $1
		order by granted_at asc
	`, credentialID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []sharing.Grant
	for rows.Next() {
		var (
			g     sharing.Grant
			level string
		)
		if err := rows.Scan(&g.CredentialID, &g.GranteeID, &level, &g.GrantedBy, &g.GrantedAt); err != nil {
			return nil, err
		}
		g.Level = access.GrantLevel(level)
		result = append(result, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
