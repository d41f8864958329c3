package pg

import (
	"context"
	"database/sql"
	"errors"

	"opsdesk.org/internal/identity"
	"opsdesk.org/internal/ids"
)

// Principals implements identity.Store over the shared pool.
type Principals struct {
	s *Store
}

func (s *Store) Principals() *Principals { return &Principals{s: s} }

var _ identity.Store = (*Principals)(nil)

const principalColumns = `id, organization_id, email, password_hash, status, role, admin_tier, tokens, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (identity.Account, error) {
	var (
		a      identity.Account
		orgID  sql.NullString
		role   string
		tier   sql.NullString
		tokens []byte
	)
	if err := row.Scan(&a.ID, &orgID, &a.Email, &a.PasswordHash, &a.Status, &role, &tier, &tokens, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return identity.Account{}, err
	}
	a.OrganizationID = orgID.String
	if r, ok := identity.ParseRole(role); ok {
		a.Role = r
	}
	if tier.Valid {
		if t, ok := identity.ParseTier(tier.String); ok {
			a.Tier = t
		}
	}
	if len(tokens) > 0 {
		a.Tokens = decodeTokens(tokens)
	}
	return a, nil
}

func (p *Principals) Create(ctx context.Context, a *identity.Account) error {
	if p.s.db == nil {
		return errors.New("database connection unavailable")
	}
	if a.ID == "" {
		a.ID = ids.New()
	}
	row := p.s.db.QueryRowContext(ctx, `
		insert into principals (id, organization_id, email, password_hash, status, role, admin_tier, tokens)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning created_at, updated_at
	`, a.ID, nullIfEmpty(a.OrganizationID), a.Email, a.PasswordHash, a.Status,
		string(a.Role), nullIfEmpty(string(a.Tier)), encodeTokens(a.Tokens))
	if err := row.Scan(&a.CreatedAt, &a.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return identity.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (p *Principals) Find(ctx context.Context, id string) (identity.Account, error) {
	if p.s.db == nil {
		return identity.Account{}, errors.New("database connection unavailable")
	}
	a, err := scanAccount(p.s.db.QueryRowContext(ctx, `
		select `+principalColumns+` from principals where id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Account{}, identity.ErrNotFound
	}
	return a, err
}

func (p *Principals) FindByEmail(ctx context.Context, email string) (identity.Account, error) {
	if p.s.db == nil {
		return identity.Account{}, errors.New("database connection unavailable")
	}
	a, err := scanAccount(p.s.db.QueryRowContext(ctx, `
		select `+principalColumns+` from principals where email = $1
	`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Account{}, identity.ErrNotFound
	}
	return a, err
}

func (p *Principals) UpdateRole(ctx context.Context, id string, upd identity.RoleUpdate) (identity.Account, error) {
	if p.s.db == nil {
		return identity.Account{}, errors.New("database connection unavailable")
	}
	a, err := scanAccount(p.s.db.QueryRowContext(ctx, `
		update principals
		set role = $2, admin_tier = $3, tokens = $4, updated_at = now()
		where id = $1
		returning `+principalColumns+`
	`, id, string(upd.Role), nullIfEmpty(string(upd.Tier)), encodeTokens(upd.Tokens)))
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Account{}, identity.ErrNotFound
	}
	return a, err
}

func (p *Principals) UpdateStatus(ctx context.Context, id, status string) (identity.Account, error) {
	if p.s.db == nil {
		return identity.Account{}, errors.New("database connection unavailable")
	}
	a, err := scanAccount(p.s.db.QueryRowContext(ctx, `
		update principals set status = $2, updated_at = now()
		where id = $1
		returning `+principalColumns+`
	`, id, status))
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Account{}, identity.ErrNotFound
	}
	return a, err
}

func (p *Principals) Delete(ctx context.Context, id string) error {
	if p.s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := p.s.db.ExecContext(ctx, `delete from principals where id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return identity.ErrNotFound
	}
	return nil
}
