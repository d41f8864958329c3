package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"opsdesk.org/internal/access"
	"opsdesk.org/internal/credential"
	"opsdesk.org/internal/ids"
)

// Credentials implements credential.Store over the shared pool.
type Credentials struct {
	s *Store
}

func (s *Store) Credentials() *Credentials { return &Credentials{s: s} }

var _ credential.Store = (*Credentials)(nil)

const credentialColumns = `id, organization_id, name, status, created_by, secret_fields, created_at, updated_at, version`

func scanCredential(row interface{ Scan(...any) error }) (credential.Credential, error) {
	var (
		c      credential.Credential
		orgID  sql.NullString
		fields []byte
	)
	if err := row.Scan(&c.ID, &orgID, &c.Name, &c.Status, &c.CreatedBy, &fields, &c.CreatedAt, &c.UpdatedAt, &c.Version); err != nil {
		return credential.Credential{}, err
	}
	c.OrganizationID = orgID.String
	for _, raw := range decodeTokens(fields) {
		if f, ok := credential.ParseField(raw); ok {
			c.SecretFields = append(c.SecretFields, f)
		}
	}
	return c, nil
}

func encodeFields(fields []credential.Field) []byte {
	raw := make([]string, len(fields))
	for i, f := range fields {
		raw[i] = string(f)
	}
	return encodeTokens(raw)
}

func (cs *Credentials) Create(ctx context.Context, c *credential.Credential, secrets credential.Secrets) error {
	if cs.s.db == nil {
		return errors.New("database connection unavailable")
	}
	if c.ID == "" {
		c.ID = ids.New()
	}

	tx, err := cs.s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		insert into credentials (id, organization_id, name, status, created_by, secret_fields, version)
		values ($1, $2, $3, $4, $5, $6, 1)
		returning created_at, updated_at, version
	`, c.ID, nullIfEmpty(c.OrganizationID), c.Name, string(c.Status), c.CreatedBy, encodeFields(c.SecretFields))
	if err := row.Scan(&c.CreatedAt, &c.UpdatedAt, &c.Version); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("%w: credential %s", access.ErrConflict, c.ID)
		}
		return err
	}
	for field, value := range secrets {
		if _, err := tx.ExecContext(ctx, `
			insert into credential_secrets (credential_id, field, value)
			values ($1, $2, $3)
		`, c.ID, string(field), value); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (cs *Credentials) Get(ctx context.Context, id string) (credential.Credential, error) {
	if cs.s.db == nil {
		return credential.Credential{}, errors.New("database connection unavailable")
	}
	c, err := scanCredential(cs.s.db.QueryRowContext(ctx, `
		select `+credentialColumns+` from credentials where id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return credential.Credential{}, fmt.Errorf("%w: credential %s", access.ErrNotFound, id)
	}
	return c, err
}

func (cs *Credentials) List(ctx context.Context) ([]credential.Credential, error) {
	if cs.s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	return cs.query(ctx, `
		select `+credentialColumns+` from credentials order by created_at desc
	`)
}

func (cs *Credentials) ListVisible(ctx context.Context, userID string) ([]credential.Credential, error) {
	if cs.s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	return cs.query(ctx, `
		select `+credentialColumns+` from credentials c
		where c.created_by = $1
		   or exists (
		       select 1 from share_grants g
		       where g.credential_id = c.id and g.grantee_id = $1
		   )
		order by c.created_at desc
	`, userID)
}

func (cs *Credentials) query(ctx context.Context, query string, args ...any) ([]credential.Credential, error) {
	rows, err := cs.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []credential.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (cs *Credentials) Update(ctx context.Context, id string, version int64, upd credential.Update) (credential.Credential, error) {
	if cs.s.db == nil {
		return credential.Credential{}, errors.New("database connection unavailable")
	}

	tx, err := cs.s.db.BeginTx(ctx, nil)
	if err != nil {
		return credential.Credential{}, err
	}
	defer func() { _ = tx.Rollback() }()

	current, err := scanCredential(tx.QueryRowContext(ctx, `
		select `+credentialColumns+` from credentials where id = $1 for update
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return credential.Credential{}, fmt.Errorf("%w: credential %s", access.ErrNotFound, id)
	}
	if err != nil {
		return credential.Credential{}, err
	}

	name := current.Name
	if upd.Name != nil {
		name = *upd.Name
	}
	status := current.Status
	if upd.Status != nil {
		status = *upd.Status
	}
	fields := current.SecretFields
	for field := range upd.Secrets {
		if !hasField(fields, field) {
			fields = append(fields, field)
		}
	}

	c, err := scanCredential(tx.QueryRowContext(ctx, `
		update credentials
		set name = $3, status = $4, secret_fields = $5, version = version + 1, updated_at = now()
		where id = $1 and version = $2
		returning `+credentialColumns+`
	`, id, version, name, string(status), encodeFields(fields)))
	if errors.Is(err, sql.ErrNoRows) {
		return credential.Credential{}, fmt.Errorf("%w: credential %s version %d", access.ErrConflict, id, version)
	}
	if err != nil {
		return credential.Credential{}, err
	}

	for field, value := range upd.Secrets {
		if _, err := tx.ExecContext(ctx, `
			insert into credential_secrets (credential_id, field, value)
			values ($1, $2, $3)
			on conflict (credential_id, field) do update set value = excluded.value
		`, id, string(field), value); err != nil {
			return credential.Credential{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return credential.Credential{}, err
	}
	return c, nil
}

func (cs *Credentials) Delete(ctx context.Context, id string) error {
	if cs.s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := cs.s.db.ExecContext(ctx, `delete from credentials where id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: credential %s", access.ErrNotFound, id)
	}
	return nil
}

func (cs *Credentials) DeleteAll(ctx context.Context) (int64, error) {
	if cs.s.db == nil {
		return 0, errors.New("database connection unavailable")
	}
	res, err := cs.s.db.ExecContext(ctx, `delete from credentials`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (cs *Credentials) Secret(ctx context.Context, id string, field credential.Field) (string, error) {
	if cs.s.db == nil {
		return "", errors.New("database connection unavailable")
	}
	var value string
	err := cs.s.db.QueryRowContext(ctx, `
		select value from credential_secrets
		where credential_id = $1 and field = $2
	`, id, string(field)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: credential %s field %s", access.ErrNotFound, id, field)
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func hasField(fields []credential.Field, f credential.Field) bool {
	for _, have := range fields {
		if have == f {
			return true
		}
	}
	return false
}
