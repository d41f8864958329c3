package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"opsdesk.org/internal/access"
	"opsdesk.org/internal/ids"
	"opsdesk.org/internal/invoice"
)

// Invoices implements invoice.Store over the shared pool.
type Invoices struct {
	s *Store
}

func (s *Store) Invoices() *Invoices { return &Invoices{s: s} }

var _ invoice.Store = (*Invoices)(nil)

const invoiceColumns = `id, organization_id, category, status, amount_cents, currency, description,
	uploaded_by, approved_by, approved_at, rejected_at, rejection_reason, created_at, updated_at, version`

func scanInvoice(row interface{ Scan(...any) error }) (invoice.Invoice, error) {
	var (
		inv        invoice.Invoice
		orgID      sql.NullString
		desc       sql.NullString
		approvedBy sql.NullString
		approvedAt sql.NullTime
		rejectedAt sql.NullTime
		reason     sql.NullString
	)
	if err := row.Scan(&inv.ID, &orgID, &inv.Category, &inv.Status, &inv.AmountCents, &inv.Currency, &desc,
		&inv.UploadedBy, &approvedBy, &approvedAt, &rejectedAt, &reason, &inv.CreatedAt, &inv.UpdatedAt, &inv.Version); err != nil {
		return invoice.Invoice{}, err
	}
	inv.OrganizationID = orgID.String
	inv.Description = desc.String
	inv.ApprovedBy = approvedBy.String
	if approvedAt.Valid {
		t := approvedAt.Time
		inv.ApprovedAt = &t
	}
	if rejectedAt.Valid {
		t := rejectedAt.Time
		inv.RejectedAt = &t
	}
	inv.RejectionReason = reason.String
	return inv, nil
}

func (is *Invoices) Create(ctx context.Context, inv *invoice.Invoice) error {
	if is.s.db == nil {
		return errors.New("database connection unavailable")
	}
	if inv.ID == "" {
		inv.ID = ids.New()
	}
	row := is.s.db.QueryRowContext(ctx, `
		insert into invoices (id, organization_id, category, status, amount_cents, currency, description, uploaded_by, version)
		values ($1, $2, $3, $4, $5, $6, $7, $8, 1)
		returning created_at, updated_at, version
	`, inv.ID, nullIfEmpty(inv.OrganizationID), string(inv.Category), string(inv.Status),
		inv.AmountCents, inv.Currency, nullIfEmpty(inv.Description), inv.UploadedBy)
	if err := row.Scan(&inv.CreatedAt, &inv.UpdatedAt, &inv.Version); err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return fmt.Errorf("%w: invoice %s", access.ErrConflict, inv.ID)
			case pgErrForeignKeyViolation:
				return fmt.Errorf("%w: organization %s", access.ErrNotFound, inv.OrganizationID)
			}
		}
		return err
	}
	return nil
}

func (is *Invoices) Get(ctx context.Context, id string) (invoice.Invoice, error) {
	if is.s.db == nil {
		return invoice.Invoice{}, errors.New("database connection unavailable")
	}
	inv, err := scanInvoice(is.s.db.QueryRowContext(ctx, `
		select `+invoiceColumns+` from invoices where id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return invoice.Invoice{}, fmt.Errorf("%w: invoice %s", access.ErrNotFound, id)
	}
	return inv, err
}

func (is *Invoices) List(ctx context.Context, f invoice.Filter) ([]invoice.Invoice, error) {
	if is.s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	var (
		where []string
		args  []any
	)
	if f.OrganizationID != "" {
		args = append(args, f.OrganizationID)
		where = append(where, fmt.Sprintf("organization_id = $%d", len(args)))
	}
	if f.Category != "" {
		args = append(args, string(f.Category))
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `select ` + invoiceColumns + ` from invoices`
	if len(where) > 0 {
		query += ` where ` + strings.Join(where, " and ")
	}
	query += ` order by created_at desc`
	return is.query(ctx, query, args...)
}

func (is *Invoices) ListVisible(ctx context.Context, userID, orgID string) ([]invoice.Invoice, error) {
	if is.s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	if orgID == "" {
		return is.query(ctx, `
			select `+invoiceColumns+` from invoices
			where uploaded_by = $1
			order by created_at desc
		`, userID)
	}
	return is.query(ctx, `
		select `+invoiceColumns+` from invoices
		where uploaded_by = $1 or organization_id = $2
		order by created_at desc
	`, userID, orgID)
}

func (is *Invoices) query(ctx context.Context, query string, args ...any) ([]invoice.Invoice, error) {
	rows, err := is.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []invoice.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (is *Invoices) Transition(ctx context.Context, id string, version int64, patch invoice.TransitionPatch) (invoice.Invoice, error) {
	if is.s.db == nil {
		return invoice.Invoice{}, errors.New("database connection unavailable")
	}
	var (
		approvedBy = nullIfEmpty(patch.ApprovedBy)
		approvedAt sql.NullTime
		rejectedAt sql.NullTime
		reason     = nullIfEmpty(patch.RejectionReason)
	)
	if patch.ApprovedAt != nil {
		approvedAt = sql.NullTime{Time: *patch.ApprovedAt, Valid: true}
	}
	if patch.RejectedAt != nil {
		rejectedAt = sql.NullTime{Time: *patch.RejectedAt, Valid: true}
	}
	if patch.ClearRejection {
		rejectedAt = sql.NullTime{}
		reason = sql.NullString{}
	}
	inv, err := scanInvoice(is.s.db.QueryRowContext(ctx, `
		update invoices
		set status = $3, approved_by = $4, approved_at = $5, rejected_at = $6, rejection_reason = $7,
		    version = version + 1, updated_at = now()
		where id = $1 and version = $2
		returning `+invoiceColumns+`
	`, id, version, string(patch.Status), approvedBy, approvedAt, rejectedAt, reason))
	if errors.Is(err, sql.ErrNoRows) {
		return invoice.Invoice{}, is.staleOrMissing(ctx, id, version)
	}
	return inv, err
}

func (is *Invoices) Update(ctx context.Context, id string, version int64, upd invoice.Update) (invoice.Invoice, error) {
	if is.s.db == nil {
		return invoice.Invoice{}, errors.New("database connection unavailable")
	}
	inv, err := scanInvoice(is.s.db.QueryRowContext(ctx, `
		update invoices
		set amount_cents = coalesce($3, amount_cents),
		    currency = coalesce($4, currency),
		    description = coalesce($5, description),
		    version = version + 1, updated_at = now()
		where id = $1 and version = $2
		returning `+invoiceColumns+`
	`, id, version, nullInt64(upd.AmountCents), nullString(upd.Currency), nullString(upd.Description)))
	if errors.Is(err, sql.ErrNoRows) {
		return invoice.Invoice{}, is.staleOrMissing(ctx, id, version)
	}
	return inv, err
}

// staleOrMissing distinguishes a version mismatch from a deleted record
// after a zero-row compare-and-set.
func (is *Invoices) staleOrMissing(ctx context.Context, id string, version int64) error {
	var current int64
	err := is.s.db.QueryRowContext(ctx, `select version from invoices where id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: invoice %s", access.ErrNotFound, id)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: invoice %s version %d (current %d)", access.ErrConflict, id, version, current)
}

func (is *Invoices) Delete(ctx context.Context, id string) error {
	if is.s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := is.s.db.ExecContext(ctx, `delete from invoices where id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: invoice %s", access.ErrNotFound, id)
	}
	return nil
}

func (is *Invoices) ClearCategory(ctx context.Context, c invoice.Category) (int64, error) {
	if is.s.db == nil {
		return 0, errors.New("database connection unavailable")
	}
	res, err := is.s.db.ExecContext(ctx, `delete from invoices where category = $1`, string(c))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
