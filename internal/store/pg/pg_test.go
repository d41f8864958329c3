package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"opsdesk.org/internal/access"
	"opsdesk.org/internal/credential"
	"opsdesk.org/internal/invoice"
	"opsdesk.org/internal/sharing"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func TestGrantUpsert(t *testing.T) {
	store, mock := newMockStore(t)
	granted := time.Now().UTC()

	mock.ExpectExec("insert into share_grants").
		WithArgs("c1", "viewer", "view", "owner", granted).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Grants().Upsert(context.Background(), sharing.Grant{
		CredentialID: "c1", GranteeID: "viewer", Level: access.LevelView,
		GrantedBy: "owner", GrantedAt: granted,
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGrantUpsertMissingCredential(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("insert into share_grants").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})

	err := store.Grants().Upsert(context.Background(), sharing.Grant{
		CredentialID: "ghost", GranteeID: "viewer", Level: access.LevelView,
	})
	if !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestGrantDeleteMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("delete from share_grants").
		WithArgs("c1", "nobody").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Grants().Delete(context.Background(), "c1", "nobody")
	if !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestGrantLevelAbsent(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select level from share_grants").
		WithArgs("c1", "stranger").
		WillReturnRows(sqlmock.NewRows([]string{"level"}))

	level, ok, err := store.Grants().Level(context.Background(), "c1", "stranger")
	if err != nil {
		t.Fatalf("Level: %v", err)
	}
	if ok || level != access.LevelNone {
		t.Fatalf("level = %v, ok = %v", level, ok)
	}
}

func TestCredentialSecretSingleRoundTrip(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select value from credential_secrets").
		WithArgs("c1", "password").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("hunter2"))

	value, err := store.Credentials().Secret(context.Background(), "c1", credential.FieldPassword)
	if err != nil || value != "hunter2" {
		t.Fatalf("Secret = %q, %v", value, err)
	}

	mock.ExpectQuery("select value from credential_secrets").
		WithArgs("c1", "api_key").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	if _, err := store.Credentials().Secret(context.Background(), "c1", credential.FieldAPIKey); !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("empty slot: %v", err)
	}
}

func invoiceRows(inv invoice.Invoice) *sqlmock.Rows {
	var approvedAt, rejectedAt any
	if inv.ApprovedAt != nil {
		approvedAt = *inv.ApprovedAt
	}
	if inv.RejectedAt != nil {
		rejectedAt = *inv.RejectedAt
	}
	return sqlmock.NewRows([]string{
		"id", "organization_id", "category", "status", "amount_cents", "currency", "description",
		"uploaded_by", "approved_by", "approved_at", "rejected_at", "rejection_reason",
		"created_at", "updated_at", "version",
	}).AddRow(
		inv.ID, inv.OrganizationID, string(inv.Category), string(inv.Status), inv.AmountCents,
		inv.Currency, inv.Description, inv.UploadedBy, inv.ApprovedBy, approvedAt,
		rejectedAt, inv.RejectionReason, inv.CreatedAt, inv.UpdatedAt, inv.Version,
	)
}

func TestInvoiceTransition(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	approved := invoice.Invoice{
		ID: "i1", Category: invoice.CategoryRegular, Status: invoice.StatusApproved,
		AmountCents: 12500, Currency: "USD", UploadedBy: "u1", ApprovedBy: "adm",
		ApprovedAt: &now, CreatedAt: now, UpdatedAt: now, Version: 3,
	}

	mock.ExpectQuery("update invoices").
		WillReturnRows(invoiceRows(approved))

	got, err := store.Invoices().Transition(context.Background(), "i1", 2, invoice.TransitionPatch{
		Status: invoice.StatusApproved, ApprovedBy: "adm", ApprovedAt: &now,
	})
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if got.Status != invoice.StatusApproved || got.ApprovedBy != "adm" || got.Version != 3 {
		t.Fatalf("invoice = %+v", got)
	}
	if got.ApprovedAt == nil {
		t.Fatalf("approved_at not scanned")
	}
}

// A zero-row compare-and-set is resolved with a version probe: conflict when
// the row exists at another version, not found when it is gone.
func TestInvoiceTransitionStaleVersion(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("update invoices").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery("select version from invoices").
		WithArgs("i1").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(5)))

	_, err := store.Invoices().Transition(context.Background(), "i1", 2, invoice.TransitionPatch{Status: invoice.StatusApproved})
	if !errors.Is(err, access.ErrConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInvoiceUpdateMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("update invoices").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery("select version from invoices").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"version"}))

	cents := int64(100)
	_, err := store.Invoices().Update(context.Background(), "ghost", 1, invoice.Update{AmountCents: &cents})
	if !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestInvoiceListFilterComposition(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`from invoices where organization_id = \$1 and status = \$2`).
		WithArgs("org-1", "pending").
		WillReturnRows(invoiceRows(invoice.Invoice{
			ID: "i1", OrganizationID: "org-1", Category: invoice.CategoryRegular,
			Status: invoice.StatusPending, AmountCents: 100, Currency: "USD", UploadedBy: "u1", Version: 1,
		}))

	list, err := store.Invoices().List(context.Background(), invoice.Filter{
		OrganizationID: "org-1", Status: invoice.StatusPending,
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].ID != "i1" {
		t.Fatalf("list = %+v", list)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestClearCategory(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("delete from invoices where category").
		WithArgs("regular").
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := store.Invoices().ClearCategory(context.Background(), invoice.CategoryRegular)
	if err != nil || n != 7 {
		t.Fatalf("ClearCategory = %d, %v", n, err)
	}
}
