package memory

import (
	"context"
	"fmt"
	"sort"

	"opsdesk.org/internal/access"
	"opsdesk.org/internal/ids"
	"opsdesk.org/internal/invoice"
)

type Invoices struct {
	s *Store
}

var _ invoice.Store = (*Invoices)(nil)

func (is *Invoices) Create(_ context.Context, inv *invoice.Invoice) error {
	is.s.mu.Lock()
	defer is.s.mu.Unlock()
	if inv.ID == "" {
		inv.ID = ids.New()
	}
	if _, ok := is.s.invoices[inv.ID]; ok {
		return fmt.Errorf("%w: invoice %s", access.ErrConflict, inv.ID)
	}
	now := is.s.now()
	inv.CreatedAt = now
	inv.UpdatedAt = now
	inv.Version = 1
	is.s.invoices[inv.ID] = *inv
	return nil
}

func (is *Invoices) Get(_ context.Context, id string) (invoice.Invoice, error) {
	is.s.mu.Lock()
	defer is.s.mu.Unlock()
	inv, ok := is.s.invoices[id]
	if !ok {
		return invoice.Invoice{}, fmt.Errorf("%w: invoice %s", access.ErrNotFound, id)
	}
	return inv, nil
}

func (is *Invoices) List(_ context.Context, f invoice.Filter) ([]invoice.Invoice, error) {
	is.s.mu.Lock()
	defer is.s.mu.Unlock()
	var result []invoice.Invoice
	for _, inv := range is.s.invoices {
		if f.OrganizationID != "" && inv.OrganizationID != f.OrganizationID {
			continue
		}
		if f.Category != "" && inv.Category != f.Category {
			continue
		}
		if f.Status != "" && inv.Status != f.Status {
			continue
		}
		result = append(result, inv)
	}
	sortInvoices(result)
	return result, nil
}

func (is *Invoices) ListVisible(_ context.Context, userID, orgID string) ([]invoice.Invoice, error) {
	is.s.mu.Lock()
	defer is.s.mu.Unlock()
	var result []invoice.Invoice
	for _, inv := range is.s.invoices {
		if inv.UploadedBy == userID || (orgID != "" && inv.OrganizationID == orgID) {
			result = append(result, inv)
		}
	}
	sortInvoices(result)
	return result, nil
}

func (is *Invoices) Transition(_ context.Context, id string, version int64, patch invoice.TransitionPatch) (invoice.Invoice, error) {
	is.s.mu.Lock()
	defer is.s.mu.Unlock()
	inv, ok := is.s.invoices[id]
	if !ok {
		return invoice.Invoice{}, fmt.Errorf("%w: invoice %s", access.ErrNotFound, id)
	}
	if inv.Version != version {
		return invoice.Invoice{}, fmt.Errorf("%w: invoice %s version %d (current %d)", access.ErrConflict, id, version, inv.Version)
	}
	inv.Status = patch.Status
	inv.ApprovedBy = patch.ApprovedBy
	inv.ApprovedAt = patch.ApprovedAt
	inv.RejectedAt = patch.RejectedAt
	inv.RejectionReason = patch.RejectionReason
	if patch.ClearRejection {
		inv.RejectedAt = nil
		inv.RejectionReason = ""
	}
	inv.Version++
	inv.UpdatedAt = is.s.now()
	is.s.invoices[id] = inv
	return inv, nil
}

func (is *Invoices) Update(_ context.Context, id string, version int64, upd invoice.Update) (invoice.Invoice, error) {
	is.s.mu.Lock()
	defer is.s.mu.Unlock()
	inv, ok := is.s.invoices[id]
	if !ok {
		return invoice.Invoice{}, fmt.Errorf("%w: invoice %s", access.ErrNotFound, id)
	}
	if inv.Version != version {
		return invoice.Invoice{}, fmt.Errorf("%w: invoice %s version %d (current %d)", access.ErrConflict, id, version, inv.Version)
	}
	if upd.AmountCents != nil {
		inv.AmountCents = *upd.AmountCents
	}
	if upd.Currency != nil {
		inv.Currency = *upd.Currency
	}
	if upd.Description != nil {
		inv.Description = *upd.Description
	}
	inv.Version++
	inv.UpdatedAt = is.s.now()
	is.s.invoices[id] = inv
	return inv, nil
}

func (is *Invoices) Delete(_ context.Context, id string) error {
	is.s.mu.Lock()
	defer is.s.mu.Unlock()
	if _, ok := is.s.invoices[id]; !ok {
		return fmt.Errorf("%w: invoice %s", access.ErrNotFound, id)
	}
	delete(is.s.invoices, id)
	return nil
}

func (is *Invoices) ClearCategory(_ context.Context, c invoice.Category) (int64, error) {
	is.s.mu.Lock()
	defer is.s.mu.Unlock()
	var n int64
	for id, inv := range is.s.invoices {
		if inv.Category == c {
			delete(is.s.invoices, id)
			n++
		}
	}
	return n, nil
}

func sortInvoices(list []invoice.Invoice) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID > list[j].ID
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}
