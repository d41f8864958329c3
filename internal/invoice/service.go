package invoice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"opsdesk.org/internal/access"
	"opsdesk.org/internal/audit"
	"opsdesk.org/internal/identity"
	"opsdesk.org/internal/notify"
)

// AuditSink records lifecycle events.
type AuditSink interface {
	Record(ctx context.Context, e audit.Entry)
}

// Service guards invoice lifecycle transitions. Every guard is evaluated
// against the just-read record and every write is compare-and-set on its
// version, so two concurrent approvals resolve to exactly one winner and one
// access.ErrConflict.
type Service struct {
	store  Store
	trail  AuditSink
	events notify.Emitter
	now    func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a Service.
func NewService(store Store, trail AuditSink, events notify.Emitter, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("invoice: store is required")
	}
	if trail == nil {
		return nil, errors.New("invoice: audit sink is required")
	}
	if events == nil {
		events = notify.LogEmitter{}
	}
	s := &Service{store: store, trail: trail, events: events, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateInput describes a new invoice upload.
type CreateInput struct {
	OrganizationID string
	Category       Category
	AmountCents    int64
	Currency       string
	Description    string
}

// Create stores a new invoice in pending state, uploaded by the acting
// principal.
func (s *Service) Create(ctx context.Context, p identity.Principal, in CreateInput) (Invoice, error) {
	p = identity.Normalize(p)
	if in.AmountCents <= 0 {
		return Invoice{}, fmt.Errorf("%w: amount must be positive", access.ErrInvalidInput)
	}
	in.Currency = strings.TrimSpace(strings.ToUpper(in.Currency))
	if in.Currency == "" {
		return Invoice{}, fmt.Errorf("%w: currency is required", access.ErrInvalidInput)
	}
	if in.Category == "" {
		in.Category = CategoryRegular
	}
	if in.Category != CategoryRegular && in.Category != CategoryEmployeePayment {
		return Invoice{}, fmt.Errorf("%w: unsupported category %q", access.ErrInvalidInput, in.Category)
	}
	orgID := strings.TrimSpace(in.OrganizationID)
	if orgID == "" || !p.IsAdmin() {
		// Only an admin may upload on behalf of another organization.
		orgID = p.OrganizationID
	}

	res := access.Resource{
		Category:       access.CategoryInvoice,
		OwnerID:        p.ID,
		OrganizationID: orgID,
		InvoiceStatus:  access.StatePending,
	}
	if !access.CanPerform(p, res, access.ActionWrite) {
		return Invoice{}, access.ErrDenied
	}

	inv := Invoice{
		OrganizationID: orgID,
		Category:       in.Category,
		Status:         StatusPending,
		AmountCents:    in.AmountCents,
		Currency:       in.Currency,
		Description:    strings.TrimSpace(in.Description),
		UploadedBy:     p.ID,
	}
	if err := s.store.Create(ctx, &inv); err != nil {
		return Invoice{}, err
	}
	s.trail.Record(ctx, audit.Entry{
		SubjectType: audit.SubjectInvoice, SubjectID: inv.ID,
		ActorID: p.ID, Action: "create",
	})
	return inv, nil
}

// Get returns one invoice if the principal may read it.
func (s *Service) Get(ctx context.Context, p identity.Principal, id string) (Invoice, error) {
	p = identity.Normalize(p)
	inv, err := s.load(ctx, id)
	if err != nil {
		return Invoice{}, err
	}
	if !access.CanPerform(p, s.resource(inv), access.ActionRead) {
		return Invoice{}, access.ErrDenied
	}
	return inv, nil
}

// List returns invoices visible to the principal. Admin tiers and
// accountants see all; users see their own uploads plus their organization's.
func (s *Service) List(ctx context.Context, p identity.Principal, f Filter) ([]Invoice, error) {
	p = identity.Normalize(p)
	if p.IsUser() {
		return s.store.ListVisible(ctx, p.ID, p.OrganizationID)
	}
	if !access.CanPerform(p, access.Resource{Category: access.CategoryInvoice}, access.ActionRead) {
		return nil, access.ErrDenied
	}
	return s.store.List(ctx, f)
}

// Approve moves a pending invoice to approved and records who approved it.
func (s *Service) Approve(ctx context.Context, actor identity.Principal, id string) (Invoice, error) {
	actor = identity.Normalize(actor)
	inv, err := s.load(ctx, id)
	if err != nil {
		return Invoice{}, err
	}
	if !access.CanPerform(actor, s.resource(inv), access.ActionApprove) {
		return Invoice{}, access.ErrDenied
	}
	if !CanTransition(inv.Status, StatusApproved) {
		return Invoice{}, fmt.Errorf("%w: cannot approve a %s invoice", access.ErrInvalidTransition, inv.Status)
	}
	now := s.now().UTC()
	updated, err := s.store.Transition(ctx, inv.ID, inv.Version, TransitionPatch{
		Status:     StatusApproved,
		ApprovedBy: actor.ID,
		ApprovedAt: &now,
	})
	if err != nil {
		return Invoice{}, err
	}
	s.trail.Record(ctx, audit.Entry{
		SubjectType: audit.SubjectInvoice, SubjectID: inv.ID,
		ActorID: actor.ID, Action: "approve",
	})
	s.events.Emit(notify.Event{
		Name:      notify.EventInvoiceApproved,
		SubjectID: inv.ID,
		ActorID:   actor.ID,
		Fields:    map[string]string{"uploaded_by": inv.UploadedBy},
	})
	return updated, nil
}

// Reject moves a pending invoice to rejected. The reason is mandatory: a
// rejected invoice without one cannot exist.
func (s *Service) Reject(ctx context.Context, actor identity.Principal, id, reason string) (Invoice, error) {
	actor = identity.Normalize(actor)
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Invoice{}, fmt.Errorf("%w: rejection reason is required", access.ErrInvalidInput)
	}
	inv, err := s.load(ctx, id)
	if err != nil {
		return Invoice{}, err
	}
	if !access.CanPerform(actor, s.resource(inv), access.ActionApprove) {
		return Invoice{}, access.ErrDenied
	}
	if !CanTransition(inv.Status, StatusRejected) {
		return Invoice{}, fmt.Errorf("%w: cannot reject a %s invoice", access.ErrInvalidTransition, inv.Status)
	}
	now := s.now().UTC()
	updated, err := s.store.Transition(ctx, inv.ID, inv.Version, TransitionPatch{
		Status:          StatusRejected,
		RejectedAt:      &now,
		RejectionReason: reason,
	})
	if err != nil {
		return Invoice{}, err
	}
	s.trail.Record(ctx, audit.Entry{
		SubjectType: audit.SubjectInvoice, SubjectID: inv.ID,
		ActorID: actor.ID, Action: "reject",
	})
	s.events.Emit(notify.Event{
		Name:      notify.EventInvoiceRejected,
		SubjectID: inv.ID,
		ActorID:   actor.ID,
		Fields:    map[string]string{"uploaded_by": inv.UploadedBy, "reason": reason},
	})
	return updated, nil
}

// Edit mutates invoice content. The write guard is evaluated against the
// current status: pending and rejected are open to owner-or-admin, approved
// to super-admin only. Editing a rejected invoice resubmits it: the status
// returns to pending and the rejection is cleared.
func (s *Service) Edit(ctx context.Context, actor identity.Principal, id string, upd Update) (Invoice, error) {
	actor = identity.Normalize(actor)
	if upd.AmountCents != nil && *upd.AmountCents <= 0 {
		return Invoice{}, fmt.Errorf("%w: amount must be positive", access.ErrInvalidInput)
	}
	if upd.Currency != nil {
		c := strings.TrimSpace(strings.ToUpper(*upd.Currency))
		if c == "" {
			return Invoice{}, fmt.Errorf("%w: currency is required", access.ErrInvalidInput)
		}
		upd.Currency = &c
	}
	inv, err := s.load(ctx, id)
	if err != nil {
		return Invoice{}, err
	}
	if !access.CanPerform(actor, s.resource(inv), access.ActionWrite) {
		return Invoice{}, access.ErrDenied
	}

	updated, err := s.store.Update(ctx, inv.ID, inv.Version, upd)
	if err != nil {
		return Invoice{}, err
	}
	if inv.Status == StatusRejected {
		resubmitted, err := s.store.Transition(ctx, updated.ID, updated.Version, TransitionPatch{
			Status:         StatusPending,
			ClearRejection: true,
		})
		if err != nil {
			return Invoice{}, err
		}
		updated = resubmitted
	}
	s.trail.Record(ctx, audit.Entry{
		SubjectType: audit.SubjectInvoice, SubjectID: inv.ID,
		ActorID: actor.ID, Action: "edit",
	})
	return updated, nil
}

// Delete removes one invoice while its guards still allow it.
func (s *Service) Delete(ctx context.Context, actor identity.Principal, id string) error {
	actor = identity.Normalize(actor)
	inv, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !access.CanPerform(actor, s.resource(inv), access.ActionDelete) {
		return access.ErrDenied
	}
	if err := s.store.Delete(ctx, inv.ID); err != nil {
		return err
	}
	s.trail.Record(ctx, audit.Entry{
		SubjectType: audit.SubjectInvoice, SubjectID: inv.ID,
		ActorID: actor.ID, Action: "delete",
	})
	return nil
}

// BulkClear removes all regular invoices. The employee-payment category is
// outside its reach regardless of who calls it.
func (s *Service) BulkClear(ctx context.Context, actor identity.Principal) (int64, error) {
	actor = identity.Normalize(actor)
	if !access.CanPerform(actor, access.Resource{Category: access.CategoryInvoice}, access.ActionBulkDelete) {
		return 0, access.ErrDenied
	}
	removed, err := s.store.ClearCategory(ctx, CategoryRegular)
	if err != nil {
		return 0, err
	}
	s.trail.Record(ctx, audit.Entry{
		SubjectType: audit.SubjectInvoice, SubjectID: "*",
		ActorID: actor.ID, Action: "bulk-clear",
	})
	return removed, nil
}

func (s *Service) load(ctx context.Context, id string) (Invoice, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Invoice{}, fmt.Errorf("%w: invoice id is required", access.ErrInvalidInput)
	}
	return s.store.Get(ctx, id)
}

func (s *Service) resource(inv Invoice) access.Resource {
	return access.Resource{
		Category:       access.CategoryInvoice,
		OwnerID:        inv.UploadedBy,
		OrganizationID: inv.OrganizationID,
		InvoiceStatus:  state(inv.Status),
	}
}
