package invoice

import (
	"context"
	"strings"
	"time"

	"opsdesk.org/internal/access"
)

// Status is the invoice lifecycle state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// ParseStatus validates a raw status string.
func ParseStatus(raw string) (Status, bool) {
	switch Status(strings.TrimSpace(strings.ToLower(raw))) {
	case StatusPending:
		return StatusPending, true
	case StatusApproved:
		return StatusApproved, true
	case StatusRejected:
		return StatusRejected, true
	}
	return "", false
}

// Category separates regular invoices from employee payments. Bulk clear
// operates on regular invoices only and must never cross this boundary.
type Category string

const (
	CategoryRegular         Category = "regular"
	CategoryEmployeePayment Category = "employee-payment"
)

// Invoice is a billing record. Amounts are minor units; no floats.
// ApprovedBy/ApprovedAt are set iff status is approved, RejectionReason and
// RejectedAt iff rejected.
type Invoice struct {
	ID              string     `json:"id"`
	OrganizationID  string     `json:"organization_id,omitempty"`
	Category        Category   `json:"category"`
	Status          Status     `json:"status"`
	AmountCents     int64      `json:"amount_cents"`
	Currency        string     `json:"currency"`
	Description     string     `json:"description,omitempty"`
	UploadedBy      string     `json:"uploaded_by"`
	ApprovedBy      string     `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	Version         int64      `json:"version"`
}

// transitions is the explicit status graph. Approved and rejected never
// return to pending through a status operation; a rejected invoice re-enters
// pending only as a side effect of an authorized edit (resubmission by
// correction). Rejected never moves to approved directly.
var transitions = map[Status]map[Status]bool{
	StatusPending:  {StatusApproved: true, StatusRejected: true},
	StatusRejected: {StatusPending: true},
}

// CanTransition reports whether the status graph allows from -> to.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// state maps the lifecycle status onto the resolver's view of it.
func state(s Status) access.InvoiceState {
	switch s {
	case StatusPending:
		return access.StatePending
	case StatusApproved:
		return access.StateApproved
	case StatusRejected:
		return access.StateRejected
	}
	return ""
}

// TransitionPatch is the status mutation applied under a version
// precondition.
type TransitionPatch struct {
	Status          Status
	ApprovedBy      string
	ApprovedAt      *time.Time
	RejectedAt      *time.Time
	RejectionReason string
	ClearRejection  bool
}

// Update is a partial content mutation applied under a version precondition.
type Update struct {
	AmountCents *int64
	Currency    *string
	Description *string
}

// Filter narrows a listing.
type Filter struct {
	OrganizationID string
	Category       Category
	Status         Status
}

// Store persists invoices. Transition and Update are compare-and-set on the
// record version; a stale version yields access.ErrConflict.
type Store interface {
	Create(ctx context.Context, inv *Invoice) error
	Get(ctx context.Context, id string) (Invoice, error)
	List(ctx context.Context, f Filter) ([]Invoice, error)
	// ListVisible returns invoices the user uploaded or that belong to the
	// user's organization.
	ListVisible(ctx context.Context, userID, orgID string) ([]Invoice, error)
	Transition(ctx context.Context, id string, version int64, patch TransitionPatch) (Invoice, error)
	Update(ctx context.Context, id string, version int64, upd Update) (Invoice, error)
	Delete(ctx context.Context, id string) error
	// ClearCategory removes every invoice in exactly one category and
	// returns how many were removed. Records in other categories survive.
	ClearCategory(ctx context.Context, c Category) (int64, error)
}
