package access

import (
	"opsdesk.org/internal/identity"
	"opsdesk.org/internal/obs"
)

// Action is an operation a principal wants to perform on a resource.
type Action string

const (
	ActionRead       Action = "read"
	ActionWrite      Action = "write"
	ActionDisclose   Action = "disclose"
	ActionDelete     Action = "delete"
	ActionBulkDelete Action = "bulk-delete"
	ActionApprove    Action = "approve"
)

// Category names a resource family governed by the policy table.
type Category string

const (
	CategoryCredential   Category = "credential"
	CategoryInvoice      Category = "invoice"
	CategoryUserAccount  Category = "user-account"
	CategoryOrganization Category = "organization"
)

// GrantLevel is the permission carried by a share grant. Edit subsumes view.
type GrantLevel string

const (
	LevelNone GrantLevel = ""
	LevelView GrantLevel = "view"
	LevelEdit GrantLevel = "edit"
)

// Allows reports whether the level satisfies the needed level.
func (l GrantLevel) Allows(need GrantLevel) bool {
	switch need {
	case LevelView:
		return l == LevelView || l == LevelEdit
	case LevelEdit:
		return l == LevelEdit
	}
	return false
}

// InvoiceState mirrors the invoice lifecycle status for policy evaluation.
type InvoiceState string

const (
	StatePending  InvoiceState = "pending"
	StateApproved InvoiceState = "approved"
	StateRejected InvoiceState = "rejected"
)

// Resource is the snapshot of the target record a decision is made against.
// OwnerID is createdBy for credentials and uploadedBy for invoices. Grant is
// the active share-grant level held by the evaluated principal, if any.
type Resource struct {
	Category       Category
	OwnerID        string
	OrganizationID string
	Grant          GrantLevel
	InvoiceStatus  InvoiceState
}

// CanPerform is the single authorization decision point. It reproduces the
// policy table: role-implied access for admin tiers and accountants,
// ownership- and grant-derived access for users, and deny for everything
// unmatched.
func CanPerform(p identity.Principal, res Resource, action Action) bool {
	p = identity.Normalize(p)
	allowed := decide(p, res, action)
	obs.AuthzDecision(string(res.Category), string(action), allowed)
	return allowed
}

func decide(p identity.Principal, res Resource, action Action) bool {
	switch res.Category {
	case CategoryCredential:
		return decideCredential(p, res, action)
	case CategoryInvoice:
		return decideInvoice(p, res, action)
	case CategoryUserAccount:
		return decideUserAccount(p, action)
	case CategoryOrganization:
		return decideOrganization(p, action)
	}
	return false
}

func decideCredential(p identity.Principal, res Resource, action Action) bool {
	if p.IsAdmin() {
		switch action {
		case ActionRead, ActionWrite, ActionDisclose, ActionDelete, ActionBulkDelete:
			return true
		}
		return false
	}
	if p.IsAccountant() {
		return action == ActionRead || action == ActionDisclose
	}
	owner := res.OwnerID != "" && res.OwnerID == p.ID
	switch action {
	case ActionRead, ActionDisclose:
		return owner || res.Grant.Allows(LevelView)
	case ActionWrite:
		return owner || res.Grant.Allows(LevelEdit)
	}
	return false
}

func decideInvoice(p identity.Principal, res Resource, action Action) bool {
	owner := res.OwnerID != "" && res.OwnerID == p.ID
	switch action {
	case ActionRead:
		if p.IsAdmin() || p.IsAccountant() {
			return true
		}
		return owner || (res.OrganizationID != "" && res.OrganizationID == p.OrganizationID)
	case ActionWrite:
		switch res.InvoiceStatus {
		case StateApproved:
			// Once approved, ownership alone no longer grants write.
			return p.IsSuperAdmin()
		case StatePending, StateRejected:
			return p.IsAdmin() || owner
		}
		return false
	case ActionApprove:
		return p.IsAdmin()
	case ActionDelete:
		if p.IsSuperAdmin() {
			return true
		}
		if res.InvoiceStatus == StateApproved {
			return false
		}
		return p.IsAdmin() || owner
	case ActionBulkDelete:
		return p.IsAdmin()
	}
	return false
}

func decideUserAccount(p identity.Principal, action Action) bool {
	switch action {
	case ActionRead:
		return p.IsAdmin() || p.IsAccountant() || p.HasToken("management", "users")
	case ActionWrite, ActionDelete:
		return p.IsSuperAdmin()
	}
	return false
}

func decideOrganization(p identity.Principal, action Action) bool {
	switch action {
	case ActionRead:
		return p.IsAdmin() || p.IsAccountant() || p.HasToken("management", "organizations")
	case ActionWrite:
		return p.IsAdmin() || p.HasToken("management", "organizations")
	case ActionDelete:
		return p.IsSuperAdmin()
	}
	return false
}
