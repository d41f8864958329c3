package identity

import "strings"

// Role is the coarse access tier of a principal.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleAccountant Role = "accountant"
	RoleUser       Role = "user"
)

// AdminTier refines the admin role. It is meaningful only when Role is admin.
type AdminTier string

const (
	TierAdmin      AdminTier = "admin"
	TierSuperAdmin AdminTier = "super-admin"
)

// Principal is the authenticated actor whose rights are evaluated. Admin and
// accountant access is implied by the role; only the user role consults the
// explicit token set.
type Principal struct {
	ID             string
	OrganizationID string
	Role           Role
	Tier           AdminTier
	Tokens         map[string]struct{}
}

// Normalize coerces a malformed principal into its least-privileged
// interpretation: a missing role becomes user with no tokens, an admin with no
// tier becomes the regular admin tier, and mutually exclusive fields are
// cleared.
func Normalize(p Principal) Principal {
	switch p.Role {
	case RoleAdmin:
		if p.Tier != TierSuperAdmin {
			p.Tier = TierAdmin
		}
		p.Tokens = nil
	case RoleAccountant:
		p.Tier = ""
		p.Tokens = nil
	case RoleUser:
		p.Tier = ""
	default:
		p.Role = RoleUser
		p.Tier = ""
		p.Tokens = nil
	}
	return p
}

// IsAdmin reports whether the principal holds the admin role at any tier.
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// IsSuperAdmin reports whether the principal holds the super-admin tier.
// An admin with an absent or unknown tier is never treated as super-admin.
func (p Principal) IsSuperAdmin() bool {
	return p.Role == RoleAdmin && p.Tier == TierSuperAdmin
}

// IsAccountant reports whether the principal holds the accountant role.
func (p Principal) IsAccountant() bool { return p.Role == RoleAccountant }

// IsUser reports whether the principal is a token-gated regular user.
func (p Principal) IsUser() bool { return p.Role == RoleUser }

// HasToken reports whether the principal carries the given permission token
// inside its module. Always false for admin and accountant: their access is
// role-implied and never token-driven. Tokens outside the closed catalogue
// never match.
func (p Principal) HasToken(module, token string) bool {
	if p.Role != RoleUser {
		return false
	}
	key, ok := TokenKey(module, token)
	if !ok {
		return false
	}
	_, held := p.Tokens[key]
	return held
}

// ParseRole validates a raw role string.
func ParseRole(raw string) (Role, bool) {
	switch Role(strings.TrimSpace(strings.ToLower(raw))) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleAccountant:
		return RoleAccountant, true
	case RoleUser:
		return RoleUser, true
	}
	return "", false
}

// ParseTier validates a raw admin tier string.
func ParseTier(raw string) (AdminTier, bool) {
	switch AdminTier(strings.TrimSpace(strings.ToLower(raw))) {
	case TierAdmin:
		return TierAdmin, true
	case TierSuperAdmin:
		return TierSuperAdmin, true
	}
	return "", false
}
