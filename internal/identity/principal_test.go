package identity

import "testing"

func TestNormalizeDefaults(t *testing.T) {
	p := Normalize(Principal{ID: "x"})
	if p.Role != RoleUser {
		t.Fatalf("missing role normalized to %q, want user", p.Role)
	}
	if len(p.Tokens) != 0 {
		t.Fatalf("missing role kept tokens")
	}

	p = Normalize(Principal{ID: "x", Role: "owner", Tier: TierSuperAdmin})
	if p.Role != RoleUser || p.Tier != "" {
		t.Fatalf("unknown role normalized to %q/%q, want user with no tier", p.Role, p.Tier)
	}
}

func TestNormalizeAdminTier(t *testing.T) {
	p := Normalize(Principal{ID: "x", Role: RoleAdmin})
	if p.Tier != TierAdmin {
		t.Fatalf("admin without tier got %q, want regular admin tier", p.Tier)
	}
	if p.IsSuperAdmin() {
		t.Fatalf("admin without tier treated as super-admin")
	}

	p = Normalize(Principal{ID: "x", Role: RoleAdmin, Tier: "root"})
	if p.IsSuperAdmin() {
		t.Fatalf("unknown tier treated as super-admin")
	}
}

// Roles and tokens are mutually exclusive: normalization strips tokens from
// admin and accountant, and the tier from non-admins.
func TestNormalizeMutualExclusion(t *testing.T) {
	tokens := map[string]struct{}{"tools.credentials": {}}

	p := Normalize(Principal{ID: "x", Role: RoleAdmin, Tokens: tokens})
	if len(p.Tokens) != 0 {
		t.Fatalf("admin kept tokens")
	}

	p = Normalize(Principal{ID: "x", Role: RoleAccountant, Tokens: tokens, Tier: TierSuperAdmin})
	if len(p.Tokens) != 0 || p.Tier != "" {
		t.Fatalf("accountant kept tokens or tier")
	}

	p = Normalize(Principal{ID: "x", Role: RoleUser, Tokens: tokens, Tier: TierSuperAdmin})
	if p.Tier != "" {
		t.Fatalf("user kept admin tier")
	}
	if !p.HasToken("tools", "credentials") {
		t.Fatalf("user lost a valid token")
	}
}

func TestHasToken(t *testing.T) {
	p := Principal{ID: "x", Role: RoleUser, Tokens: map[string]struct{}{
		"billing.invoices": {},
	}}
	if !p.HasToken("billing", "invoices") {
		t.Fatalf("expected token")
	}
	if p.HasToken("billing", "payments") {
		t.Fatalf("unexpected token")
	}
	if p.HasToken("billing", "refunds") {
		t.Fatalf("token outside catalogue matched")
	}

	adm := Principal{ID: "a", Role: RoleAdmin, Tokens: map[string]struct{}{"billing.invoices": {}}}
	if adm.HasToken("billing", "invoices") {
		t.Fatalf("admin access must be role-implied, not token-driven")
	}
}

func TestTokenSet(t *testing.T) {
	set, unknown := TokenSet([]string{"management.users", "Billing.Invoices", "nope.nope", ""})
	if len(set) != 2 {
		t.Fatalf("set size = %d, want 2", len(set))
	}
	if _, ok := set["billing.invoices"]; !ok {
		t.Fatalf("case folding failed")
	}
	if len(unknown) != 1 || unknown[0] != "nope.nope" {
		t.Fatalf("unknown = %v", unknown)
	}
}

func TestParseRole(t *testing.T) {
	if r, ok := ParseRole(" Admin "); !ok || r != RoleAdmin {
		t.Fatalf("ParseRole(Admin) = %q, %v", r, ok)
	}
	if _, ok := ParseRole("owner"); ok {
		t.Fatalf("unknown role accepted")
	}
	if tier, ok := ParseTier("super-admin"); !ok || tier != TierSuperAdmin {
		t.Fatalf("ParseTier = %q, %v", tier, ok)
	}
}
