package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound           = errors.New("identity: not found")
	ErrAlreadyExists      = errors.New("identity: already exists")
	ErrInvalidInput       = errors.New("identity: invalid input")
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
)

const (
	AccountStatusActive   = "active"
	AccountStatusDisabled = "disabled"
)

// Account is a stored principal plus its login material. The Principal view
// is what the rest of the system evaluates.
type Account struct {
	ID             string
	OrganizationID string
	Email          string
	PasswordHash   string
	Status         string
	Role           Role
	Tier           AdminTier
	Tokens         []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Principal converts the stored account into its normalized principal view.
func (a Account) Principal() Principal {
	tokens, _ := TokenSet(a.Tokens)
	return Normalize(Principal{
		ID:             a.ID,
		OrganizationID: a.OrganizationID,
		Role:           a.Role,
		Tier:           a.Tier,
		Tokens:         tokens,
	})
}

// RoleUpdate mutates the role-related fields of an account as one unit, so
// the mutually exclusive invariants cannot drift.
type RoleUpdate struct {
	Role   Role
	Tier   AdminTier
	Tokens []string
}

// Store persists accounts.
type Store interface {
	Create(ctx context.Context, a *Account) error
	Find(ctx context.Context, id string) (Account, error)
	FindByEmail(ctx context.Context, email string) (Account, error)
	UpdateRole(ctx context.Context, id string, upd RoleUpdate) (Account, error)
	UpdateStatus(ctx context.Context, id, status string) (Account, error)
	Delete(ctx context.Context, id string) error
}

// Service provides account provisioning and principal resolution.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService constructs a Service over the given store.
func NewService(store Store) (*Service, error) {
	if store == nil {
		return nil, errors.New("identity: store is required")
	}
	return &Service{store: store, now: time.Now}, nil
}

// Provision creates an account. The permission set is seeded empty for
// admin/accountant roles and validated against the catalogue for users.
func (s *Service) Provision(ctx context.Context, orgID, email, password string, role Role, tier AdminTier, tokens []string) (Account, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return Account{}, fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return Account{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return Account{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	upd, err := normalizeRoleUpdate(role, tier, tokens)
	if err != nil {
		return Account{}, err
	}
	acct := Account{
		OrganizationID: orgID,
		Email:          email,
		PasswordHash:   hash,
		Status:         AccountStatusActive,
		Role:           upd.Role,
		Tier:           upd.Tier,
		Tokens:         upd.Tokens,
	}
	if err := s.store.Create(ctx, &acct); err != nil {
		return Account{}, err
	}
	return acct, nil
}

// SetRole changes the account role. Moving to or from admin clears and
// reseeds the tier and token set so the mutually exclusive fields stay
// consistent.
func (s *Service) SetRole(ctx context.Context, id string, role Role, tier AdminTier, tokens []string) (Account, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Account{}, fmt.Errorf("%w: account id is required", ErrInvalidInput)
	}
	upd, err := normalizeRoleUpdate(role, tier, tokens)
	if err != nil {
		return Account{}, err
	}
	return s.store.UpdateRole(ctx, id, upd)
}

// SetTokens replaces the explicit permission set of a user-role account.
func (s *Service) SetTokens(ctx context.Context, id string, tokens []string) (Account, error) {
	acct, err := s.store.Find(ctx, id)
	if err != nil {
		return Account{}, err
	}
	if acct.Role != RoleUser {
		return Account{}, fmt.Errorf("%w: permission tokens apply only to the user role", ErrInvalidInput)
	}
	return s.SetRole(ctx, id, RoleUser, "", tokens)
}

// Authenticate verifies login credentials and returns the account.
func (s *Service) Authenticate(ctx context.Context, email, password string) (Account, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return Account{}, ErrInvalidCredentials
	}
	acct, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		return Account{}, ErrInvalidCredentials
	}
	if acct.Status != AccountStatusActive {
		return Account{}, ErrInvalidCredentials
	}
	if err := VerifyPassword(acct.PasswordHash, password); err != nil {
		return Account{}, ErrInvalidCredentials
	}
	return acct, nil
}

// Principal loads the account and returns its normalized principal view.
func (s *Service) Principal(ctx context.Context, id string) (Principal, error) {
	acct, err := s.store.Find(ctx, id)
	if err != nil {
		return Principal{}, err
	}
	return acct.Principal(), nil
}

// Disable marks an account as disabled without removing it.
func (s *Service) Disable(ctx context.Context, id string) (Account, error) {
	return s.store.UpdateStatus(ctx, id, AccountStatusDisabled)
}

// Delete removes an account.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, strings.TrimSpace(id))
}

func normalizeRoleUpdate(role Role, tier AdminTier, tokens []string) (RoleUpdate, error) {
	switch role {
	case RoleAdmin:
		if tier != TierSuperAdmin {
			tier = TierAdmin
		}
		return RoleUpdate{Role: RoleAdmin, Tier: tier}, nil
	case RoleAccountant:
		return RoleUpdate{Role: RoleAccountant}, nil
	case RoleUser:
		set, unknown := TokenSet(tokens)
		if len(unknown) > 0 {
			return RoleUpdate{}, fmt.Errorf("%w: unknown permission tokens %s", ErrInvalidInput, strings.Join(unknown, ", "))
		}
		keys := make([]string, 0, len(set))
		for k := range set {
			keys = append(keys, k)
		}
		return RoleUpdate{Role: RoleUser, Tokens: keys}, nil
	default:
		return RoleUpdate{}, fmt.Errorf("%w: unsupported role %q", ErrInvalidInput, role)
	}
}
