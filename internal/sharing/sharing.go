package sharing

import (
	"context"
	"time"

	"opsdesk.org/internal/access"
)

// Grant is a narrow, revocable delegation of view/edit rights on one
// credential to one user. At most one grant exists per (credential, grantee)
// pair; re-granting replaces the level instead of stacking.
type Grant struct {
	CredentialID string            `json:"credential_id"`
	GranteeID    string            `json:"grantee_id"`
	Level        access.GrantLevel `json:"permission"`
	GrantedBy    string            `json:"granted_by"`
	GrantedAt    time.Time         `json:"granted_at"`
}

// Store persists grants keyed by (credential_id, grantee_id).
type Store interface {
	// Upsert inserts the grant or replaces the existing level for the pair.
	Upsert(ctx context.Context, g Grant) error
	// Delete removes the pair; access.ErrNotFound when no grant exists.
	Delete(ctx context.Context, credentialID, granteeID string) error
	// Level returns the active level the user holds, if any.
	Level(ctx context.Context, credentialID, userID string) (access.GrantLevel, bool, error)
	// ListByCredential returns grants ordered by grant time, most recent last.
	ListByCredential(ctx context.Context, credentialID string) ([]Grant, error)
}
