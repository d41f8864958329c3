package memory

import (
	"context"
	"fmt"
	"sort"

	"opsdesk.org/internal/access"
	"opsdesk.org/internal/sharing"
)

type Grants struct {
	s *Store
}

var _ sharing.Store = (*Grants)(nil)

func (gs *Grants) Upsert(_ context.Context, g sharing.Grant) error {
	gs.s.mu.Lock()
	defer gs.s.mu.Unlock()
	if _, ok := gs.s.credentials[g.CredentialID]; !ok {
		return fmt.Errorf("%w: credential %s", access.ErrNotFound, g.CredentialID)
	}
	gs.s.grants[grantKey{credentialID: g.CredentialID, granteeID: g.GranteeID}] = g
	return nil
}

func (gs *Grants) Delete(_ context.Context, credentialID, granteeID string) error {
	gs.s.mu.Lock()
	defer gs.s.mu.Unlock()
	key := grantKey{credentialID: credentialID, granteeID: granteeID}
	if _, ok := gs.s.grants[key]; !ok {
		return fmt.Errorf("%w: grant %s/%s", access.ErrNotFound, credentialID, granteeID)
	}
	delete(gs.s.grants, key)
	return nil
}

func (gs *Grants) Level(_ context.Context, credentialID, userID string) (access.GrantLevel, bool, error) {
	gs.s.mu.Lock()
	defer gs.s.mu.Unlock()
	g, ok := gs.s.grants[grantKey{credentialID: credentialID, granteeID: userID}]
	if !ok {
		return access.LevelNone, false, nil
	}
	return g.Level, true, nil
}

func (gs *Grants) ListByCredential(_ context.Context, credentialID string) ([]sharing.Grant, error) {
	gs.s.mu.Lock()
	defer gs.s.mu.Unlock()
	var result []sharing.Grant
	for key, g := range gs.s.grants {
		if key.credentialID == credentialID {
			result = append(result, g)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].GrantedAt.Equal(result[j].GrantedAt) {
			return result[i].GranteeID < result[j].GranteeID
		}
		return result[i].GrantedAt.Before(result[j].GrantedAt)
	})
	return result, nil
}
