package memory

import (
	"context"
	"fmt"
	"sort"

	"opsdesk.org/internal/access"
	"opsdesk.org/internal/credential"
	"opsdesk.org/internal/ids"
)

type Credentials struct {
	s *Store
}

var _ credential.Store = (*Credentials)(nil)

func (cs *Credentials) Create(_ context.Context, c *credential.Credential, secrets credential.Secrets) error {
	cs.s.mu.Lock()
	defer cs.s.mu.Unlock()
	if c.ID == "" {
		c.ID = ids.New()
	}
	if _, ok := cs.s.credentials[c.ID]; ok {
		return fmt.Errorf("%w: credential %s", access.ErrConflict, c.ID)
	}
	now := cs.s.now()
	c.CreatedAt = now
	c.UpdatedAt = now
	c.Version = 1
	cs.s.credentials[c.ID] = *c

	stored := make(credential.Secrets, len(secrets))
	for field, value := range secrets {
		stored[field] = value
	}
	cs.s.secrets[c.ID] = stored
	return nil
}

func (cs *Credentials) Get(_ context.Context, id string) (credential.Credential, error) {
	cs.s.mu.Lock()
	defer cs.s.mu.Unlock()
	c, ok := cs.s.credentials[id]
	if !ok {
		return credential.Credential{}, fmt.Errorf("%w: credential %s", access.ErrNotFound, id)
	}
	return c, nil
}

func (cs *Credentials) List(_ context.Context) ([]credential.Credential, error) {
	cs.s.mu.Lock()
	defer cs.s.mu.Unlock()
	result := make([]credential.Credential, 0, len(cs.s.credentials))
	for _, c := range cs.s.credentials {
		result = append(result, c)
	}
	sortCredentials(result)
	return result, nil
}

func (cs *Credentials) ListVisible(_ context.Context, userID string) ([]credential.Credential, error) {
	cs.s.mu.Lock()
	defer cs.s.mu.Unlock()
	var result []credential.Credential
	for _, c := range cs.s.credentials {
		if c.CreatedBy == userID {
			result = append(result, c)
			continue
		}
		if _, ok := cs.s.grants[grantKey{credentialID: c.ID, granteeID: userID}]; ok {
			result = append(result, c)
		}
	}
	sortCredentials(result)
	return result, nil
}

func (cs *Credentials) Update(_ context.Context, id string, version int64, upd credential.Update) (credential.Credential, error) {
	cs.s.mu.Lock()
	defer cs.s.mu.Unlock()
	c, ok := cs.s.credentials[id]
	if !ok {
		return credential.Credential{}, fmt.Errorf("%w: credential %s", access.ErrNotFound, id)
	}
	if c.Version != version {
		return credential.Credential{}, fmt.Errorf("%w: credential %s version %d (current %d)", access.ErrConflict, id, version, c.Version)
	}
	if upd.Name != nil {
		c.Name = *upd.Name
	}
	if upd.Status != nil {
		c.Status = *upd.Status
	}
	stored := cs.s.secrets[id]
	if stored == nil {
		stored = make(credential.Secrets)
		cs.s.secrets[id] = stored
	}
	for field, value := range upd.Secrets {
		stored[field] = value
		if !hasField(c.SecretFields, field) {
			c.SecretFields = append(c.SecretFields, field)
		}
	}
	c.Version++
	c.UpdatedAt = cs.s.now()
	cs.s.credentials[id] = c
	return c, nil
}

func (cs *Credentials) Delete(_ context.Context, id string) error {
	cs.s.mu.Lock()
	defer cs.s.mu.Unlock()
	if _, ok := cs.s.credentials[id]; !ok {
		return fmt.Errorf("%w: credential %s", access.ErrNotFound, id)
	}
	cs.deleteLocked(id)
	return nil
}

func (cs *Credentials) DeleteAll(_ context.Context) (int64, error) {
	cs.s.mu.Lock()
	defer cs.s.mu.Unlock()
	n := int64(len(cs.s.credentials))
	for id := range cs.s.credentials {
		cs.deleteLocked(id)
	}
	return n, nil
}

// deleteLocked removes the credential along with its secrets and grants,
// matching the cascading foreign keys of the pg schema.
func (cs *Credentials) deleteLocked(id string) {
	delete(cs.s.credentials, id)
	delete(cs.s.secrets, id)
	for key := range cs.s.grants {
		if key.credentialID == id {
			delete(cs.s.grants, key)
		}
	}
}

func (cs *Credentials) Secret(_ context.Context, id string, field credential.Field) (string, error) {
	cs.s.mu.Lock()
	defer cs.s.mu.Unlock()
	value, ok := cs.s.secrets[id][field]
	if !ok {
		return "", fmt.Errorf("%w: credential %s field %s", access.ErrNotFound, id, field)
	}
	return value, nil
}

func sortCredentials(list []credential.Credential) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID > list[j].ID
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}

func hasField(fields []credential.Field, f credential.Field) bool {
	for _, have := range fields {
		if have == f {
			return true
		}
	}
	return false
}
