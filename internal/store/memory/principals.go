package memory

import (
	"context"

	"opsdesk.org/internal/identity"
	"opsdesk.org/internal/ids"
)

type Principals struct {
	s *Store
}

var _ identity.Store = (*Principals)(nil)

func (p *Principals) Create(_ context.Context, a *identity.Account) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	if a.ID == "" {
		a.ID = ids.New()
	}
	if _, ok := p.s.accounts[a.ID]; ok {
		return identity.ErrAlreadyExists
	}
	for _, have := range p.s.accounts {
		if have.Email == a.Email {
			return identity.ErrAlreadyExists
		}
	}
	now := p.s.now()
	a.CreatedAt = now
	a.UpdatedAt = now
	p.s.accounts[a.ID] = *a
	return nil
}

func (p *Principals) Find(_ context.Context, id string) (identity.Account, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	a, ok := p.s.accounts[id]
	if !ok {
		return identity.Account{}, identity.ErrNotFound
	}
	return a, nil
}

func (p *Principals) FindByEmail(_ context.Context, email string) (identity.Account, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	for _, a := range p.s.accounts {
		if a.Email == email {
			return a, nil
		}
	}
	return identity.Account{}, identity.ErrNotFound
}

func (p *Principals) UpdateRole(_ context.Context, id string, upd identity.RoleUpdate) (identity.Account, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	a, ok := p.s.accounts[id]
	if !ok {
		return identity.Account{}, identity.ErrNotFound
	}
	a.Role = upd.Role
	a.Tier = upd.Tier
	a.Tokens = append([]string(nil), upd.Tokens...)
	a.UpdatedAt = p.s.now()
	p.s.accounts[id] = a
	return a, nil
}

func (p *Principals) UpdateStatus(_ context.Context, id, status string) (identity.Account, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	a, ok := p.s.accounts[id]
	if !ok {
		return identity.Account{}, identity.ErrNotFound
	}
	a.Status = status
	a.UpdatedAt = p.s.now()
	p.s.accounts[id] = a
	return a, nil
}

func (p *Principals) Delete(_ context.Context, id string) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	if _, ok := p.s.accounts[id]; !ok {
		return identity.ErrNotFound
	}
	delete(p.s.accounts, id)
	return nil
}
