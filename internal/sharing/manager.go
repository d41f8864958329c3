package sharing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"opsdesk.org/internal/access"
	"opsdesk.org/internal/audit"
	"opsdesk.org/internal/credential"
	"opsdesk.org/internal/identity"
	"opsdesk.org/internal/notify"
)

// CredentialSource exposes the ownership data needed to authorize a sharing
// decision.
type CredentialSource interface {
	CredentialInfo(ctx context.Context, id string) (credential.Credential, error)
}

// AuditSink records grant and revoke events.
type AuditSink interface {
	Record(ctx context.Context, e audit.Entry)
}

// Manager creates and revokes share grants. Only an actor who could disclose
// the credential's secrets may extend or withdraw access to it.
type Manager struct {
	store  Store
	creds  CredentialSource
	trail  AuditSink
	events notify.Emitter
	now    func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ManagerOption {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewManager constructs a Manager.
func NewManager(store Store, creds CredentialSource, trail AuditSink, events notify.Emitter, opts ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, errors.New("sharing: store is required")
	}
	if creds == nil {
		return nil, errors.New("sharing: credential source is required")
	}
	if trail == nil {
		return nil, errors.New("sharing: audit sink is required")
	}
	if events == nil {
		events = notify.LogEmitter{}
	}
	m := &Manager{store: store, creds: creds, trail: trail, events: events, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Grant gives granteeID the level on the credential, replacing any prior
// grant for the pair.
func (m *Manager) Grant(ctx context.Context, actor identity.Principal, credentialID, granteeID string, level access.GrantLevel) (Grant, error) {
	granteeID = strings.TrimSpace(granteeID)
	if granteeID == "" {
		return Grant{}, fmt.Errorf("%w: grantee id is required", access.ErrInvalidInput)
	}
	if level != access.LevelView && level != access.LevelEdit {
		return Grant{}, fmt.Errorf("%w: unsupported permission %q", access.ErrInvalidInput, level)
	}
	cred, err := m.authorize(ctx, actor, credentialID)
	if err != nil {
		return Grant{}, err
	}
	g := Grant{
		CredentialID: cred.ID,
		GranteeID:    granteeID,
		Level:        level,
		GrantedBy:    actor.ID,
		GrantedAt:    m.now().UTC(),
	}
	if err := m.store.Upsert(ctx, g); err != nil {
		return Grant{}, err
	}
	m.trail.Record(ctx, audit.Entry{
		SubjectType: audit.SubjectCredential, SubjectID: cred.ID,
		ActorID: actor.ID, Action: "share.grant", Field: granteeID,
	})
	m.events.Emit(notify.Event{
		Name:      notify.EventCredentialShared,
		SubjectID: cred.ID,
		ActorID:   actor.ID,
		Fields:    map[string]string{"grantee_id": granteeID, "permission": string(level)},
	})
	return g, nil
}

// Revoke withdraws the grant for the pair. Revoking removes both view and
// edit access.
func (m *Manager) Revoke(ctx context.Context, actor identity.Principal, credentialID, granteeID string) error {
	granteeID = strings.TrimSpace(granteeID)
	if granteeID == "" {
		return fmt.Errorf("%w: grantee id is required", access.ErrInvalidInput)
	}
	cred, err := m.authorize(ctx, actor, credentialID)
	if err != nil {
		return err
	}
	if err := m.store.Delete(ctx, cred.ID, granteeID); err != nil {
		return err
	}
	m.trail.Record(ctx, audit.Entry{
		SubjectType: audit.SubjectCredential, SubjectID: cred.ID,
		ActorID: actor.ID, Action: "share.revoke", Field: granteeID,
	})
	m.events.Emit(notify.Event{
		Name:      notify.EventCredentialRevoked,
		SubjectID: cred.ID,
		ActorID:   actor.ID,
		Fields:    map[string]string{"grantee_id": granteeID},
	})
	return nil
}

// GrantsFor lists the grants on a credential for display, ordered by grant
// time with the most recent last.
func (m *Manager) GrantsFor(ctx context.Context, actor identity.Principal, credentialID string) ([]Grant, error) {
	if _, err := m.authorize(ctx, actor, credentialID); err != nil {
		return nil, err
	}
	return m.store.ListByCredential(ctx, credentialID)
}

// Level implements credential.GrantSource.
func (m *Manager) Level(ctx context.Context, credentialID, userID string) (access.GrantLevel, bool, error) {
	return m.store.Level(ctx, credentialID, userID)
}

func (m *Manager) authorize(ctx context.Context, actor identity.Principal, credentialID string) (credential.Credential, error) {
	actor = identity.Normalize(actor)
	credentialID = strings.TrimSpace(credentialID)
	if credentialID == "" {
		return credential.Credential{}, fmt.Errorf("%w: credential id is required", access.ErrInvalidInput)
	}
	cred, err := m.creds.CredentialInfo(ctx, credentialID)
	if err != nil {
		return credential.Credential{}, err
	}
	level := access.LevelNone
	if actor.IsUser() {
		l, ok, err := m.store.Level(ctx, credentialID, actor.ID)
		if err != nil {
			return credential.Credential{}, fmt.Errorf("%w: grant lookup: %v", access.ErrStorage, err)
		}
		if ok {
			level = l
		}
	}
	res := access.Resource{
		Category:       access.CategoryCredential,
		OwnerID:        cred.CreatedBy,
		OrganizationID: cred.OrganizationID,
		Grant:          level,
	}
	if !access.CanPerform(actor, res, access.ActionDisclose) {
		return credential.Credential{}, access.ErrDenied
	}
	return cred, nil
}
