package credential

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"opsdesk.org/internal/access"
	"opsdesk.org/internal/audit"
	"opsdesk.org/internal/identity"
	"opsdesk.org/internal/notify"
	"opsdesk.org/internal/obs"
)

// AuditSink records disclosure and mutation events.
type AuditSink interface {
	Record(ctx context.Context, e audit.Entry)
}

// Service is the disclosure controller plus the gated credential CRUD. Every
// operation takes the acting principal and decides through the central
// resolver; secret cleartext is only ever returned by DiscloseSecret.
type Service struct {
	store  Store
	grants GrantSource
	trail  AuditSink
	events notify.Emitter
	now    func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a Service.
func NewService(store Store, grants GrantSource, trail AuditSink, events notify.Emitter, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("credential: store is required")
	}
	if grants == nil {
		return nil, errors.New("credential: grant source is required")
	}
	if trail == nil {
		return nil, errors.New("credential: audit sink is required")
	}
	if events == nil {
		events = notify.LogEmitter{}
	}
	s := &Service{store: store, grants: grants, trail: trail, events: events, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateInput describes a new credential.
type CreateInput struct {
	OrganizationID string
	Name           string
	Status         Status
	Secrets        Secrets
}

// Create stores a new credential owned by the acting principal.
func (s *Service) Create(ctx context.Context, p identity.Principal, in CreateInput) (Credential, error) {
	p = identity.Normalize(p)
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return Credential{}, fmt.Errorf("%w: credential name is required", access.ErrInvalidInput)
	}
	if in.Status == "" {
		in.Status = StatusActive
	}
	if in.Status != StatusActive && in.Status != StatusInactive {
		return Credential{}, fmt.Errorf("%w: unsupported status %q", access.ErrInvalidInput, in.Status)
	}
	orgID := strings.TrimSpace(in.OrganizationID)
	if orgID == "" {
		orgID = p.OrganizationID
	}
	for f := range in.Secrets {
		if _, ok := ParseField(string(f)); !ok {
			return Credential{}, fmt.Errorf("%w: unknown secret field %q", access.ErrInvalidInput, f)
		}
	}

	res := access.Resource{Category: access.CategoryCredential, OwnerID: p.ID, OrganizationID: orgID}
	if !access.CanPerform(p, res, access.ActionWrite) {
		return Credential{}, access.ErrDenied
	}

	fields := make([]Field, 0, len(in.Secrets))
	for f := range in.Secrets {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })

	cred := Credential{
		OrganizationID: orgID,
		Name:           in.Name,
		Status:         in.Status,
		CreatedBy:      p.ID,
		SecretFields:   fields,
	}
	if err := s.store.Create(ctx, &cred, in.Secrets); err != nil {
		return Credential{}, err
	}
	s.trail.Record(ctx, audit.Entry{
		SubjectType: audit.SubjectCredential, SubjectID: cred.ID,
		ActorID: p.ID, Action: "create",
	})
	return cred, nil
}

// List returns credentials visible to the principal, secrets masked. Users
// see only what they own or hold a grant on; admin tiers and accountants see
// everything.
func (s *Service) List(ctx context.Context, p identity.Principal) ([]View, error) {
	p = identity.Normalize(p)
	var (
		creds []Credential
		err   error
	)
	if p.IsUser() {
		creds, err = s.store.ListVisible(ctx, p.ID)
	} else if access.CanPerform(p, access.Resource{Category: access.CategoryCredential}, access.ActionRead) {
		creds, err = s.store.List(ctx)
	} else {
		return nil, access.ErrDenied
	}
	if err != nil {
		return nil, err
	}
	views := make([]View, 0, len(creds))
	for _, c := range creds {
		views = append(views, maskedView(c))
	}
	return views, nil
}

// Get returns one credential, secrets masked.
func (s *Service) Get(ctx context.Context, p identity.Principal, id string) (View, error) {
	p = identity.Normalize(p)
	cred, level, err := s.load(ctx, p, id)
	if err != nil {
		return View{}, err
	}
	res := s.resource(cred, level)
	if !access.CanPerform(p, res, access.ActionRead) {
		return View{}, access.ErrDenied
	}
	return maskedView(cred), nil
}

// DiscloseSecret reveals the cleartext of one secret field to an authorized
// principal. The disclosure is a single store round trip and is always
// audited. Denied, NotFound and storage failure are distinct outcomes.
func (s *Service) DiscloseSecret(ctx context.Context, p identity.Principal, id string, field Field) (string, error) {
	p = identity.Normalize(p)
	if _, ok := ParseField(string(field)); !ok {
		return "", fmt.Errorf("%w: unknown secret field %q", access.ErrInvalidInput, field)
	}
	cred, level, err := s.load(ctx, p, id)
	if err != nil {
		return "", err
	}
	res := s.resource(cred, level)
	if !access.CanPerform(p, res, access.ActionDisclose) {
		return "", access.ErrDenied
	}

	value, err := s.store.Secret(ctx, id, field)
	if err != nil {
		return "", err
	}

	s.trail.Record(ctx, audit.Entry{
		SubjectType: audit.SubjectCredential, SubjectID: cred.ID,
		ActorID: p.ID, Action: "disclose", Field: string(field),
	})
	obs.SecretDisclosed(string(field))
	return value, nil
}

// Update applies a partial mutation under the just-read version, so a
// concurrent writer surfaces as access.ErrConflict.
func (s *Service) Update(ctx context.Context, p identity.Principal, id string, upd Update) (Credential, error) {
	p = identity.Normalize(p)
	if upd.Status != nil && *upd.Status != StatusActive && *upd.Status != StatusInactive {
		return Credential{}, fmt.Errorf("%w: unsupported status %q", access.ErrInvalidInput, *upd.Status)
	}
	for f := range upd.Secrets {
		if _, ok := ParseField(string(f)); !ok {
			return Credential{}, fmt.Errorf("%w: unknown secret field %q", access.ErrInvalidInput, f)
		}
	}
	cred, level, err := s.load(ctx, p, id)
	if err != nil {
		return Credential{}, err
	}
	res := s.resource(cred, level)
	if !access.CanPerform(p, res, access.ActionWrite) {
		return Credential{}, access.ErrDenied
	}
	updated, err := s.store.Update(ctx, id, cred.Version, upd)
	if err != nil {
		return Credential{}, err
	}
	s.trail.Record(ctx, audit.Entry{
		SubjectType: audit.SubjectCredential, SubjectID: cred.ID,
		ActorID: p.ID, Action: "update",
	})
	return updated, nil
}

// Delete removes one credential. Grants on it die with it.
func (s *Service) Delete(ctx context.Context, p identity.Principal, id string) error {
	p = identity.Normalize(p)
	cred, level, err := s.load(ctx, p, id)
	if err != nil {
		return err
	}
	res := s.resource(cred, level)
	if !access.CanPerform(p, res, access.ActionDelete) {
		return access.ErrDenied
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.trail.Record(ctx, audit.Entry{
		SubjectType: audit.SubjectCredential, SubjectID: cred.ID,
		ActorID: p.ID, Action: "delete",
	})
	return nil
}

// DeleteAll is the privileged bulk removal, distinct from single delete.
func (s *Service) DeleteAll(ctx context.Context, p identity.Principal) (int64, error) {
	p = identity.Normalize(p)
	if !access.CanPerform(p, access.Resource{Category: access.CategoryCredential}, access.ActionBulkDelete) {
		return 0, access.ErrDenied
	}
	removed, err := s.store.DeleteAll(ctx)
	if err != nil {
		return 0, err
	}
	s.trail.Record(ctx, audit.Entry{
		SubjectType: audit.SubjectCredential, SubjectID: "*",
		ActorID: p.ID, Action: "bulk-delete",
	})
	return removed, nil
}

// CredentialInfo exposes ownership data to the sharing manager.
func (s *Service) CredentialInfo(ctx context.Context, id string) (Credential, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) load(ctx context.Context, p identity.Principal, id string) (Credential, access.GrantLevel, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Credential{}, access.LevelNone, fmt.Errorf("%w: credential id is required", access.ErrInvalidInput)
	}
	cred, err := s.store.Get(ctx, id)
	if err != nil {
		return Credential{}, access.LevelNone, err
	}
	level := access.LevelNone
	if p.IsUser() {
		l, ok, err := s.grants.Level(ctx, id, p.ID)
		if err != nil {
			return Credential{}, access.LevelNone, fmt.Errorf("%w: grant lookup: %v", access.ErrStorage, err)
		}
		if ok {
			level = l
		}
	}
	return cred, level, nil
}

func (s *Service) resource(cred Credential, level access.GrantLevel) access.Resource {
	return access.Resource{
		Category:       access.CategoryCredential,
		OwnerID:        cred.CreatedBy,
		OrganizationID: cred.OrganizationID,
		Grant:          level,
	}
}
