// Package memory is a map-backed store used by tests and the smoke binary.
// It mirrors the behavior of the pg package, including version
// compare-and-set semantics, without a database.
package memory

import (
	"sync"
	"time"

	"opsdesk.org/internal/audit"
	"opsdesk.org/internal/credential"
	"opsdesk.org/internal/identity"
	"opsdesk.org/internal/invoice"
	"opsdesk.org/internal/sharing"
)

type grantKey struct {
	credentialID string
	granteeID    string
}

// Store holds every record family behind one mutex.
type Store struct {
	mu          sync.Mutex
	now         func() time.Time
	accounts    map[string]identity.Account
	credentials map[string]credential.Credential
	secrets     map[string]credential.Secrets
	grants      map[grantKey]sharing.Grant
	invoices    map[string]invoice.Invoice
	entries     []audit.Entry
}

func New() *Store {
	return &Store{
		now:         func() time.Time { return time.Now().UTC() },
		accounts:    make(map[string]identity.Account),
		credentials: make(map[string]credential.Credential),
		secrets:     make(map[string]credential.Secrets),
		grants:      make(map[grantKey]sharing.Grant),
		invoices:    make(map[string]invoice.Invoice),
	}
}

// WithClock pins record timestamps for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Principals() *Principals   { return &Principals{s: s} }
func (s *Store) Credentials() *Credentials { return &Credentials{s: s} }
func (s *Store) Grants() *Grants           { return &Grants{s: s} }
func (s *Store) Invoices() *Invoices       { return &Invoices{s: s} }
func (s *Store) AuditLog() *AuditLog       { return &AuditLog{s: s} }
