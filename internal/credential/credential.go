package credential

import (
	"context"
	"strings"
	"time"

	"opsdesk.org/internal/access"
)

// Field names one secret slot on a credential.
type Field string

const (
	FieldUsername Field = "username"
	FieldPassword Field = "password"
	FieldAPIKey   Field = "api_key"
)

// Mask is the fixed sentinel returned in place of any secret value on every
// listing path. Cleartext leaves the store only through DiscloseSecret.
const Mask = "********"

// ParseField validates a raw field name.
func ParseField(raw string) (Field, bool) {
	switch Field(strings.TrimSpace(strings.ToLower(raw))) {
	case FieldUsername:
		return FieldUsername, true
	case FieldPassword:
		return FieldPassword, true
	case FieldAPIKey:
		return FieldAPIKey, true
	}
	return "", false
}

// Status is the credential lifecycle flag.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Credential is a shared login or API key record. Secret values are never
// carried on this struct; SecretFields only says which slots are populated.
type Credential struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	Status         Status    `json:"status"`
	CreatedBy      string    `json:"created_by"`
	SecretFields   []Field   `json:"secret_fields"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	Version        int64     `json:"version"`
}

// View is the listing shape: the record plus its secret slots, every value
// replaced by the mask sentinel.
type View struct {
	Credential
	Secrets map[Field]string `json:"secrets"`
}

func maskedView(c Credential) View {
	secrets := make(map[Field]string, len(c.SecretFields))
	for _, f := range c.SecretFields {
		secrets[f] = Mask
	}
	return View{Credential: c, Secrets: secrets}
}

// Secrets carries cleartext field values into the store on create/update.
type Secrets map[Field]string

// Update is a partial mutation applied under a version precondition.
type Update struct {
	Name    *string
	Status  *Status
	Secrets Secrets
}

// Store persists credentials. Mutations are compare-and-set on the record
// version; a stale version yields access.ErrConflict. Secret reads the
// cleartext of exactly one field in a single round trip.
type Store interface {
	Create(ctx context.Context, c *Credential, secrets Secrets) error
	Get(ctx context.Context, id string) (Credential, error)
	List(ctx context.Context) ([]Credential, error)
	// ListVisible returns credentials the user owns or holds a grant on.
	ListVisible(ctx context.Context, userID string) ([]Credential, error)
	Update(ctx context.Context, id string, version int64, upd Update) (Credential, error)
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) (int64, error)
	Secret(ctx context.Context, id string, field Field) (string, error)
}

// GrantSource resolves the active share-grant level a user holds on a
// credential.
type GrantSource interface {
	Level(ctx context.Context, credentialID, userID string) (access.GrantLevel, bool, error)
}
