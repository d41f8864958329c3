package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"opsdesk.org/internal/audit"
	"opsdesk.org/internal/credential"
	"opsdesk.org/internal/identity"
	"opsdesk.org/internal/invoice"
	"opsdesk.org/internal/notify"
	"opsdesk.org/internal/sharing"
	"opsdesk.org/internal/store/memory"
)

type testEnv struct {
	handler  http.Handler
	accounts *identity.Service
	tokens   *identity.Authenticator
	store    *memory.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.New()

	accounts, err := identity.NewService(store.Principals())
	if err != nil {
		t.Fatalf("identity.NewService: %v", err)
	}
	tokens, err := identity.NewAuthenticator("unit-test-token-secret")
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	trail, err := audit.NewRecorder(store.AuditLog())
	if err != nil {
		t.Fatalf("audit.NewRecorder: %v", err)
	}
	events := notify.LogEmitter{}
	credentials, err := credential.NewService(store.Credentials(), store.Grants(), trail, events)
	if err != nil {
		t.Fatalf("credential.NewService: %v", err)
	}
	shares, err := sharing.NewManager(store.Grants(), credentials, trail, events)
	if err != nil {
		t.Fatalf("sharing.NewManager: %v", err)
	}
	invoices, err := invoice.NewService(store.Invoices(), trail, events)
	if err != nil {
		t.Fatalf("invoice.NewService: %v", err)
	}

	api := New(Deps{
		Identity:    accounts,
		Tokens:      tokens,
		Credentials: credentials,
		Shares:      shares,
		Invoices:    invoices,
		Trail:       trail,
		Version:     "test",
	})
	return &testEnv{handler: api.Handler(), accounts: accounts, tokens: tokens, store: store}
}

// provision creates an account and returns a signed access token for it.
func (env *testEnv) provision(t *testing.T, email string, role identity.Role, tier identity.AdminTier) (identity.Account, string) {
	t.Helper()
	acct, err := env.accounts.Provision(context.Background(), "org-main", email, "changeme-now", role, tier, nil)
	if err != nil {
		t.Fatalf("Provision %s: %v", email, err)
	}
	token, _, err := env.tokens.Issue(acct)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return acct, token
}

func (env *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	// Zero the destination first: callers reuse structs across requests, and
	// fields omitted by omitempty would otherwise keep the previous decode's
	// values.
	if v := reflect.ValueOf(out); v.Kind() == reflect.Pointer && !v.IsNil() {
		v.Elem().Set(reflect.Zero(v.Elem().Type()))
	}
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestHealthzIsPublic(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAuthTokenFlow(t *testing.T) {
	env := newTestEnv(t)
	env.provision(t, "alice@opsdesk.test", identity.RoleUser, "")

	rec := env.do(t, http.MethodPost, "/v1/auth/token", "", map[string]string{
		"email": "alice@opsdesk.test", "password": "changeme-now",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	decodeBody(t, rec, &resp)
	if resp.Token == "" {
		t.Fatalf("no token in response")
	}

	// The issued token opens protected routes.
	if rec := env.do(t, http.MethodGet, "/v1/credentials", resp.Token, nil); rec.Code != http.StatusOK {
		t.Fatalf("authorized list = %d: %s", rec.Code, rec.Body.String())
	}

	// Wrong password and unknown email collapse to the same 401.
	for _, creds := range []map[string]string{
		{"email": "alice@opsdesk.test", "password": "wrong"},
		{"email": "nobody@opsdesk.test", "password": "changeme-now"},
	} {
		if rec := env.do(t, http.MethodPost, "/v1/auth/token", "", creds); rec.Code != http.StatusUnauthorized {
			t.Fatalf("bad login %v = %d", creds, rec.Code)
		}
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)

	if rec := env.do(t, http.MethodGet, "/v1/credentials", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/v1/credentials", "not-a-jwt", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token = %d", rec.Code)
	}

	// A token for a deleted account stops working immediately.
	acct, token := env.provision(t, "gone@opsdesk.test", identity.RoleUser, "")
	if err := env.accounts.Delete(context.Background(), acct.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if rec := env.do(t, http.MethodGet, "/v1/credentials", token, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("deleted account token = %d", rec.Code)
	}
}

func TestCredentialLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	_, ownerToken := env.provision(t, "owner@opsdesk.test", identity.RoleUser, "")
	viewer, viewerToken := env.provision(t, "viewer@opsdesk.test", identity.RoleUser, "")

	rec := env.do(t, http.MethodPost, "/v1/credentials", ownerToken, map[string]any{
		"name":    "warehouse wifi",
		"secrets": map[string]string{"password": "hunter2"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d: %s", rec.Code, rec.Body.String())
	}
	var created credential.Credential
	decodeBody(t, rec, &created)
	if rec.Header().Get("Location") != "/v1/credentials/"+created.ID {
		t.Fatalf("location = %q", rec.Header().Get("Location"))
	}

	// Listings carry the mask, never the cleartext.
	rec = env.do(t, http.MethodGet, "/v1/credentials", ownerToken, nil)
	var listing struct {
		Credentials []credential.View `json:"credentials"`
	}
	decodeBody(t, rec, &listing)
	if len(listing.Credentials) != 1 {
		t.Fatalf("listing = %d entries", len(listing.Credentials))
	}
	if got := listing.Credentials[0].Secrets[credential.FieldPassword]; got != credential.Mask {
		t.Fatalf("listing value = %q", got)
	}

	disclosePath := "/v1/credentials/" + created.ID + "/disclose"
	discloseBody := map[string]string{"field": "password"}

	if rec := env.do(t, http.MethodPost, disclosePath, viewerToken, discloseBody); rec.Code != http.StatusForbidden {
		t.Fatalf("ungranted disclose = %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, disclosePath, ownerToken, discloseBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("owner disclose = %d: %s", rec.Code, rec.Body.String())
	}
	var disclosed map[string]string
	decodeBody(t, rec, &disclosed)
	if disclosed["value"] != "hunter2" {
		t.Fatalf("disclosed = %+v", disclosed)
	}

	grantsPath := "/v1/credentials/" + created.ID + "/grants"
	rec = env.do(t, http.MethodPost, grantsPath, ownerToken, map[string]string{
		"grantee_id": viewer.ID, "permission": "view",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("grant = %d: %s", rec.Code, rec.Body.String())
	}
	if rec := env.do(t, http.MethodPost, disclosePath, viewerToken, discloseBody); rec.Code != http.StatusOK {
		t.Fatalf("granted disclose = %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, grantsPath, ownerToken, nil)
	var grants struct {
		Grants []sharing.Grant `json:"grants"`
	}
	decodeBody(t, rec, &grants)
	if len(grants.Grants) != 1 || grants.Grants[0].GranteeID != viewer.ID {
		t.Fatalf("grants = %+v", grants.Grants)
	}

	if rec := env.do(t, http.MethodDelete, grantsPath+"/"+viewer.ID, ownerToken, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("revoke = %d: %s", rec.Code, rec.Body.String())
	}
	if rec := env.do(t, http.MethodPost, disclosePath, viewerToken, discloseBody); rec.Code != http.StatusForbidden {
		t.Fatalf("revoked disclose = %d", rec.Code)
	}

	if rec := env.do(t, http.MethodPost, disclosePath, ownerToken, map[string]string{"field": "pin"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad field = %d", rec.Code)
	}
}

func TestInvoiceLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	_, uploaderToken := env.provision(t, "uploader@opsdesk.test", identity.RoleUser, "")
	_, adminToken := env.provision(t, "admin@opsdesk.test", identity.RoleAdmin, identity.TierAdmin)

	rec := env.do(t, http.MethodPost, "/v1/invoices", uploaderToken, map[string]any{
		"amount_cents": 12500, "currency": "usd", "description": "supplies",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d: %s", rec.Code, rec.Body.String())
	}
	var inv invoice.Invoice
	decodeBody(t, rec, &inv)
	if inv.Status != invoice.StatusPending || inv.Currency != "USD" {
		t.Fatalf("created = %+v", inv)
	}

	base := "/v1/invoices/" + inv.ID

	// The uploader cannot settle the own invoice.
	if rec := env.do(t, http.MethodPost, base+"/approve", uploaderToken, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("self approve = %d", rec.Code)
	}

	// Rejection needs a reason.
	if rec := env.do(t, http.MethodPost, base+"/reject", adminToken, map[string]string{"reason": " "}); rec.Code != http.StatusBadRequest {
		t.Fatalf("blank reason = %d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, base+"/reject", adminToken, map[string]string{"reason": "missing receipt"})
	if rec.Code != http.StatusOK {
		t.Fatalf("reject = %d: %s", rec.Code, rec.Body.String())
	}
	decodeBody(t, rec, &inv)
	if inv.Status != invoice.StatusRejected || inv.RejectionReason != "missing receipt" {
		t.Fatalf("rejected = %+v", inv)
	}

	// Rejected never moves to approved directly.
	if rec := env.do(t, http.MethodPost, base+"/approve", adminToken, nil); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("rejected approve = %d", rec.Code)
	}

	// The uploader's edit resubmits the invoice.
	rec = env.do(t, http.MethodPatch, base, uploaderToken, map[string]string{"description": "receipt attached"})
	if rec.Code != http.StatusOK {
		t.Fatalf("edit = %d: %s", rec.Code, rec.Body.String())
	}
	decodeBody(t, rec, &inv)
	if inv.Status != invoice.StatusPending || inv.RejectionReason != "" {
		t.Fatalf("resubmitted = %+v", inv)
	}

	rec = env.do(t, http.MethodPost, base+"/approve", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve = %d: %s", rec.Code, rec.Body.String())
	}
	decodeBody(t, rec, &inv)
	if inv.Status != invoice.StatusApproved || inv.ApprovedBy == "" {
		t.Fatalf("approved = %+v", inv)
	}

	// An approved invoice is frozen for the uploader and the regular admin.
	for name, token := range map[string]string{"uploader": uploaderToken, "admin": adminToken} {
		if rec := env.do(t, http.MethodPatch, base, token, map[string]string{"description": "fixup"}); rec.Code != http.StatusForbidden {
			t.Fatalf("%s edit approved = %d", name, rec.Code)
		}
	}

	if rec := env.do(t, http.MethodGet, "/v1/invoices?status=bogus", adminToken, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad status filter = %d", rec.Code)
	}
}

func TestAuditTrailEndpoint(t *testing.T) {
	env := newTestEnv(t)
	_, ownerToken := env.provision(t, "owner@opsdesk.test", identity.RoleUser, "")
	_, adminToken := env.provision(t, "admin@opsdesk.test", identity.RoleAdmin, identity.TierAdmin)

	rec := env.do(t, http.MethodPost, "/v1/credentials", ownerToken, map[string]any{
		"name":    "warehouse wifi",
		"secrets": map[string]string{"password": "hunter2"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d", rec.Code)
	}
	var created credential.Credential
	decodeBody(t, rec, &created)
	if rec := env.do(t, http.MethodPost, "/v1/credentials/"+created.ID+"/disclose", ownerToken, map[string]string{"field": "password"}); rec.Code != http.StatusOK {
		t.Fatalf("disclose = %d", rec.Code)
	}

	trailPath := "/v1/audit/credential/" + created.ID
	rec = env.do(t, http.MethodGet, trailPath, adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin trail = %d: %s", rec.Code, rec.Body.String())
	}
	var trail struct {
		Entries []audit.Entry `json:"entries"`
	}
	decodeBody(t, rec, &trail)
	if len(trail.Entries) < 2 {
		t.Fatalf("entries = %d, want create and disclose", len(trail.Entries))
	}
	if trail.Entries[0].Action != "disclose" {
		t.Fatalf("newest action = %q", trail.Entries[0].Action)
	}

	if rec := env.do(t, http.MethodGet, trailPath, ownerToken, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("user trail = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/v1/audit/widget/x", adminToken, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("bad subject = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, trailPath+"?limit=zero", adminToken, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit = %d", rec.Code)
	}
}

func TestResponseHygiene(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("nosniff header missing")
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("request id header missing")
	}

	// A caller-provided request id is echoed back.
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "req-1234")
	echo := httptest.NewRecorder()
	env.handler.ServeHTTP(echo, req)
	if echo.Header().Get("X-Request-Id") != "req-1234" {
		t.Fatalf("request id = %q", echo.Header().Get("X-Request-Id"))
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	env := newTestEnv(t)
	limited := RateLimit(env.handler, 1, 1)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "192.0.2.1:4000"
		rec := httptest.NewRecorder()
		limited.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK {
		t.Fatalf("first request = %d", codes[0])
	}
	if codes[1] != http.StatusTooManyRequests && codes[2] != http.StatusTooManyRequests {
		t.Fatalf("burst never limited: %v", codes)
	}

	// A different client keeps its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "192.0.2.2:4000"
	rec := httptest.NewRecorder()
	limited.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("second client = %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.provision(t, "user@opsdesk.test", identity.RoleUser, "")

	rec := env.do(t, http.MethodPut, "/v1/credentials", token, nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Allow") == "" {
		t.Fatalf("Allow header missing")
	}
}
