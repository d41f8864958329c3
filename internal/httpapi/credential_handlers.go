package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"opsdesk.org/internal/access"
	"opsdesk.org/internal/credential"
)

type createCredentialRequest struct {
	OrganizationID string            `json:"organization_id"`
	Name           string            `json:"name"`
	Status         string            `json:"status"`
	Secrets        map[string]string `json:"secrets"`
}

type updateCredentialRequest struct {
	Name    *string           `json:"name"`
	Status  *string           `json:"status"`
	Secrets map[string]string `json:"secrets"`
}

type discloseRequest struct {
	Field string `json:"field"`
}

type grantRequest struct {
	GranteeID string `json:"grantee_id"`
	Level     string `json:"permission"`
}

func (a *API) handleCredentials(w http.ResponseWriter, r *http.Request) {
	if a.credentials == nil {
		writeError(w, r, http.StatusServiceUnavailable, "credential service unavailable")
		return
	}
	p, ok := principal(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		views, err := a.credentials.List(r.Context(), p)
		if err != nil {
			handleCoreError(w, r, err)
			return
		}
		if views == nil {
			views = []credential.View{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"credentials": views})
	case http.MethodPost:
		var req createCredentialRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		in := credential.CreateInput{
			OrganizationID: req.OrganizationID,
			Name:           req.Name,
			Status:         credential.Status(req.Status),
			Secrets:        toSecrets(req.Secrets),
		}
		cred, err := a.credentials.Create(r.Context(), p, in)
		if err != nil {
			handleCoreError(w, r, err)
			return
		}
		w.Header().Set("Location", fmt.Sprintf("/v1/credentials/%s", cred.ID))
		writeJSON(w, http.StatusCreated, cred)
	case http.MethodDelete:
		n, err := a.credentials.DeleteAll(r.Context(), p)
		if err != nil {
			handleCoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": n})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost, http.MethodDelete)
	}
}

func (a *API) handleCredentialScoped(w http.ResponseWriter, r *http.Request) {
	if a.credentials == nil {
		writeError(w, r, http.StatusServiceUnavailable, "credential service unavailable")
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/credentials/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	id := parts[0]
	switch {
	case len(parts) == 1:
		a.handleCredentialResource(w, r, id)
	case len(parts) == 2 && parts[1] == "disclose":
		a.handleCredentialDisclose(w, r, id)
	case len(parts) == 2 && parts[1] == "grants":
		a.handleCredentialGrants(w, r, id)
	case len(parts) == 3 && parts[1] == "grants":
		a.handleCredentialGrant(w, r, id, parts[2])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleCredentialResource(w http.ResponseWriter, r *http.Request, id string) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		view, err := a.credentials.Get(r.Context(), p, id)
		if err != nil {
			handleCoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	case http.MethodPatch:
		var req updateCredentialRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		upd := credential.Update{Secrets: toSecrets(req.Secrets)}
		if req.Name != nil {
			upd.Name = req.Name
		}
		if req.Status != nil {
			status := credential.Status(*req.Status)
			upd.Status = &status
		}
		cred, err := a.credentials.Update(r.Context(), p, id, upd)
		if err != nil {
			handleCoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, cred)
	case http.MethodDelete:
		if err := a.credentials.Delete(r.Context(), p, id); err != nil {
			handleCoreError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) handleCredentialDisclose(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req discloseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	field, ok := credential.ParseField(req.Field)
	if !ok {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("unknown secret field %q", req.Field))
		return
	}
	value, err := a.credentials.DiscloseSecret(r.Context(), p, id, field)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"field": string(field),
		"value": value,
	})
}

func (a *API) handleCredentialGrants(w http.ResponseWriter, r *http.Request, id string) {
	if a.shares == nil {
		writeError(w, r, http.StatusServiceUnavailable, "sharing service unavailable")
		return
	}
	p, ok := principal(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		grants, err := a.shares.GrantsFor(r.Context(), p, id)
		if err != nil {
			handleCoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"grants": grants})
	case http.MethodPost:
		var req grantRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		g, err := a.shares.Grant(r.Context(), p, id, req.GranteeID, access.GrantLevel(req.Level))
		if err != nil {
			handleCoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, g)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleCredentialGrant(w http.ResponseWriter, r *http.Request, id, granteeID string) {
	if a.shares == nil {
		writeError(w, r, http.StatusServiceUnavailable, "sharing service unavailable")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	p, ok := principal(w, r)
	if !ok {
		return
	}
	if err := a.shares.Revoke(r.Context(), p, id, granteeID); err != nil {
		handleCoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toSecrets(raw map[string]string) credential.Secrets {
	if len(raw) == 0 {
		return nil
	}
	secrets := make(credential.Secrets, len(raw))
	for k, v := range raw {
		secrets[credential.Field(k)] = v
	}
	return secrets
}
