package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"opsdesk.org/internal/audit"
)

const defaultTrailLimit = 100

// handleAuditTrail serves GET /v1/audit/{subjectType}/{subjectID}. The trail
// exposes who touched a record, so it is limited to admin tiers and
// accountants.
func (a *API) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	if a.trail == nil {
		writeError(w, r, http.StatusServiceUnavailable, "audit service unavailable")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	p, ok := principal(w, r)
	if !ok {
		return
	}
	if !p.IsAdmin() && !p.IsAccountant() {
		writeError(w, r, http.StatusForbidden, "audit trail requires an admin or accountant role")
		return
	}

	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/audit/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	var subjectType audit.SubjectType
	switch parts[0] {
	case string(audit.SubjectCredential):
		subjectType = audit.SubjectCredential
	case string(audit.SubjectInvoice):
		subjectType = audit.SubjectInvoice
	default:
		writeError(w, r, http.StatusNotFound, "unknown subject type")
		return
	}

	limit := defaultTrailLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := a.trail.Trail(r.Context(), subjectType, parts[1], limit)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
