package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"opsdesk.org/internal/invoice"
)

type createInvoiceRequest struct {
	OrganizationID string `json:"organization_id"`
	Category       string `json:"category"`
	AmountCents    int64  `json:"amount_cents"`
	Currency       string `json:"currency"`
	Description    string `json:"description"`
}

type updateInvoiceRequest struct {
	AmountCents *int64  `json:"amount_cents"`
	Currency    *string `json:"currency"`
	Description *string `json:"description"`
}

type rejectInvoiceRequest struct {
	Reason string `json:"reason"`
}

func (a *API) handleInvoices(w http.ResponseWriter, r *http.Request) {
	if a.invoices == nil {
		writeError(w, r, http.StatusServiceUnavailable, "invoice service unavailable")
		return
	}
	p, ok := principal(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		f := invoice.Filter{
			OrganizationID: r.URL.Query().Get("organization_id"),
			Category:       invoice.Category(r.URL.Query().Get("category")),
		}
		if raw := r.URL.Query().Get("status"); raw != "" {
			status, ok := invoice.ParseStatus(raw)
			if !ok {
				writeError(w, r, http.StatusBadRequest, fmt.Sprintf("unknown status %q", raw))
				return
			}
			f.Status = status
		}
		list, err := a.invoices.List(r.Context(), p, f)
		if err != nil {
			handleCoreError(w, r, err)
			return
		}
		if list == nil {
			list = []invoice.Invoice{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"invoices": list})
	case http.MethodPost:
		var req createInvoiceRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		inv, err := a.invoices.Create(r.Context(), p, invoice.CreateInput{
			OrganizationID: req.OrganizationID,
			Category:       invoice.Category(req.Category),
			AmountCents:    req.AmountCents,
			Currency:       req.Currency,
			Description:    req.Description,
		})
		if err != nil {
			handleCoreError(w, r, err)
			return
		}
		w.Header().Set("Location", fmt.Sprintf("/v1/invoices/%s", inv.ID))
		writeJSON(w, http.StatusCreated, inv)
	case http.MethodDelete:
		n, err := a.invoices.BulkClear(r.Context(), p)
		if err != nil {
			handleCoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": n})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost, http.MethodDelete)
	}
}

func (a *API) handleInvoiceScoped(w http.ResponseWriter, r *http.Request) {
	if a.invoices == nil {
		writeError(w, r, http.StatusServiceUnavailable, "invoice service unavailable")
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/invoices/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	id := parts[0]
	switch {
	case len(parts) == 1:
		a.handleInvoiceResource(w, r, id)
	case len(parts) == 2 && parts[1] == "approve":
		a.handleInvoiceApprove(w, r, id)
	case len(parts) == 2 && parts[1] == "reject":
		a.handleInvoiceReject(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleInvoiceResource(w http.ResponseWriter, r *http.Request, id string) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		inv, err := a.invoices.Get(r.Context(), p, id)
		if err != nil {
			handleCoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, inv)
	case http.MethodPatch:
		var req updateInvoiceRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		inv, err := a.invoices.Edit(r.Context(), p, id, invoice.Update{
			AmountCents: req.AmountCents,
			Currency:    req.Currency,
			Description: req.Description,
		})
		if err != nil {
			handleCoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, inv)
	case http.MethodDelete:
		if err := a.invoices.Delete(r.Context(), p, id); err != nil {
			handleCoreError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) handleInvoiceApprove(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := principal(w, r)
	if !ok {
		return
	}
	inv, err := a.invoices.Approve(r.Context(), p, id)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (a *API) handleInvoiceReject(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req rejectInvoiceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	inv, err := a.invoices.Reject(r.Context(), p, id, req.Reason)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}
