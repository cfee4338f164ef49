package handler

import (
	"net/http"

	"github.com/faucetdb/keygate/internal/model"
	"github.com/faucetdb/keygate/internal/server/middleware"
	"github.com/faucetdb/keygate/internal/service"
)

// KeyHandler serves credential management for the authenticated account.
type KeyHandler struct {
	creds *service.CredentialService
}

// NewKeyHandler creates a KeyHandler.
func NewKeyHandler(creds *service.CredentialService) *KeyHandler {
	return &KeyHandler{creds: creds}
}

// Create stores a new credential. The response carries the access key; it
// is never shown again.
// POST /api/keys
func (h *KeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in service.CreateCredentialInput
	if err := readJSON(w, r, &in); err != nil {
		writeServiceError(w, err)
		return
	}
	cred, rawKey, err := h.creds.Create(r.Context(), middleware.AccountFromContext(r.Context()), in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.creds.View(cred, rawKey))
}

// List returns the caller's credentials.
// GET /api/keys[?service_name=]
func (h *KeyHandler) List(w http.ResponseWriter, r *http.Request) {
	creds, err := h.creds.List(r.Context(), middleware.AccountFromContext(r.Context()), r.URL.Query().Get("service_name"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	views := make([]model.CredentialView, 0, len(creds))
	for i := range creds {
		views = append(views, h.creds.View(&creds[i], ""))
	}
	writeJSON(w, http.StatusOK, model.ListResponse[model.CredentialView]{
		Resource: views,
		Meta:     &model.ResponseMeta{Count: len(views)},
	})
}

// Get returns one of the caller's credentials.
// GET /api/keys/{keyId}
func (h *KeyHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "keyId")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	cred, err := h.creds.Get(r.Context(), middleware.AccountFromContext(r.Context()), id, service.CapRead)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.creds.View(cred, ""))
}

// Update changes metadata, activity, rate limit or expiry.
// PUT /api/keys/{keyId}
func (h *KeyHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "keyId")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	var in service.UpdateCredentialInput
	if err := readJSON(w, r, &in); err != nil {
		writeServiceError(w, err)
		return
	}
	cred, err := h.creds.Update(r.Context(), middleware.AccountFromContext(r.Context()), id, in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.creds.View(cred, ""))
}

// Delete removes a credential. Its usage history is kept.
// DELETE /api/keys/{keyId}
func (h *KeyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "keyId")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if err := h.creds.Delete(r.Context(), middleware.AccountFromContext(r.Context()), id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "credential deleted",
	})
}

// Usage lists the credential's usage records, newest first.
// GET /api/keys/{keyId}/usage[?limit=]
func (h *KeyHandler) Usage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "keyId")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	records, err := h.creds.Usage(r.Context(), middleware.AccountFromContext(r.Context()), id, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse[model.UsageRecord]{
		Resource: records,
		Meta:     &model.ResponseMeta{Count: len(records)},
	})
}
