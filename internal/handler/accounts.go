package handler

import (
	"fmt"
	"mime"
	"net/http"

	"github.com/faucetdb/keygate/internal/errs"
	"github.com/faucetdb/keygate/internal/model"
	"github.com/faucetdb/keygate/internal/server/middleware"
	"github.com/faucetdb/keygate/internal/service"
)

// AccountHandler serves login and account management.
type AccountHandler struct {
	accounts *service.AccountService
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(accounts *service.AccountService) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

// tokenRequest accepts either "username" or "email" for the login name.
type tokenRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Token exchanges email and password for a bearer token. Both JSON and
// form-encoded bodies are accepted.
// POST /api/token
func (h *AccountHandler) Token(w http.ResponseWriter, r *http.Request) {
	req, err := parseTokenRequest(w, r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	login := req.Username
	if login == "" {
		login = req.Email
	}
	if login == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	res, err := h.accounts.Authenticate(r.Context(), login, req.Password)
	if err != nil {
		if errs.Status(err) == http.StatusUnauthorized {
			w.Header().Set("WWW-Authenticate", `Bearer realm="keygate"`)
		}
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.TokenResponse{
		AccessToken: res.Token,
		TokenType:   "bearer",
		ExpiresAt:   res.ExpiresAt.Unix(),
		User:        res.Account,
	})
}

func parseTokenRequest(w http.ResponseWriter, r *http.Request) (tokenRequest, error) {
	var req tokenRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			return req, fmt.Errorf("%w: invalid form body", errs.ErrValidation)
		}
		req.Username = r.PostFormValue("username")
		req.Email = r.PostFormValue("email")
		req.Password = r.PostFormValue("password")
		return req, nil
	default:
		err := readJSON(w, r, &req)
		return req, err
	}
}

// Register creates an account.
// POST /api/users
func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	var in service.RegisterInput
	if err := readJSON(w, r, &in); err != nil {
		writeServiceError(w, err)
		return
	}
	a, err := h.accounts.Register(r.Context(), in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// Me returns the authenticated account.
// GET /api/users/me
func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, middleware.AccountFromContext(r.Context()))
}

// UpdateMe applies a profile update to the authenticated account.
// PUT /api/users/me
func (h *AccountHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var in service.UpdateAccountInput
	if err := readJSON(w, r, &in); err != nil {
		writeServiceError(w, err)
		return
	}
	a, err := h.accounts.UpdateSelf(r.Context(), middleware.AccountFromContext(r.Context()), in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// GetUser returns any account. Superuser only.
// GET /api/users/{userId}
func (h *AccountHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "userId")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	a, err := h.accounts.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ListUsers pages through accounts. Superuser only.
// GET /api/users?skip=&limit=
func (h *AccountHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	skip, err := queryInt(r, "skip", 0)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	limit, err := queryInt(r, "limit", service.DefaultPageSize)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	accounts, err := h.accounts.List(r.Context(), skip, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse[model.Account]{
		Resource: accounts,
		Meta:     &model.ResponseMeta{Count: len(accounts), Limit: limit, Offset: skip},
	})
}
