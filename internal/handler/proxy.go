package handler

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/faucetdb/keygate/internal/connector"
	"github.com/faucetdb/keygate/internal/errs"
	"github.com/faucetdb/keygate/internal/server/middleware"
	"github.com/faucetdb/keygate/internal/service"
)

// relayHeaders are copied from the upstream response to the caller.
var relayHeaders = []string{"Content-Type", "Cache-Control", "ETag", "Last-Modified"}

// ProxyHandler forwards access-key requests to the credential's upstream
// service. It runs behind the request interceptor, which has already
// admitted the credential.
type ProxyHandler struct {
	creds     *service.CredentialService
	connector *connector.Connector
	logger    *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(creds *service.CredentialService, conn *connector.Connector, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{creds: creds, connector: conn, logger: logger}
}

// Forward relays the request to the upstream service named in the path.
// ANY /api/{service}/*
func (h *ProxyHandler) Forward(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	svc := chi.URLParam(r, "service")

	cred := middleware.CredentialFromContext(ctx)
	if cred == nil {
		writeError(w, http.StatusUnauthorized, "credential required")
		return
	}
	if _, ok := h.connector.Registry().Lookup(svc); !ok {
		middleware.ReportError(ctx, fmt.Errorf("unknown service %q", svc))
		writeError(w, http.StatusNotFound, "unknown service: "+svc)
		return
	}
	if cred.ServiceName != svc {
		err := fmt.Errorf("%w: credential is for %s, not %s", errs.ErrAuthorization, cred.ServiceName, svc)
		middleware.ReportError(ctx, err)
		writeServiceError(w, err)
		return
	}

	secret, err := h.creds.Secret(cred)
	if err != nil {
		h.logger.Error("credential decrypt failed", "credential_id", cred.ID, "error", err)
		middleware.ReportError(ctx, err)
		writeServiceError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	res, err := h.connector.Do(ctx, svc, connector.Call{
		Method:   r.Method,
		Path:     chi.URLParam(r, "*"),
		Query:    r.URL.Query(),
		Header:   r.Header,
		Body:     r.Body,
		Secret:   secret,
		Metadata: cred.Metadata,
	})
	if err != nil {
		middleware.ReportError(ctx, err)
		writeServiceError(w, err)
		return
	}
	if res.Status >= 500 {
		middleware.ReportError(ctx, fmt.Errorf("%w: %s returned %d", errs.ErrUpstream, svc, res.Status))
	}

	for _, k := range relayHeaders {
		if v := res.Header.Get(k); v != "" {
			w.Header().Set(k, v)
		}
	}
	w.WriteHeader(res.Status)
	w.Write(res.Body)
}
