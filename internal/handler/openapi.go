package handler

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/faucetdb/keygate/internal/connector"
	"github.com/faucetdb/keygate/internal/openapi"
)

// OpenAPIHandler serves the API description. The document is built on first
// request and cached.
type OpenAPIHandler struct {
	registry *connector.Registry
	baseURL  string
	version  string

	once sync.Once
	doc  []byte
	err  error
}

// NewOpenAPIHandler creates an OpenAPIHandler.
func NewOpenAPIHandler(registry *connector.Registry, baseURL, version string) *OpenAPIHandler {
	return &OpenAPIHandler{registry: registry, baseURL: baseURL, version: version}
}

// ServeSpec writes the OpenAPI document.
// GET /openapi.json
func (h *OpenAPIHandler) ServeSpec(w http.ResponseWriter, r *http.Request) {
	h.once.Do(func() {
		h.doc, h.err = json.Marshal(openapi.Generate(openapi.Options{
			BaseURL:  h.baseURL,
			Version:  h.version,
			Services: openapi.ServicesFrom(h.registry.Specs()),
		}))
	})
	if h.err != nil {
		writeError(w, http.StatusInternalServerError, "failed to build API description")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(h.doc)
}
