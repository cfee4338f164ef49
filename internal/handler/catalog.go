package handler

import (
	"net/http"

	"github.com/faucetdb/keygate/internal/connector"
	"github.com/faucetdb/keygate/internal/model"
)

// catalogEntry describes one supported upstream service.
type catalogEntry struct {
	Name           string   `json:"name"`
	Label          string   `json:"label"`
	BaseURL        string   `json:"base_url"`
	DocsURL        string   `json:"docs_url,omitempty"`
	RequiredFields []string `json:"required_fields"`
}

// Catalog lists the supported services and the metadata each requires.
// GET /api/catalog
func Catalog(registry *connector.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		specs := registry.Specs()
		entries := make([]catalogEntry, 0, len(specs))
		for _, s := range specs {
			entries = append(entries, catalogEntry{
				Name:           s.Name,
				Label:          s.Label,
				BaseURL:        s.BaseURL,
				DocsURL:        s.DocsURL,
				RequiredFields: s.RequiredFields,
			})
		}
		writeJSON(w, http.StatusOK, model.ListResponse[catalogEntry]{
			Resource: entries,
			Meta:     &model.ResponseMeta{Count: len(entries)},
		})
	}
}
