package connector

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/faucetdb/keygate/internal/errs"
)

// AuthStyle describes how a stored secret is presented to the upstream.
type AuthStyle int

const (
	// AuthBearer sends the secret as "Authorization: Bearer <secret>".
	AuthBearer AuthStyle = iota
	// AuthQuery sends the secret as a query parameter named by AuthParam.
	AuthQuery
)

// ServiceSpec is one entry of the fixed service registry: where the
// upstream lives and which credential metadata it requires.
type ServiceSpec struct {
	Name           string            `json:"name"`
	Label          string            `json:"label"`
	BaseURL        string            `json:"base_url"`
	DocsURL        string            `json:"docs_url,omitempty"`
	RequiredFields []string          `json:"required_fields"`
	SecretField    string            `json:"-"`
	Auth           AuthStyle         `json:"-"`
	AuthParam      string            `json:"-"`
	MetadataHeader map[string]string `json:"-"` // upstream header -> metadata field
}

// Validate checks that meta carries every required field with a non-empty
// value.
func (s ServiceSpec) Validate(meta map[string]string) error {
	for _, f := range s.RequiredFields {
		if strings.TrimSpace(meta[f]) == "" {
			return fmt.Errorf("%w: missing required field %q for service %q", errs.ErrValidation, f, s.Name)
		}
	}
	return nil
}

// DefaultServices returns the built-in service registry entries.
func DefaultServices() []ServiceSpec {
	return []ServiceSpec{
		{
			Name:           "tmdb",
			Label:          "TMDB API",
			BaseURL:        "https://api.themoviedb.org/3",
			DocsURL:        "https://developer.themoviedb.org/docs",
			RequiredFields: []string{"api_key"},
			SecretField:    "api_key",
			Auth:           AuthBearer,
		},
		{
			Name:           "weather",
			Label:          "Weather API",
			BaseURL:        "https://api.weatherapi.com/v1",
			DocsURL:        "https://www.weatherapi.com/docs/",
			RequiredFields: []string{"api_key"},
			SecretField:    "api_key",
			Auth:           AuthQuery,
			AuthParam:      "key",
		},
		{
			Name:           "disney_parks",
			Label:          "Disney Parks API",
			BaseURL:        "https://api.disneyparks.com/v1",
			RequiredFields: []string{"api_key", "client_id"},
			SecretField:    "api_key",
			Auth:           AuthBearer,
			MetadataHeader: map[string]string{"X-Client-ID": "client_id"},
		},
	}
}

// Registry holds the supported upstream services keyed by name.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]ServiceSpec
}

// NewRegistry creates a registry pre-populated with specs.
func NewRegistry(specs ...ServiceSpec) *Registry {
	r := &Registry{specs: make(map[string]ServiceSpec, len(specs))}
	for _, s := range specs {
		r.specs[s.Name] = s
	}
	return r
}

// Register adds or replaces a service spec.
func (r *Registry) Register(spec ServiceSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[spec.Name] = spec
}

// SetBaseURL overrides the upstream base URL of a registered service.
func (r *Registry) SetBaseURL(name, baseURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	spec, ok := r.specs[name]
	if !ok {
		return fmt.Errorf("service %q not found (available: %v)", name, r.names())
	}
	spec.BaseURL = baseURL
	r.specs[name] = spec
	return nil
}

// Lookup returns the service definition for name.
func (r *Registry) Lookup(name string) (ServiceSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[name]
	return s, ok
}

// Get returns the service definition for name or an errs.ErrValidation naming the
// supported services.
func (r *Registry) Get(name string) (ServiceSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.specs[name]
	if !ok {
		return ServiceSpec{}, fmt.Errorf("%w: unsupported service %q (available: %s)",
			errs.ErrValidation, name, strings.Join(r.names(), ", "))
	}
	return s, nil
}

// Names returns the registered service names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names()
}

// Specs returns every registered service definition sorted by name.
func (r *Registry) Specs() []ServiceSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ServiceSpec, 0, len(r.specs))
	for _, n := range r.names() {
		out = append(out, r.specs[n])
	}
	return out
}

func (r *Registry) names() []string {
	names := make([]string, 0, len(r.specs))
	for n := range r.specs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
