package openapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
)

func testDoc() Options {
	return Options{
		BaseURL: "http://localhost:8080",
		Version: "1.2.3",
		Services: []ServiceInfo{
			{Name: "tmdb", Label: "TMDB API", RequiredFields: []string{"api_key"}},
			{Name: "weather", Label: "Weather API", RequiredFields: []string{"api_key"}},
		},
	}
}

func TestGenerate_ManagementPaths(t *testing.T) {
	doc := Generate(testDoc())

	want := map[string][]string{
		"/health":                 {http.MethodGet},
		"/api/token":              {http.MethodPost},
		"/api/users":              {http.MethodGet, http.MethodPost},
		"/api/users/me":           {http.MethodGet, http.MethodPut},
		"/api/users/{userId}":     {http.MethodGet},
		"/api/catalog":            {http.MethodGet},
		"/api/keys":               {http.MethodGet, http.MethodPost},
		"/api/keys/{keyId}":       {http.MethodGet, http.MethodPut, http.MethodDelete},
		"/api/keys/{keyId}/usage": {http.MethodGet},
		"/api/monitor/usage":      {http.MethodGet},
		"/api/monitor/errors":     {http.MethodGet},
		"/api/monitor/rate-limits/{credentialId}": {http.MethodGet},
	}
	for path, methods := range want {
		item := doc.Paths.Value(path)
		if item == nil {
			t.Errorf("missing path %s", path)
			continue
		}
		for _, m := range methods {
			if item.GetOperation(m) == nil {
				t.Errorf("missing %s %s", m, path)
			}
		}
	}
}

func TestGenerate_Security(t *testing.T) {
	doc := Generate(testDoc())

	keys := doc.Paths.Value("/api/keys").Get
	if keys.Security == nil || len(*keys.Security) != 1 {
		t.Fatalf("keys security = %v", keys.Security)
	}
	if _, ok := (*keys.Security)[0]["bearerAuth"]; !ok {
		t.Errorf("GET /api/keys should require bearerAuth")
	}

	token := doc.Paths.Value("/api/token").Post
	if token.Security == nil || len(*token.Security) != 0 {
		t.Errorf("POST /api/token should be public, got %v", token.Security)
	}

	proxy := doc.Paths.Value("/api/tmdb/{path}")
	if proxy == nil {
		t.Fatal("missing tmdb proxy path")
	}
	if _, ok := (*proxy.Get.Security)[0]["apiKey"]; !ok {
		t.Error("proxy should require apiKey")
	}
	if proxy.Get.Responses.Value("429") == nil {
		t.Error("proxy should document 429")
	}
}

func TestGenerate_ServiceEnum(t *testing.T) {
	doc := Generate(testDoc())
	create := doc.Components.Schemas["CredentialCreate"].Value
	enum := create.Properties["service_name"].Value.Enum
	if len(enum) != 2 || enum[0] != "tmdb" || enum[1] != "weather" {
		t.Errorf("service_name enum = %v", enum)
	}
}

func TestGenerate_JSON(t *testing.T) {
	doc := Generate(testDoc())
	b, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(b)
	for _, want := range []string{`"openapi":"3.1.0"`, `"version":"1.2.3"`, `"url":"http://localhost:8080"`, `"X-API-Key"`} {
		if !strings.Contains(s, want) {
			t.Errorf("document missing %s", want)
		}
	}
}

func TestGenerate_DefaultVersion(t *testing.T) {
	doc := Generate(Options{})
	if doc.Info.Version != "dev" {
		t.Errorf("version = %q", doc.Info.Version)
	}
	if len(doc.Servers) != 0 {
		t.Errorf("servers = %v", doc.Servers)
	}
}
