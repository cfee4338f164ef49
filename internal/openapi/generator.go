// Package openapi describes the gateway's HTTP surface as an OpenAPI 3.1
// document.
package openapi

import (
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/faucetdb/keygate/internal/connector"
)

// ServiceInfo is the subset of a registered upstream service the document
// needs.
type ServiceInfo struct {
	Name           string
	Label          string
	RequiredFields []string
}

// ServicesFrom converts registry entries into ServiceInfo.
func ServicesFrom(specs []connector.ServiceSpec) []ServiceInfo {
	out := make([]ServiceInfo, 0, len(specs))
	for _, s := range specs {
		out = append(out, ServiceInfo{Name: s.Name, Label: s.Label, RequiredFields: s.RequiredFields})
	}
	return out
}

// Options configures Generate.
type Options struct {
	BaseURL  string
	Version  string
	Services []ServiceInfo
}

const (
	tagAuth     = "auth"
	tagAccounts = "accounts"
	tagKeys     = "keys"
	tagMonitor  = "monitor"
	tagProxy    = "proxy"
)

// Generate builds the document for the management, monitoring and proxy
// routes.
func Generate(opts Options) *openapi3.T {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "Keygate API",
			Description: "Stores third-party API credentials encrypted at rest and proxies rate-limited calls made with them.",
			Version:     opts.Version,
		},
		Paths: openapi3.NewPaths(),
	}
	if opts.BaseURL != "" {
		doc.Servers = openapi3.Servers{{URL: opts.BaseURL}}
	}

	components := openapi3.NewComponents()
	components.Schemas = componentSchemas(opts.Services)
	components.SecuritySchemes = openapi3.SecuritySchemes{
		"bearerAuth": &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{Type: "http", Scheme: "bearer", BearerFormat: "JWT"},
		},
		"apiKey": &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{Type: "apiKey", In: "header", Name: "X-API-Key"},
		},
	}
	doc.Components = &components

	addSystemPaths(doc)
	addAccountPaths(doc)
	addKeyPaths(doc)
	addMonitorPaths(doc)
	for _, svc := range opts.Services {
		addProxyPath(doc, svc)
	}
	return doc
}

func addSystemPaths(doc *openapi3.T) {
	doc.AddOperation("/health", http.MethodGet, &openapi3.Operation{
		Tags:        []string{tagMonitor},
		Summary:     "Liveness and readiness",
		OperationID: "health",
		Security:    &openapi3.SecurityRequirements{},
		Responses:   newResponses("200", "Healthy", ref("HealthReport")),
	})
	doc.AddOperation("/api/catalog", http.MethodGet, &openapi3.Operation{
		Tags:        []string{tagKeys},
		Summary:     "Supported upstream services",
		OperationID: "catalog",
		Security:    &openapi3.SecurityRequirements{},
		Responses:   newResponses("200", "Service catalog", listOf(ref("CatalogEntry"))),
	})
}

func addAccountPaths(doc *openapi3.T) {
	tokenBody := openapi3.NewRequestBody().WithRequired(true).WithContent(openapi3.Content{
		"application/json":                  &openapi3.MediaType{Schema: ref("TokenRequest")},
		"application/x-www-form-urlencoded": &openapi3.MediaType{Schema: ref("TokenRequest")},
	})
	doc.AddOperation("/api/token", http.MethodPost, &openapi3.Operation{
		Tags:        []string{tagAuth},
		Summary:     "Exchange email and password for a bearer token",
		OperationID: "token",
		Security:    &openapi3.SecurityRequirements{},
		RequestBody: &openapi3.RequestBodyRef{Value: tokenBody},
		Responses:   newResponses("200", "Token issued", ref("TokenResponse")),
	})

	doc.AddOperation("/api/users", http.MethodPost, &openapi3.Operation{
		Tags:        []string{tagAccounts},
		Summary:     "Register an account",
		OperationID: "register",
		Security:    &openapi3.SecurityRequirements{},
		RequestBody: jsonBody(ref("RegisterRequest")),
		Responses:   newResponses("201", "Account created", ref("Account")),
	})
	doc.AddOperation("/api/users", http.MethodGet, bearerOp(&openapi3.Operation{
		Tags:        []string{tagAccounts},
		Summary:     "List accounts (superuser)",
		OperationID: "list_users",
		Parameters: openapi3.Parameters{
			intQuery("skip", "Accounts to skip."),
			intQuery("limit", "Page size, 1 to 100."),
		},
		Responses: newResponses("200", "Accounts", listOf(ref("Account"))),
	}))
	doc.AddOperation("/api/users/me", http.MethodGet, bearerOp(&openapi3.Operation{
		Tags:        []string{tagAccounts},
		Summary:     "Current account",
		OperationID: "get_me",
		Responses:   newResponses("200", "Account", ref("Account")),
	}))
	doc.AddOperation("/api/users/me", http.MethodPut, bearerOp(&openapi3.Operation{
		Tags:        []string{tagAccounts},
		Summary:     "Update current account",
		OperationID: "update_me",
		RequestBody: jsonBody(ref("AccountUpdate")),
		Responses:   newResponses("200", "Account", ref("Account")),
	}))
	doc.AddOperation("/api/users/{userId}", http.MethodGet, bearerOp(&openapi3.Operation{
		Tags:        []string{tagAccounts},
		Summary:     "Get an account (superuser)",
		OperationID: "get_user",
		Parameters:  openapi3.Parameters{idPath("userId")},
		Responses:   newResponses("200", "Account", ref("Account")),
	}))
}

func addKeyPaths(doc *openapi3.T) {
	doc.AddOperation("/api/keys", http.MethodPost, bearerOp(&openapi3.Operation{
		Tags:        []string{tagKeys},
		Summary:     "Store a credential",
		Description: "The response carries the access key. It is not retrievable later.",
		OperationID: "create_key",
		RequestBody: jsonBody(ref("CredentialCreate")),
		Responses:   newResponses("200", "Credential stored", ref("Credential")),
	}))
	doc.AddOperation("/api/keys", http.MethodGet, bearerOp(&openapi3.Operation{
		Tags:        []string{tagKeys},
		Summary:     "List owned credentials",
		OperationID: "list_keys",
		Parameters:  openapi3.Parameters{stringQuery("service_name", "Filter by service.")},
		Responses:   newResponses("200", "Credentials", listOf(ref("Credential"))),
	}))
	doc.AddOperation("/api/keys/{keyId}", http.MethodGet, bearerOp(&openapi3.Operation{
		Tags:        []string{tagKeys},
		Summary:     "Get a credential",
		OperationID: "get_key",
		Parameters:  openapi3.Parameters{idPath("keyId")},
		Responses:   newResponses("200", "Credential", ref("Credential")),
	}))
	doc.AddOperation("/api/keys/{keyId}", http.MethodPut, bearerOp(&openapi3.Operation{
		Tags:        []string{tagKeys},
		Summary:     "Update a credential",
		OperationID: "update_key",
		Parameters:  openapi3.Parameters{idPath("keyId")},
		RequestBody: jsonBody(ref("CredentialUpdate")),
		Responses:   newResponses("200", "Credential", ref("Credential")),
	}))
	doc.AddOperation("/api/keys/{keyId}", http.MethodDelete, bearerOp(&openapi3.Operation{
		Tags:        []string{tagKeys},
		Summary:     "Delete a credential",
		OperationID: "delete_key",
		Parameters:  openapi3.Parameters{idPath("keyId")},
		Responses:   newResponses("200", "Deleted", ref("Success")),
	}))
	doc.AddOperation("/api/keys/{keyId}/usage", http.MethodGet, bearerOp(&openapi3.Operation{
		Tags:        []string{tagKeys},
		Summary:     "Usage records, newest first",
		OperationID: "key_usage",
		Parameters: openapi3.Parameters{
			idPath("keyId"),
			intQuery("limit", "Maximum records, 1 to 1000."),
		},
		Responses: newResponses("200", "Usage records", listOf(ref("UsageRecord"))),
	}))
}

func addMonitorPaths(doc *openapi3.T) {
	window := openapi3.Parameters{
		stringQuery("service_name", "Restrict to one service."),
		intQuery("days", "Trailing window in days, 1 to 30."),
	}
	doc.AddOperation("/api/monitor/usage", http.MethodGet, bearerOp(&openapi3.Operation{
		Tags:        []string{tagMonitor},
		Summary:     "Usage statistics (superuser)",
		OperationID: "usage_statistics",
		Parameters:  window,
		Responses:   newResponses("200", "Statistics", ref("UsageStats")),
	}))
	doc.AddOperation("/api/monitor/errors", http.MethodGet, bearerOp(&openapi3.Operation{
		Tags:        []string{tagMonitor},
		Summary:     "Error report (superuser)",
		OperationID: "error_report",
		Parameters:  window,
		Responses:   newResponses("200", "Errors, newest first", listOf(ref("ErrorEntry"))),
	}))
	doc.AddOperation("/api/monitor/rate-limits/{credentialId}", http.MethodGet, bearerOp(&openapi3.Operation{
		Tags:        []string{tagMonitor},
		Summary:     "Rate-limit status for a credential",
		OperationID: "rate_limit_status",
		Parameters:  openapi3.Parameters{idPath("credentialId")},
		Responses:   newResponses("200", "Rate-limit status", ref("RateLimitStatus")),
	}))
}

func addProxyPath(doc *openapi3.T, svc ServiceInfo) {
	path := fmt.Sprintf("/api/%s/{path}", svc.Name)
	pathParam := &openapi3.ParameterRef{
		Value: openapi3.NewPathParameter("path").
			WithDescription("Upstream path relative to the service base URL.").
			WithSchema(openapi3.NewStringSchema()),
	}

	responses := newResponses("200", "Upstream response, relayed", &openapi3.SchemaRef{Value: &openapi3.Schema{}})
	tooMany := "Rate limit exceeded"
	responses.Set("429", &openapi3.ResponseRef{Value: &openapi3.Response{
		Description: &tooMany,
		Headers: openapi3.Headers{
			"Retry-After": &openapi3.HeaderRef{Value: &openapi3.Header{Parameter: openapi3.Parameter{
				Schema: &openapi3.SchemaRef{Value: openapi3.NewIntegerSchema()},
			}}},
		},
		Content: openapi3.NewContentWithJSONSchemaRef(ref("ErrorResponse")),
	}})
	for _, code := range []string{"502", "504"} {
		desc := "Upstream unavailable"
		if code == "504" {
			desc = "Upstream timed out"
		}
		responses.Set(code, &openapi3.ResponseRef{Value: &openapi3.Response{
			Description: &desc,
			Content:     openapi3.NewContentWithJSONSchemaRef(ref("ErrorResponse")),
		}})
	}

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		label := svc.Label
		if label == "" {
			label = svc.Name
		}
		doc.AddOperation(path, method, &openapi3.Operation{
			Tags:        []string{tagProxy},
			Summary:     fmt.Sprintf("Call %s with a stored credential", label),
			OperationID: fmt.Sprintf("proxy_%s_%s", svc.Name, method),
			Parameters:  openapi3.Parameters{pathParam},
			Security:    &openapi3.SecurityRequirements{{"apiKey": {}}},
			Responses:   responses,
		})
	}
}

func bearerOp(op *openapi3.Operation) *openapi3.Operation {
	op.Security = &openapi3.SecurityRequirements{{"bearerAuth": {}}}
	return op
}

func jsonBody(schema *openapi3.SchemaRef) *openapi3.RequestBodyRef {
	return &openapi3.RequestBodyRef{
		Value: openapi3.NewRequestBody().WithRequired(true).WithJSONSchemaRef(schema),
	}
}

func idPath(name string) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{
		Value: openapi3.NewPathParameter(name).WithSchema(openapi3.NewInt64Schema()),
	}
}

func intQuery(name, desc string) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{
		Value: openapi3.NewQueryParameter(name).WithDescription(desc).WithSchema(openapi3.NewIntegerSchema()),
	}
}

func stringQuery(name, desc string) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{
		Value: openapi3.NewQueryParameter(name).WithDescription(desc).WithSchema(openapi3.NewStringSchema()),
	}
}

// newResponses builds a Responses map with a success response and the
// standard error responses.
func newResponses(statusCode, description string, schema *openapi3.SchemaRef) *openapi3.Responses {
	responses := openapi3.NewResponses()

	successDesc := description
	responses.Set(statusCode, &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &successDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	})

	errorRef := ref("ErrorResponse")
	for _, e := range []struct{ code, desc string }{
		{"400", "Bad request"},
		{"401", "Unauthorized"},
		{"403", "Forbidden"},
		{"404", "Not found"},
		{"500", "Internal server error"},
	} {
		desc := e.desc
		responses.Set(e.code, &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &desc,
				Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
			},
		})
	}
	return responses
}
