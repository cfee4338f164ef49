package openapi

import "github.com/getkin/kin-openapi/openapi3"

func ref(name string) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("#/components/schemas/"+name, nil)
}

func listOf(item *openapi3.SchemaRef) *openapi3.SchemaRef {
	arr := openapi3.NewArraySchema()
	arr.Items = item
	return object(openapi3.Schemas{
		"resource": {Value: arr},
		"meta":     metaSchema(),
	})
}

func object(props openapi3.Schemas, required ...string) *openapi3.SchemaRef {
	s := openapi3.NewObjectSchema()
	s.Properties = props
	s.Required = required
	return &openapi3.SchemaRef{Value: s}
}

func str() *openapi3.SchemaRef      { return &openapi3.SchemaRef{Value: openapi3.NewStringSchema()} }
func integer() *openapi3.SchemaRef  { return &openapi3.SchemaRef{Value: openapi3.NewInt64Schema()} }
func number() *openapi3.SchemaRef   { return &openapi3.SchemaRef{Value: openapi3.NewFloat64Schema()} }
func boolean() *openapi3.SchemaRef  { return &openapi3.SchemaRef{Value: openapi3.NewBoolSchema()} }
func dateTime() *openapi3.SchemaRef { return &openapi3.SchemaRef{Value: openapi3.NewDateTimeSchema()} }

func stringMap() *openapi3.SchemaRef {
	s := openapi3.NewObjectSchema()
	s.AdditionalProperties = openapi3.AdditionalProperties{Schema: str()}
	return &openapi3.SchemaRef{Value: s}
}

// metaSchema is the "meta" member of list responses.
func metaSchema() *openapi3.SchemaRef {
	return object(openapi3.Schemas{
		"count":  integer(),
		"limit":  integer(),
		"offset": integer(),
	})
}

func componentSchemas(services []ServiceInfo) openapi3.Schemas {
	names := make([]any, 0, len(services))
	for _, s := range services {
		names = append(names, s.Name)
	}
	serviceName := openapi3.NewStringSchema()
	if len(names) > 0 {
		serviceName.Enum = names
	}

	return openapi3.Schemas{
		"ErrorResponse": object(openapi3.Schemas{
			"error": object(openapi3.Schemas{
				"code":    integer(),
				"message": str(),
				"context": {Value: openapi3.NewObjectSchema()},
			}, "code", "message"),
		}, "error"),
		"Success": object(openapi3.Schemas{
			"success": boolean(),
			"message": str(),
		}),
		"TokenRequest": object(openapi3.Schemas{
			"username": str(),
			"email":    str(),
			"password": str(),
		}, "password"),
		"TokenResponse": object(openapi3.Schemas{
			"access_token": str(),
			"token_type":   str(),
			"expires_at":   integer(),
			"user":         ref("Account"),
		}, "access_token", "token_type", "expires_at"),
		"RegisterRequest": object(openapi3.Schemas{
			"email":     str(),
			"password":  str(),
			"full_name": str(),
		}, "email", "password"),
		"AccountUpdate": object(openapi3.Schemas{
			"email":     str(),
			"full_name": str(),
			"password":  str(),
			"is_active": boolean(),
		}),
		"Account": object(openapi3.Schemas{
			"id":            integer(),
			"email":         str(),
			"full_name":     str(),
			"is_active":     boolean(),
			"is_superuser":  boolean(),
			"last_login_at": dateTime(),
			"created_at":    dateTime(),
			"updated_at":    dateTime(),
		}),
		"CatalogEntry": object(openapi3.Schemas{
			"name":            {Value: serviceName},
			"label":           str(),
			"base_url":        str(),
			"docs_url":        str(),
			"required_fields": {Value: openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema())},
		}),
		"CredentialCreate": object(openapi3.Schemas{
			"service_name": {Value: serviceName},
			"key_metadata": stringMap(),
			"rate_limit":   integer(),
			"expires_at":   dateTime(),
		}, "service_name", "key_metadata"),
		"CredentialUpdate": object(openapi3.Schemas{
			"key_metadata": stringMap(),
			"is_active":    boolean(),
			"rate_limit":   integer(),
			"expires_at":   dateTime(),
		}),
		"Credential": object(openapi3.Schemas{
			"id":                   integer(),
			"owner_id":             integer(),
			"service_name":         str(),
			"key_prefix":           str(),
			"key_metadata":         stringMap(),
			"is_active":            boolean(),
			"rate_limit":           integer(),
			"effective_rate_limit": integer(),
			"usage_count":          integer(),
			"created_at":           dateTime(),
			"updated_at":           dateTime(),
			"expires_at":           dateTime(),
			"last_used_at":         dateTime(),
			"access_key":           str(),
		}),
		"UsageRecord": object(openapi3.Schemas{
			"id":               integer(),
			"credential_id":    integer(),
			"service_name":     str(),
			"timestamp":        dateTime(),
			"method":           str(),
			"endpoint":         str(),
			"status":           integer(),
			"response_time_ms": number(),
			"client_ip":        str(),
			"user_agent":       str(),
			"error":            str(),
		}),
		"UsageStats": object(openapi3.Schemas{
			"service_name":         str(),
			"period_days":          integer(),
			"total_requests":       integer(),
			"total_errors":         integer(),
			"avg_response_time_ms": number(),
			"active_credentials":   integer(),
		}),
		"ErrorEntry": object(openapi3.Schemas{
			"timestamp":     dateTime(),
			"credential_id": integer(),
			"service":       str(),
			"endpoint":      str(),
			"status":        integer(),
			"error":         str(),
		}),
		"RateLimitStatus": object(openapi3.Schemas{
			"credential_id": integer(),
			"service":       str(),
			"limit":         integer(),
			"used":          integer(),
			"remaining":     integer(),
			"reset_at":      dateTime(),
		}),
		"HealthReport": object(openapi3.Schemas{
			"status":     str(),
			"timestamp":  dateTime(),
			"components": {Value: openapi3.NewObjectSchema()},
		}),
	}
}
