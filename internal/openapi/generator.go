package openapi

import (
	"github.com/getkin/kin-openapi/openapi3"
)

// DocInfo describes the API being documented.
type DocInfo struct {
	Title     string
	Version   string
	ServerURL string
	// GateAll marks /score/rules and /openapi.json as requiring an API key.
	GateAll bool
}

// Generate builds the OpenAPI 3.1 document for the scoring API.
func Generate(info DocInfo) *openapi3.T {
	if info.Title == "" {
		info.Title = "Autoscore API"
	}
	if info.Version == "" {
		info.Version = "1.0.0"
	}

	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       info.Title,
			Description: "Vehicle scoring API. Every scoring request is authenticated with an API key and audited.",
			Version:     info.Version,
		},
	}
	if info.ServerURL != "" {
		doc.Servers = openapi3.Servers{{URL: info.ServerURL}}
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	doc.Components.SecuritySchemes["apiKey"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type: "apiKey",
			In:   "header",
			Name: "X-API-Key",
		},
	}
	doc.Components.SecuritySchemes["bearerAuth"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
		},
	}

	addSchemas(doc.Components.Schemas)

	apiKey := &openapi3.SecurityRequirements{{"apiKey": {}}}
	bearer := &openapi3.SecurityRequirements{{"bearerAuth": {}}}
	open := &openapi3.SecurityRequirements{}
	globalOnly := open
	if info.GateAll {
		globalOnly = apiKey
	}

	doc.Paths = openapi3.NewPaths()

	doc.Paths.Set("/score/single", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"scoring"},
			Summary:     "Score one vehicle",
			OperationID: "score_single",
			RequestBody: jsonBody("Vehicle to score", ref("VehicleData")),
			Responses:   newResponses("200", "Scored vehicle", ref("VehicleScore")),
			Security:    apiKey,
		},
	})
	doc.Paths.Set("/score/batch", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"scoring"},
			Summary:     "Score several vehicles",
			Description: "Vehicles are scored in order. The first invalid or unknown vehicle fails the whole batch.",
			OperationID: "score_batch",
			RequestBody: jsonBody("Vehicles to score", ref("BatchRequest")),
			Responses:   newResponses("200", "Scored vehicles", ref("BatchResponse")),
			Security:    apiKey,
		},
	})
	doc.Paths.Set("/score/rules", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"scoring"},
			Summary:     "List make/model keys with scoring rules",
			OperationID: "list_rules",
			Responses:   newResponses("200", "Rule keys", ref("RuleList")),
			Security:    globalOnly,
		},
	})
	doc.Paths.Set("/api/v1/audit", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"audit"},
			Summary:     "List audit records, newest first",
			OperationID: "list_audit",
			Parameters:  auditQueryParameters(),
			Responses:   newResponses("200", "Audit records", auditListSchema()),
			Security:    bearer,
		},
	})

	healthDesc := "Service is alive"
	health := openapi3.NewResponses()
	health.Set("200", &openapi3.ResponseRef{Value: &openapi3.Response{
		Description: &healthDesc,
		Content:     openapi3.NewContentWithJSONSchema(openapi3.NewObjectSchema().WithProperty("status", openapi3.NewStringSchema())),
	}})
	doc.Paths.Set("/healthz", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"system"},
			Summary:     "Liveness probe",
			OperationID: "healthz",
			Responses:   health,
			Security:    open,
		},
	})

	return doc
}

func ref(name string) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("#/components/schemas/"+name, nil)
}

func arrayOf(name string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:  &openapi3.Types{"array"},
		Items: ref(name),
	}}
}

func jsonBody(desc string, schema *openapi3.SchemaRef) *openapi3.RequestBodyRef {
	return &openapi3.RequestBodyRef{
		Value: &openapi3.RequestBody{
			Description: desc,
			Required:    true,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	}
}

func addSchemas(s openapi3.Schemas) {
	s["ErrorResponse"] = &openapi3.SchemaRef{
		Value: openapi3.NewObjectSchema().WithPropertyRef("error", &openapi3.SchemaRef{
			Value: openapi3.NewObjectSchema().
				WithProperty("code", openapi3.NewInt32Schema()).
				WithProperty("message", openapi3.NewStringSchema()).
				WithProperty("context", openapi3.NewObjectSchema()),
		}),
	}

	vehicle := openapi3.NewObjectSchema().
		WithProperty("make", openapi3.NewStringSchema().WithMinLength(1)).
		WithProperty("model", openapi3.NewStringSchema().WithMinLength(1)).
		WithProperty("year", openapi3.NewInt32Schema()).
		WithProperty("mileage", openapi3.NewFloat64Schema()).
		WithProperty("engine_size", openapi3.NewFloat64Schema())
	vehicle.Required = []string{"make", "model", "year"}
	s["VehicleData"] = &openapi3.SchemaRef{Value: vehicle}

	scored := openapi3.NewObjectSchema().
		WithProperty("make", openapi3.NewStringSchema()).
		WithProperty("model", openapi3.NewStringSchema()).
		WithProperty("year", openapi3.NewInt32Schema()).
		WithProperty("mileage", openapi3.NewFloat64Schema()).
		WithProperty("engine_size", openapi3.NewFloat64Schema()).
		WithProperty("score", openapi3.NewFloat64Schema())
	scored.Required = []string{"make", "model", "year", "score"}
	s["VehicleScore"] = &openapi3.SchemaRef{Value: scored}

	batch := openapi3.NewObjectSchema().WithPropertyRef("vehicles", arrayOf("VehicleData"))
	batch.Required = []string{"vehicles"}
	s["BatchRequest"] = &openapi3.SchemaRef{Value: batch}

	results := openapi3.NewObjectSchema().WithPropertyRef("results", arrayOf("VehicleScore"))
	s["BatchResponse"] = &openapi3.SchemaRef{Value: results}

	s["RuleList"] = &openapi3.SchemaRef{
		Value: openapi3.NewObjectSchema().WithPropertyRef("resource", &openapi3.SchemaRef{
			Value: openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema()),
		}),
	}

	record := openapi3.NewObjectSchema().
		WithProperty("id", openapi3.NewInt64Schema()).
		WithProperty("timestamp", openapi3.NewDateTimeSchema()).
		WithProperty("request_id", openapi3.NewStringSchema()).
		WithProperty("request_headers", openapi3.NewObjectSchema().WithAdditionalProperties(openapi3.NewStringSchema())).
		WithProperty("path", openapi3.NewStringSchema()).
		WithProperty("method", openapi3.NewStringSchema()).
		WithProperty("status_code", openapi3.NewInt32Schema()).
		WithProperty("response_body", openapi3.NewStringSchema()).
		WithProperty("body_truncated", openapi3.NewBoolSchema()).
		WithProperty("client_name", &openapi3.Schema{Type: &openapi3.Types{"string", "null"}}).
		WithProperty("duration_ms", openapi3.NewFloat64Schema())
	s["AuditRecord"] = &openapi3.SchemaRef{Value: record}
}

func auditListSchema() *openapi3.SchemaRef {
	list := openapi3.NewObjectSchema().
		WithPropertyRef("resource", arrayOf("AuditRecord")).
		WithPropertyRef("meta", metaSchema())
	return &openapi3.SchemaRef{Value: list}
}

func auditQueryParameters() openapi3.Parameters {
	return openapi3.Parameters{
		&openapi3.ParameterRef{
			Value: openapi3.NewQueryParameter("limit").
				WithDescription("Maximum number of records to return (default 100).").
				WithSchema(openapi3.NewInt32Schema()),
		},
		&openapi3.ParameterRef{
			Value: openapi3.NewQueryParameter("offset").
				WithDescription("Number of records to skip.").
				WithSchema(openapi3.NewInt32Schema()),
		},
		&openapi3.ParameterRef{
			Value: openapi3.NewQueryParameter("client").
				WithDescription("Only records for this client name.").
				WithSchema(openapi3.NewStringSchema()),
		},
	}
}

// newResponses builds a Responses map with a success response and standard error responses.
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
		{"400", "Malformed request body"},
		{"401", "Missing, unknown or expired credential"},
		{"422", "Invalid vehicle or no scoring rules"},
		{"429", "Rate limit exceeded"},
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

// metaSchema returns the schema for the "meta" field in list responses.
func metaSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"count": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type:        &openapi3.Types{"integer"},
						Format:      "int32",
						Description: "Records in this page.",
					},
				},
				"total": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type:        &openapi3.Types{"integer"},
						Format:      "int64",
						Description: "Records matching the filter.",
					},
				},
				"limit": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type:        &openapi3.Types{"integer"},
						Format:      "int32",
						Description: "Maximum records returned per page.",
					},
				},
				"offset": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type:        &openapi3.Types{"integer"},
						Format:      "int32",
						Description: "Number of records skipped.",
					},
				},
			},
		},
	}
}
