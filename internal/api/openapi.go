package api

import (
	"net/http"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/labstack/echo/v4"
)

const bearerScheme = "bearerAuth"

var (
	specOnce sync.Once
	specDoc  *openapi3.T
)

// Spec returns the OpenAPI description of the operator API.
func Spec() *openapi3.T {
	specOnce.Do(func() { specDoc = buildSpec() })
	return specDoc
}

func jsonOp(summary string, body *openapi3.Schema, secured bool) *openapi3.Operation {
	op := openapi3.NewOperation()
	op.Summary = summary
	op.Responses = openapi3.NewResponses(openapi3.WithStatus(http.StatusOK, &openapi3.ResponseRef{
		Value: openapi3.NewResponse().WithDescription("OK").WithJSONSchema(body),
	}))
	if secured {
		op.AddResponse(http.StatusUnauthorized, openapi3.NewResponse().
			WithDescription("Missing or invalid bearer token").
			WithJSONSchema(errorSchema()))
		op.Security = openapi3.NewSecurityRequirements().
			With(openapi3.NewSecurityRequirement().Authenticate(bearerScheme))
	}
	return op
}

func errorSchema() *openapi3.Schema {
	return openapi3.NewObjectSchema().WithProperty("error", openapi3.NewStringSchema())
}

func eventSchema() *openapi3.Schema {
	return openapi3.NewObjectSchema().
		WithProperty("id", openapi3.NewInt64Schema()).
		WithProperty("email_id", openapi3.NewInt64Schema()).
		WithProperty("ts", openapi3.NewDateTimeSchema()).
		WithProperty("level", openapi3.NewStringSchema().WithEnum("INFO", "WARN", "ERROR")).
		WithProperty("event", openapi3.NewStringSchema()).
		WithProperty("payload", openapi3.NewObjectSchema())
}

func listSchema(field string, item *openapi3.Schema) *openapi3.Schema {
	return openapi3.NewObjectSchema().
		WithProperty(field, openapi3.NewArraySchema().WithItems(item)).
		WithProperty("meta", openapi3.NewObjectSchema().
			WithProperty("count", openapi3.NewIntegerSchema()).
			WithProperty("limit", openapi3.NewIntegerSchema()))
}

func buildSpec() *openapi3.T {
	limit := openapi3.NewQueryParameter("limit").WithSchema(openapi3.NewIntegerSchema().WithMin(1))

	status := openapi3.NewObjectSchema().
		WithProperty("state", openapi3.NewStringSchema().WithEnum("idle", "polling", "manual")).
		WithProperty("last_poll_at", openapi3.NewDateTimeSchema()).
		WithProperty("last_error", openapi3.NewStringSchema()).
		WithProperty("ingested", openapi3.NewIntegerSchema()).
		WithProperty("cycles", openapi3.NewIntegerSchema())

	escalation := openapi3.NewObjectSchema().
		WithProperty("id", openapi3.NewInt64Schema()).
		WithProperty("message_id", openapi3.NewStringSchema()).
		WithProperty("from", openapi3.NewStringSchema()).
		WithProperty("subject", openapi3.NewStringSchema()).
		WithProperty("status", openapi3.NewStringSchema()).
		WithProperty("reason", openapi3.NewStringSchema())

	logs := jsonOp("Recent audit events", listSchema("events", eventSchema()), true)
	logs.AddParameter(limit)

	escalations := jsonOp("Emails routed to a human", listSchema("escalations", escalation), true)
	escalations.AddParameter(limit)

	events := jsonOp("Audit events of one conversation", listSchema("events", eventSchema()), true)
	events.AddParameter(openapi3.NewPathParameter("id").WithSchema(openapi3.NewInt64Schema()))
	events.AddParameter(limit)

	return &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:   "ReplyDesk operator API",
			Version: "1.0.0",
		},
		Components: &openapi3.Components{
			SecuritySchemes: openapi3.SecuritySchemes{
				bearerScheme: &openapi3.SecuritySchemeRef{Value: openapi3.NewJWTSecurityScheme()},
			},
		},
		Paths: openapi3.NewPaths(
			openapi3.WithPath("/health", &openapi3.PathItem{
				Get: jsonOp("Liveness probe", openapi3.NewObjectSchema().WithProperty("status", openapi3.NewStringSchema()), false),
			}),
			openapi3.WithPath("/status", &openapi3.PathItem{
				Get: jsonOp("Poller state", status, false),
			}),
			openapi3.WithPath("/trigger-run", &openapi3.PathItem{
				Post: jsonOp("Start a poll cycle now", openapi3.NewObjectSchema().WithProperty("ok", openapi3.NewBoolSchema()), true),
			}),
			openapi3.WithPath("/logs", &openapi3.PathItem{Get: logs}),
			openapi3.WithPath("/escalations", &openapi3.PathItem{Get: escalations}),
			openapi3.WithPath("/api/v1/conversations/{id}/events", &openapi3.PathItem{Get: events}),
		),
	}
}

// getOpenAPI handles GET /openapi.json
func (s *Server) getOpenAPI(c echo.Context) error {
	return c.JSON(http.StatusOK, Spec())
}
