package mcp

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/autoscore/autoscore/internal/metrics"
	"github.com/autoscore/autoscore/internal/model"
	"github.com/autoscore/autoscore/internal/scoring"
)

const (
	toolScoreVehicle = "score_vehicle"
	toolListRules    = "list_scoring_rules"

	// auditMethod stands in for the HTTP method on records written for tool calls.
	auditMethod = "CALL"
	apiKeyArg   = "api_key"
)

// registerTools registers the scoring tools on the given server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {
	srv.AddTool(
		mcp.NewTool(toolScoreVehicle,
			mcp.WithDescription(
				"Compute the score of one vehicle from its make, model, year and optional "+
					"mileage and engine size. Requires a valid API key.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString(apiKeyArg,
				mcp.Required(),
				mcp.Description("API key issued to the calling client"),
			),
			mcp.WithString("make",
				mcp.Required(),
				mcp.Description("Vehicle make, e.g. \"Toyota\""),
			),
			mcp.WithString("model",
				mcp.Required(),
				mcp.Description("Vehicle model, e.g. \"Corolla\""),
			),
			mcp.WithNumber("year",
				mcp.Required(),
				mcp.Description("Model year"),
			),
			mcp.WithNumber("mileage",
				mcp.Description("Odometer reading"),
			),
			mcp.WithNumber("engine_size",
				mcp.Description("Engine displacement in litres"),
			),
		),
		s.gated(toolScoreVehicle, s.scoreVehicle),
	)

	srv.AddTool(
		mcp.NewTool(toolListRules,
			mcp.WithDescription(
				"List the make/model keys that have scoring rules. Requires a valid API key.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString(apiKeyArg,
				mcp.Required(),
				mcp.Description("API key issued to the calling client"),
			),
		),
		s.gated(toolListRules, s.listRules),
	)
}

// outcome is what a tool produced, in the terms an audit record needs.
type outcome struct {
	result *mcp.CallToolResult
	body   string
	status int
}

// gated authenticates the api_key argument, runs fn for accepted calls and
// writes one audit record per call.
func (s *MCPServer) gated(tool string, fn func(context.Context, mcp.CallToolRequest) outcome) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()

		var credential string
		var present bool
		if args := request.GetArguments(); args != nil {
			var raw any
			raw, present = args[apiKeyArg]
			credential, _ = raw.(string)
		}

		var out outcome
		var client *string
		res := s.deps.Gate.Authenticate(credential, present)
		if !res.Authenticated() {
			reason := res.Reason.String()
			s.deps.Logger.Info("api key rejected", "reason", reason, "tool", tool)
			s.deps.Metrics.IncAuthRejection(reason)
			r, msg := toolError("%s", res.Err().Error())
			out = outcome{result: r, body: msg, status: 401}
			if !s.deps.RecordRejections {
				s.deps.Metrics.IncAuditWrite(metrics.OutcomeSkipped)
				return out.result, nil
			}
		} else {
			name := res.ClientName
			client = &name
			out = fn(ctx, request)
		}

		s.record(ctx, tool, start, client, out)
		return out.result, nil
	}
}

func (s *MCPServer) record(ctx context.Context, tool string, start time.Time, client *string, out outcome) {
	headers := map[string]string{"Mcp-Tool": tool}
	if session := server.ClientSessionFromContext(ctx); session != nil {
		headers["Mcp-Session-Id"] = session.SessionID()
	}

	rec := model.AuditRecord{
		Timestamp:      start.UTC(),
		RequestID:      uuid.Must(uuid.NewV7()).String(),
		RequestHeaders: headers,
		Path:           "mcp/" + tool,
		Method:         auditMethod,
		StatusCode:     out.status,
		ResponseBody:   out.body,
		ClientName:     client,
		DurationMs:     float64(time.Since(start).Microseconds()) / 1000.0,
	}
	if err := s.deps.Sink.Record(context.WithoutCancel(ctx), rec); err != nil {
		s.deps.Logger.Error("audit write failed", "error", err, "tool", tool)
		s.deps.Metrics.IncAuditWrite(metrics.OutcomeError)
		return
	}
	s.deps.Metrics.IncAuditWrite(metrics.OutcomeOK)
}

func (s *MCPServer) scoreVehicle(_ context.Context, request mcp.CallToolRequest) outcome {
	invalid := func(err error) outcome {
		r, msg := toolError("Invalid vehicle: %v", err)
		return outcome{result: r, body: msg, status: 422}
	}

	vehicleMake, err := requireString(request, "make")
	if err != nil {
		return invalid(err)
	}
	vehicleModel, err := requireString(request, "model")
	if err != nil {
		return invalid(err)
	}
	year, err := requireInt(request, "year")
	if err != nil {
		return invalid(err)
	}
	mileage, err := optionalFloat(request, "mileage")
	if err != nil {
		return invalid(err)
	}
	engineSize, err := optionalFloat(request, "engine_size")
	if err != nil {
		return invalid(err)
	}

	scored, err := s.deps.Scorer.ScoreVehicle(model.VehicleData{
		Make:       vehicleMake,
		Model:      vehicleModel,
		Year:       year,
		Mileage:    mileage,
		EngineSize: engineSize,
	})
	if err != nil {
		var verr *scoring.ValidationError
		switch {
		case errors.As(err, &verr):
			return invalid(verr)
		case errors.Is(err, scoring.ErrRulesNotFound):
			r, msg := toolError("%s", err.Error())
			return outcome{result: r, body: msg, status: 422}
		default:
			r, msg := toolError("Scoring failed: %v", err)
			return outcome{result: r, body: msg, status: 500}
		}
	}
	return s.success(scored)
}

func (s *MCPServer) listRules(context.Context, mcp.CallToolRequest) outcome {
	return s.success(s.deps.Scorer.Rules().Keys())
}

func (s *MCPServer) success(data any) outcome {
	r, body, err := successJSON(data)
	if err != nil {
		r, msg := toolError("%v", err)
		return outcome{result: r, body: msg, status: 500}
	}
	return outcome{result: r, body: body, status: 200}
}
