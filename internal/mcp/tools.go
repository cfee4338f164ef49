package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/faucetdb/keygate/internal/monitor"
)

// Operator view of the last N usage records per credential.
const (
	defaultUsageLimit = 50
	maxUsageLimit     = 1000
)

func (s *MCPServer) registerTools(srv *server.MCPServer) {
	srv.AddTool(
		mcp.NewTool("keygate_list_services",
			mcp.WithDescription(
				"List the third-party services keygate can broker credentials for, "+
					"with their base URL and the metadata fields a credential must carry.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleListServices,
	)

	srv.AddTool(
		mcp.NewTool("keygate_health",
			mcp.WithDescription(
				"Report gateway health: database connectivity and registered services.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleHealth,
	)

	srv.AddTool(
		mcp.NewTool("keygate_usage_statistics",
			mcp.WithDescription(
				"Aggregate request statistics over the last N days: total requests, "+
					"errors, average response time and active credentials, optionally "+
					"for one service.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("service",
				mcp.Description("Restrict to one service (e.g. \"tmdb\"). Omit for all services."),
			),
			mcp.WithNumber("days",
				mcp.Description("Look-back window in days (default 7, range 1-30)"),
			),
		),
		s.handleUsageStatistics,
	)

	srv.AddTool(
		mcp.NewTool("keygate_error_report",
			mcp.WithDescription(
				"List failed requests over the last N days, newest first, with the "+
					"service, endpoint, status and error text of each.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("service",
				mcp.Description("Restrict to one service. Omit for all services."),
			),
			mcp.WithNumber("days",
				mcp.Description("Look-back window in days (default 7, range 1-30)"),
			),
		),
		s.handleErrorReport,
	)

	srv.AddTool(
		mcp.NewTool("keygate_credential_usage",
			mcp.WithDescription(
				"Show the most recent requests made with one credential, newest first.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithNumber("credential_id",
				mcp.Required(),
				mcp.Description("Numeric credential ID"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum records to return (default 50, max 1000)"),
			),
		),
		s.handleCredentialUsage,
	)
}

func (s *MCPServer) handleListServices(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successJSON(s.registry.Specs())
}

func (s *MCPServer) handleHealth(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successJSON(s.monitor.Health(ctx))
}

func (s *MCPServer) handleUsageStatistics(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	service, err := s.serviceArg(request)
	if err != nil {
		return toolError("%v", err)
	}
	days := clamp(optionalInt(request, "days", monitor.DefaultDays), monitor.MinDays, monitor.MaxDays)

	stats, err := s.monitor.UsageStatistics(ctx, service, days)
	if err != nil {
		return toolError("usage statistics: %v", err)
	}
	return successJSON(stats)
}

func (s *MCPServer) handleErrorReport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	service, err := s.serviceArg(request)
	if err != nil {
		return toolError("%v", err)
	}
	days := clamp(optionalInt(request, "days", monitor.DefaultDays), monitor.MinDays, monitor.MaxDays)

	report, err := s.monitor.ErrorReport(ctx, service, days)
	if err != nil {
		return toolError("error report: %v", err)
	}
	return successJSON(map[string]any{
		"days":   days,
		"errors": report,
	})
}

func (s *MCPServer) handleCredentialUsage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireInt(request, "credential_id")
	if err != nil {
		return toolError("%v", err)
	}
	limit := clamp(optionalInt(request, "limit", defaultUsageLimit), 1, maxUsageLimit)

	records, err := s.monitor.CredentialUsage(ctx, int64(id), limit)
	if err != nil {
		return toolError("credential usage: %v", err)
	}
	return successJSON(records)
}

// serviceArg returns the optional service filter, rejecting names the
// registry does not know.
func (s *MCPServer) serviceArg(request mcp.CallToolRequest) (string, error) {
	name := optionalString(request, "service")
	if name == "" {
		return "", nil
	}
	if _, err := s.registry.Get(name); err != nil {
		return "", err
	}
	return name, nil
}
