package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	servicesURI = "keygate://services"
	healthURI   = "keygate://health"
)

func (s *MCPServer) registerResources(srv *server.MCPServer) {
	srv.AddResource(
		mcp.NewResource(
			servicesURI,
			"Supported Services",
			mcp.WithResourceDescription("Services keygate brokers credentials for."),
			mcp.WithMIMEType("application/json"),
		),
		func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			return jsonResource(servicesURI, s.registry.Specs())
		},
	)

	srv.AddResource(
		mcp.NewResource(
			healthURI,
			"Gateway Health",
			mcp.WithResourceDescription("Current health report for the gateway and its database."),
			mcp.WithMIMEType("application/json"),
		),
		func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			return jsonResource(healthURI, s.monitor.Health(ctx))
		},
	)
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
