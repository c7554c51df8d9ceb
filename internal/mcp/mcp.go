// Package mcp implements the Model Context Protocol server for Counsel.
//
// The server exposes deliberation as a tool for MCP-compatible AI agents,
// plus read-only query tools and resources over the decision graph. It is
// the only transport surface; the engine itself knows nothing about MCP.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/counselhq/counsel/internal/graph"
	"github.com/counselhq/counsel/internal/model"
)

// Deliberator runs one deliberation to completion. Satisfied by
// deliberation.Engine.
type Deliberator interface {
	Deliberate(ctx context.Context, req *model.DeliberateRequest) (*model.DeliberationResult, error)
}

// Config holds transport-level settings.
type Config struct {
	// MaxRoundsInResponse caps full_debate in tool responses. Zero applies
	// the default of 3.
	MaxRoundsInResponse int
}

// Server wraps the MCP server with Counsel's engine and query layer.
// query and monitor may be nil when the decision graph is disabled.
type Server struct {
	mcpServer *mcpserver.MCPServer
	engine    Deliberator
	query     *QueryEngine
	monitor   *graph.Monitor
	logger    *slog.Logger
	cfg       Config
}

// New creates and configures the MCP server with all tools and resources.
func New(engine Deliberator, query *QueryEngine, monitor *graph.Monitor, logger *slog.Logger, cfg Config) *Server {
	s := &Server{
		engine:  engine,
		query:   query,
		monitor: monitor,
		logger:  logger,
		cfg:     cfg,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"counsel",
		"0.1.0",
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerResources() {
	// counsel://decisions/recent — newest persisted deliberations.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"counsel://decisions/recent",
			"Recent Decisions",
			mcplib.WithResourceDescription("Most recent persisted deliberation outcomes"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleDecisionsRecent,
	)

	// counsel://graph/stats — decision graph size and growth stats.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"counsel://graph/stats",
			"Decision Graph Stats",
			mcplib.WithResourceDescription("Node count, edge count, average similarity, database size"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleGraphStats,
	)

	// counsel://graph/health — schema and table integrity check.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"counsel://graph/health",
			"Decision Graph Health",
			mcplib.WithResourceDescription("Decision graph health check result"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleGraphHealth,
	)
}

func (s *Server) handleDecisionsRecent(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.query == nil {
		return nil, fmt.Errorf("mcp: decision graph is disabled")
	}
	nodes, err := s.query.Recent(ctx, 20)
	if err != nil {
		return nil, fmt.Errorf("mcp: recent decisions: %w", err)
	}

	data, err := json.MarshalIndent(nodes, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal recent decisions: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "counsel://decisions/recent",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleGraphStats(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.monitor == nil {
		return nil, fmt.Errorf("mcp: decision graph is disabled")
	}
	stats, err := s.monitor.GetStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: graph stats: %w", err)
	}

	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal graph stats: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "counsel://graph/stats",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleGraphHealth(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.monitor == nil {
		return nil, fmt.Errorf("mcp: decision graph is disabled")
	}
	health := s.monitor.HealthCheck(ctx)

	data, err := json.MarshalIndent(health, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal graph health: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "counsel://graph/health",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// errorEnvelope is the JSON body of every failed tool call.
type errorEnvelope struct {
	ErrorType string `json:"error_type"`
	Error     string `json:"error"`
}

func errorResult(errorType, msg string) *mcplib.CallToolResult {
	data, _ := json.MarshalIndent(errorEnvelope{ErrorType: errorType, Error: msg}, "", "  ")
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
		IsError: true,
	}
}

func jsonResult(v any) *mcplib.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult("serialization_error", err.Error())
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}
