// Package mcp implements the Model Context Protocol server for Musubi.
//
// The MCP server exposes a read-only slice of the HTTP API as MCP tools,
// resources, and prompts so coordinator assistants can inspect open shifts,
// evaluate candidates, and review proposals without write access. All
// mutations still go through the HTTP API.
package mcp

import (
	"log/slog"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/musubi/internal/service/matching"
	"github.com/ashita-ai/musubi/internal/storage"
)

// Server wraps the MCP server with Musubi's service layer.
type Server struct {
	mcpServer *mcpserver.MCPServer
	db        *storage.DB
	matchSvc  *matching.Service
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all resources and tools.
func New(db *storage.DB, matchSvc *matching.Service, logger *slog.Logger, version string) *Server {
	s := &Server{
		db:       db,
		matchSvc: matchSvc,
		logger:   logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"musubi",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithPromptCapabilities(true),
	)

	s.registerResources()
	s.registerTools()
	s.registerPrompts()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}
