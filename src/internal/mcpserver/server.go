// Package mcpserver exposes the assistant's tool catalog to MCP clients over
// stdio. Calls run through the same dispatcher the chat engine uses.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"nudge/src/internal/engine/tools"
)

// Executor runs one tool call and returns its textual result.
type Executor interface {
	Execute(ctx context.Context, ownerID, name, arguments string) string
}

type Server struct {
	mcp   *server.MCPServer
	exec  Executor
	owner string
}

// New registers every catalog tool. Calls are made on behalf of owner.
func New(exec Executor, owner, version string) (*Server, error) {
	s := &Server{exec: exec, owner: owner}
	s.mcp = server.NewMCPServer(
		"Nudge",
		version,
		server.WithToolCapabilities(false),
	)

	specs, err := tools.Specs()
	if err != nil {
		return nil, err
	}
	for _, spec := range specs {
		s.mcp.AddTool(mcp.NewToolWithRawSchema(spec.Name, spec.Description, spec.Parameters), s.handler(spec.Name))
	}
	return s, nil
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) handler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := "{}"
		if raw := req.GetRawArguments(); raw != nil {
			b, err := json.Marshal(raw)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
			}
			args = string(b)
		}
		out := s.exec.Execute(ctx, s.owner, name, args)
		if strings.HasPrefix(out, "Error:") {
			return mcp.NewToolResultError(out), nil
		}
		return mcp.NewToolResultText(out), nil
	}
}
