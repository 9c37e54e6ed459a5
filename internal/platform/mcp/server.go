// Package mcp serves a set of tools over the Model Context Protocol. It wraps
// a mark3labs/mcp-go server, keeps the registration order for listing, and
// reports every call to an optional Observer. Tools are served over
// newline-delimited stdio or a stateless streamable HTTP endpoint.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	gomcp "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

// HandlerFunc runs one tool call. args is the raw arguments object, or
// "null" when the caller sent none. The result is marshalled to JSON text.
type HandlerFunc func(ctx context.Context, args json.RawMessage) (interface{}, error)

// Observer is told about every finished tool call.
type Observer func(tool string, failed bool, d time.Duration)

// Server registers tools on an MCP server and exposes its transports.
type Server struct {
	mcp      *mcpserver.MCPServer
	logger   zerolog.Logger
	observer Observer

	mu    sync.RWMutex
	tools []gomcp.Tool
}

// NewServer creates a server with no tools.
func NewServer(name, version string, logger zerolog.Logger) *Server {
	return &Server{
		mcp: mcpserver.NewMCPServer(name, version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithRecovery(),
		),
		logger: logger,
	}
}

// Register adds a tool. Registering a name twice replaces the handler and
// keeps the original position in Tools.
func (s *Server) Register(t gomcp.Tool, h HandlerFunc) {
	s.mu.Lock()
	replaced := false
	for i := range s.tools {
		if s.tools[i].Name == t.Name {
			s.tools[i] = t
			replaced = true
		}
	}
	if !replaced {
		s.tools = append(s.tools, t)
	}
	s.mu.Unlock()

	s.mcp.AddTool(t, s.toolHandler(t.Name, h))
}

// SetObserver installs o. It must be called before serving.
func (s *Server) SetObserver(o Observer) {
	s.observer = o
}

// Tools returns the registered tool definitions in registration order.
func (s *Server) Tools() []gomcp.Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]gomcp.Tool(nil), s.tools...)
}

// toolHandler adapts h to mcp-go. A failing h becomes an error result whose
// text is {"error": "<message>"}; only argument or result encoding failures
// surface as JSON-RPC errors.
func (s *Server) toolHandler(name string, h HandlerFunc) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		args, err := json.Marshal(req.Params.Arguments)
		if err != nil {
			return nil, fmt.Errorf("encode arguments: %w", err)
		}

		start := time.Now()
		result, err := h(ctx, args)
		if s.observer != nil {
			s.observer(name, err != nil, time.Since(start))
		}
		if err != nil {
			s.logger.Warn().Err(err).Str("tool", name).Msg("tool call failed")
			text, _ := json.Marshal(map[string]string{"error": err.Error()})
			return gomcp.NewToolResultError(string(text)), nil
		}

		text, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("encode %s result: %w", name, err)
		}
		s.logger.Debug().Str("tool", name).Dur("took", time.Since(start)).Msg("tool call")
		return gomcp.NewToolResultText(string(text)), nil
	}
}

// Handle answers one JSON-RPC message and returns the encoded response, or
// nil for a notification.
func (s *Server) Handle(ctx context.Context, msg []byte) ([]byte, error) {
	resp := s.mcp.HandleMessage(ctx, json.RawMessage(msg))
	if resp == nil {
		return nil, nil
	}
	return json.Marshal(resp)
}

// Serve reads one JSON-RPC message per line from r and writes responses to
// w. It returns nil at the end of r and the context error once ctx is done.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	stdio := mcpserver.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(log.New(s.logger, "", 0))
	err := stdio.Listen(ctx, r, w)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// EchoHandler serves the streamable HTTP transport without sessions: every
// POST carries one message and is answered with JSON. Notifications get
// 202 Accepted and no body.
func (s *Server) EchoHandler() echo.HandlerFunc {
	return echo.WrapHandler(mcpserver.NewStreamableHTTPServer(s.mcp, mcpserver.WithStateLess(true)))
}

// DecodeArgs unmarshals tool arguments into v. Missing arguments leave v
// untouched.
func DecodeArgs(args json.RawMessage, v interface{}) error {
	trimmed := bytes.TrimSpace(args)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}
