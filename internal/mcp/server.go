// Package mcp is a minimal Model Context Protocol server over stdio:
// newline-delimited JSON-RPC 2.0 with the initialize / tools/list /
// tools/call methods an MCP tool client needs.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

const protocolVersion = "2024-11-05"

// ToolHandler executes a tool call. A returned error becomes an isError tool
// result; it never crashes the server.
type ToolHandler func(ctx context.Context, args map[string]any) (any, error)

type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Handler     ToolHandler
}

type Server struct {
	name    string
	version string
	logger  *slog.Logger

	mu    sync.RWMutex
	tools map[string]Tool

	writeMu sync.Mutex
}

func NewServer(name string, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		name:    name,
		version: version,
		logger:  logger,
		tools:   make(map[string]Tool),
	}
}

func (s *Server) Register(tool Tool) error {
	name := strings.TrimSpace(tool.Name)
	if name == "" {
		return errors.New("tool name is required")
	}
	if tool.Handler == nil {
		return fmt.Errorf("tool %s missing handler", name)
	}
	tool.Name = name

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tools[name]; ok {
		return fmt.Errorf("tool %s already registered", name)
	}
	s.tools[name] = tool
	return nil
}

// Run serves requests from r until EOF or context cancellation. Responses go
// to w, one JSON object per line. The reader goroutine may stay blocked on a
// pending read after cancellation (stdin cannot be interrupted portably), but
// Run itself returns as soon as the context is done.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			s.handleLine(ctx, raw, w)
		}
	}
}

func (s *Server) handleLine(ctx context.Context, raw string, w io.Writer) {
	line := strings.TrimSpace(raw)
	if line == "" {
		return
	}

	var req request
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		s.reply(w, response{JSONRPC: jsonrpcVersion, ID: json.RawMessage("null"), Error: &rpcError{Code: codeParseError, Message: "parse error"}})
		return
	}
	if req.JSONRPC != jsonrpcVersion {
		if !req.isNotification() {
			s.reply(w, response{JSONRPC: jsonrpcVersion, ID: req.ID, Error: &rpcError{Code: codeInvalidRequest, Message: "unsupported jsonrpc version"}})
		}
		return
	}

	resp, answer := s.dispatch(ctx, req)
	if answer {
		s.reply(w, resp)
	}
}

func (s *Server) dispatch(ctx context.Context, req request) (response, bool) {
	if req.isNotification() {
		// Notifications (e.g. notifications/initialized) are accepted silently.
		return response{}, false
	}

	resp := response{JSONRPC: jsonrpcVersion, ID: req.ID}
	switch req.Method {
	case "initialize":
		resp.Result = map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": s.name, "version": s.version},
		}
	case "ping":
		resp.Result = map[string]any{}
	case "tools/list":
		resp.Result = map[string]any{"tools": s.listTools()}
	case "tools/call":
		result, rpcErr := s.callTool(ctx, req.Params)
		if rpcErr != nil {
			resp.Error = rpcErr
		} else {
			resp.Result = result
		}
	default:
		resp.Error = &rpcError{Code: codeMethodNotFound, Message: fmt.Sprintf("method %q not found", req.Method)}
	}
	return resp, true
}

type toolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema"`
}

func (s *Server) listTools() []toolDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]toolDescriptor, 0, len(s.tools))
	for _, t := range s.tools {
		schema := t.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		out = append(out, toolDescriptor{Name: t.Name, Description: t.Description, InputSchema: schema})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

type callParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func (s *Server) callTool(ctx context.Context, raw json.RawMessage) (any, *rpcError) {
	var params callParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: "invalid tools/call params"}
	}
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return nil, &rpcError{Code: codeInvalidParams, Message: "missing tool name"}
	}

	s.mu.RLock()
	tool, ok := s.tools[name]
	s.mu.RUnlock()
	if !ok {
		return nil, &rpcError{Code: codeInvalidParams, Message: fmt.Sprintf("unknown tool %q", name)}
	}

	args := params.Arguments
	if args == nil {
		args = map[string]any{}
	}

	result, err := tool.Handler(ctx, args)
	if err != nil {
		s.logger.Warn("tool call failed", "tool", name, "error", err)
		return toolResult(err.Error(), true), nil
	}

	encoded, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		s.logger.Error("tool result not serializable", "tool", name, "error", err)
		return nil, &rpcError{Code: codeInternalError, Message: "tool result not serializable"}
	}
	return toolResult(string(encoded), false), nil
}

func toolResult(text string, isError bool) map[string]any {
	out := map[string]any{
		"content": []map[string]any{{"type": "text", "text": text}},
	}
	if isError {
		out["isError"] = true
	}
	return out
}

func (s *Server) reply(w io.Writer, resp response) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	enc, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("encode response", "error", err)
		return
	}
	if _, err := w.Write(append(enc, '\n')); err != nil {
		s.logger.Error("write response", "error", err)
	}
}
