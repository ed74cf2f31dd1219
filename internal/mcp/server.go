// Package mcp exposes the NotebookLM session bridge as MCP tools. Every tool
// call is validated against its schema first, then funneled through the
// shared operation queue onto the single authenticated browser session.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"notebooklm-mcp-server/internal/auth"
	"notebooklm-mcp-server/internal/browser"
	"notebooklm-mcp-server/internal/config"
	"notebooklm-mcp-server/internal/jobs"
	"notebooklm-mcp-server/internal/notebooklm"
	"notebooklm-mcp-server/internal/queue"
	"notebooklm-mcp-server/internal/recorder"
	"notebooklm-mcp-server/internal/rpc"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// Server wires the MCP runtime onto the session bridge: the NotebookLM
// client for domain calls, the controller for session administration, and
// the flight recorder for traces.
type Server struct {
	cfg        config.Config
	client     *notebooklm.Client
	controller *browser.Controller
	queue      *queue.Queue
	store      *auth.Store
	observer   *rpc.Observer
	rec        *recorder.Recorder
	logger     *zap.Logger
	tools      map[string]Tool
	mcpServer  *mcpserver.MCPServer
}

// Tool describes the contract for MCP tool implementations.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// NewServer constructs the NotebookLM MCP server and registers all tools.
func NewServer(cfg config.Config, client *notebooklm.Client, controller *browser.Controller, q *queue.Queue, store *auth.Store, observer *rpc.Observer, rec *recorder.Recorder, logger *zap.Logger) (*Server, error) {
	if client == nil || controller == nil || q == nil || store == nil {
		return nil, errors.New("mcp: client, controller, queue, and store are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	mcpSrv := mcpserver.NewMCPServer(
		cfg.Server.Name,
		cfg.Server.Version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithLogging(),
		mcpserver.WithRecovery(),
	)

	server := &Server{
		cfg:        cfg,
		client:     client,
		controller: controller,
		queue:      q,
		store:      store,
		observer:   observer,
		rec:        rec,
		logger:     logger.Named("mcp"),
		tools:      make(map[string]Tool),
		mcpServer:  mcpSrv,
	}

	server.registerAllTools()
	return server, nil
}

// Start launches the stdio server (Claude/Gemini CLI default).
func (s *Server) Start(ctx context.Context) error {
	stdio := mcpserver.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// StartSSE hosts the server over HTTP using SSE endpoints with graceful shutdown.
func (s *Server) StartSSE(ctx context.Context, port int) error {
	sseServer := mcpserver.NewSSEServer(s.mcpServer, mcpserver.WithBaseURL("http://localhost:"+strconv.Itoa(port)))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())

	httpServer := &http.Server{
		Addr:    ":" + strconv.Itoa(port),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("sse server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// ExecuteTool runs a registered tool directly, bypassing the MCP transport.
// It applies the same schema validation the transport path does; tests and
// the demo harness use it.
func (s *Server) ExecuteTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	tool, exists := s.tools[name]
	if !exists {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	if err := validateArgs(name, tool.InputSchema(), args); err != nil {
		return nil, err
	}
	return tool.Execute(ctx, args)
}

func (s *Server) registerAllTools() {
	// Notebook lifecycle
	s.registerTool(&NotebookListTool{client: s.client})
	s.registerTool(&NotebookCreateTool{client: s.client})
	s.registerTool(&NotebookGetTool{client: s.client})
	s.registerTool(&NotebookDescribeTool{client: s.client})
	s.registerTool(&NotebookRenameTool{client: s.client})
	s.registerTool(&NotebookDeleteTool{client: s.client})

	// Sources
	s.registerTool(&SourceAddTool{client: s.client})
	s.registerTool(&SourceListTool{client: s.client})
	s.registerTool(&SourceDeleteTool{client: s.client})
	s.registerTool(&SourceDescribeTool{client: s.client})
	s.registerTool(&SourceGetContentTool{client: s.client})

	// Chat
	s.registerTool(&NotebookQueryTool{client: s.client})
	s.registerTool(&ChatConfigureTool{client: s.client})

	// Studio artifacts
	s.registerTool(&StudioCreateTool{client: s.client})
	s.registerTool(&StudioStatusTool{client: s.client})
	s.registerTool(&DownloadArtifactTool{client: s.client})

	// Research
	s.registerTool(&ResearchStartTool{client: s.client})
	s.registerTool(&ResearchStatusTool{client: s.client})
	s.registerTool(&ResearchImportTool{client: s.client})

	// Sharing
	s.registerTool(&ShareStatusTool{client: s.client})
	s.registerTool(&SharePublicTool{client: s.client})
	s.registerTool(&ShareInviteTool{client: s.client})

	// Server administration
	s.registerTool(&RefreshAuthTool{controller: s.controller, queue: s.queue, deadline: s.cfg.Queue.WriteDeadline()})
	s.registerTool(&ServerInfoTool{server: s})
	if s.observer != nil {
		s.registerTool(&RPCDiscoverTool{client: s.client, observer: s.observer})
	}
}

func (s *Server) registerTool(tool Tool) {
	s.tools[tool.Name()] = tool

	schema, err := json.Marshal(tool.InputSchema())
	if err != nil {
		schema = json.RawMessage(`{"type":"object"}`)
	}

	mcpTool := mcp.NewToolWithRawSchema(tool.Name(), tool.Description(), schema)
	s.mcpServer.AddTool(mcpTool, s.wrapTool(tool))
}

func (s *Server) wrapTool(tool Tool) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		if args == nil {
			args = map[string]interface{}{}
		}

		// Schema validation happens before any session interaction; a bad
		// call never reaches the queue.
		if err := validateArgs(tool.Name(), tool.InputSchema(), args); err != nil {
			return s.failToolCall(tool.Name(), args, err), nil
		}

		s.record("tool_call", tool.Name(), callRef(args), sanitizeArgs(args))

		result, err := tool.Execute(ctx, args)
		if err != nil {
			return s.failToolCall(tool.Name(), args, err), nil
		}

		s.record("tool_result", tool.Name(), callRef(args), nil)

		payload := marshalToolPayload(tool.Name(), result)
		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.NewTextContent(string(payload))},
			IsError: false,
		}, nil
	}
}

// failToolCall renders an error as an IsError tool result. Tool failures are
// payloads, never protocol errors, so clients keep the session alive.
func (s *Server) failToolCall(tool string, args map[string]interface{}, err error) *mcp.CallToolResult {
	s.record("tool_error", tool, callRef(args), map[string]interface{}{"error": err.Error()})
	s.logger.Warn("tool call failed", zap.String("tool", tool), zap.Error(err))

	payload := marshalToolPayload(tool, errorPayload(err))
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(payload))},
		IsError: true,
	}
}

func (s *Server) record(eventType, tool, ref string, data interface{}) {
	if s.rec != nil {
		s.rec.Log(eventType, tool, ref, data)
	}
}

// errorPayload renders a failed call as a structured payload so MCP clients
// can branch on the error category instead of parsing prose. Session errors
// win over operation errors when both apply: the caller cares that the
// session is gone more than which operation noticed.
func errorPayload(err error) map[string]interface{} {
	payload := map[string]interface{}{
		"error": err.Error(),
	}

	var validationErr *ValidationError
	var sessionErr *browser.SessionError
	var opErr *queue.OperationError
	var jobErr *jobs.JobError
	var remoteErr *notebooklm.RemoteError
	var autoErr *browser.AutomationError

	switch {
	case errors.As(err, &validationErr):
		payload["category"] = "validation"
		payload["field"] = validationErr.Field
		payload["reason"] = string(validationErr.Reason)
	case errors.As(err, &sessionErr):
		payload["category"] = "session"
		payload["reason"] = string(sessionErr.Reason)
		if sessionErr.Hint != "" {
			payload["hint"] = sessionErr.Hint
		}
	case errors.As(err, &jobErr):
		payload["category"] = "job"
		payload["job_id"] = jobErr.JobID
	case errors.As(err, &opErr):
		payload["category"] = "operation"
		payload["reason"] = string(opErr.Reason)
		if opErr.Name != "" {
			payload["operation"] = opErr.Name
		}
	case errors.As(err, &remoteErr):
		payload["category"] = "remote"
		payload["action"] = remoteErr.Action
		if remoteErr.StatusCode != 0 {
			payload["status_code"] = remoteErr.StatusCode
		}
	case errors.As(err, &autoErr):
		payload["category"] = "automation"
		payload["reason"] = string(autoErr.Reason)
		if autoErr.Selector != "" {
			payload["selector"] = autoErr.Selector
		}
	default:
		payload["category"] = "internal"
	}
	return payload
}

func marshalToolPayload(toolName string, result interface{}) []byte {
	payload, marshalErr := json.Marshal(result)
	if marshalErr == nil {
		return payload
	}

	fallback := map[string]interface{}{
		"success": false,
		"error":   fmt.Sprintf("tool %s returned non-serializable payload: %v", toolName, marshalErr),
	}
	payload, fallbackErr := json.Marshal(fallback)
	if fallbackErr == nil {
		return payload
	}

	return []byte(fmt.Sprintf(`{"success":false,"error":"tool %s failed to encode payload"}`, toolName))
}

// callRef picks the most useful correlation handle from the arguments for
// trace events.
func callRef(args map[string]interface{}) string {
	for _, key := range []string{"job_id", "research_id", "artifact_id", "source_id", "notebook_id"} {
		if v, ok := getStringArg(args, key); ok && v != "" {
			return v
		}
	}
	return ""
}

// sanitizeArgs trims bulky values so traces stay one line per event.
func sanitizeArgs(args map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		if s, ok := v.(string); ok && len(s) > 200 {
			out[k] = s[:200] + "..."
			continue
		}
		out[k] = v
	}
	return out
}
