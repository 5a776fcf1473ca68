package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"assistnerd-mcp-server/internal/browser"
	"assistnerd-mcp-server/internal/config"
	"assistnerd-mcp-server/internal/facts"
	"assistnerd-mcp-server/internal/qase"
	"assistnerd-mcp-server/internal/relay"
	"assistnerd-mcp-server/internal/session"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// Server wires the MCP runtime, the browser monitor, the session
// coordinator, and the help-request relay.
type Server struct {
	cfg       config.Config
	coord     *session.Coordinator
	monitor   *browser.Monitor
	relay     *relay.Relay
	facts     *facts.Store
	qase      *qase.Client
	tools     map[string]Tool
	mcpServer *mcpserver.MCPServer
}

// Deps carries the subsystems the tools operate on. Monitor and coord are
// required; relay, facts, and qase may be nil when disabled.
type Deps struct {
	Coordinator *session.Coordinator
	Monitor     *browser.Monitor
	Relay       *relay.Relay
	Facts       *facts.Store
	Qase        *qase.Client
}

// Tool describes the contract for MCP tool implementations.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// NewServer constructs the AssistNERD MCP server and registers all tools.
func NewServer(cfg config.Config, deps Deps) (*Server, error) {
	if deps.Coordinator == nil {
		return nil, fmt.Errorf("session coordinator is required")
	}

	mcpSrv := mcpserver.NewMCPServer(
		cfg.Server.Name,
		cfg.Server.Version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithLogging(),
		mcpserver.WithPromptCapabilities(false),
		mcpserver.WithRecovery(),
	)

	server := &Server{
		cfg:       cfg,
		coord:     deps.Coordinator,
		monitor:   deps.Monitor,
		relay:     deps.Relay,
		facts:     deps.Facts,
		qase:      deps.Qase,
		tools:     make(map[string]Tool),
		mcpServer: mcpSrv,
	}

	server.registerAllTools()
	server.registerAllResources()
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
		log.Printf("SSE server shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// ExecuteTool executes a tool directly (used by demos/tests).
func (s *Server) ExecuteTool(name string, args map[string]interface{}) (interface{}, error) {
	tool, exists := s.tools[name]
	if !exists {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	return tool.Execute(context.Background(), args)
}

func (s *Server) registerAllTools() {
	// Browser monitor control
	s.registerTool(&ConnectBrowserTool{monitor: s.monitor})
	s.registerTool(&ShutdownBrowserTool{monitor: s.monitor})
	s.registerTool(&WatchAppTool{monitor: s.monitor})
	s.registerTool(&UnwatchAppTool{monitor: s.monitor})
	s.registerTool(&MonitorStatusTool{monitor: s.monitor, coord: s.coord})

	// Session introspection
	s.registerTool(&GetActivitySnapshotTool{coord: s.coord})
	s.registerTool(&GetActivityLogTool{coord: s.coord})
	s.registerTool(&ResetActivityTool{coord: s.coord})

	// Decision engine introspection
	s.registerTool(&GetAnalysisHistoryTool{coord: s.coord})
	s.registerTool(&GetEngineStatsTool{coord: s.coord})

	// Help request lifecycle
	s.registerTool(&ListHelpRequestsTool{relay: s.relay})
	s.registerTool(&ResolveHelpRequestTool{coord: s.coord})

	// Detected error queue
	s.registerTool(&ListDetectedErrorsTool{relay: s.relay})
	s.registerTool(&ClearDetectedErrorsTool{relay: s.relay})

	// Qase API
	s.registerTool(&ReportDefectTool{client: s.qase})
	s.registerTool(&ValidateCredentialsTool{client: s.qase})

	// Fact store
	s.registerTool(&QueryFactsTool{facts: s.facts})
	s.registerTool(&DerivedFactsTool{facts: s.facts})
	s.registerTool(&ListFactsTool{facts: s.facts})
	s.registerTool(&SubmitRuleTool{facts: s.facts})
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

		result, err := tool.Execute(ctx, args)
		if err != nil {
			return &mcp.CallToolResult{
				Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf("tool %s failed: %v", tool.Name(), err))},
				IsError: true,
			}, nil
		}

		payload := marshalToolPayload(tool.Name(), result)
		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.NewTextContent(string(payload))},
			IsError: false,
		}, nil
	}
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
