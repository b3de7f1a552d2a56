package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ironsheep/room-overlay-mcp/internal/metrics"
	"github.com/ironsheep/room-overlay-mcp/internal/notify"
	"github.com/ironsheep/room-overlay-mcp/internal/session"
)

// DefaultPlaceTimeout bounds how long overlay_place waits for background
// removal before answering with the pending request.
const DefaultPlaceTimeout = 35 * time.Second

// Server handles MCP protocol communication for one editing session.
type Server struct {
	session *session.Session
	notes   *notify.Recorder
	metrics *metrics.Metrics
	logger  *slog.Logger
	version string

	placeTimeout time.Duration

	// callMu pairs each call with the notifications it drains. Stdio and
	// HTTP share one recorder.
	callMu sync.Mutex
}

// Config wires a Server. Session is required. Notes should be the recorder
// the session notifies, so that tool results carry the messages a call
// produced.
type Config struct {
	Session      *session.Session
	Notes        *notify.Recorder
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
	Version      string
	PlaceTimeout time.Duration
}

// MCPRequest represents an incoming JSON-RPC request
type MCPRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// MCPResponse represents an outgoing JSON-RPC response
type MCPResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *MCPError   `json:"error,omitempty"`
}

// MCPError represents a JSON-RPC error
type MCPError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// JSON-RPC error codes.
const (
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeToolFailed     = -32000
)

// New creates a new MCP server instance
func New(cfg Config) (*Server, error) {
	if cfg.Session == nil {
		return nil, fmt.Errorf("server requires a session")
	}
	if cfg.Notes == nil {
		cfg.Notes = &notify.Recorder{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.PlaceTimeout <= 0 {
		cfg.PlaceTimeout = DefaultPlaceTimeout
	}
	return &Server{
		session:      cfg.Session,
		notes:        cfg.Notes,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		version:      cfg.Version,
		placeTimeout: cfg.PlaceTimeout,
	}, nil
}

// Run reads JSON-RPC requests from r, one per line, and writes responses to
// w until r is exhausted or ctx is cancelled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	// Photos arrive base64 encoded, so lines can be large.
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 64*1024*1024)

	encoder := json.NewEncoder(w)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req MCPRequest
		if err := json.Unmarshal(line, &req); err != nil {
			s.logger.Warn("failed to parse request", "error", err)
			continue
		}

		resp := s.handleRequest(ctx, &req)
		if resp != nil {
			if err := encoder.Encode(resp); err != nil {
				s.logger.Error("failed to encode response", "error", err)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanner error: %w", err)
	}

	return nil
}

// handleRequest routes requests to appropriate handlers
func (s *Server) handleRequest(ctx context.Context, req *MCPRequest) *MCPResponse {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "notifications/initialized":
		// Client acknowledgment, no response needed
		return nil
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	case "ping":
		return &MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  map[string]interface{}{},
		}
	default:
		return &MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &MCPError{
				Code:    CodeMethodNotFound,
				Message: fmt.Sprintf("Method not found: %s", req.Method),
			},
		}
	}
}

// handleInitialize responds to the initialize request
func (s *Server) handleInitialize(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"protocolVersion": "2024-11-05",
			"capabilities": map[string]interface{}{
				"tools": map[string]interface{}{},
			},
			"serverInfo": map[string]interface{}{
				"name":    "room-overlay-mcp",
				"version": s.version,
			},
		},
	}
}
