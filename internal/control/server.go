package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/die-net/rawprox/internal/event"
	"github.com/die-net/rawprox/internal/logsink"
	"github.com/die-net/rawprox/internal/proxy"
)

const (
	// Path is where the endpoint is served.
	Path = "/mcp"

	// DefaultProtocolVersion is reported when the client does not send one.
	DefaultProtocolVersion = "2024-11-05"

	// SessionHeader carries the session id issued by initialize.
	SessionHeader = "Mcp-Session-Id"

	maxRequestBytes = 1 << 20
)

// Logs is the subset of *logsink.Manager the control plane drives.
type Logs interface {
	Start(dest logsink.Destination) error
	Stop(directory *string) ([]logsink.Destination, error)
	WriteConsole(ev event.Event) error
}

// Rules is the subset of *proxy.Server the control plane drives.
type Rules interface {
	AddRule(ctx context.Context, rule proxy.Rule) error
	RemoveRule(port uint16) (proxy.Rule, error)
}

type Config struct {
	Logs  Logs
	Rules Rules

	// Shutdown is called once, after the shutdown tool's response is sent.
	Shutdown func()

	Version string
	Log     *zap.Logger
}

type Server struct {
	cfg Config

	shutdownOnce sync.Once
}

func NewServer(cfg Config) *Server {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Shutdown == nil {
		cfg.Shutdown = func() {}
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	return &Server{cfg: cfg}
}

// Listen binds the loopback control port (0 picks a free one) and announces
// the endpoint on the console with an mcp-ready event.
func (s *Server) Listen(ctx context.Context, port int) (net.Listener, error) {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("control listen on port %d: %w", port, err)
	}

	endpoint := Endpoint(ln.Addr())
	if err := s.cfg.Logs.WriteConsole(event.MCPReady(endpoint)); err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("announce control endpoint: %w", err)
	}
	s.cfg.Log.Info("control plane listening", zap.String("endpoint", endpoint))
	return ln, nil
}

// Serve handles requests on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          zap.NewStdLog(s.cfg.Log),
	}

	stop := context.AfterFunc(ctx, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	})
	defer stop()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("control serve: %w", err)
	}
	return nil
}

// Endpoint returns the URL clients POST to for a listener address.
func Endpoint(addr net.Addr) string {
	return "http://" + addr.String() + Path
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(Path, s.handleMCP)
	return mux
}

func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		writeResponse(w, http.StatusRequestEntityTooLarge, response{JSONRPC: "2.0", ID: nullID, Error: errorf(CodeInvalidRequest, "request too large")})
		return
	}

	var req request
	if err := json.Unmarshal(body, &req); err != nil {
		code, msg := CodeParseError, "parse error: "+err.Error()
		var ute *json.UnmarshalTypeError
		if errors.As(err, &ute) || bytes.HasPrefix(bytes.TrimSpace(body), []byte("[")) {
			code, msg = CodeInvalidRequest, "invalid request: expected a single JSON-RPC object"
		}
		writeResponse(w, http.StatusOK, response{JSONRPC: "2.0", ID: nullID, Error: errorf(code, "%s", msg)})
		return
	}

	if req.JSONRPC != "2.0" || req.Method == "" {
		id := req.ID
		if len(id) == 0 {
			id = nullID
		}
		writeResponse(w, http.StatusOK, response{JSONRPC: "2.0", ID: id, Error: errorf(CodeInvalidRequest, "invalid request: jsonrpc must be \"2.0\" and method is required")})
		return
	}

	if req.isNotification() {
		s.cfg.Log.Debug("control notification", zap.String("method", req.Method))
		w.WriteHeader(http.StatusAccepted)
		return
	}

	result, rpcErr := s.dispatch(r.Context(), w, &req)
	resp := response{JSONRPC: "2.0", ID: req.ID, Result: result, Error: rpcErr}
	if rpcErr != nil {
		s.cfg.Log.Info("control request failed", zap.String("method", req.Method), zap.Int("code", rpcErr.Code), zap.String("message", rpcErr.Message))
	}
	writeResponse(w, http.StatusOK, resp)
}

func (s *Server) dispatch(ctx context.Context, w http.ResponseWriter, req *request) (any, *Error) {
	switch req.Method {
	case "initialize":
		return s.initialize(w, req.Params)
	case "ping":
		return struct{}{}, nil
	case "tools/list":
		list := make([]Tool, 0, len(tools))
		for _, t := range tools {
			list = append(list, t.Tool)
		}
		return map[string]any{"tools": list}, nil
	case "tools/call":
		var p struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil || p.Name == "" {
			return nil, errorf(CodeInvalidParams, "tools/call requires a tool name")
		}
		return s.callTool(ctx, p.Name, p.Arguments)
	}

	if _, ok := findTool(req.Method); ok {
		return s.callTool(ctx, req.Method, req.Params)
	}
	return nil, errorf(CodeMethodNotFound, "method not found: %s", req.Method)
}

func (s *Server) initialize(w http.ResponseWriter, params json.RawMessage) (any, *Error) {
	var p struct {
		ProtocolVersion string `json:"protocolVersion"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, errorf(CodeInvalidParams, "invalid initialize params: %v", err)
		}
	}
	version := p.ProtocolVersion
	if version == "" {
		version = DefaultProtocolVersion
	}

	w.Header().Set(SessionHeader, uuid.NewString())
	return map[string]any{
		"protocolVersion": version,
		"capabilities":    map[string]any{"tools": map[string]any{}},
		"serverInfo":      map[string]any{"name": "rawprox", "version": s.cfg.Version},
	}, nil
}

type textContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (s *Server) callTool(ctx context.Context, name string, args json.RawMessage) (any, *Error) {
	t, ok := findTool(name)
	if !ok {
		return nil, errorf(CodeMethodNotFound, "unknown tool: %s", name)
	}

	text, err := t.call(ctx, s, args)
	if err != nil {
		return nil, toRPCError(err)
	}
	s.cfg.Log.Info("control tool called", zap.String("tool", name), zap.String("result", text))
	return map[string]any{"content": []textContent{{Type: "text", Text: text}}}, nil
}

// requestShutdown runs the Shutdown callback once. It runs in the
// background; Serve's graceful shutdown lets the in-flight response finish.
func (s *Server) requestShutdown() {
	s.shutdownOnce.Do(func() {
		go s.cfg.Shutdown()
	})
}

func writeResponse(w http.ResponseWriter, status int, resp response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
