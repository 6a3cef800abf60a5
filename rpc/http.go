package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"bountychain/core"
	"bountychain/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

// ServerConfig tunes the JSON-RPC server.
type ServerConfig struct {
	// AdminSecret signs the HS256 tokens accepted by admin methods. Admin
	// methods are refused when it is empty.
	AdminSecret string
	// AdminIssuer, when set, must match the token's iss claim.
	AdminIssuer string
	ClockSkew   time.Duration

	RequestsPerSecond float64
	Burst             int
	// DisableRateLimit turns the per-client limiter off.
	DisableRateLimit bool
	// TrustProxyHeaders keys the limiter on X-Real-IP or X-Forwarded-For
	// instead of the connection's remote address.
	TrustProxyHeaders bool

	ReadHeaderTimeout time.Duration
	Logger            *slog.Logger
}

type Server struct {
	node    *core.Node
	cfg     ServerConfig
	logger  *slog.Logger
	admin   *adminAuthenticator
	limiter *clientLimiter
	handler http.Handler

	httpSrv     *http.Server
	lastDropped atomic.Uint64
}

// NewServer builds the JSON-RPC server over node.
func NewServer(node *core.Node, cfg ServerConfig) (*Server, error) {
	if node == nil {
		return nil, fmt.Errorf("rpc: node required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	s := &Server{
		node:   node,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "rpc")),
		admin:  newAdminAuthenticator(cfg.AdminSecret, cfg.AdminIssuer, cfg.ClockSkew),
	}
	if !cfg.DisableRateLimit {
		s.limiter = newClientLimiter(cfg.RequestsPerSecond, cfg.Burst, cfg.TrustProxyHeaders)
	}
	s.handler = s.routes()
	return s, nil
}

// Handler exposes the router so tests and embedders can serve it directly.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws/events", s.handleEventsWS)

	rpcHandler := otelhttp.NewHandler(http.HandlerFunc(s.handle), "jsonrpc")
	if s.limiter != nil {
		rpcHandler = s.limiter.Middleware(rpcHandler)
	}
	r.Method(http.MethodPost, "/rpc", rpcHandler)
	r.Method(http.MethodPost, "/", rpcHandler)
	return r
}

// Start listens on addr and serves until Shutdown is called.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("rpc: listen %s: %w", addr, err)
	}
	return s.Serve(listener)
}

// Serve accepts connections on listener until Shutdown is called.
func (s *Server) Serve(listener net.Listener) error {
	s.httpSrv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}
	s.logger.Info("json-rpc server listening", slog.String("addr", listener.Addr().String()))
	err := s.httpSrv.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// codeRecorder remembers the JSON-RPC error code written for a request so the
// handler can report it to the module metrics.
type codeRecorder struct {
	http.ResponseWriter
	code int
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if rec, ok := w.(*codeRecorder); ok {
		rec.code = code
	}
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// handle decodes a JSON-RPC envelope and routes it to a method handler.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	start := time.Now()
	rec := &codeRecorder{ResponseWriter: w}
	s.dispatch(rec, r, req)
	module, method := splitMethod(req.Method)
	observability.ModuleMetrics().Observe(module, method, rec.code, time.Since(start))
	s.logger.Debug("json-rpc call",
		slog.String("method", req.Method),
		slog.String("request_id", RequestIDFromContext(r.Context())),
		slog.Int("code", rec.code),
		slog.Duration("duration", time.Since(start)))
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	switch req.Method {
	case "bounty_initialize":
		if authErr := s.requireAdmin(r); authErr != nil {
			observability.ModuleMetrics().RecordDenial(req.Method, "admin_auth")
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleBountyInitialize(w, r, req)
	case "bounty_create":
		s.handleBountyCreate(w, r, req)
	case "bounty_submitSolution":
		s.handleBountySubmit(w, r, req)
	case "bounty_approveSolution":
		s.handleBountyApprove(w, r, req)
	case "bounty_rejectSolution":
		s.handleBountyReject(w, r, req)
	case "bounty_cancel":
		s.handleBountyCancel(w, r, req)
	case "bounty_get":
		s.handleBountyGet(w, r, req)
	case "bounty_list":
		s.handleBountyList(w, r, req)
	case "bounty_listOpen":
		s.handleBountyListOpen(w, r, req)
	case "bounty_listByCreator":
		s.handleBountyListByCreator(w, r, req)
	case "bounty_count":
		s.handleBountyCount(w, r, req)
	case "account_balance":
		s.handleAccountBalance(w, r, req)
	case "account_nonce":
		s.handleAccountNonce(w, r, req)
	case "ledger_mint":
		if authErr := s.requireAdmin(r); authErr != nil {
			observability.ModuleMetrics().RecordDenial(req.Method, "admin_auth")
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleLedgerMint(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
	}
}

func splitMethod(method string) (string, string) {
	module, name, ok := strings.Cut(method, "_")
	if !ok {
		return "unknown", method
	}
	return module, name
}

// decodeSingleParam unmarshals the one parameter object a method expects.
func decodeSingleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return err
	}
	return nil
}
