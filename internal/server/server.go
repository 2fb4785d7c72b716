package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/musubi/internal/auth"
	"github.com/ashita-ai/musubi/internal/model"
	"github.com/ashita-ai/musubi/internal/notify"
	"github.com/ashita-ai/musubi/internal/ratelimit"
	"github.com/ashita-ai/musubi/internal/service/expiry"
	"github.com/ashita-ai/musubi/internal/service/history"
	"github.com/ashita-ai/musubi/internal/service/matching"
	"github.com/ashita-ai/musubi/internal/storage"
)

// Server is the Musubi HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// RoleMiddlewareFn builds role-enforcing middleware for a minimum role.
// Passed to extra-route registrars so embedders can guard their own
// endpoints with the same RBAC the core routes use.
type RoleMiddlewareFn func(minRole model.Role) func(http.Handler) http.Handler

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Expirer, Recorder, OutboxWorker, Limiter,
// Broker, MCPServer, MatchHooks, ExtraRoutes, Middlewares, OpenAPISpec.
type ServerConfig struct {
	// Required dependencies.
	DB       *storage.DB
	JWTMgr   *auth.JWTManager
	MatchSvc *matching.Service
	Logger   *slog.Logger

	// Optional dependencies (nil = disabled).
	Expirer      *expiry.Expirer
	Recorder     *history.Recorder
	OutboxWorker *notify.OutboxWorker
	Limiter      ratelimit.Limiter
	Broker       *Broker
	MCPServer    *mcpserver.MCPServer
	MatchHooks   []MatchEventHook

	// Extension points for embedders.
	ExtraRoutes []func(*http.ServeMux, RoleMiddlewareFn)
	Middlewares []func(http.Handler) http.Handler

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
	ConfigDefaults      ConfigDefaults

	// Optional embedded assets.
	OpenAPISpec []byte
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:                  cfg.DB,
		JWTMgr:              cfg.JWTMgr,
		MatchSvc:            cfg.MatchSvc,
		Expirer:             cfg.Expirer,
		Recorder:            cfg.Recorder,
		OutboxWorker:        cfg.OutboxWorker,
		Broker:              cfg.Broker,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         cfg.OpenAPISpec,
		ConfigDefaults:      cfg.ConfigDefaults,
		MatchHooks:          cfg.MatchHooks,
	})

	// Request ID extractor for rate limit error responses.
	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}

	// Rate limit classes. Each class gets an independent token bucket per
	// account (per IP for auth); the rate itself comes from the limiter.
	matchRL := ratelimit.Middleware(cfg.Limiter, accountKeyFunc("match"), reqIDFunc)
	writeRL := ratelimit.Middleware(cfg.Limiter, accountKeyFunc("write"), reqIDFunc)
	queryRL := ratelimit.Middleware(cfg.Limiter, accountKeyFunc("query"), reqIDFunc)
	authRL := ratelimit.Middleware(cfg.Limiter, func(r *http.Request) string {
		return "auth:" + ratelimit.IPKeyFunc(r)
	}, reqIDFunc)

	mux := http.NewServeMux()

	// Auth endpoints (no auth required, rate limited by IP).
	mux.Handle("POST /auth/token", authRL(http.HandlerFunc(h.HandleAuthToken)))

	// Admin endpoints (no rate limit — admin is exempt).
	adminOnly := requireRole(model.RoleAdmin)
	mux.Handle("POST /auth/scoped-token", adminOnly(http.HandlerFunc(h.HandleScopedToken)))
	mux.Handle("POST /v1/accounts", adminOnly(http.HandlerFunc(h.HandleCreateAccount)))
	mux.Handle("GET /v1/accounts", adminOnly(http.HandlerFunc(h.HandleListAccounts)))
	mux.Handle("DELETE /v1/accounts/{account_id}", adminOnly(http.HandlerFunc(h.HandleDeactivateAccount)))
	mux.Handle("PUT /v1/accounts/{account_id}/key", adminOnly(http.HandlerFunc(h.HandleRotateAccountKey)))
	mux.Handle("POST /v1/proposals/expire-stale", adminOnly(http.HandlerFunc(h.HandleExpireStale)))

	// Shifts (creation and matching are coordinator+; reads are any role).
	coordRole := requireRole(model.RoleCoordinator)
	anyRole := requireRole(model.RoleCaregiver)
	mux.Handle("POST /v1/shifts", writeRL(coordRole(http.HandlerFunc(h.HandleCreateShift))))
	mux.Handle("GET /v1/shifts", queryRL(anyRole(http.HandlerFunc(h.HandleListShifts))))
	mux.Handle("GET /v1/shifts/{shift_id}", queryRL(anyRole(http.HandlerFunc(h.HandleGetShift))))
	mux.Handle("POST /v1/shifts/{shift_id}/match", matchRL(coordRole(http.HandlerFunc(h.HandleMatchShift))))
	mux.Handle("GET /v1/shifts/{shift_id}/history", queryRL(coordRole(http.HandlerFunc(h.HandleShiftHistory))))
	mux.Handle("POST /v1/shifts/{shift_id}/claim", writeRL(anyRole(http.HandlerFunc(h.HandleClaimShift))))

	// Proposals. Search is open to all roles; the handler pins caregiver
	// accounts to their own proposals.
	mux.Handle("POST /v1/shifts/{shift_id}/proposals", writeRL(coordRole(http.HandlerFunc(h.HandleCreateManualProposal))))
	mux.Handle("GET /v1/shifts/{shift_id}/proposals", queryRL(coordRole(http.HandlerFunc(h.HandleListShiftProposals))))
	mux.Handle("GET /v1/proposals", queryRL(anyRole(http.HandlerFunc(h.HandleSearchProposals))))
	mux.Handle("POST /v1/proposals/{proposal_id}/respond", writeRL(anyRole(http.HandlerFunc(h.HandleRespondProposal))))
	mux.Handle("POST /v1/proposals/{proposal_id}/viewed", writeRL(anyRole(http.HandlerFunc(h.HandleMarkProposalViewed))))

	// Caregiver self-service (handlers enforce self-or-coordinator).
	mux.Handle("GET /v1/caregivers/{caregiver_id}/available-shifts", queryRL(anyRole(http.HandlerFunc(h.HandleAvailableShifts))))
	mux.Handle("GET /v1/caregivers/{caregiver_id}/preferences", queryRL(anyRole(http.HandlerFunc(h.HandleGetPreferences))))
	mux.Handle("PUT /v1/caregivers/{caregiver_id}/preferences", writeRL(anyRole(http.HandlerFunc(h.HandleUpsertPreferences))))

	// Matching configurations (coordinator+).
	mux.Handle("POST /v1/configurations", writeRL(coordRole(http.HandlerFunc(h.HandleCreateConfiguration))))
	mux.Handle("GET /v1/configurations", queryRL(coordRole(http.HandlerFunc(h.HandleListConfigurations))))
	mux.Handle("GET /v1/configurations/{config_id}", queryRL(coordRole(http.HandlerFunc(h.HandleGetConfiguration))))
	mux.Handle("PUT /v1/configurations/{config_id}", writeRL(coordRole(http.HandlerFunc(h.HandleUpdateConfiguration))))
	mux.Handle("DELETE /v1/configurations/{config_id}", writeRL(coordRole(http.HandlerFunc(h.HandleDeleteConfiguration))))

	// Subscription endpoint (coordinator+, no rate limit — long-lived connection).
	mux.Handle("GET /v1/subscribe", coordRole(http.HandlerFunc(h.HandleSubscribe)))

	// MCP StreamableHTTP transport (auth required, coordinator+).
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", coordRole(mcpHTTP))
	}

	// OpenAPI spec (no auth, no rate limit).
	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Embedder routes. Registrars receive requireRole so their endpoints can
	// reuse the core RBAC checks.
	for _, register := range cfg.ExtraRoutes {
		register(mux, requireRole)
	}

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	// Embedder middlewares wrap the whole chain. The first registered is
	// outermost.
	for i := len(cfg.Middlewares) - 1; i >= 0; i-- {
		handler = cfg.Middlewares[i](handler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// accountKeyFunc returns a key func that buckets requests by account within
// a rate-limit class. Returns empty string for admin roles (exempt) and for
// unauthenticated requests, which skips rate limiting.
func accountKeyFunc(class string) ratelimit.KeyFunc {
	return func(r *http.Request) string {
		claims := ClaimsFromContext(r.Context())
		if claims == nil {
			return ""
		}
		if model.RoleAtLeast(claims.Role, model.RoleAdmin) {
			return ""
		}
		return class + ":" + claims.Subject
	}
}

// Handlers returns the underlying Handlers for access to SeedAdmin etc.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
