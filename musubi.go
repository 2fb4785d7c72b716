// Package musubi is the public API for embedding the Musubi shift matching server.
//
// Agency platforms and plugin consumers import this package to construct and
// extend the server without forking it:
//
//	app, err := musubi.New(
//	    musubi.WithVersion(version),
//	    musubi.WithLogger(logger),
//	    musubi.WithNotifier(mySMSProvider{}),
//	    musubi.WithExtraRoutes(myPlatformRoutes),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: musubi (root) imports
// internal/*, but internal/* never imports musubi (root). Public types
// (Proposal, Shift, etc.) are standalone structs with no internal imports;
// conversion helpers (toPublicProposal, toPublicShift) live here because
// this is the only file that sees both sides of the boundary.
package musubi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/musubi/api"
	"github.com/ashita-ai/musubi/internal/auth"
	"github.com/ashita-ai/musubi/internal/config"
	"github.com/ashita-ai/musubi/internal/mcp"
	"github.com/ashita-ai/musubi/internal/model"
	"github.com/ashita-ai/musubi/internal/notify"
	"github.com/ashita-ai/musubi/internal/ratelimit"
	"github.com/ashita-ai/musubi/internal/server"
	"github.com/ashita-ai/musubi/internal/service/expiry"
	"github.com/ashita-ai/musubi/internal/service/history"
	"github.com/ashita-ai/musubi/internal/service/matching"
	"github.com/ashita-ai/musubi/internal/storage"
	"github.com/ashita-ai/musubi/internal/telemetry"
	"github.com/ashita-ai/musubi/migrations"
)

// App is the Musubi server lifecycle. Construct with New(), run with Run().
// App has no public fields; use New() options to configure it.
type App struct {
	cfg          config.Config
	db           *storage.DB
	srv          *server.Server
	recorder     *history.Recorder
	outbox       *notify.OutboxWorker
	expirer      *expiry.Expirer
	broker       *server.Broker // nil when no notify connection
	limiter      ratelimit.Limiter
	otelShutdown func(context.Context) error
	logger       *slog.Logger
	version      string
}

// New initialises the Musubi server. It connects to the database, runs
// migrations, wires all subsystems, and returns a ready-to-run App.
// It does NOT start any goroutines or accept HTTP connections; call Run().
func New(opts ...Option) (*App, error) {
	// Apply options.
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.notifyURL != "" {
		cfg.NotifyURL = o.notifyURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("musubi starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx(opts), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Connect to database.
	db, err := storage.New(context.Background(), cfg.DatabaseURL, cfg.NotifyURL, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}
	db.RegisterPoolMetrics()

	// Run embedded migrations.
	if cfg.SkipMigrations {
		logger.Info("embedded migrations skipped by config")
	} else if err := db.RunMigrations(context.Background(), migrations.FS); err != nil {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("migrations: %w", err)
	}

	// Run extra (embedder-supplied) migrations after the embedded ones.
	for i, extraFS := range o.extraMigrations {
		if err := db.RunMigrations(context.Background(), extraFS); err != nil {
			db.Close(context.Background())
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("extra migrations[%d]: %w", i, err)
		}
	}

	// Verify critical tables exist after migration.
	var schemaOK bool
	if err := db.Pool().QueryRow(context.Background(),
		`SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_schema = 'public' AND table_name = 'open_shifts')`,
	).Scan(&schemaOK); err != nil {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("schema verification: %w", err)
	}
	if !schemaOK {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("critical table 'open_shifts' does not exist after migration")
	}

	// Create JWT manager.
	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("auth: %w", err)
	}

	// Match history recorder.
	recorder := history.NewRecorder(db, logger, cfg.HistoryBufferSize, cfg.HistoryFlushTimeout)

	// Offer delivery sink. External override takes priority over the log sink.
	var sink notify.Notifier
	if o.notifier != nil {
		sink = &notifierAdapter{n: o.notifier}
		logger.Info("offer delivery: external provider")
	} else {
		sink = notify.NewLogNotifier(logger)
		logger.Info("offer delivery: log sink (no provider configured)")
	}

	// Optional blended scorer.
	var variant matching.VariantScorer
	if o.matchScorer != nil {
		variant = &variantScorerAdapter{scorer: o.matchScorer}
	}

	// Optional distance override; matching falls back to haversine when nil.
	var distance matching.DistanceFunc
	if o.distance != nil {
		distance = matching.DistanceFunc(o.distance)
	}

	// Create matching service (shared by HTTP and MCP handlers).
	matchSvc := matching.New(db, recorder, sink, o.clock, logger, matching.Options{
		ShiftBudget:    cfg.MatcherShiftBudget,
		ConfigCacheTTL: cfg.ConfigCacheTTL,
		Distance:       distance,
		Variant:        variant,
	})

	// Proposal expirer.
	expirer := expiry.New(db, recorder, o.clock, logger, cfg.ExpirerInterval, cfg.ProposalDefaultTTL)

	// Durable outbox worker retrying undelivered offers.
	outbox := notify.NewOutboxWorker(db, sink, logger, cfg.OutboxPollInterval, cfg.OutboxBatchSize)

	// MCP server.
	mcpSrv := mcp.New(db, matchSvc, logger, version)

	// SSE broker.
	var broker *server.Broker
	if db.HasNotifyConn() {
		broker = server.NewBroker(db, logger)
	} else {
		logger.Info("SSE broker: disabled (no notify connection)")
	}

	// Rate limiter.
	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	// Adapt event hooks from public musubi.EventHook to internal server.MatchEventHook.
	var matchHooks []server.MatchEventHook
	for _, h := range o.eventHooks {
		matchHooks = append(matchHooks, &matchHookAdapter{hook: h})
	}

	// Adapt route registrars from public musubi.RouteRegistrar to internal server format.
	var extraRoutes []func(*http.ServeMux, server.RoleMiddlewareFn)
	for _, fn := range o.routeRegistrars {
		fn := fn // capture
		extraRoutes = append(extraRoutes, func(mux *http.ServeMux, roleFn server.RoleMiddlewareFn) {
			fn(mux, &authHelperImpl{roleFn: roleFn})
		})
	}

	// Adapt middlewares from musubi.Middleware to func(http.Handler) http.Handler.
	var middlewares []func(http.Handler) http.Handler
	for _, mw := range o.middlewares {
		mw := mw // capture
		middlewares = append(middlewares, func(h http.Handler) http.Handler { return mw(h) })
	}

	// Create HTTP server.
	srv := server.New(server.ServerConfig{
		DB:                  db,
		JWTMgr:              jwtMgr,
		MatchSvc:            matchSvc,
		Logger:              logger,
		Expirer:             expirer,
		Recorder:            recorder,
		OutboxWorker:        outbox,
		Limiter:             limiter,
		Broker:              broker,
		MCPServer:           mcpSrv.MCPServer(),
		MatchHooks:          matchHooks,
		ExtraRoutes:         extraRoutes,
		Middlewares:         middlewares,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		ConfigDefaults: server.ConfigDefaults{
			MinScore:           cfg.DefaultMinScore,
			MaxProposals:       cfg.DefaultMaxProposals,
			ProposalTTLMinutes: int(cfg.ProposalDefaultTTL.Minutes()),
		},
		OpenAPISpec: api.OpenAPISpec,
	})

	// Seed admin account.
	if err := srv.Handlers().SeedAdmin(context.Background(), cfg.AdminAPIKey); err != nil {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("admin seed: %w", err)
	}

	return &App{
		cfg:          cfg,
		db:           db,
		srv:          srv,
		recorder:     recorder,
		outbox:       outbox,
		expirer:      expirer,
		broker:       broker,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts all background goroutines and the HTTP server, then blocks until
// ctx is cancelled or a fatal server error occurs. On return, Shutdown is called
// automatically; callers should not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	// Start background services.
	a.recorder.Start(ctx)
	a.outbox.Start(ctx)
	if a.broker != nil {
		go a.broker.Start(ctx)
	}

	// Background goroutines.
	go a.expirer.Run(ctx)
	go a.idempotencyCleanupLoop(ctx)

	// Start HTTP server.
	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Block until signal or server error.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown performs a three-phase graceful shutdown:
// (1) stop accepting HTTP requests and drain in-flight,
// (2) flush buffered match history to Postgres,
// (3) drain remaining offer deliveries from the outbox.
// It then closes the rate limiter, database pool and OTEL provider.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("musubi shutting down")

	// Phase 1: HTTP drain.
	httpCtx, httpCancel := contextWithOptionalTimeout(ctx, a.cfg.ShutdownHTTPTimeout)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	// Phase 2: history drain. Rows still buffered after the drain are audit
	// data loss, which is fatal for the shutdown.
	histCtx, histCancel := contextWithOptionalTimeout(ctx, a.cfg.ShutdownHistoryDrainTimeout)
	a.recorder.Drain(histCtx)
	histCancel()
	if remaining := a.recorder.Len(); remaining > 0 {
		a.logger.Error("history drain incomplete, unflushed match history will be lost",
			"remaining_rows", remaining,
			"configured_timeout", a.cfg.ShutdownHistoryDrainTimeout,
		)
		return fmt.Errorf("history drain incomplete: %d rows unflushed", remaining)
	}

	// Phase 3: outbox drain.
	outboxCtx, outboxCancel := contextWithOptionalTimeout(ctx, a.cfg.ShutdownOutboxDrainTimeout)
	a.outbox.Drain(outboxCtx)
	outboxCancel()

	// Cleanup.
	_ = a.limiter.Close()
	_ = a.otelShutdown(context.Background())
	a.db.Close(context.Background())

	a.logger.Info("musubi stopped")
	return nil
}

// ── Background loops ────────────────────────────────────────────────────────────

func (a *App) idempotencyCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.IdempotencyCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			opCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			deleted, err := a.db.CleanupIdempotencyKeys(opCtx, a.cfg.IdempotencyCompletedTTL, a.cfg.IdempotencyAbandonedTTL)
			cancel()
			if err != nil {
				a.logger.Warn("idempotency cleanup failed", "error", err)
				continue
			}
			if deleted > 0 {
				a.logger.Info("idempotency cleanup deleted rows", "deleted", deleted)
			}
		}
	}
}

// ── Adapters (defined here because this file imports both sides) ───────────────

// matchHookAdapter wraps a musubi.EventHook to satisfy server.MatchEventHook.
// It converts internal model types to public musubi types at the boundary.
type matchHookAdapter struct {
	hook EventHook
}

func (a *matchHookAdapter) OnProposalCreated(ctx context.Context, p model.AssignmentProposal) error {
	return a.hook.OnProposalCreated(ctx, toPublicProposal(p))
}

func (a *matchHookAdapter) OnProposalResponded(ctx context.Context, p model.AssignmentProposal) error {
	return a.hook.OnProposalResponded(ctx, toPublicProposal(p))
}

// notifierAdapter wraps a musubi.Notifier to satisfy notify.Notifier.
type notifierAdapter struct {
	n Notifier
}

func (a *notifierAdapter) SendProposalOffer(ctx context.Context, p model.AssignmentProposal) (string, error) {
	return a.n.SendProposalOffer(ctx, toPublicProposal(p))
}

// variantScorerAdapter wraps a musubi.MatchScorer to satisfy matching.VariantScorer.
type variantScorerAdapter struct {
	scorer MatchScorer
}

func (a *variantScorerAdapter) ScoreCandidate(ctx context.Context, shift *model.OpenShift, cand *model.MatchCandidate) (int, error) {
	return a.scorer.ScoreCandidate(ctx, toPublicShift(shift), toPublicCandidate(cand))
}

// authHelperImpl implements musubi.AuthHelper using an internal server.RoleMiddlewareFn.
// Constructed in the route registrar adapter closure; bridges the public interface
// to the internal RBAC middleware without importing server from embedder code.
type authHelperImpl struct {
	roleFn server.RoleMiddlewareFn
}

func (a *authHelperImpl) RequireRole(role Role) func(http.Handler) http.Handler {
	return a.roleFn(model.Role(role))
}

// ── Type converters ────────────────────────────────────────────────────────────

// toPublicProposal converts an internal model.AssignmentProposal to the public
// musubi.Proposal. Lives here because this is the only file that imports both
// sides of the boundary.
func toPublicProposal(p model.AssignmentProposal) Proposal {
	var category *string
	if p.RejectionCategory != nil {
		c := string(*p.RejectionCategory)
		category = &c
	}
	return Proposal{
		ID:                p.ID,
		OrgID:             p.OrganizationID,
		BranchID:          p.BranchID,
		ShiftID:           p.OpenShiftID,
		VisitID:           p.VisitID,
		CaregiverID:       p.CaregiverID,
		Score:             p.MatchScore,
		Quality:           string(p.MatchQuality),
		Status:            string(p.ProposalStatus),
		Method:            string(p.ProposalMethod),
		Urgent:            p.UrgencyFlag,
		ProposedAt:        p.ProposedAt,
		RespondedAt:       p.RespondedAt,
		RejectionReason:   p.RejectionReason,
		RejectionCategory: category,
	}
}

// toPublicShift converts an internal model.OpenShift to the public musubi.Shift.
func toPublicShift(s *model.OpenShift) Shift {
	return Shift{
		ID:                     s.ID,
		OrgID:                  s.OrganizationID,
		BranchID:               s.BranchID,
		VisitID:                s.VisitID,
		ClientID:               s.ClientID,
		ScheduledDate:          s.ScheduledDate,
		StartTime:              s.StartTime,
		EndTime:                s.EndTime,
		DurationMinutes:        s.DurationMinutes,
		Timezone:               s.Timezone,
		RequiredSkills:         s.RequiredSkills,
		RequiredCertifications: s.RequiredCertifications,
		Latitude:               s.Latitude,
		Longitude:              s.Longitude,
		Status:                 string(s.MatchingStatus),
		Priority:               string(s.Priority),
		IsUrgent:               s.IsUrgent,
	}
}

// toPublicCandidate converts an internal model.MatchCandidate to the public
// musubi.Candidate. Eligibility issues and warnings flatten into one message list.
func toPublicCandidate(c *model.MatchCandidate) Candidate {
	scores := make(map[string]float64, len(c.Scores))
	for dim, v := range c.Scores {
		scores[string(dim)] = v
	}
	issues := make([]string, 0, len(c.EligibilityIssues)+len(c.Warnings))
	for _, issue := range c.EligibilityIssues {
		issues = append(issues, issue.Message)
	}
	issues = append(issues, c.Warnings...)
	return Candidate{
		CaregiverID:   c.CaregiverID,
		CaregiverName: c.CaregiverName,
		Scores:        scores,
		OverallScore:  c.OverallScore,
		Quality:       string(c.MatchQuality),
		IsEligible:    c.IsEligible,
		Issues:        issues,
		DistanceMiles: c.DistanceFromShift,
	}
}

// ── Helpers ────────────────────────────────────────────────────────────────────

func contextWithOptionalTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}

// ctx is a no-op helper so that New(opts ...) can pass a background context to
// telemetry.Init without adding a context parameter to the public API.
// The returned context is never cancelled by this function.
func ctx(_ []Option) context.Context { return context.Background() }
