package musubi

import (
	"io/fs"
	"log/slog"

	"github.com/benbjohnson/clock"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	port            int
	databaseURL     string
	notifyURL       string
	logger          *slog.Logger
	version         string
	notifier        Notifier
	matchScorer     MatchScorer
	clock           clock.Clock
	distance        DistanceFunc
	eventHooks      []EventHook
	routeRegistrars []RouteRegistrar
	middlewares     []Middleware
	extraMigrations []fs.FS
}

// WithPort overrides the TCP port from config (MUSUBI_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the database connection string from config (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithNotifyURL overrides the direct Postgres URL used for LISTEN/NOTIFY (NOTIFY_URL env var).
// Set this when using a connection pooler (e.g. PgBouncer) for queries, because
// LISTEN/NOTIFY requires a direct (non-pooled) connection.
func WithNotifyURL(url string) Option {
	return func(o *resolvedOptions) { o.notifyURL = url }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithNotifier replaces the default log sink for proposal offer delivery.
// Only the last call wins. Both the inline delivery path and the outbox
// retry worker route through the provided implementation.
func WithNotifier(n Notifier) Option {
	return func(o *resolvedOptions) { o.notifier = n }
}

// WithMatchScorer sets the optional blended scorer for candidate ranking.
// Only the last call wins. It participates only for organizations whose
// matching configuration enables score blending; the built-in rubric
// remains authoritative everywhere else.
func WithMatchScorer(s MatchScorer) Option {
	return func(o *resolvedOptions) { o.matchScorer = s }
}

// WithClock substitutes the clock used by the matcher and the proposal
// expirer. If not set, the wall clock is used. Tests pass clock.NewMock
// to step proposal TTLs deterministically.
func WithClock(c clock.Clock) Option {
	return func(o *resolvedOptions) { o.clock = c }
}

// WithDistanceFunc replaces the built-in haversine distance used for
// proximity scoring and travel-radius gating. Only the last call wins.
func WithDistanceFunc(fn DistanceFunc) Option {
	return func(o *resolvedOptions) { o.distance = fn }
}

// WithEventHook registers an event hook to receive proposal lifecycle notifications.
// Multiple hooks may be registered; all registered hooks receive every event.
func WithEventHook(hook EventHook) Option {
	return func(o *resolvedOptions) { o.eventHooks = append(o.eventHooks, hook) }
}

// WithExtraRoutes registers additional routes on the shared HTTP mux.
// Multiple registrars may be registered; all are called in registration order.
func WithExtraRoutes(fn RouteRegistrar) Option {
	return func(o *resolvedOptions) { o.routeRegistrars = append(o.routeRegistrars, fn) }
}

// WithMiddleware registers an outermost HTTP middleware.
// Multiple middlewares may be registered. Applied in registration order:
// the first-registered middleware is outermost (called first by every request).
func WithMiddleware(mw Middleware) Option {
	return func(o *resolvedOptions) { o.middlewares = append(o.middlewares, mw) }
}

// WithExtraMigrations adds an additional SQL migration filesystem to run after
// the embedded migrations. Multiple filesystems may be registered; they are
// applied in registration order.
func WithExtraMigrations(dir fs.FS) Option {
	return func(o *resolvedOptions) { o.extraMigrations = append(o.extraMigrations, dir) }
}
