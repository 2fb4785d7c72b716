package musubi

import (
	"context"
	"net/http"
)

// Notifier delivers proposal offers to caregivers.
// When provided via WithNotifier, replaces the default log sink for both
// inline delivery (right after proposals commit) and outbox retries.
// It returns the delivery method used ("SMS", "PUSH", ...), which is
// recorded on the proposal. A returned error leaves the proposal PENDING
// for the outbox worker to retry.
type Notifier interface {
	SendProposalOffer(ctx context.Context, proposal Proposal) (string, error)
}

// MatchScorer produces an alternative overall score for a candidate.
// When provided via WithMatchScorer, organizations whose configuration
// sets a nonzero ML weight get a blend of the rubric score and this
// scorer's output. The built-in rubric still runs first; a scorer failure
// keeps the rubric score.
type MatchScorer interface {
	ScoreCandidate(ctx context.Context, shift Shift, candidate Candidate) (int, error)
}

// DistanceFunc computes the distance in miles between two coordinates.
// When provided via WithDistanceFunc, replaces the built-in haversine for
// proximity scoring and radius gating, e.g. with road-network travel
// estimates. It must be safe for concurrent use.
type DistanceFunc func(lat1, lon1, lat2, lon2 float64) float64

// EventHook receives async notifications when proposal lifecycle events occur.
// Multiple hooks may be registered via multiple WithEventHook calls.
// Hook methods run in goroutines and must not block indefinitely.
// Failures are logged but do not fail the originating request.
type EventHook interface {
	OnProposalCreated(ctx context.Context, proposal Proposal) error
	OnProposalResponded(ctx context.Context, proposal Proposal) error
}

// RouteRegistrar registers additional routes on the shared HTTP mux.
// Extension routes share the mux, auth chain, and OTEL instrumentation with
// core routes. The function is called once during New() after all core
// routes are registered.
type RouteRegistrar func(mux *http.ServeMux, auth AuthHelper)

// AuthHelper provides RBAC middleware for use in RouteRegistrar.
// It wraps the server's role middleware so extension routes use the same
// auth chain without depending on internal/server directly.
type AuthHelper interface {
	RequireRole(role Role) func(http.Handler) http.Handler
}

// Middleware wraps the root HTTP handler.
// Applied outermost (before routing), so it sees all requests including /health.
// Multiple middlewares are applied in registration order (first-registered = outermost).
type Middleware func(http.Handler) http.Handler
