package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	mw "github.com/rhernandezbas/Betelgeus-Backend/internal/api/middleware"
	"github.com/rhernandezbas/Betelgeus-Backend/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
// A nil handler is served as 501.
type Dependencies struct {
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	StateHandler            http.HandlerFunc
	AnalyzeHandler          http.HandlerFunc
	ApplyFrequenciesHandler http.HandlerFunc
	SkipFrequenciesHandler  http.HandlerFunc
	ResetHandler            http.HandlerFunc
	FeedbackHandler         http.HandlerFunc
	HistoryHandler          http.HandlerFunc
	FlowStatusHandler       http.HandlerFunc
	EventsHandler           http.HandlerFunc

	ListAnalysesHandler  http.HandlerFunc
	AnalysisStatsHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// The event stream is long-lived and stays outside the rate limiter.
	r.Get("/api/v1/station/events", orNotImplemented(deps.EventsHandler))

	r.Group(func(r chi.Router) {
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}

		r.Route("/api/v1/station", func(r chi.Router) {
			r.Get("/state", orNotImplemented(deps.StateHandler))
			r.Post("/analyze", orNotImplemented(deps.AnalyzeHandler))
			r.Post("/frequencies/apply", orNotImplemented(deps.ApplyFrequenciesHandler))
			r.Post("/frequencies/skip", orNotImplemented(deps.SkipFrequenciesHandler))
			r.Post("/reset", orNotImplemented(deps.ResetHandler))
			r.Post("/feedback", orNotImplemented(deps.FeedbackHandler))
			r.Get("/history", orNotImplemented(deps.HistoryHandler))
			r.Get("/flow-status/{ip}", orNotImplemented(deps.FlowStatusHandler))
		})

		r.Get("/api/v1/analyses", orNotImplemented(deps.ListAnalysesHandler))
		r.Get("/api/v1/analyses/stats", orNotImplemented(deps.AnalysisStatsHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not enabled on this server", nil)
	}
}
