// Package router wires the recommendation routes and applies the middleware
// chain (RequestID → Recoverer → AccessLog → Metrics → CORS → Timeout →
// viewer auth → RateLimit → profile resolution).
package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/devdanny2024/wanzami-sub000/internal/recommend/handler"
	"github.com/devdanny2024/wanzami-sub000/internal/telemetry"
	"github.com/devdanny2024/wanzami-sub000/internal/viewer"
	"github.com/devdanny2024/wanzami-sub000/pkg/config"
	"github.com/devdanny2024/wanzami-sub000/pkg/health"
	"github.com/devdanny2024/wanzami-sub000/pkg/metrics"
	pkgmw "github.com/devdanny2024/wanzami-sub000/pkg/middleware"
)

// Options are the collaborators of the router. Exposures and Metrics may
// be nil.
type Options struct {
	Handler        *handler.Handler
	Exposures      *telemetry.Handler
	Profiles       viewer.ProfileStore
	Health         *health.Checker
	Metrics        *metrics.Metrics
	RateLimit      config.RateLimitConfig
	CORS           config.CORSConfig
	RequestTimeout time.Duration
}

// New builds the recommender HTTP handler.
//
// Route table:
//
//	GET /api/v1/recommendations/continue-watching
//	GET /api/v1/recommendations/because-you-watched
//	GET /api/v1/recommendations/for-you
//	GET /api/v1/cache/stats
//	GET /api/v1/experiments/exposures
//	GET /api/v1/experiments/exposures/history
//	GET /health/live
//	GET /health/ready
func New(opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(pkgmw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(pkgmw.AccessLog)
	r.Use(pkgmw.Metrics(opts.Metrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.CORS.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", viewer.UserIDHeader, viewer.ProfileIDHeader, pkgmw.RequestIDHeader},
		ExposedHeaders: []string{pkgmw.RequestIDHeader, handler.CacheHeader},
		MaxAge:         300,
	}))

	if opts.Health != nil {
		r.Get("/health/live", opts.Health.LiveHandler())
		r.Get("/health/ready", opts.Health.ReadyHandler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(pkgmw.Timeout(opts.RequestTimeout))
		r.Use(viewer.Authenticate)
		if opts.RateLimit.Enabled && opts.RateLimit.Requests > 0 {
			r.Use(httprate.Limit(
				opts.RateLimit.Requests,
				opts.RateLimit.Window,
				httprate.WithKeyFuncs(viewer.RateLimitKey),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusTooManyRequests)
					w.Write([]byte(`{"error":"rate limit exceeded"}`))
				}),
			))
		}

		r.Get("/cache/stats", opts.Handler.CacheStats)
		if opts.Exposures != nil {
			r.Get("/experiments/exposures", opts.Exposures.Stats)
			r.Get("/experiments/exposures/history", opts.Exposures.History)
		}

		r.Route("/recommendations", func(r chi.Router) {
			r.Use(viewer.ResolveProfile(opts.Profiles))
			r.Get("/continue-watching", opts.Handler.ContinueWatching)
			r.Get("/because-you-watched", opts.Handler.BecauseYouWatched)
			r.Get("/for-you", opts.Handler.ForYou)
		})
	})

	return r
}
