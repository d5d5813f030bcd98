package router

import (
	"net/http"
	"time"

	"review-service/internal/handler"
	reviewmw "review-service/internal/middleware"
	"review-service/internal/tenant"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Options struct {
	AllowedOrigins     []string
	RateLimitPerMinute int64
	// Redis backs the submission rate limit; nil disables it.
	Redis redis.UniversalClient
}

func SetupRoutes(h *handler.ReviewHandler, opts Options, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(tenant.Middleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(middleware.Recoverer)

	// CORS
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", tenant.Header},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	// ============================================
	// REVIEWS
	// ============================================
	r.With(reviewmw.SubmitRateLimit(opts.Redis, opts.RateLimitPerMinute, logger)).
		Post("/reviews", h.CreateReview)

	// ============================================
	// PARTNERS
	// ============================================
	r.Route("/partners", func(r chi.Router) {
		r.Get("/ratings", h.GetPartnersRatings)
		r.Get("/{partner_id}/reviews", h.ListPartnerReviews)
		r.Get("/{partner_id}/rating", h.GetPartnerRating)
	})

	return r
}

// LoggerMiddleware logs HTTP requests
func LoggerMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.String("tenant", tenant.FromContext(r.Context())),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr))
		})
	}
}
