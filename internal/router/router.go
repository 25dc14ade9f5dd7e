// internal/router/router.go
package router

import (
	"net/http"
	"time"

	"swiftpay/internal/handler"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Handlers struct {
	Payment     *handler.PaymentHandler
	Callback    *handler.CallbackHandler
	Stream      *handler.StreamHandler
	Application *handler.ApplicationHandler
}

type RateLimitConfig struct {
	Enabled bool
	Limit   int
	Window  time.Duration
}

func SetupRoutes(h Handlers, limiter Limiter, rl RateLimitConfig, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggerMiddleware(logger))
	r.Use(middleware.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "Idempotency-Key"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Long-lived; kept out of the request timeout.
	r.Get("/ws/payments/{reference}", h.Stream.StreamPaymentStatus)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		limit := func(scope string) func(http.Handler) http.Handler {
			if !rl.Enabled || limiter == nil {
				return func(next http.Handler) http.Handler { return next }
			}
			return RateLimiter(limiter, rl.Limit, rl.Window, scope, logger)
		}

		r.Route("/payments", func(r chi.Router) {
			r.With(limit("stkpush")).Post("/stkpush", h.Payment.InitiateSTKPush)
			r.Post("/status", h.Payment.TransactionStatus)
			r.Post("/callback", h.Callback.HandleSTKCallback)
		})

		// Job site
		r.With(limit("initiate")).Post("/initiate-payment", h.Payment.InitiateSitePayment)
		r.Get("/payment-status", h.Payment.PaymentStatus)
		r.Post("/applications", h.Application.Submit)
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
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("user_agent", r.UserAgent()),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
