package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Middleware struct {
	logger  *zap.SugaredLogger
	metrics MetricsInterface
}

func NewMiddleware(logger *zap.SugaredLogger, metrics MetricsInterface) *Middleware {
	return &Middleware{
		logger:  logger,
		metrics: metrics,
	}
}

// CORS middleware
func (m *Middleware) CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Cache-Control", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	})
}

// Rate limiting middleware
func (m *Middleware) RateLimit(rpm int) func(http.Handler) http.Handler {
	burst := rpm / 6 // 1/6th of rpm
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(ErrorResponse{Code: "RATE_LIMITED", Message: "Rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Request logging middleware
func (m *Middleware) RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			duration := time.Since(start)

			m.logger.Infow("HTTP request",
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"query", r.URL.RawQuery,
				"status", ww.Status(),
				"size", ww.BytesWritten(),
				"duration", duration,
				"remote_addr", r.RemoteAddr,
			)

			if m.metrics != nil {
				m.metrics.RecordHTTPRequest(r.Context(), r.Method, routePattern(r), ww.Status(), duration)
			}
		}()

		next.ServeHTTP(ww, r)
	})
}

// routePattern keeps metric labels bounded: /v1/history/{symbol} rather than
// one series per symbol.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

// Security headers middleware
func (m *Middleware) SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		next.ServeHTTP(w, r)
	})
}

// Compress gzips JSON responses for clients that accept it.
func (m *Middleware) Compress(next http.Handler) http.Handler {
	return middleware.Compress(5, "application/json")(next)
}

// Recovery middleware with structured logging
func (m *Middleware) Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				m.logger.Errorw("Panic recovered",
					"panic", rvr,
					"request_id", middleware.GetReqID(r.Context()),
					"method", r.Method,
					"path", r.URL.Path,
				)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				json.NewEncoder(w).Encode(ErrorResponse{Code: "INTERNAL", Message: http.StatusText(http.StatusInternalServerError)})
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// Request ID middleware
func (m *Middleware) RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(middleware.RequestIDHeader)
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.NewString()
		}

		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, requestID)
		w.Header().Set(middleware.RequestIDHeader, requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Timeout middleware
func (m *Middleware) Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, timeout, `{"code":"TIMEOUT","message":"Request timeout"}`)
	}
}
