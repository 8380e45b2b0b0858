package server

import (
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type loggingWriter struct {
	http.ResponseWriter
	status int
}

func (w *loggingWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *loggingWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// requestLogger logs one line per request. Server errors log at warn.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lw := &loggingWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(lw, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", lw.status),
				zap.Duration("elapsed", time.Since(start)),
			}
			if lw.status >= http.StatusInternalServerError {
				logger.Warn("request", fields...)
				return
			}
			logger.Debug("request", fields...)
		})
	}
}

// recoverer turns a handler panic into a 500 problem response.
func recoverer(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("handler panic",
						zap.String("path", r.URL.Path),
						zap.Any("panic", rec),
					)
					InternalError(w, "internal error", r.URL.Path)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimiter sheds load above the configured request rate. Health and
// metrics probes are never limited.
func rateLimiter(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != HealthPath && r.URL.Path != MetricsPath && !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				RateLimited(w, "request rate exceeded", r.URL.Path)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
