package web

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"

	"github.com/makt28/vigil/internal/metrics"
	"github.com/makt28/vigil/internal/model"
)

type ctxKey int

const regionKey ctxKey = iota

// regionFromContext returns the region authenticated by RequireChecker.
func regionFromContext(ctx context.Context) (model.Region, bool) {
	r, ok := ctx.Value(regionKey).(model.Region)
	return r, ok
}

// RequireChecker accepts requests bearing a valid checker token and stores
// the token's region in the request context. The secret is read per request
// so a config reload takes effect immediately.
func RequireChecker(cfgMgr ConfigSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			secret := cfgMgr.Get().Auth.JWTSecret
			if secret == "" {
				respondError(w, "checker authentication is not configured", http.StatusUnauthorized)
				return
			}

			token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !found || token == "" {
				respondError(w, "bearer token required", http.StatusUnauthorized)
				return
			}

			claims, err := ParseCheckerToken(secret, token)
			if err != nil {
				slog.Warn("rejected checker token", "ip", clientIP(r), "error", err)
				respondError(w, "invalid or expired token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), regionKey, claims.Region)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAPIKey checks the X-API-Key header against the configured bcrypt
// hash. Repeated failures from one IP lock it out.
func RequireAPIKey(cfgMgr ConfigSource, limiter *KeyRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if limiter.IsLocked(ip) {
				respondError(w, "too many failed attempts, try again later", http.StatusTooManyRequests)
				return
			}

			hash := cfgMgr.Get().Auth.APIKeyHash
			key := r.Header.Get("X-API-Key")
			if hash == "" || key == "" {
				respondError(w, "api key required", http.StatusUnauthorized)
				return
			}

			if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
				limiter.RecordFailure(ip)
				slog.Warn("api key rejected", "ip", ip)
				respondError(w, "invalid api key", http.StatusUnauthorized)
				return
			}

			limiter.ClearIP(ip)
			next.ServeHTTP(w, r)
		})
	}
}

// requestLogger logs one line per request and counts it by route pattern.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()

		level := slog.LevelDebug
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		slog.Log(r.Context(), level, "http request",
			"method", r.Method,
			"route", route,
			"status", status,
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
