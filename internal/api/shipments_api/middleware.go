package shipments_api

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/BearBump/ShipTrack/internal/auth"
	"github.com/BearBump/ShipTrack/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
)

// observe logs every request and feeds the HTTP metrics keyed by route pattern.
func (a *ShipmentsAPI) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		d := time.Since(start)
		a.metrics.RecordHTTPRequest(r.Method, route, status, d)

		lvl := a.log.Debug
		if status >= http.StatusInternalServerError {
			lvl = a.log.Warn
		}
		lvl("http request",
			"method", r.Method,
			"route", route,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", d.Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (a *ShipmentsAPI) authenticate(r *http.Request) (string, error) {
	tok, ok := auth.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		return "", errors.Wrap(models.ErrUnauthorized, "missing bearer token")
	}
	return a.auth.Validate(tok)
}

// requireAuth rejects the request before any path parameter is looked at.
func (a *ShipmentsAPI) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, err := a.authenticate(r)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithUsername(r.Context(), username)))
	})
}

// rateLimit throttles anonymous lookups per client address. A limiter outage lets traffic through.
func (a *ShipmentsAPI) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.limiter == nil || a.trackLimit <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		key := "ratelimit:track:" + clientIP(r)
		allowed, _, err := a.limiter.Allow(r.Context(), key, a.trackLimit, a.trackWindow)
		if err != nil {
			a.log.Warn("rate limiter unavailable", "error", err.Error())
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			a.metrics.RecordRateLimited()
			w.Header().Set("Retry-After", strconv.Itoa(int(a.trackWindow.Seconds())))
			writeErrorBody(w, http.StatusTooManyRequests, codeRateLimited, "Too many tracking requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
