package apihttp

import (
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"movierecs/internal/metrics"
)

const otherRoute = "/other"

// route is one mux registration together with how the middleware chain
// treats it.
type route struct {
	path    string
	handler http.Handler
	// bucket names the token bucket the route draws from. Empty means the
	// route is never rate limited.
	bucket string
	// quiet routes log successful requests at debug.
	quiet bool
	// internal routes are neither traced nor counted in request metrics.
	internal bool
	// logParams are the query parameters copied into the request log.
	logParams []string
}

type routeTable map[string]route

func newRouteTable(routes []route) routeTable {
	table := make(routeTable, len(routes))
	for _, rt := range routes {
		table[rt.path] = rt
	}
	return table
}

// label returns the metric label for path. Unregistered paths collapse into
// one label so scanners cannot inflate cardinality.
func (t routeTable) label(path string) string {
	if _, ok := t[path]; ok {
		return path
	}
	return otherRoute
}

type responseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// Flush keeps /recommend/stream working through the wrapper.
func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func loggingMiddleware(logger *slog.Logger, routes routeTable, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		rt, known := routes[r.URL.Path]
		attrs := []slog.Attr{
			slog.String("method", r.Method),
			slog.String("route", routes.label(r.URL.Path)),
			slog.Int("status", rw.status),
			slog.Int("bytes", rw.size),
			slog.Int64("durationMs", time.Since(start).Milliseconds()),
			slog.String("clientIP", clientIP(r)),
		}
		if !known {
			attrs = append(attrs, slog.String("path", truncate(r.URL.Path, 120)))
		}
		query := r.URL.Query()
		for _, key := range rt.logParams {
			if value := strings.TrimSpace(query.Get(key)); value != "" {
				attrs = append(attrs, slog.String(key, truncate(value, 120)))
			}
		}
		logger.LogAttrs(r.Context(), requestLogLevel(rt.quiet, rw.status), "http request", attrs...)
	})
}

func recoveryMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				logger.Error("panic recovered",
					slog.Any("error", recovered),
					slog.String("method", r.Method),
					slog.String("path", truncate(r.URL.Path, 120)),
					slog.String("clientIP", clientIP(r)),
					slog.String("stack", string(debug.Stack())),
				)
				writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func metricsMiddleware(routes routeTable, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if routes[r.URL.Path].internal {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		label := routes.label(r.URL.Path)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, label, strconv.Itoa(rw.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, label).Observe(time.Since(start).Seconds())
	})
}

func requestLogLevel(quiet bool, status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	case quiet:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// rateLimitMiddleware gives every named bucket in routes its own token bucket.
// Unregistered paths share the api bucket so 404 floods are limited too.
func rateLimitMiddleware(routes routeTable, rps float64, burst int, next http.Handler) http.Handler {
	limiters := map[string]*rate.Limiter{bucketAPI: rate.NewLimiter(rate.Limit(rps), burst)}
	for _, rt := range routes {
		if rt.bucket != "" && limiters[rt.bucket] == nil {
			limiters[rt.bucket] = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bucket := bucketAPI
		if rt, ok := routes[r.URL.Path]; ok {
			bucket = rt.bucket
		}
		if bucket != "" && !limiters[bucket].Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if xRealIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); xRealIP != "" {
		return xRealIP
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}

func truncate(value string, limit int) string {
	if limit <= 0 || len(value) <= limit {
		return value
	}
	if limit <= 3 {
		return value[:limit]
	}
	return value[:limit-3] + "..."
}
