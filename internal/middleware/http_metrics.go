package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// tenantRoutes lists the path suffixes served under /v1/tenants/{tenant}.
var tenantRoutes = map[string]bool{
	"rank/listings":  true,
	"rank/members":   true,
	"ranking/config": true,
}

// NormalizePath maps a request path to its route pattern so tenant and
// member IDs do not explode metric and span cardinality. Unknown paths
// collapse to "other".
func NormalizePath(path string) string {
	switch path {
	case "/", "/health", "/ready", "/metrics":
		return path
	}

	rest, ok := strings.CutPrefix(path, "/v1/tenants/")
	if !ok {
		return "other"
	}
	tenant, suffix, ok := strings.Cut(rest, "/")
	if !ok || tenant == "" {
		return "other"
	}
	if tenantRoutes[suffix] {
		return "/v1/tenants/{tenant}/" + suffix
	}
	if member, ok := strings.CutPrefix(suffix, "members/"); ok {
		if id, tail, ok := strings.Cut(member, "/"); ok && id != "" && tail == "tier" {
			return "/v1/tenants/{tenant}/members/{member}/tier"
		}
	}
	return "other"
}

// HTTPMetrics records request count, latency, body sizes and in-flight
// requests per route. Probe endpoints (/health, /ready) are excluded.
func HTTPMetrics(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/ready" {
				next.ServeHTTP(w, r)
				return
			}

			route := NormalizePath(r.URL.Path)
			done := metrics.trackInFlight(route)
			defer done()

			start := time.Now()
			rw := newResponseWriter(w)
			next.ServeHTTP(rw, r)

			metrics.Observe(Observation{
				Method:       r.Method,
				Route:        route,
				Status:       strconv.Itoa(rw.statusCode),
				Duration:     time.Since(start),
				RequestSize:  max(r.ContentLength, 0),
				ResponseSize: rw.size,
			})
		})
	}
}
