package middleware

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// staticRoutes are recorded under their own path.
var staticRoutes = map[string]bool{
	"/":            true,
	"/health":      true,
	"/ready":       true,
	"/metrics":     true,
	"/pois/nearby": true,
}

// normalizePath maps request paths onto route patterns so that ids do not
// become metric labels: /scores/7/compute becomes /scores/{id}/compute.
// Unknown paths collapse to "other".
func normalizePath(path string) string {
	if staticRoutes[path] {
		return path
	}

	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(parts) < 2 || parts[1] == "" {
		return "other"
	}

	switch parts[0] {
	case "scores":
		switch {
		case len(parts) == 2:
			return "/scores/{id}"
		case len(parts) == 3 && parts[2] == "compute":
			return "/scores/{id}/compute"
		case len(parts) == 4 && parts[2] == "listings" && parts[3] != "":
			return "/scores/{id}/listings/{listing_id}"
		}
	case "profiles":
		switch {
		case len(parts) == 2:
			return "/profiles/{id}"
		case len(parts) == 3 && parts[2] == "rules":
			return "/profiles/{id}/rules"
		}
	case "jobs":
		switch {
		case len(parts) == 2:
			return "/jobs/{id}"
		case len(parts) == 3 && parts[2] == "stream":
			return "/jobs/{id}/stream"
		}
	}
	return "other"
}

// metricsResponseWriter wraps http.ResponseWriter to capture status code and response size.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int64
	wroteHeader bool
}

func (mrw *metricsResponseWriter) WriteHeader(code int) {
	if mrw.wroteHeader {
		return
	}
	mrw.statusCode = code
	mrw.wroteHeader = true
	mrw.ResponseWriter.WriteHeader(code)
}

func (mrw *metricsResponseWriter) Write(b []byte) (int, error) {
	if !mrw.wroteHeader {
		mrw.wroteHeader = true
	}
	n, err := mrw.ResponseWriter.Write(b)
	mrw.size += int64(n)
	return n, err
}

func (mrw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return mrw.ResponseWriter
}

func (mrw *metricsResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return hijack(mrw.ResponseWriter, func() {
		mrw.statusCode = http.StatusSwitchingProtocols
		mrw.wroteHeader = true
	})
}

func (mrw *metricsResponseWriter) Flush() {
	if f, ok := mrw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// HTTPMetrics records request duration, sizes and counts per normalized
// route. /health and /ready are excluded.
func HTTPMetrics(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/ready" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			mrw := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			requestSize := int64(0)
			if r.ContentLength > 0 {
				requestSize = r.ContentLength
			}

			next.ServeHTTP(mrw, r)

			metrics.ObserveHTTPRequest(
				r.Method,
				normalizePath(r.URL.Path),
				strconv.Itoa(mrw.statusCode),
				time.Since(start).Seconds(),
				requestSize,
				mrw.size,
			)
		})
	}
}
