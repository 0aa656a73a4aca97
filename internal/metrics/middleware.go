package metrics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// UnmatchedRoute labels requests that no route pattern claimed.
const UnmatchedRoute = "unmatched"

// Middleware records request counts and latencies per chi route pattern, so
// /v1/movies/rl1 and /v1/movies/rl2 share one series. It must be installed on
// the root router; the pattern is read after the subrouters have matched.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)
		ObserveHTTPRequest(r.Method, RouteLabel(r), sw.Status(), time.Since(start))
	})
}

// RouteLabel returns the chi pattern r matched, or UnmatchedRoute.
func RouteLabel(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return UnmatchedRoute
	}
	if pattern := rctx.RoutePattern(); pattern != "" {
		return pattern
	}
	return UnmatchedRoute
}

// statusWriter remembers the first status written. A handler that only
// calls Write answers 200.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	if sw.status == 0 {
		sw.status = code
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if sw.status == 0 {
		sw.status = http.StatusOK
	}
	return sw.ResponseWriter.Write(b) //nolint:wrapcheck // pass-through writer
}

func (sw *statusWriter) Status() int {
	if sw.status == 0 {
		return http.StatusOK
	}
	return sw.status
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}
