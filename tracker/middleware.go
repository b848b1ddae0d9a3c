package tracker

import (
	"net"
	"net/http"
	"strings"
)

// Middleware tracks every request passing through next. The endpoint label
// is the route pattern matched by an inner http.ServeMux, without its method.
func (t *Tracker) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := t.Start(ClientIP(r), r.URL.Path, r.Method)
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			status := sw.status
			if rec := recover(); rec != nil {
				status = http.StatusInternalServerError
				t.logger.Error("http: panic serving request",
					"method", r.Method,
					"path", r.URL.Path,
					"panic", rec,
				)
				if !sw.wrote {
					http.Error(sw, http.StatusText(status), status)
				}
			}
			rc.Path = endpointOf(r)
			t.Finish(rc, status)
		}()

		next.ServeHTTP(sw, r)
	})
}

// ClientIP returns the client address: X-Real-IP, then the first
// X-Forwarded-For entry, then the host part of RemoteAddr.
func ClientIP(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// endpointOf strips the method from the matched pattern ("GET /health" -> "/health").
func endpointOf(r *http.Request) string {
	p := r.Pattern
	if p == "" {
		return UnknownEndpoint
	}
	if i := strings.IndexByte(p, ' '); i >= 0 {
		p = strings.TrimSpace(p[i+1:])
	}
	return p
}

type statusWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wrote {
		w.status = code
		w.wrote = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wrote {
		w.wrote = true
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
