package httpserver

import (
	"net/http"
	"strings"

	"github.com/hidesapp/hides-signal/internal/origin"
)

// withOriginPolicy rejects cross-origin browser requests that the configured
// policy does not allow, and sets CORS headers for the ones it does. Requests
// without an Origin header are passed through.
func (s *Server) withOriginPolicy(next http.HandlerFunc) http.HandlerFunc {
	policy := origin.Policy{Allowed: s.cfg.AllowedOrigins}
	return func(w http.ResponseWriter, r *http.Request) {
		originHeader := strings.TrimSpace(r.Header.Get("Origin"))
		if originHeader == "" {
			next(w, r)
			return
		}

		allowedOrigin, ok := policy.Check(originHeader, r.Host)
		if !ok {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
		w.Header().Add("Vary", "Origin")

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.Header().Set("Access-Control-Allow-Methods", "GET,OPTIONS")
			if requestHeaders := strings.TrimSpace(r.Header.Get("Access-Control-Request-Headers")); requestHeaders != "" {
				w.Header().Set("Access-Control-Allow-Headers", requestHeaders)
			}
			w.Header().Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}
