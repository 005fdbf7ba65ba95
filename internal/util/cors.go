package util

import (
	"net/http"
	"slices"
	"strings"
)

const (
	corsAllowHeaders = "Authorization, Content-Type, " + RequestIDHeader
	corsAllowMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
)

// WithCORS answers preflight requests and sets CORS headers for the given
// origins. An empty list or "*" allows any origin.
func WithCORS(origins []string) func(http.Handler) http.Handler {
	allowAny := len(origins) == 0 || slices.Contains(origins, "*")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			switch {
			case allowAny:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin != "" && slices.Contains(origins, origin):
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Headers", corsAllowHeaders)
			w.Header().Set("Access-Control-Allow-Methods", corsAllowMethods)
			w.Header().Set("Access-Control-Expose-Headers", RequestIDHeader+", Retry-After")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
