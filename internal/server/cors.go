package server

import (
	"net/http"
	"strings"
)

const (
	defaultAllowOrigin  = "*"
	defaultAllowMethods = "GET, OPTIONS"
	defaultAllowHeaders = "X-API-Key, Content-Type"
)

// CORSConfig declares the cross-origin headers attached to every response.
// The defaults allow any origin to call the read-only routes with the token
// header.
type CORSConfig struct {
	AllowOrigin  string
	AllowMethods []string
	AllowHeaders []string
}

type corsPolicy struct {
	origin  string
	methods string
	headers string
}

func newCORSPolicy(cfg CORSConfig) corsPolicy {
	policy := corsPolicy{
		origin:  strings.TrimSpace(cfg.AllowOrigin),
		methods: joinHeaderList(cfg.AllowMethods),
		headers: joinHeaderList(cfg.AllowHeaders),
	}
	if policy.origin == "" {
		policy.origin = defaultAllowOrigin
	}
	if policy.methods == "" {
		policy.methods = defaultAllowMethods
	}
	if policy.headers == "" {
		policy.headers = defaultAllowHeaders
	}
	return policy
}

func joinHeaderList(values []string) string {
	cleaned := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return strings.Join(cleaned, ", ")
}

// corsMiddleware sets the CORS headers and answers browser preflights itself
// so an OPTIONS request never reaches a token-consuming handler.
func corsMiddleware(policy corsPolicy, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", policy.origin)
		h.Set("Access-Control-Allow-Methods", policy.methods)
		h.Set("Access-Control-Allow-Headers", policy.headers)

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
