package server

import "net/http"

const (
	defaultContentSecurityPolicy = "default-src 'self'; style-src 'self' 'unsafe-inline'; font-src 'self'; img-src 'self' data:"
	defaultFrameOptions          = "DENY"
	defaultReferrerPolicy        = "no-referrer"
	defaultContentTypeOptions    = "nosniff"
	defaultXSSProtection         = "1; mode=block"
)

// SecurityConfig controls the hardening headers sent with every response.
// Zero-valued fields fall back to the defaults above.
type SecurityConfig struct {
	ContentSecurityPolicy string
	FrameOptions          string
	ReferrerPolicy        string
	ContentTypeOptions    string
	XSSProtection         string
}

func (cfg SecurityConfig) withDefaults() SecurityConfig {
	if cfg.ContentSecurityPolicy == "" {
		cfg.ContentSecurityPolicy = defaultContentSecurityPolicy
	}
	if cfg.FrameOptions == "" {
		cfg.FrameOptions = defaultFrameOptions
	}
	if cfg.ReferrerPolicy == "" {
		cfg.ReferrerPolicy = defaultReferrerPolicy
	}
	if cfg.ContentTypeOptions == "" {
		cfg.ContentTypeOptions = defaultContentTypeOptions
	}
	if cfg.XSSProtection == "" {
		cfg.XSSProtection = defaultXSSProtection
	}
	return cfg
}

func securityHeadersMiddleware(cfg SecurityConfig, next http.Handler) http.Handler {
	effective := cfg.withDefaults()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", effective.ContentTypeOptions)
		h.Set("X-Frame-Options", effective.FrameOptions)
		h.Set("X-XSS-Protection", effective.XSSProtection)
		h.Set("Referrer-Policy", effective.ReferrerPolicy)
		h.Set("Content-Security-Policy", effective.ContentSecurityPolicy)

		next.ServeHTTP(w, r)
	})
}
