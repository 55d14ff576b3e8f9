package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig lists what browsers may send. An origin of "*" allows any origin;
// an empty list disables CORS headers entirely. Empty method, header and
// exposed lists fall back to what the upload and polling endpoints need.
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	ExposedHeaders []string
	MaxAge         int
}

type corsPolicy struct {
	anyOrigin bool
	origins   map[string]struct{}
	methods   string
	headers   string
	exposed   string
	maxAge    string
}

func newCORSPolicy(cfg CORSConfig) corsPolicy {
	policy := corsPolicy{
		origins: make(map[string]struct{}),
		methods: joinOr(cfg.AllowedMethods, http.MethodGet, http.MethodPost, http.MethodOptions),
		headers: joinOr(cfg.AllowedHeaders, "Accept", "Content-Type", RequestIDHeader),
		exposed: joinOr(cfg.ExposedHeaders, "Retry-After", RequestIDHeader),
		maxAge:  "600",
	}
	if cfg.MaxAge > 0 {
		policy.maxAge = strconv.Itoa(cfg.MaxAge)
	}
	for _, origin := range cfg.AllowedOrigins {
		origin = strings.TrimSpace(origin)
		switch origin {
		case "":
		case "*":
			policy.anyOrigin = true
		default:
			policy.origins[strings.ToLower(origin)] = struct{}{}
		}
	}
	return policy
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin.
func (p corsPolicy) allowOrigin(origin string) (string, bool) {
	if p.anyOrigin {
		return "*", true
	}
	if _, ok := p.origins[strings.ToLower(origin)]; ok {
		return origin, true
	}
	return "", false
}

// CORS answers preflights itself and decorates simple requests. Requests from
// unknown origins pass through untouched so the browser blocks them.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	policy := newCORSPolicy(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			allowed, ok := policy.allowOrigin(origin)
			if origin == "" || !ok {
				next.ServeHTTP(w, r)
				return
			}

			header := w.Header()
			header.Add("Vary", "Origin")
			header.Set("Access-Control-Allow-Origin", allowed)

			if r.Method != http.MethodOptions {
				header.Set("Access-Control-Expose-Headers", policy.exposed)
				next.ServeHTTP(w, r)
				return
			}

			header.Add("Vary", "Access-Control-Request-Method")
			header.Add("Vary", "Access-Control-Request-Headers")
			header.Set("Access-Control-Allow-Methods", policy.methods)
			header.Set("Access-Control-Allow-Headers", policy.headers)
			header.Set("Access-Control-Max-Age", policy.maxAge)
			w.WriteHeader(http.StatusNoContent)
		})
	}
}

func joinOr(values []string, defaults ...string) string {
	kept := make([]string, 0, len(values))
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			kept = append(kept, value)
		}
	}
	if len(kept) == 0 {
		kept = defaults
	}
	return strings.Join(kept, ", ")
}
