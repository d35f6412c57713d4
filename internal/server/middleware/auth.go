package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Auth guards the API with a static key, accepted either as a Bearer token or
// in the X-API-Key header. An empty key disables the check; the scanner's API
// is read-only, so open deployments behind a private network are common.
func Auth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" || authorized(r, apiKey) {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"missing or invalid authentication token"}`))
		})
	}
}

// authorized extracts the presented credential and compares it in constant
// time.
func authorized(r *http.Request, apiKey string) bool {
	token := ""
	if auth := r.Header.Get("Authorization"); auth != "" {
		if scheme, rest, ok := strings.Cut(auth, " "); ok && strings.EqualFold(scheme, "Bearer") {
			token = strings.TrimSpace(rest)
		}
	}
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-API-Key"))
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) == 1
}
