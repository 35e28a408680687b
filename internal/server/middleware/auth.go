package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/sugawarayuuta/sonnet"
)

// Auth guards every path except the exempt ones with a static API key,
// accepted as "Authorization: Bearer <key>" or "X-API-Key: <key>". An
// empty apiKey leaves the API open.
func Auth(apiKey string, exempt ...string) func(http.Handler) http.Handler {
	if apiKey == "" {
		return func(next http.Handler) http.Handler { return next }
	}
	want := sha256.Sum256([]byte(apiKey))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, p := range exempt {
				if r.URL.Path == p {
					next.ServeHTTP(w, r)
					return
				}
			}
			key := presentedKey(r)
			if key == "" {
				deny(w, http.StatusUnauthorized, "api key required")
				return
			}
			// Hashing first keeps the comparison length-independent.
			got := sha256.Sum256([]byte(key))
			if subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
				deny(w, http.StatusUnauthorized, "api key rejected")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func presentedKey(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// deny writes a JSON error body with status.
func deny(w http.ResponseWriter, status int, msg string) {
	body, _ := sonnet.Marshal(map[string]string{"error": msg})
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
