package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// publicPaths are exempt from authentication.
var publicPaths = map[string]bool{
	"/health":       true,
	"/health/ready": true,
}

// APIKeyAuth returns middleware that validates the bearer token against a
// bcrypt hash of the service API key. When enabled is false, all requests
// pass through.
//
// The bcrypt comparison is memoized for the last accepted key so a hot
// request path does not pay the hash cost on every call.
func APIKeyAuth(keyHash string, enabled bool) func(http.Handler) http.Handler {
	var (
		mu       sync.RWMutex
		accepted string
	)

	checkKey := func(key string) bool {
		mu.RLock()
		known := accepted
		mu.RUnlock()
		if known != "" && subtle.ConstantTimeCompare([]byte(known), []byte(key)) == 1 {
			return true
		}
		if bcrypt.CompareHashAndPassword([]byte(keyHash), []byte(key)) != nil {
			return false
		}
		mu.Lock()
		accepted = key
		mu.Unlock()
		return true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled || publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			key := bearerToken(r)
			if key == "" {
				// WebSocket clients cannot set headers from a browser.
				key = r.URL.Query().Get("token")
			}
			if key == "" {
				http.Error(w, `{"error":"authorization required"}`, http.StatusUnauthorized)
				return
			}
			if !checkKey(key) {
				http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return after
	}
	return ""
}
