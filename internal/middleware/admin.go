package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// AdminKey holds the configured admin credential. Exactly one of Plain or
// BcryptHash should be set; if both are empty the gate fails closed and
// every admin route returns 403.
type AdminKey struct {
	Plain      string
	BcryptHash string
}

// Configured reports whether any admin credential is set.
func (k AdminKey) Configured() bool {
	return k.Plain != "" || k.BcryptHash != ""
}

// Match compares a presented credential against the configured one without
// leaking timing. Bcrypt comparison is inherently constant-time on the
// hash; the plain path uses subtle.ConstantTimeCompare.
func (k AdminKey) Match(presented string) bool {
	if presented == "" {
		return false
	}
	if k.BcryptHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(k.BcryptHash), []byte(presented)) == nil
	}
	if k.Plain != "" {
		return subtle.ConstantTimeCompare([]byte(k.Plain), []byte(presented)) == 1
	}
	return false
}

// credentialFrom extracts the presented admin credential from the request:
// X-Admin-Key header, Authorization bearer token, or (for WebSocket clients
// that cannot set headers) the admin_key query parameter.
func credentialFrom(r *http.Request) string {
	if key := r.Header.Get("X-Admin-Key"); key != "" {
		return key
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return token
		}
	}
	return r.URL.Query().Get("admin_key")
}

// RequireAdmin gates issuance and reporting routes behind the admin
// credential. Missing and wrong credentials get the same 401 so callers
// cannot distinguish the two.
func RequireAdmin(key AdminKey) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !key.Configured() {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			if !key.Match(credentialFrom(r)) {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
