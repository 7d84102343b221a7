package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"net/http"
	"strings"
)

// adminGuard checks bearer tokens against the configured admin token.
// Digests are compared so the comparison time does not depend on the token
// length.
type adminGuard struct {
	digest []byte
}

func newAdminGuard(token string) *adminGuard {
	if token == "" {
		return &adminGuard{}
	}
	sum := sha256.Sum256([]byte(token))
	return &adminGuard{digest: sum[:]}
}

func (g *adminGuard) allow(r *http.Request) bool {
	if g.digest == nil {
		return false
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return false
	}
	sum := sha256.Sum256([]byte(token))
	return hmac.Equal(sum[:], g.digest)
}

func (g *adminGuard) wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !g.allow(r) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "admin token required")
			return
		}
		next(w, r)
	}
}
