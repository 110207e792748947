package api

import (
	"net/http"

	"github.com/prudhvinik1/offlinesync/internal/utils"
)

// RequireAdminKey rejects requests whose X-Admin-Key does not match hash.
func RequireAdminKey(hash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hash == "" {
				writeError(w, http.StatusForbidden, "admin routes are disabled")
				return
			}
			if !utils.VerifyAdminKey(hash, r.Header.Get(AdminKeyHeader)) {
				writeError(w, http.StatusUnauthorized, "invalid admin key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
