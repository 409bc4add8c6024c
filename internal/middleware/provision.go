package middleware

import (
	"net/http"

	"github.com/capitalize-ai/messaging-core/internal/store"
	"github.com/capitalize-ai/messaging-core/pkg/logger"
)

// Provision records authenticated identities in the store so that other
// users can address them (direct conversation targets, participant lists).
// Identity issuance itself stays with the external auth service.
func Provision(st *store.Store, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ident, ok := GetIdentity(r.Context()); ok {
				if err := st.UpsertUser(r.Context(), ident); err != nil {
					log.Warn("identity provisioning failed")
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
