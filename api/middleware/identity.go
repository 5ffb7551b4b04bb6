package middleware

import (
	"net/http"
	"strings"

	pkgAuth "github.com/angelmondragon/cartreserve-backend/pkg/auth"
	"github.com/angelmondragon/cartreserve-backend/pkg/config"
	"github.com/angelmondragon/cartreserve-backend/pkg/logger"
)

// Identity resolves an optional bearer token into the owner id and role. Requests without a
// token, or with one that fails verification, continue as anonymous guests.
func Identity(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r.Header.Get("Authorization"))
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				if logg != nil {
					ctx := logg.WithField(r.Context(), "reason", err.Error())
					logg.Warn(ctx, "auth.token_rejected")
				}
				next.ServeHTTP(w, r)
				return
			}

			role := claims.Role
			if role == "" {
				role = pkgAuth.RoleCustomer
			}
			ctx := WithCaller(r.Context(), Caller{OwnerID: claims.OwnerID(), Role: role})
			if logg != nil {
				ctx = logg.WithOwner(ctx, claims.OwnerID())
				ctx = logg.WithField(ctx, "actor_role", role)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(header string) string {
	raw := strings.TrimSpace(header)
	if len(raw) > 7 && strings.EqualFold(raw[:7], "bearer ") {
		return strings.TrimSpace(raw[7:])
	}
	return ""
}
