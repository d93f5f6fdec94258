package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/nanophoto/nanophoto-backend/api/responses"
	pkgAuth "github.com/nanophoto/nanophoto-backend/pkg/auth"
	"github.com/nanophoto/nanophoto-backend/pkg/config"
	"github.com/nanophoto/nanophoto-backend/pkg/enums"
	pkgerrors "github.com/nanophoto/nanophoto-backend/pkg/errors"
	"github.com/nanophoto/nanophoto-backend/pkg/logger"
)

// TokenVerifier resolves a raw bearer token to the caller's identity.
type TokenVerifier interface {
	Verify(token string) (pkgAuth.Identity, error)
}

// Auth seeds the request context with the verified caller. Admin rights come
// from the email allow-list, never from token claims.
func Auth(tokens TokenVerifier, admins config.AdminConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}
			if tokens == nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "token verification is not configured"))
				return
			}

			id, err := tokens.Verify(token)
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, pkgAuth.ErrNoAccount) {
					msg = "token carries no account"
				}
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, msg))
				return
			}

			accountID := id.AccountID.String()
			isAdmin := admins.IsAdmin(id.Email)
			ctx := WithIdentity(r.Context(), accountID, id.Email, isAdmin)
			if logg != nil {
				ctx = logg.WithAccountID(ctx, accountID)
				if isAdmin {
					ctx = logg.WithActorRole(ctx, string(enums.RoleAdmin))
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken accepts "Bearer <token>" in any case as well as a bare token.
func bearerToken(r *http.Request) (string, bool) {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, rest, found := strings.Cut(raw, " ")
	if found && strings.EqualFold(scheme, "bearer") {
		raw = strings.TrimSpace(rest)
	}
	return raw, raw != ""
}
