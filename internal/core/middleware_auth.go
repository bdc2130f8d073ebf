package core

import (
	"net/http"

	"notemeter/internal/types"
)

// UserIDHeader carries the signed-in user's ID. It is trusted as-is, so it
// must be set by an authenticating front proxy that strips any client-sent
// value. Requests without the header are anonymous.
const UserIDHeader = "X-User-Id"

// IdentityMiddleware resolves UserIDHeader through the IdentityResolver and
// injects the Actor into the request context. Resolving a user also enrolls
// its billing subject, so a provisioning failure surfaces here as a 502.
//
// An unknown user ID is rejected with 401 auth_user_not_found. With no
// resolver configured the middleware passes through.
func (s *Server) IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(UserIDHeader)
		if s.Identity == nil || userID == "" {
			next.ServeHTTP(w, r)
			return
		}

		user, err := s.Identity.GetByID(r.Context(), userID)
		if err != nil {
			if types.HasCode(err, types.ErrCodeNotFoundUser) {
				Error(w, r, types.NewAppError(types.ErrCodeAuthUserNotFound, "unknown user", nil))
				return
			}
			Error(w, r, err)
			return
		}

		ctx := types.WithActor(r.Context(), types.Actor{UserID: user.ID, Email: user.Email})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireUser rejects anonymous requests with 401 auth_token_missing.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := types.GetActor(r.Context()); !ok {
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, UserIDHeader+" header is required", nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}
