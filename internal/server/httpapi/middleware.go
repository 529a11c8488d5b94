package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/okulov/vaultsync/internal/server/auth"
)

type contextKey string

const userIDKey contextKey = "userID"

// withBearerAuth validates the Authorization header and stores the
// account id in the request context. Expired tokens answer with the
// token_expired code so clients know a refresh may still save the call.
func (s *Server) withBearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			respondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}

		userID, err := auth.GetUserIDFromToken(token, []byte(s.config.SecretKey))
		if err != nil {
			respondServiceError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}
