package auth

import (
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Middleware rejects requests without a valid bearer token and stores the
// caller Identity in the request context.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Missing bearer token")
			return
		}

		id, err := m.ValidateToken(strings.TrimSpace(token))
		if err != nil {
			log.Debug().Err(err).Str("path", r.URL.Path).Msg("auth: token rejected")
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
			return
		}

		if !id.IsActive {
			writeError(w, http.StatusForbidden, "forbidden", "Account is deactivated")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), *id)))
	})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorResponse{Error: message, Code: code}); err != nil {
		log.Error().Err(err).Msg("auth: failed to write error response")
	}
}
