package auth

import (
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const APIKeyHeader = "X-Api-Key"

// HashAPIKey produces the value for auth.api_key_hash.
func HashAPIKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	return string(h), err
}

// NewAPIKeyMiddleware checks X-Api-Key against a bcrypt hash. An empty hash
// turns the check off (local development).
func NewAPIKeyMiddleware(hash string, logger *zap.Logger) func(http.Handler) http.Handler {
	if hash == "" {
		logger.Warn("api key check disabled: auth.api_key_hash is empty")
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(APIKeyHeader)
			if key == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) != nil {
				logger.Warn("api key rejected", zap.String("path", r.URL.Path), zap.String("remote", r.RemoteAddr))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
