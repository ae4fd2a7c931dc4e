package auth

import (
	"context"
	"net/http"

	"github.com/xela07ax/spaceai-pkg-sentinel/internal/domain"
	"go.uber.org/zap"
)

// TokenValidator — интерфейс, который реализуют и шлюз, и консоль.
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.CustomClaims, error)
}

// Типизированные ключи контекста (избегаем коллизий со сторонними middleware).
type ctxKey string

const (
	userIDKey  ctxKey = "user_id"
	agentIDKey ctxKey = "agent_id"
	scopesKey  ctxKey = "user_scopes"
)

// NewMiddleware проверяет Authorization заголовок и прокидывает claims в контекст.
func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), scopesKey, claims.Scopes)
			ctx = context.WithValue(ctx, userIDKey, claims.UserID)
			ctx = context.WithValue(ctx, agentIDKey, claims.AgentID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AgentID достает ID агента из контекста (после агентского middleware).
func AgentID(ctx context.Context) string {
	if id, ok := ctx.Value(agentIDKey).(string); ok {
		return id
	}
	return ""
}

// UserID достает ID оператора из контекста (после операторского middleware).
func UserID(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok {
		return id
	}
	return ""
}

// HasScope проверяет право оператора (например, "admin").
func HasScope(ctx context.Context, scope string) bool {
	if scopes, ok := ctx.Value(scopesKey).(map[string]bool); ok {
		return scopes[scope]
	}
	return false
}
