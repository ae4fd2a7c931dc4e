package domain

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CustomClaims — общий формат токена для обеих плоскостей.
// Агентские токены несут AgentID, операторские — UserID + Scopes.
// Уровень зрелости агента в токен НЕ кладем: источник правды — реестр,
// иначе понижение зрелости не действовало бы до истечения токена.
type CustomClaims struct {
	UserID  string          `json:"user_id,omitempty"`
	AgentID string          `json:"agent_id,omitempty"`
	Scopes  map[string]bool `json:"scopes,omitempty"` // "admin": true
	jwt.RegisteredClaims
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"` // Всегда "Bearer"
	ExpiresIn   int64  `json:"expires_in"`
}

type User struct {
	ID           string          `json:"id"`
	Email        string          `json:"email"`
	Username     string          `json:"username"`
	PasswordHash string          `json:"-"` // Никогда не отдаем наружу
	Role         string          `json:"role"`
	Scopes       map[string]bool `json:"scopes"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
