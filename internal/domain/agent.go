package domain

import "time"

// Agent — учетная запись автономного агента в Control Plane.
// Уровень зрелости задается оператором и является источником правды
// для всех решений о допуске к пакетам.
type Agent struct {
	ID       string        `json:"id"`   // UUID
	Name     string        `json:"name"` // Человекочитаемое имя ("etl-helper-bot")
	Maturity MaturityLevel `json:"maturity"`

	LastActivity time.Time `json:"last_activity"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
