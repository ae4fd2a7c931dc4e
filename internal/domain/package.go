package domain

import "time"

// PackageStatus — состояние пакета в реестре (State Machine)
type PackageStatus string

const (
	StatusUntrusted PackageStatus = "untrusted" // Пакет известен, но никем не проверен
	StatusPending   PackageStatus = "pending"   // Запрошен агентом, ждет решения оператора
	StatusActive    PackageStatus = "active"    // Одобрен, доступен начиная с min_maturity
	StatusBanned    PackageStatus = "banned"    // Запрещен. Абсолютный приоритет над всем остальным
)

// ValidStatus проверяет, что фильтр статуса из API — одно из известных значений.
func ValidStatus(s string) bool {
	switch PackageStatus(s) {
	case StatusUntrusted, StatusPending, StatusActive, StatusBanned:
		return true
	}
	return false
}

// PackageRecord — запись реестра пакетов. Составной ключ (Name, Version).
// Записи никогда не удаляются физически (append-only ценность для аудита),
// мутируются только операциями approve/ban/lift-ban.
type PackageRecord struct {
	Name    string        `json:"name"`
	Version string        `json:"version"`
	Status  PackageStatus `json:"status"`

	// MinMaturity — минимальный уровень зрелости агента для active-пакета.
	MinMaturity MaturityLevel `json:"min_maturity,omitempty"`

	// Кто и когда одобрил (Accountability)
	ApprovedBy *string    `json:"approved_by,omitempty"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`

	// Инвариант: status == banned => BanReason непустой
	BanReason string `json:"ban_reason,omitempty"`

	RequestedBy string    `json:"requested_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PermissionDecision — транзиентный результат проверки прав.
// Живет только в кэше, пересчитывается из PackageRecord при промахе.
type PermissionDecision struct {
	Allowed   bool      `json:"allowed"`
	Reason    string    `json:"reason,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
}
