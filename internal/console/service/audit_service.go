package service

import (
	"context"
	"fmt"

	"github.com/xela07ax/spaceai-pkg-sentinel/internal/audit"
)

// AuditLogProvider описывает контракт для чтения журнала аудита.
// Модель события общая с пакетом audit — консоль не вводит свою.
type AuditLogProvider interface {
	FindAuditEvents(ctx context.Context, f audit.Filter) ([]audit.AuditEvent, error)
}

type AuditService struct {
	repo AuditLogProvider
}

func NewAuditService(repo AuditLogProvider) *AuditService {
	return &AuditService{repo: repo}
}

// FetchLogs запрашивает журнал с фильтрацией.
// Интерпретация пустых фильтров инкапсулирована в репозитории.
func (s *AuditService) FetchLogs(ctx context.Context, f audit.Filter) ([]audit.AuditEvent, error) {
	logs, err := s.repo.FindAuditEvents(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("audit_service: failed to fetch logs: %w", err)
	}
	return logs, nil
}
