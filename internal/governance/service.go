package governance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/audit"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/domain"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/infra"
	"go.uber.org/zap"
)

// PackageRepository описывает требования сервиса к хранилищу реестра.
// GetPackage возвращает (nil, nil), если записи нет — отсутствие записи
// это штатный кейс Default Deny, а не ошибка.
type PackageRepository interface {
	GetPackage(ctx context.Context, name, version string) (*domain.PackageRecord, error)
	CreatePackage(ctx context.Context, rec *domain.PackageRecord) error
	UpdatePackage(ctx context.Context, rec *domain.PackageRecord) error
	ListPackages(ctx context.Context, status string) ([]domain.PackageRecord, error)
}

// AgentRepository — резолв зрелости агента.
type AgentRepository interface {
	GetAgent(ctx context.Context, id string) (*domain.Agent, error)
}

// Service — ядро governance: отвечает на "можно ли агенту X пакет Y@Z"
// и мутирует реестр. Кэш решений принадлежит сервису (никаких глобалов):
// тесты и независимые инстансы получают каждый свой.
type Service struct {
	packages PackageRepository
	agents   AgentRepository
	cache    *Cache[domain.PermissionDecision]
	maturity *Cache[domain.MaturityLevel]
	auditor  audit.Auditor
	rdb      *redis.Client
	logger   *zap.Logger

	decisionTTL time.Duration
	maturityTTL time.Duration
}

func NewService(
	packages PackageRepository,
	agents AgentRepository,
	auditor audit.Auditor,
	rdb *redis.Client,
	decisionTTL, maturityTTL time.Duration,
	logger *zap.Logger,
) *Service {
	return &Service{
		packages:    packages,
		agents:      agents,
		cache:       NewCache[domain.PermissionDecision](),
		maturity:    NewCache[domain.MaturityLevel](),
		auditor:     auditor,
		rdb:         rdb,
		logger:      logger.Named("governance"),
		decisionTTL: decisionTTL,
		maturityTTL: maturityTTL,
	}
}

// CheckPermission — Hot Path. Отказ — это нормальный структурированный
// результат, не ошибка: error возвращается только при сбое хранилища.
func (s *Service) CheckPermission(ctx context.Context, agentID, name, version string) (domain.PermissionDecision, error) {
	maturity, err := s.resolveMaturity(ctx, agentID)
	if err != nil {
		return domain.PermissionDecision{}, err
	}

	key := decisionKey(name, version, maturity)
	decision, hit := s.cache.Get(key)
	if !hit {
		record, err := s.packages.GetPackage(ctx, name, version)
		if err != nil {
			return domain.PermissionDecision{}, fmt.Errorf("registry lookup failed: %w", err)
		}
		decision = Evaluate(maturity, record)
		s.cache.Set(key, decision, s.decisionTTL)
	}

	s.auditor.Log(audit.AuditEvent{
		ID:       uuid.New().String(),
		TraceID:  infra.TraceID(ctx),
		AgentID:  agentID,
		Package:  name,
		Version:  version,
		Action:   audit.ActionPermissionCheck,
		Decision: decisionLabel(decision.Allowed),
		Reason:   decision.Reason,
		Actor:    agentID,
	})

	return decision, nil
}

// resolveMaturity достает уровень зрелости через короткоживущий кэш.
// Неизвестный агент получает student — самый низкий уровень (fail-closed).
func (s *Service) resolveMaturity(ctx context.Context, agentID string) (domain.MaturityLevel, error) {
	if m, ok := s.maturity.Get(maturityKey(agentID)); ok {
		return m, nil
	}

	agent, err := s.agents.GetAgent(ctx, agentID)
	if err != nil {
		return "", fmt.Errorf("agent lookup failed: %w", err)
	}

	m := domain.MaturityStudent
	if agent != nil && agent.Maturity.Valid() {
		m = agent.Maturity
	} else if agent == nil {
		s.logger.Warn("unknown agent, defaulting to student maturity", zap.String("agent_id", agentID))
	}

	s.maturity.Set(maturityKey(agentID), m, s.maturityTTL)
	return m, nil
}

// RequestPackage создает pending-запись. Идемпотентен: повторный запрос
// уже pending/active пакета возвращает запись как есть. Запрос banned-пакета —
// конфликт: бан снимается только явной операцией.
func (s *Service) RequestPackage(ctx context.Context, name, version, requestedBy string) (*domain.PackageRecord, error) {
	record, err := s.packages.GetPackage(ctx, name, version)
	if err != nil {
		return nil, fmt.Errorf("registry lookup failed: %w", err)
	}

	if record != nil {
		if record.Status == domain.StatusBanned {
			return nil, domain.ErrPackageBanned
		}
		if record.Status == domain.StatusPending || record.Status == domain.StatusActive {
			return record, nil
		}
		// untrusted -> pending
		record.Status = domain.StatusPending
		record.RequestedBy = requestedBy
		record.UpdatedAt = time.Now()
		if err := s.packages.UpdatePackage(ctx, record); err != nil {
			return nil, fmt.Errorf("registry update failed: %w", err)
		}
	} else {
		now := time.Now()
		record = &domain.PackageRecord{
			Name:        name,
			Version:     version,
			Status:      domain.StatusPending,
			RequestedBy: requestedBy,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.packages.CreatePackage(ctx, record); err != nil {
			return nil, fmt.Errorf("registry insert failed: %w", err)
		}
	}

	s.afterMutation(ctx, audit.AuditEvent{
		Package:  name,
		Version:  version,
		Action:   audit.ActionPackageRequest,
		Decision: string(domain.StatusPending),
		Actor:    requestedBy,
	})
	return record, nil
}

// ApprovePackage переводит пакет в active с минимальным уровнем зрелости.
// Banned-пакет одобрить нельзя: бан снимается отдельной auditable-операцией,
// а не молча перекрывается approve.
func (s *Service) ApprovePackage(ctx context.Context, name, version string, minMaturity domain.MaturityLevel, approvedBy string) (*domain.PackageRecord, error) {
	if !minMaturity.Valid() {
		return nil, fmt.Errorf("invalid min_maturity: %q", minMaturity)
	}

	record, err := s.packages.GetPackage(ctx, name, version)
	if err != nil {
		return nil, fmt.Errorf("registry lookup failed: %w", err)
	}

	now := time.Now()
	if record == nil {
		// Оператор может одобрить пакет, который никто не запрашивал
		record = &domain.PackageRecord{Name: name, Version: version, CreatedAt: now}
		record.Status = domain.StatusActive
		record.MinMaturity = minMaturity
		record.ApprovedBy = &approvedBy
		record.ApprovedAt = &now
		record.UpdatedAt = now
		if err := s.packages.CreatePackage(ctx, record); err != nil {
			return nil, fmt.Errorf("registry insert failed: %w", err)
		}
	} else {
		if record.Status == domain.StatusBanned {
			return nil, domain.ErrPackageBanned
		}
		record.Status = domain.StatusActive
		record.MinMaturity = minMaturity
		record.ApprovedBy = &approvedBy
		record.ApprovedAt = &now
		record.BanReason = ""
		record.UpdatedAt = now
		if err := s.packages.UpdatePackage(ctx, record); err != nil {
			return nil, fmt.Errorf("registry update failed: %w", err)
		}
	}

	s.afterMutation(ctx, audit.AuditEvent{
		Package:  name,
		Version:  version,
		Action:   audit.ActionPackageApprove,
		Decision: string(domain.StatusActive),
		Reason:   "min_maturity=" + minMaturity.String(),
		Actor:    approvedBy,
	})
	return record, nil
}

// BanPackage — идемпотентный запрет. Причина обязательна: инвариант реестра
// "banned => ban_reason непустой" охраняется здесь, на входе.
func (s *Service) BanPackage(ctx context.Context, name, version, reason, bannedBy string) (*domain.PackageRecord, error) {
	if reason == "" {
		return nil, fmt.Errorf("ban reason is required")
	}

	record, err := s.packages.GetPackage(ctx, name, version)
	if err != nil {
		return nil, fmt.Errorf("registry lookup failed: %w", err)
	}

	now := time.Now()
	if record == nil {
		record = &domain.PackageRecord{Name: name, Version: version, CreatedAt: now}
		record.Status = domain.StatusBanned
		record.BanReason = reason
		record.UpdatedAt = now
		if err := s.packages.CreatePackage(ctx, record); err != nil {
			return nil, fmt.Errorf("registry insert failed: %w", err)
		}
	} else {
		record.Status = domain.StatusBanned
		record.BanReason = reason
		record.MinMaturity = ""
		record.ApprovedBy = nil
		record.ApprovedAt = nil
		record.UpdatedAt = now
		if err := s.packages.UpdatePackage(ctx, record); err != nil {
			return nil, fmt.Errorf("registry update failed: %w", err)
		}
	}

	s.afterMutation(ctx, audit.AuditEvent{
		Package:  name,
		Version:  version,
		Action:   audit.ActionPackageBan,
		Decision: string(domain.StatusBanned),
		Reason:   reason,
		Actor:    bannedBy,
	})
	return record, nil
}

// LiftBan снимает запрет явной операцией. Пакет возвращается в pending —
// для повторного допуска нужен свежий approve.
func (s *Service) LiftBan(ctx context.Context, name, version, liftedBy string) (*domain.PackageRecord, error) {
	record, err := s.packages.GetPackage(ctx, name, version)
	if err != nil {
		return nil, fmt.Errorf("registry lookup failed: %w", err)
	}
	if record == nil {
		return nil, fmt.Errorf("package %s@%s not found", name, version)
	}
	if record.Status != domain.StatusBanned {
		return record, nil // Идемпотентность: бан уже снят
	}

	record.Status = domain.StatusPending
	record.BanReason = ""
	record.UpdatedAt = time.Now()
	if err := s.packages.UpdatePackage(ctx, record); err != nil {
		return nil, fmt.Errorf("registry update failed: %w", err)
	}

	s.afterMutation(ctx, audit.AuditEvent{
		Package:  name,
		Version:  version,
		Action:   audit.ActionBanLift,
		Decision: string(domain.StatusPending),
		Actor:    liftedBy,
	})
	return record, nil
}

// ListPackages возвращает реестр, опционально отфильтрованный по статусу.
func (s *Service) ListPackages(ctx context.Context, status string) ([]domain.PackageRecord, error) {
	if status != "" && !domain.ValidStatus(status) {
		return nil, fmt.Errorf("unknown status filter: %q", status)
	}
	return s.packages.ListPackages(ctx, status)
}

// InvalidateCache сбрасывает кэш решений. Вызывается listener'ом,
// когда мутацию реестра выполнил другой инстанс.
func (s *Service) InvalidateCache() {
	s.cache.Clear()
}

// InvalidateMaturity сбрасывает кэш зрелости (сигнал о смене уровня агента).
func (s *Service) InvalidateMaturity() {
	s.maturity.Clear()
}

// CacheSize — для gauge-метрики.
func (s *Service) CacheSize() int {
	return s.cache.Len()
}

// afterMutation — общий хвост каждой мутации реестра:
// 1) синхронный сброс локального кэша ДО возврата из операции — следующий
//    CheckPermission на этом инстансе гарантированно видит новое состояние;
// 2) широковещательный сигнал остальным инстансам (best-effort: при недоступном
//    Redis чужие кэши доедут по TTL);
// 3) запись аудита.
func (s *Service) afterMutation(ctx context.Context, event audit.AuditEvent) {
	s.cache.Clear()

	if s.rdb != nil {
		if err := s.rdb.Publish(ctx, infra.RedisChanRegistryUpdate, "refresh").Err(); err != nil {
			s.logger.Warn("registry update signal delivery failed", zap.Error(err))
		}
	}

	event.ID = uuid.New().String()
	event.TraceID = infra.TraceID(ctx)
	s.auditor.Log(event)

	s.logger.Info("package registry mutated",
		zap.String("package", event.Package),
		zap.String("version", event.Version),
		zap.String("action", string(event.Action)),
		zap.String("actor", event.Actor))
}

func decisionLabel(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}
