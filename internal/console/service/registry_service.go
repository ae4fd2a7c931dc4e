package service

import (
	"context"

	"github.com/xela07ax/spaceai-pkg-sentinel/internal/domain"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/governance"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/infra/auth"
	"go.uber.org/zap"
)

// RegistryService — операторский фасад над governance-ядром.
// Вся семантика мутаций (идемпотентность, инварианты banned-состояния,
// сброс кэша + Redis-сигнал инстансам Data Plane, аудит) живет в governance;
// консоль только добавляет подотчетность оператора.
// Embedding BaseValidator делает сервис TokenValidator'ом для middleware.
type RegistryService struct {
	*auth.BaseValidator
	gov    *governance.Service
	logger *zap.Logger
}

func NewRegistryService(gov *governance.Service, validator *auth.BaseValidator, logger *zap.Logger) *RegistryService {
	return &RegistryService{
		BaseValidator: validator,
		gov:           gov,
		logger:        logger.Named("registry-service"),
	}
}

func (s *RegistryService) List(ctx context.Context, status string) ([]domain.PackageRecord, error) {
	return s.gov.ListPackages(ctx, status)
}

func (s *RegistryService) Request(ctx context.Context, name, version, requestedBy string) (*domain.PackageRecord, error) {
	return s.gov.RequestPackage(ctx, name, version, requestedBy)
}

func (s *RegistryService) Approve(ctx context.Context, name, version string, minMaturity domain.MaturityLevel, operator string) (*domain.PackageRecord, error) {
	s.logger.Info("operator approves package",
		zap.String("package", name),
		zap.String("version", version),
		zap.String("min_maturity", minMaturity.String()),
		zap.String("operator", operator))
	return s.gov.ApprovePackage(ctx, name, version, minMaturity, operator)
}

func (s *RegistryService) Ban(ctx context.Context, name, version, reason, operator string) (*domain.PackageRecord, error) {
	s.logger.Info("operator bans package",
		zap.String("package", name),
		zap.String("version", version),
		zap.String("reason", reason),
		zap.String("operator", operator))
	return s.gov.BanPackage(ctx, name, version, reason, operator)
}

func (s *RegistryService) LiftBan(ctx context.Context, name, version, operator string) (*domain.PackageRecord, error) {
	s.logger.Info("operator lifts package ban",
		zap.String("package", name),
		zap.String("version", version),
		zap.String("operator", operator))
	return s.gov.LiftBan(ctx, name, version, operator)
}
