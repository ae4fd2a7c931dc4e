package service

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/domain"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/infra"
	"go.uber.org/zap"
)

// AgentRepository описывает требования к хранилищу данных об агентах.
type AgentRepository interface {
	GetAgent(ctx context.Context, id string) (*domain.Agent, error)
	RegisterAgent(ctx context.Context, a *domain.Agent) error
	SetAgentMaturity(ctx context.Context, id string, maturity domain.MaturityLevel) error
	ListAgents(ctx context.Context) ([]domain.Agent, error)
}

// AgentService управляет реестром агентов и их уровнями зрелости.
// Смена зрелости транслируется в Redis: инстансы Data Plane сбрасывают
// свой кэш резолва, иначе понижение действовало бы только по TTL.
type AgentService struct {
	repo   AgentRepository
	rdb    *redis.Client
	logger *zap.Logger
}

func NewAgentService(repo AgentRepository, rdb *redis.Client, logger *zap.Logger) *AgentService {
	return &AgentService{
		repo:   repo,
		rdb:    rdb,
		logger: logger.Named("agent-service"),
	}
}

func (s *AgentService) Register(ctx context.Context, id, name string, maturity domain.MaturityLevel) (*domain.Agent, error) {
	if !maturity.Valid() {
		return nil, fmt.Errorf("invalid maturity level: %q", maturity)
	}

	a := &domain.Agent{ID: id, Name: name, Maturity: maturity}
	if err := s.repo.RegisterAgent(ctx, a); err != nil {
		return nil, err
	}
	s.signalAgentUpdate(ctx, id)

	s.logger.Info("agent registered",
		zap.String("agent_id", id),
		zap.String("maturity", maturity.String()))
	return s.repo.GetAgent(ctx, id)
}

func (s *AgentService) SetMaturity(ctx context.Context, id string, maturity domain.MaturityLevel) error {
	if !maturity.Valid() {
		return fmt.Errorf("invalid maturity level: %q", maturity)
	}

	if err := s.repo.SetAgentMaturity(ctx, id, maturity); err != nil {
		return err
	}
	s.signalAgentUpdate(ctx, id)

	s.logger.Info("agent maturity changed",
		zap.String("agent_id", id),
		zap.String("maturity", maturity.String()))
	return nil
}

func (s *AgentService) Get(ctx context.Context, id string) (*domain.Agent, error) {
	return s.repo.GetAgent(ctx, id)
}

func (s *AgentService) List(ctx context.Context) ([]domain.Agent, error) {
	agents, err := s.repo.ListAgents(ctx)
	if err != nil {
		s.logger.Error("failed to list agents from repository", zap.Error(err))
		return nil, fmt.Errorf("service: could not fetch agents: %w", err)
	}
	return agents, nil
}

// signalAgentUpdate — best-effort: при недоступном Redis кэши Data Plane
// доедут до нового состояния по TTL (он у зрелости короткий).
func (s *AgentService) signalAgentUpdate(ctx context.Context, agentID string) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Publish(ctx, infra.RedisChanAgentUpdate, agentID).Err(); err != nil {
		s.logger.Warn("agent update signal delivery failed",
			zap.String("agent_id", agentID),
			zap.Error(err))
	}
}
