package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/audit"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/domain"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/governance"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/infra"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/requirement"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/sandbox"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/scanner"
	"go.uber.org/zap"
)

// SentinelCore — оркестратор Data Plane. Склеивает governance, сканер и
// песочницу в два бизнес-потока: install (права → скан → сборка) и
// execute (окружение → изолированный запуск). Сам ничего не решает —
// решают подключенные компоненты.
type SentinelCore struct {
	governance *governance.Service
	analyzer   *scanner.Analyzer
	builder    *sandbox.EnvironmentBuilder
	executor   *sandbox.SecureExecutor
	auditor    audit.Auditor
	metrics    *Metrics
	logger     *zap.Logger
}

func NewSentinelCore(
	gov *governance.Service,
	analyzer *scanner.Analyzer,
	builder *sandbox.EnvironmentBuilder,
	executor *sandbox.SecureExecutor,
	auditor audit.Auditor,
	metrics *Metrics,
	logger *zap.Logger,
) *SentinelCore {
	return &SentinelCore{
		governance: gov,
		analyzer:   analyzer,
		builder:    builder,
		executor:   executor,
		auditor:    auditor,
		metrics:    metrics,
		logger:     logger.Named("core"),
	}
}

// CheckPermission — прямой проброс в governance (Hot Path).
func (c *SentinelCore) CheckPermission(ctx context.Context, agentID, name, version string) (domain.PermissionDecision, error) {
	decision, err := c.governance.CheckPermission(ctx, agentID, name, version)
	if err != nil {
		return domain.PermissionDecision{}, err
	}
	c.metrics.DecisionTotal.WithLabelValues(decisionLabel(decision.Allowed)).Inc()
	c.metrics.DecisionCacheSize.Set(float64(c.governance.CacheSize()))
	return decision, nil
}

// Install — полный конвейер подготовки окружения:
// синтаксис → права по каждому пакету → скан зависимостей → сборка образа.
// Первый же отказ по правам прерывает поток со своей причиной.
func (c *SentinelCore) Install(ctx context.Context, agentID, workloadID string, packages []string) (*domain.InstallResult, error) {
	start := time.Now()

	reqs, err := requirement.ParseList(packages)
	if err != nil {
		return nil, err
	}

	// 1. Governance: каждый пакет проходит проверку прав отдельно
	for _, req := range reqs {
		decision, err := c.governance.CheckPermission(ctx, agentID, req.Name, req.Version)
		if err != nil {
			return nil, err
		}
		c.metrics.DecisionTotal.WithLabelValues(decisionLabel(decision.Allowed)).Inc()
		if !decision.Allowed {
			c.auditInstall(ctx, agentID, workloadID, req.Name, req.Version, "denied", decision.Reason, start)
			return nil, &domain.PermissionDeniedError{
				Package: req.Name,
				Version: req.Version,
				Reason:  decision.Reason,
			}
		}
	}

	// 2. Сканирование: отчет есть всегда, блокировку решает Gate
	report := c.analyzer.Scan(ctx, reqs)
	c.metrics.ScanTotal.WithLabelValues(string(report.ScanStatus)).Inc()
	if err := c.analyzer.Gate(report); err != nil {
		c.auditInstall(ctx, agentID, workloadID, "", "", "blocked", err.Error(), start)
		return &domain.InstallResult{Success: false, Report: report, Error: err.Error()}, err
	}

	// 3. Сборка или переиспользование окружения
	rec, reused, err := c.builder.EnsureEnvironment(ctx, workloadID, reqs)
	if err != nil {
		c.metrics.BuildTotal.WithLabelValues("failed").Inc()
		c.auditInstall(ctx, agentID, workloadID, "", "", "failed", err.Error(), start)
		return &domain.InstallResult{Success: false, Report: report, Error: err.Error()}, err
	}
	if reused {
		c.metrics.BuildTotal.WithLabelValues("reused").Inc()
	} else {
		c.metrics.BuildTotal.WithLabelValues("built").Inc()
	}

	c.auditInstall(ctx, agentID, workloadID, "", "", "success", "", start)
	return &domain.InstallResult{
		Success:  true,
		ImageTag: rec.ImageTag,
		Reused:   reused,
		Report:   report,
	}, nil
}

// Execute запускает код в собранном окружении. Права здесь повторно
// не проверяются: состав окружения уже прошел governance на install.
func (c *SentinelCore) Execute(ctx context.Context, agentID, workloadID string, code []byte, inputs map[string]string) (*domain.ExecutionResult, error) {
	start := time.Now()

	result, err := c.executor.Execute(ctx, workloadID, code, inputs)

	event := audit.AuditEvent{
		ID:         uuid.New().String(),
		TraceID:    infra.TraceID(ctx),
		AgentID:    agentID,
		WorkloadID: workloadID,
		Action:     audit.ActionExecute,
		Actor:      agentID,
		DurationMs: time.Since(start).Milliseconds(),
	}

	switch {
	case err == nil:
		c.metrics.ExecutionTotal.WithLabelValues("success").Inc()
		event.Decision = "success"
		event.Reason = exitLabel(result.ExitCode)
	case isTimeout(err):
		c.metrics.ExecutionTotal.WithLabelValues("timeout").Inc()
		event.Decision = "failed"
		event.Reason = err.Error()
	default:
		c.metrics.ExecutionTotal.WithLabelValues("error").Inc()
		event.Decision = "failed"
		event.Reason = err.Error()
	}
	c.auditor.Log(event)

	return result, err
}

// Cleanup убирает окружение workload. Идемпотентен.
func (c *SentinelCore) Cleanup(ctx context.Context, agentID, workloadID string) error {
	err := c.builder.CleanupEnvironment(ctx, workloadID)

	decision := "success"
	reason := ""
	if err != nil {
		decision = "failed"
		reason = err.Error()
	}
	c.auditor.Log(audit.AuditEvent{
		ID:         uuid.New().String(),
		TraceID:    infra.TraceID(ctx),
		AgentID:    agentID,
		WorkloadID: workloadID,
		Action:     audit.ActionCleanup,
		Decision:   decision,
		Reason:     reason,
		Actor:      agentID,
	})
	return err
}

// Status — состояние окружения workload.
func (c *SentinelCore) Status(ctx context.Context, workloadID string) (*domain.EnvironmentStatus, error) {
	return c.builder.Status(ctx, workloadID)
}

func (c *SentinelCore) auditInstall(ctx context.Context, agentID, workloadID, pkg, version, decision, reason string, start time.Time) {
	c.auditor.Log(audit.AuditEvent{
		ID:         uuid.New().String(),
		TraceID:    infra.TraceID(ctx),
		AgentID:    agentID,
		Package:    pkg,
		Version:    version,
		WorkloadID: workloadID,
		Action:     audit.ActionInstall,
		Decision:   decision,
		Reason:     reason,
		Actor:      agentID,
		DurationMs: time.Since(start).Milliseconds(),
	})
}

func isTimeout(err error) bool {
	var timeoutErr *domain.ExecutionTimeoutError
	return errors.As(err, &timeoutErr)
}

func decisionLabel(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}

func exitLabel(code int) string {
	if code == 0 {
		return ""
	}
	return "non-zero exit code"
}
