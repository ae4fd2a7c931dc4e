package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/domain"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/infra"
	"go.uber.org/zap"
)

// SecureExecutor запускает код воркло́ада в его собранном окружении.
// Лимиты берутся из конфига платформы на старте процесса; запрос
// исполнения не несет в себе никаких ручек ослабления.
type SecureExecutor struct {
	runtime Runtime
	repo    EnvironmentRepository
	cfg     infra.SandboxConfig
	logger  *zap.Logger
}

func NewSecureExecutor(runtime Runtime, repo EnvironmentRepository, cfg infra.SandboxConfig, logger *zap.Logger) *SecureExecutor {
	return &SecureExecutor{
		runtime: runtime,
		repo:    repo,
		cfg:     cfg,
		logger:  logger.Named("executor"),
	}
}

// Execute выполняет код в окружении workload. Окружения нет —
// ErrEnvironmentNotFound: сначала install, потом execute.
func (e *SecureExecutor) Execute(ctx context.Context, workloadID string, code []byte, env map[string]string) (*domain.ExecutionResult, error) {
	rec, err := e.repo.Get(ctx, workloadID)
	if err != nil {
		return nil, fmt.Errorf("load environment record: %w", err)
	}
	if rec == nil {
		return nil, domain.ErrEnvironmentNotFound
	}

	spec := RunSpec{
		Image: rec.ImageTag,
		Name:  containerName(workloadID),
		Stdin: code,
		Env:   env,
		// Код прилетает через stdin: ни маунтов, ни записи на хост
		Command: []string{"python", "-"},
		Timeout: e.cfg.ExecTimeout,

		MemoryLimit: e.cfg.MemoryLimit,
		CPULimit:    e.cfg.CPULimit,
		PidsLimit:   e.cfg.PidsLimit,
		ScratchSize: e.cfg.ScratchSize,
	}

	start := time.Now()
	result, err := e.runtime.RunContainer(ctx, spec)
	if err != nil {
		e.logger.Warn("execution failed",
			zap.String("workload_id", workloadID),
			zap.String("image_tag", rec.ImageTag),
			zap.Error(err))
		return nil, err
	}

	e.logger.Info("execution finished",
		zap.String("workload_id", workloadID),
		zap.Int("exit_code", result.ExitCode),
		zap.Duration("took", time.Since(start)))
	return result, nil
}

// containerName уникально для каждого запуска: конкурентные execute
// одного workload не должны толкаться за имя.
func containerName(workloadID string) string {
	return "sentinel-" + workloadID + "-" + uuid.NewString()[:8]
}
