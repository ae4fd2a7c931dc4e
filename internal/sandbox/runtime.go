package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/xela07ax/spaceai-pkg-sentinel/internal/domain"
	"go.uber.org/zap"
)

// Runtime — примитивы контейнерного рантайма: build-image и run-container.
// Рантайм дергается как subprocess (docker/podman CLI), поэтому все
// операции обязаны быть отменяемыми: отмена убивает процесс, а для
// запущенного контейнера — снимает и сам контейнер.
type Runtime interface {
	BuildImage(ctx context.Context, tag, contextDir string, timeout time.Duration) error
	RunContainer(ctx context.Context, spec RunSpec) (*domain.ExecutionResult, error)
	RemoveImage(ctx context.Context, tag string) error
}

// RunSpec — параметры одного запуска. Поля лимитов заполняются из конфига
// платформы; у вызывающего нет способа их ослабить через этот интерфейс.
type RunSpec struct {
	Image   string
	Name    string // Имя контейнера, нужно для принудительного снятия по таймауту
	Stdin   []byte // Код воркло́ада уходит через stdin — никаких host-маунтов
	Env     map[string]string
	Command []string
	Timeout time.Duration

	MemoryLimit string
	CPULimit    string
	PidsLimit   int
	ScratchSize string
}

// DockerRuntime вызывает docker CLI. Структурные флаги безопасности
// зашиты в коде, а не в конфиге: это дефолты каждого запуска, их
// невозможно отключить запросом.
type DockerRuntime struct {
	bin    string
	logger *zap.Logger
}

func NewDockerRuntime(bin string, logger *zap.Logger) *DockerRuntime {
	if bin == "" {
		bin = "docker"
	}
	return &DockerRuntime{bin: bin, logger: logger.Named("docker")}
}

// BuildImage собирает образ из подготовленного контекста.
func (r *DockerRuntime) BuildImage(ctx context.Context, tag, contextDir string, timeout time.Duration) error {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(tctx, r.bin, "build", "--tag", tag, contextDir)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	start := time.Now()
	err := cmd.Run()

	if tctx.Err() != nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
		return domain.ErrBuildTimeout
	}
	if err != nil {
		// Текст инструмента сохраняем дословно — он и есть диагностика
		return &domain.BuildFailureError{Tool: r.bin + " build", Output: output.String(), Err: err}
	}

	r.logger.Info("image built",
		zap.String("tag", tag),
		zap.Duration("took", time.Since(start)))
	return nil
}

// RunContainer запускает контейнер под полным набором ограничений.
// По истечении таймаута контейнер снимается принудительно (docker rm -f),
// результат — ExecutionTimeoutError, частичный вывод не возвращается.
func (r *DockerRuntime) RunContainer(ctx context.Context, spec RunSpec) (*domain.ExecutionResult, error) {
	tctx, cancel := context.WithTimeout(ctx, spec.Timeout)
	defer cancel()

	args := []string{
		"run", "--rm", "-i",
		"--name", spec.Name,

		// Структурные дефолты безопасности (не опции):
		"--network", "none", // Сеть отрезана полностью
		"--read-only",             // Корневая ФС только на чтение
		"--cap-drop", "ALL",       // Никаких capabilities
		"--security-opt", "no-new-privileges", // Эскалация привилегий закрыта
		"--tmpfs", "/workspace/scratch:rw,noexec,nosuid,size=" + spec.ScratchSize,

		// Жесткие потолки ресурсов:
		"--memory", spec.MemoryLimit,
		"--cpus", spec.CPULimit,
		"--pids-limit", strconv.Itoa(spec.PidsLimit),
	}
	for k, v := range spec.Env {
		args = append(args, "--env", k+"="+v)
	}
	args = append(args, spec.Image)
	args = append(args, spec.Command...)

	cmd := exec.CommandContext(tctx, r.bin, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second
	cmd.Stdin = bytes.NewReader(spec.Stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	took := time.Since(start)

	if tctx.Err() != nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
		// CLI-клиент убит, но контейнер мог пережить его — снимаем явно.
		// Background: исходный контекст уже истек
		r.forceRemove(context.Background(), spec.Name)
		return nil, &domain.ExecutionTimeoutError{Timeout: spec.Timeout}
	}
	if ctx.Err() != nil {
		r.forceRemove(context.Background(), spec.Name)
		return nil, ctx.Err()
	}

	result := &domain.ExecutionResult{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		Duration:   took,
		DurationMs: took.Milliseconds(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil // Ненулевой exit code — результат, не сбой рантайма
		}
		return nil, fmt.Errorf("%s run failed to start: %w", r.bin, err)
	}
	return result, nil
}

// RemoveImage удаляет тег. Отсутствие образа — не ошибка (идемпотентность cleanup).
func (r *DockerRuntime) RemoveImage(ctx context.Context, tag string) error {
	cmd := exec.CommandContext(ctx, r.bin, "rmi", "--force", tag)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	if err := cmd.Run(); err != nil {
		if strings.Contains(output.String(), "No such image") {
			return nil
		}
		return fmt.Errorf("%s rmi %s: %w (%s)", r.bin, tag, err, output.String())
	}
	return nil
}

func (r *DockerRuntime) forceRemove(ctx context.Context, name string) {
	rctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := exec.CommandContext(rctx, r.bin, "rm", "--force", name).Run(); err != nil {
		r.logger.Warn("failed to force-remove container", zap.String("name", name), zap.Error(err))
	}
}
