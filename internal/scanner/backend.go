package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/xela07ax/spaceai-pkg-sentinel/internal/domain"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/requirement"
)

// ScanBackend — один внешний инструмент проверки по advisory-базам.
// Анализатор агрегирует список бэкендов, не ветвясь по их именам:
// добавление нового сканера — это новая реализация интерфейса, не if.
type ScanBackend interface {
	Name() string
	Scan(ctx context.Context, reqs []requirement.Requirement) ([]domain.Vulnerability, error)
}

// toolResult — сырой результат одного subprocess-вызова.
type toolResult struct {
	Stdout []byte
	Stderr []byte
	// ExitErr != nil при ненулевом коде выхода. Для сканеров это НЕ сбой:
	// osv-scanner и pip-audit выходят с 1, когда находят уязвимости.
	ExitErr error
}

// runTool запускает внешний инструмент в собственной process group и
// по истечении таймаута убивает ВСЮ группу — никаких осиротевших
// дочерних процессов после отмены.
func runTool(ctx context.Context, timeout time.Duration, bin string, args ...string) (*toolResult, error) {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(tctx, bin, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Отрицательный PID = сигнал всей группе
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if tctx.Err() != nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%s: %w", bin, domain.ErrScanTimeout)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	res := &toolResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitErr = err
			return res, nil
		}
		// Бинарь не найден / не запустился
		return nil, fmt.Errorf("%s invocation failed: %w", bin, err)
	}
	return res, nil
}

// writeRequirementsFile кладет нормализованный список во временный
// requirements.txt — общий входной формат обоих advisory-инструментов.
func writeRequirementsFile(reqs []requirement.Requirement) (string, func(), error) {
	dir, err := os.MkdirTemp("", "sentinel-scan-*")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create scan workdir: %w", err)
	}
	cleanup := func() { os.RemoveAll(dir) }

	path := filepath.Join(dir, "requirements.txt")
	var buf bytes.Buffer
	for _, line := range requirement.Normalize(reqs) {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to write requirements file: %w", err)
	}
	return path, cleanup, nil
}

// normalizeSeverity приводит шкалы разных инструментов к единой.
func normalizeSeverity(raw string) domain.Severity {
	switch {
	case strings.EqualFold(raw, "critical"):
		return domain.SeverityCritical
	case strings.EqualFold(raw, "high"):
		return domain.SeverityHigh
	case strings.EqualFold(raw, "medium"), strings.EqualFold(raw, "moderate"):
		return domain.SeverityMedium
	case strings.EqualFold(raw, "low"):
		return domain.SeverityLow
	default:
		return domain.SeverityUnknown
	}
}
