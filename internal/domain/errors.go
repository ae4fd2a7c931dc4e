package domain

import (
	"errors"
	"fmt"
	"time"
)

// Сентинельные ошибки. Отказ в правах и находки сканера — это НЕ ошибки,
// а штатные структурированные результаты; ошибками остаются только
// инфраструктурные сбои и нарушения контракта.
var (
	ErrEnvironmentNotFound = errors.New("environment not found for workload")
	ErrPackageBanned       = errors.New("package is banned; lift the ban explicitly before approving")
	ErrScannerDegraded     = errors.New("dependency scan degraded: some tools unavailable")
	ErrScannerFailed       = errors.New("dependency scan failed: no tools available")
	ErrScanTimeout         = errors.New("dependency scan timed out")
	ErrBuildTimeout        = errors.New("environment build timed out")
)

// PermissionDeniedError — отказ governance-слоя. Причина обязана быть
// человекочитаемой: downstream-инструменты различают "banned" / "maturity" /
// "pending" / "unknown" именно по тексту.
type PermissionDeniedError struct {
	Package string
	Version string
	Reason  string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("permission denied for %s@%s: %s", e.Package, e.Version, e.Reason)
}

// VulnerabilityBlockedError — установка отклонена по результатам скана.
type VulnerabilityBlockedError struct {
	Report *DependencyReport
}

func (e *VulnerabilityBlockedError) Error() string {
	return fmt.Sprintf("installation blocked: %d known vulnerabilities (max severity %s)",
		len(e.Report.Vulnerabilities), e.Report.MaxSeverity())
}

// ConflictDetectedError — конфликты версий. По умолчанию не фатальны,
// эскалируются в блокировку только конфигом scan.block_conflicts.
type ConflictDetectedError struct {
	Report *DependencyReport
}

func (e *ConflictDetectedError) Error() string {
	return fmt.Sprintf("installation blocked: %d dependency conflicts detected", len(e.Report.Conflicts))
}

// BuildFailureError сохраняет вывод инструмента сборки дословно —
// оператору нужен оригинальный текст для диагностики, не пересказ.
type BuildFailureError struct {
	Tool   string
	Output string
	Err    error
}

func (e *BuildFailureError) Error() string {
	return fmt.Sprintf("environment build failed (%s): %v", e.Tool, e.Err)
}

func (e *BuildFailureError) Unwrap() error { return e.Err }

// ExecutionTimeoutError — контейнер принудительно снят по wall-clock таймауту.
// Частичный вывод не выдается за успешный результат.
type ExecutionTimeoutError struct {
	Timeout time.Duration
}

func (e *ExecutionTimeoutError) Error() string {
	return fmt.Sprintf("execution timed out after %s; container was force-killed", e.Timeout)
}

// ExecutionError — код завершился с ненулевым exit code.
type ExecutionError struct {
	ExitCode int
	Stderr   string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed with exit code %d", e.ExitCode)
}
