package domain

import "time"

// EnvironmentRecord — изолированное окружение одного workload.
// ImageTag детерминированно выводится из workload_id + хэша нормализованного
// списка пакетов: совпал хэш — образ переиспользуется без пересборки.
type EnvironmentRecord struct {
	WorkloadID     string    `json:"workload_id"`
	ImageTag       string    `json:"image_tag"`
	PackageSetHash string    `json:"package_set_hash"`
	Packages       []string  `json:"packages"`
	BuiltAt        time.Time `json:"built_at"`
}

// ExecutionResult — структурированный результат запуска кода в песочнице.
type ExecutionResult struct {
	Stdout     string        `json:"stdout"`
	Stderr     string        `json:"stderr"`
	ExitCode   int           `json:"exit_code"`
	Duration   time.Duration `json:"-"`
	DurationMs int64         `json:"duration_ms"`
}

// InstallResult — ответ на install-запрос: окружение готово + отчет сканера.
type InstallResult struct {
	Success  bool              `json:"success"`
	ImageTag string            `json:"image_tag,omitempty"`
	Reused   bool              `json:"reused"`
	Report   *DependencyReport `json:"report,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// EnvironmentStatus — ответ на status-запрос.
type EnvironmentStatus struct {
	Exists   bool       `json:"exists"`
	ImageTag string     `json:"image_tag,omitempty"`
	BuiltAt  *time.Time `json:"built_at,omitempty"`
}
