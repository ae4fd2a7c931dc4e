package scanner

import (
	"context"
	"sync"

	"github.com/xela07ax/spaceai-pkg-sentinel/internal/domain"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/requirement"
	"go.uber.org/zap"
)

// FailPolicy — судьба установки, когда скан не дал полной картины.
type FailPolicy string

const (
	// FailClosed: не смогли проверить — отказываем. Дефолт платформы.
	FailClosed FailPolicy = "closed"
	// FailOpen: отсутствие находок трактуем как чистый результат.
	// Осознанный выбор в пользу доступности, включается только конфигом.
	FailOpen FailPolicy = "open"
)

// Policy — знобы блокировки, разрешающие открытые вопросы дизайна явно,
// а не молчаливым дефолтом.
type Policy struct {
	FailPolicy     FailPolicy
	BlockConflicts bool
	BlockSeverity  domain.Severity // Минимальная серьезность, блокирующая установку
}

// Analyzer агрегирует результаты набора бэкендов и интроспекции дерева.
// Падение одного инструмента не валит скан: его вклад деградирует,
// отчет помечается как degraded. Падение всех — failed без находок.
type Analyzer struct {
	backends []ScanBackend
	tree     *TreeInspector
	policy   Policy
	logger   *zap.Logger
}

func NewAnalyzer(backends []ScanBackend, tree *TreeInspector, policy Policy, logger *zap.Logger) *Analyzer {
	if policy.BlockSeverity == "" {
		policy.BlockSeverity = domain.SeverityLow
	}
	return &Analyzer{
		backends: backends,
		tree:     tree,
		policy:   policy,
		logger:   logger.Named("analyzer"),
	}
}

// Scan запускает все бэкенды параллельно, каждый со своим таймаутом.
// Возвращаемый отчет всегда не-nil; error здесь не бывает — сбои
// инструментов выражаются через ScanStatus.
func (a *Analyzer) Scan(ctx context.Context, reqs []requirement.Requirement) *domain.DependencyReport {
	report := &domain.DependencyReport{ScanStatus: domain.ScanComplete}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		failures int
	)

	for _, backend := range a.backends {
		wg.Add(1)
		go func(b ScanBackend) {
			defer wg.Done()
			findings, err := b.Scan(ctx, reqs)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
				report.DegradedTools = append(report.DegradedTools, b.Name())
				a.logger.Warn("scan backend degraded",
					zap.String("backend", b.Name()), zap.Error(err))
				return
			}
			report.Vulnerabilities = append(report.Vulnerabilities, findings...)
		}(backend)
	}
	wg.Wait()

	// Интроспекция дерева: ошибка инструмента деградирует скан, но
	// попарные конфликты деклараций он возвращает в любом случае
	if a.tree != nil {
		conflicts, err := a.tree.Inspect(ctx, reqs)
		report.Conflicts = append(report.Conflicts, conflicts...)
		if err != nil {
			report.DegradedTools = append(report.DegradedTools, a.tree.Bin)
			a.logger.Warn("tree introspection degraded", zap.Error(err))
		}
	}

	switch {
	case len(a.backends) > 0 && failures == len(a.backends):
		// Ни один advisory-источник не отработал — failed-отчет не несет
		// НИКАКИХ находок, включая конфликты из деклараций
		report.ScanStatus = domain.ScanFailed
		report.Vulnerabilities = nil
		report.Conflicts = nil
	case len(report.DegradedTools) > 0:
		report.ScanStatus = domain.ScanDegraded
	}

	a.logger.Info("dependency scan finished",
		zap.String("status", string(report.ScanStatus)),
		zap.Int("vulnerabilities", len(report.Vulnerabilities)),
		zap.Int("conflicts", len(report.Conflicts)),
		zap.Strings("degraded", report.DegradedTools))
	return report
}

// Gate применяет политику блокировки к отчету. nil — установка может
// продолжаться; ошибка несет отчет для структурированного ответа агенту.
func (a *Analyzer) Gate(report *domain.DependencyReport) error {
	// 1. Неполный скан: fail-closed отказывает, fail-open продолжает
	//    с тем, что есть
	if report.ScanStatus == domain.ScanFailed && a.policy.FailPolicy == FailClosed {
		return domain.ErrScannerFailed
	}
	if report.ScanStatus == domain.ScanDegraded && a.policy.FailPolicy == FailClosed {
		return domain.ErrScannerDegraded
	}

	// 2. Находки с серьезностью выше порога блокируют всегда
	for _, v := range report.Vulnerabilities {
		if v.Severity.AtLeast(a.policy.BlockSeverity) {
			return &domain.VulnerabilityBlockedError{Report: report}
		}
	}

	// 3. Конфликты нефатальны, пока их не эскалировал конфиг
	if a.policy.BlockConflicts && len(report.Conflicts) > 0 {
		return &domain.ConflictDetectedError{Report: report}
	}

	return nil
}
