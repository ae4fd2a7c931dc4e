package domain

// ScanStatus — итоговое состояние прогона анализатора зависимостей.
type ScanStatus string

const (
	ScanComplete ScanStatus = "complete" // Все инструменты отработали
	ScanDegraded ScanStatus = "degraded" // Часть инструментов упала/не уложилась в таймаут
	ScanFailed   ScanStatus = "failed"   // Не отработал ни один инструмент, находок нет
)

// Severity — нормализованная серьезность уязвимости.
// Разные сканеры отдают разные шкалы, приводим к единой.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
	SeverityUnknown  Severity = "unknown"
)

// Неизвестная серьезность ранжируется наравне с low: находка без оценки
// не должна проходить мимо самого строгого порога блокировки.
var severityRank = map[Severity]int{
	SeverityUnknown:  1,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// AtLeast сравнивает серьезности для порога блокировки.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

// Vulnerability — одна находка из advisory-базы, нормализованная
// к общему виду независимо от инструмента-источника.
type Vulnerability struct {
	Package      string   `json:"package"`
	Version      string   `json:"version,omitempty"`
	Severity     Severity `json:"severity"`
	AdvisoryID   string   `json:"advisory_id"`
	FixedVersion string   `json:"fixed_version,omitempty"`
	Source       string   `json:"source"` // Имя бэкенда (osv-scanner, pip-audit)
}

// Conflict — несовместимые требования к версии одного пакета
// в разрешенном дереве зависимостей.
type Conflict struct {
	Packages []string `json:"packages"` // Конфликтующие требования ("numpy==1.21.0", "numpy>=1.26")
	Reason   string   `json:"reason"`
}

// DependencyReport — транзиентный отчет одного скана.
// Не персистится сам по себе, уходит только в запись аудита install-запроса.
type DependencyReport struct {
	Vulnerabilities []Vulnerability `json:"vulnerabilities"`
	Conflicts       []Conflict      `json:"conflicts"`
	ScanStatus      ScanStatus      `json:"scan_status"`

	// DegradedTools — какие бэкенды не внесли вклад (для диагностики оператором).
	DegradedTools []string `json:"degraded_tools,omitempty"`
}

// MaxSeverity возвращает самую серьезную находку отчета.
func (r *DependencyReport) MaxSeverity() Severity {
	max := SeverityUnknown
	for _, v := range r.Vulnerabilities {
		if v.Severity.AtLeast(max) {
			max = v.Severity
		}
	}
	return max
}
