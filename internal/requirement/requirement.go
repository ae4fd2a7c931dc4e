package requirement

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Requirement — одна строка требования пакета: имя + опциональное
// ограничение версии ("numpy==1.21.0", "requests>=2.31", "pandas").
// Этот слой проверяет ТОЛЬКО синтаксическую корректность строки —
// формат workload-описания целиком парсит внешний коллаборатор.
type Requirement struct {
	Name     string `json:"name"`
	Operator string `json:"operator,omitempty"` // ==, >=, <=, >, <, !=
	Version  string `json:"version,omitempty"`
	Raw      string `json:"raw"`
}

var (
	nameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)
	// Операторы в порядке убывания длины, чтобы ">=" не разрезался как ">"
	operators = []string{"==", ">=", "<=", "!=", ">", "<"}
)

// Parse валидирует и разбирает строку требования.
func Parse(raw string) (Requirement, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Requirement{}, fmt.Errorf("empty requirement string")
	}

	for _, op := range operators {
		if idx := strings.Index(s, op); idx > 0 {
			name := strings.TrimSpace(s[:idx])
			version := strings.TrimSpace(s[idx+len(op):])
			if !nameRe.MatchString(name) {
				return Requirement{}, fmt.Errorf("invalid package name in requirement %q", raw)
			}
			if version == "" {
				return Requirement{}, fmt.Errorf("missing version after %q in requirement %q", op, raw)
			}
			// Версия должна быть осмысленной для semver-сравнений
			if _, err := semver.NewVersion(version); err != nil {
				return Requirement{}, fmt.Errorf("invalid version %q in requirement %q: %w", version, raw, err)
			}
			return Requirement{
				Name:     normalizeName(name),
				Operator: op,
				Version:  version,
				Raw:      s,
			}, nil
		}
	}

	// Без оператора — просто имя пакета, любая версия
	if !nameRe.MatchString(s) {
		return Requirement{}, fmt.Errorf("invalid package name %q", raw)
	}
	return Requirement{Name: normalizeName(s), Raw: s}, nil
}

// ParseList разбирает список требований; первая же некорректная строка — ошибка.
func ParseList(raws []string) ([]Requirement, error) {
	if len(raws) == 0 {
		return nil, fmt.Errorf("package list is empty")
	}
	reqs := make([]Requirement, 0, len(raws))
	for _, r := range raws {
		req, err := Parse(r)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// Pinned сообщает, зафиксирована ли точная версия.
func (r Requirement) Pinned() bool {
	return r.Operator == "=="
}

// String восстанавливает каноничную форму требования.
func (r Requirement) String() string {
	if r.Operator == "" {
		return r.Name
	}
	return r.Name + r.Operator + r.Version
}

// Constraint превращает требование в semver-ограничение.
// Требование без версии совместимо с чем угодно.
func (r Requirement) Constraint() (*semver.Constraints, error) {
	if r.Operator == "" {
		return semver.NewConstraint(">=0.0.0")
	}
	op := r.Operator
	if op == "==" {
		op = "=" // semver-синтаксис равенства
	}
	return semver.NewConstraint(op + " " + r.Version)
}

// Incompatible проверяет, могут ли два требования к ОДНОМУ пакету быть
// удовлетворены одной версией. Используется детектором конфликтов.
func Incompatible(a, b Requirement) (bool, string) {
	if a.Name != b.Name {
		return false, ""
	}

	// Два разных точных пина — конфликт без вариантов
	if a.Pinned() && b.Pinned() && a.Version != b.Version {
		return true, fmt.Sprintf("pinned to both %s and %s", a.Version, b.Version)
	}

	// Пин против ограничения: версия пина обязана удовлетворять ограничению
	if a.Pinned() || b.Pinned() {
		pinned, other := a, b
		if b.Pinned() {
			pinned, other = b, a
		}
		c, err := other.Constraint()
		if err != nil {
			return false, ""
		}
		v, err := semver.NewVersion(pinned.Version)
		if err != nil {
			return false, ""
		}
		if !c.Check(v) {
			return true, fmt.Sprintf("pin %s violates constraint %s", pinned.String(), other.String())
		}
	}

	// Два диапазона считаем совместимыми: без полного резолвера пересечение
	// диапазонов надежно не доказать, ложные блокировки хуже пропуска
	return false, ""
}

// Normalize приводит список к каноничному отсортированному виду —
// основа стабильного package_set_hash.
func Normalize(reqs []Requirement) []string {
	out := make([]string, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, r.String())
	}
	sort.Strings(out)
	return out
}

func normalizeName(name string) string {
	// PEP 503: регистр и разделители не значимы
	return strings.ToLower(strings.ReplaceAll(name, "_", "-"))
}
