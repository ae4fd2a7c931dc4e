package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xela07ax/spaceai-pkg-sentinel/internal/domain"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/requirement"
	"go.uber.org/zap"
)

// TreeInspector находит конфликты версий: пакет, который требуется более
// одного раза с несовместимыми ограничениями. Два источника правды:
// 1) попарная проверка заявленных требований (дешево, всегда доступно);
// 2) интроспекция разрешенного дерева внешним инструментом (pipdeptree).
type TreeInspector struct {
	Bin     string // "pipdeptree"
	Timeout time.Duration
	logger  *zap.Logger
}

func NewTreeInspector(bin string, timeout time.Duration, logger *zap.Logger) *TreeInspector {
	if bin == "" {
		bin = "pipdeptree"
	}
	return &TreeInspector{Bin: bin, Timeout: timeout, logger: logger.Named("deptree")}
}

type pipdeptreeOutput []struct {
	Package struct {
		Key              string `json:"key"`
		InstalledVersion string `json:"installed_version"`
	} `json:"package"`
	Dependencies []struct {
		Key              string `json:"key"`
		RequiredVersion  string `json:"required_version"`
		InstalledVersion string `json:"installed_version"`
	} `json:"dependencies"`
}

// Inspect возвращает конфликты. Ошибка инструмента не фатальна для скана
// в целом — анализатор деградирует до попарной проверки требований.
func (t *TreeInspector) Inspect(ctx context.Context, reqs []requirement.Requirement) ([]domain.Conflict, error) {
	conflicts := declaredConflicts(reqs)

	res, err := runTool(ctx, t.Timeout, t.Bin, "--json")
	if err != nil {
		// Интроспекция упала — возвращаем то, что нашли по декларациям,
		// но сигналим вызывающему о деградации
		return conflicts, err
	}
	if res.ExitErr != nil || len(res.Stdout) == 0 {
		return conflicts, fmt.Errorf("pipdeptree failed: %v (stderr: %s)", res.ExitErr, string(res.Stderr))
	}

	var tree pipdeptreeOutput
	if err := json.Unmarshal(res.Stdout, &tree); err != nil {
		return conflicts, fmt.Errorf("failed to parse pipdeptree output: %w", err)
	}

	conflicts = append(conflicts, treeConflicts(tree)...)
	t.logger.Debug("dependency tree inspected",
		zap.Int("nodes", len(tree)), zap.Int("conflicts", len(conflicts)))
	return conflicts, nil
}

// declaredConflicts — попарная проверка заявленного списка.
func declaredConflicts(reqs []requirement.Requirement) []domain.Conflict {
	var conflicts []domain.Conflict
	byName := make(map[string][]requirement.Requirement)
	for _, r := range reqs {
		byName[r.Name] = append(byName[r.Name], r)
	}
	for _, group := range byName {
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				if bad, reason := requirement.Incompatible(group[i], group[j]); bad {
					conflicts = append(conflicts, domain.Conflict{
						Packages: []string{group[i].String(), group[j].String()},
						Reason:   reason,
					})
				}
			}
		}
	}
	return conflicts
}

// treeConflicts ищет в разрешенном дереве пакеты, чье установленное
// состояние не удовлетворяет требованию хотя бы одного из родителей.
func treeConflicts(tree pipdeptreeOutput) []domain.Conflict {
	type edge struct {
		parent   string
		required string
	}
	requiredBy := make(map[string][]edge)
	installed := make(map[string]string)

	for _, node := range tree {
		installed[node.Package.Key] = node.Package.InstalledVersion
		for _, dep := range node.Dependencies {
			if dep.RequiredVersion == "" || dep.RequiredVersion == "Any" {
				continue
			}
			requiredBy[dep.Key] = append(requiredBy[dep.Key], edge{
				parent:   node.Package.Key,
				required: dep.RequiredVersion,
			})
		}
	}

	var conflicts []domain.Conflict
	for key, edges := range requiredBy {
		if len(edges) < 2 {
			continue
		}
		// Несколько родителей требуют этот пакет: сверяем ограничения
		// попарно через общий requirement-парсер
		for i := 0; i < len(edges); i++ {
			for j := i + 1; j < len(edges); j++ {
				a, errA := requirement.Parse(key + edges[i].required)
				b, errB := requirement.Parse(key + edges[j].required)
				if errA != nil || errB != nil {
					continue // Неразборчивое ограничение не повод для ложной тревоги
				}
				if bad, reason := requirement.Incompatible(a, b); bad {
					conflicts = append(conflicts, domain.Conflict{
						Packages: []string{
							fmt.Sprintf("%s (via %s%s)", key, edges[i].parent, edges[i].required),
							fmt.Sprintf("%s (via %s%s)", key, edges[j].parent, edges[j].required),
						},
						Reason: fmt.Sprintf("installed %s: %s", installed[key], reason),
					})
				}
			}
		}
	}
	return conflicts
}
