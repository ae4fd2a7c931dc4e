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

// PipAuditBackend — второй advisory-источник (база PyPA).
// Два независимых источника перекрывают слепые зоны друг друга.
type PipAuditBackend struct {
	Bin     string // "pip-audit"
	Timeout time.Duration
	logger  *zap.Logger
}

func NewPipAuditBackend(bin string, timeout time.Duration, logger *zap.Logger) *PipAuditBackend {
	if bin == "" {
		bin = "pip-audit"
	}
	return &PipAuditBackend{Bin: bin, Timeout: timeout, logger: logger.Named("pip-audit")}
}

func (b *PipAuditBackend) Name() string { return "pip-audit" }

type pipAuditOutput struct {
	Dependencies []struct {
		Name    string `json:"name"`
		Version string `json:"version"`
		Vulns   []struct {
			ID          string   `json:"id"`
			FixVersions []string `json:"fix_versions"`
			Severity    string   `json:"severity"` // Присутствует не всегда
		} `json:"vulns"`
	} `json:"dependencies"`
}

func (b *PipAuditBackend) Scan(ctx context.Context, reqs []requirement.Requirement) ([]domain.Vulnerability, error) {
	reqFile, cleanup, err := writeRequirementsFile(reqs)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	res, err := runTool(ctx, b.Timeout, b.Bin, "--requirement", reqFile, "--format", "json", "--progress-spinner", "off")
	if err != nil {
		return nil, err
	}

	if len(res.Stdout) == 0 {
		if res.ExitErr != nil {
			return nil, fmt.Errorf("pip-audit produced no output: %w (stderr: %s)", res.ExitErr, string(res.Stderr))
		}
		return nil, nil
	}

	var out pipAuditOutput
	if err := json.Unmarshal(res.Stdout, &out); err != nil {
		return nil, fmt.Errorf("failed to parse pip-audit output: %w", err)
	}

	var findings []domain.Vulnerability
	for _, dep := range out.Dependencies {
		for _, v := range dep.Vulns {
			finding := domain.Vulnerability{
				Package:    dep.Name,
				Version:    dep.Version,
				Severity:   normalizeSeverity(v.Severity),
				AdvisoryID: v.ID,
				Source:     b.Name(),
			}
			if len(v.FixVersions) > 0 {
				finding.FixedVersion = v.FixVersions[0]
			}
			findings = append(findings, finding)
		}
	}

	b.logger.Debug("pip-audit scan finished", zap.Int("findings", len(findings)))
	return findings, nil
}
