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

// OSVBackend опрашивает базу OSV через osv-scanner.
// Инструмент выходит с кодом 1 при наличии находок — это штатный результат.
type OSVBackend struct {
	Bin     string // "osv-scanner"
	Timeout time.Duration
	logger  *zap.Logger
}

func NewOSVBackend(bin string, timeout time.Duration, logger *zap.Logger) *OSVBackend {
	if bin == "" {
		bin = "osv-scanner"
	}
	return &OSVBackend{Bin: bin, Timeout: timeout, logger: logger.Named("osv")}
}

func (b *OSVBackend) Name() string { return "osv-scanner" }

// Минимальные структуры под формат osv-scanner --format json.
// Парсим защитно: лишние поля игнорируем, отсутствующие не валят скан.
type osvOutput struct {
	Results []struct {
		Packages []struct {
			Package struct {
				Name    string `json:"name"`
				Version string `json:"version"`
			} `json:"package"`
			Vulnerabilities []struct {
				ID               string `json:"id"`
				DatabaseSpecific struct {
					Severity string `json:"severity"`
				} `json:"database_specific"`
				Affected []struct {
					Ranges []struct {
						Events []struct {
							Fixed string `json:"fixed"`
						} `json:"events"`
					} `json:"ranges"`
				} `json:"affected"`
			} `json:"vulnerabilities"`
		} `json:"packages"`
	} `json:"results"`
}

func (b *OSVBackend) Scan(ctx context.Context, reqs []requirement.Requirement) ([]domain.Vulnerability, error) {
	reqFile, cleanup, err := writeRequirementsFile(reqs)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	res, err := runTool(ctx, b.Timeout, b.Bin, "--format", "json", "--lockfile", "requirements.txt:"+reqFile)
	if err != nil {
		return nil, err
	}

	if len(res.Stdout) == 0 {
		if res.ExitErr != nil {
			return nil, fmt.Errorf("osv-scanner produced no output: %w (stderr: %s)", res.ExitErr, string(res.Stderr))
		}
		return nil, nil
	}

	var out osvOutput
	if err := json.Unmarshal(res.Stdout, &out); err != nil {
		return nil, fmt.Errorf("failed to parse osv-scanner output: %w", err)
	}

	var findings []domain.Vulnerability
	for _, result := range out.Results {
		for _, pkg := range result.Packages {
			for _, v := range pkg.Vulnerabilities {
				finding := domain.Vulnerability{
					Package:    pkg.Package.Name,
					Version:    pkg.Package.Version,
					Severity:   normalizeSeverity(v.DatabaseSpecific.Severity),
					AdvisoryID: v.ID,
					Source:     b.Name(),
				}
				// Первая fixed-версия из диапазонов, если база её знает
				for _, aff := range v.Affected {
					for _, rng := range aff.Ranges {
						for _, ev := range rng.Events {
							if ev.Fixed != "" && finding.FixedVersion == "" {
								finding.FixedVersion = ev.Fixed
							}
						}
					}
				}
				findings = append(findings, finding)
			}
		}
	}

	b.logger.Debug("osv scan finished", zap.Int("findings", len(findings)))
	return findings, nil
}
