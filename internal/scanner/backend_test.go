package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/domain"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/requirement"
	"go.uber.org/zap"
)

// fakeTool создает исполняемый скрипт, имитирующий внешний инструмент.
func fakeTool(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tool.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func TestRunTool_CapturesOutput(t *testing.T) {
	bin := fakeTool(t, `echo '{"ok":true}'; echo warn >&2`)

	res, err := runTool(context.Background(), time.Minute, bin)

	require.NoError(t, err)
	assert.Equal(t, "{\"ok\":true}\n", string(res.Stdout))
	assert.Equal(t, "warn\n", string(res.Stderr))
	assert.Nil(t, res.ExitErr)
}

func TestRunTool_NonZeroExitIsNotFailure(t *testing.T) {
	// Сканеры выходят с кодом 1, когда находят уязвимости
	bin := fakeTool(t, `echo found; exit 1`)

	res, err := runTool(context.Background(), time.Minute, bin)

	require.NoError(t, err)
	assert.NotNil(t, res.ExitErr)
	assert.Equal(t, "found\n", string(res.Stdout))
}

func TestRunTool_TimeoutKillsProcess(t *testing.T) {
	bin := fakeTool(t, `sleep 30`)

	start := time.Now()
	_, err := runTool(context.Background(), 100*time.Millisecond, bin)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrScanTimeout)
	assert.Less(t, time.Since(start), 5*time.Second, "timeout must not wait for the tool")
}

func TestRunTool_MissingBinary(t *testing.T) {
	_, err := runTool(context.Background(), time.Minute, "/nonexistent/scanner-bin")
	assert.Error(t, err)
}

func TestOSVBackend_ParsesFindings(t *testing.T) {
	payload := `{
	  "results": [{
	    "packages": [{
	      "package": {"name": "numpy", "version": "1.21.0"},
	      "vulnerabilities": [{
	        "id": "GHSA-xxxx",
	        "database_specific": {"severity": "HIGH"},
	        "affected": [{"ranges": [{"events": [{"fixed": "1.22.0"}]}]}]
	      }]
	    }]
	  }]
	}`
	bin := fakeTool(t, "cat <<'EOF'\n"+payload+"\nEOF")
	b := NewOSVBackend(bin, time.Minute, zap.NewNop())

	reqs, err := requirement.ParseList([]string{"numpy==1.21.0"})
	require.NoError(t, err)

	findings, err := b.Scan(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "numpy", findings[0].Package)
	assert.Equal(t, "GHSA-xxxx", findings[0].AdvisoryID)
	assert.Equal(t, domain.SeverityHigh, findings[0].Severity)
	assert.Equal(t, "1.22.0", findings[0].FixedVersion)
	assert.Equal(t, "osv-scanner", findings[0].Source)
}

func TestPipAuditBackend_ParsesFindings(t *testing.T) {
	payload := `{
	  "dependencies": [{
	    "name": "requests",
	    "version": "2.19.0",
	    "vulns": [{"id": "PYSEC-2018-28", "fix_versions": ["2.20.0"], "severity": "moderate"}]
	  }]
	}`
	bin := fakeTool(t, "cat <<'EOF'\n"+payload+"\nEOF")
	b := NewPipAuditBackend(bin, time.Minute, zap.NewNop())

	reqs, err := requirement.ParseList([]string{"requests==2.19.0"})
	require.NoError(t, err)

	findings, err := b.Scan(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "requests", findings[0].Package)
	assert.Equal(t, "PYSEC-2018-28", findings[0].AdvisoryID)
	assert.Equal(t, domain.SeverityMedium, findings[0].Severity)
	assert.Equal(t, "2.20.0", findings[0].FixedVersion)
}

func TestOSVBackend_GarbageOutput(t *testing.T) {
	bin := fakeTool(t, `echo "segmentation fault"`)
	b := NewOSVBackend(bin, time.Minute, zap.NewNop())

	reqs, err := requirement.ParseList([]string{"numpy==1.21.0"})
	require.NoError(t, err)

	_, err = b.Scan(context.Background(), reqs)
	assert.Error(t, err)
}

func TestNormalizeSeverity(t *testing.T) {
	cases := map[string]domain.Severity{
		"CRITICAL": domain.SeverityCritical,
		"High":     domain.SeverityHigh,
		"moderate": domain.SeverityMedium,
		"medium":   domain.SeverityMedium,
		"low":      domain.SeverityLow,
		"":         domain.SeverityUnknown,
		"weird":    domain.SeverityUnknown,
	}
	for raw, want := range cases {
		assert.Equal(t, want, normalizeSeverity(raw), "raw=%q", raw)
	}
}
