package engine

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/domain"
	"go.uber.org/zap"
)

func writeErrorResponse(t *testing.T, err error) (int, map[string]interface{}) {
	t.Helper()
	c := &SentinelCore{logger: zap.NewNop()}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/workloads/wl-1/execute", nil)

	c.writeError(rec, req, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestWriteError_PermissionDenied(t *testing.T) {
	code, body := writeErrorResponse(t, &domain.PermissionDeniedError{
		Package: "evil-lib", Version: "1.0.0", Reason: "known malware",
	})

	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "permission_denied", body["error"])
	assert.Equal(t, "known malware", body["reason"])
}

func TestWriteError_ExecutionError(t *testing.T) {
	code, body := writeErrorResponse(t, &domain.ExecutionError{
		ExitCode: 2, Stderr: "Traceback (most recent call last):\n",
	})

	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "execution_error", body["error"])
	assert.Equal(t, float64(2), body["exit_code"])
	assert.Contains(t, body["stderr"], "Traceback")
}

func TestWriteError_ExecutionTimeout(t *testing.T) {
	code, body := writeErrorResponse(t, &domain.ExecutionTimeoutError{Timeout: 5 * time.Second})

	assert.Equal(t, http.StatusGatewayTimeout, code)
	assert.Equal(t, "execution_timeout", body["error"])
	assert.Equal(t, "5s", body["timeout"])
}

func TestWriteError_BuildFailure(t *testing.T) {
	code, body := writeErrorResponse(t, &domain.BuildFailureError{
		Tool: "docker build", Output: "no matching distribution found",
	})

	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, "build_failure", body["error"])
	assert.Equal(t, "no matching distribution found", body["output"])
}

func TestWriteError_ScanUnavailable(t *testing.T) {
	code, body := writeErrorResponse(t, domain.ErrScannerFailed)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "scan_unavailable", body["error"])

	code, body = writeErrorResponse(t, domain.ErrScannerDegraded)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "scan_unavailable", body["error"])
}

func TestWriteError_EnvironmentNotFound(t *testing.T) {
	code, body := writeErrorResponse(t, domain.ErrEnvironmentNotFound)

	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "environment_not_found", body["error"])
}

func TestWriteError_UnknownErrorIsOpaque(t *testing.T) {
	code, body := writeErrorResponse(t, errors.New("pq: connection reset"))

	assert.Equal(t, http.StatusInternalServerError, code)
	// Внутренности инфраструктуры наружу не утекают
	assert.Equal(t, "internal error", body["error"])
	assert.NotContains(t, body, "pq")
}
