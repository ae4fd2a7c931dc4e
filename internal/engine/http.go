package engine

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/xela07ax/spaceai-pkg-sentinel/internal/domain"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/infra"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/infra/auth"
	"go.uber.org/zap"
)

type checkRequest struct {
	PackageName string `json:"package_name"`
	Version     string `json:"version"`
}

type installRequest struct {
	Packages []string `json:"packages"`
}

type executeRequest struct {
	Code   string            `json:"code"`
	Inputs map[string]string `json:"inputs,omitempty"`
}

// Routes собирает HTTP-поверхность Data Plane. Health живет до аутентификации
// (его дергает оркестратор), все /v1/* — только с агентским токеном.
func (c *SentinelCore) Routes(authMW func(http.Handler) http.Handler) http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /v1/permissions/check", c.handleCheckPermission)
	api.HandleFunc("POST /v1/workloads/{id}/install", c.handleInstall)
	api.HandleFunc("POST /v1/workloads/{id}/execute", c.handleExecute)
	api.HandleFunc("DELETE /v1/workloads/{id}", c.handleCleanup)
	api.HandleFunc("GET /v1/workloads/{id}", c.handleStatus)

	root := http.NewServeMux()
	root.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		c.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	root.Handle("/v1/", authMW(c.instrument(api)))

	return infra.TracingMiddleware(root)
}

func (c *SentinelCore) handleCheckPermission(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PackageName == "" {
		c.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "package_name is required"})
		return
	}

	agentID := auth.AgentID(r.Context())
	if agentID == "" {
		c.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "agent token required"})
		return
	}

	// Отказ — штатный результат с 200: агенту важно знать ПРИЧИНУ,
	// а не получить голый 403
	decision, err := c.CheckPermission(r.Context(), agentID, req.PackageName, req.Version)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	c.writeJSON(w, http.StatusOK, decision)
}

func (c *SentinelCore) handleInstall(w http.ResponseWriter, r *http.Request) {
	workloadID := r.PathValue("id")

	var req installRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Packages) == 0 {
		c.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "packages list is required"})
		return
	}

	result, err := c.Install(r.Context(), auth.AgentID(r.Context()), workloadID, req.Packages)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	c.writeJSON(w, http.StatusOK, result)
}

func (c *SentinelCore) handleExecute(w http.ResponseWriter, r *http.Request) {
	workloadID := r.PathValue("id")

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		c.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "code is required"})
		return
	}

	result, err := c.Execute(r.Context(), auth.AgentID(r.Context()), workloadID, []byte(req.Code), req.Inputs)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	if result.ExitCode != 0 {
		// Рантайм отработал штатно, упал сам код воркло́ада — наружу это
		// отдельный вид ошибки, а не успешный ответ с ненулевым кодом
		c.writeError(w, r, &domain.ExecutionError{ExitCode: result.ExitCode, Stderr: result.Stderr})
		return
	}
	c.writeJSON(w, http.StatusOK, result)
}

func (c *SentinelCore) handleCleanup(w http.ResponseWriter, r *http.Request) {
	workloadID := r.PathValue("id")

	if err := c.Cleanup(r.Context(), auth.AgentID(r.Context()), workloadID); err != nil {
		c.writeError(w, r, err)
		return
	}
	c.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (c *SentinelCore) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := c.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	c.writeJSON(w, http.StatusOK, status)
}

// writeError переводит доменную ошибку в HTTP-статус. Текст инструментов
// (сборка, исполнение) отдаем как есть: это диагностика для оператора.
func (c *SentinelCore) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		permErr    *domain.PermissionDeniedError
		vulnErr    *domain.VulnerabilityBlockedError
		confErr    *domain.ConflictDetectedError
		buildErr   *domain.BuildFailureError
		timeoutErr *domain.ExecutionTimeoutError
		execErr    *domain.ExecutionError
	)

	switch {
	case errors.As(err, &permErr):
		c.writeJSON(w, http.StatusForbidden, map[string]string{
			"error":   "permission_denied",
			"package": permErr.Package,
			"version": permErr.Version,
			"reason":  permErr.Reason,
		})
	case errors.As(err, &vulnErr):
		c.writeJSON(w, http.StatusForbidden, map[string]interface{}{
			"error":  "vulnerability_blocked",
			"report": vulnErr.Report,
		})
	case errors.As(err, &confErr):
		c.writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":  "conflict_detected",
			"report": confErr.Report,
		})
	case errors.Is(err, domain.ErrScannerFailed), errors.Is(err, domain.ErrScannerDegraded):
		c.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error":  "scan_unavailable",
			"reason": err.Error(),
		})
	case errors.As(err, &buildErr):
		c.writeJSON(w, http.StatusBadGateway, map[string]string{
			"error":  "build_failure",
			"tool":   buildErr.Tool,
			"output": buildErr.Output,
		})
	case errors.Is(err, domain.ErrBuildTimeout):
		c.writeJSON(w, http.StatusGatewayTimeout, map[string]string{"error": "build_timeout"})
	case errors.As(err, &timeoutErr):
		c.writeJSON(w, http.StatusGatewayTimeout, map[string]string{
			"error":   "execution_timeout",
			"timeout": timeoutErr.Timeout.String(),
		})
	case errors.As(err, &execErr):
		c.writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":     "execution_error",
			"exit_code": execErr.ExitCode,
			"stderr":    execErr.Stderr,
		})
	case errors.Is(err, domain.ErrEnvironmentNotFound):
		c.writeJSON(w, http.StatusNotFound, map[string]string{
			"error":  "environment_not_found",
			"reason": "install an environment before executing",
		})
	default:
		c.logger.Error("request failed", zap.Error(err))
		c.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func (c *SentinelCore) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		c.logger.Error("response encoding failed", zap.Error(err))
	}
}

// instrument снимает латентность и статус каждого запроса API.
func (c *SentinelCore) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		op := r.Method + " " + r.URL.Path
		if p := r.Pattern; p != "" {
			op = p // Паттерн роутера вместо сырого пути: кардинальность меток под контролем
		}
		c.metrics.RequestDuration.
			WithLabelValues(op, strconv.Itoa(rec.status)).
			Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
