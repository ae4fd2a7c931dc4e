package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xela07ax/spaceai-pkg-sentinel/internal/console/service"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/domain"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/infra/auth"
)

type PackageHandler struct {
	service *service.RegistryService
}

func NewPackageHandler(s *service.RegistryService) *PackageHandler {
	return &PackageHandler{service: s}
}

type packageRequest struct {
	PackageName string `json:"package_name"`
	Version     string `json:"version"`
	MinMaturity string `json:"min_maturity,omitempty"` // только для approve
	Reason      string `json:"reason,omitempty"`       // только для ban
	RequestedBy string `json:"requested_by,omitempty"` // только для request
}

// List возвращает реестр пакетов.
// GET /v1/packages?status=pending
func (h *PackageHandler) List(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.List(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// Request создает pending-заявку на пакет.
// POST /v1/packages
func (h *PackageHandler) Request(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePackageRequest(w, r)
	if !ok {
		return
	}

	requestedBy := req.RequestedBy
	if requestedBy == "" {
		requestedBy = auth.UserID(r.Context())
	}

	record, err := h.service.Request(r.Context(), req.PackageName, req.Version, requestedBy)
	if err != nil {
		if errors.Is(err, domain.ErrPackageBanned) {
			writeError(w, http.StatusConflict, "package is banned; lift the ban first")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

// Approve переводит пакет в active. Требует admin-права.
// POST /v1/packages/approve
func (h *PackageHandler) Approve(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	req, ok := decodePackageRequest(w, r)
	if !ok {
		return
	}

	record, err := h.service.Approve(r.Context(),
		req.PackageName, req.Version, domain.MaturityLevel(req.MinMaturity), auth.UserID(r.Context()))
	if err != nil {
		if errors.Is(err, domain.ErrPackageBanned) {
			writeError(w, http.StatusConflict, "package is banned; lift the ban first")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// Ban запрещает пакет с обязательной причиной. Требует admin-права.
// POST /v1/packages/ban
func (h *PackageHandler) Ban(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	req, ok := decodePackageRequest(w, r)
	if !ok {
		return
	}

	record, err := h.service.Ban(r.Context(),
		req.PackageName, req.Version, req.Reason, auth.UserID(r.Context()))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// LiftBan снимает запрет (пакет возвращается в pending). Требует admin-права.
// POST /v1/packages/lift-ban
func (h *PackageHandler) LiftBan(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	req, ok := decodePackageRequest(w, r)
	if !ok {
		return
	}

	record, err := h.service.LiftBan(r.Context(),
		req.PackageName, req.Version, auth.UserID(r.Context()))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func decodePackageRequest(w http.ResponseWriter, r *http.Request) (packageRequest, bool) {
	var req packageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PackageName == "" || req.Version == "" {
		writeError(w, http.StatusBadRequest, "package_name and version are required")
		return packageRequest{}, false
	}
	return req, true
}

func requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if !auth.HasScope(r.Context(), "admin") {
		writeError(w, http.StatusForbidden, "admin scope required")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
