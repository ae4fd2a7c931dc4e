package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/console/service"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/domain"
)

type AgentHandler struct {
	service *service.AgentService
}

func NewAgentHandler(s *service.AgentService) *AgentHandler {
	return &AgentHandler{service: s}
}

type agentRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Maturity string `json:"maturity"`
}

// List возвращает всех зарегистрированных агентов.
// GET /v1/agents
func (h *AgentHandler) List(w http.ResponseWriter, r *http.Request) {
	agents, err := h.service.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

// Get — детали одного агента.
// GET /v1/agents/{id}
func (h *AgentHandler) Get(w http.ResponseWriter, r *http.Request) {
	agent, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if agent == nil {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// Register создает или обновляет агента. Требует admin-права.
// POST /v1/agents
func (h *AgentHandler) Register(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}

	var req agentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeError(w, http.StatusBadRequest, "agent id is required")
		return
	}

	agent, err := h.service.Register(r.Context(), req.ID, req.Name, domain.MaturityLevel(req.Maturity))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

// SetMaturity меняет уровень зрелости. Требует admin-права.
// POST /v1/agents/{id}/maturity
func (h *AgentHandler) SetMaturity(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}

	var req agentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Maturity == "" {
		writeError(w, http.StatusBadRequest, "maturity is required")
		return
	}

	if err := h.service.SetMaturity(r.Context(), chi.URLParam(r, "id"), domain.MaturityLevel(req.Maturity)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
