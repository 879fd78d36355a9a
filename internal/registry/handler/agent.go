package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clawcierge/clawcierge/internal/registry/model"
	"github.com/clawcierge/clawcierge/internal/registry/repository"
	"github.com/clawcierge/clawcierge/internal/registry/service"
)

// AgentHandler exposes agent registration and lookup.
type AgentHandler struct {
	agents *service.AgentService
	logger *zap.Logger
}

// NewAgentHandler creates an AgentHandler.
func NewAgentHandler(agents *service.AgentService, logger *zap.Logger) *AgentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AgentHandler{agents: agents, logger: logger}
}

// Register mounts the agent routes on the provided router group.
func (h *AgentHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/agents", h.Create)
	rg.GET("/agents/:agent", h.Get)
}

// Create handles POST /v1/agents — registers an agent, reserves its handle,
// and returns the one-time plaintext API key.
func (h *AgentHandler) Create(c *gin.Context) {
	var req model.CreateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}

	resp, err := h.agents.Register(c.Request.Context(), &req, uuid.Nil)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidHandle):
			detail(c, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, repository.ErrHandleTaken):
			c.JSON(http.StatusConflict, gin.H{
				"detail": fmt.Sprintf("Handle '%s' is already taken", req.Handle),
				"handle": req.Handle,
			})
		default:
			h.logger.Error("register agent", zap.Error(err))
			detail(c, http.StatusInternalServerError, "Internal server error")
		}
		return
	}
	RecordAgentRegistered()
	c.JSON(http.StatusCreated, resp)
}

// Get handles GET /v1/agents/{id-or-handle}.
func (h *AgentHandler) Get(c *gin.Context) {
	agent, err := h.agents.Resolve(c.Request.Context(), c.Param("agent"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			detail(c, http.StatusNotFound, "Agent not found")
			return
		}
		h.logger.Error("resolve agent", zap.Error(err))
		detail(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	c.JSON(http.StatusOK, model.AgentResponse{
		ID:          agent.ID,
		OwnerID:     agent.OwnerID,
		DisplayName: agent.DisplayName,
		Handle:      agent.Handle,
		Status:      agent.Status,
		CreatedAt:   agent.CreatedAt,
		UpdatedAt:   agent.UpdatedAt,
	})
}
