package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/clawcierge/clawcierge/internal/registry/repository"
	"github.com/clawcierge/clawcierge/internal/registry/service"
)

// DirectoryHandler exposes the public handle directory.
type DirectoryHandler struct {
	agents *service.AgentService
	logger *zap.Logger
}

// NewDirectoryHandler creates a DirectoryHandler.
func NewDirectoryHandler(agents *service.AgentService, logger *zap.Logger) *DirectoryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirectoryHandler{agents: agents, logger: logger}
}

// Register mounts the directory routes on the provided router group.
func (h *DirectoryHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/directory/:handle", h.Resolve)
}

// Resolve handles GET /v1/directory/{handle} — the public view of an agent:
// identity plus the capabilities of its active contract.
func (h *DirectoryHandler) Resolve(c *gin.Context) {
	entry, err := h.agents.Directory(c.Request.Context(), c.Param("handle"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			detail(c, http.StatusNotFound, "Agent not found")
			return
		}
		h.logger.Error("resolve directory entry", zap.Error(err))
		detail(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	c.JSON(http.StatusOK, entry)
}
