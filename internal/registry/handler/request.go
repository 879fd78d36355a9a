package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clawcierge/clawcierge/internal/registry/model"
	"github.com/clawcierge/clawcierge/internal/registry/repository"
	"github.com/clawcierge/clawcierge/internal/registry/service"
)

// RequestHandler exposes the submit and poll surface.
type RequestHandler struct {
	dispatch *service.Dispatcher
	logger   *zap.Logger
}

// NewRequestHandler creates a RequestHandler.
func NewRequestHandler(dispatch *service.Dispatcher, logger *zap.Logger) *RequestHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestHandler{dispatch: dispatch, logger: logger}
}

// Register mounts the request routes on the provided router group. The
// group must already carry BearerAuth.
func (h *RequestHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/agents/:agent/requests", h.Submit)
	rg.GET("/requests/:id", h.Poll)
}

// Submit handles POST /v1/agents/{handle}/requests — the dispatch path.
// Any valid key may submit; the caller's owner id is the sender identity.
func (h *RequestHandler) Submit(c *gin.Context) {
	auth := AuthFromCtx(c)
	if auth == nil {
		detail(c, http.StatusUnauthorized, "Missing Authorization header")
		return
	}

	var body model.SubmitRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		detail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}

	resp, err := h.dispatch.Submit(c.Request.Context(), auth.OwnerID.String(), c.Param("agent"), &body)
	if err != nil {
		var rej *service.PipelineRejectionError
		var nc *service.AgentNotConnectedError
		switch {
		case errors.Is(err, repository.ErrNotFound):
			detail(c, http.StatusNotFound, "Agent not found")
		case errors.As(err, &rej):
			RecordPipelineRejection(rej.Stage)
			detail(c, http.StatusUnprocessableEntity, gin.H{
				"message": rej.Reason,
				"stage":   rej.Stage,
			})
		case errors.As(err, &nc):
			detail(c, http.StatusServiceUnavailable, "Agent is not connected")
		default:
			h.logger.Error("submit request", zap.Error(err))
			detail(c, http.StatusInternalServerError, "Internal server error")
		}
		return
	}
	RecordRequestDispatched(body.Action)
	c.JSON(http.StatusAccepted, resp)
}

// Poll handles GET /v1/requests/{id}. Only the submitting sender can read a
// request.
func (h *RequestHandler) Poll(c *gin.Context) {
	auth := AuthFromCtx(c)
	if auth == nil {
		detail(c, http.StatusUnauthorized, "Missing Authorization header")
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		detail(c, http.StatusNotFound, "Request not found")
		return
	}

	resp, err := h.dispatch.Poll(c.Request.Context(), auth.OwnerID.String(), id)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			detail(c, http.StatusNotFound, "Request not found")
		case errors.Is(err, service.ErrNotAuthorized):
			detail(c, http.StatusForbidden, "Not authorized for this request")
		default:
			h.logger.Error("poll request", zap.Error(err))
			detail(c, http.StatusInternalServerError, "Internal server error")
		}
		return
	}
	c.JSON(http.StatusOK, resp)
}
