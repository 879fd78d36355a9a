package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clawcierge/clawcierge/internal/registry/model"
	"github.com/clawcierge/clawcierge/internal/registry/service"
)

// ContractHandler exposes capability contract and policy uploads. Both
// routes require the caller's key to be the agent's own.
type ContractHandler struct {
	contracts *service.ContractService
	logger    *zap.Logger
}

// NewContractHandler creates a ContractHandler.
func NewContractHandler(contracts *service.ContractService, logger *zap.Logger) *ContractHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContractHandler{contracts: contracts, logger: logger}
}

// Register mounts the contract routes on the provided router group. The
// group must already carry BearerAuth.
func (h *ContractHandler) Register(rg *gin.RouterGroup) {
	rg.PUT("/agents/:agent/capabilities", h.UploadCapabilities)
	rg.PUT("/agents/:agent/policies", h.UploadPolicies)
}

// ownAgentID extracts the path agent id and checks the authenticated key
// owns it. Writes the error response itself and returns false on failure.
func ownAgentID(c *gin.Context) (uuid.UUID, bool) {
	agentID, err := uuid.Parse(c.Param("agent"))
	if err != nil {
		detail(c, http.StatusNotFound, "Agent not found")
		return uuid.Nil, false
	}
	auth := AuthFromCtx(c)
	if auth == nil || auth.OwnerType != model.OwnerTypeAgent || auth.OwnerID != agentID {
		detail(c, http.StatusForbidden, "Not authorized for this agent")
		return uuid.Nil, false
	}
	return agentID, true
}

// UploadCapabilities handles PUT /v1/agents/{id}/capabilities.
func (h *ContractHandler) UploadCapabilities(c *gin.Context) {
	agentID, ok := ownAgentID(c)
	if !ok {
		return
	}
	var req model.UploadCapabilitiesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}

	contract, err := h.contracts.UploadCapabilities(c.Request.Context(), agentID, req.Capabilities)
	if err != nil {
		var bad *service.BadInputError
		if errors.As(err, &bad) {
			detail(c, http.StatusUnprocessableEntity, bad.Msg)
			return
		}
		h.logger.Error("upload capabilities", zap.Error(err))
		detail(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	c.JSON(http.StatusOK, model.ContractResponse{
		ID:           contract.ID.String(),
		AgentID:      contract.AgentID.String(),
		Version:      contract.Version,
		Capabilities: contract.Capabilities,
		Constraints:  contract.Constraints,
		IsActive:     contract.IsActive,
	})
}

// UploadPolicies handles PUT /v1/agents/{id}/policies.
func (h *ContractHandler) UploadPolicies(c *gin.Context) {
	agentID, ok := ownAgentID(c)
	if !ok {
		return
	}
	var req model.UploadPoliciesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}

	policy, err := h.contracts.UploadPolicies(c.Request.Context(), agentID, req.Rules)
	if err != nil {
		var bad *service.BadInputError
		if errors.As(err, &bad) {
			detail(c, http.StatusUnprocessableEntity, bad.Msg)
			return
		}
		h.logger.Error("upload policies", zap.Error(err))
		detail(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	c.JSON(http.StatusOK, model.PolicyResponse{
		ID:       policy.ID.String(),
		AgentID:  policy.AgentID.String(),
		Version:  policy.Version,
		Rules:    policy.Rules,
		IsActive: policy.IsActive,
	})
}
