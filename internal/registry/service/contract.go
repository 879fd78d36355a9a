package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clawcierge/clawcierge/internal/pipeline"
	"github.com/clawcierge/clawcierge/internal/registry/model"
)

// contractReader exposes the read side of contract storage.
type contractReader interface {
	GetActive(ctx context.Context, agentID uuid.UUID) (*model.CapabilityContract, error)
}

// contractRepo is the persistence interface for capability contracts.
// *repository.ContractRepository satisfies this interface.
type contractRepo interface {
	contractReader
	Rotate(ctx context.Context, agentID uuid.UUID, caps []model.Capability, constraints map[string]any) (*model.CapabilityContract, error)
}

// policyRepo is the persistence interface for policies.
// *repository.PolicyRepository satisfies this interface.
type policyRepo interface {
	Rotate(ctx context.Context, agentID uuid.UUID, rules []model.PolicyRule) (*model.Policy, error)
	GetActive(ctx context.Context, agentID uuid.UUID) (*model.Policy, error)
}

// ContractService manages versioned capability contracts and policies.
// Uploads are validated eagerly: a contract with an uncompilable params
// schema, or a policy with an uncompilable condition, is refused outright
// rather than deferred to dispatch time.
type ContractService struct {
	contracts contractRepo
	policies  policyRepo
	logger    *zap.Logger
}

// NewContractService creates a new ContractService.
func NewContractService(contracts contractRepo, policies policyRepo, logger *zap.Logger) *ContractService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContractService{contracts: contracts, policies: policies, logger: logger}
}

// UploadCapabilities replaces the agent's active contract with a new version.
func (s *ContractService) UploadCapabilities(ctx context.Context, agentID uuid.UUID, caps []model.Capability) (*model.CapabilityContract, error) {
	if len(caps) == 0 {
		return nil, &BadInputError{Msg: "capabilities must not be empty"}
	}
	for i, c := range caps {
		if c.Action == "" {
			return nil, &BadInputError{Msg: fmt.Sprintf("capability %d: action must not be empty", i)}
		}
		if len(c.ParamsSchema) > 0 {
			if _, err := pipeline.CompileParamsSchema(c.ParamsSchema); err != nil {
				return nil, &BadInputError{Msg: fmt.Sprintf("capability '%s': invalid params_schema: %v", c.Action, err)}
			}
		}
	}

	contract, err := s.contracts.Rotate(ctx, agentID, caps, nil)
	if err != nil {
		return nil, err
	}
	s.logger.Info("capability contract uploaded",
		zap.String("agent_id", agentID.String()),
		zap.Int("version", contract.Version),
		zap.Int("capabilities", len(caps)),
	)
	return contract, nil
}

// UploadPolicies replaces the agent's active policy with a new version.
func (s *ContractService) UploadPolicies(ctx context.Context, agentID uuid.UUID, rules []model.PolicyRule) (*model.Policy, error) {
	if len(rules) == 0 {
		return nil, &BadInputError{Msg: "rules must not be empty"}
	}
	for i, r := range rules {
		if r.Action != "reject" && r.Action != "allow" {
			return nil, &BadInputError{Msg: fmt.Sprintf("rule %d: action must be 'reject' or 'allow'", i)}
		}
		if err := pipeline.CheckRuleExpression(r.Condition); err != nil {
			return nil, &BadInputError{Msg: fmt.Sprintf("rule %d: invalid condition: %v", i, err)}
		}
	}

	policy, err := s.policies.Rotate(ctx, agentID, rules)
	if err != nil {
		return nil, err
	}
	s.logger.Info("policy uploaded",
		zap.String("agent_id", agentID.String()),
		zap.Int("version", policy.Version),
		zap.Int("rules", len(rules)),
	)
	return policy, nil
}

// ActiveCapabilities returns the capabilities of the agent's active contract,
// or nil when no contract has been uploaded.
func (s *ContractService) ActiveCapabilities(ctx context.Context, agentID uuid.UUID) ([]model.Capability, error) {
	contract, err := s.contracts.GetActive(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if contract == nil {
		return nil, nil
	}
	return contract.Capabilities, nil
}

// ActiveRules returns the rules of the agent's active policy, or nil when no
// policy has been uploaded.
func (s *ContractService) ActiveRules(ctx context.Context, agentID uuid.UUID) ([]model.PolicyRule, error) {
	policy, err := s.policies.GetActive(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if policy == nil {
		return nil, nil
	}
	return policy.Rules, nil
}
