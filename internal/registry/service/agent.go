package service

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clawcierge/clawcierge/internal/registry/model"
)

// ScopeAgentManage is granted to the key minted at agent registration.
const ScopeAgentManage = "agent:manage"

// agentRepo is the persistence interface for the agent service.
// *repository.AgentRepository satisfies this interface.
type agentRepo interface {
	Register(ctx context.Context, agent *model.Agent, handle string, key *model.APIKey) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Agent, error)
	GetByHandle(ctx context.Context, handle string) (*model.Agent, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.AgentStatus) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// connEvictor closes an agent's live channel when its identity goes away.
// *connection.Registry satisfies this interface.
type connEvictor interface {
	Evict(agentID uuid.UUID, reason string) bool
}

// AgentService contains business logic for agent identity lifecycle.
type AgentService struct {
	repo      agentRepo
	keys      *KeyService
	contracts contractReader
	conns     connEvictor
	logger    *zap.Logger
}

// NewAgentService creates a new AgentService. conns may be nil in contexts
// with no live channels (CLI tools).
func NewAgentService(repo agentRepo, keys *KeyService, contracts contractReader, conns connEvictor, logger *zap.Logger) *AgentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AgentService{repo: repo, keys: keys, contracts: contracts, conns: conns, logger: logger}
}

// Register creates an agent, reserves its handle, and mints its API key in
// one transaction. The plaintext key in the response is shown exactly once.
func (s *AgentService) Register(ctx context.Context, req *model.CreateAgentRequest, ownerID uuid.UUID) (*model.CreateAgentResponse, error) {
	if !model.ValidHandle(req.Handle) {
		return nil, ErrInvalidHandle
	}

	agent := &model.Agent{
		ID:          uuid.New(),
		OwnerID:     ownerID,
		DisplayName: req.DisplayName,
	}
	plaintext, key, err := s.keys.NewKey(model.OwnerTypeAgent, agent.ID, []string{ScopeAgentManage})
	if err != nil {
		return nil, err
	}

	if err := s.repo.Register(ctx, agent, req.Handle, key); err != nil {
		return nil, err
	}

	s.logger.Info("agent registered",
		zap.String("agent_id", agent.ID.String()),
		zap.String("handle", req.Handle),
	)
	return &model.CreateAgentResponse{
		ID:          agent.ID,
		Handle:      req.Handle,
		APIKey:      plaintext,
		DisplayName: agent.DisplayName,
		Status:      agent.Status,
	}, nil
}

// Resolve looks an agent up by UUID or by handle. A ref that parses as a
// UUID is treated as an ID; anything else is a handle.
func (s *AgentService) Resolve(ctx context.Context, ref string) (*model.Agent, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return s.repo.GetByID(ctx, id)
	}
	return s.repo.GetByHandle(ctx, ref)
}

// Directory returns the public directory entry for a handle: identity plus
// the capabilities of the active contract.
func (s *AgentService) Directory(ctx context.Context, handle string) (*model.ResolveResponse, error) {
	agent, err := s.repo.GetByHandle(ctx, handle)
	if err != nil {
		return nil, err
	}

	var caps []model.Capability
	if contract, err := s.contracts.GetActive(ctx, agent.ID); err != nil {
		return nil, err
	} else if contract != nil {
		caps = contract.Capabilities
	}
	if caps == nil {
		caps = []model.Capability{}
	}

	return &model.ResolveResponse{
		AgentID:      agent.ID,
		DisplayName:  agent.DisplayName,
		Handle:       agent.Handle,
		Status:       agent.Status,
		Capabilities: caps,
	}, nil
}

// SetStatus flips the agent's connection lifecycle state. Called by the
// channel handler on session open and close.
func (s *AgentService) SetStatus(ctx context.Context, id uuid.UUID, status model.AgentStatus) error {
	return s.repo.UpdateStatus(ctx, id, status)
}

// Delete removes the agent and everything hanging off it, and closes its
// live channel if one exists.
func (s *AgentService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if s.conns != nil {
		s.conns.Evict(id, "Agent deleted")
	}
	s.logger.Info("agent deleted", zap.String("agent_id", id.String()))
	return nil
}
