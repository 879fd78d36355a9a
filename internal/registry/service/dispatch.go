package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clawcierge/clawcierge/internal/pipeline"
	"github.com/clawcierge/clawcierge/internal/registry/model"
	"github.com/clawcierge/clawcierge/pkg/wire"
)

// connSender is the channel surface dispatch needs.
// *connection.Registry satisfies this interface.
type connSender interface {
	IsConnected(agentID uuid.UUID) bool
	Send(agentID uuid.UUID, v any) bool
}

// agentResolver looks up the dispatch target.
type agentResolver interface {
	GetByHandle(ctx context.Context, handle string) (*model.Agent, error)
}

// Dispatcher orchestrates the submit path: resolve the target, run the
// enforcement pipeline, persist the request, and push it down the agent's
// channel. Everything the pipeline needs is loaded before it runs; the
// pipeline itself never touches storage.
type Dispatcher struct {
	agents    agentResolver
	contracts *ContractService
	exec      *pipeline.Executor
	tracker   *Tracker
	conns     connSender
	expiry    time.Duration
	logger    *zap.Logger
}

// NewDispatcher creates a new Dispatcher. expiry bounds how long a request
// may sit non-terminal before the sweeper times it out.
func NewDispatcher(agents agentResolver, contracts *ContractService, exec *pipeline.Executor, tracker *Tracker, conns connSender, expiry time.Duration, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		agents:    agents,
		contracts: contracts,
		exec:      exec,
		tracker:   tracker,
		conns:     conns,
		expiry:    expiry,
		logger:    logger,
	}
}

// Submit runs one submission end to end. A pipeline rejection returns
// *PipelineRejectionError and a disconnected target *AgentNotConnectedError,
// both without creating a request row; a send failure after the row exists
// times the request out instead.
func (d *Dispatcher) Submit(ctx context.Context, senderID string, handle string, body *model.SubmitRequestBody) (*model.RequestResponse, error) {
	agent, err := d.agents.GetByHandle(ctx, handle)
	if err != nil {
		return nil, err
	}

	caps, err := d.contracts.ActiveCapabilities(ctx, agent.ID)
	if err != nil {
		return nil, err
	}
	rules, err := d.contracts.ActiveRules(ctx, agent.ID)
	if err != nil {
		return nil, err
	}

	pctx := &pipeline.Context{
		RequestID:    uuid.New(),
		SenderID:     senderID,
		AgentID:      agent.ID,
		Handle:       handle,
		Action:       body.Action,
		Params:       body.Params,
		Capabilities: caps,
		PolicyRules:  rules,
	}
	d.exec.Execute(ctx, pctx)

	if pctx.Rejected {
		return nil, &PipelineRejectionError{Stage: pctx.RejectionStage, Reason: pctx.RejectionReason}
	}

	// Connectivity is checked before the row exists so an offline target
	// leaves no pending request behind.
	if !d.conns.IsConnected(agent.ID) {
		return nil, &AgentNotConnectedError{AgentID: agent.ID}
	}

	req := d.newRequest(pctx, agent, model.RequestStatusPending)
	if err := d.tracker.Create(ctx, req); err != nil {
		return nil, err
	}

	frame := wire.NewRequestReceived(req.ID, body.Action, body.Params, senderID)
	if !d.conns.Send(agent.ID, frame) {
		// The channel died between the connectivity check and the send.
		if err := d.tracker.Transition(ctx, req.ID, model.RequestStatusTimeout, nil); err != nil {
			d.logger.Error("time out undeliverable request",
				zap.String("request_id", req.ID.String()), zap.Error(err))
		}
		return nil, &AgentNotConnectedError{AgentID: agent.ID}
	}

	if err := d.tracker.Transition(ctx, req.ID, model.RequestStatusDispatched, nil); err != nil {
		return nil, err
	}

	d.logger.Info("request dispatched",
		zap.String("request_id", req.ID.String()),
		zap.String("agent_id", agent.ID.String()),
		zap.String("action", body.Action),
	)
	return &model.RequestResponse{
		ID:         req.ID,
		Status:     model.RequestStatusDispatched,
		ActionType: body.Action,
	}, nil
}

// Poll returns the sender's view of a request. Senders only ever see their
// own submissions; polling someone else's request returns ErrNotAuthorized.
func (d *Dispatcher) Poll(ctx context.Context, senderID string, id uuid.UUID) (*model.RequestResponse, error) {
	req, err := d.tracker.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.SenderID != senderID {
		return nil, ErrNotAuthorized
	}
	return &model.RequestResponse{
		ID:         req.ID,
		Status:     req.Status,
		ActionType: req.ActionType,
		Result:     req.Result,
		CreatedAt:  &req.CreatedAt,
		UpdatedAt:  &req.UpdatedAt,
	}, nil
}

// newRequest builds the row for a pipeline-approved submission, carrying
// the pipeline log for audit.
func (d *Dispatcher) newRequest(pctx *pipeline.Context, agent *model.Agent, status model.RequestStatus) *model.Request {
	return &model.Request{
		ID:          pctx.RequestID,
		AgentID:     agent.ID,
		SenderID:    pctx.SenderID,
		Handle:      pctx.Handle,
		ActionType:  pctx.Action,
		Payload:     pctx.Params,
		Status:      status,
		PipelineLog: pctx.Log,
		ExpiresAt:   time.Now().UTC().Add(d.expiry),
	}
}
