package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clawcierge/clawcierge/internal/registry/model"
)

// requestRepo is the persistence interface for the request tracker.
// *repository.RequestRepository satisfies this interface.
type requestRepo interface {
	Create(ctx context.Context, req *model.Request) error
	Get(ctx context.Context, id uuid.UUID) (*model.Request, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.RequestStatus, result map[string]any) error
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

// Tracker guards the request lifecycle state machine. All status movement
// goes through Transition, which enforces the DAG: forward along
// pending → dispatched → acked → completed (acked may be skipped), any
// non-terminal state into rejected or timeout, and nothing out of a terminal
// state. Invalid moves are logged and dropped, never surfaced as errors —
// a late or duplicate report from an agent is expected traffic, not a fault.
type Tracker struct {
	repo   requestRepo
	logger *zap.Logger
}

// NewTracker creates a new Tracker.
func NewTracker(repo requestRepo, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{repo: repo, logger: logger}
}

// Create persists a new request row in its initial status.
func (t *Tracker) Create(ctx context.Context, req *model.Request) error {
	return t.repo.Create(ctx, req)
}

// Get retrieves a request by ID.
func (t *Tracker) Get(ctx context.Context, id uuid.UUID) (*model.Request, error) {
	return t.repo.Get(ctx, id)
}

// Transition moves the request to a new status, attaching result when the
// caller supplies one. Terminal rows and backward moves are no-ops.
func (t *Tracker) Transition(ctx context.Context, id uuid.UUID, to model.RequestStatus, result map[string]any) error {
	req, err := t.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !model.ValidTransition(req.Status, to) {
		t.logger.Warn("invalid status transition dropped",
			zap.String("request_id", id.String()),
			zap.String("from", string(req.Status)),
			zap.String("to", string(to)),
		)
		return nil
	}
	return t.repo.UpdateStatus(ctx, id, to, result)
}

// ExpireStale times out every non-terminal request past its deadline.
// Returns the number of requests flipped.
func (t *Tracker) ExpireStale(ctx context.Context) (int64, error) {
	n, err := t.repo.ExpireStale(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		t.logger.Info("expired stale requests", zap.Int64("count", n))
	}
	return n, nil
}
