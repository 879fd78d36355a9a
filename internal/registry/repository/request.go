package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clawcierge/clawcierge/internal/registry/model"
)

// RequestRepository persists submitted requests and their lifecycle state.
type RequestRepository struct {
	db *pgxpool.Pool
}

// NewRequestRepository creates a new RequestRepository.
func NewRequestRepository(db *pgxpool.Pool) *RequestRepository {
	return &RequestRepository{db: db}
}

// Create inserts a new request row.
func (r *RequestRepository) Create(ctx context.Context, req *model.Request) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now

	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	log, err := json.Marshal(req.PipelineLog)
	if err != nil {
		return fmt.Errorf("marshal pipeline log: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO requests (id, agent_id, sender_id, handle, action_type,
		                      payload, status, result, pipeline_log,
		                      created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULL, $8, $9, $10, $11)`,
		req.ID, req.AgentID, req.SenderID, req.Handle, req.ActionType,
		payload, req.Status, log, req.CreatedAt, req.UpdatedAt, req.ExpiresAt,
	)
	return err
}

// Get retrieves a request by ID.
func (r *RequestRepository) Get(ctx context.Context, id uuid.UUID) (*model.Request, error) {
	query := `
		SELECT id, agent_id, sender_id, handle, action_type, payload,
		       status, result, pipeline_log, created_at, updated_at, expires_at
		FROM requests
		WHERE id = $1`

	rows, err := r.db.Query(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}

	var req model.Request
	var payload, result, log []byte
	err = rows.Scan(
		&req.ID, &req.AgentID, &req.SenderID, &req.Handle, &req.ActionType,
		&payload, &req.Status, &result, &log,
		&req.CreatedAt, &req.UpdatedAt, &req.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &req.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	if len(log) > 0 {
		if err := json.Unmarshal(log, &req.PipelineLog); err != nil {
			return nil, fmt.Errorf("unmarshal pipeline log: %w", err)
		}
	}
	return &req, nil
}

// UpdateStatus moves a request to a new status, optionally attaching a
// result document. Terminal rows are guarded in the WHERE clause, so a late
// status report against a completed, rejected or timed-out request is a
// silent no-op rather than an error.
func (r *RequestRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.RequestStatus, result map[string]any) error {
	var resultRaw []byte
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		resultRaw = raw
	}

	query := `
		UPDATE requests
		SET status = $2,
		    result = COALESCE($3, result),
		    updated_at = $4
		WHERE id = $1
		  AND status NOT IN ('completed', 'rejected', 'timeout')`

	tag, err := r.db.Exec(ctx, query, id, status, resultRaw, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing row from an already-terminal one.
		var exists bool
		err := r.db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM requests WHERE id = $1)`, id,
		).Scan(&exists)
		if err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}

// ExpireStale moves every non-terminal request past its expiry deadline to
// 'timeout' and returns how many rows were flipped.
func (r *RequestRepository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE requests
		SET status = 'timeout', updated_at = $1
		WHERE expires_at <= $1
		  AND status NOT IN ('completed', 'rejected', 'timeout')`

	tag, err := r.db.Exec(ctx, query, now.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
