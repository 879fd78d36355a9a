package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clawcierge/clawcierge/internal/registry/model"
)

// AgentRepository provides CRUD operations for agents against PostgreSQL.
type AgentRepository struct {
	db *pgxpool.Pool
}

// NewAgentRepository creates a new AgentRepository.
func NewAgentRepository(db *pgxpool.Pool) *AgentRepository {
	return &AgentRepository{db: db}
}

// Register inserts the agent, its handle reservation, and its first API key
// in a single transaction, so a handle collision leaves no orphan rows.
// Returns ErrHandleTaken when the handle is already reserved.
func (r *AgentRepository) Register(ctx context.Context, agent *model.Agent, handle string, key *model.APIKey) error {
	now := time.Now().UTC()
	if agent.ID == uuid.Nil {
		agent.ID = uuid.New()
	}
	agent.Status = model.AgentStatusInactive
	agent.CreatedAt = now
	agent.UpdatedAt = now
	agent.Handle = handle

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO agents (id, owner_id, display_name, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		agent.ID, agent.OwnerID, agent.DisplayName, agent.Status,
		agent.CreatedAt, agent.UpdatedAt,
	)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO handles (handle, agent_id, created_at)
		VALUES ($1, $2, $3)`,
		handle, agent.ID, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrHandleTaken
		}
		return err
	}

	if err := insertKey(ctx, tx, key); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// GetByID retrieves an agent by its UUID, with its handle joined in.
func (r *AgentRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Agent, error) {
	query := `
		SELECT a.id, a.owner_id, a.display_name, a.status, a.created_at, a.updated_at,
		       COALESCE(h.handle, '')
		FROM agents a
		LEFT JOIN handles h ON h.agent_id = a.id
		WHERE a.id = $1`
	return r.scanOne(ctx, query, id)
}

// GetByHandle retrieves an agent by its reserved handle.
func (r *AgentRepository) GetByHandle(ctx context.Context, handle string) (*model.Agent, error) {
	query := `
		SELECT a.id, a.owner_id, a.display_name, a.status, a.created_at, a.updated_at,
		       h.handle
		FROM agents a
		JOIN handles h ON h.agent_id = a.id
		WHERE h.handle = $1`
	return r.scanOne(ctx, query, handle)
}

// UpdateStatus changes the status of an agent.
func (r *AgentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.AgentStatus) error {
	query := `UPDATE agents SET status = $2, updated_at = $3 WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, status, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete permanently removes an agent. Handles, keys, contracts, policies and
// requests referencing it are removed by the schema's ON DELETE CASCADE.
func (r *AgentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanOne executes a query returning a single agent row.
func (r *AgentRepository) scanOne(ctx context.Context, query string, args ...any) (*model.Agent, error) {
	rows, err := r.db.Query(ctx, query, args...)
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
	return r.scan(rows)
}

// scan reads a single agent from a pgx.Rows cursor.
func (r *AgentRepository) scan(rows pgx.Rows) (*model.Agent, error) {
	var a model.Agent
	err := rows.Scan(
		&a.ID, &a.OwnerID, &a.DisplayName, &a.Status,
		&a.CreatedAt, &a.UpdatedAt, &a.Handle,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
