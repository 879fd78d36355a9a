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

// PolicyRepository persists versioned policy rule lists. Versioning and
// activation mirror ContractRepository.
type PolicyRepository struct {
	db *pgxpool.Pool
}

// NewPolicyRepository creates a new PolicyRepository.
func NewPolicyRepository(db *pgxpool.Pool) *PolicyRepository {
	return &PolicyRepository{db: db}
}

// Rotate replaces the agent's active policy in one transaction, bumping the
// version past the historical maximum.
func (r *PolicyRepository) Rotate(ctx context.Context, agentID uuid.UUID, rules []model.PolicyRule) (*model.Policy, error) {
	rulesRaw, err := json.Marshal(rules)
	if err != nil {
		return nil, fmt.Errorf("marshal rules: %w", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var maxVersion int
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM policies WHERE agent_id = $1`,
		agentID,
	).Scan(&maxVersion)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE policies SET is_active = false WHERE agent_id = $1 AND is_active`,
		agentID,
	)
	if err != nil {
		return nil, err
	}

	policy := &model.Policy{
		ID:        uuid.New(),
		AgentID:   agentID,
		Version:   maxVersion + 1,
		Rules:     rules,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO policies (id, agent_id, version, rules, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		policy.ID, policy.AgentID, policy.Version,
		rulesRaw, policy.IsActive, policy.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return policy, nil
}

// GetActive returns the agent's active policy, or (nil, nil) when none has
// been uploaded. No policy means no rules, which the pipeline treats as pass.
func (r *PolicyRepository) GetActive(ctx context.Context, agentID uuid.UUID) (*model.Policy, error) {
	query := `
		SELECT id, agent_id, version, rules, is_active, created_at
		FROM policies
		WHERE agent_id = $1 AND is_active`

	rows, err := r.db.Query(ctx, query, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	var p model.Policy
	var rulesRaw []byte
	err = rows.Scan(&p.ID, &p.AgentID, &p.Version, &rulesRaw, &p.IsActive, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(rulesRaw, &p.Rules); err != nil {
		return nil, fmt.Errorf("unmarshal rules: %w", err)
	}
	return &p, nil
}
