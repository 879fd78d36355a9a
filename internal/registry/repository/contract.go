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

// ContractRepository persists versioned capability contracts.
type ContractRepository struct {
	db *pgxpool.Pool
}

// NewContractRepository creates a new ContractRepository.
func NewContractRepository(db *pgxpool.Pool) *ContractRepository {
	return &ContractRepository{db: db}
}

// Rotate replaces the agent's active contract in one transaction: the new
// contract gets max(version)+1, every prior contract is deactivated, and the
// new row is inserted active. Concurrent rotations serialize on the
// deactivation update.
func (r *ContractRepository) Rotate(ctx context.Context, agentID uuid.UUID, caps []model.Capability, constraints map[string]any) (*model.CapabilityContract, error) {
	capsRaw, err := json.Marshal(caps)
	if err != nil {
		return nil, fmt.Errorf("marshal capabilities: %w", err)
	}
	if constraints == nil {
		constraints = map[string]any{}
	}
	consRaw, err := json.Marshal(constraints)
	if err != nil {
		return nil, fmt.Errorf("marshal constraints: %w", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var maxVersion int
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM capability_contracts WHERE agent_id = $1`,
		agentID,
	).Scan(&maxVersion)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE capability_contracts SET is_active = false WHERE agent_id = $1 AND is_active`,
		agentID,
	)
	if err != nil {
		return nil, err
	}

	contract := &model.CapabilityContract{
		ID:           uuid.New(),
		AgentID:      agentID,
		Version:      maxVersion + 1,
		Capabilities: caps,
		Constraints:  constraints,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO capability_contracts (id, agent_id, version, capabilities, constraints, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		contract.ID, contract.AgentID, contract.Version,
		capsRaw, consRaw, contract.IsActive, contract.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return contract, nil
}

// GetActive returns the agent's active contract, or (nil, nil) when the agent
// has never uploaded one.
func (r *ContractRepository) GetActive(ctx context.Context, agentID uuid.UUID) (*model.CapabilityContract, error) {
	query := `
		SELECT id, agent_id, version, capabilities, constraints, is_active, created_at
		FROM capability_contracts
		WHERE agent_id = $1 AND is_active`

	rows, err := r.db.Query(ctx, query, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	var c model.CapabilityContract
	var capsRaw, consRaw []byte
	err = rows.Scan(&c.ID, &c.AgentID, &c.Version, &capsRaw, &consRaw, &c.IsActive, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(capsRaw, &c.Capabilities); err != nil {
		return nil, fmt.Errorf("unmarshal capabilities: %w", err)
	}
	if len(consRaw) > 0 {
		if err := json.Unmarshal(consRaw, &c.Constraints); err != nil {
			return nil, fmt.Errorf("unmarshal constraints: %w", err)
		}
	}
	return &c, nil
}
