package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clawcierge/clawcierge/internal/registry/model"
)

// execer is satisfied by both *pgxpool.Pool and pgx.Tx, so key inserts can
// participate in the registration transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// APIKeyRepository persists bearer credentials.
type APIKeyRepository struct {
	db *pgxpool.Pool
}

// NewAPIKeyRepository creates a new APIKeyRepository.
func NewAPIKeyRepository(db *pgxpool.Pool) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// Insert stores a new API key row.
func (r *APIKeyRepository) Insert(ctx context.Context, key *model.APIKey) error {
	return insertKey(ctx, r.db, key)
}

func insertKey(ctx context.Context, q execer, key *model.APIKey) error {
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	_, err := q.Exec(ctx, `
		INSERT INTO api_keys (id, key_hash, key_prefix, owner_type, owner_id,
		                      scopes, expires_at, revoked_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		key.ID, key.KeyHash, key.KeyPrefix, key.OwnerType, key.OwnerID,
		key.Scopes, key.ExpiresAt, key.RevokedAt, key.CreatedAt,
	)
	return err
}

// GetByHash looks up a live key by the SHA-256 hex of its plaintext. Revoked
// keys are invisible to this lookup; expiry is checked by the caller.
func (r *APIKeyRepository) GetByHash(ctx context.Context, hash string) (*model.APIKey, error) {
	query := `
		SELECT id, key_hash, key_prefix, owner_type, owner_id,
		       scopes, expires_at, revoked_at, created_at
		FROM api_keys
		WHERE key_hash = $1 AND revoked_at IS NULL`

	rows, err := r.db.Query(ctx, query, hash)
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

	var k model.APIKey
	err = rows.Scan(
		&k.ID, &k.KeyHash, &k.KeyPrefix, &k.OwnerType, &k.OwnerID,
		&k.Scopes, &k.ExpiresAt, &k.RevokedAt, &k.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// Revoke marks a key unusable. Revoking an already-revoked key is a no-op.
func (r *APIKeyRepository) Revoke(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE api_keys SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`
	tag, err := r.db.Exec(ctx, query, id, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
