package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clawcierge/clawcierge/internal/registry/model"
	"github.com/clawcierge/clawcierge/internal/registry/repository"
)

const (
	keyPrefixAgent  = "clw_agent_"
	keyPrefixSender = "clw_sender_"

	// Stored display prefix length; enough to identify a key, not to use it.
	keyDisplayPrefixLen = 16

	keyEntropyBytes = 32
)

const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// keyRepo is the persistence interface for the key service.
// *repository.APIKeyRepository satisfies this interface.
type keyRepo interface {
	Insert(ctx context.Context, key *model.APIKey) error
	GetByHash(ctx context.Context, hash string) (*model.APIKey, error)
	Revoke(ctx context.Context, id uuid.UUID) error
}

// KeyService mints and validates bearer credentials. The plaintext key is
// visible exactly once at mint time; only its SHA-256 hex is stored.
type KeyService struct {
	repo   keyRepo
	logger *zap.Logger
}

// NewKeyService creates a new KeyService.
func NewKeyService(repo keyRepo, logger *zap.Logger) *KeyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeyService{repo: repo, logger: logger}
}

// NewKey mints a credential without persisting it, returning the plaintext
// and the row to store. Registration uses this so the key insert can join the
// agent's transaction.
func (s *KeyService) NewKey(ownerType model.OwnerType, ownerID uuid.UUID, scopes []string) (string, *model.APIKey, error) {
	prefix := keyPrefixAgent
	if ownerType == model.OwnerTypeSender {
		prefix = keyPrefixSender
	}

	buf := make([]byte, keyEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", nil, fmt.Errorf("read entropy: %w", err)
	}
	plaintext := prefix + base62Encode(buf)

	key := &model.APIKey{
		ID:        uuid.New(),
		KeyHash:   HashKey(plaintext),
		KeyPrefix: plaintext[:keyDisplayPrefixLen],
		OwnerType: ownerType,
		OwnerID:   ownerID,
		Scopes:    scopes,
		CreatedAt: time.Now().UTC(),
	}
	return plaintext, key, nil
}

// Generate mints and persists a credential, returning the plaintext once.
func (s *KeyService) Generate(ctx context.Context, ownerType model.OwnerType, ownerID uuid.UUID, scopes []string) (string, *model.APIKey, error) {
	plaintext, key, err := s.NewKey(ownerType, ownerID, scopes)
	if err != nil {
		return "", nil, err
	}
	if err := s.repo.Insert(ctx, key); err != nil {
		return "", nil, err
	}
	s.logger.Info("api key issued",
		zap.String("key_id", key.ID.String()),
		zap.String("owner_type", string(ownerType)),
		zap.String("owner_id", ownerID.String()),
	)
	return plaintext, key, nil
}

// Validate resolves a plaintext bearer credential to its auth context.
// Unknown, revoked, and expired keys all return (nil, nil): the caller cannot
// distinguish why a credential failed.
func (s *KeyService) Validate(ctx context.Context, plaintext string) (*model.AuthContext, error) {
	key, err := s.repo.GetByHash(ctx, HashKey(plaintext))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !key.Valid(time.Now().UTC()) {
		return nil, nil
	}
	return &model.AuthContext{
		OwnerType: key.OwnerType,
		OwnerID:   key.OwnerID,
		Scopes:    key.Scopes,
		KeyID:     key.ID,
	}, nil
}

// Revoke invalidates a credential by ID.
func (s *KeyService) Revoke(ctx context.Context, id uuid.UUID) error {
	return s.repo.Revoke(ctx, id)
}

// HashKey returns the SHA-256 hex digest stored for a plaintext key.
func HashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// base62Encode renders buf as a base62 string. Leading zero bytes shorten
// the output, which is fine: the key is opaque, not fixed-width.
func base62Encode(buf []byte) string {
	n := new(big.Int).SetBytes(buf)
	base := big.NewInt(62)
	mod := new(big.Int)

	var out []byte
	for n.Sign() > 0 {
		n.DivMod(n, base, mod)
		out = append(out, base62Alphabet[mod.Int64()])
	}
	if len(out) == 0 {
		return "0"
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}
