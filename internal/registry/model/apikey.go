package model

import (
	"time"

	"github.com/google/uuid"
)

// OwnerType distinguishes who a bearer credential belongs to.
type OwnerType string

const (
	OwnerTypeAgent  OwnerType = "agent"
	OwnerTypeSender OwnerType = "sender"
)

// APIKey is the persisted form of a bearer credential. Only the SHA-256 hex
// of the plaintext is stored; KeyPrefix keeps the first 16 characters for
// operator display. The plaintext is returned exactly once at creation.
type APIKey struct {
	ID        uuid.UUID  `json:"id"         db:"id"`
	KeyHash   string     `json:"-"          db:"key_hash"`
	KeyPrefix string     `json:"key_prefix" db:"key_prefix"`
	OwnerType OwnerType  `json:"owner_type" db:"owner_type"`
	OwnerID   uuid.UUID  `json:"owner_id"   db:"owner_id"`
	Scopes    []string   `json:"scopes"     db:"scopes"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// Valid reports whether the key is usable at the given instant: not revoked,
// and either without expiry or not yet expired.
func (k *APIKey) Valid(now time.Time) bool {
	if k.RevokedAt != nil {
		return false
	}
	if k.ExpiresAt != nil && k.ExpiresAt.Before(now) {
		return false
	}
	return true
}

// AuthContext is the result of validating a bearer credential.
type AuthContext struct {
	OwnerType OwnerType
	OwnerID   uuid.UUID
	Scopes    []string
	KeyID     uuid.UUID
}
