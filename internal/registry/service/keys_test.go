package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clawcierge/clawcierge/internal/registry/model"
)

func TestGenerate_KeyShape(t *testing.T) {
	svc := NewKeyService(newFakeKeyRepo(), nil)

	plaintext, key, err := svc.Generate(context.Background(), model.OwnerTypeAgent, uuid.New(), []string{ScopeAgentManage})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(plaintext, "clw_agent_") {
		t.Errorf("agent key prefix: got %q", plaintext[:10])
	}
	if key.KeyPrefix != plaintext[:16] {
		t.Errorf("stored prefix %q does not match plaintext head %q", key.KeyPrefix, plaintext[:16])
	}
	if key.KeyHash == "" || strings.Contains(key.KeyHash, plaintext) {
		t.Error("key hash missing or leaks plaintext")
	}
	if len(key.KeyHash) != 64 {
		t.Errorf("key hash length: got %d, want 64 hex chars", len(key.KeyHash))
	}

	senderKey, _, err := svc.Generate(context.Background(), model.OwnerTypeSender, uuid.New(), nil)
	if err != nil {
		t.Fatalf("generate sender key: %v", err)
	}
	if !strings.HasPrefix(senderKey, "clw_sender_") {
		t.Errorf("sender key prefix: got %q", senderKey[:11])
	}
}

func TestGenerate_KeysAreUnique(t *testing.T) {
	svc := NewKeyService(newFakeKeyRepo(), nil)
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		plaintext, _, err := svc.Generate(context.Background(), model.OwnerTypeAgent, uuid.New(), nil)
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if seen[plaintext] {
			t.Fatal("duplicate key generated")
		}
		seen[plaintext] = true
	}
}

func TestValidate_RoundTrip(t *testing.T) {
	svc := NewKeyService(newFakeKeyRepo(), nil)
	ownerID := uuid.New()

	plaintext, key, err := svc.Generate(context.Background(), model.OwnerTypeAgent, ownerID, []string{ScopeAgentManage})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	auth, err := svc.Validate(context.Background(), plaintext)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if auth == nil {
		t.Fatal("freshly minted key did not validate")
	}
	if auth.OwnerID != ownerID || auth.OwnerType != model.OwnerTypeAgent || auth.KeyID != key.ID {
		t.Errorf("auth context mismatch: %+v", auth)
	}
}

func TestValidate_UnknownRevokedExpired(t *testing.T) {
	repo := newFakeKeyRepo()
	svc := NewKeyService(repo, nil)

	auth, err := svc.Validate(context.Background(), "clw_agent_nosuchkey")
	if err != nil || auth != nil {
		t.Errorf("unknown key: auth=%v err=%v, want nil/nil", auth, err)
	}

	plaintext, key, err := svc.Generate(context.Background(), model.OwnerTypeAgent, uuid.New(), nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := svc.Revoke(context.Background(), key.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	auth, err = svc.Validate(context.Background(), plaintext)
	if err != nil || auth != nil {
		t.Errorf("revoked key: auth=%v err=%v, want nil/nil", auth, err)
	}

	expired, expiredKey, err := svc.Generate(context.Background(), model.OwnerTypeSender, uuid.New(), nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	past := time.Now().UTC().Add(-time.Hour)
	expiredKey.ExpiresAt = &past
	auth, err = svc.Validate(context.Background(), expired)
	if err != nil || auth != nil {
		t.Errorf("expired key: auth=%v err=%v, want nil/nil", auth, err)
	}
}

func TestBase62Encode(t *testing.T) {
	if got := base62Encode([]byte{0}); got != "0" {
		t.Errorf("zero: got %q", got)
	}
	if got := base62Encode([]byte{61}); got != "z" {
		t.Errorf("61: got %q, want z", got)
	}
	if got := base62Encode([]byte{1, 0}); got != "48" { // 256 = 4*62 + 8
		t.Errorf("256: got %q, want 48", got)
	}
}
