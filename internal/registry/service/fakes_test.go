package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clawcierge/clawcierge/internal/registry/model"
	"github.com/clawcierge/clawcierge/internal/registry/repository"
)

// In-memory fakes for the repository interfaces. Mutex-guarded so the
// concurrency-leaning tests can share them across goroutines.

type fakeAgentRepo struct {
	mu       sync.Mutex
	byID     map[uuid.UUID]*model.Agent
	byHandle map[string]*model.Agent
	keys     []*model.APIKey
}

func newFakeAgentRepo() *fakeAgentRepo {
	return &fakeAgentRepo{
		byID:     make(map[uuid.UUID]*model.Agent),
		byHandle: make(map[string]*model.Agent),
	}
}

func (f *fakeAgentRepo) Register(_ context.Context, agent *model.Agent, handle string, key *model.APIKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, taken := f.byHandle[handle]; taken {
		return repository.ErrHandleTaken
	}
	now := time.Now().UTC()
	agent.Status = model.AgentStatusInactive
	agent.CreatedAt = now
	agent.UpdatedAt = now
	agent.Handle = handle
	f.byID[agent.ID] = agent
	f.byHandle[handle] = agent
	f.keys = append(f.keys, key)
	return nil
}

func (f *fakeAgentRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return a, nil
}

func (f *fakeAgentRepo) GetByHandle(_ context.Context, handle string) (*model.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byHandle[handle]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return a, nil
}

func (f *fakeAgentRepo) UpdateStatus(_ context.Context, id uuid.UUID, status model.AgentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.Status = status
	return nil
}

func (f *fakeAgentRepo) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	delete(f.byID, id)
	delete(f.byHandle, a.Handle)
	return nil
}

type fakeKeyRepo struct {
	mu     sync.Mutex
	byHash map[string]*model.APIKey
}

func newFakeKeyRepo() *fakeKeyRepo {
	return &fakeKeyRepo{byHash: make(map[string]*model.APIKey)}
}

func (f *fakeKeyRepo) Insert(_ context.Context, key *model.APIKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byHash[key.KeyHash] = key
	return nil
}

func (f *fakeKeyRepo) GetByHash(_ context.Context, hash string) (*model.APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.byHash[hash]
	if !ok || k.RevokedAt != nil {
		return nil, repository.ErrNotFound
	}
	return k, nil
}

func (f *fakeKeyRepo) Revoke(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range f.byHash {
		if k.ID == id && k.RevokedAt == nil {
			now := time.Now().UTC()
			k.RevokedAt = &now
			return nil
		}
	}
	return repository.ErrNotFound
}

type fakeContractRepo struct {
	mu     sync.Mutex
	active map[uuid.UUID]*model.CapabilityContract
}

func newFakeContractRepo() *fakeContractRepo {
	return &fakeContractRepo{active: make(map[uuid.UUID]*model.CapabilityContract)}
}

func (f *fakeContractRepo) Rotate(_ context.Context, agentID uuid.UUID, caps []model.Capability, constraints map[string]any) (*model.CapabilityContract, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	version := 1
	if prev := f.active[agentID]; prev != nil {
		version = prev.Version + 1
	}
	c := &model.CapabilityContract{
		ID:           uuid.New(),
		AgentID:      agentID,
		Version:      version,
		Capabilities: caps,
		Constraints:  constraints,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}
	f.active[agentID] = c
	return c, nil
}

func (f *fakeContractRepo) GetActive(_ context.Context, agentID uuid.UUID) (*model.CapabilityContract, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[agentID], nil
}

type fakePolicyRepo struct {
	mu     sync.Mutex
	active map[uuid.UUID]*model.Policy
}

func newFakePolicyRepo() *fakePolicyRepo {
	return &fakePolicyRepo{active: make(map[uuid.UUID]*model.Policy)}
}

func (f *fakePolicyRepo) Rotate(_ context.Context, agentID uuid.UUID, rules []model.PolicyRule) (*model.Policy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	version := 1
	if prev := f.active[agentID]; prev != nil {
		version = prev.Version + 1
	}
	p := &model.Policy{
		ID:        uuid.New(),
		AgentID:   agentID,
		Version:   version,
		Rules:     rules,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	f.active[agentID] = p
	return p, nil
}

func (f *fakePolicyRepo) GetActive(_ context.Context, agentID uuid.UUID) (*model.Policy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[agentID], nil
}

type fakeRequestRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*model.Request
}

func newFakeRequestRepo() *fakeRequestRepo {
	return &fakeRequestRepo{rows: make(map[uuid.UUID]*model.Request)}
}

func (f *fakeRequestRepo) Create(_ context.Context, req *model.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now
	cp := *req
	f.rows[req.ID] = &cp
	return nil
}

func (f *fakeRequestRepo) Get(_ context.Context, id uuid.UUID) (*model.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRequestRepo) UpdateStatus(_ context.Context, id uuid.UUID, status model.RequestStatus, result map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	if r.Status.Terminal() {
		return nil
	}
	r.Status = status
	if result != nil {
		r.Result = result
	}
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (f *fakeRequestRepo) ExpireStale(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, r := range f.rows {
		if !r.Status.Terminal() && !r.ExpiresAt.After(now) {
			r.Status = model.RequestStatusTimeout
			r.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

type fakeConns struct {
	mu        sync.Mutex
	connected map[uuid.UUID]bool
	failSend  bool
	sent      []any
	evicted   []string
}

func newFakeConns() *fakeConns {
	return &fakeConns{connected: make(map[uuid.UUID]bool)}
}

func (f *fakeConns) IsConnected(agentID uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected[agentID]
}

func (f *fakeConns) Send(agentID uuid.UUID, v any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected[agentID] || f.failSend {
		return false
	}
	f.sent = append(f.sent, v)
	return true
}

func (f *fakeConns) Evict(agentID uuid.UUID, reason string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	live := f.connected[agentID]
	delete(f.connected, agentID)
	f.evicted = append(f.evicted, reason)
	return live
}
