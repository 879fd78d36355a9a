package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/clawcierge/clawcierge/internal/connection"
	"github.com/clawcierge/clawcierge/internal/pipeline"
	"github.com/clawcierge/clawcierge/internal/registry/model"
	"github.com/clawcierge/clawcierge/internal/registry/repository"
	"github.com/clawcierge/clawcierge/internal/registry/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ─── In-memory stores ────────────────────────────────────────────────────────

type memStore struct {
	mu        sync.Mutex
	agents    map[uuid.UUID]*model.Agent
	handles   map[string]uuid.UUID
	keys      map[string]*model.APIKey
	contracts map[uuid.UUID]*model.CapabilityContract
	policies  map[uuid.UUID]*model.Policy
	requests  map[uuid.UUID]*model.Request
}

func newMemStore() *memStore {
	return &memStore{
		agents:    make(map[uuid.UUID]*model.Agent),
		handles:   make(map[string]uuid.UUID),
		keys:      make(map[string]*model.APIKey),
		contracts: make(map[uuid.UUID]*model.CapabilityContract),
		policies:  make(map[uuid.UUID]*model.Policy),
		requests:  make(map[uuid.UUID]*model.Request),
	}
}

func (s *memStore) Register(_ context.Context, agent *model.Agent, handle string, key *model.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.handles[handle]; taken {
		return repository.ErrHandleTaken
	}
	agent.Status = model.AgentStatusInactive
	agent.Handle = handle
	agent.CreatedAt = time.Now().UTC()
	agent.UpdatedAt = agent.CreatedAt
	s.agents[agent.ID] = agent
	s.handles[handle] = agent.ID
	s.keys[key.KeyHash] = key
	return nil
}

func (s *memStore) GetByID(_ context.Context, id uuid.UUID) (*model.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return a, nil
}

func (s *memStore) GetByHandle(_ context.Context, handle string) (*model.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.handles[handle]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return s.agents[id], nil
}

func (s *memStore) UpdateStatus(_ context.Context, id uuid.UUID, status model.AgentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.Status = status
	return nil
}

func (s *memStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return repository.ErrNotFound
	}
	delete(s.agents, id)
	delete(s.handles, a.Handle)
	return nil
}

func (s *memStore) Insert(_ context.Context, key *model.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key.KeyHash] = key
	return nil
}

func (s *memStore) GetByHash(_ context.Context, hash string) (*model.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[hash]
	if !ok || k.RevokedAt != nil {
		return nil, repository.ErrNotFound
	}
	return k, nil
}

func (s *memStore) Revoke(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if k.ID == id && k.RevokedAt == nil {
			now := time.Now().UTC()
			k.RevokedAt = &now
			return nil
		}
	}
	return repository.ErrNotFound
}

// contractStore and policyStore adapt memStore to the two rotation repos.

type contractStore struct{ s *memStore }

func (cs contractStore) Rotate(_ context.Context, agentID uuid.UUID, caps []model.Capability, constraints map[string]any) (*model.CapabilityContract, error) {
	cs.s.mu.Lock()
	defer cs.s.mu.Unlock()
	version := 1
	if prev := cs.s.contracts[agentID]; prev != nil {
		version = prev.Version + 1
	}
	c := &model.CapabilityContract{
		ID: uuid.New(), AgentID: agentID, Version: version,
		Capabilities: caps, Constraints: constraints, IsActive: true,
		CreatedAt: time.Now().UTC(),
	}
	cs.s.contracts[agentID] = c
	return c, nil
}

func (cs contractStore) GetActive(_ context.Context, agentID uuid.UUID) (*model.CapabilityContract, error) {
	cs.s.mu.Lock()
	defer cs.s.mu.Unlock()
	return cs.s.contracts[agentID], nil
}

type policyStore struct{ s *memStore }

func (ps policyStore) Rotate(_ context.Context, agentID uuid.UUID, rules []model.PolicyRule) (*model.Policy, error) {
	ps.s.mu.Lock()
	defer ps.s.mu.Unlock()
	version := 1
	if prev := ps.s.policies[agentID]; prev != nil {
		version = prev.Version + 1
	}
	p := &model.Policy{
		ID: uuid.New(), AgentID: agentID, Version: version,
		Rules: rules, IsActive: true, CreatedAt: time.Now().UTC(),
	}
	ps.s.policies[agentID] = p
	return p, nil
}

func (ps policyStore) GetActive(_ context.Context, agentID uuid.UUID) (*model.Policy, error) {
	ps.s.mu.Lock()
	defer ps.s.mu.Unlock()
	return ps.s.policies[agentID], nil
}

type requestStore struct{ s *memStore }

func (rs requestStore) Create(_ context.Context, req *model.Request) error {
	rs.s.mu.Lock()
	defer rs.s.mu.Unlock()
	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now
	cp := *req
	rs.s.requests[req.ID] = &cp
	return nil
}

func (rs requestStore) Get(_ context.Context, id uuid.UUID) (*model.Request, error) {
	rs.s.mu.Lock()
	defer rs.s.mu.Unlock()
	r, ok := rs.s.requests[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (rs requestStore) UpdateStatus(_ context.Context, id uuid.UUID, status model.RequestStatus, result map[string]any) error {
	rs.s.mu.Lock()
	defer rs.s.mu.Unlock()
	r, ok := rs.s.requests[id]
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

func (rs requestStore) ExpireStale(_ context.Context, now time.Time) (int64, error) {
	rs.s.mu.Lock()
	defer rs.s.mu.Unlock()
	var n int64
	for _, r := range rs.s.requests {
		if !r.Status.Terminal() && !r.ExpiresAt.After(now) {
			r.Status = model.RequestStatusTimeout
			n++
		}
	}
	return n, nil
}

// ─── Fixture ─────────────────────────────────────────────────────────────────

type fixture struct {
	store   *memStore
	keys    *service.KeyService
	agents  *service.AgentService
	tracker *service.Tracker
	reg     *connection.Registry
	router  *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	keys := service.NewKeyService(store, nil)
	reg := connection.NewRegistry(nil)
	contracts := service.NewContractService(contractStore{store}, policyStore{store}, nil)
	agents := service.NewAgentService(store, keys, contractStore{store}, reg, nil)
	tracker := service.NewTracker(requestStore{store}, nil)
	exec := pipeline.NewExecutor(time.Second, nil)
	dispatch := service.NewDispatcher(store, contracts, exec, tracker, reg, 5*time.Minute, nil)

	router := gin.New()
	v1 := router.Group("/v1")
	NewAgentHandler(agents, nil).Register(v1)
	NewDirectoryHandler(agents, nil).Register(v1)
	NewInfoHandler(nil).Register(v1)

	// Fast pings so channel tests run quickly; a generous dead-idle
	// threshold so sessions are never reaped mid-test.
	wsCfg := WSConfig{
		HeartbeatInterval: 50 * time.Millisecond,
		HeartbeatTimeout:  30 * time.Second,
		MaxMessageSize:    65536,
	}
	NewWSHandler(keys, agents, tracker, reg, wsCfg, nil).Register(v1)

	authed := router.Group("/v1")
	authed.Use(BearerAuth(keys, nil))
	NewContractHandler(contracts, nil).Register(authed)
	NewRequestHandler(dispatch, nil).Register(authed)

	return &fixture{store: store, keys: keys, agents: agents, tracker: tracker, reg: reg, router: router}
}

// do performs an in-process request against the router.
func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return m
}

// registerAgent creates an agent through the HTTP surface and returns its
// id and plaintext key.
func (f *fixture) registerAgent(t *testing.T, handle string) (uuid.UUID, string) {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/v1/agents", "", gin.H{
		"display_name": "Test Agent",
		"handle":       handle,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register agent: %d %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	id, err := uuid.Parse(body["id"].(string))
	if err != nil {
		t.Fatalf("agent id: %v", err)
	}
	return id, body["api_key"].(string)
}

// senderKey mints a sender credential directly through the key service.
func (f *fixture) senderKey(t *testing.T) (uuid.UUID, string) {
	t.Helper()
	senderID := uuid.New()
	plaintext, _, err := f.keys.Generate(context.Background(), model.OwnerTypeSender, senderID, nil)
	if err != nil {
		t.Fatalf("mint sender key: %v", err)
	}
	return senderID, plaintext
}
