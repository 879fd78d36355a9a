package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SenderClient is the HTTP-side counterpart of Client: it submits requests
// to agents and polls their outcome using a sender API key.
type SenderClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewSender creates a SenderClient.
func NewSender(baseURL, apiKey string) *SenderClient {
	return &SenderClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// DirectoryEntry is the public view of an agent returned by Resolve.
type DirectoryEntry struct {
	AgentID      uuid.UUID        `json:"agent_id"`
	DisplayName  string           `json:"display_name"`
	Handle       string           `json:"handle"`
	Status       string           `json:"status"`
	Capabilities []map[string]any `json:"capabilities"`
}

// RequestView is the sender's view of a request.
type RequestView struct {
	ID         uuid.UUID      `json:"id"`
	Status     string         `json:"status"`
	ActionType string         `json:"action_type,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
}

// APIError is a non-2xx platform response.
type APIError struct {
	StatusCode int
	Detail     any
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform returned %d: %v", e.StatusCode, e.Detail)
}

// Resolve looks a handle up in the public directory.
func (s *SenderClient) Resolve(ctx context.Context, handle string) (*DirectoryEntry, error) {
	var entry DirectoryEntry
	if err := s.call(ctx, http.MethodGet, "/v1/directory/"+handle, nil, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Submit dispatches an action to the agent behind handle.
func (s *SenderClient) Submit(ctx context.Context, handle, action string, params map[string]any) (*RequestView, error) {
	body := map[string]any{"action": action, "params": params}
	var view RequestView
	if err := s.call(ctx, http.MethodPost, "/v1/agents/"+handle+"/requests", body, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// Poll fetches the current state of a previously submitted request.
func (s *SenderClient) Poll(ctx context.Context, id uuid.UUID) (*RequestView, error) {
	var view RequestView
	if err := s.call(ctx, http.MethodGet, "/v1/requests/"+id.String(), nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// WaitForResult polls until the request reaches a terminal status or ctx
// expires.
func (s *SenderClient) WaitForResult(ctx context.Context, id uuid.UUID, interval time.Duration) (*RequestView, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		view, err := s.Poll(ctx, id)
		if err != nil {
			return nil, err
		}
		switch view.Status {
		case "completed", "rejected", "timeout":
			return view, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *SenderClient) call(ctx context.Context, method, path string, body, out any) error {
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		buf = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		var envelope struct {
			Detail any `json:"detail"`
		}
		_ = json.Unmarshal(data, &envelope)
		return &APIError{StatusCode: resp.StatusCode, Detail: envelope.Detail}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
