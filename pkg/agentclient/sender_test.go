package agentclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSenderClient_SubmitAndPoll(t *testing.T) {
	requestID := uuid.New()
	polls := 0

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/agents/pink/requests", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer clw_sender_test" {
			t.Errorf("auth header: %q", got)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode submit body: %v", err)
		}
		if body["action"] != "echo" {
			t.Errorf("action: %v", body["action"])
		}
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]any{
			"id": requestID, "status": "dispatched", "action_type": "echo",
		})
	})
	mux.HandleFunc("GET /v1/requests/"+requestID.String(), func(w http.ResponseWriter, r *http.Request) {
		polls++
		status := "dispatched"
		var result map[string]any
		if polls >= 2 {
			status = "completed"
			result = map[string]any{"echoed": "hello"}
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id": requestID, "status": status, "action_type": "echo", "result": result,
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := NewSender(srv.URL, "clw_sender_test")
	ctx := context.Background()

	view, err := s.Submit(ctx, "pink", "echo", map[string]any{"message": "hello"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if view.ID != requestID || view.Status != "dispatched" {
		t.Errorf("submit view: %+v", view)
	}

	final, err := s.WaitForResult(ctx, requestID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if final.Status != "completed" || final.Result["echoed"] != "hello" {
		t.Errorf("final view: %+v", final)
	}
}

func TestSenderClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]any{"detail": "Agent is not connected"})
	}))
	defer srv.Close()

	s := NewSender(srv.URL, "clw_sender_test")
	_, err := s.Submit(context.Background(), "pink", "echo", nil)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type: %v", err)
	}
	if apiErr.StatusCode != http.StatusServiceUnavailable || apiErr.Detail != "Agent is not connected" {
		t.Errorf("api error: %+v", apiErr)
	}
}

func TestSenderClient_Resolve(t *testing.T) {
	agentID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/directory/pink" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"agent_id": agentID, "display_name": "Pink", "handle": "pink",
			"status": "active", "capabilities": []map[string]any{{"action": "echo"}},
		})
	}))
	defer srv.Close()

	entry, err := NewSender(srv.URL, "").Resolve(context.Background(), "pink")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if entry.AgentID != agentID || entry.Handle != "pink" || len(entry.Capabilities) != 1 {
		t.Errorf("entry: %+v", entry)
	}
}
