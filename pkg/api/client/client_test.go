package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	c, err := New(server.URL, WithToken("tok"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestSubmitManifest(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/batches" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.URL.Query().Get("mode"); got != "sequential" {
			t.Errorf("expected mode sequential, got %q", got)
		}
		if got := r.URL.Query().Get("filename"); got != "release.yaml" {
			t.Errorf("expected filename release.yaml, got %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("unexpected authorization header %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "version: v1.0" {
			t.Errorf("unexpected body %q", body)
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"batch":      map[string]any{"id": "b1", "status": "PENDING", "total": 2},
			"status_url": "/batches/b1",
		})
	})
	resp, err := c.SubmitManifest(context.Background(), "release.yaml", []byte("version: v1.0"), "sequential")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if resp.Batch.ID != "b1" || resp.Batch.Total != 2 || resp.StatusURL != "/batches/b1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestValidationErrorCarriesIssues(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"valid":false,"error":"invalid manifest: /version: missing","issues":[{"path":"/version","message":"missing"}]}`))
	})
	_, err := c.ValidateManifest(context.Background(), []byte("deployments: []"))
	var apiErr APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusUnprocessableEntity || len(apiErr.Issues) != 1 || apiErr.Issues[0].Path != "/version" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestGetBatchAndRollback(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/batches/b1":
			_, _ = w.Write([]byte(`{"batch":{"id":"b1","status":"SUCCESS","deployments":[{"id":"d1","status":"SUCCESS","request":{"pillar":"risk","service_name":"pricing"}}]},"counts":{"SUCCESS":1},"progress":100}`))
		case "/batches/b1/rollback":
			_, _ = w.Write([]byte(`{"batch_id":"b1","rolled_back":1,"deployment_ids":["d1"]}`))
		default:
			http.NotFound(w, r)
		}
	})
	summary, err := c.GetBatch(context.Background(), "b1")
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if summary.Progress != 100 || summary.Counts["SUCCESS"] != 1 || summary.Batch.Deployments[0].Request.ServiceName != "pricing" {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	result, err := c.Rollback(context.Background(), "b1")
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if result.RolledBack != 1 {
		t.Fatalf("expected 1 rolled back, got %d", result.RolledBack)
	}
}

func TestListBatchesPlainTextError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})
	_, err := c.ListBatches(context.Background(), 5)
	var apiErr APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadGateway || apiErr.Message != "boom" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewNormalisesBaseURL(t *testing.T) {
	c, err := New("localhost:4000/")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if c.baseURL != "http://localhost:4000" {
		t.Fatalf("unexpected base url %q", c.baseURL)
	}
}
