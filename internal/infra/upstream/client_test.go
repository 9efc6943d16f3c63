package upstream

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/opsforge/medic/internal/core/domain"
)

func newTestClient(baseURL string) *Client {
	return NewClient(Config{
		BaseURL:    baseURL,
		Token:      "test-token",
		Timeout:    time.Second,
		MaxRetries: 2,
	}, slog.Default())
}

// ============================================================================
// FetchRepo
// ============================================================================

func TestClient_FetchRepo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/core-api" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("expected bearer token, got %q", got)
		}
		w.Write([]byte(`{"name":"core-api","default_branch":"main","head_sha":"abc123"}`))
	}))
	defer srv.Close()

	info, err := newTestClient(srv.URL).FetchRepo(context.Background(), "core-api")
	if err != nil {
		t.Fatalf("FetchRepo failed: %v", err)
	}
	if info.HeadSHA != "abc123" {
		t.Errorf("expected head sha abc123, got %s", info.HeadSHA)
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"name":"core-api"}`))
	}))
	defer srv.Close()

	if _, err := newTestClient(srv.URL).FetchRepo(context.Background(), "core-api"); err != nil {
		t.Fatalf("expected retries to recover, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestClient_RateLimitSurfacesWithoutRetry(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchRepo(context.Background(), "core-api")
	if err == nil {
		t.Fatal("expected an error")
	}
	if attempts != 1 {
		t.Errorf("rate limits must not be retried, got %d attempts", attempts)
	}

	var ue *domain.UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *domain.UpstreamError, got %T", err)
	}
	if !strings.Contains(ue.Error(), "rate limit") {
		t.Errorf("error text must carry the rate limit wording, got %q", ue.Error())
	}
}

func TestClient_AuthFailureSurfacesStatusText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchRepo(context.Background(), "core-api")
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("expected 401 in error text, got %v", err)
	}
}

// ============================================================================
// Notifier
// ============================================================================

func TestClient_EscalateToHumansReturnsRef(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/issues" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"ref":"TRACKER-42"}`))
	}))
	defer srv.Close()

	issue := &domain.Issue{
		ID:       "issue-1",
		Type:     domain.IssueSyncFailure,
		Severity: domain.SeverityHigh,
		Context:  domain.IssueContext{ErrorText: "401 unauthorized"},
	}
	ref, err := newTestClient(srv.URL).EscalateToHumans(context.Background(), issue, "auth failure")
	if err != nil {
		t.Fatalf("EscalateToHumans failed: %v", err)
	}
	if ref != "TRACKER-42" {
		t.Errorf("expected TRACKER-42, got %s", ref)
	}
}

func TestClient_NotifyWithoutWebhookIsNoop(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://unused"}, slog.Default())
	if err := c.Notify(context.Background(), "drift", "minor drift observed"); err != nil {
		t.Errorf("expected no-op, got %v", err)
	}
}
