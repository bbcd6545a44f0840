package project

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ink-splatters/opencode-antigravity-auth/internal/account"
)

func TestExistingProjectIDWinsWithoutNetwork(t *testing.T) {
	r := NewResolver([]string{"https://unreachable.test"}, &http.Client{Timeout: time.Millisecond})

	rec := account.AuthRecord{Type: "oauth", Refresh: "tok|user-proj", Access: "at"}
	got, projectID, err := r.EnsureProjectContext(context.Background(), rec)
	require.NoError(t, err)
	require.Equal(t, "user-proj", projectID)
	require.Equal(t, rec, got)

	rec = account.AuthRecord{Type: "oauth", Refresh: "tok||managed-proj", Access: "at"}
	got, projectID, err = r.EnsureProjectContext(context.Background(), rec)
	require.NoError(t, err)
	require.Equal(t, "managed-proj", projectID)
	require.Equal(t, rec, got)
}

func TestDiscoveryViaLoadCodeAssist(t *testing.T) {
	var sawAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		require.True(t, strings.HasSuffix(req.URL.Path, ":loadCodeAssist"))
		sawAuth = req.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"cloudaicompanionProject": "companion-123",
		})
	}))
	defer srv.Close()

	r := NewResolver([]string{srv.URL}, srv.Client())
	rec := account.AuthRecord{Type: "oauth", Refresh: "tok", Access: "at-7"}

	got, projectID, err := r.EnsureProjectContext(context.Background(), rec)
	require.NoError(t, err)
	require.Equal(t, "companion-123", projectID)
	require.Equal(t, "Bearer at-7", sawAuth)

	// The managed project lands in the composite.
	require.Equal(t, "tok||companion-123", got.Refresh)

	// Second call short-circuits on the stored managed project.
	_, projectID, err = r.EnsureProjectContext(context.Background(), got)
	require.NoError(t, err)
	require.Equal(t, "companion-123", projectID)
}

func TestDiscoveryOnboardsWhenNoCompanionProject(t *testing.T) {
	polls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch {
		case strings.HasSuffix(req.URL.Path, ":loadCodeAssist"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"allowedTiers": []map[string]any{{"id": "standard-tier", "isDefault": true}},
			})
		case strings.HasSuffix(req.URL.Path, ":onboardUser"):
			var body map[string]any
			_ = json.NewDecoder(req.Body).Decode(&body)
			require.Equal(t, "standard-tier", body["tierId"])
			polls++
			if polls < 2 {
				_ = json.NewEncoder(w).Encode(map[string]any{"done": false})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"done": true,
				"response": map[string]any{
					"cloudaicompanionProject": map[string]any{"id": "onboarded-9"},
				},
			})
		default:
			http.NotFound(w, req)
		}
	}))
	defer srv.Close()

	r := NewResolver([]string{srv.URL}, srv.Client())
	r.onboardPollInterval = time.Millisecond

	got, projectID, err := r.EnsureProjectContext(context.Background(), account.AuthRecord{Type: "oauth", Refresh: "tok", Access: "at"})
	require.NoError(t, err)
	require.Equal(t, "onboarded-9", projectID)
	require.Equal(t, "tok||onboarded-9", got.Refresh)
	require.Equal(t, 2, polls)
}

func TestDiscoveryTriesEndpointsBackToFront(t *testing.T) {
	var hits []string
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		hits = append(hits, "daily")
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer bad.Close()

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		hits = append(hits, "prod")
		_ = json.NewEncoder(w).Encode(map[string]any{"cloudaicompanionProject": "p-1"})
	}))
	defer good.Close()

	r := NewResolver([]string{bad.URL, good.URL}, http.DefaultClient)
	_, projectID, err := r.EnsureProjectContext(context.Background(), account.AuthRecord{Type: "oauth", Refresh: "tok", Access: "at"})
	require.NoError(t, err)
	require.Equal(t, "p-1", projectID)
	require.Equal(t, []string{"prod"}, hits, "prod answers first; daily never consulted")
}

func TestDiscoveryFailureSurfacesError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	r := NewResolver([]string{srv.URL}, srv.Client())
	_, _, err := r.EnsureProjectContext(context.Background(), account.AuthRecord{Type: "oauth", Refresh: "tok", Access: "at"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "project discovery")
}
