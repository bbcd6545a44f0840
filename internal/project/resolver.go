// Package project resolves the Cloud Code project an account dispatches
// under. A user-chosen project id always wins; otherwise the resolver asks
// the upstream to produce (or confirm) a managed project and folds the result
// back into the account's composite.
package project

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ink-splatters/opencode-antigravity-auth/internal/account"
	"github.com/ink-splatters/opencode-antigravity-auth/internal/config"
)

// Doer issues upstream HTTP calls. *http.Client satisfies it.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

type Resolver struct {
	endpoints []string
	client    Doer

	onboardPollInterval time.Duration
	onboardMaxPolls     int
}

func NewResolver(endpoints []string, client Doer) *Resolver {
	return &Resolver{
		endpoints:           endpoints,
		client:              client,
		onboardPollInterval: 2 * time.Second,
		onboardMaxPolls:     15,
	}
}

// EnsureProjectContext returns the effective project id for the record,
// discovering a managed project when the composite carries none. The returned
// record may have gained a managed project id. Idempotent once a usable
// project id is present.
func (r *Resolver) EnsureProjectContext(ctx context.Context, rec account.AuthRecord) (account.AuthRecord, string, error) {
	parts := rec.Parts()
	if parts.ProjectID != "" {
		return rec, parts.ProjectID, nil
	}
	if parts.ManagedProjectID != "" {
		return rec, parts.ManagedProjectID, nil
	}

	projectID, err := r.discover(ctx, rec.Access)
	if err != nil {
		return rec, "", err
	}

	parts.ManagedProjectID = projectID
	return rec.WithParts(parts), projectID, nil
}

type loadCodeAssistResponse struct {
	CloudAICompanionProject string `json:"cloudaicompanionProject"`
	AllowedTiers            []struct {
		ID        string `json:"id"`
		IsDefault bool   `json:"isDefault"`
	} `json:"allowedTiers"`
}

type onboardOperation struct {
	Done     bool `json:"done"`
	Response struct {
		CloudAICompanionProject struct {
			ID string `json:"id"`
		} `json:"cloudaicompanionProject"`
	} `json:"response"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// discover runs loadCodeAssist, falling through to onboardUser when the
// account has no companion project yet. loadCodeAssist behaves better on
// prod for unprovisioned accounts, so endpoints are tried back-to-front.
func (r *Resolver) discover(ctx context.Context, accessToken string) (string, error) {
	var lastErr error
	for i := len(r.endpoints) - 1; i >= 0; i-- {
		endpoint := r.endpoints[i]

		var load loadCodeAssistResponse
		err := r.post(ctx, endpoint, "loadCodeAssist", accessToken, map[string]any{
			"metadata": clientMetadata(),
		}, &load)
		if err != nil {
			lastErr = err
			slog.Debug("loadCodeAssist failed", "endpoint", endpoint, "error", err)
			continue
		}

		if load.CloudAICompanionProject != "" {
			return load.CloudAICompanionProject, nil
		}

		tier := defaultTier(load)
		id, err := r.onboard(ctx, endpoint, accessToken, tier)
		if err != nil {
			lastErr = err
			continue
		}
		return id, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no endpoints configured")
	}
	return "", fmt.Errorf("project discovery: %w", lastErr)
}

// onboard drives the long-running onboardUser operation to completion.
func (r *Resolver) onboard(ctx context.Context, endpoint, accessToken, tierID string) (string, error) {
	body := map[string]any{
		"tierId":   tierID,
		"metadata": clientMetadata(),
	}

	for poll := 0; poll < r.onboardMaxPolls; poll++ {
		var op onboardOperation
		if err := r.post(ctx, endpoint, "onboardUser", accessToken, body, &op); err != nil {
			return "", err
		}
		if op.Error != nil {
			return "", fmt.Errorf("onboardUser: %s", op.Error.Message)
		}
		if op.Done {
			if op.Response.CloudAICompanionProject.ID == "" {
				return "", fmt.Errorf("onboardUser finished without a project id")
			}
			return op.Response.CloudAICompanionProject.ID, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(r.onboardPollInterval):
		}
	}
	return "", fmt.Errorf("onboardUser did not complete")
}

func (r *Resolver) post(ctx context.Context, endpoint, method, accessToken string, payload any, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/v1internal:"+method, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("User-Agent", config.UserAgent())
	req.Header.Set("Client-Metadata", config.ClientMetadata())

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d: %s", method, resp.StatusCode, truncate(body, 200))
	}
	return json.Unmarshal(body, out)
}

func defaultTier(load loadCodeAssistResponse) string {
	for _, t := range load.AllowedTiers {
		if t.IsDefault {
			return t.ID
		}
	}
	return "free-tier"
}

func clientMetadata() map[string]any {
	return map[string]any{
		"ideType":    "IDE_UNSPECIFIED",
		"platform":   "PLATFORM_UNSPECIFIED",
		"pluginType": "GEMINI",
	}
}

func truncate(b []byte, max int) string {
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}
