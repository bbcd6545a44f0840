// Package dispatch implements the resilient request pathway: a two-level
// retry loop over accounts and endpoints, fed by the pool, the OAuth client
// and the project resolver.
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ink-splatters/opencode-antigravity-auth/internal/account"
	"github.com/ink-splatters/opencode-antigravity-auth/internal/events"
	"github.com/ink-splatters/opencode-antigravity-auth/internal/oauth"
	"github.com/ink-splatters/opencode-antigravity-auth/internal/requestlog"
	"github.com/ink-splatters/opencode-antigravity-auth/internal/rewrite"
)

// Doer issues the actual HTTP calls. *http.Client and the transport manager
// both satisfy it.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Refresher is the slice of the OAuth client the engine needs.
type Refresher interface {
	Refresh(ctx context.Context, rec account.AuthRecord) (account.AuthRecord, error)
}

// ProjectResolver ensures an auth record carries a usable project id.
type ProjectResolver interface {
	EnsureProjectContext(ctx context.Context, rec account.AuthRecord) (account.AuthRecord, string, error)
}

type Engine struct {
	pool      *account.Pool
	refresher Refresher
	resolver  ProjectResolver
	endpoints []string
	client    Doer

	refreshSkew time.Duration
	transform   Transformer
	bus         *events.Bus
	attempts    *requestlog.Log // nil unless debug tooling is on

	// clearHostCreds wipes the host-side stored credential when the last
	// account is evicted on invalid_grant.
	clearHostCreds func()
}

type Options struct {
	Pool           *account.Pool
	Refresher      Refresher
	Resolver       ProjectResolver
	Endpoints      []string
	Client         Doer
	RefreshSkew    time.Duration
	Transform      Transformer
	Bus            *events.Bus
	Attempts       *requestlog.Log
	ClearHostCreds func()
}

func NewEngine(opts Options) *Engine {
	e := &Engine{
		pool:           opts.Pool,
		refresher:      opts.Refresher,
		resolver:       opts.Resolver,
		endpoints:      opts.Endpoints,
		client:         opts.Client,
		refreshSkew:    opts.RefreshSkew,
		transform:      opts.Transform,
		bus:            opts.Bus,
		attempts:       opts.Attempts,
		clearHostCreds: opts.ClearHostCreds,
	}
	if e.refreshSkew <= 0 {
		e.refreshSkew = 60 * time.Second
	}
	if e.transform == nil {
		e.transform = PassThrough
	}
	return e
}

// Fetch is the host-facing entry. Non-generative calls pass straight
// through to the underlying client.
func (e *Engine) Fetch(req *http.Request) (*http.Response, error) {
	if !rewrite.IsGenerativeRequest(req.URL) {
		return e.client.Do(req)
	}

	if e.pool.Count() == 0 {
		return nil, ErrNoAccounts
	}

	body, err := readBody(req)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}

	ctx := req.Context()

	var (
		lastFailure  *http.Response
		lastPrepared *rewrite.Prepared
		lastErr      error
	)

	saveFailure := func(resp *http.Response, prep *rewrite.Prepared) {
		if lastFailure != nil {
			lastFailure.Body.Close()
		}
		lastFailure = resp
		lastPrepared = prep
	}

	// Bound the account loop by the pool size at entry; evictions mid-flight
	// shrink the effective attempts on their own.
	attempts := e.pool.Count()

	for attempt := 0; attempt < attempts; attempt++ {
		acct := e.pool.PickNext()
		if acct == nil {
			if lastFailure != nil {
				lastFailure.Body.Close()
			}
			return nil, &AllCooledError{Wait: e.pool.MinWait(), Accounts: e.pool.Count()}
		}
		e.persist()

		rec, err := e.ensureToken(ctx, acct)
		if err != nil {
			if errors.Is(err, ErrReauthenticate) {
				if lastFailure != nil {
					lastFailure.Body.Close()
				}
				return nil, err
			}
			lastErr = err
			continue
		}

		rec, projectID, err := e.ensureProject(ctx, acct, rec)
		if err != nil {
			slog.Warn("project resolution failed", "email", acct.Email, "error", err)
			lastErr = err
			continue
		}

		cooled := false
		for i, endpoint := range e.endpoints {
			prep, err := rewrite.Prepare(req, body, rec.Access, projectID, endpoint)
			if err != nil {
				lastErr = err
				continue
			}

			start := time.Now()
			resp, err := e.client.Do(prep.Request)
			if err != nil {
				e.logAttempt(ctx, acct, prep, 0, "error", start)
				lastErr = err
				if i < len(e.endpoints)-1 {
					slog.Debug("endpoint attempt failed", "endpoint", endpoint, "error", err)
					continue
				}
				break
			}

			left := len(e.endpoints) - 1 - i
			switch Classify(resp.StatusCode, e.pool.Count(), left) {
			case OutcomeCooldown:
				retryAfter := RetryAfter(resp.Header)
				e.pool.MarkRateLimited(acct, retryAfter)
				e.persist()
				e.publish(events.Event{
					Type:     events.EventRateLimit,
					Email:    acct.Email,
					Endpoint: endpoint,
					Message:  fmt.Sprintf("cooling down for %s", retryAfter),
				})
				slog.Info("account rate-limited", "email", acct.Email, "retryAfter", retryAfter)
				e.logAttempt(ctx, acct, prep, resp.StatusCode, "cooldown", start)
				saveFailure(resp, prep)
				cooled = true

			case OutcomeEndpointFallback:
				slog.Debug("endpoint fallback", "endpoint", endpoint, "status", resp.StatusCode)
				e.logAttempt(ctx, acct, prep, resp.StatusCode, "fallback", start)
				saveFailure(resp, prep)

			case OutcomeReturn:
				e.logAttempt(ctx, acct, prep, resp.StatusCode, "return", start)
				if lastFailure != nil && lastFailure != resp {
					lastFailure.Body.Close()
				}
				return e.transform(resp, prep)
			}

			if cooled {
				break
			}
		}
	}

	if lastFailure != nil {
		return e.transform(lastFailure, lastPrepared)
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("all accounts failed")
}

// ensureToken materializes the auth record, refreshing lazily when the
// cached access token is absent or inside the expiry skew.
func (e *Engine) ensureToken(ctx context.Context, acct *account.Account) (account.AuthRecord, error) {
	rec := e.pool.ToAuthDetails(acct)
	if acct.TokenValid(time.Now(), e.refreshSkew) {
		return rec, nil
	}

	fresh, err := e.refresher.Refresh(ctx, rec)
	if err != nil {
		if errors.Is(err, oauth.ErrInvalidGrant) {
			return rec, e.evict(acct, err)
		}
		slog.Warn("token refresh failed", "email", acct.Email, "error", err)
		return rec, err
	}

	e.pool.UpdateFromAuth(acct, fresh)
	e.persist()
	e.publish(events.Event{Type: events.EventRefresh, Email: acct.Email, Message: "access token refreshed"})
	return fresh, nil
}

// evict removes an account whose refresh token was revoked. Emptying the
// pool additionally clears the host credential store.
func (e *Engine) evict(acct *account.Account, cause error) error {
	e.pool.RemoveAccount(acct)
	e.persist()
	e.publish(events.Event{Type: events.EventEvict, Email: acct.Email, Message: "refresh token revoked"})
	slog.Warn("account evicted, refresh token revoked", "email", acct.Email)

	if e.pool.Count() == 0 {
		if e.clearHostCreds != nil {
			e.clearHostCreds()
		}
		return ErrReauthenticate
	}
	return cause
}

func (e *Engine) ensureProject(ctx context.Context, acct *account.Account, rec account.AuthRecord) (account.AuthRecord, string, error) {
	resolved, projectID, err := e.resolver.EnsureProjectContext(ctx, rec)
	if err != nil {
		return rec, "", err
	}
	if resolved.Refresh != rec.Refresh {
		e.pool.UpdateFromAuth(acct, resolved)
		e.persist()
	}
	return resolved, projectID, nil
}

// persist is the best-effort flush after each pool transition.
func (e *Engine) persist() {
	if err := e.pool.Save(); err != nil {
		slog.Error("account pool save failed", "error", err)
	}
}

func (e *Engine) publish(ev events.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}

func (e *Engine) logAttempt(ctx context.Context, acct *account.Account, prep *rewrite.Prepared, status int, outcome string, start time.Time) {
	if e.attempts == nil {
		return
	}
	err := e.attempts.Insert(ctx, &requestlog.Attempt{
		Email:      acct.Email,
		Endpoint:   prep.Endpoint,
		Model:      prep.EffectiveModel,
		Status:     status,
		Outcome:    outcome,
		DurationMs: time.Since(start).Milliseconds(),
	})
	if err != nil {
		slog.Debug("attempt log write failed", "error", err)
	}
}

func readBody(req *http.Request) ([]byte, error) {
	if req.Body == nil {
		return nil, nil
	}
	defer req.Body.Close()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	req.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
