// Package plugin is the host-facing entrypoint: a factory keyed by provider
// id that exposes the dispatch engine as a fetch-like loader plus the
// authentication methods the host UI renders.
package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ink-splatters/opencode-antigravity-auth/internal/account"
	"github.com/ink-splatters/opencode-antigravity-auth/internal/authflow"
	"github.com/ink-splatters/opencode-antigravity-auth/internal/authstore"
	"github.com/ink-splatters/opencode-antigravity-auth/internal/config"
	"github.com/ink-splatters/opencode-antigravity-auth/internal/debuglog"
	"github.com/ink-splatters/opencode-antigravity-auth/internal/dispatch"
	"github.com/ink-splatters/opencode-antigravity-auth/internal/events"
	"github.com/ink-splatters/opencode-antigravity-auth/internal/oauth"
	"github.com/ink-splatters/opencode-antigravity-auth/internal/project"
	"github.com/ink-splatters/opencode-antigravity-auth/internal/requestlog"
	"github.com/ink-splatters/opencode-antigravity-auth/internal/transport"
)

// GetAuth reads the host's stored credential for this provider.
type GetAuth func(ctx context.Context) (account.AuthRecord, error)

// ClearAuth wipes the host's stored credential. Called when every pooled
// refresh token turned out revoked.
type ClearAuth func()

// Loader is what the host mounts: an empty api key (auth happens per
// request) and the dispatch fetch.
type Loader struct {
	APIKey string
	Fetch  func(*http.Request) (*http.Response, error)
}

// AuthorizeResult is one started sign-in, handed to the host UI.
type AuthorizeResult struct {
	URL          string
	Instructions string
	Method       string // "auto": callback resolves on browser redirect; "code": host passes pasted input
	Callback     func(ctx context.Context, input string) (account.AuthRecord, error)
}

// Method is one way to authenticate this provider.
type Method struct {
	Kind      string // "oauth" or "api"
	Label     string
	Authorize func(ctx context.Context) (*AuthorizeResult, error) // oauth only
}

// Provider is the factory product for one provider id.
type Provider struct {
	ID  string
	cfg *config.Config

	clearAuth ClearAuth

	initOnce sync.Once
	initErr  error
	pool     *account.Pool
	oauth    *oauth.Client
	engine   *dispatch.Engine
	bus      *events.Bus
	sink     *debuglog.Sink
}

// NewProvider builds the plugin for a provider id ("antigravity").
func NewProvider(id string) *Provider {
	return &Provider{ID: id, cfg: config.Load(), bus: events.NewBus(200)}
}

// SetClearAuth installs the host's credential-wipe hook.
func (p *Provider) SetClearAuth(fn ClearAuth) { p.clearAuth = fn }

// Bus exposes lifecycle events to the host.
func (p *Provider) Bus() *events.Bus { return p.bus }

// Loader assembles the dispatch stack. getAuth seeds the pool when the
// accounts document is empty but the host still holds a composite refresh.
func (p *Provider) Loader(getAuth GetAuth) (*Loader, error) {
	p.initOnce.Do(func() { p.initErr = p.init(getAuth) })
	if p.initErr != nil {
		return nil, p.initErr
	}
	return &Loader{APIKey: "", Fetch: p.engine.Fetch}, nil
}

func (p *Provider) init(getAuth GetAuth) error {
	if err := p.cfg.Validate(); err != nil {
		return err
	}

	level := parseLevel(p.cfg.LogLevel)
	var attempts *requestlog.Log
	if p.cfg.Debug {
		sink, err := debuglog.Open(p.cfg.DebugDir)
		if err != nil {
			slog.Warn("debug sink unavailable", "error", err)
		} else {
			p.sink = sink
			slog.SetDefault(slog.New(sink.Handler(level)))
			sink.Attach(context.Background(), p.bus)
		}
		attempts, err = requestlog.Open(filepath.Join(p.cfg.DebugDir, p.cfg.AttemptsDB))
		if err != nil {
			slog.Warn("attempt log unavailable", "error", err)
			attempts = nil
		}
	}

	store, err := authstore.New(p.cfg.AccountsPath, p.cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("init account store: %w", err)
	}

	var seed account.AuthRecord
	if getAuth != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if rec, err := getAuth(ctx); err == nil {
			seed = rec
		}
	}

	pool, err := account.LoadPool(store, seed)
	if err != nil {
		return fmt.Errorf("load account pool: %w", err)
	}
	p.pool = pool

	proxyCfg, err := transport.ParseProxy(os.Getenv("OPENCODE_ANTIGRAVITY_PROXY"))
	if err != nil {
		return err
	}
	tm := transport.NewManager(proxyCfg, p.cfg.RequestTimeout)

	p.oauth = oauth.NewClient("")
	resolver := project.NewResolver(p.cfg.Endpoints, tm.Client())

	clear := func() {
		if err := store.Delete(); err != nil {
			slog.Error("clear stored accounts failed", "error", err)
		}
		if p.clearAuth != nil {
			p.clearAuth()
		}
	}

	p.engine = dispatch.NewEngine(dispatch.Options{
		Pool:           pool,
		Refresher:      p.oauth,
		Resolver:       resolver,
		Endpoints:      p.cfg.Endpoints,
		Client:         tm,
		RefreshSkew:    p.cfg.TokenRefreshAdvance,
		Bus:            p.bus,
		Attempts:       attempts,
		ClearHostCreds: clear,
	})
	return nil
}

// Methods lists the authentication methods the host offers for this
// provider: browser sign-in and manual API key entry.
func (p *Provider) Methods() []Method {
	return []Method{
		{
			Kind:      "oauth",
			Label:     "Sign in with Google (Antigravity)",
			Authorize: p.authorizeSingle,
		},
		{
			Kind:  "api",
			Label: "Manually enter an API key",
		},
	}
}

// authorizeSingle is the host-embedded single-account connect flow. No
// project prompt: the project resolver provisions a managed project on the
// first dispatch.
func (p *Provider) authorizeSingle(ctx context.Context) (*AuthorizeResult, error) {
	if p.pool == nil {
		if _, err := p.Loader(nil); err != nil {
			return nil, err
		}
	}

	if config.Headless() {
		p.oauth.SetRedirectURL("http://127.0.0.1/oauth-callback")
		auth, err := p.oauth.Authorize("")
		if err != nil {
			return nil, err
		}
		return &AuthorizeResult{
			URL:          auth.URL,
			Instructions: "Open the URL in a browser, then paste the redirect URL or the authorization code.",
			Method:       "code",
			Callback: func(ctx context.Context, input string) (account.AuthRecord, error) {
				code, state := authflow.ExtractCodeState(input, auth.State)
				return p.finishExchange(ctx, code, state)
			},
		}, nil
	}

	listener, err := authflow.NewListener()
	if err != nil {
		return nil, err
	}
	p.oauth.SetRedirectURL(listener.RedirectURL())
	auth, err := p.oauth.Authorize("")
	if err != nil {
		listener.Close()
		return nil, err
	}
	return &AuthorizeResult{
		URL:          auth.URL,
		Instructions: "Complete the sign-in in your browser.",
		Method:       "auto",
		Callback: func(ctx context.Context, _ string) (account.AuthRecord, error) {
			defer listener.Close()
			code, err := listener.Await(ctx, auth.State, 5*time.Minute)
			if err != nil {
				return account.AuthRecord{}, err
			}
			return p.finishExchange(ctx, code, auth.State)
		},
	}, nil
}

func (p *Provider) finishExchange(ctx context.Context, code, state string) (account.AuthRecord, error) {
	if code == "" {
		return account.AuthRecord{}, fmt.Errorf("no authorization code provided")
	}
	result, err := p.oauth.Exchange(ctx, code, state)
	if err != nil {
		return account.AuthRecord{}, err
	}
	rec := account.AuthRecord{Type: "oauth", Refresh: result.Refresh}
	p.pool.AddOrUpdate(result.Email, rec)
	if err := p.pool.Save(); err != nil {
		slog.Error("account pool save failed", "error", err)
	}
	return rec, nil
}

// Close releases the debug sink and attempt log.
func (p *Provider) Close() {
	if p.sink != nil {
		if err := p.sink.Close(); err != nil {
			slog.Debug("debug sink close failed", "error", err)
		}
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
