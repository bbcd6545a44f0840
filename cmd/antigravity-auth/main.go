package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/ink-splatters/opencode-antigravity-auth/internal/account"
	"github.com/ink-splatters/opencode-antigravity-auth/internal/authflow"
	"github.com/ink-splatters/opencode-antigravity-auth/internal/authstore"
	"github.com/ink-splatters/opencode-antigravity-auth/internal/config"
	"github.com/ink-splatters/opencode-antigravity-auth/internal/debuglog"
	"github.com/ink-splatters/opencode-antigravity-auth/internal/oauth"
)

var version = "dev"

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if cfg.Debug {
		sink, err := debuglog.Open(cfg.DebugDir)
		if err != nil {
			slog.Error("debug sink init failed", "error", err)
			os.Exit(1)
		}
		defer sink.Close()
		slog.SetDefault(slog.New(sink.Handler(level)))
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	}

	cmd := "login"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	var err error
	switch cmd {
	case "login":
		err = runLogin(cfg)
	case "accounts":
		err = runAccounts(cfg)
	case "logout":
		err = runLogout(cfg)
	case "version":
		fmt.Println("antigravity-auth", version)
	default:
		fmt.Fprintf(os.Stderr, "usage: antigravity-auth [login|accounts|logout|version]\n")
		os.Exit(2)
	}
	if err != nil {
		slog.Error(cmd+" failed", "error", err)
		os.Exit(1)
	}
}

func loadPool(cfg *config.Config) (*account.Pool, *authstore.Store, error) {
	store, err := authstore.New(cfg.AccountsPath, cfg.EncryptionKey)
	if err != nil {
		return nil, nil, err
	}
	pool, err := account.LoadPool(store, account.AuthRecord{})
	if err != nil {
		return nil, nil, err
	}
	return pool, store, nil
}

func runLogin(cfg *config.Config) error {
	pool, _, err := loadPool(cfg)
	if err != nil {
		return err
	}

	flow := authflow.New(oauth.NewClient(""), pool, os.Stdin, os.Stdout)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	return flow.RunEnrollment(ctx)
}

func runAccounts(cfg *config.Config) error {
	pool, _, err := loadPool(cfg)
	if err != nil {
		return err
	}

	accounts := pool.Accounts()
	if len(accounts) == 0 {
		fmt.Println("no accounts enrolled; run `antigravity-auth login`")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EMAIL\tPROJECT\tLAST USED\tSTATE")
	now := time.Now()
	for i := range accounts {
		a := &accounts[i]
		state := "ready"
		if a.CooledDown(now) {
			wait := time.UnixMilli(a.RateLimitResetTime).Sub(now).Round(time.Second)
			state = fmt.Sprintf("cooling (%s)", wait)
		}
		project := a.ProjectID
		if project == "" {
			project = a.ManagedProjectID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.Email, project, formatMillis(a.LastUsed), state)
	}
	return w.Flush()
}

func runLogout(cfg *config.Config) error {
	pool, store, err := loadPool(cfg)
	if err != nil {
		return err
	}
	n := pool.Count()
	if err := store.Delete(); err != nil {
		return err
	}
	fmt.Printf("removed %d account(s)\n", n)
	return nil
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "never"
	}
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04")
}
