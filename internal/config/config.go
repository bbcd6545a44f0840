package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Cloud Code API endpoints, in fallback order.
const (
	EndpointDaily    = "https://daily-cloudcode-pa.sandbox.googleapis.com"
	EndpointAutopush = "https://autopush-cloudcode-pa.sandbox.googleapis.com"
	EndpointProd     = "https://cloudcode-pa.googleapis.com"
)

// Google OAuth configuration for the Antigravity client.
const (
	OAuthClientID     = "1071006060591-tmhssin2h21lcre235vtolojh4g403ep.apps.googleusercontent.com"
	OAuthClientSecret = "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"
	OAuthAuthURL      = "https://accounts.google.com/o/oauth2/v2/auth"
	OAuthTokenURL     = "https://oauth2.googleapis.com/token"
	OAuthUserInfoURL  = "https://www.googleapis.com/oauth2/v2/userinfo"
)

// OAuthScopes are the scopes the Antigravity client requests.
var OAuthScopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
	"https://www.googleapis.com/auth/cclog",
	"https://www.googleapis.com/auth/experimentsandconfigs",
}

// Client metadata enums as expected by the Cloud Code API.
const (
	ideTypeAntigravity = 6
	pluginTypeGemini   = 2

	platformUnspecified = 0
	platformWindows     = 1
	platformLinux       = 2
	platformMacOS       = 3
)

type Config struct {
	// Upstream
	Endpoints []string

	// Pool
	AccountsPath string
	MaxAccounts  int

	// Tokens
	TokenRefreshAdvance time.Duration
	EncryptionKey       string

	// Dispatch
	DefaultCooldown time.Duration
	RequestTimeout  time.Duration

	// Debug tooling
	Debug      bool
	DebugDir   string
	AttemptsDB string
	LogLevel   string
}

func Load() *Config {
	return &Config{
		Endpoints: envList("OPENCODE_ANTIGRAVITY_ENDPOINTS", []string{
			EndpointDaily,
			EndpointAutopush,
			EndpointProd,
		}),

		AccountsPath: envOr("OPENCODE_ANTIGRAVITY_ACCOUNTS", defaultAccountsPath()),
		MaxAccounts:  envInt("OPENCODE_ANTIGRAVITY_MAX_ACCOUNTS", 10),

		TokenRefreshAdvance: envDuration("OPENCODE_ANTIGRAVITY_REFRESH_ADVANCE", 60*time.Second),
		EncryptionKey:       os.Getenv("OPENCODE_ANTIGRAVITY_ENCRYPTION_KEY"),

		DefaultCooldown: envDuration("OPENCODE_ANTIGRAVITY_DEFAULT_COOLDOWN", 60*time.Second),
		RequestTimeout:  envDuration("OPENCODE_ANTIGRAVITY_REQUEST_TIMEOUT", 10*time.Minute),

		Debug:      envTruthy("OPENCODE_ANTIGRAVITY_DEBUG"),
		DebugDir:   envOr("OPENCODE_ANTIGRAVITY_DEBUG_DIR", "."),
		AttemptsDB: envOr("OPENCODE_ANTIGRAVITY_ATTEMPTS_DB", "antigravity-attempts.db"),
		LogLevel:   envOr("LOG_LEVEL", "info"),
	}
}

func (c *Config) Validate() error {
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("empty endpoint list")
	}
	if c.AccountsPath == "" {
		return fmt.Errorf("accounts path unresolved (no home directory?)")
	}
	return nil
}

// Headless reports whether interactive login must avoid opening a browser.
// Any of the standard ssh/tty signals, or the explicit opt-in flag, count.
func Headless() bool {
	for _, key := range []string{"OPENCODE_HEADLESS", "SSH_CONNECTION", "SSH_CLIENT", "SSH_TTY"} {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

func defaultAccountsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "antigravity-accounts.json")
}

// UserAgent is the platform-specific client identification string.
func UserAgent() string {
	return fmt.Sprintf("antigravity/1.16.5 %s/%s", runtime.GOOS, runtime.GOARCH)
}

// ClientMetadata is the Client-Metadata header value with numeric enum values.
func ClientMetadata() string {
	metadata := map[string]int{
		"ideType":    ideTypeAntigravity,
		"platform":   platformEnum(),
		"pluginType": pluginTypeGemini,
	}
	data, _ := json.Marshal(metadata)
	return string(data)
}

func platformEnum() int {
	switch runtime.GOOS {
	case "darwin":
		return platformMacOS
	case "windows":
		return platformWindows
	case "linux":
		return platformLinux
	default:
		return platformUnspecified
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func envTruthy(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "", "0", "false", "no", "off":
		return false
	}
	return true
}
