package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func clearHeadlessEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"OPENCODE_HEADLESS", "SSH_CONNECTION", "SSH_CLIENT", "SSH_TTY"} {
		t.Setenv(key, "")
	}
}

func TestHeadlessDetection(t *testing.T) {
	clearHeadlessEnv(t)
	require.False(t, Headless())

	for _, key := range []string{"OPENCODE_HEADLESS", "SSH_CONNECTION", "SSH_CLIENT", "SSH_TTY"} {
		t.Run(key, func(t *testing.T) {
			clearHeadlessEnv(t)
			t.Setenv(key, "1")
			require.True(t, Headless())
		})
	}
}

func TestDefaultEndpointsInFallbackOrder(t *testing.T) {
	t.Setenv("OPENCODE_ANTIGRAVITY_ENDPOINTS", "")
	cfg := Load()
	require.Equal(t, []string{EndpointDaily, EndpointAutopush, EndpointProd}, cfg.Endpoints)
	require.NoError(t, cfg.Validate())
}

func TestEndpointsOverride(t *testing.T) {
	t.Setenv("OPENCODE_ANTIGRAVITY_ENDPOINTS", " https://a.test , https://b.test ,")
	cfg := Load()
	require.Equal(t, []string{"https://a.test", "https://b.test"}, cfg.Endpoints)
}

func TestDebugFlagTruthiness(t *testing.T) {
	for value, want := range map[string]bool{
		"":      false,
		"0":     false,
		"false": false,
		"off":   false,
		"1":     true,
		"true":  true,
		"yes":   true,
		"on":    true,
	} {
		t.Setenv("OPENCODE_ANTIGRAVITY_DEBUG", value)
		require.Equal(t, want, Load().Debug, "value %q", value)
	}
}

func TestClientMetadataIsNumericEnumJSON(t *testing.T) {
	var meta map[string]int
	require.NoError(t, json.Unmarshal([]byte(ClientMetadata()), &meta))
	require.Equal(t, 6, meta["ideType"])
	require.Equal(t, 2, meta["pluginType"])
	require.Contains(t, meta, "platform")
}

func TestUserAgentShape(t *testing.T) {
	require.Regexp(t, `^antigravity/\d+\.\d+\.\d+ \w+/\w+$`, UserAgent())
}
