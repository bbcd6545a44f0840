package plugin

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testProvider(t *testing.T) *Provider {
	t.Helper()
	t.Setenv("OPENCODE_ANTIGRAVITY_ACCOUNTS", filepath.Join(t.TempDir(), "accounts.json"))
	t.Setenv("OPENCODE_ANTIGRAVITY_DEBUG", "")
	t.Setenv("OPENCODE_ANTIGRAVITY_PROXY", "")
	return NewProvider("antigravity")
}

func TestLoaderAssemblesFetch(t *testing.T) {
	p := testProvider(t)
	defer p.Close()

	loader, err := p.Loader(nil)
	require.NoError(t, err)
	require.Empty(t, loader.APIKey, "auth happens per request, not via api key")
	require.NotNil(t, loader.Fetch)

	// The loader is memoized.
	again, err := p.Loader(nil)
	require.NoError(t, err)
	require.NotNil(t, again)
}

func TestMethodsShape(t *testing.T) {
	p := testProvider(t)
	defer p.Close()

	methods := p.Methods()
	require.Len(t, methods, 2)

	require.Equal(t, "oauth", methods[0].Kind)
	require.NotNil(t, methods[0].Authorize)

	require.Equal(t, "api", methods[1].Kind)
	require.Nil(t, methods[1].Authorize)
}
