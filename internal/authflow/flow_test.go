package authflow

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExtractCodeState(t *testing.T) {
	cases := []struct {
		name      string
		input     string
		wantCode  string
		wantState string
	}{
		{"full redirect URL", "http://127.0.0.1:5117/oauth-callback?code=ABC&state=XYZ", "ABC", "XYZ"},
		{"redirect URL without state", "http://127.0.0.1:5117/oauth-callback?code=ABC", "ABC", "FALLBACK"},
		{"bare code", "ABC", "ABC", "FALLBACK"},
		{"bare code with hash", "ABC#junk", "ABC", "FALLBACK"},
		{"bare code with query tail", "ABC&scope=email", "ABC", "FALLBACK"},
		{"code= prefix", "code=ABC", "ABC", "FALLBACK"},
		{"surrounding whitespace", "  ABC \n", "ABC", "FALLBACK"},
		{"empty", "", "", "FALLBACK"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, state := ExtractCodeState(tc.input, "FALLBACK")
			require.Equal(t, tc.wantCode, code)
			require.Equal(t, tc.wantState, state)
		})
	}
}

func TestListenerResolvesOnMatchingRedirect(t *testing.T) {
	l, err := NewListener()
	require.NoError(t, err)
	defer l.Close()

	redirectURL := l.RedirectURL()
	require.Contains(t, redirectURL, "127.0.0.1")

	go func() {
		resp, err := http.Get(fmt.Sprintf("%s?code=THECODE&state=GOOD", redirectURL))
		if err == nil {
			resp.Body.Close()
		}
	}()

	code, err := l.Await(context.Background(), "GOOD", 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, "THECODE", code)
}

func TestListenerIgnoresMismatchedState(t *testing.T) {
	l, err := NewListener()
	require.NoError(t, err)
	defer l.Close()

	resp, err := http.Get(l.RedirectURL() + "?code=EVIL&state=WRONG")
	require.NoError(t, err)
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, err = l.Await(ctx, "EXPECTED", time.Minute)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestListenerCloseIdempotent(t *testing.T) {
	l, err := NewListener()
	require.NoError(t, err)

	l.Close()
	l.Close()

	// The port is released: a later redirect attempt fails to connect.
	_, err = (&http.Client{Timeout: time.Second}).Get(l.RedirectURL())
	require.Error(t, err)
}

func TestListenerAwaitTimeout(t *testing.T) {
	l, err := NewListener()
	require.NoError(t, err)
	defer l.Close()

	_, err = l.Await(context.Background(), "STATE", 100*time.Millisecond)
	require.Error(t, err)
	require.Contains(t, err.Error(), "timed out")
}
