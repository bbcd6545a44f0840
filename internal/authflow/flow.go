// Package authflow drives interactive Google sign-in: the headful loopback
// path, the headless paste path, and the multi-account CLI enrollment loop.
package authflow

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/ink-splatters/opencode-antigravity-auth/internal/account"
	"github.com/ink-splatters/opencode-antigravity-auth/internal/config"
	"github.com/ink-splatters/opencode-antigravity-auth/internal/oauth"
)

const redirectTimeout = 5 * time.Minute

type Flow struct {
	oauth       *oauth.Client
	pool        *account.Pool
	maxAccounts int

	in  *bufio.Reader
	out io.Writer

	headless    bool
	openBrowser func(string) error // test override
}

func New(client *oauth.Client, pool *account.Pool, in io.Reader, out io.Writer) *Flow {
	return &Flow{
		oauth:       client,
		pool:        pool,
		maxAccounts: 10,
		in:          bufio.NewReader(in),
		out:         out,
		headless:    config.Headless(),
		openBrowser: openBrowser,
	}
}

// RunEnrollment is the `opencode auth login` loop: enroll accounts one at a
// time, up to the cap, asking after each whether to add another.
func (f *Flow) RunEnrollment(ctx context.Context) error {
	for f.pool.Count() < f.maxAccounts {
		fmt.Fprintf(f.out, "Google Cloud project id (blank for a managed project): ")
		projectID, err := f.readLine()
		if err != nil {
			return err
		}

		result, err := f.Enroll(ctx, projectID)
		if err != nil {
			return err
		}
		fmt.Fprintf(f.out, "Signed in as %s (%d account(s) in pool)\n", result.Email, f.pool.Count())

		if f.pool.Count() >= f.maxAccounts {
			fmt.Fprintf(f.out, "Account limit reached (%d)\n", f.maxAccounts)
			break
		}
		fmt.Fprintf(f.out, "Add another account? [y/N] ")
		answer, err := f.readLine()
		if err != nil || !strings.HasPrefix(strings.ToLower(answer), "y") {
			break
		}
	}
	return nil
}

// Enroll runs one complete sign-in and adds the resulting account to the
// pool. The headful path opens a browser and awaits the loopback redirect;
// the headless path prints the URL and reads a pasted redirect URL or code.
func (f *Flow) Enroll(ctx context.Context, projectID string) (oauth.ExchangeResult, error) {
	var (
		code  string
		state string
	)

	if f.headless {
		f.oauth.SetRedirectURL("http://127.0.0.1/oauth-callback")
		auth, err := f.oauth.Authorize(projectID)
		if err != nil {
			return oauth.ExchangeResult{}, err
		}
		fmt.Fprintf(f.out, "\nOpen this URL in a browser, then paste the redirect URL (or the code) here:\n\n%s\n\n> ", auth.URL)
		line, err := f.readLine()
		if err != nil {
			return oauth.ExchangeResult{}, err
		}
		code, state = ExtractCodeState(line, auth.State)
	} else {
		listener, err := NewListener()
		if err != nil {
			return oauth.ExchangeResult{}, err
		}
		defer listener.Close()

		f.oauth.SetRedirectURL(listener.RedirectURL())
		auth, err := f.oauth.Authorize(projectID)
		if err != nil {
			return oauth.ExchangeResult{}, err
		}

		fmt.Fprintf(f.out, "\nOpening your browser to sign in...\n%s\n", auth.URL)
		if err := f.openBrowser(auth.URL); err != nil {
			slog.Warn("could not open a browser", "error", err)
		}

		code, err = listener.Await(ctx, auth.State, redirectTimeout)
		if err != nil {
			return oauth.ExchangeResult{}, err
		}
		state = auth.State
	}

	if code == "" {
		return oauth.ExchangeResult{}, fmt.Errorf("no authorization code provided")
	}

	result, err := f.oauth.Exchange(ctx, code, state)
	if err != nil {
		return oauth.ExchangeResult{}, err
	}

	rec := account.AuthRecord{Type: "oauth", Refresh: result.Refresh}
	f.pool.AddOrUpdate(result.Email, rec)
	if err := f.pool.Save(); err != nil {
		slog.Error("account pool save failed", "error", err)
	}
	return result, nil
}

// ExtractCodeState decodes a pasted redirect URL into (code, state). Bare
// input that does not parse as a URL is treated as the authorization code
// itself, joined with the originally generated state.
func ExtractCodeState(input, fallbackState string) (string, string) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", fallbackState
	}

	if u, err := url.Parse(s); err == nil && u.Scheme != "" {
		q := u.Query()
		if code := q.Get("code"); code != "" {
			state := q.Get("state")
			if state == "" {
				state = fallbackState
			}
			return code, state
		}
	}

	// Bare code, possibly with stray fragments like "code#state" or "code&...".
	for _, sep := range []string{"#", "&", "?"} {
		if i := strings.Index(s, sep); i >= 0 {
			s = s[:i]
		}
	}
	s = strings.TrimPrefix(s, "code=")
	return strings.TrimSpace(s), fallbackState
}

func (f *Flow) readLine() (string, error) {
	line, err := f.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func openBrowser(u string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", u).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", u).Start()
	default:
		return exec.Command("xdg-open", u).Start()
	}
}
