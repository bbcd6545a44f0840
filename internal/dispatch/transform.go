package dispatch

import (
	"net/http"

	"github.com/ink-splatters/opencode-antigravity-auth/internal/rewrite"
)

// Transformer converts a successful upstream response back into the shape
// the host expects. The engine treats it as opaque; the host plugin supplies
// its own for streamed and non-streamed bodies.
type Transformer func(resp *http.Response, prep *rewrite.Prepared) (*http.Response, error)

// PassThrough forwards the upstream response unchanged.
func PassThrough(resp *http.Response, _ *rewrite.Prepared) (*http.Response, error) {
	return resp, nil
}
