// Package rewrite turns a host generative-language call into a request
// against a specific Cloud Code endpoint, with a specific access token and
// project. Prepare is pure: it never touches pool or network state, so the
// dispatch engine can call it once per endpoint attempt.
package rewrite

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/ink-splatters/opencode-antigravity-auth/internal/config"
)

// generative methods on the v1internal surface.
var generativeMethods = []string{
	":generateContent",
	":streamGenerateContent",
	":countTokens",
}

// IsGenerativeRequest reports whether the URL targets the Cloud Code
// generative-language surface. Anything else passes through untouched.
func IsGenerativeRequest(u *url.URL) bool {
	if u == nil {
		return false
	}
	if !strings.Contains(u.Host, "cloudcode-pa") {
		return false
	}
	if !strings.Contains(u.Path, "/v1internal") {
		return false
	}
	for _, m := range generativeMethods {
		if strings.Contains(u.Path, m) {
			return true
		}
	}
	return false
}

// Prepared is the rewritten call plus the context the classifier and
// transformer need afterwards.
type Prepared struct {
	Request        *http.Request
	Streaming      bool
	RequestedModel string
	EffectiveModel string
	ProjectID      string
	Endpoint       string
}

// Prepare rewrites the original call to target endpoint. body is the
// original request body, already read by the caller; the returned request
// owns its own copy so endpoint attempts never share a consumed reader.
func Prepare(orig *http.Request, body []byte, accessToken, projectID, endpoint string) (*Prepared, error) {
	target, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}

	rewritten := *orig.URL
	rewritten.Scheme = target.Scheme
	rewritten.Host = target.Host

	outBody, requestedModel := injectProject(body, projectID)

	req, err := http.NewRequestWithContext(orig.Context(), orig.Method, rewritten.String(), bytes.NewReader(outBody))
	if err != nil {
		return nil, err
	}
	req.Header = orig.Header.Clone()
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", config.UserAgent())
	req.Header.Set("Client-Metadata", config.ClientMetadata())
	req.ContentLength = int64(len(outBody))

	return &Prepared{
		Request:        req,
		Streaming:      isStreaming(orig.URL, orig.Header),
		RequestedModel: requestedModel,
		EffectiveModel: normalizeModel(requestedModel),
		ProjectID:      projectID,
		Endpoint:       endpoint,
	}, nil
}

// injectProject sets the top-level project field the Cloud Code protocol
// expects, stamps a requestId when the host did not provide one, and pulls
// out the requested model. A body that is not a JSON object is forwarded
// unchanged.
func injectProject(body []byte, projectID string) ([]byte, string) {
	if len(body) == 0 {
		return body, ""
	}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return body, ""
	}

	var model string
	if raw, ok := payload["model"]; ok {
		_ = json.Unmarshal(raw, &model)
	}

	proj, _ := json.Marshal(projectID)
	payload["project"] = proj

	if _, ok := payload["requestId"]; !ok {
		rid, _ := json.Marshal("agent-" + uuid.NewString())
		payload["requestId"] = rid
	}

	out, err := json.Marshal(payload)
	if err != nil {
		return body, model
	}
	return out, model
}

func isStreaming(u *url.URL, h http.Header) bool {
	if strings.Contains(u.Path, ":streamGenerateContent") {
		return true
	}
	if u.Query().Get("alt") == "sse" {
		return true
	}
	return strings.Contains(h.Get("Accept"), "text/event-stream")
}

// normalizeModel strips host-side context-window tags like "[1m]" so the
// upstream sees the bare model id.
func normalizeModel(model string) string {
	if i := strings.Index(model, "["); i > 0 && strings.HasSuffix(model, "]") {
		return model[:i]
	}
	return model
}
