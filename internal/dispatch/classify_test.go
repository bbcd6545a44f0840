package dispatch

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryAfterParsing(t *testing.T) {
	cases := []struct {
		name    string
		headers map[string]string
		want    time.Duration
	}{
		{"retry-after-ms wins", map[string]string{"retry-after-ms": "1500", "retry-after": "99"}, 1500 * time.Millisecond},
		{"retry-after seconds", map[string]string{"retry-after": "3"}, 3 * time.Second},
		{"absent", nil, DefaultRetryAfter},
		{"malformed ms", map[string]string{"retry-after-ms": "soon"}, DefaultRetryAfter},
		{"malformed seconds", map[string]string{"retry-after": "soon"}, DefaultRetryAfter},
		{"zero ms falls through", map[string]string{"retry-after-ms": "0"}, DefaultRetryAfter},
		{"negative seconds falls through", map[string]string{"retry-after": "-2"}, DefaultRetryAfter},
		{"zero ms but valid seconds", map[string]string{"retry-after-ms": "0", "retry-after": "2"}, 2 * time.Second},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := http.Header{}
			for k, v := range tc.headers {
				h.Set(k, v)
			}
			require.Equal(t, tc.want, RetryAfter(h))
		})
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name          string
		status        int
		poolSize      int
		endpointsLeft int
		want          Outcome
	}{
		{"429 with two accounts cools", 429, 2, 2, OutcomeCooldown},
		{"429 with two accounts cools even on last endpoint", 429, 3, 0, OutcomeCooldown},
		{"429 single account falls back", 429, 1, 1, OutcomeEndpointFallback},
		{"429 single account last endpoint returns", 429, 1, 0, OutcomeReturn},
		{"403 falls back", 403, 1, 2, OutcomeEndpointFallback},
		{"404 falls back", 404, 2, 1, OutcomeEndpointFallback},
		{"500 falls back", 500, 1, 1, OutcomeEndpointFallback},
		{"503 last endpoint returns", 503, 1, 0, OutcomeReturn},
		{"200 returns", 200, 3, 2, OutcomeReturn},
		{"400 returns", 400, 3, 2, OutcomeReturn},
		{"401 returns", 401, 3, 2, OutcomeReturn},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Classify(tc.status, tc.poolSize, tc.endpointsLeft))
		})
	}
}
