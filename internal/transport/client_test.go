package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffDelayWithinJitterBounds(t *testing.T) {
	rc := RetryConfig{InitialDelayMs: 500, MaxDelayMs: 10_000}

	for n := 1; n <= 4; n++ {
		base := float64(500) * pow2(n-1)
		lo := time.Duration(base*0.75) * time.Millisecond
		hi := time.Duration(base*1.25) * time.Millisecond
		if max := 10_000 * time.Millisecond; hi > max {
			hi = max
		}

		for i := 0; i < 50; i++ {
			d := backoffDelay(rc, n)
			require.GreaterOrEqual(t, d, lo, "attempt %d", n)
			require.LessOrEqual(t, d, hi, "attempt %d", n)
		}
	}
}

func TestBackoffDelayCappedAtMax(t *testing.T) {
	rc := RetryConfig{InitialDelayMs: 500, MaxDelayMs: 1000}

	for i := 0; i < 50; i++ {
		d := backoffDelay(rc, 10)
		require.LessOrEqual(t, d, 1000*time.Millisecond)
	}
}

func TestSelectProxyPrecedence(t *testing.T) {
	t.Setenv("SOCKS_PROXY", "socks5://localhost:1080")
	t.Setenv("HTTPS_PROXY", "https://localhost:3128")
	t.Setenv("HTTP_PROXY", "http://localhost:8080")

	require.Equal(t, "https://explicit:443", selectProxy("https://explicit:443"))
	require.Equal(t, "socks5://localhost:1080", selectProxy(""))

	t.Setenv("SOCKS_PROXY", "")
	require.Equal(t, "https://localhost:3128", selectProxy(""))

	t.Setenv("HTTPS_PROXY", "")
	require.Equal(t, "http://localhost:8080", selectProxy(""))
}

func TestParamsToStrings(t *testing.T) {
	out := ParamsToStrings(map[string]any{
		"active": true,
		"limit":  100,
		"min":    0.5,
		"tag":    "politics",
	})
	require.Equal(t, map[string]string{
		"active": "true",
		"limit":  "100",
		"min":    "0.5",
		"tag":    "politics",
	}, out)
}
