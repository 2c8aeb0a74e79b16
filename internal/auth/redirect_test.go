package auth

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestListener(t *testing.T, state string) *redirectListener {
	t.Helper()

	rl, err := startRedirectListener(context.Background(), "127.0.0.1", 0, state, slog.Default())
	require.NoError(t, err)
	t.Cleanup(rl.Close)

	return rl
}

func get(t *testing.T, rl *redirectListener, q url.Values) int {
	t.Helper()

	resp, err := http.Get(rl.RedirectURI() + "/?" + q.Encode())
	require.NoError(t, err)
	resp.Body.Close()

	return resp.StatusCode
}

func TestRedirectListener_CapturesExactlyOneCode(t *testing.T) {
	rl := startTestListener(t, "s1")

	assert.Equal(t, http.StatusOK, get(t, rl, url.Values{"state": {"s1"}, "code": {"first"}}))
	assert.Equal(t, http.StatusGone, get(t, rl, url.Values{"state": {"s1"}, "code": {"second"}}))

	code, err := rl.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", code)
}

func TestRedirectListener_IgnoresWrongState(t *testing.T) {
	rl := startTestListener(t, "expected")

	assert.Equal(t, http.StatusBadRequest, get(t, rl, url.Values{"state": {"forged"}, "code": {"evil"}}))
	assert.Equal(t, http.StatusBadRequest, get(t, rl, url.Values{"state": {"expected"}}))
	assert.Equal(t, http.StatusOK, get(t, rl, url.Values{"state": {"expected"}, "code": {"good"}}))

	code, err := rl.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "good", code)
}

func TestRedirectListener_WaitHonoursContext(t *testing.T) {
	rl := startTestListener(t, "s")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := rl.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedirectListener_CloseStopsServing(t *testing.T) {
	rl := startTestListener(t, "s")
	uri := rl.RedirectURI()

	rl.Close()
	rl.Close()

	client := &http.Client{Timeout: time.Second}
	_, err := client.Get(uri + "/?state=s&code=c")
	assert.Error(t, err)
}

func TestRedirectListener_FixedPortInUse(t *testing.T) {
	rl := startTestListener(t, "s")

	u, err := url.Parse(rl.RedirectURI())
	require.NoError(t, err)

	n, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	_, err = startRedirectListener(context.Background(), "127.0.0.1", n, "s", slog.Default())
	assert.Error(t, err)
}

func TestGenerateState(t *testing.T) {
	a, err := generateState()
	require.NoError(t, err)

	b, err := generateState()
	require.NoError(t, err)

	assert.Len(t, a, stateTokenBytes*2)
	assert.NotEqual(t, a, b)
}
