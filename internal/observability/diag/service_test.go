package diag

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "ctimer/pkg/logx"
)

func get(t *testing.T, url, token string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, http.NoBody)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func startService(t *testing.T, cfg Config, src Sources) *Service {
	t.Helper()
	s := New(cfg, src, logx.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(func() {
		s.Stop(context.Background())
		cancel()
	})
	s.Start(ctx)
	select {
	case <-s.Ready():
	case <-ctx.Done():
		t.Fatal("diag server did not start")
	}
	require.NotEmpty(t, s.Addr())
	return s
}

func TestEndpoints(t *testing.T) {
	var gotTimer string
	src := Sources{
		Timers: func() any { return map[string]int{"timers": 2} },
		Journal: func(ctx context.Context, timer string, limit int) (any, error) {
			gotTimer = timer
			return []int{limit}, nil
		},
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, "ctimer_up 1\n")
		}),
	}
	s := startService(t, Config{Enabled: true, Addr: "127.0.0.1:0", Pprof: true}, src)
	base := "http://" + s.Addr()

	code, body := get(t, base+"/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"ok"`)

	code, body = get(t, base+"/timers", "")
	assert.Equal(t, http.StatusOK, code)
	var timers map[string]int
	require.NoError(t, json.Unmarshal([]byte(body), &timers))
	assert.Equal(t, 2, timers["timers"])

	code, body = get(t, base+"/journal?timer=a&limit=5", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "a", gotTimer)
	assert.JSONEq(t, `[5]`, body)

	code, _ = get(t, base+"/journal?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = get(t, base+"/metrics", "")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, strings.HasPrefix(body, "ctimer_up"))

	code, _ = get(t, base+"/debug/pprof/", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestHealthDegraded(t *testing.T) {
	src := Sources{Health: func() (any, error) { return "journal", errors.New("journal closed") }}
	s := startService(t, Config{Enabled: true, Addr: "127.0.0.1:0"}, src)

	code, body := get(t, "http://"+s.Addr()+"/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "journal closed")

	code, _ = get(t, "http://"+s.Addr()+"/debug/pprof/", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestTokenRequired(t *testing.T) {
	s := startService(t, Config{Enabled: true, Addr: "127.0.0.1:0", Token: "s3cret"}, Sources{})
	base := "http://" + s.Addr()

	code, _ := get(t, base+"/healthz", "")
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = get(t, base+"/healthz", "wrong")
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = get(t, base+"/healthz", "s3cret")
	assert.Equal(t, http.StatusOK, code)
	code, _ = get(t, base+"/healthz?token=s3cret", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestReconfigureDisableStops(t *testing.T) {
	s := startService(t, Config{Enabled: true, Addr: "127.0.0.1:0"}, Sources{})
	s.Reconfigure(context.Background(), Config{Enabled: false})
	assert.Empty(t, s.Addr())
	assert.Nil(t, s.Supervisor())
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	cases := map[string]bool{
		"127.0.0.1:9464": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":9464":          false,
		"0.0.0.0:9464":   false,
		"10.0.0.1:80":    false,
		"garbage":        false,
	}
	for addr, want := range cases {
		assert.Equal(t, want, isLoopbackAddr(addr), addr)
	}
}
