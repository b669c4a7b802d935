package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
logging: {level: debug, console: true}
engine: {workers: 3, queue_size: 16, default_timeout: "30s"}
journal: {driver: sqlite, path: ./j.db}
scheduler: {timezone: UTC}
timers:
  - name: heartbeat
    schedule: "5s"
    epoch: "2000-01-01T00:00:00Z"
    message: tick
  - name: backup
    schedule: "cron:0 3 * * *"
    mode: queued
    command: ["sh", "-c", "true"]
`

func TestParseBytesYAMLAndJSON(t *testing.T) {
	t.Parallel()

	cfg, err := ParseBytes("c.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 3, cfg.Engine.Workers)
	require.NotNil(t, cfg.Journal)
	assert.Equal(t, "sqlite", cfg.Journal.Driver)
	require.Len(t, cfg.Timers, 2)
	assert.Equal(t, "tick", cfg.Timers[0].Message)
	assert.Equal(t, []string{"sh", "-c", "true"}, cfg.Timers[1].Command)

	js := `{"logging":{"level":"info"},"engine":{},"scheduler":{},
		"timers":[{"name":"a","schedule":"1m","message":"x"}]}`
	cfg, err = ParseBytes("c.json", []byte(js))
	require.NoError(t, err)
	assert.Equal(t, "a", cfg.Timers[0].Name)
}

func TestParseBytesRejects(t *testing.T) {
	t.Parallel()
	cases := map[string]struct {
		path string
		data string
	}{
		"unknown top-level": {"c.json", `{"telegram":{}}`},
		"unknown timer key": {"c.json", `{"timers":[{"name":"a","schedule":"1s","message":"m","every":"1s"}]}`},
		"trailing data":     {"c.json", `{} {}`},
		"yaml list root":    {"c.yml", "- a\n- b\n"},
		"bad duration":      {"c.json", `{"engine":{"default_timeout":"soon"}}`},
	}
	for name, tc := range cases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseBytes(tc.path, []byte(tc.data))
			assert.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	ok := TimerConfig{Name: "a", Schedule: "1s", Message: "m"}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing name", func(c *Config) { c.Timers[0].Name = " " }, "name is required"},
		{"duplicate", func(c *Config) { c.Timers = append(c.Timers, ok) }, "duplicates"},
		{"no job", func(c *Config) { c.Timers[0].Message = "" }, "exactly one of"},
		{"two jobs", func(c *Config) { c.Timers[0].Unit = "x" }, "exactly one of"},
		{"bad mode", func(c *Config) { c.Timers[0].Mode = "later" }, "unknown mode"},
		{"bad epoch", func(c *Config) { c.Timers[0].Epoch = "yesterday" }, "RFC3339"},
		{"negative iterations", func(c *Config) { c.Timers[0].Iterations = -1 }, "iterations"},
		{"bad tz", func(c *Config) { c.Scheduler.Timezone = "Mars/Base" }, "timezone"},
		{"journal path", func(c *Config) { c.Journal = &JournalConfig{Driver: "file"} }, "journal.path"},
		{"journal driver", func(c *Config) { c.Journal = &JournalConfig{Driver: "redis", Path: "x"} }, "unknown driver"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{Timers: []TimerConfig{ok}}
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationField("x", " 1500ms ")
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, d)

	d, err = ParseDurationField("x", "")
	require.NoError(t, err)
	assert.Zero(t, d)

	_, err = ParseDurationField("x", "-1s")
	assert.Error(t, err)

	d, err = ParseDurationOrDefault("x", "0s", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{
		Engine: EngineConfig{Workers: 2},
		Timers: []TimerConfig{{Name: "a", Schedule: "1s"}, {Name: "b", Schedule: "2s"}},
	}
	newCfg := &Config{
		Engine: EngineConfig{Workers: 4},
		Diag:   DiagConfig{Token: "secret"},
		Timers: []TimerConfig{{Name: "a", Schedule: "1s"}, {Name: "b", Schedule: "3s"}, {Name: "c", Schedule: "1s"}},
	}
	changed, attrs, timers := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"diag", "engine", "timers"}, changed)
	assert.NotEmpty(t, attrs)
	assert.Equal(t, []string{"b", "c"}, timers)

	changed, _, timers = SummarizeConfigChange(newCfg, newCfg)
	assert.Empty(t, changed)
	assert.Empty(t, timers)
}

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
}

func TestManagerReloadPublishes(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "ctimerd.json")
	writeFile(t, path, `{"timers":[{"name":"a","schedule":"1s","message":"m"}]}`)

	m := NewConfigManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	sub := m.Subscribe(1)

	ctx := context.Background()
	published, err := m.Reload(ctx)
	require.NoError(t, err)
	assert.False(t, published, "unchanged content must not publish")

	writeFile(t, path, `{"timers":[{"name":"b","schedule":"1s","message":"m"}]}`)
	published, err = m.Reload(ctx)
	require.NoError(t, err)
	assert.True(t, published)
	assert.Equal(t, "b", m.Get().Timers[0].Name)

	got, ok := sub.TryPop()
	require.True(t, ok)
	assert.Equal(t, "b", got.Timers[0].Name)

	m.Unsubscribe(sub)
	writeFile(t, path, `{"timers":[{"name":"c","schedule":"1s","message":"m"}]}`)
	_, err = m.Reload(ctx)
	require.NoError(t, err)
	_, ok = sub.TryPop()
	assert.False(t, ok)
}

func TestManagerValidatorRejects(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "ctimerd.yaml")
	writeFile(t, path, "timers: []\n")

	m := NewConfigManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		if len(cfg.Timers) > 1 {
			return assert.AnError
		}
		return nil
	})

	writeFile(t, path, "timers:\n  - {name: a, schedule: 1s, message: m}\n  - {name: b, schedule: 1s, message: m}\n")
	_, err = m.Reload(context.Background())
	require.ErrorIs(t, err, assert.AnError)
	assert.Empty(t, m.Get().Timers)
}

func TestManagerWatchPicksUpWrites(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "ctimerd.json")
	writeFile(t, path, `{"scheduler":{"timezone":"UTC"}}`)

	m := NewConfigManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	sub := m.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	i := 0
	require.Eventually(t, func() bool {
		// Rewrite until the watcher is up and a reload lands.
		i++
		writeFile(t, path, `{"engine":{"workers":`+string(rune('0'+i%10))+`}}`)
		_, ok := sub.TryPop()
		return ok
	}, 5*time.Second, 300*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
