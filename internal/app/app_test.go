package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestCheckPrintsNextDeadlines(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "c.yaml", `
scheduler: {timezone: UTC}
timers:
  - name: tick
    schedule: "10s"
    epoch: "2024-01-01T00:00:00Z"
    iterations: 2
    message: hi
  - name: nightly
    schedule: "cron:0 3 * * *"
    command: ["true"]
  - name: off
    schedule: "1s"
    message: x
    disabled: true
`)
	var out bytes.Buffer
	now := time.Date(2024, 5, 1, 0, 0, 7, 0, time.UTC)
	require.NoError(t, Check(&out, path, 3, now))

	text := out.String()
	lines := strings.Split(strings.TrimSpace(text), "\n")
	require.Len(t, lines, 3, text)
	assert.Contains(t, lines[1], "tick")
	assert.Contains(t, lines[1], "2024-05-01T00:00:10Z, 2024-05-01T00:00:20Z")
	assert.NotContains(t, lines[1], "00:00:30Z", "iterations bound the preview")
	assert.Contains(t, lines[2], "nightly")
	assert.Contains(t, lines[2], "2024-05-01T03:00:00Z")
	assert.NotContains(t, text, "off")
}

func TestCheckRejectsBadSchedule(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "c.json", `{"timers":[{"name":"a","schedule":"every:soon","message":"m"}]}`)
	err := Check(&bytes.Buffer{}, path, 1, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timers[0].schedule")
}

func TestAppRunsTimersAndJournals(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, "ctimerd.yaml", `
logging: {level: error}
journal: {driver: file, path: `+filepath.Join(dir, "journal")+`}
timers:
  - name: fast
    schedule: "every:100ms"
    iterations: 3
    message: tick
  - name: queued
    schedule: "every:100ms"
    iterations: 2
    mode: queued
    command: ["true"]
`)
	a, err := NewApp(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	require.Eventually(t, func() bool {
		st := a.Status()
		done := 0
		for _, ti := range st.Scheduler.Timers {
			if ti.Name == "fast" && ti.Fired == 3 {
				done++
			}
		}
		return done == 1 && st.Engine.Completed == 2
	}, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		recs, err := a.store.Recent(context.Background(), "fast", 10)
		return err == nil && len(recs) == 3
	}, 2*time.Second, 20*time.Millisecond)

	_, err = a.health()
	assert.NoError(t, err)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopSignal))
}

func TestNewAppRejectsConfigWithoutOpeningJournal(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "journal.db")
	path := writeConfig(t, "ctimerd.yaml", `
journal: {driver: sqlite, path: `+dbPath+`}
diag: {enabled: true, read_timeout: soon}
timers: []
`)
	a, err := NewApp(path)
	require.Error(t, err)
	assert.Nil(t, a)
	assert.Contains(t, err.Error(), "diag.read_timeout")

	_, statErr := os.Stat(dbPath)
	assert.True(t, os.IsNotExist(statErr), "journal must not be created for a rejected config")
}
