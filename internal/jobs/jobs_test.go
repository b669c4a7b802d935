package jobs

import (
	"context"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctimer/internal/task/engine"
	logx "ctimer/pkg/logx"
)

type fakeUnits struct{ calls []string }

func (f *fakeUnits) Start(_ context.Context, u string) error {
	f.calls = append(f.calls, "start "+u)
	return nil
}
func (f *fakeUnits) Stop(_ context.Context, u string) error {
	f.calls = append(f.calls, "stop "+u)
	return nil
}
func (f *fakeUnits) Restart(_ context.Context, u string) error {
	f.calls = append(f.calls, "restart "+u)
	return nil
}

func TestBuildValidation(t *testing.T) {
	t.Parallel()
	b := NewBuilder(logx.Nop(), nil)
	tests := []struct {
		name string
		spec Spec
	}{
		{"empty", Spec{}},
		{"two kinds", Spec{Command: []string{"true"}, Message: "x"}},
		{"blank argv0", Spec{Command: []string{" "}}},
		{"unit without controller", Spec{Unit: "nginx"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Build("t", tt.spec)
			assert.Error(t, err)
		})
	}
}

func TestMessageJob(t *testing.T) {
	t.Parallel()
	job, err := NewBuilder(logx.Nop(), nil).Build("t", Spec{Message: "tick"})
	require.NoError(t, err)
	assert.NoError(t, job(context.Background()))
}

func TestCommandJob(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs sh")
	}
	t.Parallel()
	b := NewBuilder(logx.Nop(), nil)

	ok, err := b.Build("ok", Spec{Command: []string{"sh", "-c", "echo $CTIMER_TEST", "x"}, Env: []string{"CTIMER_TEST=1"}})
	require.NoError(t, err)
	assert.NoError(t, ok(context.Background()))

	fail, err := b.Build("fail", Spec{Command: []string{"sh", "-c", "echo nope >&2; exit 3"}})
	require.NoError(t, err)
	err = fail(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited with code 3")
	assert.Contains(t, err.Error(), "nope")
	assert.False(t, engine.IsNoRetry(err))

	missing, err := b.Build("missing", Spec{Command: []string{"/definitely/not/here"}})
	require.NoError(t, err)
	assert.True(t, engine.IsNoRetry(missing(context.Background())))

	slow, err := b.Build("slow", Spec{Command: []string{"sh", "-c", "exec sleep 5"}})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = slow(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUnitJob(t *testing.T) {
	t.Parallel()
	units := &fakeUnits{}
	b := NewBuilder(logx.Nop(), units)

	restart, err := b.Build("r", Spec{Unit: "nginx"})
	require.NoError(t, err)
	require.NoError(t, restart(context.Background()))

	stop, err := b.Build("s", Spec{Unit: "backup.timer", UnitAction: "STOP"})
	require.NoError(t, err)
	require.NoError(t, stop(context.Background()))

	_, err = b.Build("x", Spec{Unit: "nginx", UnitAction: "reload-or-whatever"})
	assert.Error(t, err)

	assert.Equal(t, []string{"restart nginx.service", "stop backup.timer"}, units.calls)
}

func TestTailBufferKeepsEnd(t *testing.T) {
	t.Parallel()
	var tb tailBuffer
	_, _ = tb.Write([]byte(strings.Repeat("a", outputTail)))
	_, _ = tb.Write([]byte("end"))
	s := tb.String()
	assert.Len(t, s, outputTail)
	assert.True(t, strings.HasSuffix(s, "end"))
}
