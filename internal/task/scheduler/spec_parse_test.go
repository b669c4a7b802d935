package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctimer/pkg/epoch"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     SpecKind
		source   string
		duration time.Duration
	}{
		{name: "cron", raw: "*/5 * * * *", kind: SpecCron, source: "cron"},
		{name: "cron with seconds", raw: "*/10 * * * * *", kind: SpecCron, source: "cron"},
		{name: "descriptor", raw: "@hourly", kind: SpecCron, source: "cron"},
		{name: "prefixed cron", raw: "CRON:0 0 * * *", kind: SpecCron, source: "cron"},
		{name: "duration", raw: "10m", kind: SpecInterval, source: "duration", duration: 10 * time.Minute},
		{name: "prefixed interval", raw: "interval:45s", kind: SpecInterval, source: "duration", duration: 45 * time.Second},
		{name: "every prefix", raw: "every: 02:00", kind: SpecInterval, source: "hhmm", duration: 2 * time.Hour},
		{name: "at-every", raw: "@every 30s", kind: SpecInterval, source: "duration", duration: 30 * time.Second},
		{name: "hhmm", raw: "01:30", kind: SpecInterval, source: "hhmm", duration: 90 * time.Minute},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSchedule(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.source, got.Source)
			if tt.kind == SpecInterval {
				assert.Equal(t, tt.duration, got.Every)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "0s", "-5m", "00:00", "01:75", "cron:", "cron:61 * * * *", "every:soon"} {
		_, err := ParseSchedule(raw)
		assert.Error(t, err, "ParseSchedule(%q)", raw)
	}
}

func TestScheduleIntervalIsAligned(t *testing.T) {
	t.Parallel()
	ps, err := ParseSchedule("10s")
	require.NoError(t, err)
	sched, err := ps.Schedule(time.Time{})
	require.NoError(t, err)
	assert.IsType(t, epoch.Grid{}, sched)

	from := time.Date(2024, 5, 1, 0, 0, 7, 0, time.UTC)
	got := NextRuns(sched, from, 3)
	want := []time.Time{
		time.Date(2024, 5, 1, 0, 0, 10, 0, time.UTC),
		time.Date(2024, 5, 1, 0, 0, 20, 0, time.UTC),
		time.Date(2024, 5, 1, 0, 0, 30, 0, time.UTC),
	}
	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, got[i].Equal(want[i]), "NextRuns[%d] = %v, want %v", i, got[i], want[i])
	}
}

func TestScheduleCronNext(t *testing.T) {
	t.Parallel()
	ps, err := ParseSchedule("*/15 * * * *")
	require.NoError(t, err)
	sched, err := ps.Schedule(time.Time{})
	require.NoError(t, err)
	from := time.Date(2024, 5, 1, 10, 7, 0, 0, time.UTC)
	got := sched.Next(from)
	assert.True(t, got.Equal(time.Date(2024, 5, 1, 10, 15, 0, 0, time.UTC)), "Next = %v", got)
}
