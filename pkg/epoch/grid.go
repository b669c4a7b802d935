package epoch

import (
	"time"

	"github.com/robfig/cron/v3"
)

// Grid is an interval anchored to an epoch.
//
// Grid implements cron.Schedule, so an aligned interval can be previewed or
// registered wherever a cron schedule is accepted.
type Grid struct {
	Interval time.Duration
	Epoch    time.Time
}

var _ cron.Schedule = Grid{}

// NewGrid validates interval and returns the grid. A zero epoch selects Default.
func NewGrid(interval time.Duration, epoch time.Time) (Grid, error) {
	if err := checkInterval(interval); err != nil {
		return Grid{}, err
	}
	if epoch.IsZero() {
		epoch = Default
	}
	return Grid{Interval: interval, Epoch: epoch}, nil
}

// Floor is RoundDown on this grid. It returns t unchanged for an invalid grid.
func (g Grid) Floor(t time.Time) time.Time {
	if g.Interval <= 0 {
		return t
	}
	return t.Add(-remainder(t, g.Interval, g.Epoch))
}

// Next returns the first grid point strictly after t.
func (g Grid) Next(t time.Time) time.Time {
	if g.Interval <= 0 {
		return time.Time{}
	}
	return g.Floor(t).Add(g.Interval)
}

// Aligned reports whether t lies exactly on the grid.
func (g Grid) Aligned(t time.Time) bool {
	if g.Interval <= 0 {
		return false
	}
	return remainder(t, g.Interval, g.Epoch) == 0
}

// Index returns k such that Floor(t) == Epoch + k*Interval.
func (g Grid) Index(t time.Time) (int64, error) {
	k, _, err := DivMod(t, g.Interval, g.Epoch)
	return k, err
}
