// Package epoch computes positions on an absolute alignment grid.
//
// A grid is the set of instants epoch + k*interval for every integer k.
// Rounding is always done against that grid, never against "now", so
// repeated rounding cannot accumulate drift.
package epoch

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"
)

// Default is the reference epoch used when none is configured.
var Default = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// ErrInvalidArgument is returned for non-positive intervals.
var ErrInvalidArgument = errors.New("invalid argument")

func checkInterval(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: interval must be > 0 (got %s)", ErrInvalidArgument, interval)
	}
	return nil
}

// RoundDown returns the latest instant of the form epoch + k*interval that is
// not later than instant. The result may lie before epoch.
func RoundDown(instant time.Time, interval time.Duration, epoch time.Time) (time.Time, error) {
	if err := checkInterval(interval); err != nil {
		return time.Time{}, err
	}
	return instant.Add(-remainder(instant, interval, epoch)), nil
}

// DivMod returns the floored quotient and remainder of (instant - epoch) by
// interval, so that epoch + k*interval + rem == instant and 0 <= rem < interval.
func DivMod(instant time.Time, interval time.Duration, epoch time.Time) (k int64, rem time.Duration, err error) {
	if err := checkInterval(interval); err != nil {
		return 0, 0, err
	}
	if d, ok := elapsed(instant, epoch); ok {
		k = int64(d / interval)
		rem = d % interval
		if rem < 0 {
			rem += interval
			k--
		}
		return k, rem, nil
	}
	q, r := new(big.Int).DivMod(elapsedBig(instant, epoch), big.NewInt(int64(interval)), new(big.Int))
	if !q.IsInt64() {
		return 0, 0, fmt.Errorf("%w: grid index out of range", ErrInvalidArgument)
	}
	return q.Int64(), time.Duration(r.Int64()), nil
}

// remainder is (instant - epoch) mod interval with a non-negative result.
// interval must already be validated.
func remainder(instant time.Time, interval time.Duration, epoch time.Time) time.Duration {
	if d, ok := elapsed(instant, epoch); ok {
		rem := d % interval
		if rem < 0 {
			rem += interval
		}
		return rem
	}
	// big.Int.Mod is Euclidean: the result is already non-negative.
	r := new(big.Int).Mod(elapsedBig(instant, epoch), big.NewInt(int64(interval)))
	return time.Duration(r.Int64())
}

// elapsed returns instant - epoch, and false when time.Time.Sub saturated.
func elapsed(instant, epoch time.Time) (time.Duration, bool) {
	d := instant.Sub(epoch)
	if d == time.Duration(math.MaxInt64) || d == time.Duration(math.MinInt64) {
		return 0, false
	}
	return d, true
}

func elapsedBig(instant, epoch time.Time) *big.Int {
	secs := new(big.Int).Sub(big.NewInt(instant.Unix()), big.NewInt(epoch.Unix()))
	secs.Mul(secs, big.NewInt(int64(time.Second)))
	return secs.Add(secs, big.NewInt(int64(instant.Nanosecond()-epoch.Nanosecond())))
}
