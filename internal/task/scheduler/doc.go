// Package scheduler owns the named timers of the daemon.
//
// Interval schedules run on epoch-aligned ctimer.Runners; cron schedules run
// on a robfig/cron instance. Each timer either executes its job inline on the
// trigger goroutine or hands it to the task engine queue.
package scheduler
