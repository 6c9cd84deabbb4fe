// Package watchdog detects stalled collections.
//
// A Watchdog tracks how long it has been since the last successful update
// landed and grades the freshness of a collection:
//
//	GOOD     updates are arriving
//	POOR     no update for longer than PoorAfter
//	STALLED  no update for longer than StalledAfter
//
// # Timer Behavior
//
//   - Runs a recurring check every CheckInterval, independent of fetch retries
//   - Touch records a successful update and restores GOOD
//   - Entering STALLED fires the stall callback once and restarts the
//     baseline, so one stall produces one recovery action
//   - Quality only degrades on a check; only Touch restores it
//
// # Pause
//
// A paused watchdog skips its checks (e.g. while the UI is hidden).
// Resume restarts the baseline so time spent paused is not counted.
package watchdog
