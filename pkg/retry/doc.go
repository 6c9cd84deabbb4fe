// Package retry computes exponential backoff schedules for reads and
// reconnection attempts.
//
// # Delay Formula
//
//	delay(attempt) = min(initial * multiplier^attempt, max) + jitter
//
// where jitter is uniformly drawn from [0, JitterMax]. The base delay is
// monotonically non-decreasing and capped, so a delay never exceeds
// Max + JitterMax.
//
// # State Machine
//
// A Schedule is an explicit state machine: an attempt counter plus the
// timestamp of the next scheduled wake. Failure advances it, Reset returns
// it to attempt zero after a success. A schedule with MaxAttempts > 0 is
// exhausted once that many consecutive attempts have failed.
//
// The clock is injectable so schedules are deterministic under test.
package retry
