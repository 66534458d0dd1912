package pacer

import "time"

// Clock is a monotonic time base. Now and SleepUntil use the same epoch;
// only differences between values are meaningful.
type Clock interface {
	Now() time.Duration
	// SleepUntil blocks until Now() >= deadline. It returns at once when the
	// deadline has already passed.
	SleepUntil(deadline time.Duration)
}

// MonotonicClock reads the system monotonic clock and sleeps to absolute
// deadlines on it.
type MonotonicClock struct{}
