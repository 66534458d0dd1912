//go:build linux

package pacer

import (
	"time"

	"golang.org/x/sys/unix"
)

func (MonotonicClock) Now() time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		panic("clock_gettime(CLOCK_MONOTONIC): " + err.Error())
	}
	return time.Duration(ts.Nano())
}

// SleepUntil uses an absolute clock_nanosleep so a signal delivered mid-wait
// resumes toward the same deadline.
func (MonotonicClock) SleepUntil(deadline time.Duration) {
	ts := unix.NsecToTimespec(int64(deadline))
	for {
		err := unix.ClockNanosleep(unix.CLOCK_MONOTONIC, unix.TIMER_ABSTIME, &ts, nil)
		if err != unix.EINTR {
			return
		}
	}
}
