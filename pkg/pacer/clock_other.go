//go:build !linux

package pacer

import "time"

var epoch = time.Now()

func (MonotonicClock) Now() time.Duration {
	return time.Since(epoch)
}

func (c MonotonicClock) SleepUntil(deadline time.Duration) {
	if d := deadline - c.Now(); d > 0 {
		time.Sleep(d)
	}
}
