// Package dma streams bytes into an XDMA host-to-card character device.
package dma

import (
	"errors"
	"time"
)

// ErrUnsupported is returned where the XDMA driver cannot exist.
var ErrUnsupported = errors.New("XDMA not supported on this platform")

// DefaultDevice is the first host-to-card channel of the first card.
const DefaultDevice = "/dev/xdma0_h2c_0"

// Config holds configuration for an h2c stream.
type Config struct {
	DevicePath string
	// ChunkSize caps a single write(2). Zero means 4 MiB.
	ChunkSize int
}

// Stats reports what a Writer has sent.
type Stats struct {
	BytesWritten uint64
	Writes       uint64
	Busy         time.Duration // time spent inside write(2)
}

// Throughput is the average rate in MB/s while writes were in progress.
func (s Stats) Throughput() float64 {
	if s.Busy <= 0 {
		return 0
	}
	return float64(s.BytesWritten) / (1024 * 1024) / s.Busy.Seconds()
}

const defaultChunkSize = 4 * 1024 * 1024
