//go:build linux

package dma

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Writer owns an open h2c device. A write returns once the driver has queued
// the whole transfer, so it blocks at the card's rate.
type Writer struct {
	fd    int
	path  string
	chunk int
	stats Stats
}

// Open opens the h2c device for writing.
func Open(cfg Config) (*Writer, error) {
	path := cfg.DevicePath
	if path == "" {
		path = DefaultDevice
	}
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("could not open device %s: %w", path, err)
	}
	chunk := cfg.ChunkSize
	if chunk <= 0 {
		chunk = defaultChunkSize
	}
	return &Writer{fd: fd, path: path, chunk: chunk}, nil
}

// Write sends all of p, in chunks, retrying on EINTR.
func (w *Writer) Write(p []byte) (int, error) {
	if w.fd < 0 {
		return 0, fmt.Errorf("%s: closed", w.path)
	}
	start := time.Now()
	defer func() { w.stats.Busy += time.Since(start) }()

	total := 0
	for total < len(p) {
		end := min(total+w.chunk, len(p))
		n, err := unix.Write(w.fd, p[total:end])
		if n > 0 {
			total += n
			w.stats.BytesWritten += uint64(n)
		}
		if err != nil {
			if err == unix.EINTR || err == unix.EAGAIN {
				continue
			}
			return total, fmt.Errorf("write failed after %d bytes: %w", total, err)
		}
		if n == 0 {
			return total, fmt.Errorf("%s accepted no data after %d bytes", w.path, total)
		}
	}
	w.stats.Writes++
	return total, nil
}

// Stats returns the running counters.
func (w *Writer) Stats() Stats { return w.stats }

// Close releases the device.
func (w *Writer) Close() error {
	if w.fd < 0 {
		return nil
	}
	err := unix.Close(w.fd)
	w.fd = -1
	return err
}
