//go:build linux

package radio

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// fifoPoll is how often a writer retries a FIFO that has no reader yet.
const fifoPoll = 50 * time.Millisecond

func mkfifo(path string) error {
	return unix.Mkfifo(path, 0o666)
}

// openFIFO opens path for writing once a reader attaches, or returns
// ctx.Err() if ctx ends first. The returned file does blocking writes.
func openFIFO(ctx context.Context, path string) (*os.File, error) {
	t := time.NewTicker(fifoPoll)
	defer t.Stop()
	for {
		fd, err := unix.Open(path, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
		if err == nil {
			if err := unix.SetNonblock(fd, false); err != nil {
				unix.Close(fd)
				return nil, err
			}
			return os.NewFile(uintptr(fd), path), nil
		}
		// ENXIO: no reader has the FIFO open yet.
		if !errors.Is(err, unix.ENXIO) && !errors.Is(err, unix.EINTR) {
			return nil, &os.PathError{Op: "open", Path: path, Err: err}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}
