//go:build !linux

package radio

import (
	"context"
	"errors"
	"os"
)

var errNoFIFO = errors.New("FIFO sink requires Linux")

func mkfifo(path string) error { return errNoFIFO }

func openFIFO(ctx context.Context, path string) (*os.File, error) { return nil, errNoFIFO }
