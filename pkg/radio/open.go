package radio

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
)

// Sink kinds accepted by Open.
const (
	KindAD9361 = "ad9361"
	KindDMA    = "dma"
	KindFile   = "file"
	KindFIFO   = "fifo"
	KindShm    = "shm"
	KindNull   = "null"
)

// Kinds lists the sink kinds in help order.
var Kinds = []string{KindAD9361, KindDMA, KindFile, KindFIFO, KindShm, KindNull}

// Target selects and addresses a sink.
type Target struct {
	Kind   string       `yaml:"kind"`
	URI    string       `yaml:"uri"`    // iiod address for ad9361
	Device string       `yaml:"device"` // path or ring name for the other kinds
	AD9361 AD9361Config `yaml:"ad9361"`
}

// Open builds the sink t names. Only the ad9361 kind touches anything here;
// the others acquire their device in EnableChannels.
func Open(ctx context.Context, t Target, logger *log.Logger) (Sink, error) {
	logger = orDefault(logger)
	switch strings.ToLower(t.Kind) {
	case KindAD9361, "":
		return DialAD9361(ctx, t.URI, t.AD9361, logger)
	case KindDMA:
		return NewDMASink(t.Device, logger), nil
	case KindFile:
		if t.Device == "" {
			return nil, fmt.Errorf("%w: file sink needs a device path", ErrConfig)
		}
		return NewFileSink(t.Device, logger), nil
	case KindFIFO:
		if t.Device == "" {
			return nil, fmt.Errorf("%w: fifo sink needs a device path", ErrConfig)
		}
		return NewFIFOSink(t.Device, logger), nil
	case KindShm:
		name := t.Device
		if name == "" {
			name = "fmtx"
		}
		return NewShmSink(name, logger), nil
	case KindNull:
		return NewNullSink(logger), nil
	}
	return nil, fmt.Errorf("%w: unknown sink %q (want one of %s)", ErrConfig, t.Kind, strings.Join(Kinds, ", "))
}
