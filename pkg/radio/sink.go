// Package radio defines the transmit sink contract and the sinks the
// transmitter can drive.
package radio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/fmtx/pkg/modulator"
)

var (
	// ErrConfig marks invalid settings. Nothing has been touched on the
	// hardware when it is returned.
	ErrConfig = errors.New("invalid configuration")

	// ErrResource marks failures to acquire a device, channel or buffer.
	ErrResource = errors.New("resource unavailable")
)

// Tuning limits of the AD9361 transmit path.
const (
	MinCenterFrequency = 70e6
	MaxCenterFrequency = 6e9
	MinSampleRate      = 1e6
	MaxSampleRate      = 61.44e6
	MinGainDB          = -89.75
	MaxGainDB          = 0
)

// Settings is the radio configuration applied before streaming.
type Settings struct {
	CenterFrequency float64 `yaml:"center_frequency" json:"center_frequency"` // Hz
	SampleRate      float64 `yaml:"sample_rate" json:"sample_rate"`           // Hz
	Bandwidth       float64 `yaml:"bandwidth" json:"bandwidth"`               // Hz
	GainDB          float64 `yaml:"gain_db" json:"gain_db"`                   // TX gain, 0 is maximum output
}

// Validate range-checks s. Errors wrap ErrConfig.
func (s Settings) Validate() error {
	switch {
	case !inRange(s.CenterFrequency, MinCenterFrequency, MaxCenterFrequency):
		return fmt.Errorf("%w: center frequency %.0f Hz outside %.0f-%.0f Hz", ErrConfig, s.CenterFrequency, MinCenterFrequency, MaxCenterFrequency)
	case !inRange(s.SampleRate, MinSampleRate, MaxSampleRate):
		return fmt.Errorf("%w: sample rate %.0f Hz outside %.0f-%.0f Hz", ErrConfig, s.SampleRate, MinSampleRate, MaxSampleRate)
	case !(s.Bandwidth > 0) || math.IsInf(s.Bandwidth, 0):
		return fmt.Errorf("%w: bandwidth %.0f Hz must be positive", ErrConfig, s.Bandwidth)
	case !inRange(s.GainDB, MinGainDB, MaxGainDB):
		return fmt.Errorf("%w: gain %.2f dB outside %.2f to %.0f dB", ErrConfig, s.GainDB, MinGainDB, float64(MaxGainDB))
	}
	return nil
}

func inRange(v, lo, hi float64) bool {
	return v >= lo && v <= hi
}

// Sink is a transmit front-end. Calls happen in the order Configure,
// EnableChannels, CreateBuffer; teardown runs PowerDown, Buffer.Close,
// DisableChannels, Close.
type Sink interface {
	Configure(ctx context.Context, s Settings) error
	EnableChannels(ctx context.Context) error
	CreateBuffer(ctx context.Context, capacity int) (Buffer, error)
	DisableChannels(ctx context.Context) error
	PowerDown(ctx context.Context) error
	Close() error
}

// Buffer is a fixed-capacity transmit buffer. Samples returns the backing
// slice, which the caller fills in place before each Push. The slice must not
// be touched while Push is running.
type Buffer interface {
	Samples() []modulator.IQ
	Push(ctx context.Context) (int, error)
	Close() error
}

// FlowControlled is implemented by sinks and buffers that know whether Push
// blocks until the hardware has room.
type FlowControlled interface {
	BlocksOnPush() bool
}

// BytesPerSample is the wire size of one I/Q pair.
const BytesPerSample = 4

// EncodeIQ writes samples into dst as interleaved little-endian int16 I then
// Q. dst must hold len(samples)*BytesPerSample bytes.
func EncodeIQ(dst []byte, samples []modulator.IQ) []byte {
	dst = dst[:len(samples)*BytesPerSample]
	for i, s := range samples {
		binary.LittleEndian.PutUint16(dst[4*i:], uint16(s.I))
		binary.LittleEndian.PutUint16(dst[4*i+2:], uint16(s.Q))
	}
	return dst
}

// DecodeIQ is the inverse of EncodeIQ. A trailing partial sample is ignored.
func DecodeIQ(src []byte) []modulator.IQ {
	out := make([]modulator.IQ, len(src)/BytesPerSample)
	for i := range out {
		out[i] = modulator.IQ{
			I: int16(binary.LittleEndian.Uint16(src[4*i:])),
			Q: int16(binary.LittleEndian.Uint16(src[4*i+2:])),
		}
	}
	return out
}

// memBuffer is a Buffer whose Push hands the encoded bytes to a write func.
// The byte-stream sinks share it.
type memBuffer struct {
	samples []modulator.IQ
	wire    []byte
	write   func(ctx context.Context, p []byte) (int, error)
	close   func() error
	blocks  bool
}

func newMemBuffer(capacity int, blocks bool, write func(context.Context, []byte) (int, error), closeFn func() error) *memBuffer {
	return &memBuffer{
		samples: make([]modulator.IQ, capacity),
		wire:    make([]byte, capacity*BytesPerSample),
		write:   write,
		close:   closeFn,
		blocks:  blocks,
	}
}

func (b *memBuffer) Samples() []modulator.IQ { return b.samples }

func (b *memBuffer) Push(ctx context.Context) (int, error) {
	return b.write(ctx, EncodeIQ(b.wire, b.samples))
}

func (b *memBuffer) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

func (b *memBuffer) BlocksOnPush() bool { return b.blocks }

func checkCapacity(capacity int) error {
	if capacity <= 0 {
		return fmt.Errorf("%w: buffer capacity %d", ErrConfig, capacity)
	}
	return nil
}
