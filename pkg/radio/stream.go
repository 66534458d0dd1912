package radio

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/log"

	"github.com/fmtx/pkg/dma"
	"github.com/fmtx/pkg/shmring"
)

// byteSink is the shared lifecycle of sinks that just move encoded samples
// somewhere: validate on Configure, acquire on EnableChannels, release on
// DisableChannels.
type byteSink struct {
	name     string
	log      *log.Logger
	settings Settings
	enabled  bool
}

func (s *byteSink) Configure(ctx context.Context, st Settings) error {
	if err := st.Validate(); err != nil {
		return err
	}
	s.settings = st
	s.log.Info("configured", "sink", s.name, "center_mhz", st.CenterFrequency/1e6, "rate", st.SampleRate)
	return nil
}

func (s *byteSink) PowerDown(ctx context.Context) error {
	s.log.Debug("power down", "sink", s.name)
	return nil
}

func (s *byteSink) needEnabled() error {
	if !s.enabled {
		return fmt.Errorf("%w: %s channels not enabled", ErrConfig, s.name)
	}
	return nil
}

func orDefault(l *log.Logger) *log.Logger {
	if l == nil {
		return log.Default()
	}
	return l
}

// FileSink writes interleaved I/Q to a regular file or a FIFO. It has no flow
// control of its own, so the pacer runs it against the wall clock.
type FileSink struct {
	byteSink
	path string
	fifo bool
	f    *os.File
}

// NewFileSink truncates and writes path.
func NewFileSink(path string, logger *log.Logger) *FileSink {
	return &FileSink{byteSink: byteSink{name: "file", log: orDefault(logger)}, path: path}
}

// NewFIFOSink recreates path as a named pipe. EnableChannels waits for a
// reader to attach, or for ctx to end.
func NewFIFOSink(path string, logger *log.Logger) *FileSink {
	return &FileSink{byteSink: byteSink{name: "fifo", log: orDefault(logger)}, path: path, fifo: true}
}

func (s *FileSink) EnableChannels(ctx context.Context) error {
	var err error
	if s.fifo {
		_ = os.Remove(s.path)
		if err := mkfifo(s.path); err != nil {
			return fmt.Errorf("%w: mkfifo %s: %w", ErrResource, s.path, err)
		}
		s.log.Info("waiting for FIFO reader", "path", s.path)
		s.f, err = openFIFO(ctx, s.path)
		if ctxErr := ctx.Err(); err != nil && ctxErr != nil {
			return fmt.Errorf("waiting for FIFO reader: %w", ctxErr)
		}
	} else {
		s.f, err = os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrResource, err)
	}
	s.enabled = true
	return nil
}

func (s *FileSink) CreateBuffer(ctx context.Context, capacity int) (Buffer, error) {
	if err := checkCapacity(capacity); err != nil {
		return nil, err
	}
	if err := s.needEnabled(); err != nil {
		return nil, err
	}
	f := s.f
	write := func(_ context.Context, p []byte) (int, error) { return f.Write(p) }
	return newMemBuffer(capacity, false, write, nil), nil
}

func (s *FileSink) DisableChannels(ctx context.Context) error {
	s.enabled = false
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// Close removes the FIFO node; a regular file is kept.
func (s *FileSink) Close() error {
	if s.fifo {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func (s *FileSink) BlocksOnPush() bool { return false }

// NullSink accepts and discards everything.
type NullSink struct {
	byteSink
	Bytes uint64
}

func NewNullSink(logger *log.Logger) *NullSink {
	return &NullSink{byteSink: byteSink{name: "null", log: orDefault(logger)}}
}

func (s *NullSink) EnableChannels(ctx context.Context) error {
	s.enabled = true
	return nil
}

func (s *NullSink) CreateBuffer(ctx context.Context, capacity int) (Buffer, error) {
	if err := checkCapacity(capacity); err != nil {
		return nil, err
	}
	if err := s.needEnabled(); err != nil {
		return nil, err
	}
	write := func(_ context.Context, p []byte) (int, error) {
		s.Bytes += uint64(len(p))
		return len(p), nil
	}
	return newMemBuffer(capacity, false, write, nil), nil
}

func (s *NullSink) DisableChannels(ctx context.Context) error {
	s.enabled = false
	return nil
}

func (s *NullSink) Close() error { return nil }

func (s *NullSink) BlocksOnPush() bool { return false }

// DMASink writes to an XDMA host-to-card channel. Writes block at the card's
// rate. Tuning belongs to the card's own control path, so Configure only
// validates.
type DMASink struct {
	byteSink
	cfg dma.Config
	w   *dma.Writer
}

func NewDMASink(device string, logger *log.Logger) *DMASink {
	return &DMASink{byteSink: byteSink{name: "dma", log: orDefault(logger)}, cfg: dma.Config{DevicePath: device}}
}

func (s *DMASink) EnableChannels(ctx context.Context) error {
	w, err := dma.Open(s.cfg)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrResource, err)
	}
	s.w = w
	s.enabled = true
	return nil
}

func (s *DMASink) CreateBuffer(ctx context.Context, capacity int) (Buffer, error) {
	if err := checkCapacity(capacity); err != nil {
		return nil, err
	}
	if err := s.needEnabled(); err != nil {
		return nil, err
	}
	w := s.w
	write := func(_ context.Context, p []byte) (int, error) { return w.Write(p) }
	return newMemBuffer(capacity, true, write, nil), nil
}

func (s *DMASink) DisableChannels(ctx context.Context) error {
	s.enabled = false
	if s.w == nil {
		return nil
	}
	st := s.w.Stats()
	s.log.Debug("dma closed", "bytes", st.BytesWritten, "mb_s", st.Throughput())
	err := s.w.Close()
	s.w = nil
	return err
}

func (s *DMASink) Close() error { return nil }

func (s *DMASink) BlocksOnPush() bool { return true }

// ShmSink publishes samples into a shared memory ring for a local consumer.
// The ring holds RingBuffers transmit buffers.
type ShmSink struct {
	byteSink
	ringName    string
	RingBuffers int
	ring        *shmring.Ring
}

func NewShmSink(name string, logger *log.Logger) *ShmSink {
	return &ShmSink{byteSink: byteSink{name: "shm", log: orDefault(logger)}, ringName: name, RingBuffers: 8}
}

func (s *ShmSink) EnableChannels(ctx context.Context) error {
	s.enabled = true
	return nil
}

// CreateBuffer sizes and creates the ring.
func (s *ShmSink) CreateBuffer(ctx context.Context, capacity int) (Buffer, error) {
	if err := checkCapacity(capacity); err != nil {
		return nil, err
	}
	if err := s.needEnabled(); err != nil {
		return nil, err
	}
	size := uint64(max(s.RingBuffers, 1) * capacity * BytesPerSample)
	ring, err := shmring.Create(s.ringName, size, uint64(s.settings.SampleRate))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResource, err)
	}
	s.ring = ring
	s.log.Info("ring created", "path", shmring.PathFor(s.ringName), "bytes", size)

	write := func(_ context.Context, p []byte) (int, error) { return ring.Write(p) }
	closeFn := func() error {
		err := ring.Close()
		s.ring = nil
		return err
	}
	return newMemBuffer(capacity, false, write, closeFn), nil
}

func (s *ShmSink) DisableChannels(ctx context.Context) error {
	s.enabled = false
	return nil
}

// Close unlinks the ring.
func (s *ShmSink) Close() error {
	return shmring.Remove(s.ringName)
}

func (s *ShmSink) BlocksOnPush() bool { return false }
