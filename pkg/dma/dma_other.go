//go:build !linux

package dma

// Writer is unavailable off Linux.
type Writer struct{}

func Open(cfg Config) (*Writer, error) {
	return nil, ErrUnsupported
}

func (w *Writer) Write(p []byte) (int, error) { return 0, ErrUnsupported }

func (w *Writer) Stats() Stats { return Stats{} }

func (w *Writer) Close() error { return nil }
