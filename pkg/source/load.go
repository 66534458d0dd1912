package source

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrTooLarge is returned by LoadFile when the file exceeds the preload limit.
var ErrTooLarge = errors.New("input exceeds preload limit")

// Load reads raw little-endian int16 samples until EOF. A trailing odd byte
// is ignored.
func Load(r io.Reader) ([]int16, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read samples: %w", err)
	}
	return decode(data), nil
}

// LoadFile reads a whole sample file into memory. maxBytes <= 0 disables the
// size check.
func LoadFile(path string, maxBytes int64) ([]int16, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if maxBytes > 0 && st.Size() > maxBytes {
		return nil, fmt.Errorf("%s is %d bytes: %w (%d)", path, st.Size(), ErrTooLarge, maxBytes)
	}

	data := make([]byte, st.Size())
	n, err := io.ReadFull(f, data)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return decode(data[:n]), nil
}

func decode(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return out
}

// Encode is the inverse of Load, for tools that write sample files.
func Encode(w io.Writer, samples []int16) error {
	buf := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(s))
	}
	_, err := w.Write(buf)
	return err
}
