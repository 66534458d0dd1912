// Package source supplies deviation samples to the transmit loop, either from
// a preloaded buffer or from a live byte stream.
package source

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrExhausted is returned once a source has no more samples. It is a control
// signal, not a failure.
var ErrExhausted = errors.New("source exhausted")

// Source produces the next deviation value.
type Source interface {
	Next() (int16, error)
}

// Bounded replays a preloaded sequence.
type Bounded struct {
	samples []int16
	pos     int
	loop    bool
	passes  int
}

// NewBounded returns a source over samples. When loop is set the cursor wraps
// to the start instead of reporting exhaustion.
func NewBounded(samples []int16, loop bool) *Bounded {
	return &Bounded{samples: samples, loop: loop}
}

// Next returns the sample at the cursor and advances it.
func (b *Bounded) Next() (int16, error) {
	if b.pos == len(b.samples) {
		if !b.loop || len(b.samples) == 0 {
			return 0, ErrExhausted
		}
		b.pos = 0
		b.passes++
	}
	v := b.samples[b.pos]
	b.pos++
	return v, nil
}

// Position returns the cursor index.
func (b *Bounded) Position() int { return b.pos }

// Len returns the number of preloaded samples.
func (b *Bounded) Len() int { return len(b.samples) }

// Passes returns how many times the cursor has wrapped.
func (b *Bounded) Passes() int { return b.passes }

// Rewind puts the cursor back at the first sample.
func (b *Bounded) Rewind() { b.pos = 0 }

// Live pulls samples from an unbounded reader, typically stdin.
type Live struct {
	r    *bufio.Reader
	buf  [2]byte
	err  error
	read int64
}

// liveBufferSize keeps reads from a pipe in large chunks.
const liveBufferSize = 64 * 1024

// NewLive wraps r. Samples are raw little-endian int16 values.
func NewLive(r io.Reader) *Live {
	return &Live{r: bufio.NewReaderSize(r, liveBufferSize)}
}

// NewLiveContext is NewLive for a reader that may block indefinitely, such
// as an idle stdin pipe. Reads happen on a separate goroutine so that a
// pending Next returns once ctx is done; the error then wraps ctx.Err().
// The goroutine stays parked in r.Read until r returns.
func NewLiveContext(ctx context.Context, r io.Reader) *Live {
	cr := &ctxReader{ctx: ctx, chunks: make(chan chunk)}
	go cr.pump(r)
	return NewLive(cr)
}

type chunk struct {
	b   []byte
	err error
}

// ctxReader hands chunks read by pump to Read until ctx is done.
type ctxReader struct {
	ctx    context.Context
	chunks chan chunk
	rest   []byte
	err    error
}

func (c *ctxReader) pump(r io.Reader) {
	for {
		b := make([]byte, liveBufferSize)
		n, err := r.Read(b)
		select {
		case c.chunks <- chunk{b[:n], err}:
		case <-c.ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (c *ctxReader) Read(p []byte) (int, error) {
	for len(c.rest) == 0 {
		if c.err != nil {
			return 0, c.err
		}
		select {
		case ch := <-c.chunks:
			c.rest, c.err = ch.b, ch.err
		case <-c.ctx.Done():
			c.err = c.ctx.Err()
			return 0, c.err
		}
	}
	n := copy(p, c.rest)
	c.rest = c.rest[n:]
	return n, nil
}

// Next reads exactly one sample. A short or failed read exhausts the source
// for good; the returned error wraps both ErrExhausted and the cause.
func (l *Live) Next() (int16, error) {
	if l.err != nil {
		return 0, l.err
	}
	if _, err := io.ReadFull(l.r, l.buf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			l.err = ErrExhausted
		} else {
			l.err = fmt.Errorf("%w: %w", ErrExhausted, err)
		}
		return 0, l.err
	}
	l.read++
	return int16(binary.LittleEndian.Uint16(l.buf[:])), nil
}

// Count returns how many samples have been read.
func (l *Live) Count() int64 { return l.read }
