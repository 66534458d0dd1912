// Package pacer keeps a transmit buffer fed from a sample source through the
// FM modulator, at the rate the sink or the wall clock dictates.
package pacer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/fmtx/pkg/modulator"
	"github.com/fmtx/pkg/radio"
	"github.com/fmtx/pkg/source"
)

// ErrPush wraps the error of a failed buffer push. A push is never retried.
var ErrPush = errors.New("buffer push failed")

// Discipline selects how the loop is timed.
type Discipline int

const (
	// Auto asks the sink whether Push blocks.
	Auto Discipline = iota
	// SinkPaced pushes back to back; the sink's Push applies backpressure.
	SinkPaced
	// WallClock sleeps to an absolute deadline after every push.
	WallClock
)

func (d Discipline) String() string {
	switch d {
	case Auto:
		return "auto"
	case SinkPaced:
		return "sink"
	case WallClock:
		return "clock"
	}
	return fmt.Sprintf("Discipline(%d)", int(d))
}

// ParseDiscipline accepts the names produced by String.
func ParseDiscipline(s string) (Discipline, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return Auto, nil
	case "sink", "sink-paced":
		return SinkPaced, nil
	case "clock", "wall-clock", "wallclock":
		return WallClock, nil
	}
	return Auto, fmt.Errorf("unknown pacing %q (want auto, sink or clock)", s)
}

// DisciplineFor resolves Auto against the candidates, normally the sink and
// its buffer. The first one implementing radio.FlowControlled decides.
func DisciplineFor(d Discipline, candidates ...any) Discipline {
	if d != Auto {
		return d
	}
	for _, c := range candidates {
		if fc, ok := c.(radio.FlowControlled); ok {
			if fc.BlocksOnPush() {
				return SinkPaced
			}
			return WallClock
		}
	}
	return WallClock
}

// Reason says why Run stopped.
type Reason int

const (
	ReasonRunning Reason = iota
	ReasonExhausted
	ReasonCanceled
	ReasonPushFailed
	ReasonSourceFailed
)

func (r Reason) String() string {
	switch r {
	case ReasonRunning:
		return "running"
	case ReasonExhausted:
		return "exhausted"
	case ReasonCanceled:
		return "canceled"
	case ReasonPushFailed:
		return "push failed"
	case ReasonSourceFailed:
		return "source failed"
	}
	return fmt.Sprintf("Reason(%d)", int(r))
}

// MarshalText lets Reason show up by name in JSON telemetry.
func (r Reason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Reason) UnmarshalText(b []byte) error {
	for c := ReasonRunning; c <= ReasonSourceFailed; c++ {
		if c.String() == string(b) {
			*r = c
			return nil
		}
	}
	return fmt.Errorf("unknown reason %q", b)
}

// Stats counts what a run has done so far.
type Stats struct {
	Buffers   uint64        `json:"buffers"`
	Modulated uint64        `json:"modulated"`
	Padded    uint64        `json:"padded"`
	Late      uint64        `json:"late"`
	Passes    int           `json:"passes"`
	Bytes     uint64        `json:"bytes"`
	Reason    Reason        `json:"reason"`
	LastPush  time.Duration `json:"last_push_ns"`
}

// Config parameterizes a Pacer.
type Config struct {
	SampleRate float64
	Discipline Discipline
	Clock      Clock
	Logger     *log.Logger

	// OnPush, if set, runs after every successful push with the buffer just
	// sent. The slice is reused for the next fill once OnPush returns.
	OnPush func(Stats, []modulator.IQ)
}

// Pacer owns the modulator, the source and the buffer for one transmission.
type Pacer struct {
	cfg        Config
	mod        *modulator.Modulator
	src        source.Source
	buf        radio.Buffer
	discipline Discipline
	period     time.Duration
	log        *log.Logger

	stats Stats
}

// New checks the configuration and resolves the timing discipline. The
// buffer's capacity is the length of its Samples slice.
func New(cfg Config, mod *modulator.Modulator, src source.Source, buf radio.Buffer) (*Pacer, error) {
	if mod == nil || src == nil || buf == nil {
		return nil, errors.New("pacer needs a modulator, a source and a buffer")
	}
	if !(cfg.SampleRate > 0) {
		return nil, fmt.Errorf("%w: sample rate %v", radio.ErrConfig, cfg.SampleRate)
	}
	n := len(buf.Samples())
	if n == 0 {
		return nil, fmt.Errorf("%w: empty transmit buffer", radio.ErrConfig)
	}
	if cfg.Clock == nil {
		cfg.Clock = MonotonicClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	p := &Pacer{
		cfg:        cfg,
		mod:        mod,
		src:        src,
		buf:        buf,
		discipline: DisciplineFor(cfg.Discipline, buf),
		period:     time.Duration(float64(n) / cfg.SampleRate * float64(time.Second)),
		log:        logger,
	}
	return p, nil
}

// Discipline reports the resolved timing discipline.
func (p *Pacer) Discipline() Discipline { return p.discipline }

// Period is the air time of one full buffer.
func (p *Pacer) Period() time.Duration { return p.period }

// Stats returns a copy of the counters. It must be called from the goroutine
// running Run, or after Run has returned.
func (p *Pacer) Stats() Stats { return p.stats }

// Run streams until the source is exhausted, ctx is canceled or a push fails.
// Exhaustion and cancellation return nil; Stats().Reason tells them apart.
// The modulator phase is reset once here and never inside a fill.
func (p *Pacer) Run(ctx context.Context) error {
	var canceled atomic.Bool
	stop := context.AfterFunc(ctx, func() { canceled.Store(true) })
	defer stop()

	// Pushes are never interrupted; only the fill loop watches ctx.
	pushCtx := context.WithoutCancel(ctx)

	p.mod.Reset()
	p.stats.Reason = ReasonRunning
	samples := p.buf.Samples()

	var deadline time.Duration
	if p.discipline == WallClock {
		deadline = p.cfg.Clock.Now()
	}
	p.log.Debug("streaming", "buffer", len(samples), "period", p.period, "pacing", p.discipline)

	for {
		// AfterFunc fires asynchronously; catch a cancel that landed during
		// the last push or wait.
		if ctx.Err() != nil {
			canceled.Store(true)
		}
		if p.discipline == WallClock {
			deadline += p.period
		}

		n, err := p.fill(samples, &canceled)
		switch {
		case err == nil:
		case errors.Is(err, errCanceled), ctx.Err() != nil:
			// A source unblocked by the cancel reports its own error.
			p.stats.Reason = ReasonCanceled
			p.log.Debug("canceled mid-fill, buffer discarded", "filled", n)
			return nil
		case errors.Is(err, source.ErrExhausted):
			if err != source.ErrExhausted {
				p.log.Warn("source ended", "err", err)
			}
			if n > 0 {
				p.pad(samples[n:])
				if err := p.push(pushCtx, samples); err != nil {
					return err
				}
			}
			p.stats.Reason = ReasonExhausted
			return nil
		default:
			p.stats.Reason = ReasonSourceFailed
			return fmt.Errorf("read source: %w", err)
		}

		if err := p.push(pushCtx, samples); err != nil {
			return err
		}

		if p.discipline == WallClock {
			deadline = p.wait(deadline)
		}
	}
}

var errCanceled = errors.New("canceled")

// fill writes modulated samples into dst until it is full, the source ends
// or cancellation is seen. It returns how many slots hold modulated samples.
func (p *Pacer) fill(dst []modulator.IQ, canceled *atomic.Bool) (int, error) {
	for i := range dst {
		if canceled.Load() {
			return i, errCanceled
		}
		dev, err := p.src.Next()
		if err != nil {
			return i, err
		}
		dst[i] = p.mod.Next(dev)
		p.stats.Modulated++
	}
	return len(dst), nil
}

func (p *Pacer) pad(dst []modulator.IQ) {
	clear(dst)
	p.stats.Padded += uint64(len(dst))
}

func (p *Pacer) push(ctx context.Context, samples []modulator.IQ) error {
	start := p.cfg.Clock.Now()
	n, err := p.buf.Push(ctx)
	p.stats.LastPush = p.cfg.Clock.Now() - start
	if err != nil {
		p.stats.Reason = ReasonPushFailed
		return fmt.Errorf("%w: buffer %d: %w", ErrPush, p.stats.Buffers+1, err)
	}
	p.stats.Buffers++
	p.stats.Bytes += uint64(n)
	if b, ok := p.src.(interface{ Passes() int }); ok {
		p.stats.Passes = b.Passes()
	}
	p.log.Debug("pushed", "seq", p.stats.Buffers, "bytes", n, "took", p.stats.LastPush)
	if p.cfg.OnPush != nil {
		p.cfg.OnPush(p.stats, samples)
	}
	return nil
}

// wait sleeps to deadline. When the loop is more than a whole buffer behind
// it re-anchors on the current time instead of bursting to catch up.
func (p *Pacer) wait(deadline time.Duration) time.Duration {
	now := p.cfg.Clock.Now()
	if now-deadline > p.period {
		p.stats.Late++
		p.log.Warn("behind schedule, re-anchoring", "late", now-deadline, "count", p.stats.Late)
		return now
	}
	p.cfg.Clock.SleepUntil(deadline)
	return deadline
}
