package pacer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/fmtx/pkg/modulator"
	"github.com/fmtx/pkg/source"
)

// fakeClock advances only when slept on or when a push charges it.
type fakeClock struct {
	now    time.Duration
	sleeps []time.Duration
	woke   []time.Duration
}

func (c *fakeClock) Now() time.Duration { return c.now }

func (c *fakeClock) SleepUntil(deadline time.Duration) {
	c.sleeps = append(c.sleeps, deadline)
	if deadline > c.now {
		c.now = deadline
	}
	c.woke = append(c.woke, c.now)
}

// fakeBuffer records a copy of every pushed buffer.
type fakeBuffer struct {
	samples []modulator.IQ
	pushed  [][]modulator.IQ
	blocks  bool
	failAt  int // 1-based push that fails, 0 never
	clock   *fakeClock
	cost    func(push int) time.Duration
	closed  bool
}

func newFakeBuffer(capacity int) *fakeBuffer {
	return &fakeBuffer{samples: make([]modulator.IQ, capacity)}
}

func (b *fakeBuffer) Samples() []modulator.IQ { return b.samples }

func (b *fakeBuffer) Push(ctx context.Context) (int, error) {
	if ctx.Err() != nil {
		return 0, errors.New("push saw a canceled context")
	}
	n := len(b.pushed) + 1
	if b.clock != nil && b.cost != nil {
		b.clock.now += b.cost(n)
	}
	if n == b.failAt {
		return 0, io.ErrClosedPipe
	}
	b.pushed = append(b.pushed, append([]modulator.IQ(nil), b.samples...))
	return len(b.samples) * 4, nil
}

func (b *fakeBuffer) Close() error {
	b.closed = true
	return nil
}

func (b *fakeBuffer) BlocksOnPush() bool { return b.blocks }

func (b *fakeBuffer) flat() []modulator.IQ {
	var out []modulator.IQ
	for _, p := range b.pushed {
		out = append(out, p...)
	}
	return out
}

const testRate = 48000.0

func newMod(t require.TestingT) *modulator.Modulator {
	m, err := modulator.New(modulator.Config{
		SampleRate:     testRate,
		DeviationScale: modulator.DeviationScaleFor(7500),
		Amplitude:      modulator.DefaultAmplitude,
	})
	require.NoError(t, err)
	return m
}

func quiet() *log.Logger { return log.New(io.Discard) }

func ramp(n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16((i*977)%65536 - 32768)
	}
	return out
}

// reference modulates devs with a fresh modulator, as one uninterrupted run.
func reference(t require.TestingT, devs []int16) []modulator.IQ {
	out := make([]modulator.IQ, len(devs))
	newMod(t).Modulate(out, devs)
	return out
}

// cancelAfter returns an OnPush hook that cancels once n buffers are out.
func cancelAfter(n uint64, cancel context.CancelFunc) func(Stats, []modulator.IQ) {
	return func(s Stats, _ []modulator.IQ) {
		if s.Buffers == n {
			cancel()
		}
	}
}

func TestLoopWrapIsPhaseContinuous(t *testing.T) {
	const n = 100
	devs := ramp(n)
	buf := newFakeBuffer(50)
	src := source.NewBounded(devs, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, err := New(Config{
		SampleRate: testRate,
		Discipline: SinkPaced,
		Logger:     quiet(),
		OnPush:     cancelAfter(5, cancel),
	}, newMod(t), src, buf)
	require.NoError(t, err)

	require.NoError(t, p.Run(ctx))
	st := p.Stats()
	assert.Equal(t, ReasonCanceled, st.Reason)
	assert.EqualValues(t, 5, st.Buffers)
	assert.Equal(t, 2, st.Passes)

	// 2.5 passes through the file, produced as one uninterrupted phase path.
	want := make([]int16, 0, 250)
	for len(want) < 250 {
		want = append(want, devs...)
	}
	got := buf.flat()
	require.Len(t, got, 250)
	assert.Equal(t, reference(t, want[:250]), got)

	// The wrap does not realign with the first pass.
	assert.NotEqual(t, got[:n], got[n:2*n])
}

func TestLiveExhaustionPadsFinalBuffer(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(1, 64).Draw(t, "capacity")
		devs := rapid.SliceOfN(rapid.Int16(), 1, 300).Draw(t, "devs")

		var raw []byte
		for _, d := range devs {
			raw = append(raw, byte(uint16(d)), byte(uint16(d)>>8))
		}
		src := source.NewLive(bytes.NewReader(raw))
		buf := newFakeBuffer(capacity)

		p, err := New(Config{SampleRate: testRate, Discipline: SinkPaced, Logger: quiet()}, newMod(t), src, buf)
		require.NoError(t, err)
		require.NoError(t, p.Run(context.Background()))

		k := len(devs)
		pushes := (k + capacity - 1) / capacity
		padding := pushes*capacity - k

		st := p.Stats()
		if st.Reason != ReasonExhausted {
			t.Fatalf("reason %v", st.Reason)
		}
		if int(st.Modulated) != k || int(st.Padded) != padding || int(st.Buffers) != pushes {
			t.Fatalf("stats %+v, want %d modulated, %d padded, %d buffers", st, k, padding, pushes)
		}

		got := buf.flat()
		want := reference(t, devs)
		for i := 0; i < k; i++ {
			if got[i] != want[i] {
				t.Fatalf("sample %d: got %+v want %+v", i, got[i], want[i])
			}
		}
		for i := k; i < len(got); i++ {
			if got[i] != (modulator.IQ{}) {
				t.Fatalf("padding slot %d holds %+v", i, got[i])
			}
		}
	})
}

func TestExhaustionOnBufferBoundaryPushesNothingExtra(t *testing.T) {
	buf := newFakeBuffer(10)
	p, err := New(Config{SampleRate: testRate, Discipline: SinkPaced, Logger: quiet()},
		newMod(t), source.NewBounded(ramp(20), false), buf)
	require.NoError(t, err)

	require.NoError(t, p.Run(context.Background()))
	st := p.Stats()
	assert.EqualValues(t, 2, st.Buffers)
	assert.Zero(t, st.Padded)
	assert.Equal(t, ReasonExhausted, st.Reason)
}

func TestCanceledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	buf := newFakeBuffer(10)
	p, err := New(Config{SampleRate: testRate, Logger: quiet()}, newMod(t), source.NewBounded(ramp(5), true), buf)
	require.NoError(t, err)

	require.NoError(t, p.Run(ctx))
	assert.Empty(t, buf.pushed)
	assert.Equal(t, ReasonCanceled, p.Stats().Reason)
}

func TestCancelUnblocksIdleLiveInput(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Half a buffer arrives, then the producer goes quiet.
	go func() {
		var raw []byte
		for _, d := range ramp(8) {
			raw = append(raw, byte(uint16(d)), byte(uint16(d)>>8))
		}
		pw.Write(raw)
	}()

	buf := newFakeBuffer(16)
	p, err := New(Config{SampleRate: testRate, Discipline: SinkPaced, Logger: quiet()},
		newMod(t), source.NewLiveContext(ctx, pr), buf)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run still blocked on the input after cancel")
	}
	assert.Equal(t, ReasonCanceled, p.Stats().Reason)
	assert.Empty(t, buf.pushed)
	assert.EqualValues(t, 8, p.Stats().Modulated)
}

func TestPushFailureIsTerminal(t *testing.T) {
	buf := newFakeBuffer(8)
	buf.failAt = 3
	p, err := New(Config{SampleRate: testRate, Discipline: SinkPaced, Logger: quiet()},
		newMod(t), source.NewBounded(ramp(8), true), buf)
	require.NoError(t, err)

	err = p.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPush)
	assert.ErrorIs(t, err, io.ErrClosedPipe)
	assert.Len(t, buf.pushed, 2)

	st := p.Stats()
	assert.EqualValues(t, 2, st.Buffers)
	assert.Equal(t, ReasonPushFailed, st.Reason)
}

func TestWallClockDeadlines(t *testing.T) {
	const cycles = 100
	clock := &fakeClock{now: 5 * time.Second}
	buf := newFakeBuffer(480) // 10 ms at 48 kHz
	buf.clock = clock
	buf.cost = func(int) time.Duration { return 3 * time.Millisecond }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, err := New(Config{
		SampleRate: testRate,
		Discipline: WallClock,
		Clock:      clock,
		Logger:     quiet(),
		OnPush:     cancelAfter(cycles, cancel),
	}, newMod(t), source.NewBounded(ramp(1000), true), buf)
	require.NoError(t, err)
	require.Equal(t, 10*time.Millisecond, p.Period())

	start := clock.now
	require.NoError(t, p.Run(ctx))

	require.Len(t, clock.sleeps, cycles)
	for k, d := range clock.sleeps {
		assert.Equal(t, start+time.Duration(k+1)*p.Period(), d, "deadline %d", k)
		assert.GreaterOrEqual(t, clock.woke[k], d, "woke early on cycle %d", k)
	}
	assert.LessOrEqual(t, clock.now-start, cycles*p.Period()+time.Millisecond)
	assert.Zero(t, p.Stats().Late)
}

func TestWallClockReanchorsWhenLate(t *testing.T) {
	clock := &fakeClock{}
	buf := newFakeBuffer(480)
	buf.clock = clock
	buf.cost = func(n int) time.Duration {
		if n == 3 {
			return 35 * time.Millisecond
		}
		return time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, err := New(Config{
		SampleRate: testRate,
		Discipline: WallClock,
		Clock:      clock,
		Logger:     quiet(),
		OnPush:     cancelAfter(5, cancel),
	}, newMod(t), source.NewBounded(ramp(480), true), buf)
	require.NoError(t, err)
	require.NoError(t, p.Run(ctx))

	assert.EqualValues(t, 1, p.Stats().Late)
	// Cycles 1, 2 sleep to 10, 20 ms. Cycle 3 ends at 20+35 = 55 ms, more than
	// one period past its 30 ms deadline, so it does not sleep and 55 ms
	// becomes the new anchor.
	require.Len(t, clock.sleeps, 4)
	assert.Equal(t, []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		65 * time.Millisecond,
		75 * time.Millisecond,
	}, clock.sleeps)
}

func TestSinkPacedNeverSleeps(t *testing.T) {
	clock := &fakeClock{}
	buf := newFakeBuffer(32)
	buf.blocks = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, err := New(Config{
		SampleRate: testRate,
		Clock:      clock,
		Logger:     quiet(),
		OnPush:     cancelAfter(20, cancel),
	}, newMod(t), source.NewBounded(ramp(50), true), buf)
	require.NoError(t, err)
	assert.Equal(t, SinkPaced, p.Discipline())

	require.NoError(t, p.Run(ctx))
	assert.Empty(t, clock.sleeps)
	assert.Len(t, buf.pushed, 20)
}

func TestContinuityAcrossBuffers(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(1, 40).Draw(t, "capacity")
		devs := rapid.SliceOfN(rapid.Int16(), 1, 200).Draw(t, "devs")

		buf := newFakeBuffer(capacity)
		mod := newMod(t)
		limit := mod.MaxPhaseStep() + 1e-3
		p, err := New(Config{SampleRate: testRate, Discipline: SinkPaced, Logger: quiet()},
			mod, source.NewBounded(devs, false), buf)
		require.NoError(t, err)
		require.NoError(t, p.Run(context.Background()))

		got := buf.flat()[:len(devs)]
		prev := 0.0
		for i, s := range got {
			cur := math.Atan2(float64(s.Q), float64(s.I))
			d := math.Mod(cur-prev+3*math.Pi, 2*math.Pi) - math.Pi
			if math.Abs(d) > limit {
				t.Fatalf("sample %d: jump %.5f rad", i, d)
			}
			prev = cur
		}
	})
}

func TestRunResetsPhase(t *testing.T) {
	devs := ramp(30)
	mod := newMod(t)
	mod.Next(12345)
	require.NotZero(t, mod.Phase())

	buf := newFakeBuffer(30)
	p, err := New(Config{SampleRate: testRate, Discipline: SinkPaced, Logger: quiet()},
		mod, source.NewBounded(devs, false), buf)
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background()))

	assert.Equal(t, reference(t, devs), buf.flat())
}

func TestDiscipline(t *testing.T) {
	assert.Equal(t, WallClock, DisciplineFor(Auto))
	assert.Equal(t, SinkPaced, DisciplineFor(Auto, struct{}{}, &fakeBuffer{blocks: true}))
	assert.Equal(t, WallClock, DisciplineFor(Auto, &fakeBuffer{}))
	assert.Equal(t, SinkPaced, DisciplineFor(SinkPaced, &fakeBuffer{}))

	for _, d := range []Discipline{Auto, SinkPaced, WallClock} {
		got, err := ParseDiscipline(d.String())
		require.NoError(t, err)
		assert.Equal(t, d, got)
	}
	_, err := ParseDiscipline("sometimes")
	assert.Error(t, err)
}

func TestNewRejectsBadConfig(t *testing.T) {
	src := source.NewBounded(nil, false)
	_, err := New(Config{SampleRate: 0}, newMod(t), src, newFakeBuffer(1))
	assert.Error(t, err)
	_, err = New(Config{SampleRate: testRate}, newMod(t), src, newFakeBuffer(0))
	assert.Error(t, err)
	_, err = New(Config{SampleRate: testRate}, nil, src, newFakeBuffer(1))
	assert.Error(t, err)
}
