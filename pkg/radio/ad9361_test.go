package radio

import (
	"context"
	"fmt"
	"io"
	"syscall"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fmtx/pkg/modulator"
)

// fakeIIO records calls in order.
type fakeIIO struct {
	calls    []string
	attrs    map[string]string
	written  [][]byte
	failOpen error
	failAttr map[string]error
	short    bool
	closed   bool
}

func newFakeIIO() *fakeIIO {
	return &fakeIIO{attrs: map[string]string{}, failAttr: map[string]error{}}
}

func (f *fakeIIO) WriteChannelAttr(_ context.Context, dev string, output bool, ch, attr, value string) error {
	f.calls = append(f.calls, fmt.Sprintf("write %s/%s/%s=%s", dev, ch, attr, value))
	if err := f.failAttr[attr]; err != nil {
		return err
	}
	f.attrs[ch+"/"+attr] = value
	return nil
}

func (f *fakeIIO) ReadChannelAttr(_ context.Context, dev string, output bool, ch, attr string) (string, error) {
	return f.attrs[ch+"/"+attr], nil
}

func (f *fakeIIO) Open(_ context.Context, dev string, samples int, mask string, cyclic bool) error {
	f.calls = append(f.calls, fmt.Sprintf("open %s %d %s %v", dev, samples, mask, cyclic))
	return f.failOpen
}

func (f *fakeIIO) WriteBuffer(_ context.Context, dev string, p []byte) (int, error) {
	f.calls = append(f.calls, fmt.Sprintf("writebuf %s %d", dev, len(p)))
	f.written = append(f.written, append([]byte(nil), p...))
	if f.short {
		return len(p) / 2, nil
	}
	return len(p), nil
}

func (f *fakeIIO) CloseBuffer(_ context.Context, dev string) error {
	f.calls = append(f.calls, "close "+dev)
	return nil
}

func (f *fakeIIO) Close() error {
	f.closed = true
	return nil
}

func newTestAD9361(f *fakeIIO) *AD9361 {
	return NewAD9361(f, DefaultAD9361Config(), log.New(io.Discard))
}

func TestAD9361Lifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFakeIIO()
	d := newTestAD9361(f)

	require.NoError(t, d.Configure(ctx, goodSettings()))
	require.NoError(t, d.EnableChannels(ctx))
	buf, err := d.CreateBuffer(ctx, 2)
	require.NoError(t, err)

	copy(buf.Samples(), []modulator.IQ{{I: 1, Q: 2}, {I: -3, Q: -4}})
	n, err := buf.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	require.NoError(t, d.PowerDown(ctx))
	require.NoError(t, buf.Close())
	require.NoError(t, d.DisableChannels(ctx))
	require.NoError(t, d.Close())

	assert.Equal(t, []string{
		"write ad9361-phy/voltage0/rf_bandwidth=200000",
		"write ad9361-phy/voltage0/sampling_frequency=2304000",
		"write ad9361-phy/altvoltage1/frequency=96500000",
		"write ad9361-phy/voltage0/hardwaregain=-10.00",
		"write ad9361-phy/altvoltage1/powerdown=0",
		"open cf-ad9361-dds-core-lpc 2 00000003 false",
		"writebuf cf-ad9361-dds-core-lpc 8",
		"write ad9361-phy/altvoltage1/powerdown=1",
		"close cf-ad9361-dds-core-lpc",
	}, f.calls)
	assert.Equal(t, []modulator.IQ{{I: 1, Q: 2}, {I: -3, Q: -4}}, DecodeIQ(f.written[0]))
	assert.True(t, f.closed)
	assert.True(t, d.BlocksOnPush())
}

func TestAD9361RejectsBadSettingsBeforeTouchingHardware(t *testing.T) {
	f := newFakeIIO()
	d := newTestAD9361(f)

	s := goodSettings()
	s.CenterFrequency = 10e6
	assert.ErrorIs(t, d.Configure(context.Background(), s), ErrConfig)
	assert.Empty(t, f.calls)
}

func TestAD9361ErrorClasses(t *testing.T) {
	ctx := context.Background()

	f := newFakeIIO()
	f.failAttr["hardwaregain"] = syscall.EINVAL
	err := newTestAD9361(f).Configure(ctx, goodSettings())
	assert.ErrorIs(t, err, ErrConfig)
	assert.ErrorIs(t, err, syscall.EINVAL)

	f = newFakeIIO()
	f.failAttr["frequency"] = syscall.ETIMEDOUT
	assert.ErrorIs(t, newTestAD9361(f).Configure(ctx, goodSettings()), ErrResource)

	f = newFakeIIO()
	f.failOpen = syscall.ENOMEM
	d := newTestAD9361(f)
	require.NoError(t, d.EnableChannels(ctx))
	_, err = d.CreateBuffer(ctx, 1024)
	assert.ErrorIs(t, err, ErrResource)
}

func TestAD9361BufferNeedsChannels(t *testing.T) {
	_, err := newTestAD9361(newFakeIIO()).CreateBuffer(context.Background(), 16)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestAD9361ShortWrite(t *testing.T) {
	ctx := context.Background()
	f := newFakeIIO()
	f.short = true
	d := newTestAD9361(f)
	require.NoError(t, d.EnableChannels(ctx))
	buf, err := d.CreateBuffer(ctx, 4)
	require.NoError(t, err)

	_, err = buf.Push(ctx)
	assert.Error(t, err)
}
