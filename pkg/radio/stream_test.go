package radio

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fmtx/pkg/modulator"
)

func quiet() *log.Logger { return log.New(io.Discard) }

func TestFileSink(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "iq.raw")
	s := NewFileSink(path, quiet())

	require.NoError(t, s.Configure(ctx, goodSettings()))
	_, err := s.CreateBuffer(ctx, 2)
	require.ErrorIs(t, err, ErrConfig, "buffer before channels")

	require.NoError(t, s.EnableChannels(ctx))
	buf, err := s.CreateBuffer(ctx, 2)
	require.NoError(t, err)

	for _, v := range []int16{100, -100} {
		buf.Samples()[0] = modulator.IQ{I: v, Q: -v}
		buf.Samples()[1] = modulator.IQ{I: v / 2, Q: 0}
		n, err := buf.Push(ctx)
		require.NoError(t, err)
		assert.Equal(t, 8, n)
	}

	require.NoError(t, s.PowerDown(ctx))
	require.NoError(t, buf.Close())
	require.NoError(t, s.DisableChannels(ctx))
	require.NoError(t, s.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []modulator.IQ{
		{I: 100, Q: -100}, {I: 50, Q: 0},
		{I: -100, Q: 100}, {I: -50, Q: 0},
	}, DecodeIQ(raw))
	assert.False(t, s.BlocksOnPush())
}

func TestNullSinkCounts(t *testing.T) {
	ctx := context.Background()
	s := NewNullSink(quiet())
	require.NoError(t, s.Configure(ctx, goodSettings()))
	require.NoError(t, s.EnableChannels(ctx))
	buf, err := s.CreateBuffer(ctx, 10)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := buf.Push(ctx)
		require.NoError(t, err)
	}
	assert.EqualValues(t, 120, s.Bytes)

	_, err = s.CreateBuffer(ctx, 0)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestOpenKinds(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	for kind, want := range map[string]any{
		KindNull: &NullSink{},
		KindFile: &FileSink{},
		KindFIFO: &FileSink{},
		KindDMA:  &DMASink{},
		KindShm:  &ShmSink{},
	} {
		s, err := Open(ctx, Target{Kind: kind, Device: filepath.Join(dir, kind)}, quiet())
		require.NoError(t, err, kind)
		assert.IsType(t, want, s, kind)
	}

	_, err := Open(ctx, Target{Kind: "carrier-pigeon"}, quiet())
	assert.ErrorIs(t, err, ErrConfig)

	_, err = Open(ctx, Target{Kind: KindFile}, quiet())
	assert.ErrorIs(t, err, ErrConfig)

	_, err = Open(ctx, Target{Kind: KindAD9361, URI: "ip:"}, quiet())
	assert.ErrorIs(t, err, ErrConfig)
}
