package main

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/segmentio/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fmtx/pkg/modulator"
)

func readRecording(t *testing.T, path string) ([]TxSample, RecordingMetadata) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	st, err := f.Stat()
	require.NoError(t, err)

	pf, err := parquet.OpenFile(f, st.Size())
	require.NoError(t, err)
	raw, ok := pf.Lookup("transmit")
	require.True(t, ok, "metadata key")
	var meta RecordingMetadata
	require.NoError(t, json.Unmarshal([]byte(raw), &meta))

	r := parquet.NewGenericReader[TxSample](f)
	defer r.Close()
	rows := make([]TxSample, r.NumRows())
	n, err := r.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		require.NoError(t, err)
	}
	return rows[:n], meta
}

func TestRecordPath(t *testing.T) {
	ts := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	p, err := recordPath("tx-%Y%m%d-%H%M%S.parquet", ts)
	require.NoError(t, err)
	assert.Equal(t, "tx-20240309-140507.parquet", p)

	p, err = recordPath("plain.parquet", ts)
	require.NoError(t, err)
	assert.Equal(t, "plain.parquet", p)
}

func TestRecorderRows(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	meta := RecordingMetadata{Mode: "preload", Sink: "null", Settings: cfg.Radio, Deviation: 7500, Amplitude: 0.99}

	rec, err := NewRecorder(filepath.Join(dir, "sub", "rec.parquet"), meta)
	require.NoError(t, err)

	require.NoError(t, rec.Append([]modulator.IQ{{I: 1, Q: -1}, {I: 32767, Q: -32767}}))
	require.NoError(t, rec.Append([]modulator.IQ{{I: 0, Q: 5}}))
	assert.EqualValues(t, 3, rec.Rows())
	require.NoError(t, rec.Close())

	rows, got := readRecording(t, rec.Path())
	assert.Equal(t, []TxSample{
		{Seq: 0, I: 1, Q: -1},
		{Seq: 1, I: 32767, Q: -32767},
		{Seq: 2, I: 0, Q: 5},
	}, rows)
	assert.Equal(t, "preload", got.Mode)
	assert.Equal(t, cfg.Radio, got.Settings)
	assert.NotEmpty(t, got.Started)
}

func TestRecorderRejectsUnencodableMetadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.parquet")
	_, err := NewRecorder(path, RecordingMetadata{Mode: "live", Deviation: math.NaN()})
	require.Error(t, err)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "no file left behind")
}
