package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lestrrat-go/strftime"
	"github.com/segmentio/parquet-go"

	"github.com/fmtx/pkg/modulator"
	"github.com/fmtx/pkg/radio"
)

// TxSample is one transmitted I/Q pair.
type TxSample struct {
	Seq int64 `parquet:"seq,delta"`
	I   int32 `parquet:"i"`
	Q   int32 `parquet:"q"`
}

// RecordingMetadata is stored as JSON under the "transmit" key.
type RecordingMetadata struct {
	Started   string         `json:"started"`
	Mode      string         `json:"mode"`
	Input     string         `json:"input,omitempty"`
	Sink      string         `json:"sink"`
	Settings  radio.Settings `json:"settings"`
	Deviation float64        `json:"deviation_hz"`
	Amplitude float64        `json:"amplitude"`
}

// Recorder appends every pushed buffer to a Parquet file.
type Recorder struct {
	path   string
	file   *os.File
	writer *parquet.GenericWriter[TxSample]
	rows   []TxSample
	seq    int64
}

// recordPath expands a strftime pattern such as "tx-%Y%m%d-%H%M%S.parquet".
func recordPath(pattern string, t time.Time) (string, error) {
	p, err := strftime.Format(pattern, t)
	if err != nil {
		return "", fmt.Errorf("%w: record pattern %q: %w", radio.ErrConfig, pattern, err)
	}
	return p, nil
}

// NewRecorder creates the file named by pattern at the current time.
func NewRecorder(pattern string, meta RecordingMetadata) (*Recorder, error) {
	now := time.Now()
	path, err := recordPath(pattern, now)
	if err != nil {
		return nil, err
	}
	if meta.Started == "" {
		meta.Started = now.UTC().Format(time.RFC3339)
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("recording metadata: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: %w", radio.ErrResource, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", radio.ErrResource, err)
	}

	return &Recorder{
		path:   path,
		file:   f,
		writer: parquet.NewGenericWriter[TxSample](f, parquet.KeyValueMetadata("transmit", string(b))),
	}, nil
}

// Path is the expanded file name.
func (r *Recorder) Path() string { return r.path }

// Rows is the number of samples appended so far.
func (r *Recorder) Rows() int64 { return r.seq }

// Append writes samples as rows. Sequence numbers continue across calls.
func (r *Recorder) Append(samples []modulator.IQ) error {
	r.rows = r.rows[:0]
	for _, s := range samples {
		r.rows = append(r.rows, TxSample{Seq: r.seq, I: int32(s.I), Q: int32(s.Q)})
		r.seq++
	}
	if _, err := r.writer.Write(r.rows); err != nil {
		return fmt.Errorf("record %s: %w", r.path, err)
	}
	return nil
}

// Close flushes the footer and closes the file.
func (r *Recorder) Close() error {
	if err := r.writer.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}
