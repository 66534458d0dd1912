package main

import (
	"sync"
	"time"

	"github.com/fmtx/pkg/pacer"
	"github.com/fmtx/pkg/radio"
)

// Status is what the monitor reports about the current transmission.
type Status struct {
	Mode          string         `json:"mode"`
	Input         string         `json:"input,omitempty"`
	Sink          string         `json:"sink"`
	Pacing        string         `json:"pacing"`
	Settings      radio.Settings `json:"settings"`
	Deviation     float64        `json:"deviation_hz"`
	BufferSamples int            `json:"buffer_samples"`
	Started       time.Time      `json:"started"`
	Running       bool           `json:"running"`
	Stats         pacer.Stats    `json:"stats"`
	Dropped       uint64         `json:"dropped_frames"`
}

// statusBoard is the shared status, written by the transmit loop and read by
// HTTP handlers.
type statusBoard struct {
	mu sync.RWMutex
	st Status
}

func newStatusBoard(cfg *Config) *statusBoard {
	kind := cfg.Sink.Kind
	if kind == "" {
		kind = radio.KindAD9361
	}
	return &statusBoard{st: Status{
		Mode:          cfg.Mode(),
		Input:         cfg.Input,
		Sink:          kind,
		Pacing:        cfg.Pacing,
		Settings:      cfg.Radio,
		Deviation:     cfg.Deviation,
		BufferSamples: cfg.BufferSamples(),
	}}
}

func (b *statusBoard) Snapshot() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.st
}

func (b *statusBoard) update(fn func(*Status)) {
	b.mu.Lock()
	fn(&b.st)
	b.mu.Unlock()
}
