package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/charmbracelet/log"

	"github.com/fmtx/pkg/modulator"
	"github.com/fmtx/pkg/pacer"
	"github.com/fmtx/pkg/radio"
	"github.com/fmtx/pkg/source"
)

const teardownTimeout = 5 * time.Second

// Teardown stages, in the order they run.
type stage int

const (
	stagePTT stage = iota
	stageLO
	stageBuffer
	stageChannels
	stageSink
	stageCount
)

var stageNames = [stageCount]string{"PTT unkey", "LO power-down", "buffer destroy", "channel disable", "sink shutdown"}

// teardown releases whatever was acquired, in stage order, on every exit
// path. Failures are logged and never replace the run's own error.
type teardown struct {
	steps [stageCount]func() error
	log   *log.Logger
}

func (t *teardown) set(s stage, fn func() error) { t.steps[s] = fn }

func (t *teardown) run() {
	for s, fn := range t.steps {
		if fn == nil {
			continue
		}
		if err := fn(); err != nil {
			t.log.Warn("teardown step failed", "step", stageNames[s], "err", err)
		} else {
			t.log.Debug("teardown", "step", stageNames[s])
		}
	}
}

// openSource loads or attaches the deviation input. A live read stops
// waiting on stdin once ctx is canceled.
func openSource(ctx context.Context, cfg *Config, stdin io.Reader) (source.Source, error) {
	if cfg.Live() {
		return source.NewLiveContext(ctx, stdin), nil
	}
	samples, err := source.LoadFile(cfg.Input, int64(cfg.MaxPreload))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", radio.ErrResource, err)
	}
	return source.NewBounded(samples, cfg.Loop), nil
}

// runTransmit sets up the sink, streams until the input ends, ctx is
// canceled or a push fails, and tears everything down.
func runTransmit(ctx context.Context, cfg *Config, stdin io.Reader, logger *log.Logger) (pacer.Stats, error) {
	if err := cfg.Validate(); err != nil {
		return pacer.Stats{}, err
	}
	discipline, _ := pacer.ParseDiscipline(cfg.Pacing)

	mod, err := modulator.New(cfg.Modulation())
	if err != nil {
		return pacer.Stats{}, fmt.Errorf("%w: %w", radio.ErrConfig, err)
	}
	src, err := openSource(ctx, cfg, stdin)
	if err != nil {
		return pacer.Stats{}, err
	}
	if b, ok := src.(*source.Bounded); ok {
		logger.Info("input loaded", "file", cfg.Input, "samples", b.Len(),
			"seconds", float64(b.Len())/cfg.Radio.SampleRate, "loop", cfg.Loop)
	}

	logger.Info("starting transmitter",
		"mode", cfg.Mode(),
		"center_mhz", cfg.Radio.CenterFrequency/1e6,
		"rate", cfg.Radio.SampleRate,
		"deviation_hz", cfg.Deviation,
		"buffer", cfg.BufferTime,
		"sink", cfg.Sink.Kind)

	td := &teardown{log: logger}
	defer td.run()
	bg := func() (context.Context, context.CancelFunc) {
		return context.WithTimeout(context.Background(), teardownTimeout)
	}

	// 1. Sink and tuning
	sink, err := radio.Open(ctx, cfg.Sink, logger.WithPrefix("radio"))
	if err != nil {
		return pacer.Stats{}, err
	}
	td.set(stageSink, sink.Close)
	td.set(stageLO, func() error {
		c, cancel := bg()
		defer cancel()
		return sink.PowerDown(c)
	})
	if err := sink.Configure(ctx, cfg.Radio); err != nil {
		return pacer.Stats{}, err
	}

	// 2. Channels and buffer
	if err := sink.EnableChannels(ctx); err != nil {
		if ctx.Err() != nil {
			logger.Info("canceled during setup", "err", err)
			return pacer.Stats{Reason: pacer.ReasonCanceled}, nil
		}
		return pacer.Stats{}, err
	}
	td.set(stageChannels, func() error {
		c, cancel := bg()
		defer cancel()
		return sink.DisableChannels(c)
	})
	buf, err := sink.CreateBuffer(ctx, cfg.BufferSamples())
	if err != nil {
		return pacer.Stats{}, err
	}
	td.set(stageBuffer, buf.Close)

	// 3. Observers
	board := newStatusBoard(cfg)
	var observers []func(pacer.Stats, []modulator.IQ)

	if cfg.Record != "" {
		rec, err := NewRecorder(cfg.Record, RecordingMetadata{
			Mode:      cfg.Mode(),
			Input:     cfg.Input,
			Sink:      board.Snapshot().Sink,
			Settings:  cfg.Radio,
			Deviation: cfg.Deviation,
			Amplitude: cfg.Amplitude,
		})
		if err != nil {
			return pacer.Stats{}, err
		}
		logger.Info("recording", "file", rec.Path())
		defer func() {
			if err := rec.Close(); err != nil {
				logger.Warn("closing recording failed", "file", rec.Path(), "err", err)
				return
			}
			logger.Info("recording closed", "file", rec.Path(), "samples", rec.Rows())
		}()
		recording := true
		observers = append(observers, func(_ pacer.Stats, s []modulator.IQ) {
			if !recording {
				return
			}
			if err := rec.Append(s); err != nil {
				logger.Error("recording stopped", "err", err)
				recording = false
			}
		})
	}

	var mon *Monitor
	if cfg.Monitor.Addr != "" {
		mctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		mon, err = NewMonitor(cfg, board, logger.WithPrefix("monitor"))
		if err != nil {
			return pacer.Stats{}, fmt.Errorf("%w: monitor: %w", radio.ErrConfig, err)
		}
		addr, err := mon.Start(mctx, cfg.Monitor.Addr)
		if err != nil {
			return pacer.Stats{}, fmt.Errorf("%w: monitor: %w", radio.ErrResource, err)
		}
		observers = append(observers, mon.Publish)

		if cfg.Monitor.Announce {
			port := 0
			if ta, ok := addr.(*net.TCPAddr); ok {
				port = ta.Port
			}
			if err := announce(mctx, cfg.Monitor.Name, port, board.Snapshot(), logger.WithPrefix("dnssd")); err != nil {
				logger.Warn("announce failed", "err", err)
			}
		}
	}

	// 4. Pacer
	p, err := pacer.New(pacer.Config{
		SampleRate: cfg.Radio.SampleRate,
		Discipline: discipline,
		Logger:     logger.WithPrefix("pacer"),
		OnPush: func(st pacer.Stats, s []modulator.IQ) {
			for _, fn := range observers {
				fn(st, s)
			}
		},
	}, mod, src, buf)
	if err != nil {
		return pacer.Stats{}, err
	}

	// 5. PTT last, released first
	if cfg.PTT.Line != "" {
		ptt, err := OpenPTT(cfg.PTT, logger.WithPrefix("ptt"))
		if err != nil {
			return pacer.Stats{}, err
		}
		td.set(stagePTT, ptt.Close)
		if err := ptt.Key(); err != nil {
			return pacer.Stats{}, fmt.Errorf("%w: %w", radio.ErrResource, err)
		}
	}

	board.update(func(s *Status) {
		s.Pacing = p.Discipline().String()
		s.Started = time.Now()
		s.Running = true
	})
	logger.Info("streaming", "pacing", p.Discipline(), "buffer_samples", cfg.BufferSamples(), "period", p.Period())

	err = p.Run(ctx)
	st := p.Stats()
	if mon != nil {
		mon.Finish(st)
	}

	logger.Info("transmitter stopped",
		"reason", st.Reason,
		"buffers", st.Buffers,
		"samples", st.Modulated,
		"padded", st.Padded,
		"late", st.Late,
		"passes", st.Passes,
		"bytes", st.Bytes)
	return st, err
}
