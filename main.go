package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/fmtx/pkg/radio"
)

// Exit statuses.
const (
	exitOK       = 0
	exitFailure  = 1
	exitBadUsage = 2
)

type options struct {
	configPath string
	verbosity  int
	quiet      bool
}

// parseArgs builds the run configuration: defaults, then the profile named
// by --config, then every flag given explicitly on the command line.
func parseArgs(args []string, stderr io.Writer) (*Config, options, error) {
	fs := pflag.NewFlagSet("fmtx", pflag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		opts       options
		freq       freqFlag
		rate       freqFlag
		bandwidth  freqFlag
		deviation  freqFlag
		maxPreload sizeFlag
	)
	fs.StringVarP(&opts.configPath, "config", "c", "", "YAML profile")
	fs.CountVarP(&opts.verbosity, "verbose", "v", "More logging (repeatable)")
	fs.BoolVarP(&opts.quiet, "quiet", "q", false, "Only log warnings and errors")

	fs.VarP(&freq, "frequency", "f", "Center frequency (e.g. 96.5M, 433.92MHz)")
	fs.VarP(&rate, "sample-rate", "s", "Sample rate (e.g. 2.304M)")
	fs.VarP(&bandwidth, "bandwidth", "b", "RF bandwidth (e.g. 200k)")
	fs.VarP(&deviation, "deviation", "d", "Peak deviation at full-scale input (e.g. 75k)")
	gain := fs.Float64P("gain", "g", 0, "TX gain in dB, 0 is maximum output")
	amplitude := fs.Float64("amplitude", 0, "Output amplitude as a fraction of full scale")
	bufferTime := fs.Duration("buffer-time", 0, "Transmit buffer length (default 40ms live, 100ms preload)")
	pacing := fs.String("pacing", "", "Timing discipline: auto, sink or clock")

	input := fs.StringP("input", "i", "", "Raw int16 deviation file to preload (default: stream stdin)")
	noLoop := fs.Bool("no-loop", false, "Play a preloaded file once instead of looping")
	fs.Var(&maxPreload, "max-preload", "Largest file to preload (e.g. 512MB)")

	sink := fs.String("sink", "", "Sink: "+strings.Join(radio.Kinds, ", "))
	uri := fs.String("uri", "", "iiod address for the ad9361 sink (ip:host)")
	device := fs.String("device", "", "Device path, file or ring name for the other sinks")

	monitor := fs.String("monitor", "", "Serve telemetry on this address (e.g. :8080)")
	announce := fs.Bool("announce", false, "Advertise the monitor with DNS-SD")
	record := fs.String("record", "", "Record transmitted I/Q to a Parquet file (strftime pattern)")
	ptt := fs.String("ptt", "", "GPIO line keying the PA (chip:offset)")
	pttActiveLow := fs.Bool("ptt-active-low", false, "PTT line is active low")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage of fmtx:\n")
		fmt.Fprintln(stderr, "  Live mode:    producer | fmtx [options]")
		fmt.Fprintln(stderr, "  Preload mode: fmtx -i file.raw [options]")
		fmt.Fprintln(stderr, "\nOptions:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, opts, fmt.Errorf("%w: %w", radio.ErrConfig, err)
	}
	if fs.NArg() > 0 {
		return nil, opts, fmt.Errorf("%w: unexpected arguments %q", radio.ErrConfig, fs.Args())
	}

	cfg, err := LoadConfig(opts.configPath)
	if err != nil {
		return nil, opts, err
	}

	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "frequency":
			cfg.Radio.CenterFrequency = float64(freq)
		case "sample-rate":
			cfg.Radio.SampleRate = float64(rate)
		case "bandwidth":
			cfg.Radio.Bandwidth = float64(bandwidth)
		case "gain":
			cfg.Radio.GainDB = *gain
		case "deviation":
			cfg.Deviation = float64(deviation)
		case "amplitude":
			cfg.Amplitude = *amplitude
		case "buffer-time":
			cfg.BufferTime = *bufferTime
		case "pacing":
			cfg.Pacing = *pacing
		case "input":
			cfg.Input = *input
		case "no-loop":
			cfg.Loop = !*noLoop
		case "max-preload":
			cfg.MaxPreload = maxPreload
		case "sink":
			cfg.Sink.Kind = *sink
		case "uri":
			cfg.Sink.URI = *uri
		case "device":
			cfg.Sink.Device = *device
		case "monitor":
			cfg.Monitor.Addr = *monitor
		case "announce":
			cfg.Monitor.Announce = *announce
		case "record":
			cfg.Record = *record
		case "ptt":
			cfg.PTT.Line = *ptt
		case "ptt-active-low":
			cfg.PTT.ActiveLow = *pttActiveLow
		}
	})
	return cfg, opts, nil
}

func newLogger(opts options) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
	})
	switch {
	case opts.quiet:
		logger.SetLevel(log.WarnLevel)
	case opts.verbosity > 0:
		logger.SetLevel(log.DebugLevel)
	}
	log.SetDefault(logger)
	return logger
}

// exitCode maps configuration errors to 2 and every other failure to 1.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, radio.ErrConfig):
		return exitBadUsage
	default:
		return exitFailure
	}
}

func main() {
	cfg, opts, err := parseArgs(os.Args[1:], os.Stderr)
	if errors.Is(err, pflag.ErrHelp) {
		os.Exit(exitOK)
	}
	logger := newLogger(opts)
	if err != nil {
		logger.Error("bad arguments", "err", err)
		os.Exit(exitCode(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// The first signal starts teardown; a second one gets the default action.
	context.AfterFunc(ctx, stop)

	_, err = runTransmit(ctx, cfg, os.Stdin, logger)
	if err != nil {
		logger.Error("transmission failed", "err", err)
	}
	stop()
	os.Exit(exitCode(err))
}
