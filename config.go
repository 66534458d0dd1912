package main

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fmtx/pkg/modulator"
	"github.com/fmtx/pkg/pacer"
	"github.com/fmtx/pkg/radio"
)

// Per-mode defaults. Live input is usually narrowband audio piped from
// another program; preloaded files are normally pre-emphasized broadcast
// audio, which historically ran with less deviation and deeper buffering.
const (
	liveDeviation     = 10e3
	liveBufferTime    = 40 * time.Millisecond
	preloadDeviation  = 7.5e3
	preloadBufferTime = 100 * time.Millisecond

	defaultMaxPreload = 512 * 1024 * 1024
)

// Config is the whole transmit profile. Zero Deviation and BufferTime take
// the default of the selected mode.
type Config struct {
	Radio      radio.Settings `yaml:"radio"`
	Deviation  float64        `yaml:"deviation"` // peak Hz at full-scale input
	Amplitude  float64        `yaml:"amplitude"`
	BufferTime time.Duration  `yaml:"buffer_time"`
	Pacing     string         `yaml:"pacing"`

	Input      string   `yaml:"input"` // empty reads stdin
	Loop       bool     `yaml:"loop"`
	MaxPreload sizeFlag `yaml:"max_preload"`

	Sink    radio.Target  `yaml:"sink"`
	Monitor MonitorConfig `yaml:"monitor"`
	Record  string        `yaml:"record"` // strftime pattern of a Parquet file
	PTT     PTTConfig     `yaml:"ptt"`
}

// MonitorConfig enables the read-only telemetry server.
type MonitorConfig struct {
	Addr     string `yaml:"addr"`
	Announce bool   `yaml:"announce"`
	Name     string `yaml:"name"`
	FFTSize  int    `yaml:"fft_size"`
}

// PTTConfig keys an external amplifier through a GPIO line.
type PTTConfig struct {
	Line      string `yaml:"line"` // chip:offset, e.g. gpiochip0:17
	ActiveLow bool   `yaml:"active_low"`
}

// DefaultConfig returns the profile used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Radio: radio.Settings{
			CenterFrequency: 96.5e6,
			SampleRate:      2.304e6,
			Bandwidth:       200e3,
			GainDB:          -10,
		},
		Amplitude:  modulator.DefaultAmplitude,
		Pacing:     pacer.Auto.String(),
		Loop:       true,
		MaxPreload: defaultMaxPreload,
		Sink: radio.Target{
			Kind:   radio.KindAD9361,
			URI:    "ip:localhost",
			AD9361: radio.DefaultAD9361Config(),
		},
		Monitor: MonitorConfig{Name: "fmtx", FFTSize: 1024},
	}
}

// LoadConfig reads a YAML profile over the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", radio.ErrConfig, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", radio.ErrConfig, path, err)
	}
	return cfg, nil
}

// Live reports whether samples come from stdin.
func (c *Config) Live() bool { return c.Input == "" }

// Mode names the input mode for logs and telemetry.
func (c *Config) Mode() string {
	if c.Live() {
		return "live"
	}
	return "preload"
}

// resolve fills the mode-dependent defaults.
func (c *Config) resolve() {
	if c.Deviation == 0 {
		c.Deviation = preloadDeviation
		if c.Live() {
			c.Deviation = liveDeviation
		}
	}
	if c.BufferTime == 0 {
		c.BufferTime = preloadBufferTime
		if c.Live() {
			c.BufferTime = liveBufferTime
		}
	}
}

// BufferSamples is the transmit buffer capacity.
func (c *Config) BufferSamples() int {
	return int(math.Round(c.BufferTime.Seconds() * c.Radio.SampleRate))
}

// Modulation returns the modulator parameters.
func (c *Config) Modulation() modulator.Config {
	return modulator.Config{
		SampleRate:     c.Radio.SampleRate,
		DeviationScale: modulator.DeviationScaleFor(c.Deviation),
		Amplitude:      c.Amplitude,
	}
}

// Validate resolves defaults and checks everything that can be checked
// without touching hardware. Errors wrap radio.ErrConfig.
func (c *Config) Validate() error {
	c.resolve()

	if err := c.Radio.Validate(); err != nil {
		return err
	}
	if !(c.Deviation > 0) || math.IsInf(c.Deviation, 0) {
		return fmt.Errorf("%w: deviation %v Hz must be positive", radio.ErrConfig, c.Deviation)
	}
	if err := c.Modulation().Validate(); err != nil {
		return fmt.Errorf("%w: %w", radio.ErrConfig, err)
	}
	if c.BufferTime < 0 || c.BufferSamples() < 1 {
		return fmt.Errorf("%w: buffer time %v holds no samples at %.0f Hz", radio.ErrConfig, c.BufferTime, c.Radio.SampleRate)
	}
	if _, err := pacer.ParseDiscipline(c.Pacing); err != nil {
		return fmt.Errorf("%w: %w", radio.ErrConfig, err)
	}
	if !knownSink(c.Sink.Kind) {
		return fmt.Errorf("%w: unknown sink %q (want one of %s)", radio.ErrConfig, c.Sink.Kind, strings.Join(radio.Kinds, ", "))
	}
	if c.PTT.Line != "" {
		if _, _, err := parsePTTLine(c.PTT.Line); err != nil {
			return err
		}
	}
	if c.Monitor.FFTSize != 0 && !isPowerOfTwo(c.Monitor.FFTSize) {
		return fmt.Errorf("%w: fft size %d is not a power of two", radio.ErrConfig, c.Monitor.FFTSize)
	}
	if !c.Live() {
		if _, err := os.Stat(c.Input); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("%w: input %s does not exist", radio.ErrConfig, c.Input)
			}
			return fmt.Errorf("%w: %w", radio.ErrResource, err)
		}
	}
	return nil
}

func knownSink(kind string) bool {
	if kind == "" {
		return true
	}
	for _, k := range radio.Kinds {
		if strings.EqualFold(k, kind) {
			return true
		}
	}
	return false
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// sizeFlag handles byte counts with KB, MB and GB suffixes.
type sizeFlag int64

func (s *sizeFlag) String() string {
	return strconv.FormatInt(int64(*s), 10)
}

func (s *sizeFlag) Set(value string) error {
	value = strings.TrimSpace(strings.ToUpper(value))
	multiplier := int64(1)

	switch {
	case strings.HasSuffix(value, "GB"):
		multiplier = 1 << 30
		value = strings.TrimSuffix(value, "GB")
	case strings.HasSuffix(value, "MB"):
		multiplier = 1 << 20
		value = strings.TrimSuffix(value, "MB")
	case strings.HasSuffix(value, "KB"):
		multiplier = 1 << 10
		value = strings.TrimSuffix(value, "KB")
	case strings.HasSuffix(value, "B"):
		value = strings.TrimSuffix(value, "B")
	}

	val, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || val < 0 {
		return fmt.Errorf("invalid size format: %s", value)
	}
	*s = sizeFlag(val * multiplier)
	return nil
}

func (s *sizeFlag) Type() string { return "size" }

// UnmarshalYAML accepts the same notation in profiles.
func (s *sizeFlag) UnmarshalYAML(n *yaml.Node) error {
	return s.Set(n.Value)
}

// freqFlag is a frequency in Hz that accepts k, M and G suffixes, with or
// without a trailing "Hz".
type freqFlag float64

func (f *freqFlag) String() string {
	return strconv.FormatFloat(float64(*f), 'f', -1, 64)
}

func (f *freqFlag) Set(value string) error {
	hz, err := parseFrequency(value)
	if err != nil {
		return err
	}
	*f = freqFlag(hz)
	return nil
}

func (f *freqFlag) Type() string { return "freq" }

func parseFrequency(value string) (float64, error) {
	v := strings.TrimSpace(value)
	v = strings.TrimSuffix(strings.TrimSuffix(v, "Hz"), "hz")
	multiplier := 1.0

	switch {
	case strings.HasSuffix(v, "G"), strings.HasSuffix(v, "g"):
		multiplier = 1e9
	case strings.HasSuffix(v, "M"):
		multiplier = 1e6
	case strings.HasSuffix(v, "k"), strings.HasSuffix(v, "K"):
		multiplier = 1e3
	}
	if multiplier != 1 {
		v = v[:len(v)-1]
	}

	val, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || math.IsNaN(val) || math.IsInf(val, 0) {
		return 0, fmt.Errorf("invalid frequency: %s", value)
	}
	return val * multiplier, nil
}
