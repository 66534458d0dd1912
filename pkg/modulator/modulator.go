// Package modulator implements a continuous-phase FM modulator that turns
// 16-bit deviation values into 16-bit I/Q pairs.
package modulator

import (
	"errors"
	"fmt"
	"math"
)

const (
	twoPi = 2 * math.Pi

	// FullScale is the largest positive 16-bit sample value.
	FullScale = 0x7FFF

	// DefaultAmplitude leaves a small guard margin below full scale.
	DefaultAmplitude = 0.99
)

// IQ is one complex baseband sample in the sink's native 16-bit format.
type IQ struct {
	I int16
	Q int16
}

// Config holds the per-run modulation parameters.
type Config struct {
	SampleRate     float64 // samples per second
	DeviationScale float64 // Hz per unit of deviation
	Amplitude      float64 // fraction of full scale, 0 < Amplitude < 1
}

// DeviationScaleFor returns the scale that maps a full-scale deviation value
// (32767) to peakHz.
func DeviationScaleFor(peakHz float64) float64 {
	return peakHz / FullScale
}

// Validate checks that the configuration can produce a bounded output.
func (c Config) Validate() error {
	if !(c.SampleRate > 0) || math.IsInf(c.SampleRate, 0) {
		return fmt.Errorf("invalid sample rate %v", c.SampleRate)
	}
	if math.IsNaN(c.DeviationScale) || math.IsInf(c.DeviationScale, 0) {
		return fmt.Errorf("invalid deviation scale %v", c.DeviationScale)
	}
	if !(c.Amplitude > 0 && c.Amplitude < 1) {
		return errors.New("amplitude must be greater than 0 and less than 1")
	}
	return nil
}

// Modulator is a phase accumulator driven by deviation samples. It is not
// safe for concurrent use; one transmit loop owns it.
type Modulator struct {
	phase            float64
	deviationScale   float64
	secondsPerSample float64
	amplitude        float64
}

// New creates a modulator with its phase at zero.
func New(cfg Config) (*Modulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Modulator{
		deviationScale:   cfg.DeviationScale,
		secondsPerSample: 1 / cfg.SampleRate,
		amplitude:        cfg.Amplitude * FullScale,
	}, nil
}

// Next advances the phase by the increment for dev and returns the resulting
// I/Q pair.
func (m *Modulator) Next(dev int16) IQ {
	freq := float64(dev) * m.deviationScale
	m.phase = wrap(m.phase + twoPi*freq*m.secondsPerSample)

	sin, cos := math.Sincos(m.phase)
	return IQ{
		I: int16(math.Round(cos * m.amplitude)),
		Q: int16(math.Round(sin * m.amplitude)),
	}
}

// Modulate runs Next over devs, writing into dst. It returns the number of
// samples written, which is the shorter of the two lengths.
func (m *Modulator) Modulate(dst []IQ, devs []int16) int {
	n := min(len(dst), len(devs))
	for i := 0; i < n; i++ {
		dst[i] = m.Next(devs[i])
	}
	return n
}

// Reset puts the phase back to zero.
func (m *Modulator) Reset() {
	m.phase = 0
}

// Phase returns the accumulator value in radians, always in [0, 2π).
func (m *Modulator) Phase() float64 {
	return m.phase
}

// Amplitude returns the peak output magnitude in LSBs.
func (m *Modulator) Amplitude() float64 {
	return m.amplitude
}

// MaxPhaseStep is the largest phase change a single sample can produce,
// reached at deviation -32768.
func (m *Modulator) MaxPhaseStep() float64 {
	return twoPi * math.Abs(32768*m.deviationScale) * m.secondsPerSample
}

// wrap reduces p into [0, 2π).
func wrap(p float64) float64 {
	p = math.Mod(p, twoPi)
	if p < 0 {
		p += twoPi
	}
	if p >= twoPi {
		p -= twoPi
	}
	return p
}
