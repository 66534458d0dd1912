package main

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-dsp/dsp/window"
	algofft "github.com/cwbudde/algo-fft"
	vecmath "github.com/cwbudde/algo-vecmath"

	"github.com/fmtx/pkg/modulator"
)

// floorDB is reported for empty bins.
const floorDB = -150.0

// spectrum computes a DC-centred power spectrum in dBFS of the first n
// samples. n must be a power of two and no larger than len(samples).
type spectrum struct {
	n         int
	plan      *algofft.Plan[complex128]
	window    []float64
	windowSum float64
	re, im    []float64
	in, out   []complex128
	mag       []float64
}

func newSpectrum(n int) (*spectrum, error) {
	plan, err := algofft.NewPlan64(n)
	if err != nil {
		return nil, fmt.Errorf("spectrum fft plan: %w", err)
	}
	s := &spectrum{
		n:      n,
		plan:   plan,
		window: window.Generate(window.TypeBlackman, n, window.WithPeriodic()),
		re:     make([]float64, n),
		im:     make([]float64, n),
		in:     make([]complex128, n),
		out:    make([]complex128, n),
		mag:    make([]float64, n),
	}
	for _, w := range s.window {
		s.windowSum += w
	}
	return s, nil
}

// compute writes n bins into dst, which is grown as needed.
func (s *spectrum) compute(dst []float64, samples []modulator.IQ) []float64 {
	n := s.n
	for i := range n {
		s.re[i] = float64(samples[i].I)
		s.im[i] = float64(samples[i].Q)
	}
	vecmath.MulBlockInPlace(s.re, s.window)
	vecmath.MulBlockInPlace(s.im, s.window)
	for i := range n {
		s.in[i] = complex(s.re[i], s.im[i])
	}

	dst = append(dst[:0], make([]float64, n)...)
	if err := s.plan.Forward(s.out, s.in); err != nil {
		for i := range dst {
			dst[i] = floorDB
		}
		return dst
	}
	for i, c := range s.out {
		s.re[i], s.im[i] = real(c), imag(c)
	}
	vecmath.Magnitude(s.mag, s.re, s.im)

	// A full-scale tone lands in one bin at FullScale * windowSum.
	reference := modulator.FullScale * s.windowSum

	half := n / 2
	for i := range n {
		// FFT shift: move DC to center
		mag := s.mag[(i+half)%n]
		if mag > 0 {
			dst[i] = 20 * math.Log10(mag/reference)
		} else {
			dst[i] = floorDB
		}
	}
	return dst
}

// peakBin returns the index and level of the strongest bin.
func peakBin(bins []float64) (int, float64) {
	best, level := 0, math.Inf(-1)
	for i, v := range bins {
		if v > level {
			best, level = i, v
		}
	}
	return best, level
}

// binFrequency is the baseband offset in Hz of bin i of a shifted spectrum.
func binFrequency(i, n int, sampleRate float64) float64 {
	return float64(i-n/2) * sampleRate / float64(n)
}
