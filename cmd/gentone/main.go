// gentone writes a raw deviation file holding a sine tone, for testing the
// transmitter in preload mode.
package main

import (
	"bufio"
	"math"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/fmtx/pkg/source"
)

// tone returns n samples of a sine at hz, sampled at rate, with peak level
// as a fraction of full scale. The phase runs on from sample to sample so
// the file loops cleanly when its length is a whole number of periods.
func tone(n int, rate, hz, level float64) []int16 {
	out := make([]int16, n)
	step := 2 * math.Pi * hz / rate
	phase := 0.0
	for i := range out {
		out[i] = int16(math.Round(level * math.MaxInt16 * math.Sin(phase)))
		phase = math.Mod(phase+step, 2*math.Pi)
	}
	return out
}

func main() {
	output := pflag.StringP("output", "o", "tone.raw", "Output file")
	rate := pflag.Float64P("sample-rate", "s", 2.304e6, "Sample rate in Hz (must match the transmitter)")
	hz := pflag.Float64P("tone", "t", 1000, "Tone frequency in Hz")
	level := pflag.Float64P("level", "l", 1, "Peak level as a fraction of full-scale deviation")
	duration := pflag.DurationP("duration", "d", time.Second, "Length of the file")
	pflag.Parse()

	if *level < 0 || *level > 1 || *rate <= 0 || *hz < 0 || *hz >= *rate/2 {
		log.Fatal("bad tone parameters", "rate", *rate, "tone", *hz, "level", *level)
	}

	n := int(math.Round(duration.Seconds() * *rate))
	samples := tone(n, *rate, *hz, *level)

	f, err := os.Create(*output)
	if err != nil {
		log.Fatal("create output", "err", err)
	}
	w := bufio.NewWriterSize(f, 1<<20)
	if err := source.Encode(w, samples); err != nil {
		log.Fatal("write", "err", err)
	}
	if err := w.Flush(); err != nil {
		log.Fatal("write", "err", err)
	}
	if err := f.Close(); err != nil {
		log.Fatal("close", "err", err)
	}
	log.Info("tone written", "file", *output, "samples", n, "bytes", 2*n, "tone_hz", *hz)
}
