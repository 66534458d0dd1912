package radio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fmtx/pkg/modulator"
)

func goodSettings() Settings {
	return Settings{CenterFrequency: 96.5e6, SampleRate: 2.304e6, Bandwidth: 200e3, GainDB: -10}
}

func TestSettingsValidate(t *testing.T) {
	require.NoError(t, goodSettings().Validate())

	edges := goodSettings()
	edges.CenterFrequency = MaxCenterFrequency
	edges.SampleRate = MinSampleRate
	edges.GainDB = MinGainDB
	require.NoError(t, edges.Validate())

	for name, mutate := range map[string]func(*Settings){
		"low center":     func(s *Settings) { s.CenterFrequency = 69.9e6 },
		"high center":    func(s *Settings) { s.CenterFrequency = 6.1e9 },
		"low rate":       func(s *Settings) { s.SampleRate = 999e3 },
		"high rate":      func(s *Settings) { s.SampleRate = 61.45e6 },
		"zero bandwidth": func(s *Settings) { s.Bandwidth = 0 },
		"positive gain":  func(s *Settings) { s.GainDB = 0.5 },
		"gain too low":   func(s *Settings) { s.GainDB = -90 },
	} {
		t.Run(name, func(t *testing.T) {
			s := goodSettings()
			mutate(&s)
			assert.ErrorIs(t, s.Validate(), ErrConfig)
		})
	}
}

func TestEncodeIQLayout(t *testing.T) {
	samples := []modulator.IQ{{I: 1, Q: -1}, {I: 32767, Q: -32767}}
	got := EncodeIQ(make([]byte, 8), samples)
	assert.Equal(t, []byte{0x01, 0x00, 0xff, 0xff, 0xff, 0x7f, 0x01, 0x80}, got)
	assert.Equal(t, samples, DecodeIQ(append(got, 0xAA)))
}

func TestMask(t *testing.T) {
	m, err := DefaultAD9361Config().Mask()
	require.NoError(t, err)
	assert.Equal(t, "00000003", m)

	cfg := DefaultAD9361Config()
	cfg.IQChannels = []int{2, 3}
	m, err = cfg.Mask()
	require.NoError(t, err)
	assert.Equal(t, "0000000c", m)

	cfg.IQChannels = nil
	_, err = cfg.Mask()
	assert.ErrorIs(t, err, ErrConfig)
}
