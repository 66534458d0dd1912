package main

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTone(t *testing.T) {
	s := tone(48, 48000, 1000, 1)
	assert.Len(t, s, 48)
	assert.Zero(t, s[0])
	assert.EqualValues(t, math.MaxInt16, s[12], "quarter period")
	assert.EqualValues(t, -math.MaxInt16, s[36], "three quarters")

	for _, v := range tone(1000, 48000, 3000, 0.5) {
		assert.LessOrEqual(t, math.Abs(float64(v)), 0.5*math.MaxInt16+0.5)
	}
}
