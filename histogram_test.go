package knobprof

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistogramDensity(t *testing.T) {
	lowpc := uint64(0x4000000)
	textsize := uint64(0x1000)
	h := NewHistogram(lowpc, textsize, HistFraction)
	require.Len(t, h.Counts(), 1024)

	idx := (uint64(0x4000400) - lowpc) / HistFraction
	for i := 0; i < 1_000_000; i++ {
		h.Bump(0x4000400)
	}
	assert.Equal(t, uint16(0xffff), h.Counts()[idx], "counter should saturate at 16 bits")
}

func TestHistogramOutOfRange(t *testing.T) {
	h := NewHistogram(0x4000000, 0x1000, HistFraction)
	h.Bump(0x3fff000)
	h.Bump(0x4002000)
	for _, c := range h.Counts() {
		assert.Zero(t, c)
	}
}
