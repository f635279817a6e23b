package knobprof

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeScaleAgreesWithPlainDivision(t *testing.T) {
	scale := computeScale(HistFraction)

	lowpc := uint64(0x4000000)

	for _, pc := range []uint64{0x4000000, 0x4000004, 0x4000400, 0x4000ffc} {
		h := NewHistogram(lowpc, 0x1000, HistFraction)
		h2 := NewHistogram(lowpc, 0x1000, HistFraction)
		h.Bump(pc)
		h2.BumpScaled(pc, scale)
		assert.Equal(t, h.Counts(), h2.Counts(), "pc=%#x", pc)
	}
}

func TestProfStateString(t *testing.T) {
	assert.Equal(t, "off", StateOff.String())
	assert.Equal(t, "on", StateOn.String())
	assert.Equal(t, "error", StateError.String())
}
