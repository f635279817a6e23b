package gmonfmt

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGmonRoundTrip(t *testing.T) {
	hdr := HistHeader{
		LowPC:       0x4000000,
		HighPC:      0x4001000,
		HistSize:    512,
		ProfRate:    100,
		DimenAbbrev: 's',
	}
	copy(hdr.Dimen[:], "seconds")
	counts := make([]uint16, 512)
	counts[10] = 0xffff
	arcs := []Arc{{FromPC: 0x4000010, SelfPC: 0x4000500, Count: 3}}

	var buf bytes.Buffer
	require.NoError(t, WriteGmon(&buf, hdr, counts, arcs))

	gotHdr, gotCounts, gotArcs, err := ReadGmon(&buf)
	require.NoError(t, err)
	assert.Equal(t, hdr, gotHdr)
	assert.Equal(t, counts, gotCounts)
	assert.Equal(t, arcs, gotArcs)
}

func TestGmonBadCookie(t *testing.T) {
	_, _, _, err := ReadGmon(bytes.NewReader([]byte("xxxx\x00\x00\x00\x00")))
	assert.Error(t, err)
}

func TestGmonVarRoundTrip(t *testing.T) {
	hdr := VarHeader{
		LowPC:       0x4000000,
		HighPC:      0x4001000,
		FromSize:    2,
		VarLimit:    1,
		SampleLimit: 1,
	}
	callsites := []int32{0, 1}
	vars := []VarRecord{{Atom: 0x91, Addr: -24, Size: 4, LowerBound: 0x4000500, UpperBound: 0x4000520}}
	samples := []SampleRecord{{SeqID: 42, Val: 0x12345678}}

	var buf bytes.Buffer
	require.NoError(t, WriteGmonVar(&buf, hdr, callsites, vars, samples))

	gotHdr, gotCallsites, gotVars, gotSamples, err := ReadGmonVar(&buf)
	require.NoError(t, err)
	assert.Equal(t, hdr, gotHdr)
	assert.Equal(t, callsites, gotCallsites)
	assert.Equal(t, vars, gotVars)
	assert.Equal(t, samples, gotSamples)
}
