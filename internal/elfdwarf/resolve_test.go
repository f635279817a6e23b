package elfdwarf

import (
	"debug/dwarf"
	"testing"

	"github.com/stealthrocket/knobprof/internal/dwarfexpr"
	"github.com/stretchr/testify/assert"
)

func blankEntry() *dwarf.Entry {
	return &dwarf.Entry{}
}

func TestDecodeSLEBPositiveAndNegative(t *testing.T) {
	// -24 encoded as signed LEB128 is 0x68 (single byte).
	v, n := decodeSLEB([]byte{0x68})
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(-24), v)

	// 24 encoded as signed LEB128.
	v, n = decodeSLEB([]byte{0x18})
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(24), v)
}

func TestDecodeSLEBMalformedReturnsZeroConsumed(t *testing.T) {
	_, n := decodeSLEB([]byte{0x80})
	assert.Equal(t, 0, n)
}

func TestDecodeSimpleLocationFBREG(t *testing.T) {
	// DW_OP_fbreg -24
	loc := append([]byte{byte(dwarfexpr.FBREG)}, 0x68)
	op, addr, _, ok := decodeSimpleLocation(loc, blankEntry())
	assert.True(t, ok)
	assert.Equal(t, dwarfexpr.FBREG, op)
	assert.Equal(t, int64(-24), addr)
}

func TestDecodeSimpleLocationRejectsCompositeExpr(t *testing.T) {
	// DW_OP_fbreg -24 followed by a trailing byte makes this a
	// multi-op expression dwarfexpr.Eval cannot evaluate.
	loc := []byte{byte(dwarfexpr.FBREG), 0x68, 0x9f}
	_, _, _, ok := decodeSimpleLocation(loc, blankEntry())
	assert.False(t, ok)
}
