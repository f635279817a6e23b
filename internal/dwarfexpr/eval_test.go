package dwarfexpr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// byteMemory is a fake Memory backed by a flat buffer with a base address,
// standing in for the profiled process's address space in tests.
type byteMemory struct {
	base uint64
	buf  []byte
}

func (m *byteMemory) Read(addr uint64, size int) (uint64, bool) {
	if addr < m.base || size <= 0 || size > 8 {
		return 0, false
	}
	off := addr - m.base
	if off+uint64(size) > uint64(len(m.buf)) {
		return 0, false
	}
	var v uint64
	for i := 0; i < size; i++ {
		v |= uint64(m.buf[off+uint64(i)]) << (8 * i)
	}
	return v, true
}

func TestEvalLiteral(t *testing.T) {
	v, ok := Eval(LIT0+5, 0, 0, &Context{}, nil, 0)
	require.True(t, ok)
	assert.EqualValues(t, 5, v)
}

func TestEvalConst(t *testing.T) {
	v, ok := Eval(CONSTU, 1234, 0, &Context{}, nil, 0)
	require.True(t, ok)
	assert.EqualValues(t, 1234, v)
}

func TestEvalReg(t *testing.T) {
	ctx := &Context{}
	ctx.Regs[3] = 0xdeadbeef
	ctx.Valid[3] = true

	v, ok := Eval(REG0+3, 0, 0, ctx, nil, 0)
	require.True(t, ok)
	assert.EqualValues(t, 0xdeadbeef, v)

	_, ok = Eval(REG0+4, 0, 0, ctx, nil, 0)
	assert.False(t, ok, "unvalidated register should fail")
}

func TestEvalAddr(t *testing.T) {
	mem := &byteMemory{base: 0x5000, buf: []byte{0x01, 0x02, 0x03, 0x04}}
	v, ok := Eval(ADDR, 0x5000, 4, &Context{}, mem, 0)
	require.True(t, ok)
	assert.EqualValues(t, 0x04030201, v)
}

func TestEvalAddrWithLoadAddress(t *testing.T) {
	mem := &byteMemory{base: 0x405000, buf: []byte{0x2a}}
	v, ok := Eval(ADDR, 0x5000, 1, &Context{}, mem, 0x400000)
	require.True(t, ok)
	assert.EqualValues(t, 0x2a, v)
}

// TestEvalFBREGWorkedExample reproduces spec.md §8's worked example: a
// location record 0x4000500:0x4000520:0x91:-24:4 evaluated against RBP =
// 0x7fffffffe000 reads 4 bytes at 0x7fffffffe000 + 16 - 24 = 0x7fffffffdff8.
func TestEvalFBREGWorkedExample(t *testing.T) {
	ctx := &Context{}
	ctx.Regs[RegRBP] = 0x7fffffffe000
	ctx.Valid[RegRBP] = true

	wantAddr := uint64(0x7fffffffe000 + 16 - 24)
	mem := &byteMemory{base: wantAddr, buf: []byte{0x78, 0x56, 0x34, 0x12}}

	v, ok := Eval(FBREG, -24, 4, ctx, mem, 0)
	require.True(t, ok)
	assert.EqualValues(t, 0x12345678, v)
}

func TestEvalBregGuardsAgainstWildOffsets(t *testing.T) {
	ctx := &Context{}
	ctx.Regs[3] = 0x1000
	ctx.Valid[3] = true
	ctx.Regs[RegRSP] = 0x2000
	ctx.Valid[RegRSP] = true

	mem := &byteMemory{base: 0x1000, buf: make([]byte, 16)}

	_, ok := Eval(BREG0+3, 0, 4, ctx, mem, 0)
	assert.False(t, ok, "computed pointer below the captured stack pointer must be rejected")
}

func TestEvalBregAllowsAboveStackPointer(t *testing.T) {
	ctx := &Context{}
	ctx.Regs[3] = 0x3000
	ctx.Valid[3] = true
	ctx.Regs[RegRSP] = 0x2000
	ctx.Valid[RegRSP] = true

	mem := &byteMemory{base: 0x3000, buf: []byte{9, 0, 0, 0}}
	v, ok := Eval(BREG0+3, 0, 4, ctx, mem, 0)
	require.True(t, ok)
	assert.EqualValues(t, 9, v)
}

func TestEvalUnknownAtomFails(t *testing.T) {
	_, ok := Eval(Atom(0xff), 0, 0, &Context{}, nil, 0)
	assert.False(t, ok)
}

func TestResolvePointerDeref(t *testing.T) {
	ctx := &Context{}
	// bytes [0,8) at 0x9000 hold the pointer value 0x9008; bytes [8,12) at
	// 0x9008 hold the pointed-to int32 value 0x2a.
	mem := &byteMemory{base: 0x9000, buf: []byte{0x08, 0x90, 0, 0, 0, 0, 0, 0, 0x2a, 0, 0, 0}}
	v, ok := Resolve(ADDR, 0x9000, -4, ctx, mem, 0)
	require.True(t, ok)
	assert.EqualValues(t, 0x2a, v)
}

func TestResolveNullPointerSentinel(t *testing.T) {
	ctx := &Context{}
	mem := &byteMemory{base: 0x9000, buf: []byte{0, 0, 0, 0, 0, 0, 0, 0}}
	v, ok := Resolve(ADDR, 0x9000, -4, ctx, mem, 0)
	require.True(t, ok)
	assert.EqualValues(t, DerefSentinel, v)
}
