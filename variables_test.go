package knobprof

import (
	"testing"

	"github.com/stealthrocket/knobprof/internal/dwarfexpr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariableTableInsertAndWalk(t *testing.T) {
	vt := NewVariableTable(0x4000000, 0x1000, 4, 16)

	ok := vt.Insert(0x4000500, 0x4000520, dwarfexpr.FBREG, -24, 4)
	require.True(t, ok)

	var hits int
	vt.ForEachAt(0x4000510, func(idx int32, v *Variable) bool {
		hits++
		assert.Equal(t, dwarfexpr.FBREG, v.Atom)
		assert.EqualValues(t, -24, v.Addr)
		return true
	})
	assert.Equal(t, 1, hits)

	vt.ForEachAt(0x4000600, func(idx int32, v *Variable) bool {
		t.Fatal("should not match outside [lower,upper]")
		return true
	})
}

func TestVariableTableCoalescing(t *testing.T) {
	vt := NewVariableTable(0x4000000, 0x4000, 4, 16)

	// two adjacent ranges with the identical (atom, addr) pair, whose
	// buckets were never previously touched, should coalesce into the
	// single entry the first range allocated rather than one allocation
	// per bucket: a wide PC range costs one arena slot, not one per
	// bucket (spec's "Config coalescing" scenario).
	require.True(t, vt.Insert(0x4000000, 0x400000f, dwarfexpr.FBREG, -8, 4))
	before := vt.next
	require.True(t, vt.Insert(0x4000010, 0x4000020, dwarfexpr.FBREG, -8, 4))
	assert.Equal(t, before, vt.next, "adjacent virgin buckets coalesce, no new allocation")

	vt.ResetCoalescing()
	require.True(t, vt.Insert(0x4000030, 0x4000040, dwarfexpr.FBREG, -8, 4))
	assert.Greater(t, vt.next, before, "coalescing reset forces a fresh allocation")
}

func TestVariableTableArenaExhaustion(t *testing.T) {
	vt := NewVariableTable(0x4000000, 0x4000, 4, 1)
	require.True(t, vt.Insert(0x4000000, 0x4000000, dwarfexpr.FBREG, -8, 4))
	ok := vt.Insert(0x4000010, 0x4000020, dwarfexpr.LIT0, 0, 1)
	assert.False(t, ok, "insert should fail once the variable arena is full")
}

func TestShadowTableInsertAndWalk(t *testing.T) {
	st := NewShadowTable(0x4000000, 0x1000, 4, 8)
	require.True(t, st.Insert(0x4000100, dwarfexpr.ADDR, 0x10))

	var hits int
	st.ForEachAt(0x4000100, func(idx int32, s *Shadow) bool {
		hits++
		return true
	})
	assert.Equal(t, 1, hits)
}

func TestSampleArenaAllocAndExhaustion(t *testing.T) {
	sa := NewSampleArena(2)

	j1, ok := sa.Alloc()
	require.True(t, ok)
	assert.EqualValues(t, 1, j1)

	j2, ok := sa.Alloc()
	require.True(t, ok)
	assert.EqualValues(t, 2, j2)

	_, ok = sa.Alloc()
	assert.False(t, ok, "third alloc should fail: limit was 2")

	sa.Set(j1, Sample{SeqID: 42, Val: 7})
	assert.EqualValues(t, 42, sa.Samples()[j1].SeqID)
}
