package knobprof

import (
	"testing"
	"unsafe"

	"github.com/stealthrocket/knobprof/internal/dwarfexpr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProfiler(t *testing.T) *Profiler {
	t.Helper()
	p := &Profiler{
		lowpc:            0x4000000,
		highpc:           0x4001000,
		textsize:         0x1000,
		profileFrequency: DefaultProfileFrequency,
		launchPID:        int32(1),
	}
	p.hist = NewHistogram(p.lowpc, p.textsize, HistFraction)
	p.scale = computeScale(HistFraction)
	p.arcs = NewArcTable(p.lowpc, p.highpc)
	p.vars = NewVariableTable(p.lowpc, p.textsize, uint64(HashFraction)*4, 16)
	p.samples = NewSampleArena(16)
	return p
}

// tickTestFrame is the memory the FBREG sample in
// TestTickHistogramAndVariableSample reads through ProcessMemory, which
// dereferences real addresses of this process.
var tickTestFrame [16]byte

func TestTickHistogramAndVariableSample(t *testing.T) {
	p := newTestProfiler(t)
	require.True(t, p.vars.Insert(0x4000500, 0x4000520, dwarfexpr.FBREG, -24, 4))

	ctx := &Context{PC: 0x400050c, TID: 42}
	// FBREG -24 reads at RBP+16-24 = RBP-8, i.e. &tickTestFrame[0].
	ctx.Regs[dwarfexpr.RegRBP] = uint64(uintptr(unsafe.Pointer(&tickTestFrame[0]))) + 8
	ctx.Valid[dwarfexpr.RegRBP] = true

	p.Tick(0x400050c, ctx)

	idx := (uint64(0x400050c) - p.lowpc) / HistFraction
	assert.EqualValues(t, 1, p.hist.Counts()[idx])

	require.EqualValues(t, 1, p.samples.Cursor())
	s := p.samples.Samples()[1]
	assert.EqualValues(t, 42, s.TID)
	assert.EqualValues(t, 0, s.Sampled)
}

func TestTickOutOfRangeLeavesHistogramUntouched(t *testing.T) {
	p := newTestProfiler(t)
	ctx := &Context{PC: 0x3fff000}
	p.Tick(0x3fff000, ctx)

	for _, c := range p.hist.Counts() {
		assert.Zero(t, c)
	}
	assert.EqualValues(t, 0, p.samples.Cursor())
}

func TestTickNoVariableTableIsHistogramOnly(t *testing.T) {
	p := newTestProfiler(t)
	p.vars = nil
	p.samples = nil

	p.Tick(0x4000100, &Context{PC: 0x4000100})

	idx := (uint64(0x4000100) - p.lowpc) / HistFraction
	assert.EqualValues(t, 1, p.hist.Counts()[idx])
}

func TestTickSampleArenaExhaustionStopsWalk(t *testing.T) {
	p := newTestProfiler(t)
	p.samples = NewSampleArena(1)
	require.True(t, p.vars.Insert(0x4000500, 0x4000500, dwarfexpr.LIT0, 0, 1))
	require.True(t, p.vars.Insert(0x4000500, 0x4000500, dwarfexpr.LIT0+1, 0, 1))
	p.vars.ResetCoalescing()

	ctx := &Context{PC: 0x4000500}
	p.Tick(0x4000500, ctx)

	assert.LessOrEqual(t, p.samples.Cursor(), int32(1))
}
