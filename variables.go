package knobprof

import (
	"sync/atomic"

	"github.com/stealthrocket/knobprof/internal/bucket"
	"github.com/stealthrocket/knobprof/internal/dwarfexpr"
)

// DefaultSampleLimit and DefaultShadowLimit are the sizing defaults from
// spec.md §4.C: samplelimit = 2 Mi (2*1024*1024) entries, shadowlimit = 64.
const (
	DefaultSampleLimit = 2 * 1024 * 1024
	DefaultShadowLimit = 64
)

// Variable is one node of the variables[] chain (spec.md §3): a PC range
// paired with a DWARF-style location expression, plus the tail of its own
// value-sample chain.
type Variable struct {
	Atom       dwarfexpr.Atom
	Addr       int64
	Size       int8
	LowerBound uint64
	UpperBound uint64

	link       int32
	SampleTail int32
}

// VariableTable is the callsites[]/variables[] chain pair: a PC-bucketed
// index into a flat arena of Variable records, grounded on gmon.c's
// monitor_variables insertion logic and profil.c's sample_variables walk.
type VariableTable struct {
	lowpc, textsize, stride uint64
	logStride               int

	callsites []int32
	variables []Variable
	next      int32 // next free variables[] slot; 0 is the nil sentinel

	// coalescing state, mirroring gmon.c's prev_hash/prev_loc_atom/prev_addr:
	// prevHead is the bucket head the last insertion was compared against
	// (gmon.c's *callsite_index_ptr at insertion time), prevHeadIdx is the
	// entry that insertion allocated (gmon.c's lastAlloc) and the value
	// reused when the next bucket's head matches prevHead.
	havePrev    bool
	prevAtom    dwarfexpr.Atom
	prevAddr    int64
	prevHead    int32
	prevHeadIdx int32
}

// NewVariableTable allocates an empty variable-chain index over
// [lowpc, lowpc+textsize) with one bucket per stride bytes, sized for up
// to varLimit total variable records.
func NewVariableTable(lowpc, textsize, stride uint64, varLimit int) *VariableTable {
	nbuckets := bucket.RoundUp(textsize, stride) / stride
	return &VariableTable{
		lowpc:     lowpc,
		textsize:  textsize,
		stride:    stride,
		logStride: bucket.Log2(stride),
		callsites: make([]int32, nbuckets),
		variables: make([]Variable, varLimit+1),
		next:      1,
	}
}

// ResetCoalescing clears the (atom, addr, head) coalescing memo, used when
// the config loader encounters a '#' comment line (spec.md §4.C).
func (vt *VariableTable) ResetCoalescing() {
	vt.havePrev = false
}

// Insert records a variable covering [from, to] with the given location.
// For every bucket in that range it pushes (or reuses, when the previous
// insertion had an identical (atom, addr, head) tuple) a Variable node onto
// callsites[bucket]. It returns false if the variable arena is exhausted.
func (vt *VariableTable) Insert(from, to uint64, atom dwarfexpr.Atom, addr int64, size int8) bool {
	fromB := bucket.Index(from, vt.lowpc, vt.textsize, vt.stride, vt.logStride)
	toB := bucket.Index(to, vt.lowpc, vt.textsize, vt.stride, vt.logStride)
	if fromB < 0 || toB < 0 || toB < fromB {
		return false
	}

	for b := fromB; b <= toB; b++ {
		head := vt.callsites[b]

		if vt.havePrev && vt.prevAtom == atom && vt.prevAddr == addr && vt.prevHead == head {
			// identical (atom, addr) as the immediately preceding insertion,
			// and this bucket's head is exactly what that insertion saw:
			// reuse the entry it allocated instead of allocating a new one,
			// matching gmon.c's lastAlloc coalescing.
			vt.callsites[b] = vt.prevHeadIdx
			continue
		}

		if int(vt.next) >= len(vt.variables) {
			return false
		}
		idx := vt.next
		vt.next++
		vt.variables[idx] = Variable{
			Atom:       atom,
			Addr:       addr,
			Size:       size,
			LowerBound: from,
			UpperBound: to,
			link:       head,
		}
		vt.callsites[b] = idx

		vt.havePrev = true
		vt.prevAtom = atom
		vt.prevAddr = addr
		vt.prevHead = head
		vt.prevHeadIdx = idx
	}
	return true
}

// ForEachAt walks the variable chain covering pc's bucket, invoking fn for
// every node whose [LowerBound, UpperBound] contains pc. fn returning false
// stops the walk early. ForEachAt performs no allocation and is safe to
// call from the SIGPROF hot path.
func (vt *VariableTable) ForEachAt(pc uint64, fn func(idx int32, v *Variable) bool) {
	b := bucket.Index(pc, vt.lowpc, vt.textsize, vt.stride, vt.logStride)
	if b < 0 {
		return
	}
	for idx := vt.callsites[b]; idx != 0; idx = vt.variables[idx].link {
		v := &vt.variables[idx]
		if pc < v.LowerBound || pc > v.UpperBound {
			continue
		}
		if !fn(idx, v) {
			return
		}
	}
}

// Variables exposes the backing arena for serialization.
func (vt *VariableTable) Variables() []Variable { return vt.variables }

// Shadow is one node of the funcsites[]/shadows[] chain (spec.md §3): when
// execution reaches FuncEnter, the variable at the shadowed location is
// considered valid from that point on, for addresses only computable from
// call arguments.
type Shadow struct {
	FuncEnter uint64
	Trigger   int64
	Atom      dwarfexpr.Atom
	Addr      int64
	Valid     bool

	link int32
}

// ShadowTable is the companion chain for shadow (size==0) variable records.
type ShadowTable struct {
	lowpc, textsize, stride uint64
	logStride               int

	funcsites []int32
	shadows   []Shadow
	next      int32
}

// NewShadowTable allocates a shadow-chain index sized for up to
// shadowLimit total shadow records.
func NewShadowTable(lowpc, textsize, stride uint64, shadowLimit int) *ShadowTable {
	nbuckets := bucket.RoundUp(textsize, stride) / stride
	return &ShadowTable{
		lowpc:     lowpc,
		textsize:  textsize,
		stride:    stride,
		logStride: bucket.Log2(stride),
		funcsites: make([]int32, nbuckets),
		shadows:   make([]Shadow, shadowLimit+1),
		next:      1,
	}
}

// Insert pushes a shadow record for func-entry PC onto funcsites[bucket(at)].
func (st *ShadowTable) Insert(at uint64, atom dwarfexpr.Atom, addr int64) bool {
	b := bucket.Index(at, st.lowpc, st.textsize, st.stride, st.logStride)
	if b < 0 || int(st.next) >= len(st.shadows) {
		return false
	}
	idx := st.next
	st.next++
	st.shadows[idx] = Shadow{FuncEnter: at, Atom: atom, Addr: addr, link: st.funcsites[b]}
	st.funcsites[b] = idx
	return true
}

// ForEachAt walks the shadow chain at pc's bucket.
func (st *ShadowTable) ForEachAt(pc uint64, fn func(idx int32, s *Shadow) bool) {
	b := bucket.Index(pc, st.lowpc, st.textsize, st.stride, st.logStride)
	if b < 0 {
		return
	}
	for idx := st.funcsites[b]; idx != 0; idx = st.shadows[idx].link {
		if !fn(idx, &st.shadows[idx]) {
			return
		}
	}
}

// Sample is one value-sample record (spec.md §3's samples[i]).
type Sample struct {
	SeqID   uint64
	Sampled int32
	Val     uint64
	TID     int32
	Link    int32 // previous sample_tail for the same variable
	VarPC   uint64
	CurPC   uint64
}

// SampleArena is the bump-allocated samples[] buffer. samples[0].Link holds
// the next-free cursor, incremented with an atomic fetch-and-add so
// concurrent SIGPROF deliveries on different threads never race (spec.md
// §4.D/§5). Once the cursor reaches len(samples)-1 further allocations fail
// and sampling silently drops records for the rest of the run.
type SampleArena struct {
	samples []Sample
}

// NewSampleArena allocates an arena holding up to limit samples, plus the
// reserved samples[0] cursor slot.
func NewSampleArena(limit int) *SampleArena {
	return &SampleArena{samples: make([]Sample, limit+1)}
}

// Alloc reserves the next sample slot, returning ok=false if the arena is
// exhausted.
func (a *SampleArena) Alloc() (idx int32, ok bool) {
	j := atomic.AddInt32(&a.samples[0].Link, 1)
	if j <= 0 || int(j) >= len(a.samples) {
		// undo the failed bump so the cursor settles at the limit
		atomic.AddInt32(&a.samples[0].Link, -1)
		return 0, false
	}
	return j, true
}

// Set stores a completed sample record at idx.
func (a *SampleArena) Set(idx int32, s Sample) {
	a.samples[idx] = s
}

// Cursor returns the current next-free index, i.e. samples[0].Link.
func (a *SampleArena) Cursor() int32 {
	return atomic.LoadInt32(&a.samples[0].Link)
}

// Samples exposes the backing arena (including the reserved slot 0) for
// serialization.
func (a *SampleArena) Samples() []Sample { return a.samples }
