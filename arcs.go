package knobprof

import (
	"sync/atomic"

	"github.com/stealthrocket/knobprof/internal/bucket"
)

// HashFraction is the default stride (in link-sized words) between
// call-graph hash buckets, matching gmon.c's HASHFRACTION.
const HashFraction = 2

// MinArcs, MaxArcs and ArcDensity bound the call-graph arc table, matching
// gmon.c's MINARCS/MAXARCS/ARCDENSITY.
const (
	MinArcs    = 50
	MaxArcs    = 1 << 20
	ArcDensity = 2
)

// arcNode is one node of the tos[] linked list, matching gmon.c's struct
// tostruct: { selfpc, count, link }.
type arcNode struct {
	selfPC uint64
	count  uint32
	link   int32
}

// ArcTable records caller->callee call-graph arcs keyed by the caller's
// hash bucket, mirroring froms[]/tos[] in gmon.c. Lookup within a bucket's
// chain is linear, same as the original; arc identity is (bucket, selfPC).
type ArcTable struct {
	lowpc     uint64
	textsize  uint64
	stride    uint64
	logStride int

	froms []int32 // bucket -> head index into tos, 0 means empty
	tos   []arcNode
	next  int32 // next free tos slot; tos[0] is reserved as the nil sentinel
}

// NewArcTable allocates an arc table sized by spec.md §4.F's sizing table:
// tolimit = clamp(textsize*ArcDensity/100, MinArcs, MaxArcs).
func NewArcTable(lowpc, highpc uint64) *ArcTable {
	textsize := highpc - lowpc
	stride := uint64(HashFraction) * 4 // link-sized word, int32 froms entries
	tolimit := bucket.Clamp(textsize*ArcDensity/100, MinArcs, MaxArcs)
	fromssize := bucket.RoundUp(textsize, stride) / stride

	return &ArcTable{
		lowpc:     lowpc,
		textsize:  textsize,
		stride:    stride,
		logStride: bucket.Log2(stride),
		froms:     make([]int32, fromssize),
		tos:       make([]arcNode, tolimit+1),
		next:      1,
	}
}

// Record adds one invocation of callerPC -> calleePC to the arc table,
// incrementing the existing arc's count if one already exists in the
// bucket's chain, or allocating a new arcNode otherwise. Grounded on
// gmon.c's mcount/_mcount bucket-chain-search-or-insert logic.
func (a *ArcTable) Record(callerPC, calleePC uint64) {
	b := bucket.Index(callerPC, a.lowpc, a.textsize, a.stride, a.logStride)
	if b < 0 {
		return
	}

	for idx := a.froms[b]; idx != 0; idx = a.tos[idx].link {
		if a.tos[idx].selfPC == calleePC {
			atomic.AddUint32(&a.tos[idx].count, 1)
			return
		}
	}

	j := atomic.AddInt32(&a.next, 1) - 1
	if j <= 0 || int(j) >= len(a.tos) {
		return // arena exhausted; drop the arc, matching the original's silent overflow
	}
	a.tos[j] = arcNode{selfPC: calleePC, count: 1, link: a.froms[b]}
	a.froms[b] = j
}

// Arcs returns every recorded (callerBucket, selfPC, count) triple for
// serialization.
func (a *ArcTable) Arcs() []struct {
	FromBucket int
	SelfPC     uint64
	Count      uint32
} {
	var out []struct {
		FromBucket int
		SelfPC     uint64
		Count      uint32
	}
	for b, head := range a.froms {
		for idx := head; idx != 0; idx = a.tos[idx].link {
			out = append(out, struct {
				FromBucket int
				SelfPC     uint64
				Count      uint32
			}{b, a.tos[idx].selfPC, a.tos[idx].count})
		}
	}
	return out
}
