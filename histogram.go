package knobprof

// Histogram is the dense PC sample-count table described in spec.md §3:
// one saturating 16-bit counter per HISTFRACTION bytes of profiled text.
// Grounded on gmon.c's kcount array and write_hist.
type Histogram struct {
	lowpc       uint64
	histfrac    uint64
	counts      []uint16
}

// HistFraction is the default bytes-of-text covered by one histogram
// counter, matching gmon.c's HISTFRACTION.
const HistFraction = 4

// NewHistogram allocates a histogram covering [lowpc, lowpc+textsize) with
// one counter per histfrac bytes of text, rounded up so every in-range PC
// maps to a valid index.
func NewHistogram(lowpc, textsize uint64, histfrac uint64) *Histogram {
	if histfrac == 0 {
		histfrac = HistFraction
	}
	n := (textsize + histfrac - 1) / histfrac
	return &Histogram{lowpc: lowpc, histfrac: histfrac, counts: make([]uint16, n)}
}

// Bump increments the counter covering pc, saturating at 65535. It is safe
// to call concurrently from multiple SIGPROF deliveries; lost increments
// under a data race are accepted statistical noise (spec.md §5).
func (h *Histogram) Bump(pc uint64) {
	if pc < h.lowpc {
		return
	}
	i := (pc - h.lowpc) / h.histfrac
	if i >= uint64(len(h.counts)) {
		return
	}
	if h.counts[i] < 0xffff {
		h.counts[i]++
	}
}

// BumpScaled increments the counter for pc using the fixed-point
// scale-factor formula from spec.md §4.D.1 (`i = ((pc-lowpc)/2)*scale/65536`)
// instead of Bump's plain division. scale is precomputed once at startup
// (lifecycle.go's computeScale, `2*65536/histfrac`), so this form agrees
// with Bump's plain-division result whenever histfrac is a power of two no
// smaller than 2, including the default of 4; it matches profil_count's
// literal wide-multiply decomposition, which the original chooses
// specifically to avoid a 64-bit division on 32-bit hosts. It reports
// whether pc fell in range.
func (h *Histogram) BumpScaled(pc uint64, scale int32) bool {
	if pc < h.lowpc {
		return false
	}
	off := (pc - h.lowpc) / 2
	i := (off * uint64(scale)) / 65536
	if i >= uint64(len(h.counts)) {
		return false
	}
	if h.counts[i] < 0xffff {
		h.counts[i]++
	}
	return true
}

// Counts returns the raw counter slice for serialization.
func (h *Histogram) Counts() []uint16 { return h.counts }

// LowPC returns the histogram's base address.
func (h *Histogram) LowPC() uint64 { return h.lowpc }

// HistFrac returns the number of text bytes covered by each counter.
func (h *Histogram) HistFrac() uint64 { return h.histfrac }
