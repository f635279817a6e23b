// Package gmonfmt implements the on-disk layout of gmon.<pid>.out and
// gmon_var.<pid>.out, grounded on write_hist/write_call_graph/write_gmon
// and write_varsamples in original_source/glibcForPRELOAD/glibc-2.31/gmon/gmon.c.
package gmonfmt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Tags for the classic gmon.out record sections (spec.md §6).
const (
	TagHistogram = 0x00
	TagArc       = 0x01
	TagBBCounts  = 0x02
)

// Cookie is the 4-byte magic at the start of gmon.<pid>.out.
var Cookie = [4]byte{'g', 'm', 'o', 'n'}

// Version is the gmon.out format version this package reads and writes.
const Version = 1

// HistHeader precedes a tag-0x00 section's counter array.
type HistHeader struct {
	LowPC       uint64
	HighPC      uint64
	HistSize    int32
	ProfRate    int32
	Dimen       [15]byte
	DimenAbbrev byte
}

// Arc is one tag-0x01 record: a caller/callee PC pair and its hit count.
type Arc struct {
	FromPC uint64
	SelfPC uint64
	Count  int32
}

// WriteGmon writes the classic three-section gmon.out format: the cookie
// and version header, one histogram section, then one arc section per
// entry in arcs. Basic-block count sections (tag 0x02) are not emitted:
// this repository does not instrument basic-block counters (spec.md §1
// Non-goals excludes software instrumentation), so no BB-count producer
// exists to feed that section.
func WriteGmon(w io.Writer, hdr HistHeader, counts []uint16, arcs []Arc) error {
	bw := binWriter{w: w}

	bw.write(Cookie)
	bw.write(int32(Version))
	bw.write([12]byte{})

	bw.write(byte(TagHistogram))
	bw.write(hdr)
	for _, c := range counts {
		bw.write(c)
	}

	for _, a := range arcs {
		bw.write(byte(TagArc))
		bw.write(a)
	}

	return bw.err
}

// ReadGmon parses a gmon.out file written by WriteGmon. It reads only the
// histogram and arc sections WriteGmon emits: a basic-block section (tag
// 0x02) from another producer, like any other tag, makes it return an
// "unknown section tag" error.
func ReadGmon(r io.Reader) (hdr HistHeader, counts []uint16, arcs []Arc, err error) {
	br := binReader{r: r}

	var cookie [4]byte
	br.read(&cookie)
	if br.err == nil && cookie != Cookie {
		return hdr, nil, nil, fmt.Errorf("gmonfmt: bad cookie %q", cookie)
	}
	var version int32
	br.read(&version)
	var reserved [12]byte
	br.read(&reserved)

	for br.err == nil {
		var tag byte
		if err := binary.Read(r, binary.LittleEndian, &tag); err != nil {
			if err == io.EOF {
				break
			}
			return hdr, counts, arcs, err
		}
		switch tag {
		case TagHistogram:
			br.read(&hdr)
			counts = make([]uint16, hdr.HistSize)
			for i := range counts {
				br.read(&counts[i])
			}
		case TagArc:
			var a Arc
			br.read(&a)
			arcs = append(arcs, a)
		default:
			return hdr, counts, arcs, fmt.Errorf("gmonfmt: unknown section tag %#x", tag)
		}
	}
	if br.err == io.EOF {
		br.err = nil
	}
	return hdr, counts, arcs, br.err
}

// VarHeader precedes the three variable-sampling blobs in gmon_var.<pid>.out.
type VarHeader struct {
	LowPC           uint64
	HighPC          uint64
	HistSize        int32
	ProfRate        int32
	Dimen           [15]byte
	DimenAbbrev     byte
	FromSize        int32
	VarLimit        int32
	SampleLimit     int32
	LogHashfraction int32
	Scale           int32
	SizeofHdr       int32
	SizeofVar       int32
	SizeofSample    int32
}

// VarRecord mirrors the in-memory Variable layout (knobprof.Variable),
// duplicated here so the wire format does not depend on the root package
// and can be unit-tested in isolation.
type VarRecord struct {
	Atom       uint8
	_          [7]byte // padding to keep the record naturally aligned
	Addr       int64
	Size       int8
	_          [7]byte
	LowerBound uint64
	UpperBound uint64
	Link       int32
	SampleTail int32
}

// SampleRecord mirrors the in-memory Sample layout.
type SampleRecord struct {
	SeqID   uint64
	Sampled int32
	_       [4]byte
	Val     uint64
	TID     int32
	Link    int32
	VarPC   uint64
	CurPC   uint64
}

// WriteGmonVar writes the header followed by the callsites/variables/samples
// blobs, per spec.md §6.
func WriteGmonVar(w io.Writer, hdr VarHeader, callsites []int32, vars []VarRecord, samples []SampleRecord) error {
	bw := binWriter{w: w}
	bw.write(hdr)
	for _, c := range callsites {
		bw.write(c)
	}
	for _, v := range vars {
		bw.write(v)
	}
	for _, s := range samples {
		bw.write(s)
	}
	return bw.err
}

// ReadGmonVar parses a gmon_var.out file written by WriteGmonVar, using the
// header's own size fields to know how many records follow — the
// round-trip property spec.md §8 invariant 6 requires.
func ReadGmonVar(r io.Reader) (hdr VarHeader, callsites []int32, vars []VarRecord, samples []SampleRecord, err error) {
	br := binReader{r: r}
	br.read(&hdr)
	if br.err != nil {
		return hdr, nil, nil, nil, br.err
	}

	callsites = make([]int32, hdr.FromSize)
	for i := range callsites {
		br.read(&callsites[i])
	}
	vars = make([]VarRecord, hdr.VarLimit)
	for i := range vars {
		br.read(&vars[i])
	}
	samples = make([]SampleRecord, hdr.SampleLimit)
	for i := range samples {
		br.read(&samples[i])
	}
	if br.err == io.EOF {
		br.err = nil
	}
	return hdr, callsites, vars, samples, br.err
}

type binWriter struct {
	w   io.Writer
	err error
}

func (bw *binWriter) write(v any) {
	if bw.err != nil {
		return
	}
	bw.err = binary.Write(bw.w, binary.LittleEndian, v)
}

type binReader struct {
	r   io.Reader
	err error
}

func (br *binReader) read(v any) {
	if br.err != nil {
		return
	}
	br.err = binary.Read(br.r, binary.LittleEndian, v)
}

// Buffer is an alias of bytes.Buffer, an in-memory sink/source for the
// Write*/Read* functions above.
type Buffer = bytes.Buffer
