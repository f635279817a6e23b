package knobprof

import (
	"fmt"
	"net/http"

	"github.com/google/pprof/profile"
)

// Copyright (c) 2009 The Go Authors. All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are
// met:
//
//    * Redistributions of source code must retain the above copyright
// notice, this list of conditions and the following disclaimer.
//    * Redistributions in binary form must reproduce the above
// copyright notice, this list of conditions and the following disclaimer
// in the documentation and/or other materials provided with the
// distribution.
//    * Neither the name of Google Inc. nor the names of its
// contributors may be used to endorse or promote products derived from
// this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS
// "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT
// LIMITED TO, THE IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR
// A PARTICULAR PURPOSE ARE DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT
// OWNER OR CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING, BUT NOT
// LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR SERVICES; LOSS OF USE,
// DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER CAUSED AND ON ANY
// THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT
// (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

const sampleTypePC = "samples"
const sampleTypeArc = "arcs"

// ToPprofProfile converts the profiler's in-memory histogram and call-graph
// arcs into a *profile.Profile, so any gmon.out this package produces can
// also be inspected with `go tool pprof` instead of gprof. One location per
// occupied histogram bucket, plus one single-location sample per recorded
// arc, placed at the arc's callee PC.
func (p *Profiler) ToPprofProfile() (*profile.Profile, error) {
	prof := &profile.Profile{
		SampleType:    []*profile.ValueType{{Type: sampleTypePC, Unit: "count"}},
		PeriodType:    &profile.ValueType{Type: "cpu", Unit: "nanoseconds"},
		TimeNanos:     0,
		DurationNanos: 0,
	}

	locByAddr := map[uint64]*profile.Location{}
	locFor := func(addr uint64) *profile.Location {
		if loc, ok := locByAddr[addr]; ok {
			return loc
		}
		loc := &profile.Location{
			ID:      uint64(len(prof.Location)) + 1,
			Address: addr,
		}
		prof.Location = append(prof.Location, loc)
		locByAddr[addr] = loc
		return loc
	}

	if p.hist != nil {
		counts := p.hist.Counts()
		bucketWidth := p.hist.HistFrac()
		for i, c := range counts {
			if c == 0 {
				continue
			}
			addr := p.hist.LowPC() + uint64(i)*bucketWidth
			prof.Sample = append(prof.Sample, &profile.Sample{
				Location: []*profile.Location{locFor(addr)},
				Value:    []int64{int64(c)},
			})
		}
	}

	if p.arcs != nil {
		prof.SampleType = append(prof.SampleType, &profile.ValueType{Type: sampleTypeArc, Unit: "count"})
		for _, a := range p.arcs.Arcs() {
			prof.Sample = append(prof.Sample, &profile.Sample{
				Location: []*profile.Location{locFor(a.SelfPC)},
				Value:    []int64{0, int64(a.Count)},
			})
		}
		for _, s := range prof.Sample {
			if len(s.Value) == 1 {
				s.Value = append(s.Value, 0)
			}
		}
	}

	return prof, nil
}

func serveProfile(w http.ResponseWriter, prof *profile.Profile) {
	h := w.Header()
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Content-Disposition", `attachment; filename="profile"`)
	if err := prof.Write(w); err != nil {
		serveError(w, http.StatusInternalServerError, err.Error())
	}
}

func serveError(w http.ResponseWriter, status int, txt string) {
	h := w.Header()
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Go-Pprof", "1")
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Del("Content-Disposition")
	w.WriteHeader(status)
	fmt.Fprintln(w, txt)
}
