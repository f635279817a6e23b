package knobprof

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/stealthrocket/knobprof/internal/gmonfmt"
)

// DefaultGmonDir and DefaultGmonVarDir are the fallback artifact
// directories used when GMON_OUT_PREFIX/GMON_VAR_PREFIX are unset,
// matching gmon.c's hardcoded /tmp/vprof/gmon and /tmp/vprof/gmon_var.
const (
	DefaultGmonDir    = "/tmp/vprof/gmon"
	DefaultGmonVarDir = "/tmp/vprof/gmon_var"
)

// gmonPath returns the gmon.<pid>.out path, honoring GMON_OUT_PREFIX when
// set and the process is not running setuid (a setuid binary honoring an
// attacker-controlled output path is a privilege-escalation primitive, so
// the original glibc source refuses the override in that case).
func gmonPath(pid int) string {
	if prefix := os.Getenv("GMON_OUT_PREFIX"); prefix != "" && !isSUID() {
		return fmt.Sprintf("%s.%d", prefix, pid)
	}
	return filepath.Join(DefaultGmonDir, fmt.Sprintf("gmon.%d.out", pid))
}

// gmonVarPath returns the gmon_var.<pid>.out path, same rules as gmonPath.
func gmonVarPath(pid int) string {
	if prefix := os.Getenv("GMON_VAR_PREFIX"); prefix != "" && !isSUID() {
		return fmt.Sprintf("%s.%d", prefix, pid)
	}
	return filepath.Join(DefaultGmonVarDir, fmt.Sprintf("gmon_var.%d.out", pid))
}

func isSUID() bool {
	return os.Getuid() != os.Geteuid() || os.Getgid() != os.Getegid()
}

// WriteArtifacts serializes the histogram and arc table to gmon.<pid>.out
// and the variable tables + sample arena to gmon_var.<pid>.out. Failures
// are logged, not returned as process-fatal: spec.md §7 requires a write
// failure at shutdown to be recorded and swallowed.
func (p *Profiler) WriteArtifacts() {
	if err := p.writeGmon(); err != nil {
		slog.Error("knobprof: failed to write gmon.out", "error", err)
	}
	if p.vars != nil {
		if err := p.writeGmonVar(); err != nil {
			slog.Error("knobprof: failed to write gmon_var.out", "error", err)
		}
	}
}

func (p *Profiler) writeGmon() error {
	path := gmonPath(os.Getpid())
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	hdr := gmonfmt.HistHeader{
		LowPC:       p.hist.LowPC(),
		HighPC:      p.hist.LowPC() + p.textsize,
		HistSize:    int32(len(p.hist.Counts())),
		ProfRate:    int32(p.profileFrequency),
		DimenAbbrev: 's',
	}
	copy(hdr.Dimen[:], "seconds")

	var arcs []gmonfmt.Arc
	if p.arcs != nil {
		for _, a := range p.arcs.Arcs() {
			fromPC := p.hist.LowPC() + uint64(a.FromBucket)*p.arcs.stride
			arcs = append(arcs, gmonfmt.Arc{FromPC: fromPC, SelfPC: a.SelfPC, Count: int32(a.Count)})
		}
	}

	return gmonfmt.WriteGmon(f, hdr, p.hist.Counts(), arcs)
}

func (p *Profiler) writeGmonVar() error {
	path := gmonVarPath(os.Getpid())
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	varRecords := make([]gmonfmt.VarRecord, len(p.vars.Variables()))
	for i, v := range p.vars.Variables() {
		varRecords[i] = gmonfmt.VarRecord{
			Atom:       uint8(v.Atom),
			Addr:       v.Addr,
			Size:       v.Size,
			LowerBound: v.LowerBound,
			UpperBound: v.UpperBound,
			Link:       v.link,
			SampleTail: v.SampleTail,
		}
	}

	sampleRecords := make([]gmonfmt.SampleRecord, len(p.samples.Samples()))
	for i, s := range p.samples.Samples() {
		sampleRecords[i] = gmonfmt.SampleRecord{
			SeqID:   s.SeqID,
			Sampled: s.Sampled,
			Val:     s.Val,
			TID:     s.TID,
			Link:    s.Link,
			VarPC:   s.VarPC,
			CurPC:   s.CurPC,
		}
	}

	hdr := gmonfmt.VarHeader{
		LowPC:           p.hist.LowPC(),
		HighPC:          p.hist.LowPC() + p.textsize,
		HistSize:        int32(len(p.hist.Counts())),
		ProfRate:        int32(p.profileFrequency),
		DimenAbbrev:     's',
		FromSize:        int32(len(p.vars.callsites)),
		VarLimit:        int32(len(varRecords)),
		SampleLimit:     int32(len(sampleRecords)),
		LogHashfraction: int32(p.vars.logStride),
		Scale:           int32(p.scale),
		SizeofHdr:       0, // filled by binary.Size in a future revision if a C reader needs it
		SizeofVar:       0,
		SizeofSample:    0,
	}
	copy(hdr.Dimen[:], "seconds")

	return gmonfmt.WriteGmonVar(f, hdr, p.vars.callsites, varRecords, sampleRecords)
}
