package knobprof

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"

	"github.com/stealthrocket/knobprof/internal/bucket"
	"golang.org/x/sys/unix"
)

// Default profiling frequency in Hz, matching the original's typical
// 100 Hz ITIMER_PROF tick.
const DefaultProfileFrequency = 100

// Sizing constants from spec.md §4.F's table.
const (
	HistFractionDefault = HistFraction
)

// Options configures MonStartup. Zero values take the spec's documented
// defaults.
type Options struct {
	ProfileFrequency int // Hz; default DefaultProfileFrequency
	SampleLimit      int // default DefaultSampleLimit
	ShadowLimit      int // default DefaultShadowLimit
	ConfigPath       string
	UnwindDepth      int // default 0 (disabled)
}

// Profiler owns every arena and the signal/timer plumbing for one
// monstartup/mcleanup lifecycle. There is exactly one live Profiler per
// process, matching the original's single global profiling state.
type Profiler struct {
	state int32 // ProfState, accessed atomically so the hot path never locks

	lowpc, highpc    uint64
	textsize         uint64
	profileFrequency int
	scale            int32
	unwindDepth      int

	hist    *Histogram
	arcs    *ArcTable
	vars    *VariableTable
	shadows *ShadowTable
	samples *SampleArena

	launchPID int32
	setItimer bool

	flushSig   chan os.Signal
	flushDone  chan struct{}
}

var (
	activeMu sync.Mutex
	active   *Profiler
)

// MonStartup allocates every arena for [lowpc, highpc), loads the variable
// config (best-effort: a missing or mismatched config only disables
// variable sampling, per spec.md §4.C/§7), and installs the SIGPROF/SIGUSR2
// handlers plus the ITIMER_PROF interval timer. It corresponds to the
// original's __monstartup.
func MonStartup(lowpc, highpc uint64, opts Options) (*Profiler, error) {
	activeMu.Lock()
	defer activeMu.Unlock()
	if active != nil {
		return nil, fmt.Errorf("knobprof: MonStartup called twice without MCleanup")
	}

	if opts.ProfileFrequency == 0 {
		opts.ProfileFrequency = DefaultProfileFrequency
	}
	if opts.SampleLimit == 0 {
		opts.SampleLimit = DefaultSampleLimit
	}
	if opts.ShadowLimit == 0 {
		opts.ShadowLimit = DefaultShadowLimit
	}

	lowpc = bucket.RoundDown(lowpc, HistFractionDefault)
	highpc = bucket.RoundUp(highpc, HistFractionDefault)
	textsize := highpc - lowpc

	p := &Profiler{
		lowpc:            lowpc,
		highpc:           highpc,
		textsize:         textsize,
		profileFrequency: opts.ProfileFrequency,
		unwindDepth:      opts.UnwindDepth,
		launchPID:        int32(os.Getpid()),
	}
	atomic.StoreInt32(&p.state, int32(StateOn))

	p.hist = NewHistogram(lowpc, textsize, HistFractionDefault)
	p.arcs = NewArcTable(lowpc, highpc)

	stride := uint64(HashFraction) * 4
	p.scale = computeScale(HistFractionDefault)

	progname := resolveProgramName(os.Getpid())
	cfg, matched, err := LoadConfig(opts.ConfigPath, progname)
	if err != nil {
		slog.Warn("knobprof: variable config unavailable, histogram/arc profiling only", "error", err)
	} else if matched {
		p.vars = NewVariableTable(lowpc, textsize, stride, opts.SampleLimit)
		p.shadows = NewShadowTable(lowpc, textsize, stride, opts.ShadowLimit)
		p.samples = NewSampleArena(opts.SampleLimit)
		if err := applyConfig(cfg, p.vars, p.shadows); err != nil {
			slog.Error("knobprof: variable arena exhausted while loading config", "error", err)
			atomic.StoreInt32(&p.state, int32(StateError))
			p.vars = nil
			p.shadows = nil
			p.samples = nil
		}
	}

	if err := p.installHandlers(); err != nil {
		atomic.StoreInt32(&p.state, int32(StateError))
		return p, err
	}

	active = p
	return p, nil
}

// applyConfig replays cfg's records in file order against vt/st, honoring
// coalescing-reset markers, mirroring monitor_variables in gmon.c.
func applyConfig(cfg *Config, vt *VariableTable, st *ShadowTable) error {
	for _, r := range cfg.Records {
		switch {
		case r.Reset:
			vt.ResetCoalescing()
		case r.Shadow != nil:
			if !st.Insert(r.Shadow.At, r.Shadow.Atom, r.Shadow.Addr) {
				return fmt.Errorf("knobprof: shadow arena exhausted at pc %#x", r.Shadow.At)
			}
		case r.Variable != nil:
			v := r.Variable
			if !vt.Insert(v.From, v.To, v.Atom, v.Addr, v.Size) {
				return fmt.Errorf("knobprof: variable arena exhausted at pc %#x", v.From)
			}
		}
	}
	return nil
}

// computeScale mirrors gmon.c's s_scale computation: the fixed-point
// scale factor mapping a PC offset to a histogram index via wide-multiply
// decomposition (Histogram.BumpScaled). That formula agrees with a plain
// `(pc-lowpc)/histfrac` division when histfrac is a power of two no smaller
// than 2 (the default HistFraction of 4 is one); for other values, such as
// 1 or 3, the two can pick different counters.
func computeScale(histfrac uint64) int32 {
	return int32((2 * 65536) / histfrac)
}

// installHandlers arms ITIMER_PROF and starts the SIGUSR2 flush goroutine.
// Installing the SIGPROF handler itself — the raw SA_SIGINFO trampoline
// that captures ucontext_t and calls into the hot path (context.go's
// Context) — is this repository's declared external collaborator (spec.md
// §1 Non-goals): arming it requires either cgo or a platform-specific
// assembly trampoline neither of which this pure-Go package provides.
// SIGUSR2 carries no such requirement (the flush it triggers runs on a
// regular goroutine, not in signal-handler context), so it is wired
// through the standard os/signal facility instead of a raw sigaction.
//
// setItimer is deliberately left false here, mirroring __profil in
// profil.c: only check_timer ever sets it, so a forked child (which
// inherits setItimer's zero value from neither monstartup nor this call)
// still takes the re-arm path in checkTimer the first time it ticks.
func (p *Profiler) installHandlers() error {
	p.flushSig = make(chan os.Signal, 1)
	p.flushDone = make(chan struct{})
	signal.Notify(p.flushSig, unix.SIGUSR2)
	go p.flushLoop()

	usec := int64(1e6 / p.profileFrequency)
	it := &unix.Itimerval{
		Interval: unix.Timeval{Sec: usec / 1e6, Usec: usec % 1e6},
		Value:    unix.Timeval{Sec: usec / 1e6, Usec: usec % 1e6},
	}
	if err := unix.Setitimer(unix.ITIMER_PROF, it, nil); err != nil {
		return fmt.Errorf("knobprof: arm ITIMER_PROF: %w", err)
	}
	return nil
}

// checkTimer re-arms ITIMER_PROF if a fork reset it but left the inherited
// handler installed: detected by a PID mismatch against launchPID with
// setItimer not yet reflecting the child, mirroring profil.c's
// check_timer. Called from the sampler hot path, so it must not allocate.
func (p *Profiler) checkTimer() {
	if int32(os.Getpid()) == p.launchPID {
		return
	}
	if p.setItimer {
		return
	}
	usec := int64(1e6 / p.profileFrequency)
	it := &unix.Itimerval{
		Interval: unix.Timeval{Sec: usec / 1e6, Usec: usec % 1e6},
		Value:    unix.Timeval{Sec: usec / 1e6, Usec: usec % 1e6},
	}
	unix.Setitimer(unix.ITIMER_PROF, it, nil)
	p.setItimer = true
}

// flushLoop runs on its own goroutine for the life of the profiler,
// writing both artifacts every time SIGUSR2 arrives without stopping the
// timer, matching sigUsr2Handler's "flush but keep running" behavior.
func (p *Profiler) flushLoop() {
	for {
		select {
		case <-p.flushSig:
			p.WriteArtifacts()
		case <-p.flushDone:
			return
		}
	}
}

// FlushNow writes both artifacts immediately, without waiting for SIGUSR2.
func (p *Profiler) FlushNow() {
	p.WriteArtifacts()
}

// MCleanup stops the timer and the SIGUSR2 flush goroutine, writes both
// artifacts, and releases the active profiler slot.
func MCleanup(p *Profiler) error {
	activeMu.Lock()
	defer activeMu.Unlock()

	zero := &unix.Itimerval{}
	unix.Setitimer(unix.ITIMER_PROF, zero, nil)
	signal.Stop(p.flushSig)
	close(p.flushDone)

	p.WriteArtifacts()
	atomic.StoreInt32(&p.state, int32(StateOff))

	if active == p {
		active = nil
	}
	return nil
}

// ProfError reports whether the profiler has entered the StateError state
// (spec.md §7's GMON_PROF_ERROR query).
func (p *Profiler) ProfError() bool {
	return ProfState(atomic.LoadInt32(&p.state)) == StateError
}

// State returns the profiler's current ProfState.
func (p *Profiler) State() ProfState {
	return ProfState(atomic.LoadInt32(&p.state))
}
