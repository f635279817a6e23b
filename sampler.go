package knobprof

import (
	"time"

	"github.com/stealthrocket/knobprof/internal/dwarfexpr"
)

// Tick is the SIGPROF hot path (spec.md §4.D), invoked once per timer
// interrupt with the PC it was interrupted at and the captured
// register/stack context. It performs zero heap allocation, zero logging
// and zero blocking: every loop is bounded by a bucket chain length or by
// the sample arena's limit.
func (p *Profiler) Tick(pc uint64, ctx *Context) {
	p.checkTimer()

	if !p.hist.BumpScaled(pc, p.scale) {
		return
	}

	if p.vars == nil || p.samples == nil {
		return
	}

	p.sampleVariables(pc, pc, ctx, 0)

	if p.unwindDepth > 0 {
		p.unwindAndSample(pc, ctx)
	}
}

// sampleVariables walks the variable chain at curPC, evaluating and
// recording a sample for every entry whose range contains curPC. varPC is
// the PC the location record was authored against (equal to curPC at
// depth 0; the interrupted callee's PC during an unwind) and tag
// identifies which frame the sample came from (0, or UnwindPC+depth).
func (p *Profiler) sampleVariables(curPC, varPC uint64, ctx *Context, tag int32) {
	mem := ProcessMemory{}
	loadAddr := LoadAddress()
	now := nowMicros()

	p.vars.ForEachAt(curPC, func(idx int32, v *Variable) bool {
		if v.Size == 0 {
			return true // shadow markers never carry a direct value sample
		}
		val, ok := dwarfexpr.Resolve(v.Atom, v.Addr, int(v.Size), &ctx.Context, mem, loadAddr)
		if !ok {
			return true
		}

		j, ok := p.samples.Alloc()
		if !ok {
			return false // arena exhausted; stop the whole walk, not just this entry
		}
		p.samples.Set(j, Sample{
			SeqID:   now,
			Sampled: tag,
			Val:     val,
			TID:     ctx.TID,
			Link:    v.SampleTail,
			VarPC:   varPC - loadAddr,
			CurPC:   curPC - loadAddr,
		})
		v.SampleTail = j
		return true
	})
}

// unwindAndSample captures up to p.unwindDepth additional caller frames
// and re-samples the variable chain at each return address, tagging each
// with UnwindPC+depth (spec.md §4.D.5). The PC recorded for each frame is
// adjusted back by CallInstructionSize bytes so it points at the call
// instruction rather than the return address.
func (p *Profiler) unwindAndSample(interruptedPC uint64, ctx *Context) {
	frame := *ctx
	for depth := 0; depth < p.unwindDepth; depth++ {
		next, ok := stepCaller(&frame)
		if !ok {
			return
		}
		frame = *next

		callPC := frame.PC
		if callPC >= CallInstructionSize {
			callPC -= CallInstructionSize
		}
		p.sampleVariables(callPC, interruptedPC, &frame, UnwindPC+int32(depth))
	}
}

// stepCaller advances ctx one frame up the call stack using the captured
// frame-pointer chain (RBP -> saved RBP, RBP+8 -> return address), the
// same frame-pointer convention profil.c's libunwind-based unwind_sample
// assumes when frame pointers are preserved. It returns ok=false once the
// chain runs out of validated registers.
func stepCaller(ctx *Context) (*Context, bool) {
	if !ctx.Valid[dwarfexpr.RegRBP] {
		return nil, false
	}
	mem := ProcessMemory{}

	savedRBP, ok := mem.Read(ctx.Regs[dwarfexpr.RegRBP], 8)
	if !ok {
		return nil, false
	}
	retAddr, ok := mem.Read(ctx.Regs[dwarfexpr.RegRBP]+8, 8)
	if !ok {
		return nil, false
	}

	next := &Context{PC: retAddr, TID: ctx.TID}
	next.Regs[dwarfexpr.RegRBP] = savedRBP
	next.Valid[dwarfexpr.RegRBP] = true
	return next, true
}

// nowMicros returns a microsecond timestamp for Sample.SeqID. It allocates
// nothing (time.Now is a value type) and never blocks.
func nowMicros() uint64 {
	return uint64(time.Now().UnixMicro())
}
