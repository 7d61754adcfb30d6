package engine

import (
	"muckvm/frame"
	"muckvm/objdb"
	"muckvm/program"
	"muckvm/trace"
	"muckvm/value"
)

// Outcome reports what the dispatcher did on one Execute call.
type Outcome int

const (
	// OutcomeSuspended means the frame was handed to the scheduler; the
	// caller must not touch it again until the scheduler re-enters.
	OutcomeSuspended Outcome = iota
	// OutcomeDone means the system stack emptied out (outermost RET) or
	// the player went invalid; Execute has already cleaned and released
	// the frame.
	OutcomeDone
	// OutcomeCrashed means a FatalError terminated the frame; it has
	// already been cleaned.
	OutcomeCrashed
)

// Execute runs f's dispatcher loop until it suspends, finishes, or hard
// aborts (spec §4.3). Each loop iteration first checks that player is
// still a valid object in the registry (step 1, "is the running player
// still valid"); progs backs value ownership transfers for Clean.
func (e *Engine) Execute(player value.ObjID, f *frame.Frame, progs value.ProgramInstances) (Outcome, value.Inst, error) {
	// SliceCount is local to this burst of execution, not to the frame's
	// lifetime: every fresh entry to the dispatcher (including re-entry
	// after a SLEEP/READ/WAITFOR suspension) starts counting from zero,
	// the same way the source's interp() resets its local instr_count at
	// the top of every call (spec §4.3 step 3; fbmuck interp.c resets
	// instr_count = 0 before the dispatch loop on every invocation).
	f.SliceCount = 0

	for !f.System.Empty() {
		if obj := e.Registry.Object(player); !obj.Valid() {
			e.ReleaseFrame(f, progs)
			return OutcomeDone, value.Inst{}, nil
		}

		f.InstrCount++
		f.SliceCount++

		if exceeded := e.instrCeilingExceeded(f); exceeded {
			e.crash(f, progs, NewFatalError("Maximum total instruction count exceeded."))
			return OutcomeCrashed, value.Inst{}, NewFatalError("Maximum total instruction count exceeded.")
		}

		if e.shouldYield(f) {
			e.Sched.EnqueueDelay(f.Pid, 0, f)
			return OutcomeSuspended, value.Inst{}, nil
		}

		if stop, descr := e.debuggerTick(f); stop {
			e.Sched.EnqueueRead(f.Pid, descr, f)
			return OutcomeSuspended, value.Inst{}, nil
		}

		prog, err := e.currentProgram(f)
		if err != nil {
			e.raise(f, progs, err)
			if outcome, ret, done := e.drainUnwind(f, progs); done {
				return outcome, ret, nil
			}
			continue
		}

		suspended, err := e.step(player, prog, f, progs)
		if err != nil {
			if fatal, ok := err.(*FatalError); ok {
				e.crash(f, progs, fatal)
				return OutcomeCrashed, value.Inst{}, fatal
			}
			e.raise(f, progs, err)
		}
		if suspended {
			return OutcomeSuspended, value.Inst{}, nil
		}
		if outcome, ret, done := e.drainUnwind(f, progs); done {
			return outcome, ret, nil
		}
	}

	// The returned value must be a fresh copy: ReleaseFrame is about to
	// clear every operand slot, dropping the refcounts the peeked Inst's
	// heap payloads are still counting on.
	var ret value.Inst
	if top, err := f.Operand.Peek(0); err == nil {
		ret = value.Copy(top, progs)
	}
	e.setBlock(invoker(f), false)
	e.ReleaseFrame(f, progs)
	return OutcomeDone, ret, nil
}

// drainUnwind implements spec §4.3 step 7 ("Error unwind"): if the frame
// has a pending error and a try-frame exists, unwind to it; otherwise
// clean up and report done. Returns done=true when the caller's loop
// should stop (frame consumed).
func (e *Engine) drainUnwind(f *frame.Frame, progs value.ProgramInstances) (Outcome, value.Inst, bool) {
	if f.Pending.Message == "" {
		return OutcomeDone, value.Inst{}, false
	}
	if len(f.TryStack) == 0 {
		e.crash(f, progs, NewFatalError("%s", f.Pending.Message))
		return OutcomeCrashed, value.Inst{}, true
	}
	// A try-frame exists: restore system stack/caller chain/scoped depth
	// to what they were at TRY, then jump pc to the handler — which lives
	// in the program that executed TRY, not necessarily the program that
	// erred, so the program id and permission level are restored too.
	// f.Pending stays set for the CATCH/CATCH_DETAILED primitive to
	// consume.
	top := f.TryStack[len(f.TryStack)-1]
	f.UnwindError(e.Registry, progs)
	f.PC = frame.PC{Program: top.Program, Offset: top.Handler}
	if len(f.CallerChain) > 0 {
		f.PermLevel = e.Registry.FindMLevel(f.CallerChain, len(f.CallerChain)-1)
	}
	return OutcomeDone, value.Inst{}, false
}

// raise stores the pending-error fields (spec §7 propagation) without
// deciding whether a try-frame will catch it; drainUnwind does that next.
// f.Pending.Line was already set by step() to the faulting instruction's
// source line before dispatch ran.
func (e *Engine) raise(f *frame.Frame, progs value.ProgramInstances, err error) {
	f.Pending.Message = err.Error()
	f.Pending.Program = f.PC.Program
	f.Pending.InstrTxt = ""
	if prg := e.Registry.Program(f.PC.Program); prg != nil &&
		f.PC.Offset >= 0 && f.PC.Offset < len(prg.Code) {
		f.Pending.InstrTxt = prg.Code[f.PC.Offset].Text()
	}
}

// crash implements interp_err (spec §7): notifies the invoker with the
// user-visible report, logs the crash, passes it to writeCrashLog, and
// cleans the frame. abort_silent skips all of the observable parts.
func (e *Engine) crash(f *frame.Frame, progs value.ProgramInstances, fatal *FatalError) {
	if !fatal.Silent {
		msg1 := f.Pending.InstrTxt
		if msg1 == "" {
			msg1 = "Runtime"
		}
		e.interpErr(f, msg1, fatal.Message)
		trace.Crash(f.Pid, "", fatal.Message, crashTime())
		e.writeCrashLog(f, fatal.Message)
	}
	e.setBlock(invoker(f), false)
	e.ReleaseFrame(f, progs)
}

// writeCrashLog updates .debug/errcount, .debug/lasterr, .debug/lastcrash,
// .debug/lastcrashtime on the program owner (spec §6, §7) only when
// e.Registry satisfies objdb.PropertyStore. *objdb.Registry has no
// GetProp/SetProp methods, so as built no crash-log property is written.
func (e *Engine) writeCrashLog(f *frame.Frame, message string) {
	store, ok := e.propStore()
	if !ok {
		return
	}
	owner := value.ObjID(f.PC.Program)
	if obj := e.Registry.Object(owner); obj != nil {
		owner = obj.Owner
	}
	errcount, _ := store.GetProp(owner, ".debug/errcount")
	next := int64(1)
	if errcount.Tag == value.INTEGER {
		next = errcount.Int() + 1
	}
	store.SetProp(owner, ".debug/errcount", value.NewInt(next, 0))
	store.SetProp(owner, ".debug/lasterr", value.NewString(message, 0))
	store.SetProp(owner, ".debug/lastcrash", value.NewString(message, 0))
	store.SetProp(owner, ".debug/lastcrashtime", value.NewInt(crashTime().Unix(), 0))
}

func (e *Engine) propStore() (objdb.PropertyStore, bool) {
	ps, ok := any(e.Registry).(objdb.PropertyStore)
	return ps, ok
}

// instrCeilingExceeded implements spec §4.3 steps 3 and 5's two
// instruction ceilings. PREEMPT mode (or a BUILDER-flagged program) is
// checked against f.SliceCount, the per-burst counter reset at the top
// of every Execute call, per original_source/fbmuck/src/interp.c:1090-
// 1103's `instr_count` comparison — the same reset shouldYield already
// gives the cooperative-yield condition. The low-trust ceiling (spec
// step 5, permission level < 3) is checked against f.InstrCount, the
// frame's lifetime counter, since spec §6 names tp_max_instr_count a
// "per-frame lifetime instruction cap".
func (e *Engine) instrCeilingExceeded(f *frame.Frame) bool {
	builder := false
	if obj := e.Registry.Object(value.ObjID(f.PC.Program)); obj != nil {
		builder = obj.Flags.Has(objdb.FlagBuilder)
	}
	if f.MultitaskMode == frame.ModePreempt || builder {
		if cap := e.Config.PreemptCap(f.PermLevel); cap > 0 && int64(f.SliceCount) > cap {
			return true
		}
		return false
	}
	if f.PermLevel < 3 {
		if cap := e.Config.LowTrustCap(f.PermLevel); cap > 0 && int64(f.InstrCount) > cap {
			return true
		}
	}
	return false
}

// shouldYield implements spec §4.3 step 3's FOREGROUND/BACKGROUND
// cooperative-yield condition: the frame's lifetime instruction count has
// run past 4x the configured slice size, and this burst (f.SliceCount,
// reset at the top of Execute) has itself run a full slice. Both clauses
// are needed: the first keeps a young frame from yielding during its first
// four slices' worth of instructions; the second stops an older frame from
// yielding again before this burst has done a slice's worth of work.
func (e *Engine) shouldYield(f *frame.Frame) bool {
	if f.MultitaskMode == frame.ModePreempt {
		return false
	}
	if obj := e.Registry.Object(value.ObjID(f.PC.Program)); obj != nil && obj.Flags.Has(objdb.FlagBuilder) {
		return false
	}
	return int64(f.InstrCount) > e.Config.InstrSlice*4 && int64(f.SliceCount) >= e.Config.InstrSlice
}

// step decodes and executes exactly one instruction (spec §4.3 step 6),
// returning suspended=true if a suspension-point primitive parked the
// frame with the scheduler.
func (e *Engine) step(player value.ObjID, prog *program.Program, f *frame.Frame, progs value.ProgramInstances) (suspended bool, err error) {
	if f.PC.Offset < 0 || f.PC.Offset >= len(prog.Code) {
		return false, NewFatalError("invalid address: pc out of range")
	}
	inst := prog.Code[f.PC.Offset]
	f.Pending.Line = inst.Line

	if trace.IsEnabled() {
		trace.Step(f.Pid, "", f.PC.Program, f.PC.Offset, inst.Op)
	}

	switch inst.Op {
	case program.OpPush:
		if err := f.Operand.Push(value.Copy(inst.Value, progs)); err != nil {
			return false, err
		}
		f.PC.Offset++

	case program.OpLvarAt, program.OpLvarAtClear:
		slot := f.ProgramLocals.Get(f.PC.Program)
		if inst.Operand < 0 || inst.Operand >= len(slot.Slots) {
			return false, NewRuntimeError("variable number out of range")
		}
		if err := f.Operand.Push(value.Copy(slot.Slots[inst.Operand], progs)); err != nil {
			return false, err
		}
		if inst.Op == program.OpLvarAtClear {
			value.Clear(&slot.Slots[inst.Operand], progs)
			slot.Slots[inst.Operand] = value.Zero()
		}
		f.PC.Offset++

	case program.OpLvarBang:
		slot := f.ProgramLocals.Get(f.PC.Program)
		if inst.Operand < 0 || inst.Operand >= len(slot.Slots) {
			return false, NewRuntimeError("variable number out of range")
		}
		popped, err := f.Operand.Pop(f.TryDepth())
		if err != nil {
			return false, err
		}
		if slot.Slots[inst.Operand].Tag != value.CLEARED {
			value.Clear(&slot.Slots[inst.Operand], progs)
		}
		slot.Slots[inst.Operand] = popped
		f.PC.Offset++

	case program.OpSvarAt, program.OpSvarAtClear:
		top := f.Scoped.Top()
		if top == nil || inst.Operand < 0 || inst.Operand >= len(top.Slots) {
			return false, NewRuntimeError("variable number out of range")
		}
		if err := f.Operand.Push(value.Copy(top.Slots[inst.Operand], progs)); err != nil {
			return false, err
		}
		if inst.Op == program.OpSvarAtClear {
			value.Clear(&top.Slots[inst.Operand], progs)
			top.Slots[inst.Operand] = value.Zero()
		}
		f.PC.Offset++

	case program.OpSvarBang:
		top := f.Scoped.Top()
		if top == nil || inst.Operand < 0 || inst.Operand >= len(top.Slots) {
			return false, NewRuntimeError("variable number out of range")
		}
		popped, err := f.Operand.Pop(f.TryDepth())
		if err != nil {
			return false, err
		}
		if top.Slots[inst.Operand].Tag != value.CLEARED {
			value.Clear(&top.Slots[inst.Operand], progs)
		}
		top.Slots[inst.Operand] = popped
		f.PC.Offset++

	case program.OpFunctionHeader:
		fn := inst.Value.Function()
		if fn == nil {
			return false, NewFatalError("corrupted instruction: function header without metadata")
		}
		if f.SkipDeclare {
			// JMP-into-function: the caller already prepared this scope.
			f.SkipDeclare = false
		} else {
			f.Scoped.Push(fn.NumVars, fn.VarNames)
		}
		sf := f.Scoped.Top()
		if sf == nil || fn.NumArgs > len(sf.Slots) {
			return false, NewFatalError("corrupted instruction: function header without a scope for its args")
		}
		for i := fn.NumArgs - 1; i >= 0; i-- {
			popped, err := f.Operand.Pop(f.TryDepth())
			if err != nil {
				return false, err
			}
			value.Clear(&sf.Slots[i], progs)
			sf.Slots[i] = popped
		}
		f.PC.Offset++

	case program.OpIf:
		cond, err := f.Operand.Pop(f.TryDepth())
		if err != nil {
			return false, err
		}
		taken := !cond.Truthy()
		value.Clear(&cond, progs)
		if taken {
			f.PC.Offset = inst.Operand
		} else {
			f.PC.Offset++
		}

	case program.OpExec:
		f.System.Push(frame.ReturnAddr{Program: f.PC.Program, PC: f.PC.Offset + 1})
		f.SkipDeclare = false
		f.PC.Offset = inst.Operand

	case program.OpJmp:
		target := inst.Operand
		if target >= 0 && target < len(prog.Code) && prog.Code[target].Op == program.OpFunctionHeader {
			f.SkipDeclare = true
		}
		f.PC.Offset = target

	case program.OpTry:
		n, err := f.Operand.Pop(f.TryDepth())
		if err != nil {
			return false, err
		}
		if n.Tag != value.INTEGER || n.Int() < 0 || int(n.Int()) > f.Operand.Height() {
			return false, NewRuntimeError("invalid TRY protect count")
		}
		// A nested TRY must not set its own protected depth below the
		// enclosing try's, or the enclosing try's protection is silently
		// defeated for every pop after this one (TryDepth only ever
		// consults the innermost entry). Checked against the post-pop
		// height, mirroring the source's pre/post-pop protection check
		// around TRY's own N-popping.
		newDepth := f.Operand.Height() - int(n.Int())
		if len(f.TryStack) > 0 {
			outer := f.TryStack[len(f.TryStack)-1]
			if newDepth < outer.Depth {
				return false, frame.ErrStackProtectionFault
			}
		}
		f.PushTry(e.TryPool, inst.Operand)
		top := f.TryStack[len(f.TryStack)-1]
		top.Depth = newDepth
		f.PC.Offset++

	case program.OpPrimitive:
		return e.dispatchPrimitive(player, prog, f, inst, progs)

	case program.OpCleared:
		return false, NewFatalError("corrupted instruction: CLEARED opcode executed")

	default:
		return false, NewFatalError("corrupted instruction: unknown opcode")
	}

	return false, nil
}
