package engine

import (
	"fmt"

	"muckvm/frame"
	"muckvm/objdb"
	"muckvm/primitive"
	"muckvm/program"
	"muckvm/trace"
	"muckvm/value"
)

// dispatchPrimitive sub-dispatches a PROG_PRIMITIVE instruction by number
// (spec §4.3 "PRIMITIVE"): the seven reserved control-flow primitives are
// handled directly since they touch the system/try stack and caller
// chain; everything else is a library call through e.Prims.
func (e *Engine) dispatchPrimitive(player value.ObjID, prog *program.Program, f *frame.Frame, inst program.Instruction, progs value.ProgramInstances) (suspended bool, err error) {
	num := inst.Value.PrimitiveNumber()
	switch num {
	case primitive.PrimCall:
		if err := e.doCall(player, f, progs); err != nil {
			return false, err
		}
		return false, nil

	case primitive.PrimRet:
		if err := e.doRet(f, progs); err != nil {
			return false, err
		}
		return false, nil

	case primitive.PrimCatch:
		if err := e.doCatch(f, progs, false); err != nil {
			return false, err
		}
		f.PC.Offset++
		return false, nil

	case primitive.PrimCatchDetailed:
		if err := e.doCatch(f, progs, true); err != nil {
			return false, err
		}
		f.PC.Offset++
		return false, nil

	case primitive.PrimEventWaitfor:
		if err := e.doEventWaitfor(f, progs); err != nil {
			return false, err
		}
		// Blocks the invoker's input iff the frame hasn't been
		// backgrounded (spec §4.3 EVENT_WAITFOR).
		if f.MultitaskMode != frame.ModeBackground {
			e.setBlock(player, true)
		}
		f.PC.Offset++
		return true, nil

	case primitive.PrimRead:
		if f.WriteOnly {
			return false, NewRuntimeError("Program is write-only.")
		}
		if f.MultitaskMode == frame.ModeBackground {
			return false, NewRuntimeError("BACKGROUND programs are write only.")
		}
		f.PC.Offset++
		e.setBlock(player, true)
		e.setCurrProg(player, f.PC.Program)
		e.Sched.EnqueueRead(f.Pid, f.Descriptor, f)
		return true, nil

	case primitive.PrimSleep:
		delay, err := f.Operand.Pop(f.TryDepth())
		if err != nil {
			return false, err
		}
		if delay.Tag != value.INTEGER {
			return false, NewRuntimeError("SLEEP: expected integer delay")
		}
		seconds := int(delay.Int())
		value.Clear(&delay, progs)
		f.PC.Offset++
		e.Sched.EnqueueDelay(f.Pid, seconds, f)
		return true, nil

	default:
		fn := e.Prims.Lookup(num)
		if fn == nil {
			return false, NewRuntimeError("unknown primitive number %d", num)
		}
		ctx := &primitive.Context{
			Player:    player,
			Program:   f.PC.Program,
			MLevel:    f.PermLevel,
			PC:        f.PC.Offset,
			StackBase: f.TryDepth(),
			Frame:     f,
			Progs:     progs,
		}
		if err := fn(ctx); err != nil {
			return false, err
		}
		f.PC.Offset++
		return false, nil
	}
}

// doCall implements spec §4.3 "CALL semantics".
func (e *Engine) doCall(player value.ObjID, f *frame.Frame, progs value.ProgramInstances) error {
	top, err := f.Operand.Pop(f.TryDepth())
	if err != nil {
		return err
	}

	var progRef value.ObjID
	var entryName string
	var byName bool

	switch top.Tag {
	case value.OBJECT_REF:
		progRef = top.ObjRef()
		value.Clear(&top, progs)

	case value.STRING:
		entryName = top.Str()
		byName = true
		value.Clear(&top, progs)
		ref, err := f.Operand.Pop(f.TryDepth())
		if err != nil {
			return err
		}
		if ref.Tag != value.OBJECT_REF {
			return NewRuntimeError("CALL: expected program reference")
		}
		progRef = ref.ObjRef()
		value.Clear(&ref, progs)

	default:
		return NewRuntimeError("CALL: invalid operand type")
	}

	target := e.Registry.Object(progRef)
	if !target.Valid() || target.Typeof != objdb.TypeProgram {
		return NewRuntimeError("CALL: invalid program reference")
	}

	callerOwner := player
	callerIsWizard := false
	if callerObj := e.Registry.Object(player); callerObj != nil {
		callerOwner = callerObj.Owner
		callerIsWizard = callerObj.TrueWizard
	}
	sameUID := callerOwner == target.Owner
	if !callerIsWizard && !sameUID && !target.Flags.Has(objdb.FlagLinkable) {
		return NewRuntimeError("permission denied: target program is not LINKABLE")
	}

	compiled, err := e.Registry.EnsureCompiled(target.Owner, progRef)
	if err != nil {
		return err
	}

	entryOffset := compiled.Start
	if byName {
		entry, ok := compiled.LookupPublic(entryName)
		if !ok {
			return NewRuntimeError("CALL: no such public entry %q", entryName)
		}
		if f.PermLevel < entry.Level {
			return NewRuntimeError("permission denied: %q requires level %d", entryName, entry.Level)
		}
		entryOffset = entry.Offset
	}

	e.Registry.IncInstances(value.ProgID(progRef))
	f.System.Push(frame.ReturnAddr{Program: f.PC.Program, PC: f.PC.Offset + 1})
	f.CallerChain = append(f.CallerChain, progRef)
	f.PC = frame.PC{Program: value.ProgID(progRef), Offset: entryOffset}
	f.PermLevel = e.Registry.FindMLevel(f.CallerChain, len(f.CallerChain)-1)
	f.SkipDeclare = false

	trace.CallEnter(f.Pid, fmt.Sprint(progRef), value.ProgID(progRef), f.PermLevel)
	return nil
}

// doRet implements spec §4.3 "RET semantics".
func (e *Engine) doRet(f *frame.Frame, progs value.ProgramInstances) error {
	f.Scoped.Pop(progs)

	ret, ok := f.System.Pop()
	if !ok {
		return NewFatalError("RET with empty system stack")
	}

	switchingProgram := ret.Program != f.PC.Program
	if switchingProgram {
		e.Registry.DecInstances(value.ProgID(f.PC.Program))
		if n := len(f.CallerChain); n > 0 {
			f.CallerChain = f.CallerChain[:n-1]
		}
		if len(f.CallerChain) > 0 {
			f.PermLevel = e.Registry.FindMLevel(f.CallerChain, len(f.CallerChain)-1)
		}
		trace.Return(f.Pid, "", value.ProgID(f.PC.Program))
	}

	f.PC = frame.PC{Program: ret.Program, Offset: ret.PC}
	return nil
}

// doCatch implements spec §4.3 "CATCH / CATCH_DETAILED".
func (e *Engine) doCatch(f *frame.Frame, progs value.ProgramInstances, detailed bool) error {
	if len(f.TryStack) == 0 {
		return NewFatalError("CATCH with no active try-frame")
	}
	depth := f.UnwindCatch(progs, e.TryPool, e.ForPool)
	f.Operand.TruncateTo(depth, progs)

	message := f.Pending.Message
	trace.Caught(f.Pid, "", message)

	if !detailed {
		// Always a STRING, empty when there was no pending error (spec
		// §4.3: "the error message as a string (or null if none)"; spec
		// §8's TRY/CATCH idempotence law: "pushes an empty error string").
		if err := f.Operand.Push(value.NewString(message, f.PC.Offset)); err != nil {
			return err
		}
	} else {
		entries := []value.ArrayEntry{
			{Key: value.NewString("error", f.PC.Offset), Val: value.NewString(message, f.PC.Offset)},
			{Key: value.NewString("instr", f.PC.Offset), Val: value.NewString(f.Pending.InstrTxt, f.PC.Offset)},
			{Key: value.NewString("line", f.PC.Offset), Val: value.NewInt(int64(f.Pending.Line), f.PC.Offset)},
			{Key: value.NewString("program", f.PC.Offset), Val: value.NewObjRef(value.ObjID(f.Pending.Program), f.PC.Offset)},
		}
		if err := f.Operand.Push(value.NewArray(entries, f.PC.Offset)); err != nil {
			return err
		}
	}

	f.Pending = frame.PendingError{}
	return nil
}

// doEventWaitfor implements spec §4.3 "EVENT_WAITFOR".
func (e *Engine) doEventWaitfor(f *frame.Frame, progs value.ProgramInstances) error {
	arr, err := f.Operand.Pop(f.TryDepth())
	if err != nil {
		return err
	}
	if arr.Tag != value.ARRAY {
		return NewRuntimeError("EVENT_WAITFOR: expected array of event names")
	}
	seen := make(map[string]bool)
	var names []string
	for _, entry := range arr.Array().Entries {
		if entry.Val.Tag == value.STRING && !seen[entry.Val.Str()] {
			seen[entry.Val.Str()] = true
			names = append(names, entry.Val.Str())
		}
	}
	value.Clear(&arr, progs)
	e.Sched.RegisterWaitFor(f, names)
	return nil
}
