// Package frame implements per-invocation process state: the operand and
// system stacks, the three variable scopes, and the pools that recycle
// frames and loop/exception nodes (spec §3 Frame, §4.2, §4.6).
package frame

import (
	"muckvm/objdb"
	"muckvm/program"
	"muckvm/value"
)

// MultitaskMode controls preemption policy for a running frame (spec
// §GLOSSARY "Multitask mode").
type MultitaskMode int

const (
	ModeForeground MultitaskMode = iota
	ModeBackground
	ModePreempt
)

// PC is the current program counter: which program is executing and at
// what instruction offset.
type PC struct {
	Program value.ProgID
	Offset  int
}

// PendingError holds the last runtime error raised in this frame, surfaced
// to CATCH and to the `.debug/lasterr` property on abort (spec §4.3, §6).
type PendingError struct {
	Message  string
	InstrTxt string
	Line     int
	Program  value.ProgID
}

// DebuggerState is the live single-step/breakpoint state for one frame
// (spec §4.9). A nil *DebuggerState means debugging is not armed.
type DebuggerState struct {
	Enabled      bool
	Bypass       bool
	StopPC       int
	HasStopPC    bool
	StopLine     int
	HasStopLine  bool
	LastLine     int
	StopDepth    int
	HasStopDepth bool
	StopProgram  value.ProgID
	HasStopProg  bool
	LineCount    int
	HasLineCount bool
	PCCount      int
	HasPCCount   bool
}

// Frame is one in-flight program invocation (spec §3 "Frame").
type Frame struct {
	Pid        int
	Descriptor int // I/O handle of the controlling connection, or -1
	StartTime  int64

	InstrCount int // lifetime instruction budget consumed, persists across suspensions
	SliceCount int // instructions consumed since this dispatcher burst began; reset at the top of every Execute call

	PC PC

	// CallerChain is the static call path, outermost first, used by
	// find_mlev/find_uid (spec §4.8).
	CallerChain []value.ObjID

	Operand *OperandStack
	System  *SystemStack

	ForStack []*ForNode
	TryStack []*TryNode

	Globals        [DefaultMaxVar]value.Inst
	ProgramLocals  *LocalVarStore
	Scoped         *ScopedStack

	Pending PendingError

	Waitees []int
	Waiters []int

	MultitaskMode MultitaskMode
	PermLevel     int

	Debugger *DebuggerState

	RandomSeed uint64
	DialogIDs  []int

	// SkipDeclare is the JMP-into-function protocol flag (spec §4.3,
	// §9): set by JMP when its target is a FUNCTION header whose scope
	// the caller already pushed, so the next FUNCTION dispatch reuses
	// the existing scoped frame instead of pushing a new one.
	SkipDeclare bool

	// WriteOnly marks a frame that cannot take interactive input (its
	// source is not a connected player able to answer a READ); checked by
	// the primitive dispatch, which rejects READ on such a frame.
	WriteOnly bool
}

// NewFrame allocates a frame with empty stacks sized to stackSize and
// program-local frames of maxVar slots; the global slots are always
// DefaultMaxVar. Callers drawing from FreeFramePool should prefer
// Clean+reuse over NewFrame on the hot path (spec §4.6).
func NewFrame(pid int, stackSize, maxVar int) *Frame {
	f := &Frame{
		Pid:           pid,
		Descriptor:    -1,
		Operand:       NewOperandStack(stackSize),
		System:        &SystemStack{},
		ProgramLocals: NewLocalVarStore(maxVar),
		Scoped:        &ScopedStack{},
	}
	for i := range f.Globals {
		f.Globals[i] = value.Zero()
	}
	return f
}

// TryDepth reports the current protection depth to pass to Operand.Pop:
// the recorded operand height of the innermost try-frame, or -1 if none
// is active (spec §4.3).
func (f *Frame) TryDepth() int {
	if len(f.TryStack) == 0 {
		return -1
	}
	return f.TryStack[len(f.TryStack)-1].Depth
}

// PushTry records a TRY at the current stack heights and returns the new
// node (spec §3 "Try-stack node").
func (f *Frame) PushTry(pool *TryNodePool, handler int) *TryNode {
	n := pool.Get()
	n.Depth = f.Operand.Height()
	n.CallLevel = f.System.Height()
	n.ForCount = len(f.ForStack)
	n.Handler = handler
	n.Program = f.PC.Program
	n.ScopedDepth = f.Scoped.Depth()
	n.CallerDepth = len(f.CallerChain)
	f.TryStack = append(f.TryStack, n)
	return n
}

// PopTry removes the innermost try-frame and returns it to the pool
// (spec §4.6 "attached to the pool tail").
func (f *Frame) PopTry(pool *TryNodePool) {
	if len(f.TryStack) == 0 {
		return
	}
	n := f.TryStack[len(f.TryStack)-1]
	f.TryStack = f.TryStack[:len(f.TryStack)-1]
	pool.Put(n)
}

// UnwindCatch implements the CATCH/CATCH_DETAILED instruction's own
// unwind responsibility (spec §4.3): pops for-nodes back to the try's
// recorded for-count (clearing their current/end operands) and pops the
// try-frame itself. It does NOT touch the system stack, caller chain, or
// scoped frames — those are only out of sync with the try-frame's
// recorded heights when an error unwound across RET boundaries without
// executing them, which UnwindError (not this method) repairs before
// control ever reaches CATCH. Returns the operand-stack depth the caller
// must truncate to.
func (f *Frame) UnwindCatch(progs value.ProgramInstances, tryPool *TryNodePool, forPool *ForNodePool) (depth int) {
	top := f.TryStack[len(f.TryStack)-1]
	for len(f.ForStack) > top.ForCount {
		n := f.ForStack[len(f.ForStack)-1]
		f.ForStack = f.ForStack[:len(f.ForStack)-1]
		if n.Current.Tag != value.CLEARED {
			value.Clear(&n.Current, progs)
		}
		if n.End.Tag != value.CLEARED {
			value.Clear(&n.End, progs)
		}
		forPool.Put(n)
	}
	f.TryStack = f.TryStack[:len(f.TryStack)-1]
	tryPool.Put(top)
	return top.Depth
}

// UnwindError implements spec §4.3 step 7's error-path unwind: restores
// the system stack, caller chain, and scoped-variable stack to the
// heights recorded at the innermost try-frame's TRY, decrementing
// instance counts for every caller-chain program discarded in the
// process. It leaves the try-frame itself in place and pc untouched (the
// caller sets pc to the recorded handler); CATCH later finishes the
// unwind via UnwindCatch.
func (f *Frame) UnwindError(registry *objdb.Registry, progs value.ProgramInstances) {
	top := f.TryStack[len(f.TryStack)-1]

	f.System.TruncateTo(top.CallLevel)

	for len(f.CallerChain) > top.CallerDepth {
		n := len(f.CallerChain)
		registry.DecInstances(value.ProgID(f.CallerChain[n-1]))
		f.CallerChain = f.CallerChain[:n-1]
	}

	f.Scoped.UnwindTo(top.ScopedDepth, progs)
}

// Clean implements prog_clean (spec §4.5): idempotent teardown of every
// owned resource, run when a frame terminates (normally or via abort)
// before it is returned to the free pool. registry decrements per-program
// instance counts for the caller chain and frees any refcounted values
// still live in the frame's stores; sched notifies waiters and purges
// this pid's pending timers/events.
func (f *Frame) Clean(registry *objdb.Registry, progs value.ProgramInstances, sched FrameSink) {
	f.Operand.ClearAll(progs)

	for _, pid := range f.Waitees {
		sched.RemoveWaiter(pid, f.Pid)
	}
	for _, pid := range f.Waiters {
		sched.NotifyExit(pid, f.Pid)
	}
	f.Waitees = nil
	f.Waiters = nil

	for _, p := range f.CallerChain {
		registry.DecInstances(value.ProgID(p))
	}
	f.CallerChain = nil

	for i := range f.Globals {
		if f.Globals[i].Tag != value.CLEARED {
			value.Clear(&f.Globals[i], progs)
		}
	}

	f.ProgramLocals.FreeAll(progs)
	for f.Scoped.Depth() > 0 {
		f.Scoped.Pop(progs)
	}

	f.ForStack = nil
	f.TryStack = nil
	f.System.TruncateTo(0)

	f.Debugger = nil
	f.RandomSeed = 0
	f.DialogIDs = nil
	f.SkipDeclare = false
	f.WriteOnly = false

	sched.DequeueTimers(f.Pid)
	sched.PurgeEvents(f.Pid)

	f.InstrCount = 0
	f.SliceCount = 0
	f.StartTime = 0
	f.Descriptor = -1
	f.MultitaskMode = ModeForeground
	f.PermLevel = 0
	f.Pending = PendingError{}
	f.PC = PC{}
}

// FrameSink is the scheduler-side collaborator Frame.Clean needs, kept as
// an interface so the frame package does not import sched (spec §4.5,
// §4.7).
type FrameSink interface {
	RemoveWaiter(ownerPid, waiterPid int)
	NotifyExit(waiterPid, exitedPid int)
	DequeueTimers(pid int)
	PurgeEvents(pid int)
}

// CallerProgram returns the ObjID cast of the program currently executing,
// for convenience at call sites that need an ObjID rather than a ProgID
// (the two are distinct types but share representation across the spec's
// object/program id space; see value.ObjID and value.ProgID doc comments).
func CallerProgram(p *program.Program) value.ObjID {
	if p == nil {
		return value.NOTHING
	}
	return value.ObjID(p.ID)
}
