// Package engine implements the instruction dispatcher: decode/dispatch,
// budget accounting, cooperative preemption, the debugger tick, control
// flow (CALL/RET/TRY/CATCH), and frame lifecycle (spec §4.3-4.9). Grounded
// on the teacher's vm/vm.go (Step/Execute/HandleError loop shape) and
// vm/opcodes.go (opcode table style).
package engine

import (
	"muckvm/config"
	"muckvm/frame"
	"muckvm/objdb"
	"muckvm/primitive"
	"muckvm/value"
)

// Engine is the process-wide dispatcher state (spec §9 "Global mutable
// state ... When rearchitecting, enclose them in a single VM object
// passed explicitly; the dispatcher becomes a method" — this struct is
// exactly that rearchitecture).
type Engine struct {
	Registry *objdb.Registry
	Prims    *primitive.Registry
	Config   config.Tunables

	ForPool   *frame.ForNodePool
	TryPool   *frame.TryNodePool
	FramePool *frame.FreeFramePool

	Sched Scheduler

	// IO is the host I/O layer; nil for headless hosts (crash reports and
	// input-block bookkeeping are then skipped).
	IO IO

	// pidSeq backs AllocPid (spec §4.4: "pid (sequence from a per-process
	// counter or a forced value)").
	pidSeq int
}

// New builds an Engine wired against registry/prims/sched with cfg's
// tunables, sizing the frame pool to cfg.FreeFramesPool (spec §6
// tp_free_frames_pool).
func New(registry *objdb.Registry, prims *primitive.Registry, sched Scheduler, cfg config.Tunables) *Engine {
	return &Engine{
		Registry:  registry,
		Prims:     prims,
		Config:    cfg,
		ForPool:   &frame.ForNodePool{},
		TryPool:   &frame.TryNodePool{},
		FramePool: frame.NewFreeFramePool(cfg.FreeFramesPool),
		Sched:     sched,
	}
}

// AllocPid returns the next process id from the per-engine sequence,
// always positive: once the counter overflows it restarts at 1.
func (e *Engine) AllocPid() int {
	e.pidSeq++
	if e.pidSeq <= 0 {
		e.pidSeq = 1
	}
	return e.pidSeq
}

// AcquireFrame returns a pooled frame ready for a new pid, or allocates a
// fresh one if the pool is empty (spec §4.6).
func (e *Engine) AcquireFrame(pid int) *frame.Frame {
	if f := e.FramePool.Get(); f != nil {
		f.Pid = pid
		return f
	}
	return frame.NewFrame(pid, e.Config.StackSize, e.Config.MaxVar)
}

// ReleaseFrame runs prog_clean on f and returns it to the pool (spec
// §4.5, §4.6). A frame already on the free list is left untouched, so a
// double release doesn't re-run waiter notification or re-pool nodes.
func (e *Engine) ReleaseFrame(f *frame.Frame, progs value.ProgramInstances) {
	if e.FramePool.Contains(f) {
		return
	}
	for _, n := range f.ForStack {
		if n.Current.Tag != value.CLEARED {
			value.Clear(&n.Current, progs)
		}
		if n.End.Tag != value.CLEARED {
			value.Clear(&n.End, progs)
		}
		e.ForPool.Put(n)
	}
	f.ForStack = nil
	for _, n := range f.TryStack {
		e.TryPool.Put(n)
	}
	f.TryStack = nil
	f.Clean(e.Registry, progs, e.Sched)
	e.FramePool.Put(f)
}
