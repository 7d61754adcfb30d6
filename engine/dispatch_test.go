package engine

import (
	"testing"

	"muckvm/config"
	"muckvm/frame"
	"muckvm/objdb"
	"muckvm/primitive"
	"muckvm/program"
	"muckvm/value"
)

type fakeScheduler struct {
	delays   []int
	reads    []int
	waitfors [][]string
	removed  []int
	notified []int
	dequeued []int
	purged   []int
}

func (s *fakeScheduler) EnqueueDelay(pid int, delaySeconds int, f *frame.Frame) { s.delays = append(s.delays, pid) }
func (s *fakeScheduler) EnqueueRead(pid int, descr int, f *frame.Frame)         { s.reads = append(s.reads, pid) }
func (s *fakeScheduler) RegisterWaitFor(f *frame.Frame, names []string)         { s.waitfors = append(s.waitfors, names) }
func (s *fakeScheduler) RemoveWaiter(ownerPid, waiterPid int)                   { s.removed = append(s.removed, waiterPid) }
func (s *fakeScheduler) NotifyExit(waiterPid, exitedPid int)                    { s.notified = append(s.notified, exitedPid) }
func (s *fakeScheduler) DequeueTimers(pid int)                                  { s.dequeued = append(s.dequeued, pid) }
func (s *fakeScheduler) PurgeEvents(pid int)                                    { s.purged = append(s.purged, pid) }

func newTestEngine() (*Engine, *objdb.Registry, *fakeScheduler) {
	registry := objdb.NewRegistry(nil)
	prims := primitive.NewRegistry()
	primitive.RegisterBuiltins(prims)
	sched := &fakeScheduler{}
	cfg := config.Default()
	return New(registry, prims, sched, cfg), registry, sched
}

func setupProgram(t *testing.T, registry *objdb.Registry, id value.ObjID, code []program.Instruction, public map[string]program.PublicEntry) {
	t.Helper()
	registry.Put(&objdb.Object{ID: id, Typeof: objdb.TypeProgram, Owner: id, Level: 3, TrueWizard: true, Flags: objdb.FlagLinkable})
	registry.PutProgram(value.ProgID(id), &program.Program{
		ID:     value.ProgID(id),
		Owner:  id,
		Start:  0,
		Code:   code,
		Public: public,
	})
}

func newFrame(e *Engine, pid int) *frame.Frame {
	f := e.AcquireFrame(pid)
	f.System.Push(frame.ReturnAddr{Program: value.ProgID(value.NOTHING), PC: -1})
	return f
}

// registerPlayer adds a valid player object so Execute's liveness check
// (spec §4.3 step 1) doesn't immediately tear the frame down.
func registerPlayer(registry *objdb.Registry, id value.ObjID) {
	registry.Put(&objdb.Object{ID: id, Typeof: objdb.TypePlayer, Owner: id, Level: 3})
}

// Scenario 2 (spec §8): INT 1, TRY handler, INT 2, POP, POP; the second
// POP must raise a stack protection fault, unwind to the handler, and
// push "Stack protection fault" as the caught string.
func TestStackProtectionFault(t *testing.T) {
	e, registry, _ := newTestEngine()
	progID := value.ObjID(1)

	code := []program.Instruction{
		{Op: program.OpPush, Value: value.NewInt(1, 1)},                             // 0: the protected value
		{Op: program.OpPush, Value: value.NewInt(0, 1)},                             // 1: TRY's protect-count operand
		{Op: program.OpTry, Operand: 6, Line: 1},                                    // 2: depth = atop(1) - 0 = 1
		{Op: program.OpPush, Value: value.NewInt(2, 1)},                             // 3
		{Op: program.OpPrimitive, Value: value.NewPrimitive(primitive.PrimPop, 1)},  // 4: pops the INT 2 fine
		{Op: program.OpPrimitive, Value: value.NewPrimitive(primitive.PrimPop, 1)},  // 5: faults at depth 1
		{Op: program.OpPrimitive, Value: value.NewPrimitive(primitive.PrimCatch, 1)}, // 6: handler
		{Op: program.OpPrimitive, Value: value.NewPrimitive(primitive.PrimRet, 1)},  // 7
	}

	setupProgram(t, registry, progID, code, nil)
	player := value.ObjID(101)
	registerPlayer(registry, player)

	f := newFrame(e, 1)
	f.PC = frame.PC{Program: value.ProgID(progID), Offset: 0}

	outcome, top, err := e.Execute(player, f, registry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeDone {
		t.Fatalf("expected OutcomeDone, got %v", outcome)
	}
	if top.Tag != value.STRING || top.Str() != frame.ErrStackProtectionFault.Error() {
		t.Fatalf("expected caught message %q, got %v", frame.ErrStackProtectionFault.Error(), top)
	}
}

// TRY/CATCH idempotence on empty body (spec §8 Laws): TRY N ... CATCH
// with no intermediate operations yields operand height unchanged and
// pushes an empty error STRING, never an integer.
func TestCatchPushesEmptyStringWhenNoError(t *testing.T) {
	e, registry, _ := newTestEngine()
	progID := value.ObjID(5)

	code := []program.Instruction{
		{Op: program.OpPush, Value: value.NewInt(0, 1)},                            // 0: TRY's protect-count operand
		{Op: program.OpTry, Operand: 2, Line: 1},                                   // 1: no body between TRY and CATCH
		{Op: program.OpPrimitive, Value: value.NewPrimitive(primitive.PrimCatch, 1)}, // 2
		{Op: program.OpPrimitive, Value: value.NewPrimitive(primitive.PrimRet, 1)},  // 3
	}
	setupProgram(t, registry, progID, code, nil)
	player := value.ObjID(105)
	registerPlayer(registry, player)

	f := newFrame(e, 5)
	f.PC = frame.PC{Program: value.ProgID(progID), Offset: 0}
	heightBeforeTry := f.Operand.Height()

	outcome, top, err := e.Execute(player, f, registry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeDone {
		t.Fatalf("expected OutcomeDone, got %v", outcome)
	}
	if top.Tag != value.STRING {
		t.Fatalf("expected CATCH to push a STRING, got tag %v (value %v)", top.Tag, top)
	}
	if top.Str() != "" {
		t.Fatalf("expected an empty error string, got %q", top.Str())
	}
	if heightBeforeTry != 0 {
		t.Fatalf("test setup assumption violated: expected empty operand stack before TRY, got height %d", heightBeforeTry)
	}
}

// EXEC/RET round-trip law (spec §8): EXEC followed by RET at matching
// depth restores pc, stack tops, and program id.
func TestExecRetRoundTrip(t *testing.T) {
	e, registry, _ := newTestEngine()
	progID := value.ObjID(2)

	code := []program.Instruction{
		{Op: program.OpExec, Operand: 3, Line: 1}, // 0: call subroutine at 3
		{Op: program.OpPush, Value: value.NewInt(42, 2), Line: 2}, // 1: after return
		{Op: program.OpPrimitive, Value: value.NewPrimitive(primitive.PrimRet, 2)}, // 2: outermost RET -> done
		{Op: program.OpPush, Value: value.NewInt(7, 3), Line: 3}, // 3: subroutine body
		{Op: program.OpPrimitive, Value: value.NewPrimitive(primitive.PrimRet, 3)}, // 4: return from subroutine
	}
	setupProgram(t, registry, progID, code, nil)
	player := value.ObjID(102)
	registerPlayer(registry, player)

	f := newFrame(e, 2)
	f.PC = frame.PC{Program: value.ProgID(progID), Offset: 0}

	outcome, top, err := e.Execute(player, f, registry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeDone {
		t.Fatalf("expected OutcomeDone, got %v", outcome)
	}
	if top.Tag != value.INTEGER || top.Int() != 42 {
		t.Fatalf("expected top-of-stack INTEGER 42 after round-trip, got %v", top)
	}
}

// Scenario 6 (spec §8): a hard abort (here a corrupted instruction's
// FatalError) bypasses an active try-frame;
// the unwind path does not divert to the handler, and the frame is
// cleaned (the caller observes a crashed outcome, not a caught value).
func TestHardAbortBypassesTry(t *testing.T) {
	e, registry, _ := newTestEngine()
	progID := value.ObjID(3)

	code := []program.Instruction{
		{Op: program.OpTry, Operand: 2, Line: 1},
		{Op: program.OpCleared, Line: 1}, // corrupted instruction -> FatalError
		{Op: program.OpPrimitive, Value: value.NewPrimitive(primitive.PrimCatch, 1)},
	}
	setupProgram(t, registry, progID, code, nil)
	player := value.ObjID(103)
	registerPlayer(registry, player)

	f := newFrame(e, 3)
	f.PC = frame.PC{Program: value.ProgID(progID), Offset: 0}
	f.Operand.Push(value.NewInt(0, 1))

	outcome, _, err := e.Execute(player, f, registry)
	if outcome != OutcomeCrashed {
		t.Fatalf("expected OutcomeCrashed, got %v (err=%v)", outcome, err)
	}
	if err == nil {
		t.Fatalf("expected a FatalError")
	}
	if _, ok := err.(*FatalError); !ok {
		t.Fatalf("expected *FatalError, got %T", err)
	}
}

// Scenario 4 (spec §8): with slice=100, an infinite FOREGROUND loop
// cooperatively yields exactly at the 401st instruction (lifetime > 400
// and this burst's slice count >= 100), saving state and handing the
// frame to the scheduler rather than continuing or erroring.
func TestCooperativeYieldAfter401Instructions(t *testing.T) {
	registry := objdb.NewRegistry(nil)
	prims := primitive.NewRegistry()
	primitive.RegisterBuiltins(prims)
	sched := &fakeScheduler{}
	cfg := config.Default()
	cfg.InstrSlice = 100
	e := New(registry, prims, sched, cfg)

	progID := value.ObjID(4)
	code := []program.Instruction{
		{Op: program.OpPush, Value: value.NewInt(1, 1), Line: 1},                   // 0: push a throwaway value
		{Op: program.OpPrimitive, Value: value.NewPrimitive(primitive.PrimPop, 1)}, // 1: discard it
		{Op: program.OpJmp, Operand: 0, Line: 1},                                   // 2: loop forever
	}
	setupProgram(t, registry, progID, code, nil)
	player := value.ObjID(104)
	registerPlayer(registry, player)

	f := newFrame(e, 4)
	f.PC = frame.PC{Program: value.ProgID(progID), Offset: 0}
	f.MultitaskMode = frame.ModeForeground

	outcome, _, err := e.Execute(player, f, registry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeSuspended {
		t.Fatalf("expected OutcomeSuspended, got %v", outcome)
	}
	if f.InstrCount != 401 {
		t.Fatalf("expected to yield exactly at instruction 401, got %d", f.InstrCount)
	}
	if len(sched.delays) != 1 || sched.delays[0] != f.Pid {
		t.Fatalf("expected exactly one EnqueueDelay call for pid %d, got %v", f.Pid, sched.delays)
	}

	// Re-entry: SliceCount resets to 0 at the top of the next Execute
	// call even though InstrCount keeps accumulating (spec §4.3 step 3);
	// resuming immediately should not instantly re-yield.
	if outcome, _, err := e.Execute(player, f, registry); err != nil {
		t.Fatalf("unexpected error on resume: %v", err)
	} else if outcome != OutcomeSuspended {
		t.Fatalf("expected second OutcomeSuspended after another full slice, got %v", outcome)
	}
	if f.SliceCount != 100 {
		t.Fatalf("expected the resumed burst to yield again after exactly one slice (100), got %d", f.SliceCount)
	}
}
