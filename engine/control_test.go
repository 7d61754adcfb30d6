package engine

import (
	"fmt"
	"testing"

	"muckvm/config"
	"muckvm/frame"
	"muckvm/objdb"
	"muckvm/primitive"
	"muckvm/program"
	"muckvm/value"
)

// Scenario 1 (spec §8): IF pops its condition and jumps on false, falls
// through on true.
func TestIfTruthiness(t *testing.T) {
	cases := []struct {
		name string
		cond value.Inst
		want int64
	}{
		{"zero integer jumps", value.NewInt(0, 1), 100},
		{"nonzero integer falls through", value.NewInt(1, 1), 200},
		{"empty string jumps", value.NewString("", 1), 100},
		{"mark jumps", value.NewMark(1), 100},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, registry, _ := newTestEngine()
			progID := value.ObjID(10)

			code := []program.Instruction{
				{Op: program.OpPush, Value: tc.cond, Line: 1},                               // 0
				{Op: program.OpIf, Operand: 4, Line: 1},                                     // 1: jump to 4 on false
				{Op: program.OpPush, Value: value.NewInt(200, 2), Line: 2},                  // 2: fallthrough
				{Op: program.OpPrimitive, Value: value.NewPrimitive(primitive.PrimRet, 2)},  // 3
				{Op: program.OpPush, Value: value.NewInt(100, 3), Line: 3},                  // 4: jump target
				{Op: program.OpPrimitive, Value: value.NewPrimitive(primitive.PrimRet, 3)},  // 5
			}
			setupProgram(t, registry, progID, code, nil)
			player := value.ObjID(110)
			registerPlayer(registry, player)

			f := newFrame(e, 10)
			f.PC = frame.PC{Program: value.ProgID(progID), Offset: 0}

			_, top, err := e.Execute(player, f, registry)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if top.Tag != value.INTEGER || top.Int() != tc.want {
				t.Fatalf("expected %d on top, got %v", tc.want, top)
			}
		})
	}
}

// countingCompiler serves fixed source and counts Compile invocations per
// program, for the lazy-compile-on-CALL scenario.
type countingCompiler struct {
	sources  map[value.ObjID]string
	programs map[value.ObjID]*program.Program
	compiles map[value.ObjID]int
}

func (c *countingCompiler) ReadProgram(prog value.ObjID) (string, error) {
	src, ok := c.sources[prog]
	if !ok {
		return "", fmt.Errorf("no source for #%d", prog)
	}
	return src, nil
}

func (c *countingCompiler) Compile(owner, prog value.ObjID, source string) (*program.Program, error) {
	c.compiles[prog]++
	p, ok := c.programs[prog]
	if !ok {
		return nil, fmt.Errorf("no canned program for #%d", prog)
	}
	return p, nil
}

// Scenario 3 (spec §8): A calls B where B has no compiled code; the first
// CALL transparently compiles, the second does not recompile.
func TestCallLazyCompilesOnce(t *testing.T) {
	progA := value.ObjID(20)
	progB := value.ObjID(21)

	callee := &program.Program{
		ID:    value.ProgID(progB),
		Owner: progB,
		Code: []program.Instruction{
			{Op: program.OpPush, Value: value.NewInt(99, 1), Line: 1},
			{Op: program.OpPrimitive, Value: value.NewPrimitive(primitive.PrimRet, 1)},
		},
	}
	comp := &countingCompiler{
		sources:  map[value.ObjID]string{progB: ": main 99 ;"},
		programs: map[value.ObjID]*program.Program{progB: callee},
		compiles: map[value.ObjID]int{},
	}

	registry := objdb.NewRegistry(comp)
	prims := primitive.NewRegistry()
	primitive.RegisterBuiltins(prims)
	sched := &fakeScheduler{}
	e := New(registry, prims, sched, config.Default())

	code := []program.Instruction{
		{Op: program.OpPush, Value: value.NewObjRef(progB, 1), Line: 1},             // 0
		{Op: program.OpPrimitive, Value: value.NewPrimitive(primitive.PrimCall, 1)}, // 1
		{Op: program.OpPrimitive, Value: value.NewPrimitive(primitive.PrimRet, 1)},  // 2
	}
	setupProgram(t, registry, progA, code, nil)
	registry.Put(&objdb.Object{ID: progB, Typeof: objdb.TypeProgram, Owner: progB, Level: 3, Flags: objdb.FlagLinkable})

	player := value.ObjID(120)
	registerPlayer(registry, player)

	for run := 1; run <= 2; run++ {
		f := newFrame(e, 20+run)
		f.PC = frame.PC{Program: value.ProgID(progA), Offset: 0}
		_, top, err := e.Execute(player, f, registry)
		if err != nil {
			t.Fatalf("run %d: unexpected error: %v", run, err)
		}
		if top.Tag != value.INTEGER || top.Int() != 99 {
			t.Fatalf("run %d: expected callee's 99 on top, got %v", run, top)
		}
	}
	if comp.compiles[progB] != 1 {
		t.Fatalf("expected exactly one compile of the callee, got %d", comp.compiles[progB])
	}
}

// CALL by name resolves the PUBLIC table and enforces the entry's minimum
// permission level (spec §4.3 CALL semantics).
func TestCallPublicEntry(t *testing.T) {
	e, registry, _ := newTestEngine()
	progA := value.ObjID(30)
	progB := value.ObjID(31)

	calleeCode := []program.Instruction{
		{Op: program.OpPush, Value: value.NewInt(1, 1), Line: 1}, // 0: START (never reached here)
		{Op: program.OpPrimitive, Value: value.NewPrimitive(primitive.PrimRet, 1)},
		{Op: program.OpPush, Value: value.NewInt(77, 2), Line: 2}, // 2: "entry" public offset
		{Op: program.OpPrimitive, Value: value.NewPrimitive(primitive.PrimRet, 2)},
	}
	setupProgram(t, registry, progB, calleeCode, map[string]program.PublicEntry{
		"entry":  {Offset: 2, Level: 0},
		"wizcal": {Offset: 2, Level: 4},
	})

	code := []program.Instruction{
		{Op: program.OpPush, Value: value.NewObjRef(progB, 1), Line: 1},
		{Op: program.OpPush, Value: value.NewString("entry", 1), Line: 1},
		{Op: program.OpPrimitive, Value: value.NewPrimitive(primitive.PrimCall, 1)},
		{Op: program.OpPrimitive, Value: value.NewPrimitive(primitive.PrimRet, 1)},
	}
	setupProgram(t, registry, progA, code, nil)

	player := value.ObjID(130)
	registerPlayer(registry, player)

	f := newFrame(e, 30)
	f.PC = frame.PC{Program: value.ProgID(progA), Offset: 0}

	_, top, err := e.Execute(player, f, registry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if top.Tag != value.INTEGER || top.Int() != 77 {
		t.Fatalf("expected public entry result 77, got %v", top)
	}
}

// A WIZCALL entry above the caller's permission level is refused; with no
// enclosing TRY the frame crashes (spec §4.3, §7).
func TestCallWizcallPermissionDenied(t *testing.T) {
	e, registry, _ := newTestEngine()
	progA := value.ObjID(32)
	progB := value.ObjID(33)

	calleeCode := []program.Instruction{
		{Op: program.OpPush, Value: value.NewInt(77, 1), Line: 1},
		{Op: program.OpPrimitive, Value: value.NewPrimitive(primitive.PrimRet, 1)},
	}
	setupProgram(t, registry, progB, calleeCode, map[string]program.PublicEntry{
		"wizcal": {Offset: 0, Level: 4},
	})

	code := []program.Instruction{
		{Op: program.OpPush, Value: value.NewObjRef(progB, 1), Line: 1},
		{Op: program.OpPush, Value: value.NewString("wizcal", 1), Line: 1},
		{Op: program.OpPrimitive, Value: value.NewPrimitive(primitive.PrimCall, 1)},
		{Op: program.OpPrimitive, Value: value.NewPrimitive(primitive.PrimRet, 1)},
	}
	setupProgram(t, registry, progA, code, nil)

	player := value.ObjID(131)
	registerPlayer(registry, player)

	f := newFrame(e, 32)
	f.PC = frame.PC{Program: value.ProgID(progA), Offset: 0}
	f.PermLevel = 3

	outcome, _, _ := e.Execute(player, f, registry)
	if outcome != OutcomeCrashed {
		t.Fatalf("expected OutcomeCrashed on denied WIZCALL, got %v", outcome)
	}
}

// An error raised inside a callee unwinds to a try-frame recorded in the
// caller: the system stack, caller chain, instance count, and the current
// program id are all restored to their values at TRY (spec §4.3 step 7,
// §8 S2).
func TestErrorUnwindAcrossCallRestoresProgram(t *testing.T) {
	e, registry, _ := newTestEngine()
	progA := value.ObjID(40)
	progB := value.ObjID(41)

	calleeCode := []program.Instruction{
		// Pops with nothing poppable above the try's protected depth.
		{Op: program.OpPrimitive, Value: value.NewPrimitive(primitive.PrimPop, 1), Line: 1},
		{Op: program.OpPrimitive, Value: value.NewPrimitive(primitive.PrimRet, 1)},
	}
	setupProgram(t, registry, progB, calleeCode, nil)

	code := []program.Instruction{
		{Op: program.OpPush, Value: value.NewInt(0, 1), Line: 1},                     // 0: protect count
		{Op: program.OpTry, Operand: 5, Line: 1},                                     // 1: handler at 5
		{Op: program.OpPush, Value: value.NewObjRef(progB, 2), Line: 2},              // 2
		{Op: program.OpPrimitive, Value: value.NewPrimitive(primitive.PrimCall, 2)},  // 3
		{Op: program.OpPrimitive, Value: value.NewPrimitive(primitive.PrimRet, 2)},   // 4: unreachable
		{Op: program.OpPrimitive, Value: value.NewPrimitive(primitive.PrimCatch, 3)}, // 5: handler
		{Op: program.OpPrimitive, Value: value.NewPrimitive(primitive.PrimRet, 3)},   // 6
	}
	setupProgram(t, registry, progA, code, nil)

	player := value.ObjID(140)
	registerPlayer(registry, player)

	f := newFrame(e, 40)
	f.PC = frame.PC{Program: value.ProgID(progA), Offset: 0}

	outcome, top, err := e.Execute(player, f, registry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeDone {
		t.Fatalf("expected OutcomeDone, got %v", outcome)
	}
	if top.Tag != value.STRING || top.Str() != frame.ErrStackUnderflow.Error() {
		t.Fatalf("expected caught %q, got %v", frame.ErrStackUnderflow.Error(), top)
	}
	if obj := registry.Object(progB); obj.Instances != 0 {
		t.Fatalf("expected callee instance count restored to 0, got %d", obj.Instances)
	}
}

// The JMP-into-function protocol (spec §4.3, §9 skip_declare): a JMP whose
// target is a FUNCTION header arms skip_declare, so the header reuses the
// scoped frame the caller already prepared instead of pushing a new one.
func TestJmpIntoFunctionSkipsDeclare(t *testing.T) {
	e, registry, _ := newTestEngine()
	progID := value.ObjID(50)

	fn := value.NewFunction(value.FuncObj{Name: "target", NumArgs: 0, NumVars: 2, VarNames: []string{"a", "b"}}, 1)
	code := []program.Instruction{
		{Op: program.OpJmp, Operand: 1, Line: 1},                                   // 0: arms skip_declare
		{Op: program.OpFunctionHeader, Value: fn, Line: 1},                         // 1: reuses existing frame
		{Op: program.OpSvarAt, Operand: 0, Line: 2},                                // 2: read the pre-seeded slot
		{Op: program.OpPrimitive, Value: value.NewPrimitive(primitive.PrimRet, 2)}, // 3
	}
	setupProgram(t, registry, progID, code, nil)

	player := value.ObjID(150)
	registerPlayer(registry, player)

	f := newFrame(e, 50)
	f.PC = frame.PC{Program: value.ProgID(progID), Offset: 0}

	// The caller has already prepared the scope the JMP target expects.
	sf := f.Scoped.Push(2, []string{"a", "b"})
	sf.Slots[0] = value.NewInt(7, 1)

	_, top, err := e.Execute(player, f, registry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if top.Tag != value.INTEGER || top.Int() != 7 {
		t.Fatalf("expected the pre-seeded slot value 7, got %v", top)
	}
	if f.Scoped.Depth() != 0 {
		t.Fatalf("expected RET to pop the single scoped frame, depth is %d", f.Scoped.Depth())
	}
}

// Entering a FUNCTION header normally (no JMP) pushes a fresh scoped frame
// and pops args off the operand stack in reverse (spec §4.2).
func TestFunctionHeaderPopsArgs(t *testing.T) {
	e, registry, _ := newTestEngine()
	progID := value.ObjID(51)

	fn := value.NewFunction(value.FuncObj{Name: "f", NumArgs: 2, NumVars: 3, VarNames: []string{"x", "y", "tmp"}}, 1)
	code := []program.Instruction{
		{Op: program.OpPush, Value: value.NewInt(10, 1), Line: 1},                  // 0: first arg -> slot 0
		{Op: program.OpPush, Value: value.NewInt(20, 1), Line: 1},                  // 1: second arg -> slot 1
		{Op: program.OpFunctionHeader, Value: fn, Line: 1},                         // 2
		{Op: program.OpSvarAt, Operand: 1, Line: 2},                                // 3
		{Op: program.OpPrimitive, Value: value.NewPrimitive(primitive.PrimRet, 2)}, // 4
	}
	setupProgram(t, registry, progID, code, nil)

	player := value.ObjID(151)
	registerPlayer(registry, player)

	f := newFrame(e, 51)
	f.PC = frame.PC{Program: value.ProgID(progID), Offset: 0}

	_, top, err := e.Execute(player, f, registry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if top.Tag != value.INTEGER || top.Int() != 20 {
		t.Fatalf("expected slot 1 to hold the second arg 20, got %v", top)
	}
}

// The `@` and `!` primitives fetch and store through pushed variable
// references against all three stores (spec §4.2).
func TestVarFetchStorePrimitives(t *testing.T) {
	e, registry, _ := newTestEngine()
	progID := value.ObjID(52)

	code := []program.Instruction{
		{Op: program.OpPush, Value: value.NewInt(123, 1), Line: 1},                   // 0: the value
		{Op: program.OpPush, Value: value.NewVarRef(value.LVAR, 5, 1), Line: 1},      // 1: lvar ref
		{Op: program.OpPrimitive, Value: value.NewPrimitive(primitive.PrimBang, 1)},  // 2: store
		{Op: program.OpPush, Value: value.NewVarRef(value.LVAR, 5, 2), Line: 2},      // 3
		{Op: program.OpPrimitive, Value: value.NewPrimitive(primitive.PrimAt, 2)},    // 4: fetch
		{Op: program.OpPrimitive, Value: value.NewPrimitive(primitive.PrimRet, 2)},   // 5
	}
	setupProgram(t, registry, progID, code, nil)

	player := value.ObjID(152)
	registerPlayer(registry, player)

	f := newFrame(e, 52)
	f.PC = frame.PC{Program: value.ProgID(progID), Offset: 0}

	_, top, err := e.Execute(player, f, registry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if top.Tag != value.INTEGER || top.Int() != 123 {
		t.Fatalf("expected fetched value 123, got %v", top)
	}
}
