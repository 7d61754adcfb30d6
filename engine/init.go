package engine

import (
	"muckvm/frame"
	"muckvm/objdb"
	"muckvm/program"
	"muckvm/value"
)

// InitArgs bundles the parameters interp(...) takes (spec §4.4).
type InitArgs struct {
	Player    value.ObjID
	Location  value.ObjID
	Source    value.ObjID // NOTHING if uncontrolled (e.g. a timer firing)
	Program   value.ObjID
	CmdName   string
	MatchArgs string
	Mode      frame.MultitaskMode
}

// Init allocates or recycles a frame and populates it per spec §4.4:
// caller chain, the sentinel system-stack entry that makes the dispatcher
// loop terminate on the outermost RET, global slots 0-3, and the seeded
// argument. pid <= 0 draws the next id from the engine's sequence; a
// positive pid is a forced value (timer re-entry reusing an old id). It
// returns nil with a notification-worthy error if permission checks fail
// up front.
func (e *Engine) Init(pid int, args InitArgs) (*frame.Frame, error) {
	if pid <= 0 {
		pid = e.AllocPid()
	}
	prog := e.Registry.Object(args.Program)
	if !prog.Valid() {
		return nil, NewRuntimeError("no such program")
	}
	owner := e.Registry.Object(prog.Owner)
	if !owner.Valid() || prog.Level == 0 || owner.Level == 0 {
		return nil, NewRuntimeError("permission denied: program or owner has no permission level")
	}

	if args.Source != value.NOTHING {
		src := e.Registry.Object(args.Source)
		if src.Valid() {
			srcOwner := e.Registry.Object(src.Owner)
			authorized := srcOwner != nil && srcOwner.TrueWizard
			if !authorized && prog.Flags.Has(objdb.FlagLinkable) {
				authorized = true
			}
			if !authorized {
				return nil, NewRuntimeError("permission denied: source not authorized to link to program")
			}
		}
	}

	f := e.AcquireFrame(pid)
	f.CallerChain = []value.ObjID{args.Source, args.Program}
	f.System.Push(frame.ReturnAddr{Program: value.ProgID(value.NOTHING), PC: -1})
	f.PC = frame.PC{Program: value.ProgID(args.Program), Offset: 0}
	f.MultitaskMode = args.Mode
	f.PermLevel = prog.Level
	if prog.Level > owner.Level {
		f.PermLevel = owner.Level
	}

	// A recycled frame's globals are CLEARED-poisoned from prog_clean;
	// every slot goes back to integer 0 before 0-3 are seeded.
	for i := range f.Globals {
		f.Globals[i] = value.Zero()
	}
	f.Globals[0] = value.NewObjRef(args.Player, 0)
	f.Globals[1] = value.NewObjRef(args.Location, 0)
	f.Globals[2] = value.NewObjRef(args.Source, 0)
	f.Globals[3] = value.NewString(args.CmdName, 0)

	if err := f.Operand.Push(value.NewString(args.MatchArgs, 0)); err != nil {
		return nil, err
	}

	// writeonly (spec §4.4): source==NOTHING, source is a room, source is
	// an offline player, or the invoking player carries READMODE.
	src := e.Registry.Object(args.Source)
	plr := e.Registry.Object(args.Player)
	f.WriteOnly = args.Source == value.NOTHING ||
		(src != nil && src.Typeof == objdb.TypeRoom) ||
		(src != nil && src.Typeof == objdb.TypePlayer && !src.Online) ||
		(plr != nil && plr.Flags.Has(objdb.FlagReadMode))

	compiled, err := e.Registry.EnsureCompiled(prog.Owner, args.Program)
	if err != nil {
		return nil, err
	}
	f.PC.Offset = compiled.Start

	return f, nil
}

// currentProgram resolves the compiled program for f.PC.Program, invoking
// lazy compilation if necessary (spec §4.3 CALL semantics, reused here so
// a frame resumed after a scheduler-driven re-entry re-resolves code the
// same way).
func (e *Engine) currentProgram(f *frame.Frame) (*program.Program, error) {
	obj := e.Registry.Object(value.ObjID(f.PC.Program))
	owner := value.ObjID(f.PC.Program)
	if obj != nil {
		owner = obj.Owner
	}
	return e.Registry.EnsureCompiled(owner, value.ObjID(f.PC.Program))
}
