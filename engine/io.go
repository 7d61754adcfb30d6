package engine

import (
	"fmt"

	"muckvm/frame"
	"muckvm/objdb"
	"muckvm/value"
)

// IO is the engine's view of the host I/O layer (spec §6 "Toward I/O"):
// delivering one line to a player and marking input-routing state when a
// frame parks on READ or EVENT_WAITFOR. A nil Engine.IO is valid; every
// call site goes through the nil-safe helpers below, so headless hosts
// (tests, timers) need not supply one.
type IO interface {
	// Notify delivers one line of text to player (notify_nolisten).
	Notify(player value.ObjID, text string)

	// SetBlock marks player's input as captured by a parked frame
	// (PLAYER_SET_BLOCK): typed lines feed the frame, not the command
	// parser, until the frame resumes or dies.
	SetBlock(player value.ObjID, blocked bool)

	// SetCurrProg records which program currently owns player's input
	// (PLAYER_SET_CURR_PROG), so the host can route a typed line to the
	// right parked READ.
	SetCurrProg(player value.ObjID, prog value.ProgID)
}

func (e *Engine) notify(player value.ObjID, text string) {
	if e.IO != nil && player != value.NOTHING {
		e.IO.Notify(player, text)
	}
}

func (e *Engine) setBlock(player value.ObjID, blocked bool) {
	if e.IO != nil && player != value.NOTHING {
		e.IO.SetBlock(player, blocked)
	}
}

func (e *Engine) setCurrProg(player value.ObjID, prog value.ProgID) {
	if e.IO != nil && player != value.NOTHING {
		e.IO.SetCurrProg(player, prog)
	}
}

// interpErr writes the user-visible crash report (spec §7): a notice
// whose wording depends on whether the invoking player owns the program,
// then "<prog-name>(#<ref>), line <n>; <msg1>: <msg2>", then a backtrace
// when the player controls the program.
func (e *Engine) interpErr(f *frame.Frame, msg1, msg2 string) {
	player := invoker(f)
	if player == value.NOTHING {
		return
	}

	progID := value.ObjID(f.Pending.Program)
	if progID == value.ObjID(0) && f.PC.Program != 0 {
		progID = value.ObjID(f.PC.Program)
	}
	prog := e.Registry.Object(progID)

	owner := value.NOTHING
	ownerName := "the owner"
	progName := fmt.Sprintf("#%d", progID)
	if prog != nil {
		owner = prog.Owner
		if prog.Name != "" {
			progName = prog.Name
		}
		if o := e.Registry.Object(prog.Owner); o != nil && o.Name != "" {
			ownerName = o.Name
		}
	}

	if owner == player {
		e.notify(player, "Program Error. Your program just got the following error.")
	} else {
		e.notify(player, fmt.Sprintf(
			"Programmer Error. Please tell %s what you typed, and the following message.", ownerName))
	}
	line := f.Pending.Line
	e.notify(player, fmt.Sprintf("%s(#%d), line %d; %s: %s", progName, progID, line, msg1, msg2))

	if e.playerControls(player, prog) {
		for _, l := range e.backtrace(f) {
			e.notify(player, l)
		}
	}
}

// backtrace renders the caller chain innermost-first, one line per
// program, for the crash report.
func (e *Engine) backtrace(f *frame.Frame) []string {
	if len(f.CallerChain) == 0 {
		return nil
	}
	lines := []string{"Backtrace:"}
	for i := len(f.CallerChain) - 1; i >= 0; i-- {
		id := f.CallerChain[i]
		name := fmt.Sprintf("#%d", id)
		if obj := e.Registry.Object(id); obj != nil && obj.Name != "" {
			name = fmt.Sprintf("%s(#%d)", obj.Name, id)
		}
		depth := len(f.CallerChain) - i
		lines = append(lines, fmt.Sprintf("%4d) %s", depth, name))
	}
	return lines
}

func (e *Engine) playerControls(player value.ObjID, prog *objdb.Object) bool {
	if prog == nil {
		return false
	}
	if player == prog.Owner {
		return true
	}
	p := e.Registry.Object(player)
	return p != nil && p.TrueWizard
}

// invoker returns the invoking player recorded in global slot 0 at frame
// initialization (spec §4.4), or NOTHING for frames with no player.
func invoker(f *frame.Frame) value.ObjID {
	if f.Globals[0].Tag == value.OBJECT_REF {
		return f.Globals[0].ObjRef()
	}
	return value.NOTHING
}
