package engine

import (
	"fmt"
	"strconv"
	"strings"

	"muckvm/frame"
	"muckvm/objdb"
	"muckvm/value"
)

// Breakpoint evaluates to true when every populated clause matches, per
// spec §4.3 step 4's "conjunction of five optional clauses" (the spec
// names five; DebuggerState carries a sixth, LineCount, mirrored here as
// the line-count countdown clause — both countdowns are listed together
// in the prose as one family of "count reached" conditions).
func breakpointMatches(d *frame.DebuggerState, f *frame.Frame, line int) bool {
	// A breakpoint with no armed clause never matches; the conjunction
	// below only ranges over the populated ones.
	if !d.HasStopPC && !d.HasStopLine && !d.HasStopDepth && !d.HasStopProg &&
		!d.HasLineCount && !d.HasPCCount {
		return false
	}
	if d.HasStopPC && d.StopPC != f.PC.Offset {
		return false
	}
	if d.HasStopLine && (line != d.StopLine || line == d.LastLine) {
		return false
	}
	// Matches once the call depth has shrunk back to the recorded level
	// (the "finish" stop).
	if d.HasStopDepth && len(f.CallerChain) > d.StopDepth {
		return false
	}
	if d.HasStopProg && d.StopProgram != f.PC.Program {
		return false
	}
	if d.HasLineCount {
		if line == d.LastLine {
			return false
		}
		d.LineCount--
		if d.LineCount > 0 {
			return false
		}
	}
	if d.HasPCCount {
		d.PCCount--
		if d.PCCount > 0 {
			return false
		}
	}
	return true
}

// debuggerTick implements spec §4.3 step 4: decides whether f should
// suspend for a READ event on its controlling descriptor. Returns
// stop=false when debugging isn't armed, no breakpoint matches, or the
// match was consumed by Bypass without stopping.
func (e *Engine) debuggerTick(f *frame.Frame) (stop bool, descr int) {
	d := f.Debugger
	if d == nil || !d.Enabled {
		return false, 0
	}
	if f.MultitaskMode == frame.ModeBackground {
		return false, 0
	}

	prog := e.Registry.Object(value.ObjID(f.PC.Program))
	if prog == nil {
		return false, 0
	}
	armed := prog.Flags.Has(objdb.FlagZombie) || d.Enabled
	if !armed {
		return false, 0
	}
	if !e.invokerControls(f, prog) {
		return false, 0
	}

	currentLine := 0
	if prg := e.Registry.Program(f.PC.Program); prg != nil {
		currentLine = prg.LineForIP(f.PC.Offset)
	}

	if !breakpointMatches(d, f, currentLine) {
		d.LastLine = currentLine
		return false, 0
	}
	d.LastLine = currentLine

	if d.Bypass {
		d.Bypass = false
		return false, 0
	}

	return true, f.Descriptor
}

// invokerControls reports whether the invoking player (globals[0], per
// spec §4.4 frame init) controls prog: owns it, or is a true wizard.
func (e *Engine) invokerControls(f *frame.Frame, prog *objdb.Object) bool {
	if f.Globals[0].Tag != value.OBJECT_REF {
		return false
	}
	player := f.Globals[0].ObjRef()
	if player == prog.Owner {
		return true
	}
	playerObj := e.Registry.Object(player)
	return playerObj != nil && playerObj.TrueWizard
}

// DebugCommand processes one debugger console line for a frame stopped at
// a breakpoint. It returns the lines to show the invoker and whether the
// frame should resume execution (via the scheduler re-entering Execute).
// The command vocabulary: step/next [n] advance n source lines, istep [n]
// advances n instructions, cont keeps the armed stop clauses and resumes
// past the match pending at the current position (Bypass),
// finish runs until the current call returns, break <line> arms a line
// breakpoint, delete disarms it, where prints the call chain, stack [n]
// prints the top operand entries, list [start [end]] prints source.
func (e *Engine) DebugCommand(f *frame.Frame, cmd string) (output []string, resume bool) {
	d := f.Debugger
	if d == nil {
		return []string{"Debugger is not active."}, true
	}

	fields := strings.Fields(cmd)
	verb := ""
	if len(fields) > 0 {
		verb = strings.ToLower(fields[0])
	}

	count := 1
	if len(fields) > 1 {
		if n, err := strconv.Atoi(fields[1]); err == nil && n > 0 {
			count = n
		}
	}

	switch verb {
	case "", "step", "next":
		clearStops(d)
		d.LineCount = count
		d.HasLineCount = true
		return nil, true

	case "istep":
		clearStops(d)
		d.PCCount = count
		d.HasPCCount = true
		return nil, true

	case "cont":
		// Armed breakpoints stay; Bypass consumes the match still
		// pending at the current position so cont actually moves.
		d.Bypass = true
		return nil, true

	case "finish":
		clearStops(d)
		d.StopDepth = len(f.CallerChain) - 1
		d.HasStopDepth = true
		return nil, true

	case "break":
		if len(fields) < 2 {
			return []string{"Usage: break <line>"}, false
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return []string{"Usage: break <line>"}, false
		}
		d.StopLine = n
		d.HasStopLine = true
		return []string{fmt.Sprintf("Breakpoint set at line %d.", n)}, false

	case "delete":
		d.HasStopLine = false
		d.HasStopPC = false
		return []string{"Breakpoints cleared."}, false

	case "where":
		return e.backtrace(f), false

	case "stack":
		return e.debugStack(f, count), false

	case "list":
		start := 0
		end := 0
		if len(fields) > 1 {
			start, _ = strconv.Atoi(fields[1])
		}
		if len(fields) > 2 {
			end, _ = strconv.Atoi(fields[2])
		}
		return e.debugList(f, start, end), false

	case "quit":
		d.Enabled = false
		clearStops(d)
		return []string{"Debugger detached."}, true

	default:
		return []string{fmt.Sprintf("Unknown debugger command %q. Commands: step next istep cont finish break delete where stack list quit", verb)}, false
	}
}

func clearStops(d *frame.DebuggerState) {
	d.HasStopPC = false
	d.HasStopLine = false
	d.HasStopDepth = false
	d.HasStopProg = false
	d.HasLineCount = false
	d.HasPCCount = false
}

// debugStack renders the top n operand-stack entries, innermost first.
func (e *Engine) debugStack(f *frame.Frame, n int) []string {
	height := f.Operand.Height()
	if n > height {
		n = height
	}
	if n == 0 {
		return []string{"*empty stack*"}
	}
	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		v, err := f.Operand.Peek(i)
		if err != nil {
			break
		}
		lines = append(lines, fmt.Sprintf("%4d) %s", height-i, v.String()))
	}
	return lines
}

// debugList renders program source lines [start, end]; with no range it
// shows a window around the current line. Needs the compiled program to
// carry its source (Program.Source); compilers that drop source text get
// a "no source" notice instead.
func (e *Engine) debugList(f *frame.Frame, start, end int) []string {
	prg := e.Registry.Program(f.PC.Program)
	if prg == nil || len(prg.Source) == 0 {
		return []string{"Program source is not available."}
	}
	current := prg.LineForIP(f.PC.Offset)
	if start <= 0 {
		start = current - 5
		if start < 1 {
			start = 1
		}
	}
	if end <= 0 {
		end = start + 10
	}
	if end > len(prg.Source) {
		end = len(prg.Source)
	}
	var lines []string
	for ln := start; ln <= end; ln++ {
		marker := ' '
		if ln == current {
			marker = '>'
		}
		lines = append(lines, fmt.Sprintf("%c%4d: %s", marker, ln, prg.Source[ln-1]))
	}
	return lines
}
