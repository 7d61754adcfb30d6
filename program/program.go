package program

import "muckvm/value"

// PublicEntry describes one PUBLIC/WIZCALL table row: a name a foreign
// program may CALL, the offset it jumps to, and the minimum permission
// level the caller must hold (0 for a plain PUBLIC entry).
type PublicEntry struct {
	Offset int
	Level  int
}

// Program is the compiled form of one program object. The external
// compiler (spec §6, read_program/do_compile) produces these; the engine
// only consumes them.
type Program struct {
	ID     value.ProgID
	Owner  value.ObjID
	Start  int // START instruction offset
	Code   []Instruction
	Source []string // source lines, 1-indexed by Line, for error text and the debugger listing
	Public map[string]PublicEntry

	// Fingerprint identifies the source body this Code was compiled from,
	// so a lazy-compile caller can tell "never compiled" apart from
	// "compiled against stale source" without re-invoking the compiler
	// speculatively. See objdb.Registry.EnsureCompiled.
	Fingerprint [32]byte
}

// Compiled reports whether this program has been compiled at all.
func (p *Program) Compiled() bool {
	return p != nil && len(p.Code) > 0
}

// LineForIP returns the source line for instruction offset ip, or 0 if
// out of range.
func (p *Program) LineForIP(ip int) int {
	if p == nil || ip < 0 || ip >= len(p.Code) {
		return 0
	}
	return p.Code[ip].Line
}

// LookupPublic resolves a PUBLIC/WIZCALL entry by name, case-sensitively
// (the compiler is responsible for case-folding at compile time).
func (p *Program) LookupPublic(name string) (PublicEntry, bool) {
	if p == nil || p.Public == nil {
		return PublicEntry{}, false
	}
	e, ok := p.Public[name]
	return e, ok
}
