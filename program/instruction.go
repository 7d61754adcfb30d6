// Package program defines the compiled representation the engine
// executes: a flat instruction stream plus the metadata (line table,
// PUBLIC entries, START offset) a dispatcher needs. The compiler that
// produces this from source text is an external collaborator (spec §1,
// §6) — this package only defines the shape it must hand back.
package program

import (
	"fmt"

	"muckvm/value"
)

// OpCode identifies the action the dispatcher takes for an instruction.
// The push-type value tags (INTEGER, FLOAT, OBJECT_REF, STRING, ARRAY,
// ADDRESS, LOCK, MARK, VAR, LVAR, SVAR) all share one action — push a
// copy of the carried Inst — so they collapse to a single OpPush opcode
// here; the carried Inst's own Tag still distinguishes them for anyone
// inspecting the instruction (disassembly, the debugger listing).
type OpCode byte

const (
	OpPush           OpCode = iota // push Copy(Instruction.Value); advance pc
	OpLvarAt                       // push copy of program-local slot[Operand]
	OpLvarAtClear                  // as OpLvarAt, then clear and zero the slot
	OpLvarBang                     // pop; clear slot[Operand]; store popped value
	OpSvarAt                       // push copy of scoped-level-0 slot[Operand]
	OpSvarAtClear                  // as OpSvarAt, then clear and zero the slot
	OpSvarBang                     // pop; clear scoped-level-0 slot[Operand]; store popped value
	OpFunctionHeader                // push/reuse a scoped frame per Instruction.Value.Function()
	OpIf                            // pop; jump to Operand if false, else advance
	OpExec                          // push return address; jump to Operand in same program
	OpJmp                           // jump to Operand; arms skip_declare if target is a function header
	OpTry                           // pop N; push try-frame over the top N operand slots; handler = Operand
	OpPrimitive                     // sub-dispatch primitive number Instruction.Value.PrimitiveNumber()
	OpCleared                       // corrupted instruction; always a hard abort
)

func (op OpCode) String() string {
	switch op {
	case OpPush:
		return "PUSH"
	case OpLvarAt:
		return "LVAR_AT"
	case OpLvarAtClear:
		return "LVAR_AT_CLEAR"
	case OpLvarBang:
		return "LVAR_BANG"
	case OpSvarAt:
		return "SVAR_AT"
	case OpSvarAtClear:
		return "SVAR_AT_CLEAR"
	case OpSvarBang:
		return "SVAR_BANG"
	case OpFunctionHeader:
		return "FUNCTION"
	case OpIf:
		return "IF"
	case OpExec:
		return "EXEC"
	case OpJmp:
		return "JMP"
	case OpTry:
		return "TRY"
	case OpPrimitive:
		return "PRIMITIVE"
	case OpCleared:
		return "CLEARED"
	default:
		return "UNKNOWN"
	}
}

// Instruction is one slot of a compiled program.
type Instruction struct {
	Op      OpCode
	Value   value.Inst // push template / primitive number / function header metadata
	Operand int        // jump target, call target, or LVAR/SVAR slot index depending on Op
	Line    int
}

// Text renders the instruction for error reports and debugger listings
// (the errorinst field surfaced by CATCH_DETAILED).
func (i Instruction) Text() string {
	switch i.Op {
	case OpPush:
		return i.Value.String()
	case OpLvarAt, OpLvarAtClear, OpLvarBang, OpSvarAt, OpSvarAtClear, OpSvarBang:
		return fmt.Sprintf("%s %d", i.Op, i.Operand)
	case OpFunctionHeader:
		if fn := i.Value.Function(); fn != nil {
			return fmt.Sprintf("FUNCTION %s", fn.Name)
		}
		return "FUNCTION"
	case OpIf, OpExec, OpJmp, OpTry:
		return fmt.Sprintf("%s ->%d", i.Op, i.Operand)
	case OpPrimitive:
		return fmt.Sprintf("PRIMITIVE %d", i.Value.PrimitiveNumber())
	default:
		return i.Op.String()
	}
}
