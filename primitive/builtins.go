package primitive

import (
	"muckvm/value"
)

// Representative primitive numbers, grounded on the teacher's
// builtins/registry.go naming scheme (one constant per registered name).
// A production deployment wires in the rest of the library the same way;
// spec §1 places the full builtin surface out of scope.
const (
	PrimAdd     = firstLibraryPrimitive + iota // integer addition
	PrimSub                                    // integer subtraction
	PrimDup                                    // duplicate top of stack
	PrimPop                                    // discard top of stack
	PrimStrcat                                 // string concatenation
	PrimStrlen                                 // string length
	PrimAt                                     // fetch through a VAR/LVAR/SVAR reference
	PrimBang                                   // store through a VAR/LVAR/SVAR reference
)

func popInt(c *Context) (int64, error) {
	v, err := c.Frame.Operand.Pop(c.Frame.TryDepth())
	if err != nil {
		return 0, err
	}
	if v.Tag != value.INTEGER {
		return 0, ErrBadArgType
	}
	return v.Int(), nil
}

// Add implements the `+` primitive for two INTEGER operands (spec §6
// library-call signature): pop b, pop a, push a+b.
func Add(c *Context) error {
	b, err := popInt(c)
	if err != nil {
		return err
	}
	a, err := popInt(c)
	if err != nil {
		return err
	}
	return c.Frame.Operand.Push(value.NewInt(a+b, c.PC))
}

// Sub implements the `-` primitive: pop b, pop a, push a-b.
func Sub(c *Context) error {
	b, err := popInt(c)
	if err != nil {
		return err
	}
	a, err := popInt(c)
	if err != nil {
		return err
	}
	return c.Frame.Operand.Push(value.NewInt(a-b, c.PC))
}

// Dup duplicates the top operand without consuming it.
func Dup(c *Context) error {
	top, err := c.Frame.Operand.Peek(0)
	if err != nil {
		return err
	}
	return c.Frame.Operand.Push(value.Copy(top, c.Progs))
}

// varSlot resolves a VAR/LVAR/SVAR reference to the variable slot it
// names: globals, the current program's locals, or scoped level 0
// respectively (spec §4.2).
func varSlot(c *Context, ref value.Inst) (*value.Inst, error) {
	idx := ref.VarIndex()
	switch ref.Tag {
	case value.VAR:
		if idx < 0 || idx >= len(c.Frame.Globals) {
			return nil, ErrBadVarNumber
		}
		return &c.Frame.Globals[idx], nil
	case value.LVAR:
		lv := c.Frame.ProgramLocals.Get(c.Program)
		if idx < 0 || idx >= len(lv.Slots) {
			return nil, ErrBadVarNumber
		}
		return &lv.Slots[idx], nil
	case value.SVAR:
		top := c.Frame.Scoped.Top()
		if top == nil || idx < 0 || idx >= len(top.Slots) {
			return nil, ErrBadVarNumber
		}
		return &top.Slots[idx], nil
	default:
		return nil, ErrBadArgType
	}
}

// At implements `@`: pop a variable reference and push a copy of the
// slot's value.
func At(c *Context) error {
	ref, err := c.Frame.Operand.Pop(c.Frame.TryDepth())
	if err != nil {
		return err
	}
	slot, err := varSlot(c, ref)
	if err != nil {
		return err
	}
	return c.Frame.Operand.Push(value.Copy(*slot, c.Progs))
}

// Bang implements `!`: pop a variable reference then a value, clear the
// slot's old value, and move the popped value into it.
func Bang(c *Context) error {
	ref, err := c.Frame.Operand.Pop(c.Frame.TryDepth())
	if err != nil {
		return err
	}
	slot, err := varSlot(c, ref)
	if err != nil {
		return err
	}
	v, err := c.Frame.Operand.Pop(c.Frame.TryDepth())
	if err != nil {
		return err
	}
	if slot.Tag != value.CLEARED {
		value.Clear(slot, c.Progs)
	}
	*slot = v
	return nil
}

// Pop discards and clears the top operand.
func Pop(c *Context) error {
	top, err := c.Frame.Operand.Pop(c.Frame.TryDepth())
	if err != nil {
		return err
	}
	if top.Tag != value.CLEARED {
		value.Clear(&top, nil)
	}
	return nil
}

// Strcat pops b then a (both STRING) and pushes a concatenated with b.
func Strcat(c *Context) error {
	b, err := c.Frame.Operand.Pop(c.Frame.TryDepth())
	if err != nil {
		return err
	}
	a, err := c.Frame.Operand.Pop(c.Frame.TryDepth())
	if err != nil {
		return err
	}
	if a.Tag != value.STRING || b.Tag != value.STRING {
		return ErrBadArgType
	}
	result := value.NewString(a.Str()+b.Str(), c.PC)
	value.Clear(&a, nil)
	value.Clear(&b, nil)
	return c.Frame.Operand.Push(result)
}

// Strlen pops a STRING and pushes its byte length as an INTEGER.
func Strlen(c *Context) error {
	a, err := c.Frame.Operand.Pop(c.Frame.TryDepth())
	if err != nil {
		return err
	}
	if a.Tag != value.STRING {
		return ErrBadArgType
	}
	n := int64(len(a.Str()))
	value.Clear(&a, nil)
	return c.Frame.Operand.Push(value.NewInt(n, c.PC))
}

// RegisterBuiltins wires the representative sample set into r.
func RegisterBuiltins(r *Registry) {
	r.Register(PrimAdd, "+", Add)
	r.Register(PrimSub, "-", Sub)
	r.Register(PrimDup, "dup", Dup)
	r.Register(PrimPop, "pop", Pop)
	r.Register(PrimStrcat, "strcat", Strcat)
	r.Register(PrimStrlen, "strlen", Strlen)
	r.Register(PrimAt, "@", At)
	r.Register(PrimBang, "!", Bang)
}
