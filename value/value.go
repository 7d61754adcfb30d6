package value

import "fmt"

// ObjID is a handle into the external object database: a program, room,
// player, thing, or exit. The engine never interprets these beyond the
// NOTHING/HOME sentinels; permission and type checks are delegated to
// objdb.
type ObjID int64

const (
	// NOTHING is the sentinel object-ref used for "no object".
	NOTHING ObjID = -1
	// HOME is the sentinel object-ref meaning "the player's home".
	HOME ObjID = -3
)

// ProgID identifies a compiled program in the external object database.
type ProgID int64

// Inst is a single tagged runtime value. Every live Inst has exactly one
// owning slot (operand stack entry, variable slot, or program constant);
// Copy and Clear are the only sanctioned ways to move ownership between
// slots. See spec §3 and §4.1.
type Inst struct {
	Tag  Tag
	Line int // source line this value was produced from

	i int64   // INTEGER value; VAR/LVAR/SVAR slot index; MARK payload; PRIMITIVE number
	f float64 // FLOAT value
	o ObjID   // OBJECT_REF value

	str  *StringObj
	arr  *ArrayObj
	addr *AddressObj
	lock *LockObj
	fn   *FuncObj

	clearedAt string // CLEARED: "file:line" of the clear() call that poisoned this slot
}

// StringObj is a refcounted heap string.
type StringObj struct {
	refs int32
	S    string
}

// ArrayEntry is one key/value pair of a MUF array. Lists use consecutive
// integer keys starting at 1; dictionaries use arbitrary keys.
type ArrayEntry struct {
	Key Inst
	Val Inst
}

// ArrayObj is a refcounted heap array (list or dictionary form).
type ArrayObj struct {
	refs    int32
	Entries []ArrayEntry
}

// AddressObj is a refcounted pointer into a compiled program. Copying an
// ADDRESS bumps both its own refcount and the target program's instance
// count (spec §3); the instance count is owned by objdb, not by this
// package, so AddressObj only stores enough to let the caller reach it.
type AddressObj struct {
	refs   int32
	Prog   ProgID
	Offset int
}

// LockExpr is an opaque compiled lock expression (a boolean predicate over
// object properties, evaluated by a primitive outside the engine's scope).
// The engine only needs to copy and free it as a unit.
//
// AlwaysTrue marks the TRUE_BOOLEXP sentinel lock (spec §4.1: "the
// always-true lock constant"), the one LOCK value Truthy() must treat as
// false rather than deferring to a primitive evaluator.
type LockExpr struct {
	Source     string
	AlwaysTrue bool
}

// LockObj wraps a lock expression. LOCK values are deep-copied, never
// shared, so LockObj carries no refcount (spec §4.1).
type LockObj struct {
	Expr *LockExpr
}

// FuncObj holds procedure metadata for a FUNCTION header value. FUNCTION
// values are deep-copied, never shared, so FuncObj carries no refcount
// (spec §4.1).
type FuncObj struct {
	Name     string
	NumArgs  int
	NumVars  int
	VarNames []string
}

// NewInt returns an INTEGER Inst.
func NewInt(v int64, line int) Inst { return Inst{Tag: INTEGER, i: v, Line: line} }

// NewFloat returns a FLOAT Inst.
func NewFloat(v float64, line int) Inst { return Inst{Tag: FLOAT, f: v, Line: line} }

// NewObjRef returns an OBJECT_REF Inst.
func NewObjRef(o ObjID, line int) Inst { return Inst{Tag: OBJECT_REF, o: o, Line: line} }

// NewMark returns a MARK sentinel Inst, used by variable-arity primitives.
func NewMark(line int) Inst { return Inst{Tag: MARK, Line: line} }

// NewVarRef returns a VAR/LVAR/SVAR Inst naming slot index idx.
func NewVarRef(tag Tag, idx int, line int) Inst { return Inst{Tag: tag, i: int64(idx), Line: line} }

// NewPrimitive returns a PRIMITIVE Inst naming primitive number num.
func NewPrimitive(num int, line int) Inst { return Inst{Tag: PRIMITIVE, i: int64(num), Line: line} }

// NewString returns a STRING Inst owning a fresh, refcount-1 heap string.
func NewString(s string, line int) Inst {
	return Inst{Tag: STRING, str: &StringObj{refs: 1, S: s}, Line: line}
}

// NewArray returns an ARRAY Inst owning a fresh, refcount-1 heap array.
func NewArray(entries []ArrayEntry, line int) Inst {
	return Inst{Tag: ARRAY, arr: &ArrayObj{refs: 1, Entries: entries}, Line: line}
}

// NewAddress returns an ADDRESS Inst owning a fresh, refcount-1 pointer.
// The caller is responsible for bumping the target program's instance
// count to match (see objdb.Registry.IncInstances).
func NewAddress(prog ProgID, offset int, line int) Inst {
	return Inst{Tag: ADDRESS, addr: &AddressObj{refs: 1, Prog: prog, Offset: offset}, Line: line}
}

// NewLock returns a LOCK Inst.
func NewLock(expr *LockExpr, line int) Inst {
	return Inst{Tag: LOCK, lock: &LockObj{Expr: expr}, Line: line}
}

// NewTrueLock returns the TRUE_BOOLEXP sentinel LOCK Inst: always-true as
// a lock predicate, but false under Truthy() (spec §4.1).
func NewTrueLock(line int) Inst {
	return NewLock(&LockExpr{AlwaysTrue: true}, line)
}

// NewFunction returns a FUNCTION Inst describing a procedure header.
func NewFunction(f FuncObj, line int) Inst {
	cp := f
	cp.VarNames = append([]string(nil), f.VarNames...)
	return Inst{Tag: FUNCTION, fn: &cp, Line: line}
}

// Int returns the integer payload; only meaningful when Tag == INTEGER.
func (v Inst) Int() int64 { return v.i }

// Float returns the float payload; only meaningful when Tag == FLOAT.
func (v Inst) Float() float64 { return v.f }

// ObjRef returns the object-ref payload; only meaningful when Tag == OBJECT_REF.
func (v Inst) ObjRef() ObjID { return v.o }

// VarIndex returns the slot index for VAR/LVAR/SVAR.
func (v Inst) VarIndex() int { return int(v.i) }

// PrimitiveNumber returns the primitive number for PRIMITIVE.
func (v Inst) PrimitiveNumber() int { return int(v.i) }

// Str returns the underlying string (Tag == STRING).
func (v Inst) Str() string {
	if v.str == nil {
		return ""
	}
	return v.str.S
}

// Array returns the underlying array object (Tag == ARRAY).
func (v Inst) Array() *ArrayObj { return v.arr }

// Address returns the underlying address object (Tag == ADDRESS).
func (v Inst) Address() *AddressObj { return v.addr }

// Lock returns the underlying lock object (Tag == LOCK).
func (v Inst) Lock() *LockObj { return v.lock }

// Function returns the underlying function metadata (Tag == FUNCTION).
func (v Inst) Function() *FuncObj { return v.fn }

// ClearedAt returns the "file:line" site that cleared this slot. Only
// meaningful when Tag == CLEARED.
func (v Inst) ClearedAt() string { return v.clearedAt }

func (v Inst) String() string {
	switch v.Tag {
	case INTEGER:
		return fmt.Sprintf("%d", v.i)
	case FLOAT:
		return fmt.Sprintf("%g", v.f)
	case OBJECT_REF:
		return fmt.Sprintf("#%d", v.o)
	case STRING:
		return v.Str()
	case ARRAY:
		return fmt.Sprintf("{array:%d}", len(v.arr.Entries))
	case ADDRESS:
		return fmt.Sprintf("{addr prog=%d off=%d}", v.addr.Prog, v.addr.Offset)
	case LOCK:
		return "{lock}"
	case MARK:
		return "{mark}"
	case VAR:
		return fmt.Sprintf("var[%d]", v.i)
	case LVAR:
		return fmt.Sprintf("lvar[%d]", v.i)
	case SVAR:
		return fmt.Sprintf("svar[%d]", v.i)
	case FUNCTION:
		return fmt.Sprintf("{func %s/%d}", v.fn.Name, v.fn.NumArgs)
	case PRIMITIVE:
		return fmt.Sprintf("prim#%d", v.i)
	case CLEARED:
		return fmt.Sprintf("{cleared at %s}", v.clearedAt)
	default:
		return "?"
	}
}

// Zero returns the zero-integer Inst used to initialize variable slots.
func Zero() Inst { return Inst{Tag: INTEGER} }
