package value

// Truthy implements spec §4.1 truthiness: false iff the value is a
// zero-integer, zero-float, empty or null string, empty or null array,
// MARK, NOTHING object-ref, or the always-true lock constant.
func (v Inst) Truthy() bool {
	switch v.Tag {
	case INTEGER:
		return v.i != 0
	case FLOAT:
		return v.f != 0
	case OBJECT_REF:
		return v.o != NOTHING
	case STRING:
		return v.str != nil && v.str.S != ""
	case ARRAY:
		return v.arr != nil && len(v.arr.Entries) > 0
	case MARK:
		return false
	case LOCK:
		return v.lock == nil || v.lock.Expr == nil || !v.lock.Expr.AlwaysTrue
	default:
		return true
	}
}
