package value

// ProgramInstances tracks how many live frames are executing inside a
// given program. ADDRESS values bump it on copy and drop it on clear
// (spec §3, §4.1). Implemented by objdb.Registry; kept as an interface
// here so value has no dependency on the object database.
type ProgramInstances interface {
	IncInstances(ProgID)
	DecInstances(ProgID)
}

// Copy duplicates src into a fresh Inst suitable for a new owning slot.
// Scalars are shallow-copied. STRING and ARRAY bump their shared heap
// object's refcount. ADDRESS bumps both its own refcount and the target
// program's instance count via progs. LOCK and FUNCTION are deep-copied,
// never shared (spec §4.1).
func Copy(src Inst, progs ProgramInstances) Inst {
	dst := src
	switch src.Tag {
	case STRING:
		src.str.refs++
	case ARRAY:
		src.arr.refs++
	case ADDRESS:
		src.addr.refs++
		if progs != nil {
			progs.IncInstances(src.addr.Prog)
		}
	case LOCK:
		if src.lock != nil {
			expr := *src.lock.Expr
			dst.lock = &LockObj{Expr: &expr}
		}
	case FUNCTION:
		if src.fn != nil {
			cp := *src.fn
			cp.VarNames = append([]string(nil), src.fn.VarNames...)
			dst.fn = &cp
		}
	}
	return dst
}

// CopyArrayEntries clones an ARRAY's entries element-wise (each key and
// value Copy'd) rather than sharing the ArrayObj by refcount (e.g. copy-on-write primitives outside the engine's
// scope); kept here so callers needn't reach into ArrayObj internals.
func CopyArrayEntries(entries []ArrayEntry, progs ProgramInstances) []ArrayEntry {
	out := make([]ArrayEntry, len(entries))
	for i, e := range entries {
		out[i] = ArrayEntry{Key: Copy(e.Key, progs), Val: Copy(e.Val, progs)}
	}
	return out
}
