package value

import (
	"fmt"
	"runtime"
)

// OnDoubleClear is invoked when Clear is called on an already-CLEARED
// slot. Spec §3/§4.1 calls this a "detected bug" that must be logged and
// treated as fatal; tests override this hook to assert on it without
// crashing the test binary. The default panics, matching the source's
// assertion failure.
var OnDoubleClear = func(slot Inst) {
	panic(fmt.Sprintf("value: double clear of slot already cleared at %s", slot.ClearedAt()))
}

// Clear frees slot's heap resources (if any), decrementing refcounts and
// the target program's instance count for ADDRESS, then poisons the slot
// with the CLEARED tag recording the caller's file:line. Clearing an
// already-CLEARED slot invokes OnDoubleClear instead of clearing again.
func Clear(slot *Inst, progs ProgramInstances) {
	_, file, line, _ := runtime.Caller(1)
	ClearAt(slot, progs, fmt.Sprintf("%s:%d", file, line))
}

// ClearAt is Clear with an explicit clearing site, for callers that want
// to attribute the clear to a logical location rather than the immediate
// Go call site (e.g. the dispatcher attributing a clear to the MUF
// instruction's own source line).
func ClearAt(slot *Inst, progs ProgramInstances, site string) {
	if slot.Tag == CLEARED {
		OnDoubleClear(*slot)
		return
	}

	switch slot.Tag {
	case STRING:
		if slot.str != nil {
			slot.str.refs--
			if slot.str.refs <= 0 {
				slot.str = nil
			}
		}
	case ARRAY:
		if slot.arr != nil {
			slot.arr.refs--
			if slot.arr.refs <= 0 {
				for i := range slot.arr.Entries {
					ClearAt(&slot.arr.Entries[i].Key, progs, site)
					ClearAt(&slot.arr.Entries[i].Val, progs, site)
				}
				slot.arr = nil
			}
		}
	case ADDRESS:
		if slot.addr != nil {
			if progs != nil {
				progs.DecInstances(slot.addr.Prog)
			}
			slot.addr.refs--
			if slot.addr.refs <= 0 {
				slot.addr = nil
			}
		}
	case FUNCTION:
		slot.fn = nil
	case LOCK:
		slot.lock = nil
	}

	line := slot.Line
	*slot = Inst{Tag: CLEARED, Line: line, clearedAt: site}
}

// Refcount reports the live reference count of a shared heap value, or 0
// for tags that carry no shared heap object. Exposed for invariant tests
// (spec §8 V1).
func Refcount(v Inst) int32 {
	switch v.Tag {
	case STRING:
		if v.str == nil {
			return 0
		}
		return v.str.refs
	case ARRAY:
		if v.arr == nil {
			return 0
		}
		return v.arr.refs
	case ADDRESS:
		if v.addr == nil {
			return 0
		}
		return v.addr.refs
	default:
		return 0
	}
}
