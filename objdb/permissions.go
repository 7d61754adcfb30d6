package objdb

import "muckvm/value"

// FindMLevel implements spec §4.8 find_mlev(prog, frame, stop): if the
// program at callers[stop] is both STICKY and HAVEN, and the caller one
// level down is owned by a true wizard, and the chain has at least one
// caller below stop (stop > 0), permission is inherited from that caller;
// otherwise it is min(program level, owner level).
//
// callers is the frame's static call chain, outermost first; stop is the
// index of the program whose effective level is being computed.
func (r *Registry) FindMLevel(callers []value.ObjID, stop int) int {
	if stop < 0 || stop >= len(callers) {
		return 0
	}
	prog := r.Object(callers[stop])
	if prog == nil {
		return 0
	}

	if prog.Flags.Has(FlagSticky|FlagHaven) && stop > 0 {
		caller := r.Object(callers[stop-1])
		owner := r.Object(prog.Owner)
		if caller != nil && owner != nil {
			callerOwner := r.Object(caller.Owner)
			if callerOwner != nil && callerOwner.TrueWizard {
				return r.FindMLevel(callers, stop-1)
			}
		}
	}

	owner := r.Object(prog.Owner)
	ownerLevel := 0
	if owner != nil {
		ownerLevel = owner.Level
	}
	if prog.Level < ownerLevel {
		return prog.Level
	}
	return ownerLevel
}

// FindUID implements spec §4.8 find_uid(player, frame, stop, program).
// setuid reports whether the frame's permission mode is SETUID; trigger
// is the object that triggered this invocation (NOTHING if none).
func (r *Registry) FindUID(player value.ObjID, callers []value.ObjID, stop int, prog value.ObjID, setuid bool, trigger value.ObjID) value.ObjID {
	progObj := r.Object(prog)
	if progObj == nil {
		return player
	}

	if progObj.Flags.Has(FlagSticky) || setuid {
		if progObj.Flags.Has(FlagHaven) && stop > 0 {
			caller := r.Object(callers[stop-1])
			if caller != nil {
				callerOwner := r.Object(caller.Owner)
				if callerOwner != nil && callerOwner.TrueWizard {
					return r.FindUID(player, callers, stop-1, callers[stop-1], setuid, trigger)
				}
			}
		}
		return progObj.Owner
	}

	if progObj.Level < 2 {
		return progObj.Owner
	}

	if progObj.Flags.Has(FlagHaven) || progObj.Flags.Has(FlagHardUID) {
		if trigger == value.NOTHING {
			return progObj.Owner
		}
		if trig := r.Object(trigger); trig != nil {
			return trig.Owner
		}
		return progObj.Owner
	}

	return player
}
