package primitive

import "errors"

// ErrBadArgType is returned by a library primitive when an operand's tag
// doesn't match what the primitive expects; the dispatcher turns this
// into a catchable runtime error (spec §7).
var ErrBadArgType = errors.New("primitive: argument has wrong type")

// ErrBadVarNumber is returned when a VAR/LVAR/SVAR reference names a slot
// outside its store's range (spec §7 "out-of-range variable number").
var ErrBadVarNumber = errors.New("variable number out of range")
