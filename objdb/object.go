package objdb

import "muckvm/value"

// TypeOf distinguishes the kinds of object the host database can hand
// back; the engine only needs to tell programs apart from everything
// else (for lazy compilation and CALL validation).
type TypeOf int

const (
	TypeThing TypeOf = iota
	TypePlayer
	TypeRoom
	TypeExit
	TypeProgram
)

// Object is the subset of host object-database state the engine reads:
// name, ownership, permission level, flags, and (for programs) compiled
// code and live-instance bookkeeping. Property storage, locations and
// everything else belong to the host database (spec §1 Out of scope).
type Object struct {
	ID         value.ObjID
	Name       string
	Typeof     TypeOf
	Owner      value.ObjID
	Level      int // MLevel 0-4
	TrueWizard bool
	Flags      Flags

	// Online is only meaningful for TypePlayer: whether a connection is
	// currently attached (spec §4.4 writeonly computation consults this
	// for "source is ... offline-player").
	Online bool

	// Program-only fields.
	Instances int32 // live frames currently executing inside this program
	Source    string
}

// Valid reports whether id names a live object (spec §4.3 liveness
// check consults this for the running player).
func (o *Object) Valid() bool {
	return o != nil
}
