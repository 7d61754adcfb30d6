package objdb

// Flags is a bitmask of object flags the engine consults for permission
// and scheduling decisions (spec §6). The full flag vocabulary belongs to
// the host object database; only the subset below is defined here.
type Flags uint32

const (
	FlagLinkable Flags = 1 << iota
	FlagSticky
	FlagHaven
	FlagZombie
	FlagDark
	FlagBuilder
	FlagReadMode
	FlagHardUID
)

// Has reports whether all bits of want are set.
func (f Flags) Has(want Flags) bool {
	return f&want == want
}
