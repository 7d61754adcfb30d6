package frame

// Defaults mirror the host MUCK's historical tunables (spec §6); callers
// that load config.Tunables override these per-VM.
const (
	DefaultStackSize = 1379 // operand and system stack bound
	DefaultMaxVar    = 54   // slots per global/program-local frame
)
