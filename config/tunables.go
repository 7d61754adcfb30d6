// Package config loads the engine's tunable document (spec §6): the
// instruction budgets, stack/variable sizing, and frame pool cap. Grounded
// on the teacher's conformance/schema.go yaml.v3 struct-tag convention.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"muckvm/frame"
)

// Tunables holds every process-wide constant spec §6 names.
type Tunables struct {
	// MaxInstrCount is tp_max_instr_count: the per-frame lifetime
	// instruction cap for lower-permission programs.
	MaxInstrCount int64 `yaml:"tp_max_instr_count"`

	// MaxML4PreemptCount is tp_max_ml4_preempt_count: caps preempt-mode
	// instructions for permission-4 programs when nonzero; zero means
	// unlimited.
	MaxML4PreemptCount int64 `yaml:"tp_max_ml4_preempt_count"`

	// InstrSlice is tp_instr_slice: the cooperative yield slice size.
	InstrSlice int64 `yaml:"tp_instr_slice"`

	// FreeFramesPool is tp_free_frames_pool: how many idle frames to
	// keep pooled before excess is purged.
	FreeFramesPool int `yaml:"tp_free_frames_pool"`

	// StackSize bounds the operand and system stacks (spec §6
	// STACK_SIZE).
	StackSize int `yaml:"stack_size"`

	// MaxVar is the slot count per program-local frame (spec §6
	// MAX_VAR); the global slots are fixed at frame.DefaultMaxVar.
	MaxVar int `yaml:"max_var"`
}

// Default returns the historical tunables used when no document is
// supplied, matching frame.DefaultStackSize/DefaultMaxVar.
func Default() Tunables {
	return Tunables{
		MaxInstrCount:      2000000,
		MaxML4PreemptCount: 0,
		InstrSlice:         5000,
		FreeFramesPool:     32,
		StackSize:          frame.DefaultStackSize,
		MaxVar:             frame.DefaultMaxVar,
	}
}

// Load reads a YAML tunables document from path, filling any field the
// document omits from Default().
func Load(path string) (Tunables, error) {
	t := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return t, nil
}

// LowTrustCap returns the effective instruction cap for a frame at the
// given permission level, per spec §4.3 step 5: "If the permission level
// < 3, total instructions are capped at max_instr (×4 when level == 2)."
// Level >= 3 returns 0, meaning "no low-trust ceiling applies" (the
// preemption-mode cap in PreemptCap governs instead).
func (t Tunables) LowTrustCap(permLevel int) int64 {
	if permLevel >= 3 {
		return 0
	}
	if permLevel == 2 {
		return t.MaxInstrCount * 4
	}
	return t.MaxInstrCount
}

// PreemptCap returns the effective instruction cap for a frame running in
// PREEMPT mode (or whose program carries the BUILDER flag), per spec §4.3
// step 3. 0 means unlimited.
func (t Tunables) PreemptCap(permLevel int) int64 {
	if permLevel == 4 {
		return t.MaxML4PreemptCount
	}
	return t.MaxInstrCount
}
