package objdb

import (
	"sync"

	"muckvm/program"
	"muckvm/value"

	"golang.org/x/crypto/blake2b"
)

// Compiler is the external collaborator that turns program source text
// into compiled code (spec §6: read_program / do_compile). The engine
// lazy-invokes it from CALL when a target program has no code yet.
type Compiler interface {
	ReadProgram(prog value.ObjID) (string, error)
	Compile(owner, prog value.ObjID, source string) (*program.Program, error)
}

// PropertyStore is the external collaborator used for crash-log
// bookkeeping (spec §6, §7): .debug/errcount, .debug/lasterr,
// .debug/lastcrash, .debug/lastcrashtime.
type PropertyStore interface {
	SetProp(obj value.ObjID, name string, v value.Inst)
	GetProp(obj value.ObjID, name string) (value.Inst, bool)
}

// Registry is an in-memory object database fake: enough of spec §6's
// external interface for the engine to call CALL, check permissions, and
// lazy-compile against, without pulling in the host's on-disk format.
// The engine and frame packages take this concrete *Registry type
// directly (Engine.Registry, Frame.Clean, Frame.UnwindError).
type Registry struct {
	mu       sync.RWMutex
	objects  map[value.ObjID]*Object
	programs map[value.ProgID]*program.Program
	compiler Compiler
}

// NewRegistry creates an empty registry. compiler may be nil for tests
// that pre-populate compiled programs directly.
func NewRegistry(compiler Compiler) *Registry {
	return &Registry{
		objects:  make(map[value.ObjID]*Object),
		programs: make(map[value.ProgID]*program.Program),
		compiler: compiler,
	}
}

// Put registers or replaces an object's metadata.
func (r *Registry) Put(obj *Object) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.objects[obj.ID] = obj
}

// Object returns object metadata by id, or nil if unknown/invalid.
func (r *Registry) Object(id value.ObjID) *Object {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.objects[id]
}

// PutProgram registers compiled code for a program id directly (tests,
// or pre-warmed caches).
func (r *Registry) PutProgram(id value.ProgID, p *program.Program) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.programs[id] = p
}

// Program returns the compiled program for id, or nil if never compiled.
func (r *Registry) Program(id value.ProgID) *program.Program {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.programs[id]
}

// IncInstances implements value.ProgramInstances: bump a program's live
// frame count. Called by value.Copy when an ADDRESS into that program is
// duplicated (spec §3).
func (r *Registry) IncInstances(id value.ProgID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if obj := r.objects[value.ObjID(id)]; obj != nil {
		obj.Instances++
	}
}

// DecInstances implements value.ProgramInstances: drop a program's live
// frame count. Called by value.Clear when an ADDRESS into that program is
// freed.
func (r *Registry) DecInstances(id value.ProgID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if obj := r.objects[value.ObjID(id)]; obj != nil && obj.Instances > 0 {
		obj.Instances--
	}
}

// EnsureCompiled returns the compiled program for id, invoking the
// external compiler on first use (spec §4.3 CALL semantics: "Performs
// lazy-compile if the target program has no code yet"). A second call
// with unchanged source returns the cached copy without recompiling; the
// source is re-fingerprinted with blake2b so a program whose source was
// edited out from under a stale cache entry gets recompiled instead of
// silently running old code.
func (r *Registry) EnsureCompiled(owner, prog value.ObjID) (*program.Program, error) {
	pid := value.ProgID(prog)

	r.mu.RLock()
	existing := r.programs[pid]
	r.mu.RUnlock()

	if existing == nil {
		return r.compile(owner, prog, pid)
	}

	if r.compiler == nil {
		return existing, nil
	}

	source, err := r.compiler.ReadProgram(prog)
	if err != nil {
		return existing, nil
	}
	if blake2b.Sum256([]byte(source)) == existing.Fingerprint {
		return existing, nil
	}
	return r.compile(owner, prog, pid)
}

func (r *Registry) compile(owner, prog value.ObjID, pid value.ProgID) (*program.Program, error) {
	if r.compiler == nil {
		return nil, ErrNoCompiler
	}
	source, err := r.compiler.ReadProgram(prog)
	if err != nil {
		return nil, err
	}
	compiled, err := r.compiler.Compile(owner, prog, source)
	if err != nil {
		return nil, err
	}
	compiled.Fingerprint = blake2b.Sum256([]byte(source))

	r.mu.Lock()
	r.programs[pid] = compiled
	r.mu.Unlock()
	return compiled, nil
}
