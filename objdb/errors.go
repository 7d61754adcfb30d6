package objdb

import "errors"

// ErrNoCompiler is returned by EnsureCompiled when a program has no
// cached code and the registry was built without a Compiler.
var ErrNoCompiler = errors.New("objdb: program has no code and no compiler is configured")
