package engine

import "time"

// crashTime is a thin indirection over time.Now so tests can stub a
// deterministic clock for crash-log assertions if needed later.
func crashTime() time.Time { return time.Now() }
