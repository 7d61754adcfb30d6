// Package trace provides process-wide execution tracing for the engine:
// per-instruction step tracing filtered by program name, and a log line
// for every hard abort. It writes no object properties.
package trace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"muckvm/value"
)

// Tracer mirrors the teacher's trace.Tracer shape (enable flag, glob
// filters, a writer, one mutex) but traces instruction steps and crashes
// instead of MOO verb calls.
type Tracer struct {
	enabled bool
	filters []string
	writer  io.Writer
	mu      sync.Mutex
}

var globalTracer *Tracer

// Init installs the process-wide tracer. filters are filepath.Match glob
// patterns matched against the program name; an empty filter set traces
// everything.
func Init(enabled bool, filters []string, writer io.Writer) {
	if writer == nil {
		writer = os.Stderr
	}
	globalTracer = &Tracer{enabled: enabled, filters: filters, writer: writer}
}

// IsEnabled reports whether the global tracer is armed.
func IsEnabled() bool {
	return globalTracer != nil && globalTracer.enabled
}

func (t *Tracer) matchesFilter(programName string) bool {
	if len(t.filters) == 0 {
		return true
	}
	for _, pattern := range t.filters {
		if matched, _ := filepath.Match(pattern, programName); matched {
			return true
		}
	}
	return false
}

// Step logs one dispatcher iteration: pid, program name, pc, and the
// decoded opcode's string form.
func (t *Tracer) Step(pid int, programName string, prog value.ProgID, pc int, op fmt.Stringer) {
	if !t.enabled || !t.matchesFilter(programName) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.writer, "[TRACE] STEP pid=%d prog=%d(%s) pc=%d op=%s\n", pid, prog, programName, pc, op)
}

// CallEnter logs a CALL primitive entering a new program.
func (t *Tracer) CallEnter(pid int, programName string, prog value.ProgID, mlev int) {
	if !t.enabled || !t.matchesFilter(programName) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.writer, "[TRACE] CALL pid=%d prog=%d(%s) mlev=%d\n", pid, prog, programName, mlev)
}

// Return logs a RET primitive unwinding one call level.
func (t *Tracer) Return(pid int, programName string, prog value.ProgID) {
	if !t.enabled || !t.matchesFilter(programName) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.writer, "[TRACE] RETURN pid=%d prog=%d(%s)\n", pid, prog, programName)
}

// Caught logs a CATCH/CATCH_DETAILED unwind, including the message caught.
func (t *Tracer) Caught(pid int, programName string, message string) {
	if !t.enabled || !t.matchesFilter(programName) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	msg := message
	if len(msg) > 60 {
		msg = msg[:57] + "..."
	}
	fmt.Fprintf(t.writer, "[TRACE] CATCH pid=%d prog=%s %q\n", pid, programName, msg)
}

// Crash logs a hard abort as one CRASH line (pid, program, message, time).
// It is logged whether or not the tracer is enabled or filtered; the
// .debug/* crash-log properties are not touched here.
func (t *Tracer) Crash(pid int, programName string, message string, when time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.writer, "[TRACE] CRASH pid=%d prog=%s %q at=%s\n", pid, programName, message, when.Format(time.RFC3339))
}

// Global convenience wrappers, used by engine code that doesn't want to
// thread a *Tracer through every call.

func Step(pid int, programName string, prog value.ProgID, pc int, op fmt.Stringer) {
	if globalTracer != nil {
		globalTracer.Step(pid, programName, prog, pc, op)
	}
}

func CallEnter(pid int, programName string, prog value.ProgID, mlev int) {
	if globalTracer != nil {
		globalTracer.CallEnter(pid, programName, prog, mlev)
	}
}

func Return(pid int, programName string, prog value.ProgID) {
	if globalTracer != nil {
		globalTracer.Return(pid, programName, prog)
	}
}

func Caught(pid int, programName string, message string) {
	if globalTracer != nil {
		globalTracer.Caught(pid, programName, message)
	}
}

func Crash(pid int, programName string, message string, when time.Time) {
	if globalTracer == nil {
		Init(true, nil, os.Stderr)
	}
	globalTracer.Crash(pid, programName, message, when)
}

// joinedFilters renders a filter set as one comma-separated string.
func joinedFilters(filters []string) string { return strings.Join(filters, ",") }
