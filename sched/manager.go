// Package sched is the scheduler/timer-queue and event-bus collaborator
// the engine dispatches suspended frames to (spec §6 "Toward the
// scheduler/timer queue", "Toward the event bus"; §4.7 inter-frame
// wait/notify). Grounded on the teacher's task/manager.go (map+mutex CRUD
// over a registry of in-flight work), generalized from "one task, one
// goroutine-free struct" to "one parked frame, re-entered through
// engine.Execute on wake" per this engine's suspend/resume model (spec §5:
// "suspension always serializes pc, operand/system stack tops ... via
// reload; re-entry replays the dispatcher with those saved values").
//
// Unlike the teacher's GetManager singleton, Manager is an explicit
// instance: spec §9's design notes call the teacher's package-level
// mutable state out for rearchitecture into "a single VM object passed
// explicitly", and this package follows that guidance rather than
// reproducing the singleton.
package sched

import (
	"fmt"
	"sync"
	"time"

	"muckvm/engine"
	"muckvm/frame"
	"muckvm/value"
)

// parked is one suspended frame the scheduler is holding, regardless of
// which suspension point parked it.
type parked struct {
	pid    int
	player value.ObjID
	frame  *frame.Frame
}

type timerEntry struct {
	parked
	due time.Time
}

type readEntry struct {
	parked
	descr int
}

type eventSub struct {
	parked
	names map[string]bool
}

// Manager owns every frame currently parked outside the dispatcher: timed
// delays, pending reads, and EVENT_WAITFOR subscriptions. It implements
// engine.Scheduler so an Engine can hand it suspended frames directly.
//
// Construction is two-step because engine.New requires a Scheduler while
// Manager's wake methods need the *engine.Engine to re-enter: build the
// Manager first (with a nil-safe zero value), pass it to engine.New, then
// Bind the resulting Engine back before calling Tick/Post/DeliverInput.
type Manager struct {
	mu sync.Mutex

	eng   *engine.Engine
	progs value.ProgramInstances

	timers []*timerEntry
	reads  map[int]*readEntry
	subs   map[int]*eventSub
}

// NewManager builds an unbound Manager. Call Bind once the owning Engine
// exists.
func NewManager() *Manager {
	return &Manager{
		reads: make(map[int]*readEntry),
		subs:  make(map[int]*eventSub),
	}
}

// Bind completes construction, wiring the Engine a parked frame resumes
// through and the ProgramInstances used to back ownership transfers on
// re-entry (spec §4.1). Must be called before Tick/Post/DeliverInput.
func (m *Manager) Bind(eng *engine.Engine, progs value.ProgramInstances) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eng = eng
	m.progs = progs
}

// EnqueueDelay implements engine.Scheduler (add_muf_delay_event, spec §6).
// delaySeconds == 0 is the automatic cooperative-yield re-entry (spec §5).
func (m *Manager) EnqueueDelay(pid int, delaySeconds int, f *frame.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timers = append(m.timers, &timerEntry{
		parked: parked{pid: pid, player: invokingPlayer(f), frame: f},
		due:    time.Now().Add(time.Duration(delaySeconds) * time.Second),
	})
}

// EnqueueRead implements engine.Scheduler (add_muf_read_event, spec §6).
func (m *Manager) EnqueueRead(pid int, descr int, f *frame.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads[pid] = &readEntry{
		parked: parked{pid: pid, player: invokingPlayer(f), frame: f},
		descr:  descr,
	}
}

// RegisterWaitFor implements engine.Scheduler (muf_event_register_specific,
// spec §6, EVENT_WAITFOR).
func (m *Manager) RegisterWaitFor(f *frame.Frame, eventNames []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make(map[string]bool, len(eventNames))
	for _, n := range eventNames {
		names[n] = true
	}
	m.subs[f.Pid] = &eventSub{
		parked: parked{pid: f.Pid, player: invokingPlayer(f), frame: f},
		names:  names,
	}
}

// WatchPid links watcher into targetPid's waiter list (and targetPid into
// watcher's waitee list), so watcher receives a "PROC.EXIT.<targetPid>"
// event when that frame terminates (spec §4.7). Returns false when no
// frame with targetPid is parked here — the caller should treat the
// target as already exited and post the event itself. Registration is
// deduplicated: watching the same pid twice is a no-op.
func (m *Manager) WatchPid(watcher *frame.Frame, targetPid int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	target := m.frameByPidLocked(targetPid)
	if target == nil {
		return false
	}
	for _, p := range watcher.Waitees {
		if p == targetPid {
			return true
		}
	}
	target.Waiters = append(target.Waiters, watcher.Pid)
	watcher.Waitees = append(watcher.Waitees, targetPid)
	return true
}

// RemoveWaiter implements frame.FrameSink (spec §4.7): drop waiterPid from
// ownerPid's parked waiter list, wherever ownerPid is currently parked.
func (m *Manager) RemoveWaiter(ownerPid, waiterPid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f := m.frameByPidLocked(ownerPid); f != nil {
		removePid(&f.Waiters, waiterPid)
	}
}

// NotifyExit implements frame.FrameSink (spec §4.7): post
// "PROC.EXIT.<exitedPid>" to waiterPid and drop exitedPid from its parked
// waitee list.
func (m *Manager) NotifyExit(waiterPid, exitedPid int) {
	m.mu.Lock()
	if f := m.frameByPidLocked(waiterPid); f != nil {
		removePid(&f.Waitees, exitedPid)
	}
	m.mu.Unlock()

	m.Post(fmt.Sprintf("PROC.EXIT.%d", exitedPid), value.NewInt(int64(exitedPid), 0))
}

// DequeueTimers implements frame.FrameSink (dequeue_timers, spec §6).
func (m *Manager) DequeueTimers(pid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.timers[:0]
	for _, t := range m.timers {
		if t.pid != pid {
			kept = append(kept, t)
		}
	}
	m.timers = kept
}

// PurgeEvents implements frame.FrameSink (muf_event_purge, spec §6).
func (m *Manager) PurgeEvents(pid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, pid)
}

// frameByPidLocked finds a parked frame by pid across every waiting set.
// Callers must hold m.mu.
func (m *Manager) frameByPidLocked(pid int) *frame.Frame {
	for _, t := range m.timers {
		if t.pid == pid {
			return t.frame
		}
	}
	if r, ok := m.reads[pid]; ok {
		return r.frame
	}
	if s, ok := m.subs[pid]; ok {
		return s.frame
	}
	return nil
}

func removePid(list *[]int, pid int) {
	for i, p := range *list {
		if p == pid {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return
		}
	}
}

func invokingPlayer(f *frame.Frame) value.ObjID {
	if f.Globals[0].Tag == value.OBJECT_REF {
		return f.Globals[0].ObjRef()
	}
	return value.NOTHING
}
