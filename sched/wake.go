package sched

import (
	"time"

	"muckvm/engine"
	"muckvm/frame"
	"muckvm/value"
)

// Outcome reports what happened when a parked frame was resumed.
type Outcome struct {
	Pid     int
	Outcome engine.Outcome
	Result  value.Inst
	Err     error
}

// Tick drives the timer queue: every timer whose due time has passed is
// popped and re-entered through the engine (spec §5 "re-entry replays the
// dispatcher with those saved values"). Call this periodically from the
// host's main loop; the single-threaded cooperative model (spec §5) means
// only one of these re-entries runs at a time.
func (m *Manager) Tick(now time.Time) []Outcome {
	m.mu.Lock()
	var due []*timerEntry
	kept := m.timers[:0]
	for _, t := range m.timers {
		if !t.due.After(now) {
			due = append(due, t)
		} else {
			kept = append(kept, t)
		}
	}
	m.timers = kept
	m.mu.Unlock()

	m.eng.ForPool.Purge()
	m.eng.TryPool.Purge()

	results := make([]Outcome, 0, len(due))
	for _, t := range due {
		results = append(results, m.resume(t.pid, t.player, t.frame))
	}
	return results
}

// DeliverInput resumes the frame parked on descr with text pushed as its
// READ result (spec §6 add_muf_read_event's counterpart, the connection
// delivering a line). Returns false if no frame is parked on descr.
func (m *Manager) DeliverInput(descr int, text string) (Outcome, bool) {
	m.mu.Lock()
	var found *readEntry
	for pid, r := range m.reads {
		if r.descr == descr {
			found = r
			delete(m.reads, pid)
			break
		}
	}
	m.mu.Unlock()

	if found == nil {
		return Outcome{}, false
	}
	found.frame.Operand.Push(value.NewString(text, 0))
	return m.resume(found.pid, found.player, found.frame), true
}

// Post implements muf_event_add (spec §6): any frame subscribed to name
// via EVENT_WAITFOR is resumed with {name, payload} pushed as its wait
// result (one-shot, matching WAITFOR's subscribe-then-consume protocol).
func (m *Manager) Post(name string, payload value.Inst) []Outcome {
	m.mu.Lock()
	var woken []*eventSub
	for pid, s := range m.subs {
		if s.names[name] {
			woken = append(woken, s)
			delete(m.subs, pid)
		}
	}
	m.mu.Unlock()

	results := make([]Outcome, 0, len(woken))
	for _, s := range woken {
		entries := []value.ArrayEntry{
			{Key: value.NewInt(1, 0), Val: value.NewString(name, 0)},
			{Key: value.NewInt(2, 0), Val: value.Copy(payload, m.progs)},
		}
		s.frame.Operand.Push(value.NewArray(entries, 0))
		results = append(results, m.resume(s.pid, s.player, s.frame))
	}
	return results
}

func (m *Manager) resume(pid int, player value.ObjID, f *frame.Frame) Outcome {
	outcome, result, err := m.eng.Execute(player, f, m.progs)
	return Outcome{Pid: pid, Outcome: outcome, Result: result, Err: err}
}
