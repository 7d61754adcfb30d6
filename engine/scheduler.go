package engine

import "muckvm/frame"

// Scheduler is the engine's view of the external scheduler/timer-queue
// and event bus (spec §6 "Toward the scheduler/timer queue", "Toward the
// event bus"). The engine depends only on this interface so that `sched`
// (or any other scheduler implementation) can supply it without an
// import cycle back into `engine`.
type Scheduler interface {
	frame.FrameSink

	// EnqueueDelay parks f for re-entry after delaySeconds (0 for the
	// automatic cooperative-yield re-entry), grounded on
	// add_muf_delay_event (spec §6).
	EnqueueDelay(pid int, delaySeconds int, f *frame.Frame)

	// EnqueueRead parks f awaiting input on descr, grounded on
	// add_muf_read_event (spec §6).
	EnqueueRead(pid int, descr int, f *frame.Frame)

	// RegisterWaitFor subscribes f to the named events, deduplicated,
	// grounded on muf_event_register_specific (spec §6, EVENT_WAITFOR).
	RegisterWaitFor(f *frame.Frame, eventNames []string)
}
