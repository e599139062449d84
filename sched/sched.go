package sched

import (
	"container/heap"
	"fmt"
	"sort"
)

// Cycle counts emulated machine cycles. It is the only notion of time in
// the system: it never runs free, it moves only when Advance or
// JumpToNextEventAndDispatch is called.
type Cycle uint64

// Kind classifies scheduled events, mostly for the monitor and logs.
type Kind int

const (
	KindDevice Kind = iota
	KindMedia
	KindSignal
	KindHousekeeping
)

func (k Kind) String() string {
	switch k {
	case KindDevice:
		return "device"
	case KindMedia:
		return "media"
	case KindSignal:
		return "signal"
	case KindHousekeeping:
		return "housekeeping"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Callback runs when its event comes due. It may schedule further events,
// including events that are already due within the same dispatch pass.
type Callback func()

const (
	statePending = iota
	stateFired
	stateCancelled
)

type event struct {
	due      Cycle
	kind     Kind
	priority int
	seq      uint64
	callback Callback
	tag      string
	index    int
	state    int
}

// Handle is a capability for exactly one cancellation of a scheduled event.
// The zero Handle is valid and cancels nothing.
type Handle struct {
	ev *event
}

// EventInfo is a read-only snapshot of one pending event, for tooling.
type EventInfo struct {
	Due      Cycle
	Kind     Kind
	Priority int
	Seq      uint64
	Tag      string
}

// Scheduler is the authoritative cycle counter and discrete-event
// dispatcher. Devices schedule future callbacks instead of polling the
// step loop. Not safe for concurrent use: the whole machine runs on one
// logical thread of control.
type Scheduler struct {
	now   Cycle
	seq   uint64
	queue eventQueue
}

// New returns an empty scheduler at cycle 0.
func New() *Scheduler {
	return &Scheduler{}
}

// Now returns the current cycle.
func (s *Scheduler) Now() Cycle {
	return s.now
}

// Pending returns the number of events waiting for dispatch.
func (s *Scheduler) Pending() int {
	return len(s.queue)
}

// ScheduleAt queues callback for the given absolute cycle. Scheduling at or
// before the current cycle is legal; the event fires on the next dispatch.
// Events due on the same cycle fire in (priority, insertion) order, lower
// priority value first.
func (s *Scheduler) ScheduleAt(due Cycle, kind Kind, priority int, callback Callback, tag string) Handle {
	if callback == nil {
		panic("sched: ScheduleAt with nil callback")
	}
	ev := &event{
		due:      due,
		kind:     kind,
		priority: priority,
		seq:      s.seq,
		callback: callback,
		tag:      tag,
	}
	s.seq++
	heap.Push(&s.queue, ev)
	return Handle{ev: ev}
}

// ScheduleAfter queues callback delta cycles from now.
func (s *Scheduler) ScheduleAfter(delta Cycle, kind Kind, priority int, callback Callback, tag string) Handle {
	return s.ScheduleAt(s.now+delta, kind, priority, callback, tag)
}

// Cancel removes a pending event. It returns false if the handle already
// fired, was already cancelled, or is the zero Handle. Never an error:
// racing a device reset against its own timer is normal.
func (s *Scheduler) Cancel(h Handle) bool {
	if h.ev == nil || h.ev.state != statePending {
		return false
	}
	h.ev.state = stateCancelled
	heap.Remove(&s.queue, h.ev.index)
	return true
}

// Advance moves the clock forward by delta cycles and dispatches every
// event due at or before the new time, in (due, priority, insertion)
// order. Callbacks that schedule already-due events see them dispatched
// within the same call.
func (s *Scheduler) Advance(delta Cycle) {
	s.now += delta
	s.dispatchDue()
}

// DispatchDue dispatches events due at or before the current cycle without
// moving the clock. Used to drain work queued at the present cycle.
func (s *Scheduler) DispatchDue() {
	s.dispatchDue()
}

// PeekNextDue reports the due cycle of the earliest pending event.
func (s *Scheduler) PeekNextDue() (Cycle, bool) {
	if len(s.queue) == 0 {
		return 0, false
	}
	return s.queue[0].due, true
}

// JumpToNextEventAndDispatch skips idle time: it moves the clock straight
// to the next pending event's due cycle and dispatches everything due
// there. Returns false if nothing is pending. This is how "wait for
// interrupt" avoids single-stepping through dead cycles.
func (s *Scheduler) JumpToNextEventAndDispatch() bool {
	if len(s.queue) == 0 {
		return false
	}
	if due := s.queue[0].due; due > s.now {
		s.now = due
	}
	s.dispatchDue()
	return true
}

// Reset drops all pending events and rewinds the clock to 0.
func (s *Scheduler) Reset() {
	for _, ev := range s.queue {
		ev.state = stateCancelled
		ev.index = -1
	}
	s.queue = s.queue[:0]
	s.now = 0
	s.seq = 0
}

// Snapshot returns the pending events in dispatch order, for the monitor.
func (s *Scheduler) Snapshot() []EventInfo {
	infos := make([]EventInfo, 0, len(s.queue))
	for _, ev := range s.queue {
		infos = append(infos, EventInfo{
			Due:      ev.due,
			Kind:     ev.kind,
			Priority: ev.priority,
			Seq:      ev.seq,
			Tag:      ev.tag,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		a, b := infos[i], infos[j]
		if a.Due != b.Due {
			return a.Due < b.Due
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.Seq < b.Seq
	})
	return infos
}

func (s *Scheduler) dispatchDue() {
	for len(s.queue) > 0 && s.queue[0].due <= s.now {
		ev := heap.Pop(&s.queue).(*event)
		ev.state = stateFired
		ev.callback()
	}
}

// eventQueue orders events by (due, priority, seq). The seq tie-break makes
// dispatch order independent of heap internals, so two runs with identical
// inputs dispatch identically.
type eventQueue []*event

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	if a.due != b.due {
		return a.due < b.due
	}
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	return a.seq < b.seq
}

func (q eventQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *eventQueue) Push(x interface{}) {
	ev := x.(*event)
	ev.index = len(*q)
	*q = append(*q, ev)
}

func (q *eventQueue) Pop() interface{} {
	old := *q
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	ev.index = -1
	*q = old[:n-1]
	return ev
}
