// Package devices holds the cards shipped with the core. They are also
// the reference implementations of the device contract: schedule events
// instead of polling, assert signal lines instead of reaching into the
// CPU, stay peek-safe for the monitor.
package devices

import (
	"backplane/bus"
	"backplane/machine"
	"backplane/sched"
	"backplane/signal"
)

// Ticker register offsets within its page.
const (
	regCtrl     = 0 // bit 0 run, bit 1 IRQ enable
	regStatus   = 1 // bit 0 tick strobe; reading clears it and drops IRQ
	regPeriodLo = 2
	regPeriodHi = 3

	ctrlRun = 1 << 0
	ctrlIRQ = 1 << 1

	statusTick = 1 << 0

	// power-on period, in cycles
	defaultPeriod = 1000
)

// Ticker is an interval timer card: program a period, set it running, and
// it strobes its status register every period cycles, optionally pulling
// IRQ. The strobe clears on a normal status read; debug reads see it
// without clearing it.
type Ticker struct {
	name string
	base uint32

	ctrl   byte
	status byte
	period uint16

	clock  *sched.Scheduler
	lines  *signal.Lines
	handle sched.Handle
	ticks  uint64
}

// NewTicker returns a ticker whose register page starts at base (page
// aligned).
func NewTicker(name string, base uint32) *Ticker {
	return &Ticker{name: name, base: base, period: defaultPeriod}
}

func (t *Ticker) Name() string {
	return t.name
}

// Regions claims the ticker's register page.
func (t *Ticker) Regions() []machine.Region {
	return []machine.Region{{
		Name:     t.name,
		Base:     t.base,
		Size:     bus.PageSize,
		Tag:      bus.TagIo,
		Priority: 5,
		Caps:     bus.Caps{CanPeek: true, HasSideFx: true},
		Target:   t,
	}}
}

// Initialize grabs the scheduler and signal lines. The ticker powers on
// stopped, so it schedules nothing yet.
func (t *Ticker) Initialize(ctx *machine.Context) error {
	t.clock = ctx.Clock
	t.lines = ctx.Lines
	return nil
}

// Reset restores power-on state: stopped, strobe clear, IRQ released,
// pending tick cancelled. Bus registration is untouched.
func (t *Ticker) Reset() {
	t.clock.Cancel(t.handle)
	t.handle = sched.Handle{}
	t.ctrl = 0
	t.status = 0
	t.period = defaultPeriod
	t.ticks = 0
	t.lines.Release(signal.IRQ, t.name)
}

// Ticks reports how many times the ticker has fired since reset.
func (t *Ticker) Ticks() uint64 {
	return t.ticks
}

func (t *Ticker) ReadByte(acc bus.Access) byte {
	switch acc.Addr - t.base {
	case regCtrl:
		return t.ctrl
	case regStatus:
		v := t.status
		t.status &^= statusTick // read clears the strobe
		t.lines.Release(signal.IRQ, t.name)
		return v
	case regPeriodLo:
		return byte(t.period)
	case regPeriodHi:
		return byte(t.period >> 8)
	default:
		return bus.FloatingBus
	}
}

func (t *Ticker) WriteByte(acc bus.Access, data byte) {
	switch acc.Addr - t.base {
	case regCtrl:
		was := t.ctrl
		t.ctrl = data
		if data&ctrlRun != 0 && was&ctrlRun == 0 {
			t.schedule()
		}
		if data&ctrlRun == 0 && was&ctrlRun != 0 {
			t.clock.Cancel(t.handle)
			t.handle = sched.Handle{}
		}
		if data&ctrlIRQ == 0 {
			t.lines.Release(signal.IRQ, t.name)
		}
	case regStatus:
		// write clears the strobe too
		t.status &^= statusTick
		t.lines.Release(signal.IRQ, t.name)
	case regPeriodLo:
		t.period = t.period&0xFF00 | uint16(data)
	case regPeriodHi:
		t.period = t.period&0x00FF | uint16(data)<<8
	}
}

// Peek serves the monitor: register values with no strobe clear, no IRQ
// drop, no anything.
func (t *Ticker) Peek(addr uint32) byte {
	switch addr - t.base {
	case regCtrl:
		return t.ctrl
	case regStatus:
		return t.status
	case regPeriodLo:
		return byte(t.period)
	case regPeriodHi:
		return byte(t.period >> 8)
	default:
		return bus.FloatingBus
	}
}

func (t *Ticker) schedule() {
	period := sched.Cycle(t.period)
	if period == 0 {
		period = 1
	}
	t.handle = t.clock.ScheduleAfter(period, sched.KindDevice, 0, t.tick, t.name)
}

func (t *Ticker) tick() {
	t.ticks++
	t.status |= statusTick
	if t.ctrl&ctrlIRQ != 0 {
		t.lines.Assert(signal.IRQ, t.name)
	}
	if t.ctrl&ctrlRun != 0 {
		t.schedule()
	}
}
