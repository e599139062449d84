package console

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"

	"backplane/bus"
	"backplane/machine"
	"backplane/sched"
	"backplane/script"
	"backplane/signal"
	"backplane/traps"
)

// ErrQuit is returned by Exec when the operator asks to leave.
var ErrQuit = errors.New("console: quit")

// Monitor interprets operator commands against a machine. All memory
// inspection goes through the side-effect-free debug surface; deposits
// go through privileged physical writes, so no device ever mistakes the
// operator for the guest.
type Monitor struct {
	mach   *machine.Machine
	out    Writer
	engine *script.Engine
	token  bus.PrivToken
}

// NewMonitor wires a monitor to a machine.
func NewMonitor(m *machine.Machine, out Writer, logger *log.Logger) *Monitor {
	return &Monitor{
		mach:   m,
		out:    out,
		engine: script.New(m.Traps, logger),
		token:  bus.NewPrivToken("monitor"),
	}
}

// Exec runs one command line. It returns ErrQuit on the quit command and
// nil otherwise; command failures are reported to the writer, not the
// caller, so a typo never tears the shell down.
func (mon *Monitor) Exec(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "x", "examine":
		mon.examine(args)
	case "d", "deposit":
		mon.deposit(args)
	case "step":
		mon.step(args)
	case "run":
		mon.runToEvent()
	case "events":
		mon.events()
	case "traps":
		mon.traps(args)
	case "bank":
		mon.bank(args)
	case "slots":
		mon.slotTable()
	case "lines":
		mon.lines()
	case "lua":
		mon.lua(args)
	case "reset":
		mon.mach.Reset()
		mon.printf("reset")
	case "help", "?":
		mon.printf("x d step run events traps bank slots lines lua reset quit")
	case "q", "quit", "exit":
		return ErrQuit
	default:
		mon.printf("unknown command %q (try help)", cmd)
	}
	return nil
}

func (mon *Monitor) printf(format string, args ...interface{}) {
	mon.out.WriteConsole(fmt.Sprintf(format, args...))
}

func (mon *Monitor) examine(args []string) {
	if len(args) < 1 {
		mon.printf("usage: x <addr> [count]")
		return
	}
	addr, err := parseNum(args[0])
	if err != nil {
		mon.printf("bad address %q", args[0])
		return
	}
	n := 16
	if len(args) > 1 {
		c, err := parseNum(args[1])
		if err != nil || c == 0 {
			mon.printf("bad count %q", args[1])
			return
		}
		n = int(c)
	}
	if uint64(addr)+uint64(n) > uint64(mon.mach.Bus.Size()) {
		mon.printf("range %#x+%#x is off the bus", addr, n)
		return
	}
	data := mon.mach.Bus.PeekBytes(addr, n)
	for i := 0; i < len(data); i += 16 {
		end := i + 16
		if end > len(data) {
			end = len(data)
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "%06X:", addr+uint32(i))
		for _, b := range data[i:end] {
			fmt.Fprintf(&sb, " %02X", b)
		}
		mon.printf("%s", sb.String())
	}
}

func (mon *Monitor) deposit(args []string) {
	if len(args) < 2 {
		mon.printf("usage: d <addr> <byte>...")
		return
	}
	addr, err := parseNum(args[0])
	if err != nil {
		mon.printf("bad address %q", args[0])
		return
	}
	data := make([]byte, 0, len(args)-1)
	for _, a := range args[1:] {
		v, err := parseNum(a)
		if err != nil || v > 0xFF {
			mon.printf("bad byte %q", a)
			return
		}
		data = append(data, byte(v))
	}

	e := mon.mach.Bus.Entry(addr)
	if !e.Mapped() {
		mon.printf("%#x is unmapped", addr)
		return
	}
	pool, ok := mon.pool(e)
	if !ok {
		mon.printf("no backing pool behind %#x (%s)", addr, e.DeviceID)
		return
	}
	off := e.PhysBase + (addr & bus.PageMask)
	if err := pool.WritePhysical(mon.token, off, data); err != nil {
		mon.printf("deposit failed: %v", err)
		return
	}
	mon.printf("deposited %d byte(s) at %#x (%s)", len(data), addr, pool.Name())
}

// pool finds the physical pool behind a page entry. ROM pools carry a
// "rom:" prefix that the page entry's region id does not.
func (mon *Monitor) pool(e bus.PageEntry) (*bus.Physical, bool) {
	if p, ok := mon.mach.Pools[e.DeviceID]; ok {
		return p, true
	}
	if p, ok := mon.mach.Pools["rom:"+e.DeviceID]; ok {
		return p, true
	}
	return nil, false
}

func (mon *Monitor) step(args []string) {
	cycles := sched.Cycle(1)
	if len(args) > 0 {
		n, err := parseNum(args[0])
		if err != nil || n == 0 {
			mon.printf("bad cycle count %q", args[0])
			return
		}
		cycles = sched.Cycle(n)
	}
	mon.mach.Step(cycles)
	mon.printf("cycle %d", mon.mach.Clock.Now())
}

func (mon *Monitor) runToEvent() {
	if !mon.mach.RunUntilEvent() {
		mon.printf("nothing scheduled")
		return
	}
	mon.printf("cycle %d", mon.mach.Clock.Now())
}

func (mon *Monitor) events() {
	infos := mon.mach.Clock.Snapshot()
	if len(infos) == 0 {
		mon.printf("no pending events")
		return
	}
	mon.printf("now %d, %d pending:", mon.mach.Clock.Now(), len(infos))
	for _, ev := range infos {
		mon.printf("  %10d %-12s prio %3d  %s", ev.Due, ev.Kind, ev.Priority, ev.Tag)
	}
}

func (mon *Monitor) traps(args []string) {
	if len(args) == 2 && (args[0] == "on" || args[0] == "off") {
		n := mon.mach.Traps.SetCategoryEnabled(args[1], args[0] == "on")
		mon.printf("category %q: %d trap(s) now %s", args[1], n, args[0])
		return
	}
	if len(args) != 0 {
		mon.printf("usage: traps [on|off <category>]")
		return
	}
	list := mon.mach.Traps.List()
	if len(list) == 0 {
		mon.printf("no traps registered")
		return
	}
	for _, t := range list {
		state := "on"
		if !t.Enabled {
			state = "off"
		}
		slot := ""
		if t.Slot != traps.NoSlot {
			slot = fmt.Sprintf(" slot %d", t.Slot)
		}
		mon.printf("  %06X %-5s %-3s %-12s %s%s", t.Addr, t.Op, state, t.Category, t.Name, slot)
	}
}

func (mon *Monitor) bank(args []string) {
	stack := mon.mach.Overlay
	if stack == nil {
		mon.printf("no overlay range on this machine")
		return
	}
	if len(args) == 1 {
		found := false
		for _, e := range stack.Entries() {
			stack.SetActive(e.RegionID, e.RegionID == args[0])
			if e.RegionID == args[0] {
				found = true
			}
		}
		if !found {
			mon.printf("no mapping %q on the overlay stack", args[0])
			return
		}
		stack.Install(mon.mach.Bus)
	}
	entries := stack.Entries()
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		marker := " "
		if live, ok := stack.Active(); ok && live.RegionID == e.RegionID {
			marker = "*"
		}
		mon.printf("  %s %-14s active=%v %s", marker, e.RegionID, e.Active, e.Entry.Tag)
	}
}

func (mon *Monitor) slotTable() {
	sel := mon.mach.Slots.SelectedExpansion()
	for n := 1; n < mon.mach.Slots.NumSlots(); n++ {
		card := mon.mach.Slots.Card(n)
		name := "(empty)"
		if card != nil {
			name = card.Name()
		}
		marker := " "
		if n == sel {
			marker = "*"
		}
		mon.printf("  %s slot %d: %s", marker, n, name)
	}
}

func (mon *Monitor) lines() {
	mon.reportLine("IRQ", mon.mach.Lines.Holders(signal.IRQ))
	mon.reportLine("NMI", mon.mach.Lines.Holders(signal.NMI))
}

func (mon *Monitor) reportLine(name string, holders []string) {
	if len(holders) == 0 {
		mon.printf("  %s: clear", name)
		return
	}
	sort.Strings(holders)
	mon.printf("  %s: asserted by %s", name, strings.Join(holders, ", "))
}

func (mon *Monitor) lua(args []string) {
	if len(args) != 1 {
		mon.printf("usage: lua <file>")
		return
	}
	n, err := mon.engine.LoadFile(args[0])
	if err != nil {
		mon.printf("lua: %v", err)
		return
	}
	mon.printf("registered %d trap(s) from %s", n, args[0])
}

// parseNum accepts decimal, 0x hex and 0o octal.
func parseNum(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	return uint32(v), err
}
