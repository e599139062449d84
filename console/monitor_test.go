package console

import (
	"errors"
	"strings"
	"testing"

	"backplane/machine"
	"backplane/sched"
	"backplane/traps"
)

// journal collects monitor output for assertions.
type journal struct {
	lines []string
}

func (j *journal) WriteConsole(msg string) error {
	j.lines = append(j.lines, msg)
	return nil
}

func (j *journal) text() string {
	return strings.Join(j.lines, "\n")
}

func buildMachine(t *testing.T) *machine.Machine {
	t.Helper()
	rom := make([]byte, machine.OverlaySize)
	for i := range rom {
		rom[i] = byte(i ^ 0xA5)
	}
	m, err := machine.Build(machine.Bundle{
		BusSize:     0x10000,
		RAMSize:     0x10000,
		RAMPriority: machine.DefaultRAMPriority,
		ROMs: []machine.ROMImage{
			{Name: "system", Base: machine.OverlayBase, Data: rom},
		},
		WireIOPage: true,
		OverlayROM: "system",
	}, nil)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	return m
}

func newTestMonitor(t *testing.T) (*Monitor, *journal) {
	t.Helper()
	j := &journal{}
	return NewMonitor(buildMachine(t), j, nil), j
}

func TestMonitor_depositExamineRoundTrip(t *testing.T) {
	mon, j := newTestMonitor(t)

	if err := mon.Exec("d 0x2000 0xDE 0xAD 0xBE 0xEF"); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := mon.Exec("x 0x2000 4"); err != nil {
		t.Fatalf("examine: %v", err)
	}
	if !strings.Contains(j.text(), "002000: DE AD BE EF") {
		t.Fatalf("examine output missing deposited bytes:\n%s", j.text())
	}

	got := mon.mach.Bus.PeekBytes(0x2000, 4)
	want := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("memory after deposit = % X, want % X", got, want)
		}
	}
}

func TestMonitor_examineOffBus(t *testing.T) {
	mon, j := newTestMonitor(t)
	mon.Exec("x 0xFFF0 32")
	if !strings.Contains(j.text(), "off the bus") {
		t.Fatalf("expected range rejection, got:\n%s", j.text())
	}
}

func TestMonitor_badArguments(t *testing.T) {
	mon, j := newTestMonitor(t)
	for _, line := range []string{
		"x", "x zzz", "d 0x100", "d 0x100 0x1FF", "step 0", "lua a b",
	} {
		if err := mon.Exec(line); err != nil {
			t.Fatalf("Exec(%q) returned error %v, want report on console", line, err)
		}
	}
	if len(j.lines) != 6 {
		t.Fatalf("got %d report lines, want one per bad command:\n%s", len(j.lines), j.text())
	}
}

func TestMonitor_stepAndRun(t *testing.T) {
	mon, j := newTestMonitor(t)

	fired := false
	mon.mach.Clock.ScheduleAt(500, sched.KindDevice, 0, func() { fired = true }, "probe")

	mon.Exec("step 100")
	if now := mon.mach.Clock.Now(); now != 100 {
		t.Fatalf("after step 100: cycle %d, want 100", now)
	}
	mon.Exec("run")
	if now := mon.mach.Clock.Now(); now != 500 || !fired {
		t.Fatalf("after run: cycle %d fired=%v, want 500 true", now, fired)
	}

	j.lines = nil
	mon.Exec("run")
	if !strings.Contains(j.text(), "nothing scheduled") {
		t.Fatalf("run on empty queue: got %q", j.text())
	}
}

func TestMonitor_eventsListing(t *testing.T) {
	mon, j := newTestMonitor(t)
	mon.mach.Clock.ScheduleAt(30, sched.KindMedia, 0, func() {}, "spindle")
	mon.mach.Clock.ScheduleAt(10, sched.KindDevice, 0, func() {}, "uart")

	mon.Exec("events")
	text := j.text()
	if !strings.Contains(text, "uart") || !strings.Contains(text, "spindle") {
		t.Fatalf("events output missing tags:\n%s", text)
	}
	if strings.Index(text, "uart") > strings.Index(text, "spindle") {
		t.Fatalf("events not in due order:\n%s", text)
	}
}

func TestMonitor_trapToggle(t *testing.T) {
	mon, j := newTestMonitor(t)
	err := mon.mach.Traps.Register(0xFDED, traps.OpCall, "COUT", "firmware", traps.NoSlot,
		func(interface{}, traps.Memory) traps.Result { return traps.Result{Handled: true} }, "")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	mon.Exec("traps off firmware")
	if got := mon.mach.Traps.List()[0].Enabled; got {
		t.Fatalf("trap still enabled after traps off")
	}
	j.lines = nil
	mon.Exec("traps")
	if !strings.Contains(j.text(), "COUT") || !strings.Contains(j.text(), "off") {
		t.Fatalf("traps listing:\n%s", j.text())
	}
}

func TestMonitor_bankSwitch(t *testing.T) {
	mon, j := newTestMonitor(t)
	romByte := mon.mach.Bus.Peek(machine.OverlayBase)

	mon.Exec("bank overlay-ram")
	if got := mon.mach.Bus.Peek(machine.OverlayBase); got == romByte {
		t.Fatalf("overlay still shows ROM byte %#x after banking RAM in", got)
	}
	mon.Exec("bank overlay-rom")
	if got := mon.mach.Bus.Peek(machine.OverlayBase); got != romByte {
		t.Fatalf("overlay shows %#x after banking ROM back, want %#x", got, romByte)
	}

	j.lines = nil
	mon.Exec("bank nonsense")
	if !strings.Contains(j.text(), "no mapping") {
		t.Fatalf("bank with unknown region: got %q", j.text())
	}
}

func TestMonitor_quitAndUnknown(t *testing.T) {
	mon, j := newTestMonitor(t)
	if err := mon.Exec("quit"); !errors.Is(err, ErrQuit) {
		t.Fatalf("quit returned %v, want ErrQuit", err)
	}
	if err := mon.Exec("frobnicate"); err != nil {
		t.Fatalf("unknown command returned %v", err)
	}
	if !strings.Contains(j.text(), "unknown command") {
		t.Fatalf("no report for unknown command:\n%s", j.text())
	}
	if err := mon.Exec("   "); err != nil || len(j.lines) != 1 {
		t.Fatalf("blank line should be a no-op")
	}
}
