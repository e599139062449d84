package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/jroimartin/gocui"

	"backplane/console"
	"backplane/devices"
	"backplane/logger"
	"backplane/machine"
)

var (
	romPath = flag.String("rom", "", "system ROM image (12K); built-in test pattern if empty")
	logPath = flag.String("log", "", "debug log file; stdout if empty")
	simple  = flag.Bool("simple", false, "plain stdin/stdout monitor, no terminal UI")
)

func main() {
	flag.Parse()
	debugLog := logger.New(*logPath, "backplane:")

	m, err := buildMachine(debugLog)
	if err != nil {
		log.Fatalf("bring-up failed: %v", err)
	}

	if *simple {
		runSimple(m, debugLog)
		return
	}

	g, err := gocui.NewGui(gocui.OutputNormal)
	if err != nil {
		log.Panicln("couldn't create gui:", err)
	}
	defer g.Close()

	g.SetManagerFunc(layout)
	g.Cursor = true

	if err := g.SetKeybinding("", gocui.KeyCtrlC, gocui.ModNone, quit); err != nil {
		log.Panicln(err)
	}

	g.Update(func(g *gocui.Gui) error {
		return startMachine(g, m, debugLog)
	})

	if err := g.MainLoop(); err != nil && err != gocui.ErrQuit {
		log.Panicln(err)
	}
}

// buildMachine assembles the demo map: 48K of RAM, the bank-switched
// system ROM over the overlay range, the composite I/O page and an
// interval timer card up at 0x10000.
func buildMachine(debugLog *log.Logger) (*machine.Machine, error) {
	rom, err := loadROM()
	if err != nil {
		return nil, err
	}
	return machine.Build(machine.Bundle{
		BusSize:     0x20000,
		RAMSize:     0x10000,
		RAMPriority: machine.DefaultRAMPriority,
		ROMs: []machine.ROMImage{
			{Name: "system", Base: machine.OverlayBase, Data: rom},
		},
		WireIOPage: true,
		OverlayROM: "system",
		Devices:    []machine.Device{devices.NewTicker("timer", 0x10000)},
	}, debugLog)
}

func loadROM() ([]byte, error) {
	if *romPath == "" {
		rom := make([]byte, machine.OverlaySize)
		for i := range rom {
			rom[i] = byte(i ^ 0xA5)
		}
		return rom, nil
	}
	data, err := os.ReadFile(*romPath)
	if err != nil {
		return nil, err
	}
	if len(data) != machine.OverlaySize {
		return nil, fmt.Errorf("ROM image %s is %d bytes, want %d",
			*romPath, len(data), machine.OverlaySize)
	}
	return data, nil
}

// runSimple is the no-UI path: read commands from stdin, answer on stdout.
func runSimple(m *machine.Machine, debugLog *log.Logger) {
	mon := console.NewMonitor(m, console.NewSimple(), debugLog)
	in := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(". ")
		if !in.Scan() {
			return
		}
		if err := mon.Exec(in.Text()); err != nil {
			return
		}
	}
}

func startMachine(g *gocui.Gui, m *machine.Machine, debugLog *log.Logger) error {
	statusView, err := g.View("status")
	if err != nil {
		return err
	}
	statusView.Clear()
	statusView.Autoscroll = true

	fmt.Fprintf(statusView, "backplane monitor; type help for commands\n")

	mon := console.NewMonitor(m, console.NewGui(g, "status"), debugLog)

	if err := g.SetKeybinding("input", gocui.KeyEnter, gocui.ModNone,
		func(g *gocui.Gui, v *gocui.View) error {
			line := strings.TrimSpace(v.Buffer())
			v.Clear()
			v.SetCursor(0, 0)
			if err := mon.Exec(line); err == console.ErrQuit {
				return gocui.ErrQuit
			}
			return nil
		}); err != nil {
		return err
	}
	if _, err := g.SetCurrentView("input"); err != nil {
		return err
	}

	updateMachineView(m, g)
	return nil
}

// updateMachineView refreshes the timeline summary once a second.
// gocui allows view writes only through the update loop.
func updateMachineView(m *machine.Machine, g *gocui.Gui) {
	ticker := time.NewTicker(time.Second)

	go func() {
		for range ticker.C {
			g.Update(func(g *gocui.Gui) error {
				v, err := g.View("machine")
				if err != nil {
					return err
				}
				v.Clear()
				fmt.Fprintf(v, " cycle %d  pending events %d  expansion slot %d",
					m.Clock.Now(), m.Clock.Pending(), m.Slots.SelectedExpansion())
				return nil
			})
		}
	}()
}

// gocui layout: status log on top, one-line timeline summary, then the
// command input line.
func layout(g *gocui.Gui) error {
	maxX, maxY := g.Size()
	if v, err := g.SetView("status", 0, 0, maxX-1, maxY-6); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Status"
	}

	if v, err := g.SetView("machine", 0, maxY-5, maxX-1, maxY-3); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Machine"
	}

	if v, err := g.SetView("input", 0, maxY-2, maxX-1, maxY); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Command"
		v.Editable = true
	}
	return nil
}

func quit(g *gocui.Gui, v *gocui.View) error {
	return gocui.ErrQuit
}
