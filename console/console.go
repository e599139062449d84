// Package console is the operator's front panel: output writers for the
// gocui shell and plain stdout, and the monitor that interprets commands
// against a running machine.
package console

import (
	"fmt"
	"os"
	"strings"

	"github.com/jroimartin/gocui"
)

/*
The monitor runs in the status view of the gocui shell, or directly on
stdout when no terminal UI is wanted (tests, batch use).

commands:
  - x <addr> [n]      examine memory, side-effect free
  - d <addr> <b>...   deposit bytes into the backing pool
  - step [cycles]     run the CPU / timeline forward
  - run               fast-forward to the next scheduled event
  - events            show the pending event queue
  - traps [on|off <category>]
  - bank [<region>]   show or switch the overlay mapping stack
  - slots             show attached cards and the expansion window
  - lines             show asserted interrupt lines and their holders
  - lua <file>        load trap handlers from a Lua script
  - reset             power-on reset
  - quit
*/

// Writer is where monitor output goes.
type Writer interface {
	WriteConsole(msg string) error
}

// Gui writes to a gocui view through the update loop; gocui only allows
// view writes from inside Update.
type Gui struct {
	consoleOut chan string
	g          *gocui.Gui
	v          *gocui.View
}

// NewGui returns a writer bound to the named view and starts its
// update pump.
func NewGui(g *gocui.Gui, viewName string) *Gui {
	c := new(Gui)
	c.consoleOut = make(chan string)
	c.g = g
	c.v, _ = g.View(viewName)
	c.pump()
	return c
}

func (c *Gui) pump() {
	go func() {
		for {
			s := <-c.consoleOut
			c.g.Update(func(g *gocui.Gui) error {
				fmt.Fprintf(c.v, "%s", s)
				return nil
			})
		}
	}()
}

// WriteConsole displays a string in the bound view.
func (c *Gui) WriteConsole(msg string) error {
	for _, line := range strings.Split(msg, "\n") {
		if line != "" {
			c.consoleOut <- line + "\n"
			c.v.MoveCursor(0, 1, true)
		}
	}
	return nil
}

// Simple writes straight to stdout.
type Simple struct{}

// NewSimple returns a stdout-backed writer.
func NewSimple() *Simple {
	return &Simple{}
}

// WriteConsole displays a string on stdout.
func (c *Simple) WriteConsole(msg string) error {
	for _, line := range strings.Split(msg, "\n") {
		if line != "" {
			os.Stdout.Write([]byte(line + "\n"))
		}
	}
	return nil
}
