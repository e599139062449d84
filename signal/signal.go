// Package signal models the machine's interrupt request lines. It lives
// in its own package for the same reason the lines live on their own
// backplane wires: everything touches them, and nothing should have to
// import the bus to do it.
package signal

import "sort"

// Line identifies one wired-OR signal line.
type Line int

const (
	IRQ Line = iota
	NMI
	ResetLine

	lineCount
)

func (l Line) String() string {
	switch l {
	case IRQ:
		return "IRQ"
	case NMI:
		return "NMI"
	case ResetLine:
		return "RESET"
	default:
		return "LINE(?)"
	}
}

// Lines tracks, per line, which sources are currently pulling it low.
// A line is asserted while at least one source holds it; a source
// releasing a line it never asserted is a no-op. Pure state, fully
// deterministic: no channels, no goroutines.
type Lines struct {
	holders [lineCount]map[string]struct{}
}

// NewLines returns all lines released.
func NewLines() *Lines {
	l := &Lines{}
	for i := range l.holders {
		l.holders[i] = make(map[string]struct{})
	}
	return l
}

// Assert pulls the line on behalf of source. Asserting twice from the
// same source is idempotent.
func (l *Lines) Assert(line Line, source string) {
	l.holders[line][source] = struct{}{}
}

// Release lets go of the line on behalf of source.
func (l *Lines) Release(line Line, source string) {
	delete(l.holders[line], source)
}

// Asserted reports whether any source holds the line.
func (l *Lines) Asserted(line Line) bool {
	return len(l.holders[line]) > 0
}

// Holders returns the sources currently holding the line, sorted, for the
// monitor.
func (l *Lines) Holders(line Line) []string {
	out := make([]string, 0, len(l.holders[line]))
	for s := range l.holders[line] {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Clear releases every line, as a power cycle would.
func (l *Lines) Clear() {
	for i := range l.holders {
		l.holders[i] = make(map[string]struct{})
	}
}
