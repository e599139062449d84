package bus

import "backplane/sched"

// Page geometry. 4 KiB pages keep the table small while still letting one
// I/O page own its own handler; anything finer goes through a composite
// target or a mapping stack, never through a smaller page.
const (
	PageShift = 12
	PageSize  = 1 << PageShift
	PageMask  = PageSize - 1
)

// FloatingBus is what an unmapped or unresponsive address reads as. Real
// hardware of this class floats high, so it is all-ones, uniformly.
const FloatingBus byte = 0xFF

// Width is an access width in bits.
type Width int

const (
	Width8  Width = 8
	Width16 Width = 16
	Width32 Width = 32
)

// Bytes returns the access width in bytes.
func (w Width) Bytes() uint32 {
	return uint32(w) / 8
}

// Mode says whether a wide access may hit the target in one piece or must
// be decomposed into byte accesses. Crossing a page boundary forces
// decomposition regardless of the requested mode.
type Mode int

const (
	Atomic Mode = iota
	Decomposed
)

// Intent says what kind of agent is on the bus and why. Targets use it to
// tell a CPU fetch from a debugger peek from a DMA burst.
type Intent int

const (
	DataRead Intent = iota
	DataWrite
	InstructionFetch
	DebugRead
	DebugWrite
	DmaRead
	DmaWrite
)

func (i Intent) String() string {
	switch i {
	case DataRead:
		return "data-read"
	case DataWrite:
		return "data-write"
	case InstructionFetch:
		return "fetch"
	case DebugRead:
		return "debug-read"
	case DebugWrite:
		return "debug-write"
	case DmaRead:
		return "dma-read"
	case DmaWrite:
		return "dma-write"
	default:
		return "intent(?)"
	}
}

// Access flags.
const (
	// NoSideFx marks an access that must not disturb device state, even
	// through a non-debug intent (e.g. a disassembler reading ahead).
	NoSideFx = 1 << iota

	// BigEndian assembles wide values big-endian. Default is
	// little-endian.
	BigEndian
)

// Access is one bus transaction: everything a target, a trap, or a log
// line needs to know about who is touching what and how.
type Access struct {
	Addr   uint32
	Value  uint32 // for writes
	Width  Width
	Mode   Mode
	Intent Intent
	Source string // originating device or tool, for logs
	Cycle  sched.Cycle
	Flags  int
}

// SideEffectFree reports whether the access is forbidden from mutating
// device state: any debug intent, or an explicit NoSideFx flag.
func (a Access) SideEffectFree() bool {
	return a.Intent == DebugRead || a.Intent == DebugWrite || a.Flags&NoSideFx != 0
}

// IsWrite reports whether the access carries data toward the target.
func (a Access) IsWrite() bool {
	return a.Intent == DataWrite || a.Intent == DebugWrite || a.Intent == DmaWrite
}
