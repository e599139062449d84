package bus

import (
	"fmt"
	"log"

	"backplane/sched"
	"backplane/traps"
)

// RegionTag classifies what kind of hardware answers on a page.
type RegionTag int

const (
	TagUnmapped RegionTag = iota
	TagRam
	TagRom
	TagIo
	TagSlot
)

func (t RegionTag) String() string {
	switch t {
	case TagUnmapped:
		return "unmapped"
	case TagRam:
		return "ram"
	case TagRom:
		return "rom"
	case TagIo:
		return "io"
	case TagSlot:
		return "slot"
	default:
		return fmt.Sprintf("tag(%d)", int(t))
	}
}

// Caps declares what a page's target can do, so the bus can decide fast
// paths and debug policy without type assertions on the hot path.
type Caps struct {
	CanPeek   bool // side-effect-free reads possible
	CanWide   bool // aligned 16/32-bit single dispatch possible
	HasSideFx bool // reads or writes may change device state
}

// PageEntry is one row of the page table. Rows are created at bring-up and
// replaced whole by bank switches; they are never mutated mid-access.
type PageEntry struct {
	DeviceID string
	Tag      RegionTag
	PhysBase uint32
	Caps     Caps
	Target   Target
}

// Mapped reports whether anything answers on this page.
func (e PageEntry) Mapped() bool {
	return e.Target != nil
}

// Bus is the address-routing spine: a flat page table consulted in O(1)
// per access, trap interception, width decomposition and the floating-bus
// rule. One logical thread of control; nothing here blocks.
type Bus struct {
	pages []PageEntry
	size  uint32
	clock *sched.Scheduler
	traps *traps.Registry
	cpu   interface{}
	log   *log.Logger
}

// New builds a bus covering addresses [0, size). Size must be a non-zero
// multiple of the page size; anything else is a wiring bug.
func New(size uint32, clock *sched.Scheduler, registry *traps.Registry, logger *log.Logger) *Bus {
	if size == 0 || size&PageMask != 0 {
		panic(fmt.Sprintf("bus: size %#x is not a multiple of the page size", size))
	}
	return &Bus{
		pages: make([]PageEntry, size>>PageShift),
		size:  size,
		clock: clock,
		traps: registry,
		log:   logger,
	}
}

// Size returns the extent of the address space.
func (b *Bus) Size() uint32 {
	return b.size
}

// SetCPU installs the opaque CPU handed to trap handlers.
func (b *Bus) SetCPU(cpu interface{}) {
	b.cpu = cpu
}

// Map installs a page-table row. Page index out of range is a wiring bug.
func (b *Bus) Map(page int, e PageEntry) {
	if page < 0 || page >= len(b.pages) {
		panic(fmt.Sprintf("bus: page %d outside table (%d pages)", page, len(b.pages)))
	}
	b.pages[page] = e
}

// MapRange installs the same row across [base, base+size), advancing
// PhysBase page by page. Both bounds must be page aligned.
func (b *Bus) MapRange(base, size uint32, e PageEntry) {
	if base&PageMask != 0 || size&PageMask != 0 {
		panic(fmt.Sprintf("bus: range [%#x,%#x) not page aligned", base, base+size))
	}
	for off := uint32(0); off < size; off += PageSize {
		row := e
		if e.Mapped() {
			row.PhysBase = e.PhysBase + off
		}
		b.Map(int((base+off)>>PageShift), row)
	}
}

// Entry returns the page-table row covering addr.
func (b *Bus) Entry(addr uint32) PageEntry {
	b.checkRange(addr, 1)
	return b.pages[addr>>PageShift]
}

// Read performs one read transaction and returns its value, zero-extended
// to 32 bits. Unmapped and unresponsive addresses read as the floating
// bus, one 0xFF per byte; out-of-range addresses are the emulator's own
// bug and panic.
func (b *Bus) Read(acc Access) uint32 {
	n := acc.Width.Bytes()
	if n == 0 {
		panic(fmt.Sprintf("bus: read with invalid width %d", acc.Width))
	}
	b.checkRange(acc.Addr, n)
	b.stamp(&acc)

	if n == 1 {
		return uint32(b.readByte(acc))
	}
	if target, ok := b.widePath(acc, n); ok {
		return target.ReadWide(acc)
	}

	// decomposed: byte accesses in address order
	var val uint32
	for i := uint32(0); i < n; i++ {
		sub := acc
		sub.Addr = acc.Addr + i
		sub.Width = Width8
		sub.Mode = Decomposed
		data := b.readByte(sub)
		if acc.Flags&BigEndian != 0 {
			val = val<<8 | uint32(data)
		} else {
			val |= uint32(data) << (8 * i)
		}
	}
	return val
}

// Write performs one write transaction. Writes to unmapped or
// unresponsive addresses are discarded, matching hardware that simply has
// nobody driving the acknowledge line.
func (b *Bus) Write(acc Access) {
	n := acc.Width.Bytes()
	if n == 0 {
		panic(fmt.Sprintf("bus: write with invalid width %d", acc.Width))
	}
	b.checkRange(acc.Addr, n)
	b.stamp(&acc)

	if n == 1 {
		b.writeByte(acc, byte(acc.Value))
		return
	}
	if target, ok := b.widePath(acc, n); ok {
		target.WriteWide(acc, acc.Value)
		return
	}

	for i := uint32(0); i < n; i++ {
		sub := acc
		sub.Addr = acc.Addr + i
		sub.Width = Width8
		sub.Mode = Decomposed
		var data byte
		if acc.Flags&BigEndian != 0 {
			data = byte(acc.Value >> (8 * (n - 1 - i)))
		} else {
			data = byte(acc.Value >> (8 * i))
		}
		b.writeByte(sub, data)
	}
}

// Peek reads one byte with debug intent: no side effects, no traps.
func (b *Bus) Peek(addr uint32) byte {
	return b.readByte(Access{
		Addr:   addr,
		Width:  Width8,
		Intent: DebugRead,
		Source: "peek",
		Cycle:  b.now(),
	})
}

// PeekBytes reads a run of bytes with debug intent.
func (b *Bus) PeekBytes(addr uint32, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b.Peek(addr + uint32(i))
	}
	return out
}

// widePath decides whether a wide access may hit the target in one piece:
// atomic mode requested, no page crossing (hard invariant: a device never
// sees half of someone else's wide write), wide-capable row, a WideTarget
// behind it, no side-effect-free policy in play, and no trap registered on
// any covered byte. Everything else decomposes.
func (b *Bus) widePath(acc Access, n uint32) (WideTarget, bool) {
	if acc.Mode != Atomic || acc.SideEffectFree() {
		return nil, false
	}
	if acc.Addr>>PageShift != (acc.Addr+n-1)>>PageShift {
		return nil, false // crosses a page: always decompose
	}
	entry := &b.pages[acc.Addr>>PageShift]
	if !entry.Caps.CanWide || entry.Target == nil {
		return nil, false
	}
	target := entry.Target
	if comp, ok := target.(Composite); ok {
		target = comp.ResolveTarget(acc.Addr&PageMask, acc.Intent)
		if target == nil {
			return nil, false
		}
	}
	wide, ok := target.(WideTarget)
	if !ok {
		return nil, false
	}
	if op, trapped := trapOp(acc.Intent); trapped && b.traps != nil {
		for i := uint32(0); i < n; i++ {
			if b.traps.Registered(acc.Addr+i, op) {
				return nil, false
			}
		}
	}
	return wide, true
}

func (b *Bus) readByte(acc Access) byte {
	entry := &b.pages[acc.Addr>>PageShift]
	target := entry.Target
	if target == nil {
		return FloatingBus
	}
	if comp, ok := target.(Composite); ok {
		target = comp.ResolveTarget(acc.Addr&PageMask, acc.Intent)
		if target == nil {
			return FloatingBus
		}
	}

	// traps shadow the target, but never for debug, DMA or
	// side-effect-free traffic
	if !acc.SideEffectFree() {
		if op, ok := trapOp(acc.Intent); ok && b.traps != nil {
			res := b.traps.TryExecute(acc.Addr, op, b.cpu, b.guestView(acc.Cycle))
			if res.Handled {
				if op == traps.OpCall && !res.Replace {
					// routine ran natively; the fetch itself proceeds
				} else {
					return res.Value
				}
			}
		}
	}

	if acc.SideEffectFree() && entry.Caps.HasSideFx {
		if p, ok := target.(Peeker); ok && entry.Caps.CanPeek {
			return p.Peek(acc.Addr)
		}
		return FloatingBus
	}
	return target.ReadByte(acc)
}

func (b *Bus) writeByte(acc Access, data byte) {
	// debug and side-effect-free writes never reach targets; tools that
	// really mean it use the privileged physical path
	if acc.SideEffectFree() {
		return
	}

	entry := &b.pages[acc.Addr>>PageShift]
	target := entry.Target
	if target == nil {
		return
	}
	if comp, ok := target.(Composite); ok {
		target = comp.ResolveTarget(acc.Addr&PageMask, acc.Intent)
		if target == nil {
			return
		}
	}

	if op, ok := trapOp(acc.Intent); ok && b.traps != nil {
		res := b.traps.TryExecute(acc.Addr, op, b.cpu, b.guestView(acc.Cycle))
		if res.Handled {
			return
		}
	}

	acc.Value = uint32(data)
	target.WriteByte(acc, data)
}

func (b *Bus) checkRange(addr, n uint32) {
	if addr+n-1 < addr || addr+n-1 >= b.size {
		panic(fmt.Sprintf("bus: access [%#x,%#x) outside address space (%#x)",
			addr, addr+n, b.size))
	}
}

func (b *Bus) stamp(acc *Access) {
	acc.Cycle = b.now()
}

func (b *Bus) now() sched.Cycle {
	if b.clock == nil {
		return 0
	}
	return b.clock.Now()
}

func trapOp(i Intent) (traps.Operation, bool) {
	switch i {
	case DataRead:
		return traps.OpRead, true
	case DataWrite:
		return traps.OpWrite, true
	case InstructionFetch:
		return traps.OpCall, true
	default:
		return 0, false
	}
}

// guestView is the memory a trap handler sees: ordinary data accesses with
// device side effects, but no re-entry into the trap table (a native
// routine touching its own trapped address must not recurse).
type guestView struct {
	b     *Bus
	cycle sched.Cycle
}

func (b *Bus) guestView(cycle sched.Cycle) guestView {
	return guestView{b: b, cycle: cycle}
}

func (v guestView) ReadByte(addr uint32) byte {
	v.b.checkRange(addr, 1)
	acc := Access{
		Addr:   addr,
		Width:  Width8,
		Intent: DataRead,
		Source: "trap",
		Cycle:  v.cycle,
	}
	return v.b.dispatchReadByte(acc)
}

func (v guestView) WriteByte(addr uint32, data byte) {
	v.b.checkRange(addr, 1)
	acc := Access{
		Addr:   addr,
		Value:  uint32(data),
		Width:  Width8,
		Intent: DataWrite,
		Source: "trap",
		Cycle:  v.cycle,
	}
	v.b.dispatchWriteByte(acc, data)
}

// dispatchReadByte is readByte minus the trap consult.
func (b *Bus) dispatchReadByte(acc Access) byte {
	entry := &b.pages[acc.Addr>>PageShift]
	target := entry.Target
	if target == nil {
		return FloatingBus
	}
	if comp, ok := target.(Composite); ok {
		target = comp.ResolveTarget(acc.Addr&PageMask, acc.Intent)
		if target == nil {
			return FloatingBus
		}
	}
	return target.ReadByte(acc)
}

// dispatchWriteByte is writeByte minus the trap consult.
func (b *Bus) dispatchWriteByte(acc Access, data byte) {
	entry := &b.pages[acc.Addr>>PageShift]
	target := entry.Target
	if target == nil {
		return
	}
	if comp, ok := target.(Composite); ok {
		target = comp.ResolveTarget(acc.Addr&PageMask, acc.Intent)
		if target == nil {
			return
		}
	}
	target.WriteByte(acc, data)
}
