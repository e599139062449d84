package bus

// Target handles byte accesses for a page (or part of one, behind a
// Composite). Implementations receive the full Access: the bus has
// already routed it, but width, intent and cycle still matter to devices.
type Target interface {
	ReadByte(acc Access) byte
	WriteByte(acc Access, data byte)
}

// WideTarget is a Target that can take an aligned 16/32-bit access in one
// piece. The bus only uses it for atomic accesses that stay inside one
// page and whose page entry advertises CanWide.
type WideTarget interface {
	Target
	ReadWide(acc Access) uint32
	WriteWide(acc Access, data uint32)
}

// Peeker is a Target that can answer a read with zero observable side
// effects. Targets without it answer debug reads with the floating bus
// value rather than risk a strobe clear.
type Peeker interface {
	Peek(addr uint32) byte
}

// Composite is a Target that owns a page but routes by offset to finer
// sub-targets: the classic case is one 4K I/O page holding soft switches,
// per-slot firmware windows and a shared expansion ROM window. A nil
// result is the floating bus.
type Composite interface {
	Target
	ResolveTarget(offset uint32, intent Intent) Target
}

// RAM is a read/write Target over a window of physical memory.
type RAM struct {
	mem  []byte
	base uint32
}

// NewRAM returns a RAM target serving bus addresses [base, base+len(mem)).
func NewRAM(mem []byte, base uint32) *RAM {
	return &RAM{mem: mem, base: base}
}

func (r *RAM) ReadByte(acc Access) byte {
	return r.mem[acc.Addr-r.base]
}

func (r *RAM) WriteByte(acc Access, data byte) {
	r.mem[acc.Addr-r.base] = data
}

func (r *RAM) Peek(addr uint32) byte {
	return r.mem[addr-r.base]
}

// ROM is a read-only Target. Guest writes land nowhere, silently, the way
// a mask ROM ignores its write line. The privileged path in Physical is
// the only way to change its bytes.
type ROM struct {
	mem  []byte
	base uint32
}

// NewROM returns a ROM target serving bus addresses [base, base+len(mem)).
func NewROM(mem []byte, base uint32) *ROM {
	return &ROM{mem: mem, base: base}
}

func (r *ROM) ReadByte(acc Access) byte {
	return r.mem[acc.Addr-r.base]
}

func (r *ROM) WriteByte(acc Access, data byte) {
	// mask ROM: no write line
}

func (r *ROM) Peek(addr uint32) byte {
	return r.mem[addr-r.base]
}
