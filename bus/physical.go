package bus

import (
	"fmt"
	"log"
)

// Physical owns the raw bytes of one RAM or ROM pool. It carries no access
// semantics at all: targets and the debugger get views (slices) into it,
// never ownership, and the only write path that bypasses the bus is the
// explicitly privileged one below.
type Physical struct {
	name string
	mem  []byte
	log  *log.Logger
}

// NewPhysical allocates a pool of size bytes.
func NewPhysical(name string, size uint32, logger *log.Logger) *Physical {
	return &Physical{
		name: name,
		mem:  make([]byte, size),
		log:  logger,
	}
}

func (p *Physical) Name() string {
	return p.name
}

func (p *Physical) Size() uint32 {
	return uint32(len(p.mem))
}

// View returns the window [off, off+n) of the pool. The caller gets a
// slice aliasing the pool's storage; asking for a window outside the pool
// is a wiring bug and panics.
func (p *Physical) View(off, n uint32) []byte {
	if off+n < off || off+n > uint32(len(p.mem)) {
		panic(fmt.Sprintf("bus: view [%#x,%#x) outside pool %q (size %#x)",
			off, off+n, p.name, len(p.mem)))
	}
	return p.mem[off : off+n]
}

// LoadImage copies an image (ROM contents, boot block) into the pool at
// bring-up time.
func (p *Physical) LoadImage(off uint32, data []byte) error {
	if off+uint32(len(data)) < off || off+uint32(len(data)) > uint32(len(p.mem)) {
		return fmt.Errorf("bus: image of %d bytes does not fit pool %q at offset %#x",
			len(data), p.name, off)
	}
	copy(p.mem[off:], data)
	return nil
}

// Zero clears the pool, as a power cycle would.
func (p *Physical) Zero() {
	for i := range p.mem {
		p.mem[i] = 0
	}
}

// PrivToken authorizes direct physical writes. It is a separate type from
// Access on purpose: "the debugger changed memory" and "the guest changed
// memory" must never look alike in a log or a save state. Obtain one from
// NewPrivToken; the zero value authorizes nothing.
type PrivToken struct {
	owner string
}

// NewPrivToken issues a token naming its owner (a tool: "monitor",
// "loader", ...).
func NewPrivToken(owner string) PrivToken {
	return PrivToken{owner: owner}
}

// Owner returns the name the token was issued to.
func (t PrivToken) Owner() string {
	return t.owner
}

// WritePhysical stores bytes directly into the pool, bypassing every bus
// target and every device side effect. Rejects the zero token and writes
// that fall outside the pool.
func (p *Physical) WritePhysical(tok PrivToken, off uint32, data []byte) error {
	if tok.owner == "" {
		return fmt.Errorf("bus: physical write to %q without a privilege token", p.name)
	}
	if off+uint32(len(data)) < off || off+uint32(len(data)) > uint32(len(p.mem)) {
		return fmt.Errorf("bus: physical write [%#x,%#x) outside pool %q",
			off, off+uint32(len(data)), p.name)
	}
	copy(p.mem[off:], data)
	if p.log != nil {
		p.log.Printf("physical write: %s wrote %d bytes to %s+%#x", tok.owner, len(data), p.name, off)
	}
	return nil
}
