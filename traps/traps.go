package traps

import (
	"fmt"
	"log"
	"sort"
)

// Operation says which kind of bus transaction a trap intercepts. Call
// traps fire on instruction fetch at a reachable address; read and write
// traps fire on data accesses.
type Operation int

const (
	OpRead Operation = iota
	OpWrite
	OpCall

	opCount
)

func (op Operation) String() string {
	switch op {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpCall:
		return "call"
	default:
		return fmt.Sprintf("op(%d)", int(op))
	}
}

// Memory is the byte-level view a trap handler gets of the machine. It is
// a normal guest-visible view: reads and writes through it behave exactly
// like CPU accesses, side effects included.
type Memory interface {
	ReadByte(addr uint32) byte
	WriteByte(addr uint32, data byte)
}

// Result is what TryExecute reports back to the bus.
//
// Handled=false: nothing registered (or disabled), dispatch normally.
// Handled=true on a read: the trap consumed the access and Value is the
// byte it yields. Handled=true on a write: the access is consumed.
// Handled=true on a call: the routine ran natively; the fetched byte is
// only replaced (with Value) when Replace is set.
type Result struct {
	Handled bool
	Replace bool
	Value   byte
}

// NotHandled is the zero Result, returned on the hot miss path.
var NotHandled = Result{}

// Handler is a native implementation shadowing a firmware routine or a
// device register. cpu is the opaque CPU the machine was built with.
type Handler func(cpu interface{}, mem Memory) Result

// Info describes one registered trap, as surfaced to tooling.
type Info struct {
	Addr     uint32
	Op       Operation
	Name     string
	Category string
	Desc     string
	Enabled  bool

	// Slot >= 0 ties the trap to that slot's expansion ROM window: the
	// trap only fires while the window is selected. -1 means no
	// dependency.
	Slot int
}

type entry struct {
	info    Info
	handler Handler
}

// one cell per address; nil for the (vast) untrapped majority
type trapSet [opCount]*entry

// NoSlot marks a trap with no expansion-window dependency.
const NoSlot = -1

// ErrDuplicateTrap is returned when an (address, operation) pair is
// registered twice. That is a wiring bug, not a guest condition.
var ErrDuplicateTrap = fmt.Errorf("traps: duplicate registration")

// Registry is an O(1) address-to-handler table consulted by the bus on
// every fetch and data access. The address space is bounded, so the table
// is a flat array: the miss path is one index and one nil check, no
// allocation, no map hashing.
type Registry struct {
	table []*trapSet
	count int
	log   *log.Logger

	// consulted at fire time for slot-dependent traps; slot selection is
	// itself bus state and can change between registration and firing
	slotSelected func(slot int) bool
}

// NewRegistry returns a registry covering addresses [0, size).
func NewRegistry(size uint32, logger *log.Logger) *Registry {
	return &Registry{
		table: make([]*trapSet, size),
		log:   logger,
	}
}

// SetSlotQuery installs the hook that answers "is slot N's expansion ROM
// window currently selected". Installed once at machine wiring.
func (r *Registry) SetSlotQuery(fn func(slot int) bool) {
	r.slotSelected = fn
}

// Register installs a trap. A second registration at the same (address,
// operation) fails: shadowing a shadow is always a wiring mistake.
func (r *Registry) Register(addr uint32, op Operation, name, category string, slot int, handler Handler, desc string) error {
	if addr >= uint32(len(r.table)) {
		return fmt.Errorf("traps: address %#x outside trap table (size %#x)", addr, len(r.table))
	}
	if op < 0 || op >= opCount {
		return fmt.Errorf("traps: invalid operation %d", op)
	}
	if handler == nil {
		return fmt.Errorf("traps: nil handler for %q", name)
	}
	set := r.table[addr]
	if set == nil {
		set = &trapSet{}
		r.table[addr] = set
	}
	if set[op] != nil {
		return fmt.Errorf("%w: %s at %#x (existing %q, new %q)",
			ErrDuplicateTrap, op, addr, set[op].info.Name, name)
	}
	set[op] = &entry{
		info: Info{
			Addr:     addr,
			Op:       op,
			Name:     name,
			Category: category,
			Desc:     desc,
			Enabled:  true,
			Slot:     slot,
		},
		handler: handler,
	}
	r.count++
	if r.log != nil {
		r.log.Printf("trap registered: %s %s at %#x (category %s)", name, op, addr, category)
	}
	return nil
}

// Unregister removes a trap. Returns false if none was registered.
func (r *Registry) Unregister(addr uint32, op Operation) bool {
	if addr >= uint32(len(r.table)) || r.table[addr] == nil {
		return false
	}
	set := r.table[addr]
	if set[op] == nil {
		return false
	}
	set[op] = nil
	r.count--
	return true
}

// TryExecute looks up and runs the trap for (addr, op). This is on the
// fetch hot path: the common no-trap case must stay one bounds check, one
// load and one branch.
func (r *Registry) TryExecute(addr uint32, op Operation, cpu interface{}, mem Memory) Result {
	if addr >= uint32(len(r.table)) {
		return NotHandled
	}
	set := r.table[addr]
	if set == nil {
		return NotHandled
	}
	e := set[op]
	if e == nil || !e.info.Enabled {
		return NotHandled
	}
	if e.info.Slot != NoSlot {
		if r.slotSelected == nil || !r.slotSelected(e.info.Slot) {
			return NotHandled
		}
	}
	return e.handler(cpu, mem)
}

// Registered reports whether an enabled trap sits at (addr, op). The bus
// uses this to keep wide atomic accesses away from trapped bytes.
func (r *Registry) Registered(addr uint32, op Operation) bool {
	if addr >= uint32(len(r.table)) || r.table[addr] == nil {
		return false
	}
	e := r.table[addr][op]
	return e != nil && e.info.Enabled
}

// SetEnabled toggles one trap. Returns false if nothing is registered
// there.
func (r *Registry) SetEnabled(addr uint32, op Operation, enabled bool) bool {
	if addr >= uint32(len(r.table)) || r.table[addr] == nil {
		return false
	}
	e := r.table[addr][op]
	if e == nil {
		return false
	}
	e.info.Enabled = enabled
	return true
}

// SetCategoryEnabled toggles every trap in a category and returns how many
// it touched. This is the "authentic ROM" vs "fast native" switch.
func (r *Registry) SetCategoryEnabled(category string, enabled bool) int {
	n := 0
	for _, set := range r.table {
		if set == nil {
			continue
		}
		for _, e := range set {
			if e != nil && e.info.Category == category {
				e.info.Enabled = enabled
				n++
			}
		}
	}
	if r.log != nil {
		r.log.Printf("trap category %q -> enabled=%v (%d traps)", category, enabled, n)
	}
	return n
}

// Count returns the number of registered traps.
func (r *Registry) Count() int {
	return r.count
}

// List returns all registered traps sorted by address then operation.
func (r *Registry) List() []Info {
	infos := make([]Info, 0, r.count)
	for _, set := range r.table {
		if set == nil {
			continue
		}
		for _, e := range set {
			if e != nil {
				infos = append(infos, e.info)
			}
		}
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Addr != infos[j].Addr {
			return infos[i].Addr < infos[j].Addr
		}
		return infos[i].Op < infos[j].Op
	})
	return infos
}
