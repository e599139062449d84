package machine

import (
	"fmt"
	"log"

	"backplane/bus"
	"backplane/sched"
	"backplane/signal"
	"backplane/slots"
	"backplane/traps"
)

// Device is the contract every peripheral satisfies. Initialize runs once,
// after every device exists and the bus is wired, so a device may schedule
// its first event there. Reset restores power-on state; it must not
// re-register bus handlers.
type Device interface {
	Name() string
	Initialize(ctx *Context) error
	Reset()
}

// RegionProvider is an optional Device extension: a device that owns
// addressable state contributes its regions to placement.
type RegionProvider interface {
	Regions() []Region
}

// CPU is the external collaborator driving the timeline. The core never
// implements one; it only calls Step for one instruction's worth of work
// and collects the cycles consumed.
type CPU interface {
	Step() int
	Reset()
}

// Context is what a device gets at Initialize: explicit handles, no
// global registry to rummage in.
type Context struct {
	Bus   *bus.Bus
	Clock *sched.Scheduler
	Lines *signal.Lines
	Traps *traps.Registry
	Log   *log.Logger
}

// ROMImage is one ROM to place during bring-up.
type ROMImage struct {
	Name     string
	Base     uint32
	Data     []byte
	Priority int
}

// Bundle is the only configuration shape the core accepts. An external
// loader produces it; bring-up consumes it.
type Bundle struct {
	BusSize uint32 // 0 means DefaultBusSize

	RAMSize     uint32
	RAMBase     uint32
	RAMPriority int // 0 is a real priority; set DefaultRAMPriority explicitly if unsure

	ROMs    []ROMImage
	Regions []Region // extra regions beyond RAM/ROM
	Devices []Device
	Cards   map[int]slots.Card

	NumSlots int // 0 means 8

	// WireIOPage installs the composite I/O page (soft switches, slot
	// firmware windows, shared expansion ROM window).
	WireIOPage bool

	// OverlayROM names the ROM image to put on the overlay mapping stack
	// with a RAM bank underneath. Empty means no overlay.
	OverlayROM string

	CPU   CPU
	Debug bool
}

// Machine is a fully wired backplane. It is only ever produced complete:
// bring-up either returns a machine or an error, never both.
type Machine struct {
	Bus     *bus.Bus
	Clock   *sched.Scheduler
	Lines   *signal.Lines
	Traps   *traps.Registry
	Slots   *slots.Manager
	Pools   map[string]*bus.Physical
	Overlay *bus.MappingStack

	devices []Device
	cpu     CPU
	ioPage  *ioPage
	log     *log.Logger
}

// Build assembles a machine from a bundle: place regions, materialize the
// page table, wire slots and traps, then let every device initialize.
// Any failure aborts bring-up before execution begins.
func Build(b Bundle, logger *log.Logger) (*Machine, error) {
	busSize := b.BusSize
	if busSize == 0 {
		busSize = DefaultBusSize
	}
	if !pageAligned(busSize) {
		return nil, fmt.Errorf("machine: bus size %#x not page aligned", busSize)
	}
	if b.RAMSize == 0 {
		return nil, fmt.Errorf("machine: bundle has no RAM")
	}
	if len(b.ROMs) == 0 {
		return nil, fmt.Errorf("machine: bundle has no boot ROM")
	}
	numSlots := b.NumSlots
	if numSlots == 0 {
		numSlots = 8
	}

	clock := sched.New()
	lines := signal.NewLines()
	registry := traps.NewRegistry(busSize, logger)
	busOut := bus.New(busSize, clock, registry, logger)
	slotMgr := slots.NewManager(numSlots, logger)
	registry.SetSlotQuery(func(slot int) bool {
		return slotMgr.SelectedExpansion() == slot
	})

	m := &Machine{
		Bus:     busOut,
		Clock:   clock,
		Lines:   lines,
		Traps:   registry,
		Slots:   slotMgr,
		Pools:   make(map[string]*bus.Physical),
		devices: b.Devices,
		cpu:     b.CPU,
		log:     logger,
	}

	regions, err := m.assembleRegions(b)
	if err != nil {
		return nil, err
	}
	placed, err := placeRegions(regions, busSize)
	if err != nil {
		return nil, err
	}
	for i := range placed {
		placed[i].install(busOut)
		if logger != nil {
			logger.Printf("region %q: %d pages at %#x (tag %s, priority %d)",
				placed[i].Name, len(placed[i].pages), placed[i].Base,
				placed[i].Tag, placed[i].Priority)
		}
	}

	if b.OverlayROM != "" {
		if err := m.wireOverlay(b); err != nil {
			return nil, err
		}
	}
	if b.WireIOPage {
		m.ioPage = newIOPage(m)
		busOut.Map(IOPageBase>>bus.PageShift, bus.PageEntry{
			DeviceID: "io",
			Tag:      bus.TagIo,
			Caps:     bus.Caps{HasSideFx: true},
			Target:   m.ioPage,
		})
	}

	for slot, card := range b.Cards {
		if err := slotMgr.Attach(slot, card); err != nil {
			return nil, err
		}
	}

	if b.CPU != nil {
		busOut.SetCPU(b.CPU)
	}

	ctx := &Context{Bus: busOut, Clock: clock, Lines: lines, Traps: registry, Log: logger}
	for _, dev := range b.Devices {
		if err := dev.Initialize(ctx); err != nil {
			return nil, fmt.Errorf("machine: device %q failed to initialize: %w", dev.Name(), err)
		}
		if logger != nil {
			logger.Printf("device %q initialized", dev.Name())
		}
	}
	return m, nil
}

// assembleRegions turns the bundle into the region list handed to
// placement: main RAM, each ROM (the overlay ROM is withheld for the
// mapping stack), extra bundle regions, and device-contributed regions.
func (m *Machine) assembleRegions(b Bundle) ([]Region, error) {
	mainRAM := bus.NewPhysical(MainRAMPool, b.RAMSize, m.log)
	m.Pools[MainRAMPool] = mainRAM

	regions := []Region{{
		Name:     MainRAMPool,
		Base:     b.RAMBase,
		Size:     b.RAMSize,
		Tag:      bus.TagRam,
		Priority: b.RAMPriority,
		Caps:     bus.Caps{CanPeek: true, CanWide: false},
		Target:   bus.NewRAM(mainRAM.View(0, b.RAMSize), b.RAMBase),
	}}

	for _, img := range b.ROMs {
		if len(img.Data) == 0 {
			return nil, fmt.Errorf("machine: ROM image %q is empty", img.Name)
		}
		pool := bus.NewPhysical("rom:"+img.Name, uint32(len(img.Data)), m.log)
		if err := pool.LoadImage(0, img.Data); err != nil {
			return nil, err
		}
		m.Pools[pool.Name()] = pool
		if img.Name == b.OverlayROM {
			continue // lives on the mapping stack, not in flat placement
		}
		regions = append(regions, Region{
			Name:     img.Name,
			Base:     img.Base,
			Size:     uint32(len(img.Data)),
			Tag:      bus.TagRom,
			Priority: img.Priority,
			Caps:     bus.Caps{CanPeek: true},
			Target:   bus.NewROM(pool.View(0, pool.Size()), img.Base),
		})
	}

	regions = append(regions, b.Regions...)
	for _, dev := range b.Devices {
		if rp, ok := dev.(RegionProvider); ok {
			regions = append(regions, rp.Regions()...)
		}
	}
	return regions, nil
}

// wireOverlay builds the ROM/RAM mapping stack for the overlay range and
// installs its power-on state (ROM in).
func (m *Machine) wireOverlay(b Bundle) error {
	pool, ok := m.Pools["rom:"+b.OverlayROM]
	if !ok {
		return fmt.Errorf("machine: overlay ROM %q not in bundle", b.OverlayROM)
	}
	if pool.Size() < OverlaySize {
		return fmt.Errorf("machine: overlay ROM %q is %#x bytes, need %#x",
			b.OverlayROM, pool.Size(), OverlaySize)
	}
	overlayRAM := bus.NewPhysical(OverlayRAMPool, OverlaySize, m.log)
	m.Pools[OverlayRAMPool] = overlayRAM

	stack := bus.NewMappingStack(OverlayBase, OverlaySize)
	stack.Push(bus.MappingEntry{
		RegionID: overlayRAMRegion,
		Entry: bus.PageEntry{
			DeviceID: overlayRAMRegion,
			Tag:      bus.TagRam,
			Caps:     bus.Caps{CanPeek: true},
			Target:   bus.NewRAM(overlayRAM.View(0, OverlaySize), OverlayBase),
		},
	})
	stack.Push(bus.MappingEntry{
		RegionID: overlayROMRegion,
		Active:   true,
		Entry: bus.PageEntry{
			DeviceID: overlayROMRegion,
			Tag:      bus.TagRom,
			Caps:     bus.Caps{CanPeek: true},
			Target:   bus.NewROM(pool.View(0, OverlaySize), OverlayBase),
		},
	})
	stack.Install(m.Bus)
	m.Overlay = stack
	return nil
}

// Reset returns the machine to power-on state: pending events dropped,
// signal lines released, expansion window deselected, overlay ROM banked
// back in, devices and CPU reset. Bus handlers stay registered.
func (m *Machine) Reset() {
	m.Clock.Reset()
	m.Lines.Clear()
	m.Slots.Reset()
	if m.Overlay != nil {
		m.Overlay.SetActive(overlayRAMRegion, false)
		m.Overlay.SetActive(overlayROMRegion, true)
		m.Overlay.Install(m.Bus)
	}
	for _, dev := range m.devices {
		dev.Reset()
	}
	if m.cpu != nil {
		m.cpu.Reset()
	}
	if m.log != nil {
		m.log.Printf("machine reset")
	}
}

// Step runs the machine forward by at least the given number of cycles:
// CPU instructions report their cost and the scheduler dispatches whatever
// comes due. Without a CPU the timeline alone advances.
func (m *Machine) Step(cycles sched.Cycle) {
	if m.cpu == nil {
		m.Clock.Advance(cycles)
		return
	}
	var spent sched.Cycle
	for spent < cycles {
		consumed := sched.Cycle(m.cpu.Step())
		if consumed == 0 {
			consumed = 1 // a stuck CPU must not stall the timeline
		}
		m.Clock.Advance(consumed)
		spent += consumed
	}
}

// RunUntilEvent fast-forwards idle time to the next scheduled event.
func (m *Machine) RunUntilEvent() bool {
	return m.Clock.JumpToNextEventAndDispatch()
}

// Devices returns the machine's devices, in bundle order.
func (m *Machine) Devices() []Device {
	return m.devices
}
