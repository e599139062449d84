package machine

import "backplane/bus"

// Memory-map constants for the machine definition. Devices never hardcode
// these: they arrive through the bring-up bundle and the device context,
// so an alternate machine definition can move them.
const (
	// DefaultBusSize is the bounded address space when the bundle does
	// not say otherwise.
	DefaultBusSize = 0x100000 // 1 MiB

	// IOPageBase is the one 4K page that is carved up below page
	// granularity by the composite I/O target.
	IOPageBase = 0xC000

	// Soft switches occupy the first 256 bytes of the I/O page.
	SoftSwitchSize = 0x100

	// Each populated slot n (1..7) gets the 256-byte firmware window at
	// IOPageBase + n*0x100.
	SlotFirmwareBase = IOPageBase + 0x100
	SlotFirmwareEnd  = IOPageBase + 0x800

	// The shared expansion ROM window, owned by at most one slot.
	ExpansionROMBase = IOPageBase + 0x800
	ExpansionROMSize = 0x800

	// Touching this address always releases the expansion ROM window.
	ExpansionROMDeselect = IOPageBase + 0xFFF

	// The bank-switched overlay range: system ROM on top, writable RAM
	// underneath, swapped by soft switches.
	OverlayBase = 0xD000
	OverlaySize = 0x3000
)

// Soft-switch offsets within the I/O page. Touching them (read or write)
// is what operates them.
const (
	SwitchOverlayROM    = 0x80 // bank the system ROM into the overlay range
	SwitchOverlayRAM    = 0x81 // bank the overlay RAM in
	SwitchOverlayStatus = 0x90 // read: bit 7 set while RAM is banked in
)

// Region ids used on the overlay mapping stack.
const (
	overlayROMRegion = "overlay-rom"
	overlayRAMRegion = "overlay-ram"
)

// Default placement priorities; lower wins a contested page.
const (
	DefaultROMPriority = 0
	DefaultRAMPriority = 1
	ioPagePriority     = -100
)

// Pool names surfaced in Machine.Pools.
const (
	MainRAMPool    = "main-ram"
	OverlayRAMPool = "overlay-ram"
)

// pageAligned reports whether v sits on a page boundary.
func pageAligned(v uint32) bool {
	return v&bus.PageMask == 0
}
