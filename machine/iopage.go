package machine

import "backplane/bus"

// ioPage is the composite target for the machine's 4K I/O page: 256 bytes
// of soft switches, seven 256-byte slot firmware windows, and the shared
// 2K expansion ROM window — three kinds of hardware on one page row,
// routed by offset so the page table never fragments below 4K.
type ioPage struct {
	m        *Machine
	switches softSwitches
	firmware slotFirmware
	window   expansionWindow
}

func newIOPage(m *Machine) *ioPage {
	p := &ioPage{m: m}
	p.switches.m = m
	p.firmware.m = m
	p.window.m = m
	return p
}

func (p *ioPage) ReadByte(acc bus.Access) byte {
	if t := p.ResolveTarget(acc.Addr&bus.PageMask, acc.Intent); t != nil {
		return t.ReadByte(acc)
	}
	return bus.FloatingBus
}

func (p *ioPage) WriteByte(acc bus.Access, data byte) {
	if t := p.ResolveTarget(acc.Addr&bus.PageMask, acc.Intent); t != nil {
		t.WriteByte(acc, data)
	}
}

func (p *ioPage) ResolveTarget(offset uint32, intent bus.Intent) bus.Target {
	switch {
	case offset < SoftSwitchSize:
		return &p.switches
	case offset < SlotFirmwareEnd-IOPageBase:
		return &p.firmware
	default:
		return &p.window
	}
}

// softSwitches operates the bank switches. Touching a switch operates it:
// reads and writes do the same thing, which is why this sub-target must
// never see debug traffic (the page row has CanPeek off).
type softSwitches struct {
	m *Machine
}

func (s *softSwitches) ReadByte(acc bus.Access) byte {
	return s.touch(acc.Addr & bus.PageMask)
}

func (s *softSwitches) WriteByte(acc bus.Access, data byte) {
	s.touch(acc.Addr & bus.PageMask)
}

func (s *softSwitches) touch(offset uint32) byte {
	m := s.m
	switch offset {
	case SwitchOverlayROM:
		if m.Overlay != nil {
			m.Overlay.SetActive(overlayRAMRegion, false)
			m.Overlay.Install(m.Bus)
		}
	case SwitchOverlayRAM:
		if m.Overlay != nil {
			m.Overlay.SetActive(overlayRAMRegion, true)
			m.Overlay.Install(m.Bus)
		}
	case SwitchOverlayStatus:
		if m.Overlay != nil {
			if e, ok := m.Overlay.Active(); ok && e.RegionID == overlayRAMRegion {
				return 0x80
			}
		}
		return 0x00
	}
	return bus.FloatingBus
}

// slotFirmware serves the per-slot 256-byte windows. Touching slot n's
// window hands n the shared expansion ROM window, which is how cards get
// their 2K ROM banked in on real hardware.
type slotFirmware struct {
	m *Machine
}

func (f *slotFirmware) ReadByte(acc bus.Access) byte {
	offset := acc.Addr & bus.PageMask
	slot := int(offset >> 8)
	card := f.m.Slots.Card(slot)
	if card == nil {
		return bus.FloatingBus
	}
	_ = f.m.Slots.SelectExpansion(slot)
	return card.FirmwareRead(offset & 0xFF)
}

func (f *slotFirmware) WriteByte(acc bus.Access, data byte) {
	slot := int((acc.Addr & bus.PageMask) >> 8)
	if f.m.Slots.Card(slot) != nil {
		_ = f.m.Slots.SelectExpansion(slot)
	}
}

// expansionWindow serves the shared 2K window for whichever card owns it.
// The top byte of the page is the deselect sentinel: any touch releases
// the window.
type expansionWindow struct {
	m *Machine
}

func (w *expansionWindow) ReadByte(acc bus.Access) byte {
	if acc.Addr == ExpansionROMDeselect {
		w.m.Slots.DeselectExpansion()
		return bus.FloatingBus
	}
	offset := acc.Addr - ExpansionROMBase
	if v, ok := w.m.Slots.ExpansionRead(offset); ok {
		return v
	}
	return bus.FloatingBus
}

func (w *expansionWindow) WriteByte(acc bus.Access, data byte) {
	if acc.Addr == ExpansionROMDeselect {
		w.m.Slots.DeselectExpansion()
	}
	// the window is ROM: other writes land nowhere
}
