// Package slots manages the machine's numbered expansion slots and the
// one shared expansion ROM window they all compete for.
package slots

import (
	"fmt"
	"log"
)

// Card is what a peripheral in a slot must provide. Firmware reads serve
// the card's private 256-byte window; expansion reads serve the shared 2K
// window while (and only while) this card owns it.
type Card interface {
	Name() string
	FirmwareRead(offset uint32) byte
	ExpansionRead(offset uint32) byte
	OnExpansionROMSelected()
	OnExpansionROMDeselected()
}

// None means no slot's expansion window is selected.
const None = -1

// Manager tracks which card sits in which slot and which slot, if any,
// currently owns the shared expansion ROM window. At most one slot owns
// it at a time; that is a hardware invariant, not a convention.
type Manager struct {
	cards    []Card
	selected int
	log      *log.Logger
}

// NewManager returns a manager with the given number of slots, all empty,
// window deselected.
func NewManager(numSlots int, logger *log.Logger) *Manager {
	return &Manager{
		cards:    make([]Card, numSlots),
		selected: None,
		log:      logger,
	}
}

// NumSlots returns the number of slots on the backplane.
func (m *Manager) NumSlots() int {
	return len(m.cards)
}

// Attach seats a card in slot n. Fails on a bad slot number or an
// occupied slot; cards do not stack.
func (m *Manager) Attach(n int, c Card) error {
	if n < 0 || n >= len(m.cards) {
		return fmt.Errorf("slots: no slot %d (backplane has %d)", n, len(m.cards))
	}
	if m.cards[n] != nil {
		return fmt.Errorf("slots: slot %d already holds %q", n, m.cards[n].Name())
	}
	if c == nil {
		return fmt.Errorf("slots: nil card for slot %d", n)
	}
	m.cards[n] = c
	if m.log != nil {
		m.log.Printf("slot %d: %s attached", n, c.Name())
	}
	return nil
}

// Card returns the card in slot n, or nil.
func (m *Manager) Card(n int) Card {
	if n < 0 || n >= len(m.cards) {
		return nil
	}
	return m.cards[n]
}

// SelectedExpansion returns the slot currently owning the expansion ROM
// window, or None.
func (m *Manager) SelectedExpansion() int {
	return m.selected
}

// SelectExpansion gives slot n the shared expansion ROM window. Any
// previous owner is synchronously deselected first, so both cards observe
// the handover in order: old OnExpansionROMDeselected, then new
// OnExpansionROMSelected. Selecting the current owner again is a no-op.
func (m *Manager) SelectExpansion(n int) error {
	if n < 0 || n >= len(m.cards) || m.cards[n] == nil {
		return fmt.Errorf("slots: cannot select expansion ROM for empty slot %d", n)
	}
	if m.selected == n {
		return nil
	}
	m.DeselectExpansion()
	m.selected = n
	m.cards[n].OnExpansionROMSelected()
	if m.log != nil {
		m.log.Printf("slot %d: expansion ROM window selected (%s)", n, m.cards[n].Name())
	}
	return nil
}

// DeselectExpansion releases the window, notifying the owner. Wired to
// the sentinel address: touching it always lands here.
func (m *Manager) DeselectExpansion() {
	if m.selected == None {
		return
	}
	prev := m.selected
	m.selected = None
	m.cards[prev].OnExpansionROMDeselected()
	if m.log != nil {
		m.log.Printf("slot %d: expansion ROM window deselected", prev)
	}
}

// ExpansionRead serves a read from the shared window: the owning card
// answers, nobody answers if the window is unclaimed.
func (m *Manager) ExpansionRead(offset uint32) (byte, bool) {
	if m.selected == None {
		return 0, false
	}
	return m.cards[m.selected].ExpansionRead(offset), true
}

// Reset releases the window and leaves the cards seated, as a machine
// reset would.
func (m *Manager) Reset() {
	m.DeselectExpansion()
}
