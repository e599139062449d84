package bus

import "fmt"

// MappingEntry is one candidate mapping for an address range: a region
// that can be banked in or out. The page entry is what lands in the page
// table when this candidate wins.
type MappingEntry struct {
	RegionID string
	Active   bool
	Entry    PageEntry
}

// MappingStack is the ordered list of candidate mappings for one
// page-aligned address range. At any moment the topmost entry with
// Active=true is the live one; everything below it is latent. This models
// ROM/RAM overlay switching (language-card style banking) without
// splitting the page table below its fixed granularity.
type MappingStack struct {
	base    uint32
	size    uint32
	entries []MappingEntry // index 0 is the bottom of the stack
}

// NewMappingStack creates an empty stack for [base, base+size). The range
// must be page-aligned: bank switching swaps whole page rows.
func NewMappingStack(base, size uint32) *MappingStack {
	if base&PageMask != 0 || size == 0 || size&PageMask != 0 {
		panic(fmt.Sprintf("bus: mapping stack [%#x,%#x) not page aligned", base, base+size))
	}
	return &MappingStack{base: base, size: size}
}

func (s *MappingStack) Base() uint32 {
	return s.base
}

func (s *MappingStack) Size() uint32 {
	return s.size
}

// Push adds a candidate on top of the stack.
func (s *MappingStack) Push(e MappingEntry) {
	s.entries = append(s.entries, e)
}

// Pop removes and returns the topmost candidate.
func (s *MappingStack) Pop() (MappingEntry, bool) {
	if len(s.entries) == 0 {
		return MappingEntry{}, false
	}
	top := s.entries[len(s.entries)-1]
	s.entries = s.entries[:len(s.entries)-1]
	return top, true
}

// SetActive flips the active flag of the named candidate. Returns false if
// no candidate carries that region id.
func (s *MappingStack) SetActive(regionID string, active bool) bool {
	for i := range s.entries {
		if s.entries[i].RegionID == regionID {
			s.entries[i].Active = active
			return true
		}
	}
	return false
}

// Replace swaps the named candidate for a new one in place, keeping its
// stack position. Returns false if no candidate carries that region id.
func (s *MappingStack) Replace(regionID string, e MappingEntry) bool {
	for i := range s.entries {
		if s.entries[i].RegionID == regionID {
			s.entries[i] = e
			return true
		}
	}
	return false
}

// Active returns the live candidate: the topmost entry with Active set.
func (s *MappingStack) Active() (MappingEntry, bool) {
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].Active {
			return s.entries[i], true
		}
	}
	return MappingEntry{}, false
}

// ToPageEntry materializes the live candidate as a page-table row. With no
// live candidate it reports an unmapped row (floating bus).
func (s *MappingStack) ToPageEntry() (PageEntry, bool) {
	e, ok := s.Active()
	if !ok {
		return PageEntry{Tag: TagUnmapped}, false
	}
	return e.Entry, true
}

// Install writes the live candidate's rows into the page table for the
// whole range. This is the bank-switch commit: it happens between
// accesses, never during one.
func (s *MappingStack) Install(b *Bus) {
	entry, _ := s.ToPageEntry()
	b.MapRange(s.base, s.size, entry)
}

// Entries returns a copy of the stack, bottom first, for the monitor.
func (s *MappingStack) Entries() []MappingEntry {
	out := make([]MappingEntry, len(s.entries))
	copy(out, s.entries)
	return out
}
