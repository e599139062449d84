package machine

import (
	"fmt"
	"sort"

	"backplane/bus"
)

// Region is one named piece of the memory map offered to bring-up: where
// it wants to live, how big it is, what answers there, and how hard it
// fights for contested pages.
type Region struct {
	Name string
	Base uint32
	Size uint32
	Tag  bus.RegionTag

	// Priority orders placement; lower value wins a contested page.
	Priority int

	// Relocatable regions move to a free gap instead of losing pages.
	Relocatable bool

	Caps   bus.Caps
	Target bus.Target

	// PhysOff is the region's offset into its backing pool, carried into
	// the page rows so tools can find the bytes.
	PhysOff uint32
}

// ErrRegionOverlap is the bring-up failure for an unplaceable memory map.
var ErrRegionOverlap = fmt.Errorf("machine: region placement conflict")

// placedRegion is a region after placement, possibly moved, possibly with
// some pages shadowed by stronger regions.
type placedRegion struct {
	Region
	pages []uint32 // base address of every page this region won
}

// placeRegions assembles the initial memory map. Regions are considered
// strongest first (priority ascending, insertion order breaking ties).
// A later, weaker region overlapping a placed one either relocates (if it
// may) or keeps only the pages nobody stronger claimed. Losing every page
// is a failure, as is a tie between two regions wanting the same page:
// both mean the bundle describes a machine that cannot exist.
func placeRegions(regions []Region, busSize uint32) ([]placedRegion, error) {
	for i := range regions {
		r := &regions[i]
		if r.Size == 0 {
			return nil, fmt.Errorf("machine: region %q has zero size", r.Name)
		}
		if !pageAligned(r.Base) {
			return nil, fmt.Errorf("machine: region %q base %#x not page aligned", r.Name, r.Base)
		}
		if !pageAligned(r.Size) {
			// round partial pages up: a page row is indivisible
			r.Size = (r.Size + bus.PageMask) &^ uint32(bus.PageMask)
		}
		if r.Base+r.Size < r.Base || r.Base+r.Size > busSize {
			return nil, fmt.Errorf("machine: region %q [%#x,%#x) outside address space (%#x)",
				r.Name, r.Base, r.Base+r.Size, busSize)
		}
	}

	order := make([]int, len(regions))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return regions[order[a]].Priority < regions[order[b]].Priority
	})

	owner := make(map[uint32]int) // page base -> index into regions
	placed := make([]placedRegion, 0, len(regions))

	for _, idx := range order {
		r := regions[idx]
		contested := false
		for page := r.Base; page < r.Base+r.Size; page += bus.PageSize {
			if _, taken := owner[page]; taken {
				contested = true
				break
			}
		}

		if contested && r.Relocatable {
			base, ok := findGap(owner, r.Size, busSize)
			if !ok {
				return nil, fmt.Errorf("%w: no free gap of %#x bytes for relocatable region %q",
					ErrRegionOverlap, r.Size, r.Name)
			}
			r.Base = base
			contested = false
		}

		p := placedRegion{Region: r}
		for page := r.Base; page < r.Base+r.Size; page += bus.PageSize {
			if prev, taken := owner[page]; taken {
				if regions[prev].Priority == r.Priority {
					return nil, fmt.Errorf("%w: %q and %q both want page %#x at priority %d",
						ErrRegionOverlap, regions[prev].Name, r.Name, page, r.Priority)
				}
				continue // shadowed by a stronger region
			}
			owner[page] = idx
			p.pages = append(p.pages, page)
		}
		if len(p.pages) == 0 {
			return nil, fmt.Errorf("%w: region %q is completely shadowed", ErrRegionOverlap, r.Name)
		}
		placed = append(placed, p)
	}
	return placed, nil
}

// findGap returns the lowest page-aligned base of a free run of size
// bytes, scanning the whole space.
func findGap(owner map[uint32]int, size, busSize uint32) (uint32, bool) {
	run := uint32(0)
	start := uint32(0)
	for page := uint32(0); page < busSize; page += bus.PageSize {
		if _, taken := owner[page]; taken {
			run = 0
			start = page + bus.PageSize
			continue
		}
		run += bus.PageSize
		if run >= size {
			return start, true
		}
	}
	return 0, false
}

// install writes a placed region's rows into the page table.
func (p *placedRegion) install(b *bus.Bus) {
	for _, page := range p.pages {
		b.Map(int(page>>bus.PageShift), bus.PageEntry{
			DeviceID: p.Name,
			Tag:      p.Tag,
			PhysBase: p.PhysOff + (page - p.Base),
			Caps:     p.Caps,
			Target:   p.Target,
		})
	}
}
