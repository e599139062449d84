package script

import (
	"errors"
	"testing"

	"backplane/traps"
)

type scratchMemory struct {
	cells map[uint32]byte
}

func newScratch() *scratchMemory {
	return &scratchMemory{cells: make(map[uint32]byte)}
}

func (m *scratchMemory) ReadByte(addr uint32) byte        { return m.cells[addr] }
func (m *scratchMemory) WriteByte(addr uint32, data byte) { m.cells[addr] = data }

func TestLoadAndFire(t *testing.T) {
	reg := traps.NewRegistry(0x10000, nil)
	e := New(reg, nil)
	defer e.Close()

	n, err := e.LoadString(`
		traps = {
			{ addr = 0xFDED, op = "call", name = "COUT", category = "firmware",
			  handler = function(addr)
				writebyte(0x24, readbyte(0x24) + 1)
				return true
			  end },
			{ addr = 0xC000, op = "read", name = "KBD", category = "io",
			  handler = function(addr) return true, 0x8D end },
		}
	`)
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	if n != 2 {
		t.Fatalf("registered %d traps, want 2", n)
	}

	mem := newScratch()
	mem.cells[0x24] = 7

	res := reg.TryExecute(0xFDED, traps.OpCall, nil, mem)
	if !res.Handled || res.Replace {
		t.Fatalf("call trap: got %+v, want handled without replacement", res)
	}
	if mem.cells[0x24] != 8 {
		t.Fatalf("handler side effect: cell 0x24 = %d, want 8", mem.cells[0x24])
	}

	res = reg.TryExecute(0xC000, traps.OpRead, nil, mem)
	if !res.Handled || !res.Replace || res.Value != 0x8D {
		t.Fatalf("read trap: got %+v, want handled with value 0x8D", res)
	}
}

func TestHandlerDeclinesAndErrors(t *testing.T) {
	reg := traps.NewRegistry(0x10000, nil)
	e := New(reg, nil)
	defer e.Close()

	if _, err := e.LoadString(`
		traps = {
			{ addr = 0x1000, op = "call", name = "decline",
			  handler = function(addr) return false end },
			{ addr = 0x2000, op = "call", name = "broken",
			  handler = function(addr) error("boom") end },
		}
	`); err != nil {
		t.Fatalf("LoadString: %v", err)
	}

	mem := newScratch()
	if res := reg.TryExecute(0x1000, traps.OpCall, nil, mem); res.Handled {
		t.Fatalf("declining handler reported handled: %+v", res)
	}
	// a scripting error degrades to not-handled instead of panicking
	if res := reg.TryExecute(0x2000, traps.OpCall, nil, mem); res.Handled {
		t.Fatalf("failing handler reported handled: %+v", res)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		src  string
	}{
		{"no traps table", `x = 1`},
		{"entry not a table", `traps = { 42 }`},
		{"missing name", `traps = { { addr = 0x100, handler = function() end } }`},
		{"missing handler", `traps = { { addr = 0x100, name = "t" } }`},
		{"bad op", `traps = { { addr = 0x100, name = "t", op = "jump", handler = function() end } }`},
		{"syntax error", `traps = {`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reg := traps.NewRegistry(0x10000, nil)
			e := New(reg, nil)
			defer e.Close()
			if _, err := e.LoadString(tc.src); err == nil {
				t.Fatalf("LoadString accepted %q", tc.src)
			}
		})
	}
}

func TestDuplicateAcrossLoads(t *testing.T) {
	reg := traps.NewRegistry(0x10000, nil)
	e := New(reg, nil)
	defer e.Close()

	src := `traps = { { addr = 0x300, op = "call", name = "once",
		handler = function(addr) return true end } }`
	if _, err := e.LoadString(src); err != nil {
		t.Fatalf("first load: %v", err)
	}
	_, err := e.LoadString(src)
	if !errors.Is(err, traps.ErrDuplicateTrap) {
		t.Fatalf("second load: got %v, want ErrDuplicateTrap", err)
	}
}

func TestSlotBinding(t *testing.T) {
	reg := traps.NewRegistry(0x10000, nil)
	selected := -1
	reg.SetSlotQuery(func(slot int) bool { return slot == selected })

	e := New(reg, nil)
	defer e.Close()

	if _, err := e.LoadString(`
		traps = { { addr = 0xC80A, op = "read", name = "disk-data", slot = 6,
			handler = function(addr) return true, 0xD5 end } }
	`); err != nil {
		t.Fatalf("LoadString: %v", err)
	}

	mem := newScratch()
	if res := reg.TryExecute(0xC80A, traps.OpRead, nil, mem); res.Handled {
		t.Fatalf("slot trap fired with no slot selected")
	}
	selected = 6
	if res := reg.TryExecute(0xC80A, traps.OpRead, nil, mem); !res.Handled || res.Value != 0xD5 {
		t.Fatalf("slot trap with slot 6 selected: got %+v", res)
	}
}
