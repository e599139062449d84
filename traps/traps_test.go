package traps

import (
	"errors"
	"testing"
)

type fakeMemory struct {
	bytes map[uint32]byte
}

func (m *fakeMemory) ReadByte(addr uint32) byte {
	return m.bytes[addr]
}

func (m *fakeMemory) WriteByte(addr uint32, data byte) {
	m.bytes[addr] = data
}

func handled(_ interface{}, _ Memory) Result {
	return Result{Handled: true}
}

func TestRegistry_registerAndExecute(t *testing.T) {
	r := NewRegistry(0x10000, nil)
	fired := 0
	err := r.Register(0xFDED, OpCall, "COUT", "firmware", NoSlot,
		func(_ interface{}, _ Memory) Result {
			fired++
			return Result{Handled: true}
		}, "character output")
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	if res := r.TryExecute(0xFDED, OpCall, nil, nil); !res.Handled {
		t.Error("TryExecute() at registered address not handled")
	}
	if fired != 1 {
		t.Errorf("handler fired %d times, want 1", fired)
	}

	// different op at the same address is a miss
	if res := r.TryExecute(0xFDED, OpRead, nil, nil); res.Handled {
		t.Error("TryExecute() fired for the wrong operation")
	}
	if res := r.TryExecute(0x1234, OpCall, nil, nil); res.Handled {
		t.Error("TryExecute() fired at an unregistered address")
	}
}

func TestRegistry_duplicateRegistration(t *testing.T) {
	r := NewRegistry(0x10000, nil)
	if err := r.Register(0xFCA8, OpCall, "WAIT", "firmware", NoSlot, handled, ""); err != nil {
		t.Fatalf("first Register() error: %v", err)
	}
	err := r.Register(0xFCA8, OpCall, "WAIT2", "firmware", NoSlot, handled, "")
	if !errors.Is(err, ErrDuplicateTrap) {
		t.Errorf("duplicate Register() error = %v, want ErrDuplicateTrap", err)
	}

	// same address, other operation is fine
	if err := r.Register(0xFCA8, OpRead, "WAIT-rd", "diagnostics", NoSlot, handled, ""); err != nil {
		t.Errorf("Register() other op at same address: %v", err)
	}
}

func TestRegistry_registerValidation(t *testing.T) {
	r := NewRegistry(0x100, nil)
	if err := r.Register(0x200, OpRead, "oob", "x", NoSlot, handled, ""); err == nil {
		t.Error("Register() beyond table size did not fail")
	}
	if err := r.Register(0x10, OpRead, "nil", "x", NoSlot, nil, ""); err == nil {
		t.Error("Register() with nil handler did not fail")
	}
}

func TestRegistry_enableToggles(t *testing.T) {
	r := NewRegistry(0x10000, nil)
	mustRegister(t, r, 0xF000, OpCall, "BOOT", "firmware")
	mustRegister(t, r, 0xF100, OpCall, "BELL", "firmware")
	mustRegister(t, r, 0xC090, OpWrite, "PRN", "diagnostics")

	if !r.SetEnabled(0xF000, OpCall, false) {
		t.Error("SetEnabled() on registered trap = false")
	}
	if r.SetEnabled(0x1000, OpCall, false) {
		t.Error("SetEnabled() on empty address = true")
	}
	if res := r.TryExecute(0xF000, OpCall, nil, nil); res.Handled {
		t.Error("disabled trap fired")
	}

	if n := r.SetCategoryEnabled("firmware", false); n != 2 {
		t.Errorf("SetCategoryEnabled(firmware) touched %d traps, want 2", n)
	}
	if res := r.TryExecute(0xF100, OpCall, nil, nil); res.Handled {
		t.Error("category-disabled trap fired")
	}
	if res := r.TryExecute(0xC090, OpWrite, nil, nil); !res.Handled {
		t.Error("trap in a different category was disabled too")
	}

	if n := r.SetCategoryEnabled("firmware", true); n != 2 {
		t.Errorf("re-enable touched %d traps, want 2", n)
	}
	if res := r.TryExecute(0xF100, OpCall, nil, nil); !res.Handled {
		t.Error("re-enabled trap did not fire")
	}
}

func TestRegistry_slotDependentTraps(t *testing.T) {
	r := NewRegistry(0x10000, nil)
	mustRegisterSlot(t, r, 0xC80A, OpCall, "SMARTPORT", "firmware", 5)

	// no query installed: slot-dependent traps stay dormant
	if res := r.TryExecute(0xC80A, OpCall, nil, nil); res.Handled {
		t.Error("slot trap fired with no slot query installed")
	}

	selected := -1
	r.SetSlotQuery(func(slot int) bool { return slot == selected })

	if res := r.TryExecute(0xC80A, OpCall, nil, nil); res.Handled {
		t.Error("slot trap fired while window deselected")
	}

	// selection is re-checked at fire time, not registration time
	selected = 5
	if res := r.TryExecute(0xC80A, OpCall, nil, nil); !res.Handled {
		t.Error("slot trap did not fire while its window was selected")
	}
	selected = 3
	if res := r.TryExecute(0xC80A, OpCall, nil, nil); res.Handled {
		t.Error("slot trap fired while another slot owned the window")
	}
}

func TestRegistry_unregister(t *testing.T) {
	r := NewRegistry(0x10000, nil)
	mustRegister(t, r, 0xFDED, OpCall, "COUT", "firmware")

	if !r.Unregister(0xFDED, OpCall) {
		t.Error("Unregister() = false for registered trap")
	}
	if r.Unregister(0xFDED, OpCall) {
		t.Error("second Unregister() = true")
	}
	if r.Count() != 0 {
		t.Errorf("Count() = %d after unregister, want 0", r.Count())
	}
	// slot is free again
	if err := r.Register(0xFDED, OpCall, "COUT2", "firmware", NoSlot, handled, ""); err != nil {
		t.Errorf("Register() after Unregister(): %v", err)
	}
}

func TestRegistry_list(t *testing.T) {
	r := NewRegistry(0x10000, nil)
	mustRegister(t, r, 0xF100, OpCall, "BELL", "firmware")
	mustRegister(t, r, 0xC090, OpWrite, "PRN", "diagnostics")
	mustRegister(t, r, 0xC090, OpRead, "PRN-rd", "diagnostics")

	infos := r.List()
	if len(infos) != 3 {
		t.Fatalf("List() returned %d entries, want 3", len(infos))
	}
	wantNames := []string{"PRN-rd", "PRN", "BELL"}
	for i, want := range wantNames {
		if infos[i].Name != want {
			t.Errorf("List()[%d].Name = %s, want %s", i, infos[i].Name, want)
		}
	}
}

func TestRegistry_handlerSeesMemory(t *testing.T) {
	r := NewRegistry(0x10000, nil)
	mem := &fakeMemory{bytes: map[uint32]byte{0x24: 0x07}}
	err := r.Register(0xFC22, OpCall, "VTAB", "firmware", NoSlot,
		func(_ interface{}, m Memory) Result {
			// read the cursor row, bump it, write it back
			row := m.ReadByte(0x24)
			m.WriteByte(0x24, row+1)
			return Result{Handled: true}
		}, "")
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	if res := r.TryExecute(0xFC22, OpCall, nil, mem); !res.Handled {
		t.Fatal("trap not handled")
	}
	if mem.bytes[0x24] != 0x08 {
		t.Errorf("handler write not visible: got %#x, want 0x08", mem.bytes[0x24])
	}
}

func mustRegister(t *testing.T, r *Registry, addr uint32, op Operation, name, category string) {
	t.Helper()
	if err := r.Register(addr, op, name, category, NoSlot, handled, ""); err != nil {
		t.Fatalf("Register(%s): %v", name, err)
	}
}

func mustRegisterSlot(t *testing.T, r *Registry, addr uint32, op Operation, name, category string, slot int) {
	t.Helper()
	if err := r.Register(addr, op, name, category, slot, handled, ""); err != nil {
		t.Fatalf("Register(%s): %v", name, err)
	}
}
