// Package script loads trap handlers written in Lua. It exists for the
// monitor: experimenting with firmware acceleration without recompiling
// the emulator.
package script

import (
	"fmt"
	"log"

	lua "github.com/yuin/gopher-lua"

	"backplane/traps"
)

// Engine owns one Lua state and the traps registered from it. Single
// logical thread of control, like everything else: handlers run inline
// with the bus access that fired them.
type Engine struct {
	L        *lua.LState
	registry *traps.Registry
	log      *log.Logger

	// the memory view of the access currently being handled; only valid
	// while a handler is on the stack
	mem traps.Memory
}

// New returns an engine bound to a registry. Close it when done.
func New(registry *traps.Registry, logger *log.Logger) *Engine {
	e := &Engine{
		L:        lua.NewState(),
		registry: registry,
		log:      logger,
	}
	e.L.SetGlobal("readbyte", e.L.NewFunction(e.luaReadByte))
	e.L.SetGlobal("writebyte", e.L.NewFunction(e.luaWriteByte))
	return e
}

// Close tears down the Lua state. Registered traps stay registered; use
// the registry to disable or remove them first if they must not outlive
// the engine.
func (e *Engine) Close() {
	e.L.Close()
}

// LoadFile runs a Lua file and registers the traps it declares. Returns
// how many traps were registered.
//
// The script declares a global `traps` array of tables:
//
//	traps = {
//	  { addr = 0xFDED, op = "call", name = "COUT", category = "firmware",
//	    handler = function(addr) ... return true end },
//	}
//
// A handler returns false (or nothing) for not-handled, true for handled,
// or true plus a byte to yield/replace. readbyte/writebyte give it the
// guest's memory.
func (e *Engine) LoadFile(path string) (int, error) {
	if err := e.L.DoFile(path); err != nil {
		return 0, fmt.Errorf("script: %w", err)
	}
	return e.register()
}

// LoadString is LoadFile for in-memory source.
func (e *Engine) LoadString(source string) (int, error) {
	if err := e.L.DoString(source); err != nil {
		return 0, fmt.Errorf("script: %w", err)
	}
	return e.register()
}

func (e *Engine) register() (int, error) {
	declared := e.L.GetGlobal("traps")
	tbl, ok := declared.(*lua.LTable)
	if !ok {
		return 0, fmt.Errorf("script: script declares no `traps` table")
	}
	e.L.SetGlobal("traps", lua.LNil) // consume, so reloads start clean

	count := 0
	var firstErr error
	for i := 1; i <= tbl.Len(); i++ {
		entry, ok := tbl.RawGetInt(i).(*lua.LTable)
		if !ok {
			firstErr = fmt.Errorf("script: traps[%d] is not a table", i)
			break
		}
		if err := e.registerOne(entry, i); err != nil {
			firstErr = err
			break
		}
		count++
	}
	return count, firstErr
}

func (e *Engine) registerOne(entry *lua.LTable, i int) error {
	addr := uint32(lua.LVAsNumber(entry.RawGetString("addr")))
	name := lua.LVAsString(entry.RawGetString("name"))
	category := lua.LVAsString(entry.RawGetString("category"))
	desc := lua.LVAsString(entry.RawGetString("desc"))
	if name == "" {
		return fmt.Errorf("script: traps[%d] has no name", i)
	}
	if category == "" {
		category = "script"
	}

	op, err := parseOp(lua.LVAsString(entry.RawGetString("op")))
	if err != nil {
		return fmt.Errorf("script: traps[%d] (%s): %w", i, name, err)
	}

	slot := traps.NoSlot
	if s := entry.RawGetString("slot"); s != lua.LNil {
		slot = int(lua.LVAsNumber(s))
	}

	fn, ok := entry.RawGetString("handler").(*lua.LFunction)
	if !ok {
		return fmt.Errorf("script: traps[%d] (%s) has no handler function", i, name)
	}

	handler := func(_ interface{}, mem traps.Memory) traps.Result {
		return e.call(fn, addr, mem)
	}
	return e.registry.Register(addr, op, name, category, slot, handler, desc)
}

// call runs one Lua handler. A scripting error is contained here and
// reported as not-handled: a broken script must not take the timeline
// down with it.
func (e *Engine) call(fn *lua.LFunction, addr uint32, mem traps.Memory) traps.Result {
	e.mem = mem
	defer func() { e.mem = nil }()

	err := e.L.CallByParam(lua.P{Fn: fn, NRet: 2, Protect: true}, lua.LNumber(addr))
	if err != nil {
		if e.log != nil {
			e.log.Printf("script: handler at %#x failed: %v", addr, err)
		}
		return traps.NotHandled
	}
	handledV := e.L.Get(-2)
	valueV := e.L.Get(-1)
	e.L.Pop(2)

	if !lua.LVAsBool(handledV) {
		return traps.NotHandled
	}
	res := traps.Result{Handled: true}
	if n, ok := valueV.(lua.LNumber); ok {
		res.Replace = true
		res.Value = byte(n)
	}
	return res
}

func (e *Engine) luaReadByte(L *lua.LState) int {
	if e.mem == nil {
		L.RaiseError("readbyte outside a trap handler")
		return 0
	}
	addr := uint32(L.CheckNumber(1))
	L.Push(lua.LNumber(e.mem.ReadByte(addr)))
	return 1
}

func (e *Engine) luaWriteByte(L *lua.LState) int {
	if e.mem == nil {
		L.RaiseError("writebyte outside a trap handler")
		return 0
	}
	addr := uint32(L.CheckNumber(1))
	data := byte(L.CheckNumber(2))
	e.mem.WriteByte(addr, data)
	return 0
}

func parseOp(s string) (traps.Operation, error) {
	switch s {
	case "read":
		return traps.OpRead, nil
	case "write":
		return traps.OpWrite, nil
	case "call", "":
		return traps.OpCall, nil
	default:
		return 0, fmt.Errorf("unknown op %q (want read, write or call)", s)
	}
}
