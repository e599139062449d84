package signal

import "testing"

func TestLines_wireOr(t *testing.T) {
	l := NewLines()
	if l.Asserted(IRQ) {
		t.Error("IRQ asserted on a fresh set of lines")
	}

	l.Assert(IRQ, "ticker")
	l.Assert(IRQ, "serial")
	if !l.Asserted(IRQ) {
		t.Error("IRQ not asserted with two holders")
	}

	// one holder letting go is not enough
	l.Release(IRQ, "ticker")
	if !l.Asserted(IRQ) {
		t.Error("IRQ released while serial still holds it")
	}
	l.Release(IRQ, "serial")
	if l.Asserted(IRQ) {
		t.Error("IRQ still asserted with no holders")
	}
}

func TestLines_idempotence(t *testing.T) {
	l := NewLines()
	l.Assert(NMI, "ticker")
	l.Assert(NMI, "ticker")
	l.Release(NMI, "ticker")
	if l.Asserted(NMI) {
		t.Error("double assert needed a double release")
	}
	// releasing a line never held is a no-op
	l.Release(NMI, "ghost")
}

func TestLines_independence(t *testing.T) {
	l := NewLines()
	l.Assert(IRQ, "ticker")
	if l.Asserted(NMI) {
		t.Error("asserting IRQ leaked onto NMI")
	}
}

func TestLines_holdersAndClear(t *testing.T) {
	l := NewLines()
	l.Assert(IRQ, "serial")
	l.Assert(IRQ, "ticker")

	h := l.Holders(IRQ)
	if len(h) != 2 || h[0] != "serial" || h[1] != "ticker" {
		t.Errorf("Holders(IRQ) = %v, want [serial ticker]", h)
	}

	l.Clear()
	if l.Asserted(IRQ) {
		t.Error("IRQ survived Clear")
	}
}
