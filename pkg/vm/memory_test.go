package vm

import "testing"

func TestMemoryZeroDefault(t *testing.T) {
	m := NewMemory(64)
	for _, addr := range []uint64{0, 1, 63, 64, 1 << 20, 1 << 40} {
		if m.GetBit(addr) != 0 {
			t.Errorf("never-written bit %d reads 1", addr)
		}
	}
	if m.Pages() != 0 {
		t.Errorf("reads allocated %d pages", m.Pages())
	}
}

func TestMemorySetGetBit(t *testing.T) {
	m := NewMemory(64)
	m.SetBit(100, 1)
	if m.GetBit(100) != 1 {
		t.Error("bit 100 not set")
	}
	if m.GetBit(99) != 0 || m.GetBit(101) != 0 {
		t.Error("neighbors disturbed")
	}
	m.SetBit(100, 0)
	if m.GetBit(100) != 0 {
		t.Error("bit 100 not cleared")
	}
}

func TestFlipInvolution(t *testing.T) {
	m := NewMemory(64)
	for _, addr := range []uint64{0, 7, 1 << 17} {
		m.FlipBit(addr)
		if m.GetBit(addr) != 1 {
			t.Errorf("flip of zero bit %d != 1", addr)
		}
		m.FlipBit(addr)
		if m.GetBit(addr) != 0 {
			t.Errorf("double flip of bit %d != 0", addr)
		}
	}
}

func TestZeroDefaultWithDisjointWrites(t *testing.T) {
	m := NewMemory(64)
	m.SetBit(0, 1)
	m.SetBit(200, 1)
	m.FlipBit(1 << 18)
	for _, addr := range []uint64{1, 199, 201, 1<<18 - 1, 1<<18 + 1} {
		if m.GetBit(addr) != 0 {
			t.Errorf("disjoint bit %d disturbed", addr)
		}
	}
}

func TestReadWriteWordAligned(t *testing.T) {
	m := NewMemory(64)
	m.WriteWord(128, 0xDEADBEEF12345678)
	if got := m.ReadWord(128); got != 0xDEADBEEF12345678 {
		t.Errorf("ReadWord = %#x", got)
	}
}

func TestReadWordUnaligned(t *testing.T) {
	m := NewMemory(64)
	m.WriteWord(64, 0xFF)
	// Reading 4 bits earlier shifts the value up by 4.
	if got := m.ReadWord(60); got != 0xFF0 {
		t.Errorf("ReadWord(60) = %#x; want 0xFF0", got)
	}
}

func TestReadWordAcrossPageBoundary(t *testing.T) {
	m := NewMemory(64)
	const boundary = pageBits
	m.SetBit(boundary-1, 1)
	m.SetBit(boundary, 1)
	got := m.ReadWord(boundary - 1)
	if got&3 != 3 {
		t.Errorf("ReadWord across page boundary = %#x; want low bits 11", got)
	}
}

func TestNarrowWidthWrap(t *testing.T) {
	m := NewMemory(8)
	// The address space is 256 bits; address 300 wraps to 44.
	m.SetBit(300, 1)
	if m.GetBit(44) != 1 {
		t.Error("address 300 didn't wrap to 44 at w=8")
	}
}

func TestNarrowWidthWordMask(t *testing.T) {
	m := NewMemory(16)
	m.WriteWord(0, 0xFFFFF) // wider than w; must be masked
	if got := m.ReadWord(0); got != 0xFFFF {
		t.Errorf("ReadWord = %#x; want 0xFFFF", got)
	}
	if m.GetBit(16) != 0 {
		t.Error("write leaked past the word")
	}
}
