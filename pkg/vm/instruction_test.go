package vm

import (
	"testing"
)

func TestInstruction_Encode(t *testing.T) {
	inst := EncodeInstruction(Fields{Op: OpADD, Wd: 2, Ra: 0, Rb: 1})

	if inst.Opcode() != OpADD {
		t.Errorf("expected opcode %v, got %v", OpADD, inst.Opcode())
	}
	if inst.Wd() != 2 {
		t.Errorf("expected wd 2, got %d", inst.Wd())
	}
	if inst.Ra() != 0 || inst.Rb() != 1 {
		t.Errorf("expected ra 0 rb 1, got ra %d rb %d", inst.Ra(), inst.Rb())
	}
	if inst.Ca() || inst.Cb() {
		t.Error("expected no constant override bits")
	}
}

func TestInstruction_BitLayout(t *testing.T) {
	tests := []struct {
		name string
		f    Fields
		want uint32
	}{
		{"opcode", Fields{Op: OpFIN}, 0x0000000A},
		{"wd", Fields{Wd: 31}, 31 << 6},
		{"rb", Fields{Rb: 31}, 31 << 11},
		{"cb", Fields{Cb: true}, 1 << 16},
		{"ra", Fields{Ra: 31}, 31 << 17},
		{"ca", Fields{Ca: true}, 1 << 22},
		{"imm -1", Fields{Imm: -1}, 0x1FF << 23},
		{"imm max", Fields{Imm: ImmMax}, 0xFF << 23},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := uint32(EncodeInstruction(tt.f))
			if got != tt.want {
				t.Errorf("expected 0x%08X, got 0x%08X", tt.want, got)
			}
		})
	}
}

func TestInstruction_RoundTrip(t *testing.T) {
	tests := []Fields{
		{Op: OpPSA, Wd: 1, Ra: 2},
		{Op: OpMUL, Wd: 4, Ra: ConstOne, Ca: true, Rb: 5},
		{Op: OpMSK, Wd: 31, Ra: 30, Rb: 29, Cb: true},
		{Op: OpBRZ, Ra: 7, Imm: -3},
		{Op: OpBRZ, Ra: 7, Imm: ImmMin},
		{Op: OpBRZ, Ra: 7, Imm: ImmMax},
		{Op: OpFIN},
		{Op: Opcode(0x3F)},
	}

	for _, f := range tests {
		t.Run(f.Op.String(), func(t *testing.T) {
			got := EncodeInstruction(f).Decode()
			if got != f {
				t.Errorf("round trip mismatch: %+v != %+v", got, f)
			}
		})
	}
}

func TestInstruction_Truncation(t *testing.T) {
	inst := EncodeInstruction(Fields{Op: 0xFF, Wd: 0x3F, Imm: 0x1FF})

	if inst.Opcode() != 0x3F {
		t.Errorf("expected 6-bit opcode 0x3F, got 0x%02X", uint8(inst.Opcode()))
	}
	if inst.Wd() != 31 {
		t.Errorf("expected 5-bit wd 31, got %d", inst.Wd())
	}
	if inst.Imm() != -1 {
		t.Errorf("expected imm to wrap to -1, got %d", inst.Imm())
	}
}

func TestOpcode_Legal(t *testing.T) {
	for op := Opcode(0); op < OpMax; op++ {
		if !op.Legal() {
			t.Errorf("%s should be legal", op)
		}
		back, ok := OpcodeFromString(op.String())
		if !ok || back != op {
			t.Errorf("OpcodeFromString(%q) = %v, %v", op.String(), back, ok)
		}
	}
	for _, op := range []Opcode{OpMax, OpMax + 1, 0x3F} {
		if op.Legal() {
			t.Errorf("opcode 0x%02X should be illegal", uint8(op))
		}
		if op.String() != "UNKNOWN" {
			t.Errorf("expected UNKNOWN, got %s", op.String())
		}
	}
	if _, ok := OpcodeFromString("HALT"); ok {
		t.Error("expected HALT to be unknown")
	}
}

func TestConstants_Lookup(t *testing.T) {
	tests := []struct {
		index uint32
		want  string
	}{
		{ConstZero, "0x0"},
		{ConstA24, "0x1db41"},
		{ConstPrime, "0x7fffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffed"},
		{ConstNegOne, "0xffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"},
		{ConstOne, "0x1"},
		{5, "0x0"},
		{31, "0x0"},
		{32, "0x0"},
		{0xFFFFFFFF, "0x0"},
	}

	for _, tt := range tests {
		got := Lookup(tt.index)
		if got.Hex() != tt.want {
			t.Errorf("Lookup(%d) = %s, want %s", tt.index, got.Hex(), tt.want)
		}
	}
}

func TestConstants_Names(t *testing.T) {
	for _, name := range []string{"zero", "a24", "p", "neg1", "one"} {
		idx, ok := ConstantFromName(name)
		if !ok {
			t.Fatalf("constant %q not found", name)
		}
		if !Defined(uint32(idx)) {
			t.Errorf("constant %q at %d should be defined", name, idx)
		}
		if ConstantName(uint32(idx)) != name {
			t.Errorf("ConstantName(%d) = %q, want %q", idx, ConstantName(uint32(idx)), name)
		}
	}
	if ConstantName(17) != "17" {
		t.Errorf("expected unnamed slot to print its index, got %q", ConstantName(17))
	}
	if Defined(17) {
		t.Error("slot 17 should be undefined")
	}
}
