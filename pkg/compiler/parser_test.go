package compiler

import (
	"errors"
	"testing"
)

func TestParser_Instruction(t *testing.T) {
	program, err := NewParser(`ADD r2, r0, #p`).Parse()
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(program.Instructions) != 1 {
		t.Fatalf("expected 1 instruction, got %d", len(program.Instructions))
	}

	inst := program.Instructions[0]
	if inst.Opcode != "ADD" {
		t.Errorf("expected ADD, got %s", inst.Opcode)
	}
	if len(inst.Operands) != 3 {
		t.Fatalf("expected 3 operands, got %d", len(inst.Operands))
	}
	if inst.Operands[0].Type != OperandReg || inst.Operands[0].RegNum != 2 {
		t.Errorf("unexpected destination %+v", inst.Operands[0])
	}
	if inst.Operands[2].Type != OperandConst || inst.Operands[2].Name != "p" {
		t.Errorf("unexpected constant operand %+v", inst.Operands[2])
	}
}

func TestParser_Labels(t *testing.T) {
	input := `start:
  PSA r1, r0
loop: SUB r0, r0, r1
  BRZ r0, done
done:
  FIN`

	program, err := NewParser(input).Parse()
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	want := map[string]int{"start": 0, "loop": 1, "done": 3}
	for name, idx := range want {
		if got, ok := program.Labels[name]; !ok || got != idx {
			t.Errorf("label %s: expected %d, got %d (%v)", name, idx, got, ok)
		}
	}
	if len(program.Instructions) != 4 {
		t.Errorf("expected 4 instructions, got %d", len(program.Instructions))
	}
	if op := program.Instructions[2].Operands[1]; op.Type != OperandLabel || op.Name != "done" {
		t.Errorf("expected label operand, got %+v", op)
	}
}

func TestParser_Directives(t *testing.T) {
	input := `.org 0x20
.word 0xDEADBEEF
FIN`

	program, err := NewParser(input).Parse()
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if program.Origin != 0x20 {
		t.Errorf("expected origin 0x20, got 0x%X", program.Origin)
	}
	if program.Instructions[0].Opcode != ".word" || program.Instructions[0].Operands[0].IntVal != 0xDEADBEEF {
		t.Errorf("unexpected .word %+v", program.Instructions[0])
	}
}

func TestParser_ListingAddresses(t *testing.T) {
	input := `0000: PSA  r1, r0
0001: FIN`

	program, err := NewParser(input).Parse()
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(program.Instructions) != 2 {
		t.Errorf("expected 2 instructions, got %d", len(program.Instructions))
	}
}

func TestParser_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"register range", "PSA r32, r0", ErrRegisterRange},
		{"duplicate label", "a:\na:\nFIN", ErrDuplicateLabel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewParser(tt.input).Parse(); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	for _, input := range []string{"FIN\n.org 4", ".bogus 1", "42 FIN", ", FIN"} {
		if _, err := NewParser(input).Parse(); err == nil {
			t.Errorf("expected error for %q", input)
		}
	}
}

func TestParseInt(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"0", 0},
		{"17", 17},
		{"-3", -3},
		{"+4", 4},
		{"0x1f", 31},
		{"-0x10", -16},
	}
	for _, tt := range tests {
		got, err := parseInt(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("parseInt(%q) = %d, %v; want %d", tt.in, got, err, tt.want)
		}
	}
	if _, err := parseInt("0xZZ"); err == nil {
		t.Error("expected error for invalid hex")
	}
}
