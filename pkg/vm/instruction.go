package vm

import "fmt"

// Instruction represents a 32-bit encoded microcode word.
//
// Layout:
// ┌──────────┬──────┬────┬──────┬────┬──────┬────────┐
// │   imm    │  ca  │ ra │  cb  │ rb │  wd  │ opcode │
// │  31-23   │  22  │21-17│ 16  │15-11│10-6 │  5-0   │
// └──────────┴──────┴────┴──────┴────┴──────┴────────┘
//
// imm is a 9-bit two's-complement offset read only by BRZ.
type Instruction uint32

const (
	NumRegisters = 32 // registers per window
	regMask      = NumRegisters - 1

	immBits = 9
	ImmMin  = -(1 << (immBits - 1))
	ImmMax  = 1<<(immBits-1) - 1
)

// Fields is the decoded form of an Instruction.
type Fields struct {
	Op  Opcode
	Ra  uint8
	Ca  bool
	Rb  uint8
	Cb  bool
	Wd  uint8
	Imm int16
}

// EncodeInstruction packs the instruction fields into a microcode word.
// Register indices are truncated to 5 bits and imm to 9 bits.
func EncodeInstruction(f Fields) Instruction {
	var inst uint32

	inst |= uint32(f.Op) & OpcodeMask
	inst |= uint32(f.Wd&regMask) << 6
	inst |= uint32(f.Rb&regMask) << 11
	if f.Cb {
		inst |= 1 << 16
	}
	inst |= uint32(f.Ra&regMask) << 17
	if f.Ca {
		inst |= 1 << 22
	}
	inst |= (uint32(f.Imm) & (1<<immBits - 1)) << 23

	return Instruction(inst)
}

// Decode unpacks the instruction into its fields.
func (i Instruction) Decode() Fields {
	return Fields{
		Op:  i.Opcode(),
		Ra:  i.Ra(),
		Ca:  i.Ca(),
		Rb:  i.Rb(),
		Cb:  i.Cb(),
		Wd:  i.Wd(),
		Imm: i.Imm(),
	}
}

// Opcode returns the opcode (bits 5-0).
func (i Instruction) Opcode() Opcode {
	return Opcode(i & OpcodeMask)
}

// Wd returns the destination register (bits 10-6).
func (i Instruction) Wd() uint8 {
	return uint8((i >> 6) & regMask)
}

// Rb returns the operand B register or constant index (bits 15-11).
func (i Instruction) Rb() uint8 {
	return uint8((i >> 11) & regMask)
}

// Cb reports whether operand B comes from the constant table (bit 16).
func (i Instruction) Cb() bool {
	return (i>>16)&1 == 1
}

// Ra returns the operand A register or constant index (bits 21-17).
func (i Instruction) Ra() uint8 {
	return uint8((i >> 17) & regMask)
}

// Ca reports whether operand A comes from the constant table (bit 22).
func (i Instruction) Ca() bool {
	return (i>>22)&1 == 1
}

// Imm returns the sign-extended branch offset (bits 31-23).
func (i Instruction) Imm() int16 {
	return int16(int32(i) >> 23)
}

// String returns a human-readable representation of the instruction.
func (i Instruction) String() string {
	return disassembleInstruction(i)
}

func operandString(reg uint8, constant bool) string {
	if constant {
		return "#" + ConstantName(uint32(reg))
	}
	return fmt.Sprintf("r%d", reg)
}
