package vm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Microcode image format:
// - Magic: "EUCD" (4 bytes)
// - Version: uint16
// - Origin: uint16 (load address in the instruction store)
// - NumInstructions: uint32
// - Instructions: []uint32
//
// All fields are little-endian.

const (
	ImageMagic   = "EUCD"
	ImageVersion = 1
)

var (
	ErrInvalidMagic   = errors.New("invalid microcode image magic")
	ErrInvalidVersion = errors.New("unsupported microcode image version")
)

// SerializeProgram serializes a Program to the microcode image format.
func SerializeProgram(p *Program) ([]byte, error) {
	buf := new(bytes.Buffer)

	buf.WriteString(ImageMagic)

	if err := binary.Write(buf, binary.LittleEndian, uint16(ImageVersion)); err != nil {
		return nil, fmt.Errorf("writing version: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, p.Origin); err != nil {
		return nil, fmt.Errorf("writing origin: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(p.Code))); err != nil {
		return nil, fmt.Errorf("writing instruction count: %w", err)
	}
	for _, inst := range p.Code {
		if err := binary.Write(buf, binary.LittleEndian, uint32(inst)); err != nil {
			return nil, fmt.Errorf("writing instruction: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// DeserializeProgram decodes a microcode image.
func DeserializeProgram(data []byte) (*Program, error) {
	buf := bytes.NewReader(data)

	magic := make([]byte, 4)
	if _, err := io.ReadFull(buf, magic); err != nil {
		return nil, fmt.Errorf("reading magic: %w", err)
	}
	if string(magic) != ImageMagic {
		return nil, ErrInvalidMagic
	}

	var version uint16
	if err := binary.Read(buf, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("reading version: %w", err)
	}
	if version != ImageVersion {
		return nil, ErrInvalidVersion
	}

	var origin uint16
	if err := binary.Read(buf, binary.LittleEndian, &origin); err != nil {
		return nil, fmt.Errorf("reading origin: %w", err)
	}

	var numInst uint32
	if err := binary.Read(buf, binary.LittleEndian, &numInst); err != nil {
		return nil, fmt.Errorf("reading instruction count: %w", err)
	}
	if int64(numInst)*4 > int64(buf.Len()) {
		return nil, fmt.Errorf("reading instructions: %w", io.ErrUnexpectedEOF)
	}
	code := make([]Instruction, numInst)
	for i := range code {
		var inst uint32
		if err := binary.Read(buf, binary.LittleEndian, &inst); err != nil {
			return nil, fmt.Errorf("reading instruction %d: %w", i, err)
		}
		code[i] = Instruction(inst)
	}

	return &Program{Origin: origin, Code: code}, nil
}

// Disassemble converts a Program back to assembly source code.
func Disassemble(p *Program) string {
	var buf bytes.Buffer

	buf.WriteString("; Disassembled from engine25519 microcode\n")
	buf.WriteString(fmt.Sprintf("; %d instructions at origin %d\n\n", len(p.Code), p.Origin))
	if p.Origin != 0 {
		buf.WriteString(fmt.Sprintf(".org %d\n", p.Origin))
	}

	for i, inst := range p.Code {
		buf.WriteString(fmt.Sprintf("%04d: %s\n", int(p.Origin)+i, disassembleInstruction(inst)))
	}

	return buf.String()
}

func disassembleInstruction(inst Instruction) string {
	f := inst.Decode()
	a := operandString(f.Ra, f.Ca)
	b := operandString(f.Rb, f.Cb)
	opName := f.Op.String()

	switch f.Op {
	case OpPSA, OpNOT, OpTRD:
		return fmt.Sprintf("%-4s r%d, %s", opName, f.Wd, a)

	case OpPSB:
		return fmt.Sprintf("%-4s r%d, %s", opName, f.Wd, b)

	case OpMSK, OpXOR, OpADD, OpSUB, OpMUL:
		return fmt.Sprintf("%-4s r%d, %s, %s", opName, f.Wd, a, b)

	case OpBRZ:
		return fmt.Sprintf("%-4s %s, %d", opName, a, f.Imm)

	case OpFIN:
		return opName

	default:
		return fmt.Sprintf(".word 0x%08X", uint32(inst))
	}
}
