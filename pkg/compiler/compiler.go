package compiler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/akhildatla/engine25519/pkg/vm"
)

// Compilation errors
var (
	ErrUnknownOpcode   = errors.New("unknown opcode")
	ErrOperandCount    = errors.New("wrong number of operands")
	ErrOperandType     = errors.New("wrong operand type")
	ErrRegisterRange   = errors.New("register out of range")
	ErrConstant        = errors.New("unknown constant")
	ErrUndefinedLabel  = errors.New("undefined label")
	ErrDuplicateLabel  = errors.New("duplicate label")
	ErrBranchRange     = errors.New("branch offset out of range")
	ErrProgramTooLarge = errors.New("program exceeds microcode store")
)

// Compile assembles microcode source into a Program.
func Compile(source string) (*vm.Program, error) {
	parser := NewParser(source)
	asmProgram, err := parser.Parse()
	if err != nil {
		return nil, err
	}

	compiler := &Compiler{
		code:   []vm.Instruction{},
		labels: asmProgram.Labels,
	}

	return compiler.compile(asmProgram)
}

// Compiler compiles parsed assembly to microcode words.
type Compiler struct {
	code   []vm.Instruction
	labels map[string]int
}

func (c *Compiler) compile(program *AsmProgram) (*vm.Program, error) {
	if int(program.Origin)+len(program.Instructions) > vm.DefaultMicrocodeDepth {
		return nil, fmt.Errorf("%w: %d words at origin %d", ErrProgramTooLarge,
			len(program.Instructions), program.Origin)
	}

	for idx, inst := range program.Instructions {
		word, err := c.compileInstruction(idx, inst)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", inst.Line, err)
		}
		c.code = append(c.code, word)
	}

	return &vm.Program{
		Origin: program.Origin,
		Code:   c.code,
	}, nil
}

func (c *Compiler) compileInstruction(idx int, inst AsmInstruction) (vm.Instruction, error) {
	if inst.Opcode == ".word" {
		return c.compileWord(inst)
	}

	opcode, ok := vm.OpcodeFromString(strings.ToUpper(inst.Opcode))
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownOpcode, inst.Opcode)
	}

	switch opcode {
	// ===== Unary: wd, a =====
	case vm.OpPSA, vm.OpNOT, vm.OpTRD:
		return c.compileUnaryA(opcode, inst)

	// ===== Unary: wd, b =====
	case vm.OpPSB:
		return c.compileUnaryB(opcode, inst)

	// ===== Binary: wd, a, b =====
	case vm.OpMSK, vm.OpXOR, vm.OpADD, vm.OpSUB, vm.OpMUL:
		return c.compileBinary(opcode, inst)

	// ===== Control Flow =====
	case vm.OpBRZ:
		return c.compileBranch(idx, inst)

	case vm.OpFIN:
		if len(inst.Operands) != 0 {
			return 0, fmt.Errorf("%w: FIN takes none", ErrOperandCount)
		}
		return vm.EncodeInstruction(vm.Fields{Op: vm.OpFIN}), nil

	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownOpcode, inst.Opcode)
	}
}

func (c *Compiler) compileUnaryA(opcode vm.Opcode, inst AsmInstruction) (vm.Instruction, error) {
	if len(inst.Operands) != 2 {
		return 0, fmt.Errorf("%w: %s requires wd, a", ErrOperandCount, opcode)
	}
	wd, err := destination(inst.Operands[0])
	if err != nil {
		return 0, err
	}
	ra, ca, err := source(inst.Operands[1])
	if err != nil {
		return 0, err
	}
	return vm.EncodeInstruction(vm.Fields{Op: opcode, Wd: wd, Ra: ra, Ca: ca}), nil
}

func (c *Compiler) compileUnaryB(opcode vm.Opcode, inst AsmInstruction) (vm.Instruction, error) {
	if len(inst.Operands) != 2 {
		return 0, fmt.Errorf("%w: %s requires wd, b", ErrOperandCount, opcode)
	}
	wd, err := destination(inst.Operands[0])
	if err != nil {
		return 0, err
	}
	rb, cb, err := source(inst.Operands[1])
	if err != nil {
		return 0, err
	}
	return vm.EncodeInstruction(vm.Fields{Op: opcode, Wd: wd, Rb: rb, Cb: cb}), nil
}

func (c *Compiler) compileBinary(opcode vm.Opcode, inst AsmInstruction) (vm.Instruction, error) {
	if len(inst.Operands) != 3 {
		return 0, fmt.Errorf("%w: %s requires wd, a, b", ErrOperandCount, opcode)
	}
	wd, err := destination(inst.Operands[0])
	if err != nil {
		return 0, err
	}
	ra, ca, err := source(inst.Operands[1])
	if err != nil {
		return 0, err
	}
	rb, cb, err := source(inst.Operands[2])
	if err != nil {
		return 0, err
	}
	return vm.EncodeInstruction(vm.Fields{Op: opcode, Wd: wd, Ra: ra, Ca: ca, Rb: rb, Cb: cb}), nil
}

// compileBranch encodes BRZ a, target. A label target becomes the offset
// from the following instruction; an integer is used as the offset itself.
func (c *Compiler) compileBranch(idx int, inst AsmInstruction) (vm.Instruction, error) {
	if len(inst.Operands) != 2 {
		return 0, fmt.Errorf("%w: BRZ requires a, target", ErrOperandCount)
	}
	ra, ca, err := source(inst.Operands[0])
	if err != nil {
		return 0, err
	}

	var offset int64
	switch target := inst.Operands[1]; target.Type {
	case OperandLabel:
		dest, ok := c.labels[target.Name]
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrUndefinedLabel, target.Name)
		}
		offset = int64(dest - (idx + 1))
	case OperandInt:
		offset = target.IntVal
	default:
		return 0, fmt.Errorf("%w: branch target is a %s", ErrOperandType, target.Type)
	}
	if offset < vm.ImmMin || offset > vm.ImmMax {
		return 0, fmt.Errorf("%w: %d", ErrBranchRange, offset)
	}

	return vm.EncodeInstruction(vm.Fields{Op: vm.OpBRZ, Ra: ra, Ca: ca, Imm: int16(offset)}), nil
}

func (c *Compiler) compileWord(inst AsmInstruction) (vm.Instruction, error) {
	if len(inst.Operands) != 1 || inst.Operands[0].Type != OperandInt {
		return 0, fmt.Errorf("%w: .word requires one integer", ErrOperandCount)
	}
	v := inst.Operands[0].IntVal
	if v < 0 || v > 0xFFFFFFFF {
		return 0, fmt.Errorf("%w: .word 0x%X does not fit 32 bits", ErrOperandType, v)
	}
	return vm.Instruction(uint32(v)), nil
}

func destination(op Operand) (uint8, error) {
	if op.Type != OperandReg {
		return 0, fmt.Errorf("%w: destination must be a register, got %s", ErrOperandType, op.Type)
	}
	return op.RegNum, nil
}

// source resolves a register or constant operand to its 5-bit index and
// constant flag.
func source(op Operand) (uint8, bool, error) {
	switch op.Type {
	case OperandReg:
		return op.RegNum, false, nil
	case OperandConst:
		idx, err := constantIndex(op.Name)
		return idx, true, err
	default:
		return 0, false, fmt.Errorf("%w: expected register or constant, got %s", ErrOperandType, op.Type)
	}
}

func constantIndex(name string) (uint8, error) {
	if idx, ok := vm.ConstantFromName(strings.ToLower(name)); ok {
		return idx, nil
	}
	n, err := strconv.ParseUint(name, 10, 8)
	if err != nil || n >= vm.NumConstants {
		return 0, fmt.Errorf("%w: #%s", ErrConstant, name)
	}
	return uint8(n), nil
}
