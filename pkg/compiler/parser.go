package compiler

import (
	"fmt"
	"strconv"
	"strings"
)

// OperandType represents the type of an operand.
type OperandType uint8

const (
	OperandReg   OperandType = iota // rN
	OperandConst                    // #name or #N
	OperandInt                      // integer literal
	OperandLabel                    // label reference
)

func (t OperandType) String() string {
	switch t {
	case OperandReg:
		return "register"
	case OperandConst:
		return "constant"
	case OperandInt:
		return "integer"
	case OperandLabel:
		return "label"
	default:
		return "unknown"
	}
}

// Operand represents an instruction operand.
type Operand struct {
	Type   OperandType
	RegNum uint8  // For registers
	IntVal int64  // For integer literals
	Name   string // For constants and labels
}

// AsmInstruction represents a parsed assembly instruction or .word
// directive.
type AsmInstruction struct {
	Opcode   string
	Operands []Operand
	Line     int
}

// AsmProgram represents a parsed assembly program.
type AsmProgram struct {
	Origin       uint16
	Instructions []AsmInstruction
	Labels       map[string]int // label -> instruction index
}

// Parser parses engine microcode assembly.
type Parser struct {
	tokens  []Token
	pos     int
	program *AsmProgram
}

// NewParser creates a new parser for the given input.
func NewParser(input string) *Parser {
	lexer := NewLexer(input)
	tokens := lexer.Tokenize()
	return &Parser{
		tokens: tokens,
		pos:    0,
		program: &AsmProgram{
			Instructions: []AsmInstruction{},
			Labels:       make(map[string]int),
		},
	}
}

// Parse parses the entire input and returns the program.
func (p *Parser) Parse() (*AsmProgram, error) {
	for p.pos < len(p.tokens) {
		tok := p.tokens[p.pos]

		switch tok.Type {
		case TokenEOF:
			return p.program, nil

		case TokenNewline:
			p.pos++

		case TokenInt:
			// Listing address such as "0016:" from the disassembler.
			if p.peek(1).Type != TokenColon {
				return nil, fmt.Errorf("line %d: unexpected integer %s", tok.Line, tok.Value)
			}
			p.pos += 2

		case TokenIdent:
			if p.peek(1).Type == TokenColon {
				if err := p.defineLabel(tok); err != nil {
					return nil, err
				}
				p.pos += 2
				continue
			}
			inst, err := p.parseInstruction()
			if err != nil {
				return nil, err
			}
			p.program.Instructions = append(p.program.Instructions, inst)

		case TokenDirective:
			if err := p.parseDirective(); err != nil {
				return nil, err
			}

		default:
			return nil, fmt.Errorf("line %d: unexpected token: %s", tok.Line, tok.Value)
		}
	}

	return p.program, nil
}

func (p *Parser) peek(n int) Token {
	if p.pos+n < len(p.tokens) {
		return p.tokens[p.pos+n]
	}
	return Token{Type: TokenEOF}
}

func (p *Parser) defineLabel(tok Token) error {
	if _, dup := p.program.Labels[tok.Value]; dup {
		return fmt.Errorf("line %d: %w: %s", tok.Line, ErrDuplicateLabel, tok.Value)
	}
	p.program.Labels[tok.Value] = len(p.program.Instructions)
	return nil
}

func (p *Parser) parseDirective() error {
	tok := p.tokens[p.pos]
	switch tok.Value {
	case ".org":
		if len(p.program.Instructions) > 0 {
			return fmt.Errorf("line %d: .org after first instruction", tok.Line)
		}
		p.pos++
		arg, err := p.parseOperand()
		if err != nil {
			return err
		}
		if arg.Type != OperandInt || arg.IntVal < 0 || arg.IntVal > 0xFFFF {
			return fmt.Errorf("line %d: .org needs an address", tok.Line)
		}
		p.program.Origin = uint16(arg.IntVal)
		return nil

	case ".word":
		inst, err := p.parseInstruction()
		if err != nil {
			return err
		}
		p.program.Instructions = append(p.program.Instructions, inst)
		return nil

	default:
		return fmt.Errorf("line %d: unknown directive %s", tok.Line, tok.Value)
	}
}

func (p *Parser) parseInstruction() (AsmInstruction, error) {
	inst := AsmInstruction{
		Opcode:   p.tokens[p.pos].Value,
		Line:     p.tokens[p.pos].Line,
		Operands: []Operand{},
	}
	p.pos++ // Consume opcode

	// Parse operands until newline or EOF
	for p.pos < len(p.tokens) {
		tok := p.tokens[p.pos]

		if tok.Type == TokenNewline || tok.Type == TokenEOF {
			break
		}

		if tok.Type == TokenComma {
			p.pos++
			continue
		}

		operand, err := p.parseOperand()
		if err != nil {
			return inst, err
		}
		inst.Operands = append(inst.Operands, operand)
	}

	return inst, nil
}

func (p *Parser) parseOperand() (Operand, error) {
	tok := p.tokens[p.pos]

	switch tok.Type {
	case TokenReg:
		regNum, err := p.parseRegisterNumber(tok.Value, 1)
		if err != nil {
			return Operand{}, fmt.Errorf("line %d: %w", tok.Line, err)
		}
		p.pos++
		return Operand{Type: OperandReg, RegNum: regNum}, nil

	case TokenConst:
		p.pos++
		return Operand{Type: OperandConst, Name: tok.Value}, nil

	case TokenInt:
		intVal, err := parseInt(tok.Value)
		if err != nil {
			return Operand{}, fmt.Errorf("line %d: invalid integer: %s", tok.Line, tok.Value)
		}
		p.pos++
		return Operand{Type: OperandInt, IntVal: intVal}, nil

	case TokenIdent:
		p.pos++
		return Operand{Type: OperandLabel, Name: tok.Value}, nil

	default:
		return Operand{}, fmt.Errorf("line %d: unexpected token: %s", tok.Line, tok.Value)
	}
}

func (p *Parser) parseRegisterNumber(value string, offset int) (uint8, error) {
	if len(value) <= offset {
		return 0, fmt.Errorf("invalid register: %s", value)
	}
	numStr := value[offset:]
	num, err := strconv.ParseUint(numStr, 10, 8)
	if err != nil || num >= 32 {
		return 0, fmt.Errorf("%w: %s", ErrRegisterRange, value)
	}
	return uint8(num), nil
}

// parseInt accepts decimal and 0x-prefixed hex with an optional sign.
func parseInt(s string) (int64, error) {
	neg := false
	switch {
	case strings.HasPrefix(s, "-"):
		neg = true
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base = 16
		s = s[2:]
	}
	v, err := strconv.ParseInt(s, base, 64)
	if err != nil {
		return 0, err
	}
	if neg {
		v = -v
	}
	return v, nil
}
