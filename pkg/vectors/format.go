// Package vectors reads, writes and runs binary test-vector suites. A suite
// carries a microcode routine and a list of argument sets with the
// expected result; the runner drives each vector through the host bus.
package vectors

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/holiman/uint256"

	"github.com/akhildatla/engine25519/pkg/vm"
)

// Magic opens every suite ("VECT").
const Magic uint32 = 0x56454354

// Field widths of the suite header.
const (
	MaxArgs    = 1<<5 - 1
	MaxWindow  = 1<<4 - 1
	MaxVectors = 1<<22 - 1
	MaxCode    = 1<<16 - 1

	// ResultRegister holds the value each vector is checked against.
	ResultRegister = 31

	wordsPerValue = 8
)

var (
	ErrTruncated   = errors.New("vector data truncated")
	ErrSuiteFormat = errors.New("malformed suite")
)

// Vector is one set of arguments, loaded into r0..r(n-1), and the value
// expected in r31 afterwards.
type Vector struct {
	Args     []uint256.Int
	Expected uint256.Int
}

// Suite is a microcode routine plus its vectors.
type Suite struct {
	LoadAddr uint16
	Window   uint8
	NumArgs  int
	Code     []vm.Instruction
	Vectors  []Vector
}

// Program returns the suite's routine placed at its load address.
func (s *Suite) Program() *vm.Program {
	return &vm.Program{Origin: s.LoadAddr, Code: s.Code}
}

// Parse decodes consecutive suites from words. Parsing stops at the first
// word that is not Magic, or at the end of the data.
func Parse(words []uint32) ([]Suite, error) {
	var suites []Suite
	off := 0
	for off < len(words) && words[off] == Magic {
		s, next, err := parseSuite(words, off)
		if err != nil {
			return nil, fmt.Errorf("suite %d at word %d: %w", len(suites), off, err)
		}
		suites = append(suites, s)
		off = next
	}
	return suites, nil
}

func parseSuite(words []uint32, off int) (Suite, int, error) {
	if off+3 > len(words) {
		return Suite{}, 0, ErrTruncated
	}
	layout := words[off+1]
	shape := words[off+2]
	off += 3

	s := Suite{
		LoadAddr: uint16(layout >> 16),
		NumArgs:  int(shape>>27) & MaxArgs,
		Window:   uint8(shape>>23) & MaxWindow,
	}
	codeLen := int(layout & 0xFFFF)
	numVectors := int(shape & MaxVectors)

	if s.NumArgs >= ResultRegister {
		return Suite{}, 0, fmt.Errorf("%w: %d arguments overlap r%d", ErrSuiteFormat, s.NumArgs, ResultRegister)
	}
	if int(s.LoadAddr)+codeLen > vm.DefaultMicrocodeDepth {
		return Suite{}, 0, fmt.Errorf("%w: %d words at %d exceed the microcode store", ErrSuiteFormat, codeLen, s.LoadAddr)
	}
	if off+codeLen > len(words) {
		return Suite{}, 0, ErrTruncated
	}
	s.Code = make([]vm.Instruction, codeLen)
	for i := range s.Code {
		s.Code[i] = vm.Instruction(words[off+i])
	}
	off += codeLen
	off += padding(off)

	perVector := (s.NumArgs + 1) * wordsPerValue
	if off+numVectors*perVector > len(words) {
		return Suite{}, 0, ErrTruncated
	}
	s.Vectors = make([]Vector, numVectors)
	for v := range s.Vectors {
		args := make([]uint256.Int, s.NumArgs)
		for a := range args {
			args[a] = readValue(words[off:])
			off += wordsPerValue
		}
		s.Vectors[v] = Vector{Args: args, Expected: readValue(words[off:])}
		off += wordsPerValue
	}
	return s, off, nil
}

// padding returns the words skipped after the code block. The vector data
// starts at the next multiple of eight words, and a block that already
// ends on one is followed by a full eight words.
func padding(off int) int {
	return wordsPerValue - off%wordsPerValue
}

func readValue(words []uint32) uint256.Int {
	var v uint256.Int
	for i := 0; i < wordsPerValue; i++ {
		v[i/2] |= uint64(words[i]) << (32 * (i % 2))
	}
	return v
}

func appendValue(words []uint32, v *uint256.Int) []uint32 {
	for i := 0; i < wordsPerValue; i++ {
		words = append(words, uint32(v[i/2]>>(32*(i%2))))
	}
	return words
}

// Encode serializes suites followed by a zero terminator word.
func Encode(suites []Suite) ([]uint32, error) {
	var words []uint32
	for i, s := range suites {
		switch {
		case s.NumArgs < 0 || s.NumArgs >= ResultRegister:
			return nil, fmt.Errorf("suite %d: %w: %d arguments", i, ErrSuiteFormat, s.NumArgs)
		case s.Window > MaxWindow:
			return nil, fmt.Errorf("suite %d: %w: window %d", i, ErrSuiteFormat, s.Window)
		case len(s.Vectors) > MaxVectors, len(s.Code) > MaxCode:
			return nil, fmt.Errorf("suite %d: %w: too large", i, ErrSuiteFormat)
		}

		words = append(words,
			Magic,
			uint32(s.LoadAddr)<<16|uint32(len(s.Code)),
			uint32(s.NumArgs)<<27|uint32(s.Window)<<23|uint32(len(s.Vectors)),
		)
		for _, inst := range s.Code {
			words = append(words, uint32(inst))
		}
		words = append(words, make([]uint32, padding(len(words)))...)

		for j, v := range s.Vectors {
			if len(v.Args) != s.NumArgs {
				return nil, fmt.Errorf("suite %d vector %d: %w: %d arguments, want %d",
					i, j, ErrSuiteFormat, len(v.Args), s.NumArgs)
			}
			for a := range v.Args {
				words = appendValue(words, &v.Args[a])
			}
			words = appendValue(words, &v.Expected)
		}
	}
	return append(words, 0), nil
}

// ParseBytes decodes little-endian vector data.
func ParseBytes(data []byte) ([]Suite, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of words", ErrTruncated, len(data))
	}
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return Parse(words)
}

// EncodeBytes serializes suites as little-endian words.
func EncodeBytes(suites []Suite) ([]byte, error) {
	words, err := Encode(suites)
	if err != nil {
		return nil, err
	}
	data := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(data[i*4:], w)
	}
	return data, nil
}

// Load reads a vector file.
func Load(path string) ([]Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseBytes(data)
}
