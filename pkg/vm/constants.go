package vm

import (
	"strconv"

	"github.com/holiman/uint256"
)

// Constant table indices. Any index may be substituted for operand A or B
// by setting the instruction's ca/cb bit.
const (
	ConstZero   = 0 // 0
	ConstA24    = 1 // (A+2)/4 = 121665
	ConstPrime  = 2 // 2^255 - 19
	ConstNegOne = 3 // 2^256 - 1
	ConstOne    = 4 // 1

	NumConstants = 32
)

var (
	// Prime is the field modulus 2^255 - 19.
	Prime = uint256.Int{0xFFFFFFFFFFFFFFED, 0xFFFFFFFFFFFFFFFF, 0xFFFFFFFFFFFFFFFF, 0x7FFFFFFFFFFFFFFF}

	// A24 is the Montgomery ladder constant (486662+2)/4.
	A24 = uint256.Int{121665, 0, 0, 0}

	// NegOne is 2^256 - 1.
	NegOne = uint256.Int{^uint64(0), ^uint64(0), ^uint64(0), ^uint64(0)}

	constantTable = [NumConstants]uint256.Int{
		ConstZero:   {},
		ConstA24:    A24,
		ConstPrime:  Prime,
		ConstNegOne: NegOne,
		ConstOne:    {1, 0, 0, 0},
	}

	constantNames = map[uint32]string{
		ConstZero:   "zero",
		ConstA24:    "a24",
		ConstPrime:  "p",
		ConstNegOne: "neg1",
		ConstOne:    "one",
	}
)

// Lookup returns the constant at index. Indices without a defined constant,
// including those beyond the 5-bit table, read as zero.
func Lookup(index uint32) uint256.Int {
	if index >= NumConstants {
		return uint256.Int{}
	}
	return constantTable[index]
}

// ConstantName returns the symbolic name of a constant index, or its
// decimal index when the slot is unnamed.
func ConstantName(index uint32) string {
	if name, ok := constantNames[index]; ok {
		return name
	}
	return strconv.FormatUint(uint64(index), 10)
}

// ConstantFromName resolves a symbolic constant name to its index.
func ConstantFromName(name string) (uint8, bool) {
	for idx, n := range constantNames {
		if n == name {
			return uint8(idx), true
		}
	}
	return 0, false
}

// Defined reports whether index holds one of the named constants.
func Defined(index uint32) bool {
	_, ok := constantNames[index]
	return ok
}
