package vm

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// Unit identifies one of the fixed-function execution units.
type Unit uint8

const (
	UnitNone Unit = iota
	UnitLogic
	UnitMask
	UnitAddSub
	UnitTestReduce
	UnitMultiply

	numUnits
)

// Execution unit errors
var (
	ErrUnclaimedOpcode = errors.New("opcode not claimed by any execution unit")
	ErrDoubleClaim     = errors.New("opcode claimed by more than one execution unit")
	ErrInvalidClaim    = errors.New("execution unit claims a control or illegal opcode")
	ErrUnitConflict    = errors.New("more than one execution unit completed in the same cycle")
)

// String returns the unit name.
func (u Unit) String() string {
	switch u {
	case UnitLogic:
		return "logic"
	case UnitMask:
		return "mask"
	case UnitAddSub:
		return "addsub"
	case UnitTestReduce:
		return "testreduce"
	case UnitMultiply:
		return "multiply"
	default:
		return "none"
	}
}

// Opcodes lists the opcodes a unit claims.
func (u Unit) Opcodes() []Opcode {
	switch u {
	case UnitLogic:
		return []Opcode{OpPSA, OpPSB, OpXOR, OpNOT}
	case UnitMask:
		return []Opcode{OpMSK}
	case UnitAddSub:
		return []Opcode{OpADD, OpSUB}
	case UnitTestReduce:
		return []Opcode{OpTRD}
	case UnitMultiply:
		return []Opcode{OpMUL}
	default:
		return nil
	}
}

// Latency returns the fixed number of cycles from start to result.
func (u Unit) Latency() int {
	if u == UnitMultiply {
		return MulLatency
	}
	return 1
}

// Eval computes the unit's result. It is a pure function of its inputs.
func (u Unit) Eval(op Opcode, a, b *uint256.Int) uint256.Int {
	var q uint256.Int
	switch u {
	case UnitLogic:
		switch op {
		case OpPSA:
			q.Set(a)
		case OpPSB:
			q.Set(b)
		case OpXOR:
			q.Xor(a, b)
		case OpNOT:
			q.Not(a)
		}
	case UnitMask:
		q = maskSelect(a, b)
	case UnitAddSub:
		if op == OpSUB {
			q.Sub(a, b)
		} else {
			q.Add(a, b)
		}
	case UnitTestReduce:
		q = testReduce(a)
	case UnitMultiply:
		q = MulMod(a, b)
	}
	return q
}

// maskSelect replicates bit 0 of a across 256 bits and ANDs it with b.
func maskSelect(a, b *uint256.Int) uint256.Int {
	m := -(a[0] & 1)
	return uint256.Int{b[0] & m, b[1] & m, b[2] & m, b[3] & m}
}

// testReduce returns p when a >= p and zero otherwise, without branching
// on the operand.
func testReduce(a *uint256.Int) uint256.Int {
	var diff uint256.Int
	_, borrow := diff.SubOverflow(a, &Prime)
	ge := uint64(1) - b2u(borrow)
	m := -ge
	return uint256.Int{Prime[0] & m, Prime[1] & m, Prime[2] & m, Prime[3] & m}
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// DispatchTable maps every computing opcode to the unit that claims it.
type DispatchTable [OpMax]Unit

// BuildDispatch derives the opcode table from the units' claims. Every
// legal opcode except BRZ and FIN must be claimed exactly once.
func BuildDispatch(units []Unit) (DispatchTable, error) {
	var t DispatchTable
	for _, u := range units {
		for _, op := range u.Opcodes() {
			if !op.Legal() || op == OpBRZ || op == OpFIN {
				return t, fmt.Errorf("%w: %s claims %s", ErrInvalidClaim, u, op)
			}
			if t[op] != UnitNone {
				return t, fmt.Errorf("%w: %s claimed by %s and %s", ErrDoubleClaim, op, t[op], u)
			}
			t[op] = u
		}
	}
	for op := Opcode(0); op < OpMax; op++ {
		if op == OpBRZ || op == OpFIN {
			continue
		}
		if t[op] == UnitNone {
			return t, fmt.Errorf("%w: %s", ErrUnclaimedOpcode, op)
		}
	}
	return t, nil
}

// AllUnits is the engine's complete set of execution units.
var AllUnits = []Unit{UnitLogic, UnitMask, UnitAddSub, UnitTestReduce, UnitMultiply}

var dispatch = mustBuildDispatch()

func mustBuildDispatch() DispatchTable {
	t, err := BuildDispatch(AllUnits)
	if err != nil {
		panic(err)
	}
	return t
}

// UnitFor returns the unit that executes op, or UnitNone for control and
// illegal opcodes.
func UnitFor(op Opcode) Unit {
	if !op.Legal() {
		return UnitNone
	}
	return dispatch[op]
}

// Execute runs a single computing opcode through its unit and returns the
// result together with the unit's fixed latency.
func Execute(op Opcode, a, b *uint256.Int) (uint256.Int, int, error) {
	u := UnitFor(op)
	if u == UnitNone {
		return uint256.Int{}, 0, fmt.Errorf("%w: %s (0x%02X)", ErrInvalidInstruction, op, uint8(op))
	}
	return u.Eval(op, a, b), u.Latency(), nil
}

// unitSlot models one unit's start/valid handshake inside the sequencer.
type unitSlot struct {
	unit      Unit
	busy      bool
	remaining int
	op        Opcode
	a, b      uint256.Int
	mul       *Multiplier
}

func (s *unitSlot) start(op Opcode, a, b uint256.Int) {
	s.busy = true
	s.op = op
	s.a, s.b = a, b
	s.remaining = s.unit.Latency()
	if s.unit == UnitMultiply {
		s.mul.Start(&a, &b)
	}
}

// tick advances the unit by one cycle and reports a completion pulse.
func (s *unitSlot) tick() (uint256.Int, bool) {
	if !s.busy {
		return uint256.Int{}, false
	}
	if s.unit == UnitMultiply {
		q, done := s.mul.Tick()
		if done {
			s.busy = false
		}
		return q, done
	}
	s.remaining--
	if s.remaining > 0 {
		return uint256.Int{}, false
	}
	s.busy = false
	return s.unit.Eval(s.op, &s.a, &s.b), true
}
