package vm

import "github.com/holiman/uint256"

// The multiplier works on 15 limbs of 17 bits (255 bits). Partial products
// that land at limb 15 or above wrap to limb k-15 scaled by 19, since
// 2^255 = 19 (mod 2^255-19). A limb accumulator never exceeds 43 bits.
const (
	limbBits   = 17
	numLimbs   = 15
	limbMask   = 1<<limbBits - 1
	mulSteps   = numLimbs
	carrySteps = numLimbs - 1
	wrapFactor = 19
)

// MulStage is a state of the multiplier pipeline.
type MulStage uint8

const (
	StageIdle MulStage = iota
	StageLoad
	StageMultiply
	StageDelay
	StagePsumLow
	StagePsumHigh
	StageCarry
	StageNormalize
	StageCarryAgain
	StageDone
)

var stageNames = [...]string{
	StageIdle:       "idle",
	StageLoad:       "load",
	StageMultiply:   "multiply",
	StageDelay:      "delay",
	StagePsumLow:    "psum-low",
	StagePsumHigh:   "psum-high",
	StageCarry:      "carry",
	StageNormalize:  "normalize",
	StageCarryAgain: "carry-again",
	StageDone:       "done",
}

func (s MulStage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return "unknown"
}

// stageCycles is the fixed cycle count of each stage.
var stageCycles = [...]int{
	StageLoad:       1,
	StageMultiply:   mulSteps,
	StageDelay:      1,
	StagePsumLow:    1,
	StagePsumHigh:   1,
	StageCarry:      carrySteps,
	StageNormalize:  1,
	StageCarryAgain: carrySteps,
	StageDone:       1,
}

// MulLatency is the number of cycles from Start to the result pulse.
const MulLatency = 1 + mulSteps + 1 + 1 + 1 + carrySteps + 1 + carrySteps + 1

// Multiplier computes a*b mod 2^255-19 as a cycle-stepped pipeline. Every
// stage runs the same number of cycles and the same operations for all
// operand values.
type Multiplier struct {
	stage MulStage
	step  int

	x, y   uint256.Int
	a, b   [numLimbs]uint64
	acc    [numLimbs]uint64
	hi     [numLimbs]uint64
	r      [numLimbs]uint64
	cycles int
}

// Start latches the operands and begins a multiplication.
func (m *Multiplier) Start(x, y *uint256.Int) {
	m.x.Set(x)
	m.y.Set(y)
	m.stage = StageLoad
	m.step = 0
	m.cycles = 0
}

// Stage returns the current pipeline stage.
func (m *Multiplier) Stage() MulStage {
	return m.stage
}

// Busy reports whether a multiplication is in flight.
func (m *Multiplier) Busy() bool {
	return m.stage != StageIdle
}

// Cycles returns the number of ticks consumed by the current or last
// multiplication.
func (m *Multiplier) Cycles() int {
	return m.cycles
}

// Tick advances the pipeline by one cycle. The second return value is the
// single-cycle completion pulse.
func (m *Multiplier) Tick() (uint256.Int, bool) {
	if m.stage == StageIdle {
		return uint256.Int{}, false
	}
	m.cycles++

	switch m.stage {
	case StageLoad:
		m.load()
	case StageMultiply:
		m.multiplyStep(m.step)
	case StageDelay:
	case StagePsumLow:
		m.psumLow()
	case StagePsumHigh:
		m.psumHigh()
	case StageCarry:
		m.carryStep(m.step, true)
	case StageNormalize:
		m.normalize()
	case StageCarryAgain:
		m.carryStep(m.step, false)
	case StageDone:
		q := m.pack()
		m.stage = StageIdle
		m.step = 0
		return q, true
	}

	m.step++
	if m.step == stageCycles[m.stage] {
		m.stage++
		m.step = 0
	}
	return uint256.Int{}, false
}

// load splits both operands into limbs. Bit 255 is folded into limb 0.
func (m *Multiplier) load() {
	splitLimbs(&m.a, &m.x)
	splitLimbs(&m.b, &m.y)
	for k := range m.acc {
		m.acc[k] = 0
		m.hi[k] = 0
	}
	for k := range m.r {
		m.r[k] = 0
	}
}

// multiplyStep accumulates limb i of a against every limb of b.
func (m *Multiplier) multiplyStep(i int) {
	for j := 0; j < numLimbs; j++ {
		p := m.a[i] * m.b[j]
		k := i + j
		if k >= numLimbs {
			k -= numLimbs
			p *= wrapFactor
		}
		m.acc[k] += p
	}
}

// psumLow collapses bits 0..33 of each accumulator into the limb array.
func (m *Multiplier) psumLow() {
	for k := 0; k < numLimbs; k++ {
		m.hi[k] = m.acc[k] >> (2 * limbBits)
	}
	m.r[0] = m.acc[0]&limbMask + wrapFactor*((m.acc[numLimbs-1]>>limbBits)&limbMask)
	for k := 1; k < numLimbs; k++ {
		m.r[k] = m.acc[k]&limbMask + (m.acc[k-1]>>limbBits)&limbMask
	}
}

// psumHigh adds bits 34 and up of each accumulator two limbs higher.
func (m *Multiplier) psumHigh() {
	m.r[0] += wrapFactor * m.hi[numLimbs-2]
	m.r[1] += wrapFactor * m.hi[numLimbs-1]
	for k := 2; k < numLimbs; k++ {
		m.r[k] += m.hi[k-2]
	}
}

// carryStep moves the carry out of limb i into limb i+1. On the last step
// of the first pass, everything at 2^255 and above wraps into limb 0.
func (m *Multiplier) carryStep(i int, wrapTop bool) {
	c := m.r[i] >> limbBits
	m.r[i] &= limbMask
	m.r[i+1] += c
	if wrapTop && i == carrySteps-1 {
		top := m.r[numLimbs-1] >> limbBits
		m.r[numLimbs-1] &= limbMask
		m.r[0] += wrapFactor * top
	}
}

// normalize adds 19 when the value lies in [p, 2^256). The addition is
// always performed; only the addend depends on the overflow test.
func (m *Multiplier) normalize() {
	all := uint64(1)
	for k := 1; k < numLimbs; k++ {
		all &= isZero(m.r[k] ^ limbMask)
	}
	low := ((limbMask - wrapFactor) - m.r[0]) >> 63
	top := (m.r[numLimbs-1] >> limbBits) & 1
	overflow := (all & low) | top
	m.r[0] += wrapFactor * overflow
}

// pack drops bit 255 and reassembles the 256-bit result.
func (m *Multiplier) pack() uint256.Int {
	m.r[numLimbs-1] &= limbMask
	var q uint256.Int
	for k := 0; k < numLimbs; k++ {
		off := k * limbBits
		w, sh := off/64, uint(off%64)
		q[w] |= m.r[k] << sh
		if sh+limbBits > 64 && w+1 < 4 {
			q[w+1] |= m.r[k] >> (64 - sh)
		}
	}
	return q
}

// splitLimbs extracts 15 17-bit limbs from x and folds bit 255 into limb 0.
func splitLimbs(dst *[numLimbs]uint64, x *uint256.Int) {
	for k := 0; k < numLimbs; k++ {
		off := k * limbBits
		w, sh := off/64, uint(off%64)
		v := x[w] >> sh
		if sh+limbBits > 64 && w+1 < 4 {
			v |= x[w+1] << (64 - sh)
		}
		dst[k] = v & limbMask
	}
	dst[0] += wrapFactor * (x[3] >> 63)
}

// isZero returns 1 when v is zero and 0 otherwise.
func isZero(v uint64) uint64 {
	return 1 ^ ((v | -v) >> 63)
}

// MulMod returns a*b mod 2^255-19 by running the pipeline to completion.
func MulMod(a, b *uint256.Int) uint256.Int {
	var m Multiplier
	m.Start(a, b)
	for {
		if q, done := m.Tick(); done {
			return q
		}
	}
}
