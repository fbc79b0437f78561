package vm

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

const (
	NumWindows        = 16                         // selectable register banks
	NumPhysicalRegs   = NumWindows * NumRegisters  // 512 x 256-bit entries
	DefaultResetCycle = 4                          // engine cycles the file is unavailable after reset
	FullByteMask      = ^uint32(0)                 // all 32 bytes of a register
	windowMask        = NumWindows - 1
)

// Register file errors
var (
	ErrNotReady      = errors.New("register file not ready")
	ErrInvalidWindow = errors.New("invalid register window")
)

// Address names one physical register.
type Address struct {
	Window uint8
	Index  uint8
}

func (a Address) physical() int {
	return int(a.Window&windowMask)*NumRegisters + int(a.Index&regMask)
}

// WritePort is the single write request serviced in a register file cycle.
type WritePort struct {
	Addr  Address
	Value uint256.Int
	Mask  uint32 // bit i enables byte i (little-endian)
}

// RegisterFile is the 512-entry, 256-bit, 2R1W windowed register store.
//
// Within one Cycle both reads observe the contents from before the write
// (read-first ordering). With bypass enabled, a read of the address being
// written returns the merged write data instead.
type RegisterFile struct {
	regs        [NumPhysicalRegs]uint256.Int
	resetCycles int
	resetCount  int
	bypass      bool
}

// NewRegisterFile creates a register file that becomes ready after
// resetCycles ticks.
func NewRegisterFile(resetCycles int, bypass bool) *RegisterFile {
	if resetCycles < 0 {
		resetCycles = 0
	}
	rf := &RegisterFile{resetCycles: resetCycles, bypass: bypass}
	rf.Reset()
	return rf
}

// Reset clears all registers and starts the not-ready interval.
func (rf *RegisterFile) Reset() {
	for i := range rf.regs {
		rf.regs[i].Clear()
	}
	rf.resetCount = rf.resetCycles
}

// Tick advances the reset counter by one engine cycle.
func (rf *RegisterFile) Tick() {
	if rf.resetCount > 0 {
		rf.resetCount--
	}
}

// Ready reports whether the reset interval has elapsed.
func (rf *RegisterFile) Ready() bool {
	return rf.resetCount == 0
}

// Bypass reports whether same-cycle write forwarding is enabled.
func (rf *RegisterFile) Bypass() bool {
	return rf.bypass
}

// ReadA reads operand port A.
func (rf *RegisterFile) ReadA(window, index uint8) (uint256.Int, error) {
	return rf.read(Address{window, index})
}

// ReadB reads operand port B.
func (rf *RegisterFile) ReadB(window, index uint8) (uint256.Int, error) {
	return rf.read(Address{window, index})
}

// Write stores the bytes of value enabled by byteMask.
func (rf *RegisterFile) Write(window, index uint8, value uint256.Int, byteMask uint32) error {
	if !rf.Ready() {
		return ErrNotReady
	}
	if window >= NumWindows {
		return fmt.Errorf("%w: %d", ErrInvalidWindow, window)
	}
	p := Address{window, index}.physical()
	rf.regs[p] = mergeBytes(rf.regs[p], value, byteMask)
	return nil
}

// Cycle services two reads and at most one write as a single logical cycle.
func (rf *RegisterFile) Cycle(ra, rb Address, w *WritePort) (a, b uint256.Int, err error) {
	if !rf.Ready() {
		return a, b, ErrNotReady
	}
	a = rf.regs[ra.physical()]
	b = rf.regs[rb.physical()]
	if w == nil {
		return a, b, nil
	}
	wp := w.Addr.physical()
	merged := mergeBytes(rf.regs[wp], w.Value, w.Mask)
	if rf.bypass {
		if ra.physical() == wp {
			a = merged
		}
		if rb.physical() == wp {
			b = merged
		}
	}
	rf.regs[wp] = merged
	return a, b, nil
}

func (rf *RegisterFile) read(addr Address) (uint256.Int, error) {
	if !rf.Ready() {
		return uint256.Int{}, ErrNotReady
	}
	if addr.Window >= NumWindows {
		return uint256.Int{}, fmt.Errorf("%w: %d", ErrInvalidWindow, addr.Window)
	}
	return rf.regs[addr.physical()], nil
}

// mergeBytes replaces the bytes of old selected by mask with those of v.
func mergeBytes(old, v uint256.Int, mask uint32) uint256.Int {
	if mask == FullByteMask {
		return v
	}
	var out uint256.Int
	for limb := 0; limb < 4; limb++ {
		var sel uint64
		for b := 0; b < 8; b++ {
			if mask&(1<<(limb*8+b)) != 0 {
				sel |= 0xFF << (b * 8)
			}
		}
		out[limb] = old[limb]&^sel | v[limb]&sel
	}
	return out
}
