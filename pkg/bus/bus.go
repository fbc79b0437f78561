// Package bus models the engine's memory-mapped host interface: a 32-bit
// request/acknowledge bus with a microcode window, a register-file window
// and a bank of control and status registers.
//
// Memory map (byte addresses):
//
//	0x0_0000 - 0x0_0FFF  microcode store, one word per instruction
//	0x1_0000 - 0x1_3FFF  register file, eight words per 256-bit register
//	0x2_0000 - 0x2_001F  control and status registers
//
// Reads anywhere else return Sentinel; writes there are acknowledged and
// discarded.
package bus

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/akhildatla/engine25519/pkg/vm"
)

// Region bases and limits.
const (
	MicrocodeBase = 0x0_0000
	MicrocodeEnd  = 0x0_1000
	RegisterBase  = 0x1_0000
	RegisterEnd   = 0x1_4000
	CSRBase       = 0x2_0000
	CSREnd        = 0x2_0020
)

// CSR offsets from CSRBase.
const (
	CSRWindow  = 0x00
	CSRMPStart = 0x04
	CSRMPLen   = 0x08
	CSRControl = 0x0C
	CSRStatus  = 0x10
	CSREvents  = 0x14
)

// CONTROL bits.
const (
	ControlGo     = 1 << 0
	ControlPause  = 1 << 1
	ControlResume = 1 << 2
)

// STATUS bits.
const (
	StatusRunning  = 1 << 0
	StatusMPCShift = 1
	StatusMPCMask  = 0x3FF
	StatusPaused   = 1 << 11
)

// EVENTS bits.
const (
	EventFinished     = 1 << 0
	EventIllegal      = 1 << 1
	EventBranchFault  = 1 << 2
	EventUnitConflict = 1 << 3
)

// Sentinel is returned for reads outside every mapped region.
const Sentinel = 0xC0DEBADD

// Wait states before a read is acknowledged.
const (
	MicrocodeReadWait = 1
	RegisterReadWait  = 4
)

// SelAll enables all four byte lanes of a word.
const SelAll = 0xF

const wordsPerRegister = 8

// ErrStall is returned when a region access cannot be serviced because the
// engine owns the resource.
var ErrStall = errors.New("bus access stalled")

// Request is a single bus cycle.
type Request struct {
	Addr  uint32
	Write bool
	Data  uint32
	Sel   uint8 // byte lanes, bit i enables byte i of Data
}

// Response acknowledges a Request.
type Response struct {
	Data       uint32
	WaitStates int
}

// Bus decodes host requests onto an engine.
type Bus struct {
	engine *vm.VM
	logger *zap.Logger
}

// Option is a functional option for the Bus.
type Option func(*Bus)

// WithLogger sets the logger used for decode events.
func WithLogger(l *zap.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// New attaches a bus to an engine.
func New(engine *vm.VM, opts ...Option) *Bus {
	b := &Bus{engine: engine, logger: zap.NewNop()}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Engine returns the attached engine.
func (b *Bus) Engine() *vm.VM {
	return b.engine
}

// Access performs one bus cycle. Region accesses while the engine is
// running return ErrStall; the caller retries after the run ends.
func (b *Bus) Access(req Request) (Response, error) {
	addr := req.Addr &^ 3
	switch {
	case addr >= MicrocodeBase && addr < MicrocodeEnd:
		return b.microcode(addr-MicrocodeBase, req)
	case addr >= RegisterBase && addr < RegisterEnd:
		return b.register(addr-RegisterBase, req)
	case addr >= CSRBase && addr < CSREnd:
		return b.csr(addr-CSRBase, req)
	default:
		b.logger.Debug("unmapped access",
			zap.Uint32("addr", req.Addr),
			zap.Bool("write", req.Write))
		if req.Write {
			return Response{}, nil
		}
		return Response{Data: Sentinel}, nil
	}
}

// Read is a full-word read.
func (b *Bus) Read(addr uint32) (uint32, error) {
	resp, err := b.Access(Request{Addr: addr})
	return resp.Data, err
}

// Write is a full-word write.
func (b *Bus) Write(addr, data uint32) error {
	_, err := b.Access(Request{Addr: addr, Write: true, Data: data, Sel: SelAll})
	return err
}

func (b *Bus) microcode(off uint32, req Request) (Response, error) {
	word := off / 4
	if int(word) >= b.engine.MicrocodeDepth() {
		if req.Write {
			return Response{}, nil
		}
		return Response{Data: Sentinel}, nil
	}

	if req.Write {
		cur, err := b.engine.ReadInstruction(word)
		if err != nil {
			return Response{}, stall(err)
		}
		v := mergeLanes(uint32(cur), req.Data, req.Sel)
		if err := b.engine.WriteInstruction(word, vm.Instruction(v)); err != nil {
			return Response{}, stall(err)
		}
		return Response{}, nil
	}

	inst, err := b.engine.ReadInstruction(word)
	if err != nil {
		return Response{}, stall(err)
	}
	return Response{Data: uint32(inst), WaitStates: MicrocodeReadWait}, nil
}

// register maps word w to register w/8 of window w/256; w%8 selects the
// 32-bit slice, least significant first.
func (b *Bus) register(off uint32, req Request) (Response, error) {
	w := off / 4
	window := uint8(w / (wordsPerRegister * vm.NumRegisters))
	index := uint8((w / wordsPerRegister) % vm.NumRegisters)
	sub := w % wordsPerRegister

	if req.Write {
		var v uint256.Int
		v[sub/2] = uint64(req.Data) << (32 * (sub % 2))
		mask := uint32(req.Sel&SelAll) << (sub * 4)
		if err := b.engine.WriteRegister(window, index, v, mask); err != nil {
			return Response{}, stall(err)
		}
		return Response{}, nil
	}

	v, err := b.engine.ReadRegister(window, index)
	if err != nil {
		return Response{}, stall(err)
	}
	data := uint32(v[sub/2] >> (32 * (sub % 2)))
	return Response{Data: data, WaitStates: RegisterReadWait}, nil
}

func (b *Bus) csr(off uint32, req Request) (Response, error) {
	if req.Write {
		return Response{}, b.writeCSR(off, mergeLanes(b.readCSR(off), req.Data, req.Sel))
	}
	return Response{Data: b.readCSR(off)}, nil
}

func (b *Bus) readCSR(off uint32) uint32 {
	cfg := b.engine.Config()
	switch off {
	case CSRWindow:
		return uint32(cfg.Window)
	case CSRMPStart:
		return cfg.Start
	case CSRMPLen:
		return cfg.Count
	case CSRStatus:
		return encodeStatus(b.engine.Status())
	case CSREvents:
		return encodeEvents(b.engine.Status())
	default:
		return 0
	}
}

func (b *Bus) writeCSR(off, v uint32) error {
	cfg := b.engine.Config()
	switch off {
	case CSRWindow:
		cfg.Window = uint8(v & (vm.NumWindows - 1))
		b.engine.Configure(cfg)
	case CSRMPStart:
		cfg.Start = v & StatusMPCMask
		b.engine.Configure(cfg)
	case CSRMPLen:
		cfg.Count = v & StatusMPCMask
		b.engine.Configure(cfg)
	case CSRControl:
		if v&ControlGo != 0 {
			if err := b.engine.Go(); err != nil {
				return fmt.Errorf("go: %w", err)
			}
		}
		if v&ControlPause != 0 {
			b.engine.Pause()
		}
		if v&ControlResume != 0 {
			b.engine.Resume()
		}
	}
	return nil
}

func encodeStatus(st vm.Status) uint32 {
	var v uint32
	if st.Running {
		v |= StatusRunning
	}
	v |= (st.MPC & StatusMPCMask) << StatusMPCShift
	if st.Paused {
		v |= StatusPaused
	}
	return v
}

func encodeEvents(st vm.Status) uint32 {
	var v uint32
	if st.Finished {
		v |= EventFinished
	}
	if st.IllegalOpcode {
		v |= EventIllegal
	}
	if st.BranchFault {
		v |= EventBranchFault
	}
	if st.UnitConflict {
		v |= EventUnitConflict
	}
	return v
}

// mergeLanes replaces the bytes of old enabled by sel with those of v.
func mergeLanes(old, v uint32, sel uint8) uint32 {
	var m uint32
	for i := 0; i < 4; i++ {
		if sel&(1<<i) != 0 {
			m |= 0xFF << (8 * i)
		}
	}
	return old&^m | v&m
}

func stall(err error) error {
	if errors.Is(err, vm.ErrBusy) || errors.Is(err, vm.ErrNotReady) {
		return fmt.Errorf("%w: %w", ErrStall, err)
	}
	return err
}

// Clock drives the engine until it is idle.
func (b *Bus) Clock(ctx context.Context) error {
	return b.engine.Run(ctx)
}
