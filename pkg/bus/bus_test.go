package bus

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akhildatla/engine25519/pkg/vm"
)

func newBus(t *testing.T) *Bus {
	engine := vm.NewVM()
	require.NoError(t, engine.Run(context.Background()))
	return New(engine)
}

func TestUnmappedAccess(t *testing.T) {
	b := newBus(t)

	for _, addr := range []uint32{0x0_1000, 0x1_4000, 0x2_0020, 0x3_0000, 0xFFFF_FFFC} {
		resp, err := b.Access(Request{Addr: addr})
		require.NoError(t, err)
		assert.Equal(t, uint32(Sentinel), resp.Data, "addr 0x%X", addr)
		assert.Zero(t, resp.WaitStates)

		_, err = b.Access(Request{Addr: addr, Write: true, Data: 1, Sel: SelAll})
		assert.NoError(t, err, "write to 0x%X must be acknowledged", addr)
	}
}

func TestMicrocodeRegion(t *testing.T) {
	b := newBus(t)
	inst := vm.EncodeInstruction(vm.Fields{Op: vm.OpADD, Wd: 2, Ra: 0, Rb: 1})

	require.NoError(t, b.Write(0x10, uint32(inst)))
	resp, err := b.Access(Request{Addr: 0x10})
	require.NoError(t, err)
	assert.Equal(t, uint32(inst), resp.Data)
	assert.Equal(t, MicrocodeReadWait, resp.WaitStates)

	got, err := b.Engine().ReadInstruction(4)
	require.NoError(t, err)
	assert.Equal(t, inst, got)

	// Byte-lane write replaces the low byte only.
	_, err = b.Access(Request{Addr: 0x10, Write: true, Data: 0xFFFF_FF0A, Sel: 0x1})
	require.NoError(t, err)
	word, _ := b.Read(0x10)
	assert.Equal(t, uint32(inst)&^0xFF|0x0A, word)
}

func TestRegisterRegionMapping(t *testing.T) {
	b := newBus(t)
	h := NewHost(b)
	v := uint256.MustFromHex("0x1111111122222222333333334444444455555555666666667777777788888888")

	require.NoError(t, h.WriteRegister(2, 5, v))

	got, err := b.Engine().ReadRegister(2, 5)
	require.NoError(t, err)
	assert.Equal(t, *v, got)

	// word 0 is the least significant 32 bits
	resp, err := b.Access(Request{Addr: RegisterAddr(2, 5, 0)})
	require.NoError(t, err)
	assert.Equal(t, uint32(0x88888888), resp.Data)
	assert.Equal(t, RegisterReadWait, resp.WaitStates)

	word7, err := b.Read(RegisterAddr(2, 5, 7))
	require.NoError(t, err)
	assert.Equal(t, uint32(0x11111111), word7)

	assert.Equal(t, uint32(RegisterBase+(2*256+5*8)*4), RegisterAddr(2, 5, 0))

	back, err := h.ReadRegister(2, 5)
	require.NoError(t, err)
	assert.Equal(t, *v, back)
}

func TestRegisterByteLanes(t *testing.T) {
	b := newBus(t)
	h := NewHost(b)
	require.NoError(t, h.WriteRegister(0, 1, &vm.NegOne))

	// Clear byte 1 of word 3 only.
	_, err := b.Access(Request{Addr: RegisterAddr(0, 1, 3), Write: true, Data: 0, Sel: 0x2})
	require.NoError(t, err)

	got, err := h.ReadRegister(0, 1)
	require.NoError(t, err)
	want := vm.NegOne
	want[1] = 0xFFFF_00FF_FFFF_FFFF
	assert.Equal(t, want, got)
}

func TestStallWhileRunning(t *testing.T) {
	b := newBus(t)
	h := NewHost(b)
	mul := vm.EncodeInstruction(vm.Fields{Op: vm.OpMUL, Wd: 1, Ra: 0, Rb: 0})
	require.NoError(t, h.LoadProgram(&vm.Program{Code: []vm.Instruction{mul}}))
	require.NoError(t, h.Start(vm.RunConfig{Count: 1}))
	require.NoError(t, b.Engine().Step())

	_, err := b.Access(Request{Addr: RegisterAddr(0, 0, 0)})
	assert.ErrorIs(t, err, ErrStall)
	assert.ErrorIs(t, err, vm.ErrBusy)

	_, err = b.Access(Request{Addr: 0})
	assert.ErrorIs(t, err, ErrStall)

	status, err := b.Read(CSRBase + CSRStatus)
	require.NoError(t, err, "CSRs stay accessible during a run")
	assert.NotZero(t, status&StatusRunning)

	// Unmapped reads never stall.
	word, err := b.Read(0x5_0000)
	require.NoError(t, err)
	assert.Equal(t, uint32(Sentinel), word)

	events, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(EventFinished), events)
}

func TestEndToEndOverBus(t *testing.T) {
	b := newBus(t)
	h := NewHost(b)
	code := []vm.Instruction{
		vm.EncodeInstruction(vm.Fields{Op: vm.OpADD, Wd: 2, Ra: 0, Rb: 1}),
		vm.EncodeInstruction(vm.Fields{Op: vm.OpTRD, Wd: 3, Ra: 2}),
		vm.EncodeInstruction(vm.Fields{Op: vm.OpSUB, Wd: 2, Ra: 2, Rb: 3}),
		vm.EncodeInstruction(vm.Fields{Op: vm.OpFIN}),
	}
	var pm1 uint256.Int
	pm1.SubUint64(&vm.Prime, 1)

	require.NoError(t, h.LoadProgram(&vm.Program{Origin: 100, Code: code}))
	require.NoError(t, h.WriteRegister(6, 0, &pm1))
	require.NoError(t, h.WriteRegister(6, 1, uint256.NewInt(2)))
	require.NoError(t, h.Start(vm.RunConfig{Start: 100, Count: 4, Window: 6}))

	events, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(EventFinished), events)

	r2, err := h.ReadRegister(6, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), r2.Uint64())

	status, _ := b.Read(CSRBase + CSRStatus)
	assert.Zero(t, status&StatusRunning)
	assert.Equal(t, uint32(103), (status>>StatusMPCShift)&StatusMPCMask)
}

func TestCSRReadback(t *testing.T) {
	b := newBus(t)

	require.NoError(t, b.Write(CSRBase+CSRWindow, 0x1F))
	require.NoError(t, b.Write(CSRBase+CSRMPStart, 12))
	require.NoError(t, b.Write(CSRBase+CSRMPLen, 34))

	w, _ := b.Read(CSRBase + CSRWindow)
	assert.Equal(t, uint32(0xF), w, "window is four bits")
	s, _ := b.Read(CSRBase + CSRMPStart)
	assert.Equal(t, uint32(12), s)
	l, _ := b.Read(CSRBase + CSRMPLen)
	assert.Equal(t, uint32(34), l)

	assert.Equal(t, vm.RunConfig{Start: 12, Count: 34, Window: 15}, b.Engine().Config())
}

func TestIllegalOpcodeEvent(t *testing.T) {
	b := newBus(t)
	h := NewHost(b)
	require.NoError(t, b.Write(0, uint32(vm.OpMax)))
	require.NoError(t, h.Start(vm.RunConfig{Count: 1}))

	events, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(EventFinished|EventIllegal), events)
}

func TestPauseOverBus(t *testing.T) {
	b := newBus(t)
	h := NewHost(b)
	add := vm.EncodeInstruction(vm.Fields{Op: vm.OpADD, Wd: 0, Ra: 0, Rb: 1})
	require.NoError(t, h.LoadProgram(&vm.Program{Code: []vm.Instruction{add, add, add}}))
	require.NoError(t, h.WriteRegister(0, 1, uint256.NewInt(1)))
	require.NoError(t, h.Start(vm.RunConfig{Count: 3}))
	require.NoError(t, b.Write(CSRBase+CSRControl, ControlPause))

	_, err := h.Wait(context.Background())
	require.NoError(t, err)
	status, _ := b.Read(CSRBase + CSRStatus)
	assert.NotZero(t, status&StatusPaused)
	assert.NotZero(t, status&StatusRunning)

	// Paused before the first fetch: the register file is open to the host.
	r0, err := h.ReadRegister(0, 0)
	require.NoError(t, err)
	assert.True(t, r0.IsZero())
	require.NoError(t, h.WriteRegister(0, 0, uint256.NewInt(5)))

	require.NoError(t, b.Write(CSRBase+CSRControl, ControlResume))
	events, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(EventFinished), events)

	r0, err = h.ReadRegister(0, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), r0.Uint64())
}

func TestGoWhileRunning(t *testing.T) {
	b := newBus(t)
	h := NewHost(b)
	mul := vm.EncodeInstruction(vm.Fields{Op: vm.OpMUL})
	require.NoError(t, h.LoadProgram(&vm.Program{Code: []vm.Instruction{mul}}))
	require.NoError(t, h.Start(vm.RunConfig{Count: 1}))

	err := b.Write(CSRBase+CSRControl, ControlGo)
	assert.ErrorIs(t, err, vm.ErrBusy)
}
