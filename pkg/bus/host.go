package bus

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/akhildatla/engine25519/pkg/vm"
)

// Host performs multi-word transfers over a Bus the way a driver would:
// one 32-bit access at a time.
type Host struct {
	bus *Bus
}

// NewHost wraps a bus.
func NewHost(b *Bus) *Host {
	return &Host{bus: b}
}

// RegisterAddr returns the bus address of word sub of a register.
func RegisterAddr(window, index uint8, sub int) uint32 {
	reg := uint32(window)*vm.NumRegisters + uint32(index)
	return RegisterBase + (reg*wordsPerRegister+uint32(sub))*4
}

// LoadProgram writes p into the microcode store.
func (h *Host) LoadProgram(p *vm.Program) error {
	for i, inst := range p.Code {
		addr := MicrocodeBase + (uint32(p.Origin)+uint32(i))*4
		if err := h.bus.Write(addr, uint32(inst)); err != nil {
			return fmt.Errorf("microcode word %d: %w", int(p.Origin)+i, err)
		}
	}
	return nil
}

// WriteRegister stores a 256-bit value as eight word writes.
func (h *Host) WriteRegister(window, index uint8, v *uint256.Int) error {
	for sub := 0; sub < wordsPerRegister; sub++ {
		word := uint32(v[sub/2] >> (32 * (sub % 2)))
		if err := h.bus.Write(RegisterAddr(window, index, sub), word); err != nil {
			return fmt.Errorf("register w%d r%d: %w", window, index, err)
		}
	}
	return nil
}

// ReadRegister reassembles a 256-bit value from eight word reads.
func (h *Host) ReadRegister(window, index uint8) (uint256.Int, error) {
	var v uint256.Int
	for sub := 0; sub < wordsPerRegister; sub++ {
		word, err := h.bus.Read(RegisterAddr(window, index, sub))
		if err != nil {
			return uint256.Int{}, fmt.Errorf("register w%d r%d: %w", window, index, err)
		}
		v[sub/2] |= uint64(word) << (32 * (sub % 2))
	}
	return v, nil
}

// Start programs the run CSRs and pulses go.
func (h *Host) Start(cfg vm.RunConfig) error {
	writes := []struct {
		off uint32
		v   uint32
	}{
		{CSRWindow, uint32(cfg.Window)},
		{CSRMPStart, cfg.Start},
		{CSRMPLen, cfg.Count},
		{CSRControl, ControlGo},
	}
	for _, w := range writes {
		if err := h.bus.Write(CSRBase+w.off, w.v); err != nil {
			return err
		}
	}
	return nil
}

// Wait clocks the engine until the run ends and returns the EVENTS word.
func (h *Host) Wait(ctx context.Context) (uint32, error) {
	if err := h.bus.Clock(ctx); err != nil {
		return 0, err
	}
	status, err := h.bus.Read(CSRBase + CSRStatus)
	if err != nil {
		return 0, err
	}
	if status&StatusRunning != 0 && status&StatusPaused == 0 {
		return 0, fmt.Errorf("engine still running at mpc %d", (status>>StatusMPCShift)&StatusMPCMask)
	}
	return h.bus.Read(CSRBase + CSREvents)
}
