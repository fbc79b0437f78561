package embed

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"github.com/akhildatla/engine25519/internal/testutil"
	"github.com/akhildatla/engine25519/pkg/loader"
	"github.com/akhildatla/engine25519/pkg/vm"
)

func mulMod(a, b uint256.Int) uint256.Int {
	p := vm.Prime.ToBig()
	prod := new(big.Int).Mul(a.ToBig(), b.ToBig())
	v, _ := uint256.FromBig(prod.Mod(prod, p))
	return *v
}

func TestExecute_ModularAdd(t *testing.T) {
	a := testutil.Hex(t, "0x7fffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffeb")
	result, err := Execute(testutil.ModAddSource, map[uint8]uint256.Int{0: a, 1: {3}})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	testutil.AssertEqual(t, uint256.Int{1}, result.Registers[2])
	if result.Outcome != vm.OutcomeFinished {
		t.Errorf("expected finished, got %v", result.Outcome)
	}
	if result.Instructions != 4 {
		t.Errorf("expected 4 instructions, got %d", result.Instructions)
	}
}

func TestExecute_Multiply(t *testing.T) {
	a := testutil.Hex(t, "0x1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef")
	b := testutil.Hex(t, "0x5555555555555555555555555555555555555555555555555555555555555555")

	result, err := ExecuteWithOptions("MUL r2, r0, r1\nFIN",
		WithOperands(map[uint8]uint256.Int{0: a, 1: b}),
		WithWindow(7),
	)
	if err != nil {
		t.Fatalf("ExecuteWithOptions failed: %v", err)
	}
	testutil.AssertEqual(t, mulMod(a, b), result.Registers[2])
	if result.Cycles < vm.MulLatency {
		t.Errorf("expected at least %d cycles, got %d", vm.MulLatency, result.Cycles)
	}
}

func TestExecute_CompileError(t *testing.T) {
	if _, err := Execute("BOGUS r1", nil); err == nil {
		t.Error("expected compile error")
	}
}

func TestExecute_Faults(t *testing.T) {
	tests := []struct {
		name string
		code string
		want error
	}{
		{"illegal opcode", ".word 0x0000003F\nFIN", ErrIllegalOpcode},
		{"branch fault", "BRZ #zero, 5\nFIN", ErrBranchFault},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ExecuteWithOptions(tt.code)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if result == nil {
				t.Fatal("expected a result alongside the fault")
			}
		})
	}
}

func TestExecute_CycleLimit(t *testing.T) {
	_, err := ExecuteWithOptions("loop: BRZ #zero, loop", WithMaxCycles(1000))
	if !errors.Is(err, ErrCycleLimit) {
		t.Errorf("expected ErrCycleLimit, got %v", err)
	}
}

func TestExecute_Timeout(t *testing.T) {
	_, err := ExecuteWithOptions("loop: BRZ #zero, loop", WithTimeout(20*time.Millisecond))
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestExecute_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ExecuteWithOptions("FIN", WithContext(ctx))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

type countingObserver struct {
	retired int
	runs    int
}

func (c *countingObserver) InstructionRetired(vm.Opcode) { c.retired++ }
func (c *countingObserver) RunEnded(vm.RunReport) { c.runs++ }

func TestExecuteTable(t *testing.T) {
	table, err := loader.Operands(testutil.OperandFrame())
	if err != nil {
		t.Fatalf("Operands failed: %v", err)
	}

	obs := &countingObserver{}
	results, err := ExecuteTable(testutil.ModAddSource, table, WithObserver(obs), WithBypass())
	if err != nil {
		t.Fatalf("ExecuteTable failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	testutil.AssertEqual(t, uint256.Int{12}, results[0].Registers[2])
	testutil.AssertEqual(t, uint256.Int{1}, results[1].Registers[2])
	if obs.runs != 2 || obs.retired != 8 {
		t.Errorf("expected 2 runs and 8 instructions, got %d and %d", obs.runs, obs.retired)
	}
}

func TestExecuteFile(t *testing.T) {
	path := testutil.TempFile(t, "XOR r5, #neg1, r0\nFIN\n", ".asm")

	result, err := ExecuteFile(path, WithOperands(map[uint8]uint256.Int{0: {0xFF}}))
	if err != nil {
		t.Fatalf("ExecuteFile failed: %v", err)
	}
	want := vm.NegOne
	want[0] = ^uint64(0xFF)
	testutil.AssertEqual(t, want, result.Registers[5])

	if _, err := ExecuteFile("/nonexistent/file.asm"); err == nil {
		t.Error("expected error for nonexistent file")
	}
}
