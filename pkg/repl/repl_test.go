package repl

import (
	"bytes"
	"strings"
	"testing"

	"github.com/holiman/uint256"
)

func run(t *testing.T, r *REPL, input string) string {
	t.Helper()
	var out bytes.Buffer
	r.Start(strings.NewReader(input), &out)
	return out.String()
}

func TestREPL_New(t *testing.T) {
	r := New()
	if r == nil {
		t.Fatal("New returned nil")
	}
	if r.mode != ModeImmediate {
		t.Errorf("expected immediate mode, got %v", r.mode)
	}
	if !r.engine.Ready() {
		t.Error("expected register file out of reset")
	}
}

func TestREPL_HandleCommand_Help(t *testing.T) {
	r := New()
	var out bytes.Buffer

	for _, cmd := range []string{"help", "h", "?"} {
		out.Reset()
		if !r.handleCommand(cmd, &out) {
			t.Errorf("expected help command '%s' to be handled", cmd)
		}
		if !strings.Contains(out.String(), "engine25519 Console Commands") {
			t.Errorf("expected help text, got: %s", out.String())
		}
	}
}

func TestREPL_Quit(t *testing.T) {
	r := New()
	output := run(t, r, "quit\nset r0 5\n")
	if !strings.Contains(output, "Goodbye!") {
		t.Error("expected goodbye")
	}
	if strings.Contains(output, "r0 = 0x5") {
		t.Error("expected input after quit to be ignored")
	}
}

func TestREPL_Mode(t *testing.T) {
	r := New()
	output := run(t, r, "mode program\nmode\nmode immediate\nmode bogus\n")

	for _, want := range []string{
		"Switched to program mode",
		"Current mode: program",
		"Switched to immediate mode",
		"Unknown mode",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}
}

func TestREPL_ImmediateModularAdd(t *testing.T) {
	r := New()
	output := run(t, r, `set r0 0x7fffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffeb
set r1 3
ADD r2, r0, r1
TRD r3, r2
SUB r2, r2, r3
regs
`)

	if !strings.Contains(output, "=> finished") {
		t.Errorf("expected run outcome, got:\n%s", output)
	}
	v, err := r.engine.ReadRegister(0, 2)
	if err != nil {
		t.Fatalf("ReadRegister failed: %v", err)
	}
	if v != (uint256.Int{1}) {
		t.Errorf("expected r2 = 1, got %s", v.Hex())
	}
	if !strings.Contains(output, "r2  = 0x1\n") {
		t.Errorf("expected r2 listing, got:\n%s", output)
	}
}

func TestREPL_ImmediateShowsChanges(t *testing.T) {
	r := New()
	output := run(t, r, "XOR r4, #neg1, r0\n")
	want := "   r4  = 0xffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"
	if !strings.Contains(output, want) {
		t.Errorf("expected %q in output:\n%s", want, output)
	}
}

func TestREPL_ProgramMode(t *testing.T) {
	r := New()
	r.SetMode(ModeProgram)
	output := run(t, r, `set r0 3
set r1 1
loop: SUB r0, r0, r1
BRZ r0, done
BRZ #zero, loop
done: FIN
list
lint
run
`)

	if !strings.Contains(output, "  1  loop: SUB r0, r0, r1") {
		t.Errorf("expected listing, got:\n%s", output)
	}
	if !strings.Contains(output, "No findings") {
		t.Errorf("expected clean lint, got:\n%s", output)
	}
	if !strings.Contains(output, "=> finished") {
		t.Errorf("expected finished run, got:\n%s", output)
	}
	v, _ := r.engine.ReadRegister(0, 0)
	if !v.IsZero() {
		t.Errorf("expected r0 counted down to 0, got %s", v.Hex())
	}
}

func TestREPL_StepAndCont(t *testing.T) {
	r := New()
	r.SetMode(ModeProgram)
	output := run(t, r, "PSA r1, #one\nFIN\ngo\nstep\nstep 2\ncont\n")

	if !strings.Contains(output, "Started at 0") {
		t.Errorf("expected start message, got:\n%s", output)
	}
	if !strings.Contains(output, "state exec") {
		t.Errorf("expected exec after one cycle, got:\n%s", output)
	}
	if !strings.Contains(output, "=> finished") {
		t.Errorf("expected run to finish, got:\n%s", output)
	}
	v, _ := r.engine.ReadRegister(0, 1)
	if v != (uint256.Int{1}) {
		t.Errorf("expected r1 = 1, got %s", v.Hex())
	}
}

func TestREPL_Window(t *testing.T) {
	r := New()
	output := run(t, r, "window 5\nset r0 9\nwindow 16\nwindow x\n")
	if r.window != 5 {
		t.Errorf("expected window 5, got %d", r.window)
	}
	if !strings.Contains(output, "Window must be 0..15") {
		t.Errorf("expected range message, got:\n%s", output)
	}
	v, _ := r.engine.ReadRegister(5, 0)
	if v != (uint256.Int{9}) {
		t.Errorf("expected w5 r0 = 9, got %s", v.Hex())
	}
}

func TestREPL_Errors(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"BOGUS r1\n", "Error: line 1: unknown opcode"},
		{"set r40 1\n", "Error: bad register r40"},
		{"set x0 1\n", "Error: bad register x0"},
		{"set r0 banana\n", "Error: invalid operand"},
		{"set r0\n", "Usage: set rN <value>"},
		{"run\n", "Error: no program"},
		{"step 0\n", "Usage: step [cycles]"},
		{".word 0x3F\n", "=> illegal opcode"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			output := run(t, New(), tt.input)
			if !strings.Contains(output, tt.want) {
				t.Errorf("expected %q in output:\n%s", tt.want, output)
			}
		})
	}
}

func TestREPL_MultilineAndHistory(t *testing.T) {
	r := New()
	output := run(t, r, "PSA r1, #one\\\nPSB r2, #a24\n\nhistory\n")

	if !strings.Contains(output, "r2  = 0x1db41") {
		t.Errorf("expected r2 = a24, got:\n%s", output)
	}
	if len(r.history) != 1 {
		t.Errorf("expected 1 history entry, got %d", len(r.history))
	}
	if !strings.Contains(output, "  1: PSA r1, #one") {
		t.Errorf("expected history listing, got:\n%s", output)
	}
}

func TestREPL_ClearAndEmptyList(t *testing.T) {
	r := New()
	r.SetMode(ModeProgram)
	output := run(t, r, "FIN\nclear\nlist\nregs\n")
	if !strings.Contains(output, "Program cleared") || !strings.Contains(output, "No program") {
		t.Errorf("unexpected output:\n%s", output)
	}
	if !strings.Contains(output, "All registers in window 0 are zero") {
		t.Errorf("expected empty register listing, got:\n%s", output)
	}
}
