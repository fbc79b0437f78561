package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/holiman/uint256"

	"github.com/akhildatla/engine25519/internal/testutil"
	"github.com/akhildatla/engine25519/pkg/compiler"
	"github.com/akhildatla/engine25519/pkg/vectors"
	"github.com/akhildatla/engine25519/pkg/vm"
)

// execute runs the CLI in-process and returns stdout, stderr and the error.
func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(append([]string{"--log-level", "warn"}, args...))
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestCLI_Help(t *testing.T) {
	out, _, err := execute(t, "", "--help")
	if err != nil {
		t.Fatalf("help command failed: %v", err)
	}
	for _, sub := range []string{"run", "compile", "exec", "disasm", "vectors", "lint", "repl", "version"} {
		if !strings.Contains(out, sub) {
			t.Errorf("help output should contain %s command", sub)
		}
	}
}

func TestCLI_Version(t *testing.T) {
	out, _, err := execute(t, "", "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(out, "engine25519 version dev") {
		t.Errorf("expected version output, got: %s", out)
	}
}

func TestCLI_Run(t *testing.T) {
	path := testutil.TempFile(t, testutil.ModAddSource, ".asm")

	out, _, err := execute(t, "", "run", path,
		"--reg", "r0=0x7fffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffeb",
		"--reg", "r1=3",
		"--results", "r2")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.Contains(out, "finished: 4 instructions") {
		t.Errorf("expected outcome line, got: %s", out)
	}
	if !strings.Contains(out, "r2  = 0x1\n") {
		t.Errorf("expected r2 = 1, got: %s", out)
	}
}

func TestCLI_RunNonzeroRegisters(t *testing.T) {
	path := testutil.TempFile(t, "PSA r7, #a24\nFIN\n", ".asm")

	out, _, err := execute(t, "", "run", path, "--window", "9")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.Contains(out, "r7  = 0x1db41") {
		t.Errorf("expected r7 = a24, got: %s", out)
	}
	if strings.Count(out, " = ") != 1 {
		t.Errorf("expected only nonzero registers, got: %s", out)
	}
}

func TestCLI_RunWithOperandTable(t *testing.T) {
	asm := testutil.TempFile(t, testutil.ModAddSource, ".asm")
	table := testutil.TempFile(t, testutil.OperandCSV(), ".csv")
	results := filepath.Join(t.TempDir(), "results.csv")

	out, _, err := execute(t, "", "run", asm, "--operands", table, "--results", "r2", "-o", results)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.Contains(out, "Wrote 2 rows") {
		t.Errorf("expected write confirmation, got: %s", out)
	}

	data, err := os.ReadFile(results)
	if err != nil {
		t.Fatalf("reading results: %v", err)
	}
	csv := string(data)
	if !strings.Contains(csv, "r2") || !strings.Contains(csv, "0xc") || !strings.Contains(csv, "0x1") {
		t.Errorf("unexpected results CSV: %s", csv)
	}

	out, _, err = execute(t, "", "run", asm, "--operands", table, "--results", "r2,r0")
	if err != nil {
		t.Fatalf("run to stdout failed: %v", err)
	}
	if !strings.Contains(out, "r2,r0") || !strings.Contains(out, "0xc,0x5") {
		t.Errorf("unexpected stdout CSV: %s", out)
	}
}

func TestCLI_RunFault(t *testing.T) {
	path := testutil.TempFile(t, "BRZ #zero, 9\nFIN\n", ".asm")

	out, _, err := execute(t, "", "run", path)
	if err == nil {
		t.Fatal("expected branch fault error")
	}
	if !strings.Contains(out, "branch_fault") {
		t.Errorf("expected outcome printed before the error, got: %s", out)
	}
}

func TestCLI_BadFlags(t *testing.T) {
	path := testutil.TempFile(t, "FIN\n", ".asm")
	tests := [][]string{
		{"run", path, "--reg", "r0"},
		{"run", path, "--reg", "x0=1"},
		{"run", path, "--reg", "r0=nope"},
		{"run", path, "--results", "r99"},
		{"run", "/nonexistent/file.asm"},
		{"run", path, "--operands", "table.xlsx"},
		{"bogus"},
	}
	for _, args := range tests {
		if _, _, err := execute(t, "", args...); err == nil {
			t.Errorf("expected error for %v", args)
		}
	}
}

func TestCLI_CompileExecDisasm(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "mul.asm")
	if err := os.WriteFile(src, []byte(".org 16\nMUL r2, r0, #a24\nFIN\n"), 0644); err != nil {
		t.Fatalf("writing source: %v", err)
	}

	out, _, err := execute(t, "", "compile", src, "--lint")
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	image := filepath.Join(dir, "mul.ucode")
	if !strings.Contains(out, "Compiled 2 instructions at origin 16") {
		t.Errorf("unexpected compile output: %s", out)
	}

	out, _, err = execute(t, "", "exec", image, "--reg", "r0=2", "--results", "r2")
	if err != nil {
		t.Fatalf("exec failed: %v", err)
	}
	if !strings.Contains(out, "r2  = 0x3b682") {
		t.Errorf("expected 2*a24, got: %s", out)
	}

	out, _, err = execute(t, "", "disasm", image)
	if err != nil {
		t.Fatalf("disasm failed: %v", err)
	}
	if !strings.Contains(out, ".org 16") || !strings.Contains(out, "0016: MUL  r2, r0, #a24") {
		t.Errorf("unexpected listing: %s", out)
	}

	listing := filepath.Join(dir, "mul.lst")
	if _, _, err := execute(t, "", "disasm", image, "-o", listing); err != nil {
		t.Fatalf("disasm to file failed: %v", err)
	}
	if _, err := os.Stat(listing); err != nil {
		t.Errorf("expected listing file: %v", err)
	}
}

func TestCLI_CompileErrors(t *testing.T) {
	bad := testutil.TempFile(t, "BOGUS r1\n", ".asm")
	if _, _, err := execute(t, "", "compile", bad); err == nil {
		t.Error("expected compile error")
	}

	faulty := testutil.TempFile(t, "BRZ r0, 4\nFIN\n", ".asm")
	_, stderr, err := execute(t, "", "compile", faulty, "--lint", "-o", filepath.Join(t.TempDir(), "x.ucode"))
	if !errors.Is(err, errLintFailed) {
		t.Errorf("expected lint failure, got %v", err)
	}
	if !strings.Contains(stderr, "branch-range") {
		t.Errorf("expected finding on stderr, got: %s", stderr)
	}

	garbage := testutil.TempFile(t, "not an image", ".ucode")
	if _, _, err := execute(t, "", "exec", garbage); err == nil {
		t.Error("expected error for invalid image")
	}
	if _, _, err := execute(t, "", "disasm", garbage); err == nil {
		t.Error("expected error for invalid image")
	}
}

func TestCLI_Lint(t *testing.T) {
	clean := testutil.TempFile(t, testutil.ModAddSource, ".asm")
	out, _, err := execute(t, "", "lint", clean)
	if err != nil || !strings.Contains(out, ": ok") {
		t.Errorf("expected clean lint, got %v: %s", err, out)
	}

	warn := testutil.TempFile(t, "PSA r1, r0\n", ".asm")
	out, _, err = execute(t, "", "lint", warn)
	if err != nil || !strings.Contains(out, "missing-fin") {
		t.Errorf("expected warning only, got %v: %s", err, out)
	}

	fault := testutil.TempFile(t, ".word 0x3F\nFIN\n", ".asm")
	_, _, err = execute(t, "", "lint", fault)
	if !errors.Is(err, errLintFailed) {
		t.Errorf("expected lint failure, got %v", err)
	}
}

func vectorFile(t *testing.T, expected uint256.Int) string {
	t.Helper()
	program, err := compiler.Compile("ADD r31, r0, r1\nFIN")
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	data, err := vectors.EncodeBytes([]vectors.Suite{{
		Window:  2,
		NumArgs: 2,
		Code:    program.Code,
		Vectors: []vectors.Vector{
			{Args: []uint256.Int{{1}, {2}}, Expected: uint256.Int{3}},
			{Args: []uint256.Int{{4}, {5}}, Expected: expected},
		},
	}})
	if err != nil {
		t.Fatalf("EncodeBytes failed: %v", err)
	}
	return testutil.TempBytes(t, data, ".vec")
}

func TestCLI_Vectors(t *testing.T) {
	out, _, err := execute(t, "", "vectors", vectorFile(t, uint256.Int{9}), "-v")
	if err != nil {
		t.Fatalf("vectors failed: %v", err)
	}
	if !strings.Contains(out, "1 suites, 2 passed, 0 failed") {
		t.Errorf("unexpected summary: %s", out)
	}
	if !strings.Contains(out, "suite 0 vector 1: PASS") {
		t.Errorf("expected verbose pass line: %s", out)
	}

	out, _, err = execute(t, "", "vectors", vectorFile(t, uint256.Int{10}), "-p", "1")
	if !errors.Is(err, errVectorsFailed) {
		t.Errorf("expected vector failure, got %v", err)
	}
	if !strings.Contains(out, "suite 0 vector 1: FAIL got 0x9 want 0xa") {
		t.Errorf("expected failure line: %s", out)
	}
}

func TestCLI_Repl(t *testing.T) {
	out, _, err := execute(t, "set r0 4\nset r1 5\nMUL r2, r0, r1\nquit\n", "repl")
	if err != nil {
		t.Fatalf("repl failed: %v", err)
	}
	if !strings.Contains(out, "r2  = 0x14") {
		t.Errorf("expected product in output: %s", out)
	}

	out, _, err = execute(t, "mode\nquit\n", "repl", "--program")
	if err != nil {
		t.Fatalf("repl failed: %v", err)
	}
	if !strings.Contains(out, "Current mode: program") {
		t.Errorf("expected program mode: %s", out)
	}
}

func TestCLI_Config(t *testing.T) {
	conf := testutil.TempFile(t, "engine:\n  max_cycles: 50\n", ".yaml")
	loop := testutil.TempFile(t, "loop: BRZ #zero, loop\n", ".asm")

	_, _, err := execute(t, "", "--config", conf, "run", loop)
	if err == nil || !strings.Contains(err.Error(), "cycle limit") {
		t.Errorf("expected cycle limit from config, got %v", err)
	}

	bad := testutil.TempFile(t, "log:\n  format: xml\n", ".yaml")
	if _, _, err := execute(t, "", "--config", bad, "version"); err == nil {
		t.Error("expected invalid config error")
	}
}

func TestEngineOptions(t *testing.T) {
	cmd := newRootCmd()
	a := &app{}
	if err := a.setup(cmd); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	defer a.teardown()

	engine := vm.NewVM(a.engineOptions()...)
	if engine.MicrocodeDepth() != vm.DefaultMicrocodeDepth {
		t.Errorf("expected default depth, got %d", engine.MicrocodeDepth())
	}
}
