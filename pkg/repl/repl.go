// Package repl implements an interactive console for the engine: single
// instructions run immediately against a persistent register window, or
// a program is collected line by line, then run or stepped cycle by
// cycle.
package repl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/holiman/uint256"

	"github.com/akhildatla/engine25519/pkg/compiler"
	"github.com/akhildatla/engine25519/pkg/lint"
	"github.com/akhildatla/engine25519/pkg/loader"
	"github.com/akhildatla/engine25519/pkg/vm"
)

const (
	promptImmediate = "e25519> "
	promptProgram   = "prog> "
	promptCont      = "...> "
)

// Mode represents the REPL input mode.
type Mode int

const (
	ModeImmediate Mode = iota // each line runs at once
	ModeProgram               // lines are collected until "run"
)

// REPL provides an interactive Read-Eval-Print Loop.
type REPL struct {
	mode        Mode
	engine      *vm.VM
	window      uint8
	source      []string
	history     []string
	multiline   strings.Builder
	inMultiline bool
	done        bool
	ctx         context.Context
}

// New creates a new REPL instance on a fresh engine.
func New(opts ...vm.Option) *REPL {
	r := &REPL{
		mode:    ModeImmediate,
		engine:  vm.NewVM(opts...),
		history: []string{},
		ctx:     context.Background(),
	}
	// Bring the register file out of reset so "set" works at once.
	_ = r.engine.Run(r.ctx)
	return r
}

// SetMode sets the REPL input mode.
func (r *REPL) SetMode(mode Mode) {
	r.mode = mode
}

// SetWindow selects the register window used by runs and register
// commands.
func (r *REPL) SetWindow(w uint8) {
	r.window = w & (vm.NumWindows - 1)
}

// Start starts the REPL loop. It returns at EOF or on quit.
func (r *REPL) Start(in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)

	fmt.Fprintln(out, "engine25519 console - Curve25519 microcode engine")
	fmt.Fprintln(out, "Type 'help' for available commands, 'quit' to exit")
	fmt.Fprintln(out)

	for !r.done {
		switch {
		case r.inMultiline:
			fmt.Fprint(out, promptCont)
		case r.mode == ModeImmediate:
			fmt.Fprint(out, promptImmediate)
		default:
			fmt.Fprint(out, promptProgram)
		}

		if !scanner.Scan() {
			break
		}

		line := scanner.Text()

		// Handle multiline input
		if r.inMultiline {
			if line == "" {
				r.inMultiline = false
				input := r.multiline.String()
				r.multiline.Reset()
				r.eval(input, out)
			} else {
				r.multiline.WriteString(line)
				r.multiline.WriteString("\n")
			}
			continue
		}

		if handled := r.handleCommand(line, out); handled {
			continue
		}

		// A trailing \ continues the input on the next line.
		if strings.HasSuffix(line, "\\") {
			r.inMultiline = true
			r.multiline.WriteString(strings.TrimSuffix(line, "\\"))
			r.multiline.WriteString("\n")
			continue
		}

		r.eval(line, out)
	}
}

func (r *REPL) handleCommand(line string, out io.Writer) bool {
	parts := strings.Fields(line)

	if len(parts) == 0 {
		return true
	}

	switch strings.ToLower(parts[0]) {
	case "quit", "exit", "q":
		fmt.Fprintln(out, "Goodbye!")
		r.done = true
		return true

	case "help", "h", "?":
		r.printHelp(out)
		return true

	case "mode":
		r.modeCommand(parts[1:], out)
		return true

	case "window":
		if len(parts) > 1 {
			n, err := strconv.ParseUint(parts[1], 0, 8)
			if err != nil || n >= vm.NumWindows {
				fmt.Fprintf(out, "Window must be 0..%d\n", vm.NumWindows-1)
				return true
			}
			r.SetWindow(uint8(n))
		}
		fmt.Fprintf(out, "Window %d\n", r.window)
		return true

	case "set":
		if len(parts) != 3 {
			fmt.Fprintln(out, "Usage: set rN <value>")
			return true
		}
		r.setRegister(parts[1], parts[2], out)
		return true

	case "regs":
		r.printRegisters(out, len(parts) > 1 && parts[1] == "all")
		return true

	case "run":
		r.runProgram(out)
		return true

	case "go":
		r.startProgram(out)
		return true

	case "step":
		n := 1
		if len(parts) > 1 {
			v, err := strconv.Atoi(parts[1])
			if err != nil || v <= 0 {
				fmt.Fprintln(out, "Usage: step [cycles]")
				return true
			}
			n = v
		}
		r.step(n, out)
		return true

	case "cont":
		r.finish(nil, out)
		return true

	case "list":
		r.listSource(out)
		return true

	case "lint":
		r.lintSource(out)
		return true

	case "clear":
		r.source = nil
		fmt.Fprintln(out, "Program cleared")
		return true

	case "history":
		for i, cmd := range r.history {
			fmt.Fprintf(out, "%3d: %s\n", i+1, cmd)
		}
		return true
	}

	return false
}

func (r *REPL) modeCommand(args []string, out io.Writer) {
	if len(args) == 0 {
		if r.mode == ModeImmediate {
			fmt.Fprintln(out, "Current mode: immediate")
		} else {
			fmt.Fprintln(out, "Current mode: program")
		}
		return
	}
	switch args[0] {
	case "immediate", "imm":
		r.mode = ModeImmediate
		fmt.Fprintln(out, "Switched to immediate mode")
	case "program", "prog":
		r.mode = ModeProgram
		fmt.Fprintln(out, "Switched to program mode")
	default:
		fmt.Fprintln(out, "Unknown mode. Use 'immediate' or 'program'")
	}
}

func (r *REPL) eval(input string, out io.Writer) {
	if strings.TrimSpace(input) == "" {
		return
	}

	r.history = append(r.history, input)

	if r.mode == ModeProgram {
		for _, line := range strings.Split(strings.TrimRight(input, "\n"), "\n") {
			r.source = append(r.source, line)
		}
		return
	}

	program, err := compiler.Compile(input)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	r.execute(program, out)
}

func (r *REPL) compileSource() (*vm.Program, error) {
	if len(r.source) == 0 {
		return nil, fmt.Errorf("no program; enter instructions in program mode")
	}
	return compiler.Compile(strings.Join(r.source, "\n"))
}

func (r *REPL) runProgram(out io.Writer) {
	program, err := r.compileSource()
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	r.execute(program, out)
}

// execute loads program, runs it over its full length and prints the
// outcome and every register the run changed.
func (r *REPL) execute(program *vm.Program, out io.Writer) {
	before, err := r.snapshot()
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	if err := r.launch(program); err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	r.finish(before, out)
}

func (r *REPL) launch(program *vm.Program) error {
	if err := r.engine.LoadProgram(program); err != nil {
		return err
	}
	r.engine.Configure(vm.RunConfig{
		Start:  uint32(program.Origin),
		Count:  uint32(len(program.Code)),
		Window: r.window,
	})
	return r.engine.Go()
}

func (r *REPL) startProgram(out io.Writer) {
	program, err := r.compileSource()
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	if err := r.launch(program); err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(out, "Started at %d; use step or cont\n", program.Origin)
}

func (r *REPL) step(n int, out io.Writer) {
	for i := 0; i < n; i++ {
		if !r.engine.Status().Running {
			break
		}
		if err := r.engine.Step(); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			return
		}
	}
	r.printStatus(out)
}

// finish clocks the engine to idle. With a snapshot it prints the
// registers that differ from it.
func (r *REPL) finish(before *[vm.NumRegisters]uint256.Int, out io.Writer) {
	start := r.engine.Cycles()
	if err := r.engine.Run(r.ctx); err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(out, "=> %s in %d cycles\n", outcome(r.engine.Status()), r.engine.Cycles()-start)

	if before == nil {
		return
	}
	after, err := r.snapshot()
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	for i := range after {
		if after[i] != before[i] {
			fmt.Fprintf(out, "   r%-2d = %s\n", i, after[i].Hex())
		}
	}
}

func outcome(st vm.Status) string {
	switch {
	case st.IllegalOpcode:
		return "illegal opcode"
	case st.BranchFault:
		return "branch fault"
	case st.UnitConflict:
		return "unit conflict"
	case st.Finished:
		return "finished"
	default:
		return "stopped"
	}
}

func (r *REPL) snapshot() (*[vm.NumRegisters]uint256.Int, error) {
	var regs [vm.NumRegisters]uint256.Int
	for i := range regs {
		v, err := r.engine.ReadRegister(r.window, uint8(i))
		if err != nil {
			return nil, err
		}
		regs[i] = v
	}
	return &regs, nil
}

func (r *REPL) setRegister(name, value string, out io.Writer) {
	idx, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(name), "r"), 10, 8)
	if err != nil || idx >= vm.NumRegisters || !strings.HasPrefix(strings.ToLower(name), "r") {
		fmt.Fprintf(out, "Error: bad register %s\n", name)
		return
	}
	v, err := loader.ParseValue(value)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	if err := r.engine.WriteRegister(r.window, uint8(idx), v, vm.FullByteMask); err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(out, "r%d = %s\n", idx, v.Hex())
}

func (r *REPL) printRegisters(out io.Writer, all bool) {
	regs, err := r.snapshot()
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	shown := 0
	for i, v := range regs {
		if !all && v.IsZero() {
			continue
		}
		fmt.Fprintf(out, "r%-2d = %s\n", i, v.Hex())
		shown++
	}
	if shown == 0 {
		fmt.Fprintf(out, "All registers in window %d are zero\n", r.window)
	}
}

func (r *REPL) printStatus(out io.Writer) {
	st := r.engine.Status()
	fmt.Fprintf(out, "cycle %d  state %s  mpc %d  running %v\n",
		r.engine.Cycles(), st.State, st.MPC, st.Running)
}

func (r *REPL) listSource(out io.Writer) {
	if len(r.source) == 0 {
		fmt.Fprintln(out, "No program")
		return
	}
	for i, line := range r.source {
		fmt.Fprintf(out, "%3d  %s\n", i+1, line)
	}
}

func (r *REPL) lintSource(out io.Writer) {
	program, err := r.compileSource()
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	findings := lint.New(lint.WithAllChecks()).Lint(program)
	if len(findings) == 0 {
		fmt.Fprintln(out, "No findings")
		return
	}
	fmt.Fprint(out, lint.Format(findings))
}

func (r *REPL) printHelp(out io.Writer) {
	help := `
engine25519 Console Commands:
  help, h, ?          Show this help message
  quit, exit, q       Exit the console
  mode [immediate|program]
                      Show or set input mode
  window [n]          Show or set the register window
  set rN <value>      Write a register (decimal or 0x hex)
  regs [all]          Show nonzero (or all) registers
  run                 Run the collected program
  go                  Start the collected program without clocking
  step [n]            Clock n cycles and show the sequencer state
  cont                Clock until the run ends
  list                Show the collected program
  lint                Check the collected program
  clear               Discard the collected program
  history             Show input history

Examples:
  set r0 5
  set r1 0x7fffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffeb
  ADD r2, r0, r1

Tips:
  - End a line with \ for multiline input
  - Press Enter twice to execute multiline input
`
	fmt.Fprint(out, help)
}
