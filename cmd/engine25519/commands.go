package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/holiman/uint256"
	"github.com/spf13/cobra"

	"github.com/akhildatla/engine25519/pkg/compiler"
	"github.com/akhildatla/engine25519/pkg/embed"
	"github.com/akhildatla/engine25519/pkg/lint"
	"github.com/akhildatla/engine25519/pkg/loader"
	"github.com/akhildatla/engine25519/pkg/repl"
	"github.com/akhildatla/engine25519/pkg/vectors"
	"github.com/akhildatla/engine25519/pkg/vm"
)

var (
	errLintFailed    = errors.New("lint found errors")
	errVectorsFailed = errors.New("test vectors failed")
)

// runFlags are shared by run and exec.
type runFlags struct {
	regs    []string
	window  uint8
	results []string
}

func (f *runFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringArrayVar(&f.regs, "reg", nil, "initial register value, rN=value (repeatable)")
	flags.Uint8VarP(&f.window, "window", "w", 0, "register window (0-15)")
	flags.StringSliceVar(&f.results, "results", nil, "registers to report, e.g. r2,r3 (default: nonzero)")
}

func (f *runFlags) operands() (map[uint8]uint256.Int, error) {
	operands := make(map[uint8]uint256.Int, len(f.regs))
	for _, kv := range f.regs {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("--reg %q: want rN=value", kv)
		}
		idx, err := parseRegister(name)
		if err != nil {
			return nil, err
		}
		v, err := loader.ParseValue(value)
		if err != nil {
			return nil, fmt.Errorf("--reg %s: %w", name, err)
		}
		operands[idx] = v
	}
	return operands, nil
}

func (f *runFlags) resultRegisters() ([]uint8, error) {
	regs := make([]uint8, 0, len(f.results))
	for _, name := range f.results {
		idx, err := parseRegister(name)
		if err != nil {
			return nil, err
		}
		regs = append(regs, idx)
	}
	return regs, nil
}

func parseRegister(name string) (uint8, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	n, err := strconv.ParseUint(strings.TrimPrefix(name, "r"), 10, 8)
	if !strings.HasPrefix(name, "r") || err != nil || n >= vm.NumRegisters {
		return 0, fmt.Errorf("bad register %q", name)
	}
	return uint8(n), nil
}

func (a *app) embedOptions(f *runFlags, operands map[uint8]uint256.Int) []embed.Option {
	opts := []embed.Option{
		embed.WithOperands(operands),
		embed.WithWindow(f.window),
		embed.WithMaxCycles(a.conf.Engine.MaxCycles),
		embed.WithLogger(a.logger),
		embed.WithObserver(a.collector),
	}
	if a.conf.Engine.Bypass {
		opts = append(opts, embed.WithBypass())
	}
	return opts
}

// printResult writes the outcome and the selected registers. With no
// selection every nonzero register is shown.
func printResult(out io.Writer, res *embed.Result, regs []uint8) {
	fmt.Fprintf(out, "%s: %d instructions, %d cycles\n", res.Outcome, res.Instructions, res.Cycles)
	if len(regs) == 0 {
		for i, v := range res.Registers {
			if !v.IsZero() {
				regs = append(regs, uint8(i))
			}
		}
	}
	for _, r := range regs {
		fmt.Fprintf(out, "r%-2d = %s\n", r, res.Registers[r].Hex())
	}
}

func runCmd(a *app) *cobra.Command {
	f := &runFlags{}
	var operandsPath, outPath string

	cmd := &cobra.Command{
		Use:   "run <file.asm>",
		Short: "Assemble and run a microcode source file",
		Long: `Assemble and run a microcode source file over its full length.

With --operands the program runs once per row of a CSV, JSON or Parquet table
whose r0..r31 columns hold the initial register values; the --results registers
of every run are written as CSV to --out or stdout.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			operands, err := f.operands()
			if err != nil {
				return err
			}
			regs, err := f.resultRegisters()
			if err != nil {
				return err
			}
			opts := append(a.embedOptions(f, operands), embed.WithContext(cmd.Context()))

			if operandsPath == "" {
				res, err := embed.ExecuteFile(args[0], opts...)
				if res != nil {
					printResult(cmd.OutOrStdout(), res, regs)
				}
				return err
			}

			source, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			table, err := loader.LoadOperands(operandsPath)
			if err != nil {
				return err
			}
			results, err := embed.ExecuteTable(string(source), table, opts...)
			if err != nil {
				return err
			}
			return writeResults(cmd, outPath, regs, results)
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&operandsPath, "operands", "", "operand table (.csv, .json, .parquet)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "result CSV path (default: stdout)")
	return cmd
}

func writeResults(cmd *cobra.Command, outPath string, regs []uint8, results []*embed.Result) error {
	if len(regs) == 0 {
		for i := 0; i < vm.NumRegisters; i++ {
			regs = append(regs, uint8(i))
		}
	}
	rows := make([][]uint256.Int, len(results))
	for i, res := range results {
		row := make([]uint256.Int, len(regs))
		for j, r := range regs {
			row[j] = res.Registers[r]
		}
		rows[i] = row
	}
	df := loader.ResultFrame(regs, rows)

	if outPath == "" {
		return loader.ExportCSV(cmd.Context(), cmd.OutOrStdout(), df)
	}
	if err := loader.SaveCSV(cmd.Context(), outPath, df); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d rows to %s\n", len(rows), outPath)
	return nil
}

func compileCmd(a *app) *cobra.Command {
	var output string
	var check bool

	cmd := &cobra.Command{
		Use:   "compile <file.asm>",
		Short: "Assemble source to a microcode image (.ucode)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputPath := args[0]
			outputPath := output
			if outputPath == "" {
				ext := filepath.Ext(inputPath)
				outputPath = strings.TrimSuffix(inputPath, ext) + ".ucode"
			}

			source, err := os.ReadFile(inputPath)
			if err != nil {
				return fmt.Errorf("reading source: %w", err)
			}
			program, err := compiler.Compile(string(source))
			if err != nil {
				return fmt.Errorf("compiling: %w", err)
			}

			if check {
				findings := lint.New(lint.WithAllChecks(), lint.WithMicrocodeDepth(a.conf.Engine.MicrocodeDepth)).Lint(program)
				fmt.Fprint(cmd.ErrOrStderr(), lint.Format(findings))
				if lint.HasErrors(findings) {
					return errLintFailed
				}
			}

			image, err := vm.SerializeProgram(program)
			if err != nil {
				return fmt.Errorf("serializing: %w", err)
			}
			if err := os.WriteFile(outputPath, image, 0644); err != nil {
				return fmt.Errorf("writing image: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Compiled %d instructions at origin %d: %s\n",
				len(program.Code), program.Origin, outputPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: input with .ucode extension)")
	cmd.Flags().BoolVar(&check, "lint", false, "run static checks before writing")
	return cmd
}

func readImage(path string) (*vm.Program, error) {
	image, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	program, err := vm.DeserializeProgram(image)
	if err != nil {
		return nil, fmt.Errorf("deserializing: %w", err)
	}
	return program, nil
}

func execCmd(a *app) *cobra.Command {
	f := &runFlags{}

	cmd := &cobra.Command{
		Use:   "exec <file.ucode>",
		Short: "Run a microcode image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			program, err := readImage(args[0])
			if err != nil {
				return err
			}
			operands, err := f.operands()
			if err != nil {
				return err
			}
			regs, err := f.resultRegisters()
			if err != nil {
				return err
			}

			opts := append(a.embedOptions(f, operands), embed.WithContext(cmd.Context()))
			res, err := embed.ExecuteProgram(program, opts...)
			if res != nil {
				printResult(cmd.OutOrStdout(), res, regs)
			}
			return err
		},
	}
	f.register(cmd)
	return cmd
}

func disasmCmd(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "disasm <file.ucode>",
		Short: "Disassemble a microcode image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			program, err := readImage(args[0])
			if err != nil {
				return err
			}
			listing := vm.Disassemble(program)

			if output == "" {
				fmt.Fprint(cmd.OutOrStdout(), listing)
				return nil
			}
			if err := os.WriteFile(output, []byte(listing), 0644); err != nil {
				return fmt.Errorf("writing output: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Disassembled to: %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: stdout)")
	return cmd
}

func vectorsCmd(a *app) *cobra.Command {
	var parallelism int
	var verbose bool

	cmd := &cobra.Command{
		Use:   "vectors <file.vec>",
		Short: "Run a binary test-vector file through the host bus",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			suites, err := vectors.Load(args[0])
			if err != nil {
				return err
			}
			if parallelism <= 0 {
				parallelism = a.conf.Vectors.Parallelism
			}

			runner := vectors.NewRunner(
				vectors.WithParallelism(parallelism),
				vectors.WithLogger(a.logger),
				vectors.WithEngineOptions(a.engineOptions()...),
			)
			report, err := runner.Run(cmd.Context(), suites)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, res := range report.Results {
				if res.Pass && !verbose {
					continue
				}
				status := "PASS"
				if !res.Pass {
					status = "FAIL"
				}
				fmt.Fprintf(out, "suite %d vector %d: %s got %s want %s events 0x%X\n",
					res.Suite, res.Vector, status, res.Got.Hex(), res.Expected.Hex(), res.Events)
			}
			fmt.Fprintf(out, "%d suites, %d passed, %d failed\n", len(suites), report.Passed, report.Failed)
			if report.Failed > 0 {
				return errVectorsFailed
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&parallelism, "parallelism", "p", 0, "suites run concurrently (default: vectors.parallelism)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "report passing vectors too")
	return cmd
}

func lintCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "lint <file.asm>",
		Short: "Statically check a microcode source file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			program, err := compiler.Compile(string(source))
			if err != nil {
				return err
			}

			findings := lint.New(lint.WithAllChecks(), lint.WithMicrocodeDepth(a.conf.Engine.MicrocodeDepth)).Lint(program)
			out := cmd.OutOrStdout()
			if len(findings) == 0 {
				fmt.Fprintf(out, "%s: ok\n", args[0])
				return nil
			}
			fmt.Fprint(out, lint.Format(findings))
			if lint.HasErrors(findings) {
				return errLintFailed
			}
			return nil
		},
	}
}

func replCmd(a *app) *cobra.Command {
	var programMode bool

	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Start the interactive console",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r := repl.New(a.engineOptions()...)
			if programMode {
				r.SetMode(repl.ModeProgram)
			}
			r.Start(cmd.InOrStdin(), cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().BoolVar(&programMode, "program", false, "start in program mode (default: immediate)")
	return cmd
}
