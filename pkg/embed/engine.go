// Package embed provides the Go embedding API for engine25519.
//
// Pass microcode source and operands, get the register window back.
//
// Basic usage:
//
//	result, err := embed.Execute(`
//	    ADD r2, r0, r1
//	    TRD r3, r2
//	    SUB r2, r2, r3
//	    FIN
//	`, map[uint8]uint256.Int{0: a, 1: b})
//	sum := result.Registers[2]
//
// With limits:
//
//	result, err := embed.ExecuteWithOptions(code,
//	    embed.WithOperands(operands),
//	    embed.WithWindow(3),
//	    embed.WithTimeout(time.Second),
//	    embed.WithMaxCycles(100000),
//	)
package embed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/akhildatla/engine25519/pkg/compiler"
	"github.com/akhildatla/engine25519/pkg/loader"
	"github.com/akhildatla/engine25519/pkg/vm"
)

// Common errors
var (
	ErrTimeout       = errors.New("execution timeout exceeded")
	ErrCycleLimit    = errors.New("cycle limit exceeded")
	ErrIllegalOpcode = errors.New("run aborted on illegal opcode")
	ErrBranchFault   = errors.New("branch target outside run range")
	ErrUnitConflict  = errors.New("more than one unit completed in a cycle")
)

// Result is the register window after a run.
type Result struct {
	Registers    [vm.NumRegisters]uint256.Int
	Outcome      vm.Outcome
	Cycles       uint64
	Instructions uint64
}

// Options configures execution behavior for ExecuteWithOptions.
type Options struct {
	// Operands are written to the run window before go.
	Operands map[uint8]uint256.Int

	// Window selects the register window. Only the low 4 bits are used.
	Window uint8

	// Timeout sets maximum wall-clock execution time. Zero means no timeout.
	Timeout time.Duration

	// MaxCycles bounds the clock cycles of the run. Zero means unlimited.
	MaxCycles uint64

	// Bypass enables register file write forwarding.
	Bypass bool

	Logger    *zap.Logger
	Observers []vm.RunObserver

	// Context for cancellation. If nil, context.Background() is used.
	Context context.Context
}

// Option is a functional option for configuring execution.
type Option func(*Options)

// WithOperands sets the initial register values.
func WithOperands(operands map[uint8]uint256.Int) Option {
	return func(o *Options) {
		o.Operands = operands
	}
}

// WithWindow sets the register window.
func WithWindow(w uint8) Option {
	return func(o *Options) {
		o.Window = w
	}
}

// WithTimeout sets execution timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithMaxCycles sets the cycle limit.
func WithMaxCycles(n uint64) Option {
	return func(o *Options) {
		o.MaxCycles = n
	}
}

// WithBypass enables register file write forwarding.
func WithBypass() Option {
	return func(o *Options) {
		o.Bypass = true
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithObserver adds a run observer such as a metrics collector.
func WithObserver(obs vm.RunObserver) Option {
	return func(o *Options) {
		o.Observers = append(o.Observers, obs)
	}
}

// WithContext sets the context for cancellation.
func WithContext(ctx context.Context) Option {
	return func(o *Options) {
		o.Context = ctx
	}
}

// Execute assembles and runs code in window 0 with the given operands.
func Execute(code string, operands map[uint8]uint256.Int) (*Result, error) {
	return ExecuteWithOptions(code, WithOperands(operands))
}

// ExecuteFile reads a microcode source file and executes it.
func ExecuteFile(path string, opts ...Option) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ExecuteWithOptions(string(data), opts...)
}

// ExecuteWithOptions assembles code and runs it once over its full length.
// A run that ends on a fault still returns its Result together with the
// matching error.
func ExecuteWithOptions(code string, opts ...Option) (*Result, error) {
	program, err := compiler.Compile(code)
	if err != nil {
		return nil, err
	}
	return ExecuteProgram(program, opts...)
}

// ExecuteProgram runs an assembled program.
func ExecuteProgram(program *vm.Program, opts ...Option) (*Result, error) {
	options := applyOptions(opts)
	s, err := newSession(program, options)
	if err != nil {
		return nil, err
	}
	return s.run(options.Operands)
}

// ExecuteTable runs the program once per row of table on a single engine.
// It stops at the first row whose run fails.
func ExecuteTable(code string, table *loader.OperandTable, opts ...Option) ([]*Result, error) {
	program, err := compiler.Compile(code)
	if err != nil {
		return nil, err
	}

	options := applyOptions(opts)
	s, err := newSession(program, options)
	if err != nil {
		return nil, err
	}

	results := make([]*Result, 0, table.Len())
	for i, row := range table.Rows {
		operands := make(map[uint8]uint256.Int, len(row))
		for col, reg := range table.Registers {
			operands[reg] = row[col]
		}
		res, err := s.run(operands)
		if err != nil {
			return results, fmt.Errorf("row %d: %w", i, err)
		}
		results = append(results, res)
	}
	return results, nil
}

func applyOptions(opts []Option) *Options {
	options := &Options{
		Context: context.Background(),
		Logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// session is an engine with a program loaded, reused across runs.
type session struct {
	engine  *vm.VM
	ctx     context.Context
	cancel  context.CancelFunc
	cfg     vm.RunConfig
	last    vm.RunReport
	options *Options
}

func (s *session) InstructionRetired(vm.Opcode) {}

func (s *session) RunEnded(r vm.RunReport) {
	s.last = r
}

func newSession(program *vm.Program, options *Options) (*session, error) {
	s := &session{
		options: options,
		cfg: vm.RunConfig{
			Start:  uint32(program.Origin),
			Count:  uint32(len(program.Code)),
			Window: options.Window,
		},
	}

	engineOpts := []vm.Option{
		vm.WithLogger(options.Logger),
		vm.WithBypass(options.Bypass),
		vm.WithMaxCycles(options.MaxCycles),
		vm.WithObserver(s),
	}
	for _, obs := range options.Observers {
		engineOpts = append(engineOpts, vm.WithObserver(obs))
	}
	s.engine = vm.NewVM(engineOpts...)

	if err := s.clock(); err != nil {
		return nil, err
	}
	if err := s.engine.LoadProgram(program); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *session) run(operands map[uint8]uint256.Int) (*Result, error) {
	window := s.cfg.Window & (vm.NumWindows - 1)
	for reg, value := range operands {
		if err := s.engine.WriteRegister(window, reg, value, vm.FullByteMask); err != nil {
			return nil, fmt.Errorf("operand r%d: %w", reg, err)
		}
	}

	s.engine.Configure(s.cfg)
	if err := s.engine.Go(); err != nil {
		return nil, err
	}
	if err := s.clock(); err != nil {
		if errors.Is(err, vm.ErrUnitConflict) {
			return nil, ErrUnitConflict
		}
		return nil, err
	}

	res := &Result{
		Outcome:      s.last.Outcome,
		Cycles:       s.last.Cycles,
		Instructions: s.last.Instructions,
	}
	for i := range res.Registers {
		v, err := s.engine.ReadRegister(window, uint8(i))
		if err != nil {
			return nil, err
		}
		res.Registers[i] = v
	}

	switch res.Outcome {
	case vm.OutcomeIllegalOpcode:
		return res, ErrIllegalOpcode
	case vm.OutcomeBranchFault:
		return res, ErrBranchFault
	case vm.OutcomeUnitConflict:
		return res, ErrUnitConflict
	}
	return res, nil
}

// clock runs the engine to idle under the session's limits.
func (s *session) clock() error {
	ctx := s.options.Context
	if s.options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.options.Timeout)
		defer cancel()
	}

	err := s.engine.Run(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, vm.ErrCycleLimit):
		return ErrCycleLimit
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	}
	return err
}
