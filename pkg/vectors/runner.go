package vectors

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/akhildatla/engine25519/pkg/bus"
	"github.com/akhildatla/engine25519/pkg/vm"
)

// DefaultParallelism bounds how many suites run at once.
const DefaultParallelism = 4

const faultEvents = bus.EventIllegal | bus.EventBranchFault | bus.EventUnitConflict

// Result is the outcome of a single vector.
type Result struct {
	Suite    int
	Vector   int
	Pass     bool
	Events   uint32
	Got      uint256.Int
	Expected uint256.Int
}

// Report aggregates the results of a run.
type Report struct {
	Results []Result
	Passed  int
	Failed  int
}

// Runner executes suites, each on its own engine.
type Runner struct {
	parallelism int
	engineOpts  []vm.Option
	logger      *zap.Logger
}

// Option is a functional option for the Runner.
type Option func(*Runner)

// WithParallelism sets how many suites may run concurrently.
func WithParallelism(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.parallelism = n
		}
	}
}

// WithEngineOptions passes options to every engine the runner creates.
func WithEngineOptions(opts ...vm.Option) Option {
	return func(r *Runner) {
		r.engineOpts = append(r.engineOpts, opts...)
	}
}

// WithLogger sets the runner's logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		r.logger = l
	}
}

// NewRunner creates a Runner.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		parallelism: DefaultParallelism,
		logger:      zap.NewNop(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run executes every suite and returns the combined report, ordered by
// suite then vector. A failing vector is reported, not returned as an
// error; errors are reserved for bus or context failures.
func (r *Runner) Run(ctx context.Context, suites []Suite) (*Report, error) {
	perSuite := make([][]Result, len(suites))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)
	for i := range suites {
		g.Go(func() error {
			results, err := r.RunSuite(ctx, i, &suites[i])
			if err != nil {
				return fmt.Errorf("suite %d: %w", i, err)
			}
			perSuite[i] = results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &Report{}
	for _, results := range perSuite {
		for _, res := range results {
			if res.Pass {
				report.Passed++
			} else {
				report.Failed++
			}
			report.Results = append(report.Results, res)
		}
	}
	return report, nil
}

// RunSuite loads the suite into a fresh engine and runs every vector
// through the bus: arguments written to r0..r(n-1) of the suite window,
// the routine started over its full length, r31 read back.
func (r *Runner) RunSuite(ctx context.Context, idx int, s *Suite) ([]Result, error) {
	engine := vm.NewVM(append([]vm.Option{vm.WithLogger(r.logger)}, r.engineOpts...)...)
	b := bus.New(engine, bus.WithLogger(r.logger))
	host := bus.NewHost(b)

	// Let the register file come out of reset.
	if err := b.Clock(ctx); err != nil {
		return nil, err
	}
	if err := host.LoadProgram(s.Program()); err != nil {
		return nil, err
	}

	cfg := vm.RunConfig{Start: uint32(s.LoadAddr), Count: uint32(len(s.Code)), Window: s.Window}
	results := make([]Result, 0, len(s.Vectors))
	for v, vec := range s.Vectors {
		for a := range vec.Args {
			if err := host.WriteRegister(s.Window, uint8(a), &vec.Args[a]); err != nil {
				return nil, fmt.Errorf("vector %d: %w", v, err)
			}
		}
		if err := host.Start(cfg); err != nil {
			return nil, fmt.Errorf("vector %d: %w", v, err)
		}
		events, err := host.Wait(ctx)
		if err != nil {
			return nil, fmt.Errorf("vector %d: %w", v, err)
		}
		got, err := host.ReadRegister(s.Window, ResultRegister)
		if err != nil {
			return nil, fmt.Errorf("vector %d: %w", v, err)
		}

		res := Result{
			Suite:    idx,
			Vector:   v,
			Events:   events,
			Got:      got,
			Expected: vec.Expected,
			Pass:     got == vec.Expected && events&faultEvents == 0,
		}
		if !res.Pass {
			r.logger.Warn("vector failed",
				zap.Int("suite", idx),
				zap.Int("vector", v),
				zap.String("got", got.Hex()),
				zap.String("expected", vec.Expected.Hex()),
				zap.Uint32("events", events))
		}
		results = append(results, res)
	}

	r.logger.Info("suite complete",
		zap.Int("suite", idx),
		zap.Int("vectors", len(results)),
		zap.Uint64("cycles", engine.Cycles()))
	return results, nil
}
