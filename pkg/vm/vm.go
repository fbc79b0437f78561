// Package vm implements the engine25519 field-arithmetic core.
//
// The engine is a cycle-stepped model of a microcoded processor for
// GF(2^255-19) with:
//   - a 16-window x 32-register file of 256-bit values
//   - a 32-entry constant table substitutable for either operand
//   - five fixed-latency execution units, including a limb-pipelined multiplier
//   - a linear sequencer with a single conditional branch (BRZ)
//
// Basic usage:
//
//	v := vm.NewVM()
//	v.LoadProgram(program)
//	v.WriteRegister(0, 0, x, vm.FullByteMask)
//	v.Configure(vm.RunConfig{Start: 0, Count: uint32(len(program.Code))})
//	v.Go()
//	err := v.Run(ctx)
//
// Host accessors are rejected with ErrBusy while a run owns the engine.
package vm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

// Error definitions
var (
	ErrInvalidInstruction = errors.New("invalid instruction")
	ErrBusy               = errors.New("engine is running")
	ErrCycleLimit         = errors.New("cycle limit exceeded")
	ErrAddressRange       = errors.New("address out of range")
	ErrProgramTooLarge    = errors.New("program does not fit in microcode store")
)

// DefaultMicrocodeDepth is the size of the instruction store in words.
const DefaultMicrocodeDepth = 1024

// State is a sequencer state.
type State uint8

const (
	StateIdle State = iota
	StateFetch
	StateExec
	StateWaitDone
	StateDoBranch
	StateIllegalOpcode
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetch:
		return "fetch"
	case StateExec:
		return "exec"
	case StateWaitDone:
		return "wait-done"
	case StateDoBranch:
		return "do-branch"
	case StateIllegalOpcode:
		return "illegal-opcode"
	default:
		return "unknown"
	}
}

// Outcome says how a run ended.
type Outcome uint8

const (
	OutcomeFinished      Outcome = iota // FIN retired
	OutcomeExhausted                    // last instruction of the run retired
	OutcomeIllegalOpcode                // opcode >= OpMax decoded
	OutcomeBranchFault                  // taken BRZ left [start, start+count)
	OutcomeUnitConflict                 // two units completed in one cycle
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFinished:
		return "finished"
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeIllegalOpcode:
		return "illegal_opcode"
	case OutcomeBranchFault:
		return "branch_fault"
	case OutcomeUnitConflict:
		return "unit_conflict"
	default:
		return "unknown"
	}
}

// Program is a block of microcode placed at Origin in the instruction store.
type Program struct {
	Origin uint16
	Code   []Instruction
}

// RunConfig is the host-visible run configuration. It is latched when Go is
// called; later changes do not affect the run in progress.
type RunConfig struct {
	Start  uint32
	Count  uint32
	Window uint8
}

// Status is a snapshot of the engine's status and sticky event flags.
type Status struct {
	Running bool
	Paused  bool
	State   State
	MPC     uint32

	Finished      bool
	IllegalOpcode bool
	BranchFault   bool
	UnitConflict  bool
}

// RunReport describes a completed run.
type RunReport struct {
	Config       RunConfig
	Outcome      Outcome
	Cycles       uint64
	Instructions uint64
}

// RunObserver is notified as instructions retire and runs end. Callbacks
// are made with the engine lock held and must not call back into the VM.
type RunObserver interface {
	InstructionRetired(op Opcode)
	RunEnded(report RunReport)
}

// ExecutionStats contains metrics about engine execution for observability.
type ExecutionStats struct {
	Runs                 int64          // Runs started
	InstructionsExecuted int64          // Instructions retired, including FIN and BRZ
	Cycles               int64          // Engine cycles spent running
	MultiplyCycles       int64          // Cycles spent in the multiplier
	OpCounts             map[string]int // Count of each opcode executed
}

// VM is the engine: register file, instruction store, execution units and
// sequencer behind a single host/engine access gate.
type VM struct {
	mu sync.Mutex

	rf     *RegisterFile
	code   []Instruction
	units  [numUnits]unitSlot
	mul    Multiplier
	logger *zap.Logger

	// configuration
	resetCycles int
	bypass      bool
	maxCycles   uint64
	observers   []RunObserver

	// host-side run configuration, latched by Go
	pending RunConfig
	run     RunConfig
	end     uint32

	// sequencer
	state    State
	running  bool
	pauseReq bool
	paused   bool
	mpc      uint32
	inst     Instruction
	opA      uint256.Int
	wd       uint8

	// sticky events, cleared at Go
	finished      bool
	illegalOpcode bool
	branchFault   bool
	unitConflict  bool

	runCycles       uint64
	runInstructions uint64
	cycles          uint64

	stats        ExecutionStats
	statsEnabled bool
}

// Option is a functional option for the VM.
type Option func(*VM)

// WithLogger sets the logger used for run events.
func WithLogger(l *zap.Logger) Option {
	return func(v *VM) {
		if l != nil {
			v.logger = l
		}
	}
}

// WithResetCycles sets how many cycles the register file stays unavailable
// after reset.
func WithResetCycles(n int) Option {
	return func(v *VM) {
		v.resetCycles = n
	}
}

// WithBypass enables same-cycle write forwarding in the register file.
func WithBypass(enabled bool) Option {
	return func(v *VM) {
		v.bypass = enabled
	}
}

// WithMicrocodeDepth sets the number of instruction store words.
func WithMicrocodeDepth(n int) Option {
	return func(v *VM) {
		if n > 0 {
			v.code = make([]Instruction, n)
		}
	}
}

// WithMaxCycles bounds the cycles a single Run call may clock. Zero means
// no limit.
func WithMaxCycles(n uint64) Option {
	return func(v *VM) {
		v.maxCycles = n
	}
}

// WithObserver registers a RunObserver.
func WithObserver(o RunObserver) Option {
	return func(v *VM) {
		if o != nil {
			v.observers = append(v.observers, o)
		}
	}
}

// NewVM creates an engine in the idle state with its register file in reset.
func NewVM(opts ...Option) *VM {
	v := &VM{
		code:        make([]Instruction, DefaultMicrocodeDepth),
		logger:      zap.NewNop(),
		resetCycles: DefaultResetCycle,
	}
	for _, o := range opts {
		o(v)
	}
	v.rf = NewRegisterFile(v.resetCycles, v.bypass)
	for u := Unit(1); u < numUnits; u++ {
		v.units[u] = unitSlot{unit: u, mul: &v.mul}
	}
	return v
}

// Reset clears the register file, instruction store and event flags and
// restarts the register file's not-ready interval.
func (v *VM) Reset() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.running {
		return ErrBusy
	}
	v.rf.Reset()
	for i := range v.code {
		v.code[i] = 0
	}
	v.clearEvents()
	v.mpc = 0
	return nil
}

// MicrocodeDepth returns the size of the instruction store.
func (v *VM) MicrocodeDepth() int {
	return len(v.code)
}

// EnableStats enables execution statistics collection.
func (v *VM) EnableStats() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.statsEnabled = true
	v.stats = ExecutionStats{
		OpCounts: make(map[string]int),
	}
}

// Stats returns the execution statistics collected since EnableStats.
// Returns nil if stats were not enabled.
func (v *VM) Stats() *ExecutionStats {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.statsEnabled {
		return nil
	}
	s := v.stats
	s.OpCounts = make(map[string]int, len(v.stats.OpCounts))
	for k, n := range v.stats.OpCounts {
		s.OpCounts[k] = n
	}
	return &s
}

// hostAccess reports whether the host currently owns the store and
// register file.
func (v *VM) hostAccess() bool {
	return !v.running || v.paused
}

// LoadProgram writes p.Code into the instruction store starting at p.Origin.
func (v *VM) LoadProgram(p *Program) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.hostAccess() {
		return ErrBusy
	}
	if int(p.Origin)+len(p.Code) > len(v.code) {
		return fmt.Errorf("%w: %d words at %d, store holds %d",
			ErrProgramTooLarge, len(p.Code), p.Origin, len(v.code))
	}
	copy(v.code[p.Origin:], p.Code)
	return nil
}

// WriteInstruction stores one microcode word.
func (v *VM) WriteInstruction(addr uint32, inst Instruction) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.hostAccess() {
		return ErrBusy
	}
	if addr >= uint32(len(v.code)) {
		return fmt.Errorf("%w: microcode address %d", ErrAddressRange, addr)
	}
	v.code[addr] = inst
	return nil
}

// ReadInstruction returns one microcode word.
func (v *VM) ReadInstruction(addr uint32) (Instruction, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.hostAccess() {
		return 0, ErrBusy
	}
	if addr >= uint32(len(v.code)) {
		return 0, fmt.Errorf("%w: microcode address %d", ErrAddressRange, addr)
	}
	return v.code[addr], nil
}

// WriteRegister writes the bytes of value selected by byteMask into a
// register.
func (v *VM) WriteRegister(window, index uint8, value uint256.Int, byteMask uint32) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.hostAccess() {
		return ErrBusy
	}
	if index >= NumRegisters {
		return fmt.Errorf("%w: register %d", ErrAddressRange, index)
	}
	return v.rf.Write(window, index, value, byteMask)
}

// ReadRegister reads a register.
func (v *VM) ReadRegister(window, index uint8) (uint256.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.hostAccess() {
		return uint256.Int{}, ErrBusy
	}
	if index >= NumRegisters {
		return uint256.Int{}, fmt.Errorf("%w: register %d", ErrAddressRange, index)
	}
	return v.rf.ReadA(window, index)
}

// Configure sets the run configuration that the next Go latches.
func (v *VM) Configure(cfg RunConfig) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pending = cfg
}

// Config returns the pending run configuration.
func (v *VM) Config() RunConfig {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pending
}

// Go latches the pending configuration, clears the event flags and starts a
// run at the configured start address. A run of zero instructions ends
// immediately with the finished flag set.
func (v *VM) Go() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.running {
		return ErrBusy
	}

	v.run = v.pending
	v.run.Start %= uint32(len(v.code))
	v.run.Window &= windowMask
	v.clearEvents()
	v.pauseReq = false
	v.paused = false
	v.mpc = v.run.Start
	v.runCycles = 0
	v.runInstructions = 0
	if v.statsEnabled {
		v.stats.Runs++
	}

	v.logger.Info("run started",
		zap.Uint32("start", v.run.Start),
		zap.Uint32("count", v.run.Count),
		zap.Uint8("window", v.run.Window))

	if v.run.Count == 0 {
		v.running = true
		v.endRun(OutcomeExhausted)
		return nil
	}
	v.end = v.run.Start + v.run.Count - 1
	v.running = true
	v.state = StateFetch
	return nil
}

// Pause asks the sequencer to stop at the next instruction boundary. It has
// no effect when the engine is idle.
func (v *VM) Pause() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.running {
		v.pauseReq = true
	}
}

// Resume continues a paused run.
func (v *VM) Resume() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pauseReq = false
	v.paused = false
}

// Status returns a snapshot of the engine status.
func (v *VM) Status() Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	return Status{
		Running:       v.running,
		Paused:        v.paused,
		State:         v.state,
		MPC:           v.mpc,
		Finished:      v.finished,
		IllegalOpcode: v.illegalOpcode,
		BranchFault:   v.branchFault,
		UnitConflict:  v.unitConflict,
	}
}

// Cycles returns the total number of cycles clocked since creation.
func (v *VM) Cycles() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cycles
}

// Ready reports whether the register file has left reset.
func (v *VM) Ready() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.rf.Ready()
}

// Step advances the engine by one clock cycle.
func (v *VM) Step() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.step()
}

// Run clocks the engine until the current run ends or pauses and the
// register file is ready. Cancelling ctx stops the clock but leaves the run
// in place; a later Run continues it.
func (v *VM) Run(ctx context.Context) error {
	var clocked uint64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		v.mu.Lock()
		if (!v.running || v.paused) && v.rf.Ready() {
			v.mu.Unlock()
			return nil
		}
		if v.maxCycles > 0 && clocked >= v.maxCycles {
			v.mu.Unlock()
			return fmt.Errorf("%w: %d cycles", ErrCycleLimit, clocked)
		}
		err := v.step()
		v.mu.Unlock()

		if err != nil {
			return err
		}
		clocked++
	}
}

func (v *VM) step() error {
	v.cycles++
	v.rf.Tick()
	if !v.running || v.paused {
		return nil
	}
	v.runCycles++
	if v.statsEnabled {
		v.stats.Cycles++
		if v.mul.Busy() {
			v.stats.MultiplyCycles++
		}
	}

	switch v.state {
	case StateFetch:
		if v.pauseReq {
			v.paused = true
			v.pauseReq = false
			v.logger.Debug("run paused", zap.Uint32("mpc", v.mpc))
			return nil
		}
		v.inst = v.code[v.mpc%uint32(len(v.code))]
		v.state = StateExec

	case StateExec:
		return v.exec()

	case StateDoBranch:
		v.branch()

	case StateWaitDone:
		return v.waitDone()

	case StateIllegalOpcode:
		v.logger.Warn("illegal opcode",
			zap.Uint32("mpc", v.mpc),
			zap.Uint8("opcode", uint8(v.inst.Opcode())))
		v.endRun(OutcomeIllegalOpcode)
	}
	return nil
}

// exec decodes the fetched instruction, reads its operands and dispatches
// it. It stalls while the register file is not ready.
func (v *VM) exec() error {
	op := v.inst.Opcode()
	if !op.Legal() {
		v.state = StateIllegalOpcode
		return nil
	}
	if op == OpFIN {
		v.retire(op)
		v.endRun(OutcomeFinished)
		return nil
	}

	a, b, err := v.rf.Cycle(
		Address{v.run.Window, v.inst.Ra()},
		Address{v.run.Window, v.inst.Rb()},
		nil)
	if errors.Is(err, ErrNotReady) {
		return nil
	}
	if err != nil {
		return err
	}
	if v.inst.Ca() {
		a = Lookup(uint32(v.inst.Ra()))
	}
	if v.inst.Cb() {
		b = Lookup(uint32(v.inst.Rb()))
	}

	if op == OpBRZ {
		v.opA = a
		v.state = StateDoBranch
		return nil
	}

	u := UnitFor(op)
	v.units[u].start(op, a, b)
	v.wd = v.inst.Wd()
	v.state = StateWaitDone
	return nil
}

// branch resolves a BRZ. A taken branch whose target lies outside the run
// ends the run with the branch-fault flag set.
func (v *VM) branch() {
	v.retire(OpBRZ)
	if !v.opA.IsZero() {
		v.advance()
		return
	}
	target := int64(v.mpc) + int64(v.inst.Imm()) + 1
	if target < int64(v.run.Start) || target > int64(v.end) {
		v.logger.Warn("branch target out of range",
			zap.Uint32("mpc", v.mpc),
			zap.Int64("target", target))
		v.endRun(OutcomeBranchFault)
		return
	}
	v.mpc = uint32(target)
	v.state = StateFetch
}

// waitDone ticks every unit and commits the single completion pulse.
func (v *VM) waitDone() error {
	var (
		result uint256.Int
		pulses int
	)
	for u := Unit(1); u < numUnits; u++ {
		if q, ok := v.units[u].tick(); ok {
			result = q
			pulses++
		}
	}

	switch {
	case pulses == 0:
		return nil
	case pulses > 1:
		v.logger.Warn("execution unit conflict",
			zap.Uint32("mpc", v.mpc),
			zap.Int("pulses", pulses))
		for u := Unit(1); u < numUnits; u++ {
			v.units[u].busy = false
		}
		v.endRun(OutcomeUnitConflict)
		return fmt.Errorf("%w at mpc %d", ErrUnitConflict, v.mpc)
	}

	if err := v.rf.Write(v.run.Window, v.wd, result, FullByteMask); err != nil {
		return err
	}
	v.retire(v.inst.Opcode())
	v.advance()
	return nil
}

// advance moves to the next instruction or ends the run at the configured
// end address.
func (v *VM) advance() {
	if v.mpc == v.end {
		v.endRun(OutcomeExhausted)
		return
	}
	v.mpc++
	v.state = StateFetch
}

func (v *VM) retire(op Opcode) {
	v.runInstructions++
	if v.statsEnabled {
		v.stats.InstructionsExecuted++
		v.stats.OpCounts[op.String()]++
	}
	for _, o := range v.observers {
		o.InstructionRetired(op)
	}
	if ce := v.logger.Check(zap.DebugLevel, "retired"); ce != nil {
		ce.Write(
			zap.Uint32("mpc", v.mpc),
			zap.Stringer("inst", v.inst))
	}
}

// endRun returns ownership to the host. Every run end raises finished; the
// other flags say why the run stopped early.
func (v *VM) endRun(outcome Outcome) {
	v.running = false
	v.paused = false
	v.pauseReq = false
	v.state = StateIdle
	v.finished = true
	switch outcome {
	case OutcomeIllegalOpcode:
		v.illegalOpcode = true
	case OutcomeBranchFault:
		v.branchFault = true
	case OutcomeUnitConflict:
		v.unitConflict = true
	}

	report := RunReport{
		Config:       v.run,
		Outcome:      outcome,
		Cycles:       v.runCycles,
		Instructions: v.runInstructions,
	}
	v.logger.Info("run ended",
		zap.Stringer("outcome", outcome),
		zap.Uint32("mpc", v.mpc),
		zap.Uint64("cycles", report.Cycles),
		zap.Uint64("instructions", report.Instructions))
	for _, o := range v.observers {
		o.RunEnded(report)
	}
}

func (v *VM) clearEvents() {
	v.finished = false
	v.illegalOpcode = false
	v.branchFault = false
	v.unitConflict = false
}
