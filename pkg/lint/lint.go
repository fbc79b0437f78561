// Package lint statically checks microcode programs for faults the engine
// would only report at run time.
package lint

import (
	"fmt"
	"strings"

	"github.com/akhildatla/engine25519/pkg/vm"
)

// Severity ranks a finding.
type Severity uint8

const (
	SeverityWarning Severity = iota
	SeverityError
)

func (s Severity) String() string {
	if s == SeverityError {
		return "error"
	}
	return "warning"
}

// Check names.
const (
	CheckIllegalOpcode   = "illegal-opcode"
	CheckBranchRange     = "branch-range"
	CheckUndefinedConst  = "undefined-constant"
	CheckStrayImmediate  = "stray-immediate"
	CheckMissingFinish   = "missing-fin"
	CheckProgramTooLarge = "program-too-large"
)

// Finding is a single diagnostic at a microcode address.
type Finding struct {
	Addr     int
	Severity Severity
	Check    string
	Message  string
}

func (f Finding) String() string {
	return fmt.Sprintf("%04d: %s: %s [%s]", f.Addr, f.Severity, f.Message, f.Check)
}

// Linter runs the enabled checks over a program. Opcode legality, branch
// range and store bounds are always checked.
type Linter struct {
	checkConstants  bool
	checkImmediates bool
	requireFinish   bool
	depth           int
}

// Option is a functional option for the Linter.
type Option func(*Linter)

// WithConstantCheck flags constant operands that select an unnamed slot.
func WithConstantCheck() Option {
	return func(l *Linter) {
		l.checkConstants = true
	}
}

// WithImmediateCheck flags nonzero immediates outside BRZ.
func WithImmediateCheck() Option {
	return func(l *Linter) {
		l.checkImmediates = true
	}
}

// WithRequireFinish flags programs that contain no FIN.
func WithRequireFinish() Option {
	return func(l *Linter) {
		l.requireFinish = true
	}
}

// WithMicrocodeDepth sets the store size used for bounds checks.
func WithMicrocodeDepth(depth int) Option {
	return func(l *Linter) {
		l.depth = depth
	}
}

// WithAllChecks enables every optional check.
func WithAllChecks() Option {
	return func(l *Linter) {
		l.checkConstants = true
		l.checkImmediates = true
		l.requireFinish = true
	}
}

// New creates a new Linter with the given options.
func New(opts ...Option) *Linter {
	l := &Linter{depth: vm.DefaultMicrocodeDepth}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Lint returns the findings for program in address order. A program run
// over its full extent is assumed, so branches are checked against
// [Origin, Origin+len(Code)).
func (l *Linter) Lint(program *vm.Program) []Finding {
	var findings []Finding
	origin := int(program.Origin)
	last := origin + len(program.Code) - 1

	if last >= l.depth {
		findings = append(findings, Finding{
			Addr:     origin,
			Severity: SeverityError,
			Check:    CheckProgramTooLarge,
			Message:  fmt.Sprintf("%d words at origin %d exceed store depth %d", len(program.Code), origin, l.depth),
		})
	}

	finished := false
	for i, inst := range program.Code {
		addr := origin + i
		op := inst.Opcode()

		if !op.Legal() {
			findings = append(findings, Finding{
				Addr:     addr,
				Severity: SeverityError,
				Check:    CheckIllegalOpcode,
				Message:  fmt.Sprintf("opcode 0x%02X aborts the run", uint8(op)),
			})
			continue
		}

		if op == vm.OpFIN {
			finished = true
		}

		if op == vm.OpBRZ {
			target := addr + int(inst.Imm()) + 1
			if target < origin || target > last {
				findings = append(findings, Finding{
					Addr:     addr,
					Severity: SeverityError,
					Check:    CheckBranchRange,
					Message:  fmt.Sprintf("branch target %d outside %d..%d", target, origin, last),
				})
			}
		} else if l.checkImmediates && inst.Imm() != 0 {
			findings = append(findings, Finding{
				Addr:     addr,
				Severity: SeverityWarning,
				Check:    CheckStrayImmediate,
				Message:  fmt.Sprintf("%s ignores immediate %d", op, inst.Imm()),
			})
		}

		if l.checkConstants {
			findings = append(findings, constantFindings(addr, inst)...)
		}
	}

	if l.requireFinish && !finished && len(program.Code) > 0 {
		findings = append(findings, Finding{
			Addr:     last,
			Severity: SeverityWarning,
			Check:    CheckMissingFinish,
			Message:  "no FIN; the run ends by exhausting its range",
		})
	}

	return findings
}

// constantFindings reports unnamed constant slots on the operands op reads.
func constantFindings(addr int, inst vm.Instruction) []Finding {
	usesA, usesB := operandsRead(inst.Opcode())

	var findings []Finding
	check := func(port string, idx uint8, constant bool) {
		if !constant || vm.Defined(uint32(idx)) {
			return
		}
		findings = append(findings, Finding{
			Addr:     addr,
			Severity: SeverityWarning,
			Check:    CheckUndefinedConst,
			Message:  fmt.Sprintf("operand %s selects unnamed constant #%d, which reads as zero", port, idx),
		})
	}
	if usesA {
		check("a", inst.Ra(), inst.Ca())
	}
	if usesB {
		check("b", inst.Rb(), inst.Cb())
	}
	return findings
}

func operandsRead(op vm.Opcode) (a, b bool) {
	switch op {
	case vm.OpPSA, vm.OpNOT, vm.OpTRD, vm.OpBRZ:
		return true, false
	case vm.OpPSB:
		return false, true
	case vm.OpMSK, vm.OpXOR, vm.OpADD, vm.OpSUB, vm.OpMUL:
		return true, true
	default:
		return false, false
	}
}

// HasErrors reports whether any finding is an error.
func HasErrors(findings []Finding) bool {
	for _, f := range findings {
		if f.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Format renders findings one per line.
func Format(findings []Finding) string {
	var sb strings.Builder
	for _, f := range findings {
		sb.WriteString(f.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}
