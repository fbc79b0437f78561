package vm

// Opcode represents an engine instruction opcode (6 bits).
type Opcode uint8

const (
	// ===== Logic unit =====
	OpPSA Opcode = 0x00 // wd = ra
	OpPSB Opcode = 0x01 // wd = rb

	// ===== Mask unit =====
	OpMSK Opcode = 0x02 // wd = replicate(ra[0]) & rb

	// ===== Logic unit =====
	OpXOR Opcode = 0x03 // wd = ra ^ rb
	OpNOT Opcode = 0x04 // wd = ^ra

	// ===== AddSub unit =====
	OpADD Opcode = 0x05 // wd = ra + rb (mod 2^256)
	OpSUB Opcode = 0x06 // wd = ra - rb (mod 2^256)

	// ===== Multiply unit =====
	OpMUL Opcode = 0x07 // wd = ra * rb mod 2^255-19

	// ===== TestReduce unit =====
	OpTRD Opcode = 0x08 // wd = ra >= p ? p : 0

	// ===== Control Flow =====
	OpBRZ Opcode = 0x09 // if ra == 0: mpc = mpc + imm + 1
	OpFIN Opcode = 0x0A // halt, raise finished

	// OpMax bounds the legal encodings: every opcode >= OpMax is illegal.
	OpMax Opcode = 0x0B
)

// OpcodeMask covers the 6-bit opcode field.
const OpcodeMask = 0x3F

// Legal reports whether the opcode is below the legal-opcode sentinel.
func (o Opcode) Legal() bool {
	return o < OpMax
}

// String returns the mnemonic of an opcode.
func (o Opcode) String() string {
	switch o {
	case OpPSA:
		return "PSA"
	case OpPSB:
		return "PSB"
	case OpMSK:
		return "MSK"
	case OpXOR:
		return "XOR"
	case OpNOT:
		return "NOT"
	case OpADD:
		return "ADD"
	case OpSUB:
		return "SUB"
	case OpMUL:
		return "MUL"
	case OpTRD:
		return "TRD"
	case OpBRZ:
		return "BRZ"
	case OpFIN:
		return "FIN"
	default:
		return "UNKNOWN"
	}
}

// OpcodeFromString returns the opcode for the given mnemonic.
func OpcodeFromString(s string) (Opcode, bool) {
	switch s {
	case "PSA":
		return OpPSA, true
	case "PSB":
		return OpPSB, true
	case "MSK":
		return OpMSK, true
	case "XOR":
		return OpXOR, true
	case "NOT":
		return OpNOT, true
	case "ADD":
		return OpADD, true
	case "SUB":
		return OpSUB, true
	case "MUL":
		return OpMUL, true
	case "TRD":
		return OpTRD, true
	case "BRZ":
		return OpBRZ, true
	case "FIN":
		return OpFIN, true
	default:
		return 0, false
	}
}
