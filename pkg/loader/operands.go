package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/holiman/uint256"
	dataframe "github.com/rocketlaunchr/dataframe-go"
)

// Operand table errors
var (
	ErrNoOperandColumns  = errors.New("no register columns (r0..r31)")
	ErrInvalidOperand    = errors.New("invalid operand")
	ErrUnsupportedFormat = errors.New("unsupported table format")
)

const numRegisters = 32

// OperandTable holds one row of register values per run. Registers lists
// the register index of each column; Rows[i][j] is the value for
// Registers[j] in run i.
type OperandTable struct {
	Registers []uint8
	Rows      [][]uint256.Int
}

// Len returns the number of rows.
func (t *OperandTable) Len() int {
	return len(t.Rows)
}

// RegisterColumn returns the column name used for register index.
func RegisterColumn(index uint8) string {
	return "r" + strconv.Itoa(int(index))
}

// registerFromColumn parses "rN"/"RN" with N < 32.
func registerFromColumn(name string) (uint8, bool) {
	name = strings.TrimSpace(name)
	if len(name) < 2 || (name[0] != 'r' && name[0] != 'R') {
		return 0, false
	}
	n, err := strconv.ParseUint(name[1:], 10, 8)
	if err != nil || n >= numRegisters {
		return 0, false
	}
	return uint8(n), true
}

// LoadOperands loads an operand table, choosing the reader by extension.
func LoadOperands(path string) (*OperandTable, error) {
	df, err := Load(context.Background(), path)
	if err != nil {
		return nil, err
	}
	return Operands(df)
}

// Operands extracts the register columns of df. Columns not named rN are
// ignored.
func Operands(df *dataframe.DataFrame) (*OperandTable, error) {
	table := &OperandTable{}
	var series []dataframe.Series
	for _, s := range df.Series {
		idx, ok := registerFromColumn(s.Name())
		if !ok {
			continue
		}
		table.Registers = append(table.Registers, idx)
		series = append(series, s)
	}
	if len(series) == 0 {
		return nil, ErrNoOperandColumns
	}

	nrows := df.NRows()
	table.Rows = make([][]uint256.Int, nrows)
	for row := 0; row < nrows; row++ {
		values := make([]uint256.Int, len(series))
		for col, s := range series {
			v, err := ParseValue(s.Value(row))
			if err != nil {
				return nil, fmt.Errorf("row %d column %s: %w", row, s.Name(), err)
			}
			values[col] = v
		}
		table.Rows[row] = values
	}
	return table, nil
}

// ParseValue converts a table cell to a register value. Strings may be
// decimal or 0x-prefixed hex of any width up to 256 bits, including
// zero-padded hex. A nil cell is an error.
func ParseValue(cell any) (uint256.Int, error) {
	switch v := cell.(type) {
	case string:
		return parseString(v)
	case int64:
		if v < 0 {
			return uint256.Int{}, fmt.Errorf("%w: negative value %d", ErrInvalidOperand, v)
		}
		return uint256.Int{uint64(v), 0, 0, 0}, nil
	case float64:
		if v < 0 || v != float64(uint64(v)) {
			return uint256.Int{}, fmt.Errorf("%w: %v is not a non-negative integer", ErrInvalidOperand, v)
		}
		return uint256.Int{uint64(v), 0, 0, 0}, nil
	case json.Number:
		return parseString(v.String())
	case nil:
		return uint256.Int{}, fmt.Errorf("%w: missing value", ErrInvalidOperand)
	default:
		return uint256.Int{}, fmt.Errorf("%w: unsupported cell type %T", ErrInvalidOperand, cell)
	}
}

func parseString(s string) (uint256.Int, error) {
	s = strings.TrimSpace(s)
	b, ok := new(big.Int).SetString(s, 0)
	if !ok || b.Sign() < 0 {
		return uint256.Int{}, fmt.Errorf("%w: %q", ErrInvalidOperand, s)
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return uint256.Int{}, fmt.Errorf("%w: %q exceeds 256 bits", ErrInvalidOperand, s)
	}
	return *v, nil
}

// ResultFrame builds a table of hex strings, one column per register.
func ResultFrame(registers []uint8, rows [][]uint256.Int) *dataframe.DataFrame {
	series := make([]dataframe.Series, len(registers))
	for col, reg := range registers {
		values := make([]interface{}, len(rows))
		for i, row := range rows {
			values[i] = row[col].Hex()
		}
		series[col] = dataframe.NewSeriesString(RegisterColumn(reg), nil, values...)
	}
	return dataframe.NewDataFrame(series...)
}
