// Package testutil provides testing utilities for engine25519 tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/holiman/uint256"
	dataframe "github.com/rocketlaunchr/dataframe-go"
)

// TempFile creates a temporary file with the given content and extension.
// The file is automatically cleaned up when the test finishes.
func TempFile(t *testing.T, content, ext string) string {
	t.Helper()
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "test"+ext)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

// TempBytes writes binary content to a temporary file.
func TempBytes(t *testing.T, content []byte, ext string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test"+ext)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

// ModAddSource is the (r0 + r1) mod p microcode routine, result in r2.
const ModAddSource = `; r2 = (r0 + r1) mod p
ADD r2, r0, r1
TRD r3, r2
SUB r2, r2, r3
FIN
`

// OperandCSV returns an operand table for ModAddSource. The second row
// wraps around the modulus.
func OperandCSV() string {
	return `label,r0,r1
small,0x5,7
wrap,0x7fffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffeb,0x0000000000000000000000000000000000000000000000000000000000000003
`
}

// OperandFrame is OperandCSV as an in-memory frame.
func OperandFrame() *dataframe.DataFrame {
	return dataframe.NewDataFrame(
		dataframe.NewSeriesString("label", nil, "small", "wrap"),
		dataframe.NewSeriesString("r0", nil, "0x5", "0x7fffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffeb"),
		dataframe.NewSeriesString("r1", nil, "7", "0x3"),
	)
}

// Hex parses a 0x-prefixed constant and fails the test on error.
func Hex(t *testing.T, s string) uint256.Int {
	t.Helper()
	v, err := uint256.FromHex(s)
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return *v
}

// AssertEqual checks two register values for equality.
func AssertEqual(t *testing.T, expected, actual uint256.Int) {
	t.Helper()
	if expected != actual {
		t.Errorf("expected %s, got %s", expected.Hex(), actual.Hex())
	}
}
