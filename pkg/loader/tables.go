// Package loader reads operand tables from CSV, JSON and Parquet files and
// writes result tables back out, using dataframe-go as the tabular layer.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	dataframe "github.com/rocketlaunchr/dataframe-go"
	"github.com/rocketlaunchr/dataframe-go/exports"
	"github.com/rocketlaunchr/dataframe-go/imports"
	"github.com/xitongsys/parquet-go-source/local"
)

// ErrEmptyTable is returned when a file decodes to a frame with no columns.
var ErrEmptyTable = errors.New("empty table")

// reader decodes one file format into a frame.
type reader func(ctx context.Context, path string) (*dataframe.DataFrame, error)

var readers = map[string]reader{
	".csv":     readCSV,
	".json":    readJSON,
	".parquet": readParquet,
}

// Load reads a table, choosing the decoder by file extension.
func Load(ctx context.Context, path string) (*dataframe.DataFrame, error) {
	read, ok := readers[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	return load(ctx, path, read)
}

// LoadCSV reads a CSV file with a header row. Every column is kept as
// strings, since 256-bit operands overflow the int64 and float64 series
// dataframe-go would otherwise infer. Empty cells become nil.
func LoadCSV(path string) (*dataframe.DataFrame, error) {
	return load(context.Background(), path, readCSV)
}

// LoadJSON reads a JSON array of objects, e.g. [{"r0": "0x...", "r1": 7}].
// Operands wider than 53 bits must be given as strings.
func LoadJSON(path string) (*dataframe.DataFrame, error) {
	return load(context.Background(), path, readJSON)
}

// LoadParquet reads a Parquet file whose operand columns are UTF8 strings.
func LoadParquet(path string) (*dataframe.DataFrame, error) {
	return load(context.Background(), path, readParquet)
}

func load(ctx context.Context, path string, read reader) (*dataframe.DataFrame, error) {
	df, err := read(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	if df == nil || len(df.Series) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyTable, path)
	}
	return df, nil
}

func readCSV(ctx context.Context, path string) (*dataframe.DataFrame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return imports.LoadFromCSV(ctx, file, imports.CSVLoadOptions{InferDataTypes: false})
}

func readJSON(ctx context.Context, path string) (*dataframe.DataFrame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() == 0 {
		return nil, ErrEmptyTable
	}
	return imports.LoadFromJSON(ctx, file)
}

func readParquet(ctx context.Context, path string) (*dataframe.DataFrame, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, err
	}
	defer fr.Close()

	return imports.LoadFromParquet(ctx, fr)
}

// ExportCSV writes df to w with a header row.
func ExportCSV(ctx context.Context, w io.Writer, df *dataframe.DataFrame) error {
	return exports.ExportToCSV(ctx, w, df)
}

// SaveCSV writes df to a CSV file at path.
func SaveCSV(ctx context.Context, path string, df *dataframe.DataFrame) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := ExportCSV(ctx, file, df); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
