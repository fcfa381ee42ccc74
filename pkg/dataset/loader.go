package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var (
	ErrInvalidFileType = errors.New("invalid file type")
	ErrParse           = errors.New("dataset parse failure")
)

// Dataset is the ordered row text of one uploaded CSV file.
type Dataset struct {
	Columns []string
	Rows    []string
}

func (d Dataset) Len() int {
	return len(d.Rows)
}

// Loader turns CSV bytes into row text records. The bytes are staged in
// a temp file under TempDir for the duration of a single Load call.
type Loader struct {
	TempDir string
}

func NewLoader(tempDir string) *Loader {
	return &Loader{TempDir: tempDir}
}

// Load stages r to a temp file and parses it. The temp file is removed on
// every path. An empty input yields an empty Dataset.
func (l *Loader) Load(ctx context.Context, r io.Reader) (Dataset, error) {
	tmp, err := os.CreateTemp(l.TempDir, "dataset-*.csv")
	if err != nil {
		return Dataset{}, fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		return Dataset{}, fmt.Errorf("write temp file: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return Dataset{}, fmt.Errorf("rewind temp file: %w", err)
	}

	return parse(ctx, tmp)
}

func parse(ctx context.Context, r io.Reader) (Dataset, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return Dataset{}, nil
	}
	if err != nil {
		return Dataset{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	header[0] = strings.TrimPrefix(header[0], "\ufeff")
	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.TrimSpace(h)
	}

	ds := Dataset{Columns: columns, Rows: []string{}}
	for {
		if err := ctx.Err(); err != nil {
			return Dataset{}, err
		}
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Dataset{}, fmt.Errorf("%w: %v", ErrParse, err)
		}
		ds.Rows = append(ds.Rows, rowText(columns, record))
	}
	return ds, nil
}

// rowText renders one record as "column: value" lines. Missing trailing
// fields render empty; fields past the header are joined under an empty key.
func rowText(columns, record []string) string {
	lines := make([]string, 0, len(columns)+1)
	for i, col := range columns {
		var v string
		if i < len(record) {
			v = strings.TrimSpace(record[i])
		}
		lines = append(lines, col+": "+v)
	}
	if len(record) > len(columns) {
		extra := make([]string, 0, len(record)-len(columns))
		for _, v := range record[len(columns):] {
			extra = append(extra, strings.TrimSpace(v))
		}
		lines = append(lines, ": "+strings.Join(extra, ","))
	}
	return strings.Join(lines, "\n")
}
