package pipeline

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// InputSpec names one identifier source: a CSV file and the row to
// start from (for resuming a previous run).
type InputSpec struct {
	Path     string
	StartRow int
}

// ParseInputSpec parses an input argument of the form "path" or
// "path:start-row". The path must exist; anything malformed is a fatal
// configuration error.
func ParseInputSpec(arg string) (InputSpec, error) {
	spec := InputSpec{Path: arg}

	if idx := strings.LastIndex(arg, ":"); idx >= 0 {
		parts := strings.Split(arg, ":")
		if len(parts) > 2 {
			return InputSpec{}, fmt.Errorf("unknown input format, expected at most one ':': %s", arg)
		}

		start, err := strconv.Atoi(parts[1])
		if err != nil || start < 0 {
			return InputSpec{}, fmt.Errorf("invalid start row %q in input %s", parts[1], arg)
		}

		spec.Path = parts[0]
		spec.StartRow = start
	}

	if _, err := os.Stat(spec.Path); err != nil {
		return InputSpec{}, fmt.Errorf("input path does not exist: %s", spec.Path)
	}

	return spec, nil
}

// Source reads identifiers out of one column of a row-oriented CSV
// file. It is consumed exclusively by the dispatcher.
type Source struct {
	path      string
	column    int
	file      *os.File
	reader    *csv.Reader
	row       int
	exhausted bool
}

// OpenSource opens the CSV file and skips to the start row.
func OpenSource(spec InputSpec, column int) (*Source, error) {
	if column < 0 {
		return nil, fmt.Errorf("column index must not be negative: %d", column)
	}

	f, err := os.Open(spec.Path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1 // identifier extraction does not need rectangular input

	s := &Source{
		path:   spec.Path,
		column: column,
		file:   f,
		reader: reader,
	}

	for i := 0; i < spec.StartRow; i++ {
		if _, err := reader.Read(); err == io.EOF {
			s.exhausted = true
			break
		} else if err != nil {
			f.Close()
			return nil, fmt.Errorf("skip to row %d in %s: %w", spec.StartRow, spec.Path, err)
		}
		s.row++
	}

	return s, nil
}

// Path returns the source file path.
func (s *Source) Path() string {
	return s.path
}

// ReadBatch reads up to n identifiers in source order. A short or empty
// batch is returned at end of input; rows missing the identifier column
// are a fatal configuration error, not a per-row failure.
func (s *Source) ReadBatch(n int) (Batch, error) {
	batch := make(Batch, 0, n)

	for len(batch) < n {
		row, err := s.reader.Read()
		if err == io.EOF {
			s.exhausted = true
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s row %d: %w", s.path, s.row, err)
		}

		if s.column >= len(row) {
			return nil, fmt.Errorf("column index %d out of range for %s row %d (%d columns)",
				s.column, s.path, s.row, len(row))
		}

		batch = append(batch, row[s.column])
		s.row++
	}

	return batch, nil
}

// Exhausted reports whether the source has reached end of input.
func (s *Source) Exhausted() bool {
	return s.exhausted
}

// Close closes the underlying file.
func (s *Source) Close() error {
	return s.file.Close()
}
