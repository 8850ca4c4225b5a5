package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeCSV writes rows to a temp CSV file and returns its path.
func writeCSV(t *testing.T, rows []string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "units.csv")
	content := ""
	for _, row := range rows {
		content += row + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// identifierRows builds n CSV rows with the identifier in column 1.
func identifierRows(n int) []string {
	rows := make([]string, n)
	for i := range rows {
		rows[i] = fmt.Sprintf("row-%d,SEE%04d,extra", i, i)
	}
	return rows
}

func TestParseInputSpec(t *testing.T) {
	path := writeCSV(t, identifierRows(1))

	spec, err := ParseInputSpec(path)
	require.NoError(t, err)
	assert.Equal(t, path, spec.Path)
	assert.Equal(t, 0, spec.StartRow)

	spec, err = ParseInputSpec(path + ":250")
	require.NoError(t, err)
	assert.Equal(t, path, spec.Path)
	assert.Equal(t, 250, spec.StartRow)
}

func TestParseInputSpecErrors(t *testing.T) {
	path := writeCSV(t, identifierRows(1))

	tests := []struct {
		name string
		arg  string
	}{
		{"missing file", filepath.Join(t.TempDir(), "nope.csv")},
		{"two colons", path + ":1:2"},
		{"non-numeric start", path + ":abc"},
		{"negative start", path + ":-5"},
		{"empty start", path + ":"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseInputSpec(tt.arg)
			assert.Error(t, err)
		})
	}
}

func TestSourceReadBatch(t *testing.T) {
	path := writeCSV(t, identifierRows(5))

	src, err := OpenSource(InputSpec{Path: path}, 1)
	require.NoError(t, err)
	defer src.Close()

	batch, err := src.ReadBatch(3)
	require.NoError(t, err)
	assert.Equal(t, Batch{"SEE0000", "SEE0001", "SEE0002"}, batch)
	assert.False(t, src.Exhausted())

	batch, err = src.ReadBatch(3)
	require.NoError(t, err)
	assert.Equal(t, Batch{"SEE0003", "SEE0004"}, batch)
	assert.True(t, src.Exhausted())

	batch, err = src.ReadBatch(3)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestSourceStartRow(t *testing.T) {
	path := writeCSV(t, identifierRows(5))

	src, err := OpenSource(InputSpec{Path: path, StartRow: 3}, 1)
	require.NoError(t, err)
	defer src.Close()

	batch, err := src.ReadBatch(10)
	require.NoError(t, err)
	assert.Equal(t, Batch{"SEE0003", "SEE0004"}, batch)
}

func TestSourceStartRowPastEnd(t *testing.T) {
	path := writeCSV(t, identifierRows(2))

	src, err := OpenSource(InputSpec{Path: path, StartRow: 10}, 1)
	require.NoError(t, err)
	defer src.Close()

	assert.True(t, src.Exhausted())

	batch, err := src.ReadBatch(10)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestSourceColumnOutOfRange(t *testing.T) {
	path := writeCSV(t, []string{"only-one-column"})

	src, err := OpenSource(InputSpec{Path: path}, 4)
	require.NoError(t, err)
	defer src.Close()

	_, err = src.ReadBatch(1)
	assert.ErrorContains(t, err, "column index 4 out of range")
}

func TestSourceNegativeColumn(t *testing.T) {
	path := writeCSV(t, identifierRows(1))

	_, err := OpenSource(InputSpec{Path: path}, -1)
	assert.Error(t, err)
}
