package pipeline

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/registrykit/mastr-fetch/pkg/registry"
)

// RecordWriter is the per-worker output sink: an append-only CSV
// destination with a schema fixed at construction. The header is
// written exactly once per destination, and every record is flushed
// down to the file as soon as it is written, so rows written before a
// forced stop stay durable.
type RecordWriter struct {
	path    string
	fields  []string
	file    *os.File
	gz      *gzip.Writer
	csv     *csv.Writer
	records int64
}

// SinkPath builds the deterministic per-worker output path:
// <output-dir>/<input-stem>.out-<workerID>.csv, plus .gz when
// compressing.
func SinkPath(outputDir, inputPath string, workerID int, compress bool) string {
	stem := strings.TrimSuffix(filepath.Base(inputPath), ".csv")
	name := fmt.Sprintf("%s.out-%d.csv", stem, workerID)
	if compress {
		name += ".gz"
	}
	return filepath.Join(outputDir, name)
}

// NewRecordWriter opens the destination in append mode. The header row
// is only written when the destination did not exist yet, so resumed
// runs keep appending to their previous output.
func NewRecordWriter(path string, fields []string, compress bool) (*RecordWriter, error) {
	return openRecordWriter(path, fields, compress, false)
}

// CreateRecordWriter opens the destination truncating any previous
// content, always writing a fresh header.
func CreateRecordWriter(path string, fields []string, compress bool) (*RecordWriter, error) {
	return openRecordWriter(path, fields, compress, true)
}

func openRecordWriter(path string, fields []string, compress, truncate bool) (*RecordWriter, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("output schema must not be empty")
	}

	existed := false
	if !truncate {
		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			existed = true
		}
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if truncate {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output: %w", err)
	}

	w := &RecordWriter{
		path:   path,
		fields: fields,
		file:   f,
	}

	if compress {
		// Appending starts a new gzip member; concatenated members
		// decompress as one stream.
		w.gz = gzip.NewWriter(f)
		w.csv = csv.NewWriter(w.gz)
	} else {
		w.csv = csv.NewWriter(f)
	}

	if !existed {
		if err := w.csv.Write(fields); err != nil {
			f.Close()
			return nil, fmt.Errorf("write header: %w", err)
		}
		if err := w.flush(); err != nil {
			f.Close()
			return nil, fmt.Errorf("flush header: %w", err)
		}
	}

	return w, nil
}

// Path returns the destination path.
func (w *RecordWriter) Path() string {
	return w.path
}

// Records returns how many records have been written.
func (w *RecordWriter) Records() int64 {
	return w.records
}

// Write appends one record in the configured field order and flushes it
// to the file. Missing nested values are rendered as the placeholder by
// the record itself; no write fails over a malformed field.
func (w *RecordWriter) Write(rec registry.Record) error {
	if err := w.csv.Write(rec.Row(w.fields)); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	if err := w.flush(); err != nil {
		return fmt.Errorf("flush record: %w", err)
	}
	w.records++
	return nil
}

func (w *RecordWriter) flush() error {
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return err
	}
	if w.gz != nil {
		return w.gz.Flush()
	}
	return nil
}

// Close flushes and closes the destination.
func (w *RecordWriter) Close() error {
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		w.file.Close()
		return err
	}
	if w.gz != nil {
		if err := w.gz.Close(); err != nil {
			w.file.Close()
			return err
		}
	}
	return w.file.Close()
}
