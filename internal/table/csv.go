package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

// ReadCSV loads a table written by WriteCSV without an index column.
func ReadCSV(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("csv %s is empty", path)
		}
		return nil, fmt.Errorf("failed to read header of %s: %w", path, err)
	}
	t := New(header...)
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		t.Append(rec...)
	}
	return t, nil
}

// Encode writes the table as CSV with a header row. With index set, a leading
// unnamed column carries the 0-based row number.
func (t *Table) Encode(w io.Writer, index bool) error {
	cw := csv.NewWriter(w)
	header := t.Columns
	if index {
		header = append([]string{""}, t.Columns...)
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for i, row := range t.Rows {
		rec := row
		if index {
			rec = append([]string{strconv.Itoa(i)}, row...)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSV writes the table to path atomically: the content goes to a temp file
// in the same directory which is renamed over path once complete. A reader
// therefore either sees no file or the whole file.
func WriteCSV(path string, t *Table, index bool) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if err := t.Encode(tmp, index); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file for %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("failed to chmod temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}
