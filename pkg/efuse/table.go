// Package efuse reads and normalizes the fuse configuration table and encodes
// its enabled rows into the hash-prefixed blob the loader burns into OTP.
package efuse

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ws63-tools/fwpack/pkg/errors"
)

// Column positions of a fuse table row.
const (
	ColEnabled = iota
	ColName
	ColBitOffset
	ColBitWidth
	ColValue
	ColProgramGroup

	numColumns
)

// Record is one raw row of the fuse table. Rows that are not fuse rows
// (a header line, comments) are carried through unchanged.
type Record []string

// Empty reports whether every field of the record is empty.
func (r Record) Empty() bool {
	for _, f := range r {
		if f != "" {
			return false
		}
	}
	return true
}

// Enabled reports whether the row takes part in encoding.
func (r Record) Enabled() bool {
	return len(r) > ColEnabled && r[ColEnabled] == "1"
}

// Has reports whether any field equals s.
func (r Record) Has(s string) bool {
	for _, f := range r {
		if f == s {
			return true
		}
	}
	return false
}

// FuseRow is the typed view of an enabled fuse table row.
type FuseRow struct {
	Enabled      bool
	Name         string
	BitOffset    uint16
	BitWidth     uint16
	Value        string
	ProgramGroup string
}

// Record renders the row in table form.
func (f FuseRow) Record() Record {
	enabled := "0"
	if f.Enabled {
		enabled = "1"
	}
	return Record{
		enabled,
		f.Name,
		strconv.FormatUint(uint64(f.BitOffset), 10),
		strconv.FormatUint(uint64(f.BitWidth), 10),
		f.Value,
		f.ProgramGroup,
	}
}

// Row parses the record into a FuseRow. The program group column is optional.
func (r Record) Row() (FuseRow, error) {
	if len(r) < ColProgramGroup {
		return FuseRow{}, errors.Newf(errors.ErrMalformedValue, "row has %d columns, want at least %d", len(r), ColProgramGroup)
	}

	offset, err := strconv.ParseUint(strings.TrimSpace(r[ColBitOffset]), 10, 16)
	if err != nil {
		return FuseRow{}, errors.Newf(errors.ErrMalformedValue, "%s: bit offset %q: %v", r[ColName], r[ColBitOffset], err)
	}
	width, err := strconv.ParseUint(strings.TrimSpace(r[ColBitWidth]), 10, 16)
	if err != nil {
		return FuseRow{}, errors.Newf(errors.ErrMalformedValue, "%s: bit width %q: %v", r[ColName], r[ColBitWidth], err)
	}

	row := FuseRow{
		Enabled:   r.Enabled(),
		Name:      r[ColName],
		BitOffset: uint16(offset),
		BitWidth:  uint16(width),
		Value:     r[ColValue],
	}
	if len(r) > ColProgramGroup {
		row.ProgramGroup = r[ColProgramGroup]
	}
	return row, nil
}

// Table is an ordered fuse table.
type Table struct {
	Records []Record
}

// Rows returns the enabled rows in table order.
func (t *Table) Rows() ([]FuseRow, error) {
	var rows []FuseRow
	for i, rec := range t.Records {
		if !rec.Enabled() {
			continue
		}
		row, err := rec.Row()
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", i+1)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ParseTable reads a fuse table from r.
func ParseTable(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	var t Table
	for {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to read fuse table")
		}
		t.Records = append(t.Records, Record(fields))
	}
	return &t, nil
}

// ReadTable reads the fuse table at path.
func ReadTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open fuse table")
	}
	defer f.Close()

	return ParseTable(f)
}

// Write writes the table as CSV with CRLF line endings.
func (t *Table) Write(w io.Writer) error {
	writer := csv.NewWriter(w)
	writer.UseCRLF = true
	if err := writer.WriteAll(toStrings(t.Records)); err != nil {
		return errors.Wrap(err, "failed to write fuse table")
	}
	return nil
}

// WriteTable replaces the file at path with the table contents.
func WriteTable(path string, t *Table) error {
	return writeFileAtomic(path, func(w io.Writer) error {
		return t.Write(w)
	})
}

func toStrings(records []Record) [][]string {
	out := make([][]string, len(records))
	for i, r := range records {
		out[i] = r
	}
	return out
}

// writeFileAtomic writes through a temporary file in the destination
// directory and renames it into place, so path is either untouched or complete.
func writeFileAtomic(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrap(err, "failed to create temp file")
	}
	tmpPath := tmp.Name()

	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, "failed to chmod temp file")
	}
	if err := write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "failed to close temp file")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		slog.Error("file_rename_failed", "path", path, "error", err)
		return errors.Wrap(err, fmt.Sprintf("failed to replace %s", path))
	}
	return nil
}
