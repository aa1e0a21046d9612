package reporting

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ErrOutputMissing is returned when an upstream CSV does not exist.
var ErrOutputMissing = errors.New("output file missing")

// MissingColumnsError names required columns absent from a CSV file.
type MissingColumnsError struct {
	File    string
	Columns []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("%s missing columns: %s", filepath.Base(e.File), strings.Join(e.Columns, ", "))
}

// Writer streams records to a CSV file. Records land in a sibling temp file
// renamed into place on Close, so readers never observe a partial output.
type Writer struct {
	f    *os.File
	w    *csv.Writer
	path string
	tmp  string
	rows int
	done bool
}

// CreateCSV removes any previous output at path and starts a new file with header.
func CreateCSV(path string, header []string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	if err := RemoveOutput(path); err != nil {
		return nil, err
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", tmp, err)
	}
	w := &Writer{f: f, w: csv.NewWriter(f), path: path, tmp: tmp}
	if err := w.w.Write(header); err != nil {
		w.Abort()
		return nil, fmt.Errorf("write header %s: %w", path, err)
	}
	return w, nil
}

// Write appends one record.
func (w *Writer) Write(record []string) error {
	if err := w.w.Write(record); err != nil {
		return fmt.Errorf("write %s: %w", w.path, err)
	}
	w.rows++
	return nil
}

// Rows returns the number of data records written.
func (w *Writer) Rows() int {
	return w.rows
}

// Path returns the final output path.
func (w *Writer) Path() string {
	return w.path
}

// Close flushes the file and moves it into place.
func (w *Writer) Close() error {
	if w.done {
		return nil
	}
	w.done = true

	w.w.Flush()
	if err := w.w.Error(); err != nil {
		w.f.Close()
		os.Remove(w.tmp)
		return fmt.Errorf("flush %s: %w", w.path, err)
	}
	if err := w.f.Close(); err != nil {
		os.Remove(w.tmp)
		return fmt.Errorf("close %s: %w", w.path, err)
	}
	if err := os.Rename(w.tmp, w.path); err != nil {
		return fmt.Errorf("rename %s: %w", w.path, err)
	}
	return nil
}

// Abort discards an unfinished output. No-op after Close.
func (w *Writer) Abort() {
	if w.done {
		return
	}
	w.done = true
	w.f.Close()
	os.Remove(w.tmp)
}

// RemoveOutput deletes a previous output and its temp sibling if present.
func RemoveOutput(path string) error {
	for _, p := range []string{path, path + ".tmp"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return nil
}

// Exists reports whether path is an existing regular file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Row is one CSV record addressed by column name. Valid only inside the
// ScanCSV callback.
type Row struct {
	index  map[string]int
	values []string
}

// Get returns the trimmed value of col, or "" when absent.
func (r Row) Get(col string) string {
	i, ok := r.index[col]
	if !ok || i >= len(r.values) {
		return ""
	}
	return strings.TrimSpace(r.values[i])
}

// Has reports whether the file carries col.
func (r Row) Has(col string) bool {
	_, ok := r.index[col]
	return ok
}

// Float parses col as a finite number.
func (r Row) Float(col string) (float64, bool) {
	return ParseFloat(r.Get(col))
}

// ScanCSV streams the rows of path. Required columns missing from the header
// produce a MissingColumnsError; a missing file wraps ErrOutputMissing.
func ScanCSV(path string, required []string, fn func(Row) error) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrOutputMissing, path)
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return &MissingColumnsError{File: path, Columns: required}
		}
		return fmt.Errorf("read header %s: %w", path, err)
	}
	index := HeaderIndex(header)

	var missing []string
	for _, col := range required {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return &MissingColumnsError{File: path, Columns: missing}
	}

	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if err := fn(Row{index: index, values: rec}); err != nil {
			return err
		}
	}
}

// ReadHeader returns the column index of path without reading its rows.
// A missing file wraps ErrOutputMissing; an empty file has no columns.
func ReadHeader(path string) (map[string]int, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrOutputMissing, path)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return map[string]int{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header %s: %w", path, err)
	}
	return HeaderIndex(header), nil
}

// HeaderIndex maps trimmed column names to positions. A UTF-8 BOM on the
// first column is dropped; the first occurrence of a duplicate name wins.
func HeaderIndex(header []string) map[string]int {
	index := make(map[string]int, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		h = strings.TrimSpace(h)
		if _, dup := index[h]; !dup {
			index[h] = i
		}
	}
	return index
}

// ListCSV returns the .csv files directly under dir, sorted by name.
// Files ending in _sample.csv are skipped.
func ListCSV(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.EqualFold(filepath.Ext(name), ".csv") {
			continue
		}
		if strings.HasSuffix(strings.ToLower(name), "_sample.csv") {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return files, nil
}

// ParseFloat parses a trimmed numeric string. Empty, unparseable and
// non-finite values report false.
func ParseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// FormatFloat renders v with the shortest exact representation.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// FormatFixed renders v with 6 decimals; NaN and infinities render as "-".
func FormatFixed(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "-"
	}
	return fmt.Sprintf("%.6f", v)
}

// FormatInt renders a count.
func FormatInt(n int) string {
	return strconv.Itoa(n)
}

// FormatBool renders a flag as True/False.
func FormatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
