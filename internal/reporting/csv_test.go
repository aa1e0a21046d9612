package reporting

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestWriter_AtomicRename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "result.csv")

	w, err := CreateCSV(path, []string{"a", "b"})
	if err != nil {
		t.Fatalf("CreateCSV failed: %v", err)
	}
	if Exists(path) {
		t.Fatal("final file must not exist before Close")
	}
	if err := w.Write([]string{"1", "x,y"}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	w.Abort()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "a,b\n1,\"x,y\"\n" {
		t.Errorf("unexpected content %q", string(data))
	}
	if w.Rows() != 1 {
		t.Errorf("expected 1 row, got %d", w.Rows())
	}
}

func TestWriter_RemovesPreviousOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "result.csv")
	if err := os.WriteFile(path, []byte("stale\n"), 0644); err != nil {
		t.Fatal(err)
	}

	w, err := CreateCSV(path, []string{"a"})
	if err != nil {
		t.Fatalf("CreateCSV failed: %v", err)
	}
	if Exists(path) {
		t.Error("expected stale output removed on create")
	}
	w.Abort()
	if Exists(path) || Exists(path+".tmp") {
		t.Error("expected nothing left after Abort")
	}
}

func TestScanCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.csv")
	content := "\ufeffcountry, platform ,value\nPH,SHP, 1.5 \nVN,LAZ,abc\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	var countries []string
	var values []float64
	err := ScanCSV(path, []string{"country", "platform"}, func(r Row) error {
		countries = append(countries, r.Get("country"))
		if v, ok := r.Float("value"); ok {
			values = append(values, v)
		}
		if r.Get("missing") != "" || r.Has("missing") {
			t.Error("expected empty value for unknown column")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ScanCSV failed: %v", err)
	}
	if len(countries) != 2 || countries[0] != "PH" {
		t.Errorf("unexpected countries %v", countries)
	}
	if len(values) != 1 || values[0] != 1.5 {
		t.Errorf("unexpected values %v", values)
	}
}

func TestScanCSV_Errors(t *testing.T) {
	dir := t.TempDir()

	err := ScanCSV(filepath.Join(dir, "nope.csv"), nil, func(Row) error { return nil })
	if !errors.Is(err, ErrOutputMissing) {
		t.Errorf("expected ErrOutputMissing, got %v", err)
	}

	path := filepath.Join(dir, "in.csv")
	if err := os.WriteFile(path, []byte("country\nPH\n"), 0644); err != nil {
		t.Fatal(err)
	}
	err = ScanCSV(path, []string{"country", "platform", "month"}, func(Row) error { return nil })
	var mce *MissingColumnsError
	if !errors.As(err, &mce) {
		t.Fatalf("expected MissingColumnsError, got %v", err)
	}
	if len(mce.Columns) != 2 || mce.Columns[0] != "platform" {
		t.Errorf("unexpected missing columns %v", mce.Columns)
	}
}

func TestReadHeader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scope.csv")
	if err := os.WriteFile(path, []byte("\ufeffseller_used_id, note\ns1,x\n"), 0644); err != nil {
		t.Fatal(err)
	}
	index, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("ReadHeader failed: %v", err)
	}
	if i, ok := index["seller_used_id"]; !ok || i != 0 {
		t.Errorf("seller_used_id index = %d, %v", i, ok)
	}
	if _, ok := index["note"]; !ok {
		t.Error("expected trimmed note column")
	}

	if _, err := ReadHeader(filepath.Join(dir, "absent.csv")); !errors.Is(err, ErrOutputMissing) {
		t.Errorf("expected ErrOutputMissing, got %v", err)
	}

	empty := filepath.Join(dir, "empty.csv")
	if err := os.WriteFile(empty, nil, 0644); err != nil {
		t.Fatal(err)
	}
	index, err = ReadHeader(empty)
	if err != nil || len(index) != 0 {
		t.Errorf("empty file: index=%v err=%v", index, err)
	}
}

func TestListCSV(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.csv", "a.CSV", "c_sample.csv", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x\n"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	files, err := ListCSV(dir)
	if err != nil {
		t.Fatalf("ListCSV failed: %v", err)
	}
	if len(files) != 2 || filepath.Base(files[0]) != "a.CSV" || filepath.Base(files[1]) != "b.csv" {
		t.Errorf("unexpected files %v", files)
	}
}

func TestParseAndFormat(t *testing.T) {
	if _, ok := ParseFloat("NaN"); ok {
		t.Error("NaN must not parse")
	}
	if _, ok := ParseFloat(""); ok {
		t.Error("empty must not parse")
	}
	if v, ok := ParseFloat(" 3.25 "); !ok || v != 3.25 {
		t.Errorf("expected 3.25, got %v", v)
	}
	if FormatFloat(3) != "3" || FormatFloat(0.5) != "0.5" {
		t.Error("unexpected FormatFloat output")
	}
	if FormatFixed(math.NaN()) != "-" || FormatFixed(0.25) != "0.250000" {
		t.Error("unexpected FormatFixed output")
	}
	if FormatBool(true) != "True" || FormatBool(false) != "False" {
		t.Error("unexpected FormatBool output")
	}
}
