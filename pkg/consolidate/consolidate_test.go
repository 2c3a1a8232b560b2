package consolidate

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Sternrassler/wdqs-harvester/pkg/checkpoint"
	"github.com/Sternrassler/wdqs-harvester/pkg/record"
)

func TestYear(t *testing.T) {
	tests := []struct {
		value  string
		year   int
		wantOK bool
	}{
		{value: "1850-03-14T00:00:00Z", year: 1850, wantOK: true},
		{value: "1850-00-00T00:00:00Z", year: 1850, wantOK: true},
		{value: "1901-12-31", year: 1901, wantOK: true},
		{value: "1777", year: 1777, wantOK: true},
		{value: " 1810-01-01T00:00:00Z ", year: 1810, wantOK: true},
		{value: "", wantOK: false},
		{value: "-0500-01-01T00:00:00Z", wantOK: false},
		{value: "unknown", wantOK: false},
		{value: "http://www.wikidata.org/.well-known/genid/abc", wantOK: false},
		{value: "18500", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			year, ok := Year(tt.value)
			if ok != tt.wantOK || (ok && year != tt.year) {
				t.Errorf("Year(%q) = %d, %v, want %d, %v", tt.value, year, ok, tt.year, tt.wantOK)
			}
		})
	}
}

func writePartition(t *testing.T, store *checkpoint.Store, id, content string) {
	t.Helper()
	if err := os.WriteFile(store.Path(id), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestConsolidator(t *testing.T, lower, upper int) (*Consolidator, *checkpoint.Store, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := checkpoint.NewStore(filepath.Join(dir, "raw"), record.DefaultSchema)
	if err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig()
	cfg.Lower, cfg.Upper = lower, upper
	cfg.OutputPath = filepath.Join(dir, "processed", "scholars.csv")

	c, err := New(store, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c, store, cfg.OutputPath
}

func readOutput(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestConsolidate_TemporalFilter(t *testing.T) {
	c, store, out := newTestConsolidator(t, 1800, 1900)
	writePartition(t, store, "P1", "person_id,birth,death\nQ1,1810-01-01T00:00:00Z,1870-01-01T00:00:00Z\n")
	writePartition(t, store, "P2", "person_id,birth,death\nQ2,1950-01-01T00:00:00Z,1999-01-01T00:00:00Z\n")

	sum, err := c.Consolidate(context.Background(), []string{"P1", "P2"})
	if err != nil {
		t.Fatalf("Consolidate() error = %v", err)
	}
	if sum.Kept != 1 || sum.Dropped != 1 || sum.Partitions != 2 {
		t.Errorf("summary = %+v, want 1 kept, 1 dropped from 2 partitions", sum)
	}

	lines := readOutput(t, out)
	if len(lines) != 2 || !strings.HasPrefix(lines[1], "Q1,") {
		t.Errorf("output = %v, want only P1's row", lines)
	}
}

func TestConsolidate_AbsentOrUnparseableDeathKept(t *testing.T) {
	c, store, out := newTestConsolidator(t, 1800, 1900)
	writePartition(t, store, "P1", "person_id,birth,death\n"+
		"Q1,1950-01-01T00:00:00Z,\n"+
		"Q2,1400-01-01T00:00:00Z,sometime\n"+
		"Q3,,\n"+
		"Q4,,1850-01-01T00:00:00Z\n")

	sum, err := c.Consolidate(context.Background(), []string{"P1"})
	if err != nil {
		t.Fatalf("Consolidate() error = %v", err)
	}
	if sum.Kept != 3 || sum.Dropped != 1 {
		t.Errorf("summary = %+v, want Q1-Q3 kept and Q4 dropped", sum)
	}

	lines := readOutput(t, out)
	for _, l := range lines[1:] {
		if strings.HasPrefix(l, "Q4,") {
			t.Error("record with death but no parseable birth should be dropped")
		}
	}
}

func TestConsolidate_BoundsInclusive(t *testing.T) {
	c, _, _ := newTestConsolidator(t, 1800, 1901)

	rec := func(birth, death string) record.Record {
		return record.Record{Fields: []record.Field{{Name: "birth", Value: birth}, {Name: "death", Value: death}}}
	}
	tests := []struct {
		name string
		rec  record.Record
		keep bool
	}{
		{name: "born on upper bound", rec: rec("1901-06-01", "1950-01-01"), keep: true},
		{name: "born after upper bound", rec: rec("1902-01-01", "1950-01-01"), keep: false},
		{name: "died on lower bound", rec: rec("1720-01-01", "1800-12-31"), keep: true},
		{name: "died before lower bound", rec: rec("1720-01-01", "1799-12-31"), keep: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Keep(tt.rec); got != tt.keep {
				t.Errorf("Keep() = %v, want %v", got, tt.keep)
			}
		})
	}
}

func TestConsolidate_HeaderOnlyExcluded(t *testing.T) {
	c, store, out := newTestConsolidator(t, 1800, 1900)
	writePartition(t, store, "P1", "person_id,birth,death\n")
	writePartition(t, store, "P2", "person_id,birth,death\nQ2,1850-01-01,\n")

	sum, err := c.Consolidate(context.Background(), []string{"P1", "P2", "missing"})
	if err != nil {
		t.Fatalf("Consolidate() error = %v", err)
	}
	if sum.Partitions != 1 || sum.Empty != 2 {
		t.Errorf("summary = %+v, want 1 partition merged and 2 empty", sum)
	}
	if lines := readOutput(t, out); len(lines) != 2 {
		t.Errorf("output = %v", lines)
	}
}

func TestConsolidate_DropsStrayColumn(t *testing.T) {
	c, store, out := newTestConsolidator(t, 1800, 1900)
	writePartition(t, store, "P1", "person_id,Field,birth,death\nQ1,junk,1850-01-01,1890-01-01\n")
	writePartition(t, store, "P2", "person_id,birth,death,occ_id\nQ2,1850-01-01,1890-01-01,P2\n")

	sum, err := c.Consolidate(context.Background(), []string{"P1", "P2"})
	if err != nil {
		t.Fatalf("Consolidate() error = %v", err)
	}
	if strings.Join(sum.Columns, ",") != "person_id,birth,death,occ_id" {
		t.Errorf("columns = %v", sum.Columns)
	}

	lines := readOutput(t, out)
	want := []string{
		"person_id,birth,death,occ_id",
		"Q1,1850-01-01,1890-01-01,",
		"Q2,1850-01-01,1890-01-01,P2",
	}
	if strings.Join(lines, "\n") != strings.Join(want, "\n") {
		t.Errorf("output =\n%s\nwant\n%s", strings.Join(lines, "\n"), strings.Join(want, "\n"))
	}
}

func TestConsolidate_TruncatedTrailingRow(t *testing.T) {
	c, store, out := newTestConsolidator(t, 1800, 1900)
	writePartition(t, store, "P1", "person_id,label_en,birth,death\nQ1,Ada,1850-01-01,1890-01-01\nQ2,\"Smith, Jo")
	writePartition(t, store, "P2", "person_id,label_en,birth,death\nQ3,Bob,1850-01-01,1890-01-01\n")

	if !store.HasData("P1") {
		t.Fatal("HasData() = false for file with a complete row")
	}

	sum, err := c.Consolidate(context.Background(), []string{"P1", "P2"})
	if err != nil {
		t.Fatalf("Consolidate() error = %v", err)
	}
	if sum.Partitions != 2 || sum.Kept != 2 || sum.Truncated != 1 {
		t.Errorf("summary = %+v, want 2 partitions, 2 kept, 1 truncated", sum)
	}

	lines := readOutput(t, out)
	want := []string{
		"person_id,label_en,birth,death",
		"Q1,Ada,1850-01-01,1890-01-01",
		"Q3,Bob,1850-01-01,1890-01-01",
	}
	if strings.Join(lines, "\n") != strings.Join(want, "\n") {
		t.Errorf("output =\n%s\nwant\n%s", strings.Join(lines, "\n"), strings.Join(want, "\n"))
	}
}

func TestConsolidate_MalformedMiddleRowFails(t *testing.T) {
	c, store, out := newTestConsolidator(t, 1800, 1900)
	writePartition(t, store, "P1", "person_id,label_en\nQ1,Ada\nQ2,bad\"quote\nQ3,Bob\n")

	if _, err := c.Consolidate(context.Background(), []string{"P1"}); err == nil {
		t.Fatal("expected error for malformed row before end of file")
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("failed consolidation must not leave an output file")
	}
}

func TestConsolidate_NoDataUsesSchema(t *testing.T) {
	c, store, out := newTestConsolidator(t, 1800, 1900)
	writePartition(t, store, "P1", "person_id,birth,death\n")

	sum, err := c.Consolidate(context.Background(), []string{"P1", "missing"})
	if err != nil {
		t.Fatalf("Consolidate() error = %v", err)
	}
	want := strings.Join(record.DefaultSchema, ",")
	if got := strings.Join(sum.Columns, ","); got != want {
		t.Errorf("columns = %q, want %q", got, want)
	}
	if lines := readOutput(t, out); len(lines) != 1 || lines[0] != want {
		t.Errorf("output = %q, want header %q", lines, want)
	}
}

func TestConsolidate_NoCrossPartitionDedup(t *testing.T) {
	c, store, _ := newTestConsolidator(t, 1800, 1900)
	writePartition(t, store, "P1", "person_id,birth,death\nQ1,1850-01-01,1890-01-01\n")
	writePartition(t, store, "P2", "person_id,birth,death\nQ1,1850-01-01,1890-01-01\n")

	sum, err := c.Consolidate(context.Background(), []string{"P1", "P2"})
	if err != nil {
		t.Fatalf("Consolidate() error = %v", err)
	}
	if sum.Kept != 2 {
		t.Errorf("kept = %d, want 2 (one per partition)", sum.Kept)
	}
}

func TestConsolidate_Cancelled(t *testing.T) {
	c, store, out := newTestConsolidator(t, 1800, 1900)
	writePartition(t, store, "P1", "person_id,birth,death\nQ1,1850-01-01,1890-01-01\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Consolidate(ctx, []string{"P1"}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("cancelled consolidation must not leave an output file")
	}
}

func TestNew_Validation(t *testing.T) {
	store, err := checkpoint.NewStore(t.TempDir(), record.DefaultSchema)
	if err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig()
	cfg.Lower, cfg.Upper = 1900, 1800
	if _, err := New(store, cfg); err == nil {
		t.Error("expected error for inverted bounds")
	}
	if _, err := New(nil, DefaultConfig()); err == nil {
		t.Error("expected error for nil store")
	}
}
