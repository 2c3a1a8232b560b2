// Package checkpoint persists harvested records as one CSV file per
// partition. A file holding a header and at least one data row marks the
// partition as done; later runs skip it and never rewrite it.
package checkpoint

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Sternrassler/wdqs-harvester/pkg/record"
)

const (
	// FilePrefix and FileExt frame the partition ID in file names.
	FilePrefix = "people_"
	FileExt    = ".csv"
)

// ErrInvalidID is returned for partition IDs that cannot name a file.
var ErrInvalidID = errors.New("invalid partition id for checkpoint")

// Store manages the per-partition files in one directory.
type Store struct {
	dir    string
	schema record.Schema
}

// NewStore creates a store rooted at dir, creating the directory if needed.
func NewStore(dir string, schema record.Schema) (*Store, error) {
	if len(schema) == 0 {
		return nil, fmt.Errorf("checkpoint schema is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &Store{dir: dir, schema: schema}, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string {
	return s.dir
}

// Schema returns the header written to new files.
func (s *Store) Schema() record.Schema {
	return s.schema
}

// Path returns the file path for a partition.
func (s *Store) Path(id string) string {
	return filepath.Join(s.dir, FilePrefix+id+FileExt)
}

// HasData reports whether the partition file exists and holds a header plus
// at least one data row. Unreadable or malformed files count as absent.
func (s *Store) HasData(id string) bool {
	if validateID(id) != nil {
		return false
	}
	f, err := os.Open(s.Path(id))
	if err != nil {
		return false
	}
	defer f.Close()

	r := newReader(f)
	if _, err := r.Read(); err != nil {
		return false
	}
	_, err = r.Read()
	return err == nil
}

// WithWriter truncates the partition file, writes the header and calls fn
// with a writer for the data rows. The file is closed on every exit path,
// including a panic in fn, so rows already written survive.
func (s *Store) WithWriter(id string, fn func(*Writer) error) (err error) {
	if err := validateID(id); err != nil {
		return err
	}

	f, err := os.Create(s.Path(id))
	if err != nil {
		return fmt.Errorf("create checkpoint file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close checkpoint file: %w", cerr)
		}
	}()

	w := &Writer{f: f, schema: s.schema}
	if err := w.writeRows([][]string{s.schema}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	return fn(w)
}

// IDs lists the partitions that have a file in the store, sorted.
func (s *Store) IDs() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, FilePrefix+"*"+FileExt))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		name := filepath.Base(m)
		ids = append(ids, strings.TrimSuffix(strings.TrimPrefix(name, FilePrefix), FileExt))
	}
	sort.Strings(ids)
	return ids, nil
}

// Writer appends records to an open partition file.
type Writer struct {
	f      *os.File
	schema record.Schema
	buf    bytes.Buffer
	rows   int
}

// Write appends records to the file. Each call renders its rows in memory
// and hands them to the file in a single write, so the file never ends
// inside a row that was already rendered.
func (w *Writer) Write(recs []record.Record) error {
	rows := make([][]string, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, w.schema.Row(rec))
	}
	if err := w.writeRows(rows); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	w.rows += len(recs)
	return nil
}

func (w *Writer) writeRows(rows [][]string) error {
	w.buf.Reset()
	cw := csv.NewWriter(&w.buf)
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	_, err := w.f.Write(w.buf.Bytes())
	return err
}

// Rows returns the number of data rows written.
func (w *Writer) Rows() int {
	return w.rows
}

// Reader streams records from a partition file.
type Reader struct {
	f      *os.File
	csv    *csv.Reader
	header []string
}

// Open opens a partition file and reads its header.
func (s *Store) Open(id string) (*Reader, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	f, err := os.Open(s.Path(id))
	if err != nil {
		return nil, fmt.Errorf("open checkpoint file: %w", err)
	}

	r := newReader(f)
	header, err := r.Read()
	if err != nil {
		f.Close()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("checkpoint file %s has no header", s.Path(id))
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	return &Reader{f: f, csv: r, header: header}, nil
}

// Header returns the column names of the file.
func (r *Reader) Header() []string {
	return r.header
}

// Next returns the next record, or io.EOF at the end of the file.
func (r *Reader) Next() (record.Record, error) {
	row, err := r.csv.Read()
	if err != nil {
		return record.Record{}, err
	}
	return record.FromRow(r.header, row), nil
}

// Close closes the file.
func (r *Reader) Close() error {
	return r.f.Close()
}

// ReadAll reads every record of a partition file.
func (s *Store) ReadAll(id string) ([]record.Record, error) {
	r, err := s.Open(id)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var recs []record.Record
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return recs, nil
		}
		if err != nil {
			return recs, fmt.Errorf("read row: %w", err)
		}
		recs = append(recs, rec)
	}
}

func newReader(rd io.Reader) *csv.Reader {
	r := csv.NewReader(rd)
	r.FieldsPerRecord = -1
	r.ReuseRecord = false
	return r
}

func validateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}
