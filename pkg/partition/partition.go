// Package partition loads and enumerates the partitions of a harvest: the
// (id, label) pairs that each get their own paginated query and output file.
package partition

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Sternrassler/wdqs-harvester/pkg/query"
)

// Descriptor file columns.
const (
	ColumnID    = "occ_id"
	ColumnLabel = "occ_label"
)

// Partition is one independent unit of harvesting.
type Partition struct {
	ID    string
	Label string
}

// Dedupe drops partitions whose ID was already seen, keeping the first.
func Dedupe(parts []Partition) []Partition {
	seen := make(map[string]bool, len(parts))
	out := make([]Partition, 0, len(parts))
	for _, p := range parts {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		out = append(out, p)
	}
	return out
}

// LoadFile reads a descriptor file with columns occ_id,occ_label. A header
// row is optional. Rows with an empty or malformed ID are rejected and
// duplicate IDs are dropped.
func LoadFile(path string) ([]Partition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open partitions file: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Read parses descriptor CSV from r.
func Read(r io.Reader) ([]Partition, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var parts []Partition
	for line := 1; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read partitions line %d: %w", line, err)
		}
		if line == 1 && len(row) > 0 && strings.EqualFold(strings.TrimSpace(row[0]), ColumnID) {
			continue
		}

		id := strings.TrimSpace(row[0])
		if id == "" {
			return nil, fmt.Errorf("partitions line %d: empty %s", line, ColumnID)
		}
		if err := query.ValidatePartitionID(id); err != nil {
			return nil, fmt.Errorf("partitions line %d: %w", line, err)
		}
		p := Partition{ID: id}
		if len(row) > 1 {
			p.Label = strings.TrimSpace(row[1])
		}
		parts = append(parts, p)
	}
	return Dedupe(parts), nil
}

// WriteFile writes partitions as a descriptor file with a header row.
func WriteFile(path string, parts []Partition) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create partitions file: %w", err)
	}

	w := csv.NewWriter(f)
	_ = w.Write([]string{ColumnID, ColumnLabel})
	for _, p := range parts {
		_ = w.Write([]string{p.ID, p.Label})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("write partitions file: %w", err)
	}
	return f.Close()
}
