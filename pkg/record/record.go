// Package record defines the harvested record type, the SPARQL binding terms
// it is built from, and the mapping between the two.
package record

import (
	"strings"
)

// Field is a single named value of a Record.
type Field struct {
	Name  string
	Value string
}

// Record is an ordered mapping of field name to string value.
// Absent values are represented as the empty string.
type Record struct {
	Fields []Field
}

// Get returns the value of the named field, or "" if the field is absent.
func (r Record) Get(name string) string {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}

// Set replaces the value of the named field, appending it if absent.
func (r *Record) Set(name, value string) {
	for i := range r.Fields {
		if r.Fields[i].Name == name {
			r.Fields[i].Value = value
			return
		}
	}
	r.Fields = append(r.Fields, Field{Name: name, Value: value})
}

// Names returns the field names in order.
func (r Record) Names() []string {
	names := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		names[i] = f.Name
	}
	return names
}

// FromRow builds a Record from a header and a row of the same width.
// Missing trailing cells are treated as empty.
func FromRow(header, row []string) Record {
	rec := Record{Fields: make([]Field, len(header))}
	for i, name := range header {
		var v string
		if i < len(row) {
			v = row[i]
		}
		rec.Fields[i] = Field{Name: name, Value: v}
	}
	return rec
}

// Schema is the ordered list of field names written as a CSV header.
type Schema []string

// DefaultSchema is the field list of the people-by-occupation harvest.
var DefaultSchema = Schema{
	"person_id",
	"label_en",
	"birth",
	"death",
	"gender",
	"nationality",
	"ethnicity",
	"religion",
	"movement",
	"notable_work",
	"occ_id",
	"occ_label",
}

// Row projects a record onto the schema, in schema order.
func (s Schema) Row(r Record) []string {
	row := make([]string, len(s))
	for i, name := range s {
		row[i] = r.Get(name)
	}
	return row
}

// Without returns a copy of the schema minus the given columns, matched
// case-insensitively by exact name.
func (s Schema) Without(drop []string) Schema {
	out := make(Schema, 0, len(s))
	for _, name := range s {
		if !containsFold(drop, name) {
			out = append(out, name)
		}
	}
	return out
}

func containsFold(list []string, name string) bool {
	for _, d := range list {
		if strings.EqualFold(d, name) {
			return true
		}
	}
	return false
}
