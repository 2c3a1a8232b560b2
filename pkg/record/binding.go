package record

import "strings"

// Term is one RDF term of a SPARQL JSON result binding.
type Term struct {
	Type     string `json:"type"`
	Value    string `json:"value"`
	Lang     string `json:"xml:lang,omitempty"`
	Datatype string `json:"datatype,omitempty"`
}

// Binding maps SPARQL variable names to terms. Unbound variables are absent.
type Binding map[string]Term

// Value returns the value bound to variable, or "" if unbound.
func (b Binding) Value(variable string) string {
	return b[variable].Value
}

// LocalName returns the last path segment of the IRI bound to variable,
// e.g. "Q42" for "http://www.wikidata.org/entity/Q42".
func (b Binding) LocalName(variable string) string {
	return LocalName(b.Value(variable))
}

// LocalName returns the last "/"-separated segment of an IRI.
func LocalName(iri string) string {
	if i := strings.LastIndex(iri, "/"); i >= 0 {
		return iri[i+1:]
	}
	return iri
}

// Column maps one SPARQL variable onto one record field.
type Column struct {
	// Name is the record field name.
	Name string
	// Var is the SPARQL variable. Empty means the value comes from Fixed.
	Var string
	// Local takes the IRI's last path segment instead of the full value.
	Local bool
}

// Mapping converts bindings into records with a fixed field order.
type Mapping struct {
	Columns []Column
}

// Schema returns the field names produced by the mapping.
func (m Mapping) Schema() Schema {
	s := make(Schema, len(m.Columns))
	for i, c := range m.Columns {
		s[i] = c.Name
	}
	return s
}

// Map builds a record from a binding. Columns without a variable are filled
// from fixed, keyed by column name.
func (m Mapping) Map(b Binding, fixed map[string]string) Record {
	rec := Record{Fields: make([]Field, len(m.Columns))}
	for i, c := range m.Columns {
		var v string
		switch {
		case c.Var == "":
			v = fixed[c.Name]
		case c.Local:
			v = b.LocalName(c.Var)
		default:
			v = b.Value(c.Var)
		}
		rec.Fields[i] = Field{Name: c.Name, Value: v}
	}
	return rec
}

// PeopleMapping maps the people-by-occupation query onto DefaultSchema.
// occ_id and occ_label are supplied per partition.
var PeopleMapping = Mapping{Columns: []Column{
	{Name: "person_id", Var: "person", Local: true},
	{Name: "label_en", Var: "personLabel"},
	{Name: "birth", Var: "birth"},
	{Name: "death", Var: "death"},
	{Name: "gender", Var: "genderLabel"},
	{Name: "nationality", Var: "countryLabel"},
	{Name: "ethnicity", Var: "ethnicityLabel"},
	{Name: "religion", Var: "religionLabel"},
	{Name: "movement", Var: "movementLabel"},
	{Name: "notable_work", Var: "notableWorkLabel"},
	{Name: "occ_id"},
	{Name: "occ_label"},
}}
