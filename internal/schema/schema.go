// Package schema describes the structured records an extraction produces
// and checks extracted values against that description.
package schema

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Field is one named, typed slot in an extraction schema.
type Field struct {
	Name        string `json:"name"`
	Kind        Kind   `json:"kind"`
	Description string `json:"description,omitempty"`
}

// Schema is a validated, immutable extraction schema. NameField holds the
// product name matched against the query; SourceField holds the page URL
// used for legitimacy checks.
type Schema struct {
	fields      []Field
	nameField   string
	sourceField string
}

// Violation is one schema failure on one record.
type Violation struct {
	Field  string
	Reason string // "missing" or "wrong_type"
}

func (v Violation) String() string {
	return v.Field + ": " + v.Reason
}

// New validates fields and builds a Schema. nameField must be a required
// string; sourceField, when set, must be a URL field.
func New(nameField, sourceField string, fields ...Field) (*Schema, error) {
	if len(fields) == 0 {
		return nil, eris.New("schema: no fields")
	}
	seen := make(map[string]Kind, len(fields))
	for _, f := range fields {
		if strings.TrimSpace(f.Name) == "" {
			return nil, eris.New("schema: field with empty name")
		}
		if f.Kind == KindInvalid || f.Kind.String() == "invalid" {
			return nil, eris.Errorf("schema: field %q has no kind", f.Name)
		}
		if _, dup := seen[f.Name]; dup {
			return nil, eris.Errorf("schema: duplicate field %q", f.Name)
		}
		seen[f.Name] = f.Kind
	}
	if k, ok := seen[nameField]; !ok || k != RequiredString {
		return nil, eris.Errorf("schema: name field %q must be a required string", nameField)
	}
	if sourceField != "" {
		if k, ok := seen[sourceField]; !ok || (k != RequiredURL && k != OptionalURL) {
			return nil, eris.Errorf("schema: source field %q must be a url", sourceField)
		}
	}
	return &Schema{
		fields:      slices.Clone(fields),
		nameField:   nameField,
		sourceField: sourceField,
	}, nil
}

// Default returns the product schema: name, price, url, retailer and
// availability.
func Default() *Schema {
	s, err := New("product_name", "url",
		Field{Name: "product_name", Kind: RequiredString, Description: "Full product name as listed on the page"},
		Field{Name: "price", Kind: RequiredPrice, Description: "Current selling price including currency symbol"},
		Field{Name: "url", Kind: RequiredURL, Description: "Canonical URL of the product page"},
		Field{Name: "retailer", Kind: OptionalString, Description: "Retailer or store name"},
		Field{Name: "availability", Kind: OptionalString, Description: "Stock status, e.g. in stock or out of stock"},
	)
	if err != nil {
		panic(err)
	}
	return s
}

// Fields returns a copy of the schema fields in declaration order.
func (s *Schema) Fields() []Field { return slices.Clone(s.fields) }

// NameField returns the field compared against the query.
func (s *Schema) NameField() string { return s.nameField }

// SourceField returns the field holding the record's page URL, or "".
func (s *Schema) SourceField() string { return s.sourceField }

// Check returns every violation in fields, in schema order. An empty result
// means the record is schema-valid.
func (s *Schema) Check(fields map[string]any) []Violation {
	var out []Violation
	for _, f := range s.fields {
		v, present := fields[f.Name]
		if IsMissing(v, present) {
			if f.Kind.Required() {
				out = append(out, Violation{Field: f.Name, Reason: "missing"})
			}
			continue
		}
		if !f.Kind.Accepts(v) {
			out = append(out, Violation{Field: f.Name, Reason: "wrong_type"})
		}
	}
	return out
}

// JSONSchema renders the schema as a JSON Schema object wrapping a
// "records" array, the shape extractors are asked to return.
func (s *Schema) JSONSchema() map[string]any {
	props := make(map[string]any, len(s.fields))
	var required []string
	for _, f := range s.fields {
		p := map[string]any{"type": f.Kind.jsonType()}
		if f.Description != "" {
			p["description"] = f.Description
		}
		props[f.Name] = p
		if f.Kind.Required() {
			required = append(required, f.Name)
		}
	}
	item := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		item["required"] = required
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"records": map[string]any{"type": "array", "items": item},
		},
		"required": []string{"records"},
	}
}

// Describe renders a short human-readable field list for instructions.
func (s *Schema) Describe() string {
	var b strings.Builder
	for i, f := range s.fields {
		if i > 0 {
			b.WriteString("; ")
		}
		req := "optional"
		if f.Kind.Required() {
			req = "required"
		}
		fmt.Fprintf(&b, "%s (%s, %s)", f.Name, strings.TrimSuffix(f.Kind.String(), "?"), req)
		if f.Description != "" {
			b.WriteString(": " + f.Description)
		}
	}
	return b.String()
}

type fileSchema struct {
	NameField   string      `yaml:"name_field"`
	SourceField string      `yaml:"source_field"`
	Fields      []fileField `yaml:"fields"`
}

type fileField struct {
	Name        string `yaml:"name"`
	Kind        string `yaml:"kind"`
	Description string `yaml:"description"`
}

// Parse builds a Schema from YAML. The document has a top-level "schema"
// key.
func Parse(data []byte) (*Schema, error) {
	var wrapper struct {
		Schema fileSchema `yaml:"schema"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "schema: parse")
	}
	fs := wrapper.Schema
	fields := make([]Field, 0, len(fs.Fields))
	for _, ff := range fs.Fields {
		k, err := ParseKind(ff.Kind)
		if err != nil {
			return nil, eris.Wrapf(err, "schema: field %q", ff.Name)
		}
		fields = append(fields, Field{Name: ff.Name, Kind: k, Description: ff.Description})
	}
	return New(fs.NameField, fs.SourceField, fields...)
}

// Load reads and parses a schema file. An empty path yields Default.
func Load(path string) (*Schema, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "schema: read %s", path)
	}
	return Parse(data)
}
