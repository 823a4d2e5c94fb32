package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/kyleking/rafs-ddms/internal/errors"
)

// FieldType is the declared JSON Schema type of a field
type FieldType string

const (
	Integer FieldType = "integer"
	Number  FieldType = "number"
	Boolean FieldType = "boolean"
	String  FieldType = "string"
	Object  FieldType = "object"
	Array   FieldType = "array"
	Unknown FieldType = ""
)

// Scalar reports whether values of the type can be compared and coerced
func (t FieldType) Scalar() bool {
	switch t {
	case Integer, Number, Boolean, String:
		return true
	default:
		return false
	}
}

// Field is a resolved schema field
type Field struct {
	Name       string
	Type       FieldType
	Properties map[string]*Field
	Items      *Field
}

// PropertyNames returns the nested field names, sorted
func (f *Field) PropertyNames() []string {
	return sortedKeys(f.Properties)
}

// nested returns the object properties reachable from f, looking through array items
func (f *Field) nested() map[string]*Field {
	if f == nil {
		return nil
	}

	if f.Type == Array && f.Items != nil {
		return f.Items.Properties
	}

	return f.Properties
}

// Schema is the resolved field map of one record type at one content version
type Schema struct {
	RecordType string
	Version    string

	fields      map[string]*Field
	definitions map[string]*Field
	document    []byte
}

// Segment is one step of a dotted field path
type Segment struct {
	Name  string
	Array bool
}

// Path is a resolved dotted field path
type Path []Segment

// String renders the path with array markers, e.g. "Results[].Value"
func (p Path) String() string {
	parts := make([]string, len(p))
	for i, seg := range p {
		parts[i] = seg.Name
		if seg.Array && i < len(p)-1 {
			parts[i] += "[]"
		}
	}

	return strings.Join(parts, ".")
}

// Dotted renders the path without array markers
func (p Path) Dotted() string {
	parts := make([]string, len(p))
	for i, seg := range p {
		parts[i] = seg.Name
	}

	return strings.Join(parts, ".")
}

// Build resolves a JSON Schema document into a Schema
func Build(recordType, version string, doc []byte) (*Schema, error) {
	var root map[string]interface{}
	if err := json.Unmarshal(doc, &root); err != nil {
		return nil, errors.Wrapf(err, errors.ErrTypeConfig, "failed to parse schema %s %s", recordType, version)
	}

	b := &builder{defs: make(map[string]map[string]interface{})}
	for _, key := range []string{"definitions", "$defs"} {
		if defs, ok := root[key].(map[string]interface{}); ok {
			for name, def := range defs {
				if m, ok := def.(map[string]interface{}); ok {
					b.defs[name] = m
				}
			}
		}
	}

	rootField := b.resolve("", root, nil)
	if rootField.Type != Object {
		return nil, errors.Newf(errors.ErrTypeConfig, "schema %s %s must describe an object", recordType, version)
	}

	s := &Schema{
		RecordType:  recordType,
		Version:     version,
		fields:      rootField.Properties,
		definitions: make(map[string]*Field, len(b.defs)),
		document:    append([]byte(nil), doc...),
	}

	if s.fields == nil {
		s.fields = make(map[string]*Field)
	}

	for name, def := range b.defs {
		s.definitions[name] = b.resolve(name, def, map[string]bool{name: true})
	}

	return s, nil
}

// Document returns the raw JSON Schema the schema was built from
func (s *Schema) Document() []byte {
	return s.document
}

// Columns returns the top-level column names, sorted
func (s *Schema) Columns() []string {
	return sortedKeys(s.fields)
}

// ColumnSet renders the valid columns for error messages
func (s *Schema) ColumnSet() string {
	return FormatSet(s.Columns())
}

// HasColumn reports whether column is a direct property
func (s *Schema) HasColumn(column string) bool {
	_, ok := s.fields[column]
	return ok
}

// Lookup finds a column among the direct properties, falling back to a
// definition of the same name
func (s *Schema) Lookup(column string) (*Field, bool) {
	if f, ok := s.fields[column]; ok {
		return f, true
	}

	for name, def := range s.definitions {
		if strings.EqualFold(name, column) {
			return def, true
		}
	}

	return nil, false
}

// FieldType returns the declared type of a column
func (s *Schema) FieldType(column string) (FieldType, error) {
	f, ok := s.Lookup(column)
	if !ok {
		return Unknown, errors.NewSchemaFieldNotFound("'%s' is not defined in the %s schema: %s",
			column, s.RecordType, s.ColumnSet())
	}

	return f.Type, nil
}

// NestedFieldType returns the declared type of a field nested under column
func (s *Schema) NestedFieldType(column, field string) (FieldType, error) {
	f, ok := s.Lookup(column)
	if !ok {
		return Unknown, errors.NewSchemaFieldNotFound("'%s' is not defined in the %s schema: %s",
			column, s.RecordType, s.ColumnSet())
	}

	props := f.nested()

	nested, ok := props[field]
	if !ok {
		return Unknown, errors.NewSchemaFieldNotFound("'%s' is not defined in the %s schema: %s",
			field, column, FormatSet(sortedKeys(props)))
	}

	return nested.Type, nil
}

// ResolvePath walks a dotted name of any depth and returns the segments and
// the type of the last one
func (s *Schema) ResolvePath(dotted string) (Path, FieldType, error) {
	names := strings.Split(dotted, ".")
	path := make(Path, 0, len(names))

	var current *Field

	for i, name := range names {
		var (
			next *Field
			ok   bool
		)

		if i == 0 {
			next, ok = s.Lookup(name)
		} else {
			next, ok = current.nested()[name]
		}

		if !ok {
			var valid []string
			if i == 0 {
				valid = s.Columns()
			} else {
				valid = sortedKeys(current.nested())
			}

			return nil, Unknown, errors.NewSchemaFieldNotFound("Wrong property name: %s. Reason: %s not in %s",
				dotted, name, FormatSet(valid))
		}

		path = append(path, Segment{Name: name, Array: next.Type == Array})
		current = next
	}

	return path, current.Type, nil
}

// FormatSet renders names as {a, b, c}
func FormatSet(names []string) string {
	return "{" + strings.Join(names, ", ") + "}"
}

func sortedKeys(m map[string]*Field) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

type builder struct {
	defs map[string]map[string]interface{}
}

// resolve converts a schema node into a Field. visiting holds the definitions
// on the current reference chain so cyclic references terminate.
func (b *builder) resolve(name string, node map[string]interface{}, visiting map[string]bool) *Field {
	node, visiting = b.flatten(node, visiting)

	f := &Field{Name: name, Type: nodeType(node)}

	if props, ok := node["properties"].(map[string]interface{}); ok {
		f.Properties = make(map[string]*Field, len(props))
		for propName, raw := range props {
			if child, ok := raw.(map[string]interface{}); ok {
				f.Properties[propName] = b.resolve(propName, child, visiting)
			}
		}

		if f.Type == Unknown {
			f.Type = Object
		}
	}

	if items, ok := node["items"].(map[string]interface{}); ok {
		f.Items = b.resolve(name, items, visiting)
		if f.Type == Unknown {
			f.Type = Array
		}
	}

	return f
}

// flatten follows $ref, merges allOf and picks the non-null branch of anyOf/oneOf
func (b *builder) flatten(node map[string]interface{}, visiting map[string]bool) (map[string]interface{}, map[string]bool) {
	if ref, ok := node["$ref"].(string); ok {
		defName := ref[strings.LastIndex(ref, "/")+1:]

		def, found := b.defs[defName]
		if !found || visiting[defName] {
			return map[string]interface{}{"type": string(Object)}, visiting
		}

		next := make(map[string]bool, len(visiting)+1)
		for k := range visiting {
			next[k] = true
		}

		next[defName] = true

		return b.flatten(def, next)
	}

	if all, ok := node["allOf"].([]interface{}); ok {
		merged := make(map[string]interface{})

		for _, k := range []string{"type", "properties", "items"} {
			if v, ok := node[k]; ok {
				merged[k] = v
			}
		}

		for _, part := range all {
			sub, ok := part.(map[string]interface{})
			if !ok {
				continue
			}

			flat, _ := b.flatten(sub, visiting)
			for k, v := range flat {
				if k == "properties" {
					merged[k] = mergeProperties(merged[k], v)
					continue
				}

				merged[k] = v
			}
		}

		return merged, visiting
	}

	for _, key := range []string{"anyOf", "oneOf"} {
		branches, ok := node[key].([]interface{})
		if !ok {
			continue
		}

		for _, part := range branches {
			sub, ok := part.(map[string]interface{})
			if !ok || sub["type"] == "null" {
				continue
			}

			return b.flatten(sub, visiting)
		}
	}

	return node, visiting
}

func mergeProperties(dst, src interface{}) map[string]interface{} {
	out := make(map[string]interface{})

	for _, v := range []interface{}{dst, src} {
		if m, ok := v.(map[string]interface{}); ok {
			for k, p := range m {
				out[k] = p
			}
		}
	}

	return out
}

func nodeType(node map[string]interface{}) FieldType {
	switch t := node["type"].(type) {
	case string:
		return FieldType(t)
	case []interface{}:
		for _, v := range t {
			if s, ok := v.(string); ok && s != "null" {
				return FieldType(s)
			}
		}
	}

	if enum, ok := node["enum"].([]interface{}); ok && len(enum) > 0 {
		if _, ok := enum[0].(string); ok {
			return String
		}
	}

	return Unknown
}

// String implements fmt.Stringer for log fields
func (s *Schema) String() string {
	return fmt.Sprintf("%s@%s", s.RecordType, s.Version)
}
