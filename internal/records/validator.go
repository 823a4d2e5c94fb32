package records

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/kyleking/rafs-ddms/internal/errors"
	"github.com/kyleking/rafs-ddms/internal/schema"
)

// SkippedRecord describes a record rejected by schema validation
type SkippedRecord struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

// SkippedRecordsError carries every record that failed validation
type SkippedRecordsError struct {
	Skipped []SkippedRecord
}

func (e *SkippedRecordsError) Error() string {
	parts := make([]string, len(e.Skipped))
	for i, s := range e.Skipped {
		parts[i] = fmt.Sprintf("%s (%s): %s", s.ID, s.Kind, s.Reason)
	}

	return strings.Join(parts, "; ")
}

// Validator checks records against the JSON Schema of their kind. Schemas
// come from a schema provider keyed by entity type name and version, and are
// compiled once.
type Validator struct {
	provider schema.Provider

	mu       sync.Mutex
	compiled map[string]*gojsonschema.Schema
}

// NewValidator creates a validator resolving schemas through provider
func NewValidator(provider schema.Provider) *Validator {
	return &Validator{provider: provider, compiled: make(map[string]*gojsonschema.Schema)}
}

// Validate checks every record. An unsupported kind fails immediately;
// schema violations are collected and reported together.
func (v *Validator) Validate(recs []*Record, validKinds []string) error {
	for _, rec := range recs {
		if !slices.Contains(validKinds, rec.Kind) {
			return errors.Newf(errors.ErrTypeRecordValidation,
				"Kind `%s` not supported. Supported kinds for this endpoint: %s", rec.Kind, FormatList(validKinds))
		}
	}

	var skipped []SkippedRecord

	for i, rec := range recs {
		if reason := v.violations(rec); reason != "" {
			id := rec.ID
			if id == "" {
				id = fmt.Sprintf("record_at_index_%d", i)
			}

			skipped = append(skipped, SkippedRecord{ID: id, Kind: rec.Kind, Reason: reason})
		}
	}

	if len(skipped) > 0 {
		return errors.Wrap(&SkippedRecordsError{Skipped: skipped}, errors.ErrTypeRecordValidation,
			"Validation failed. Skipped records")
	}

	return nil
}

// violations returns a description of everything wrong with rec, or ""
func (v *Validator) violations(rec *Record) string {
	compiled, err := v.schemaFor(rec.Kind)
	if err != nil {
		return err.Error()
	}

	result, err := compiled.Validate(gojsonschema.NewGoLoader(rec))
	if err != nil {
		return err.Error()
	}

	if result.Valid() {
		return ""
	}

	reasons := make([]string, len(result.Errors()))
	for i, re := range result.Errors() {
		reasons[i] = re.String()
	}

	return strings.Join(reasons, "; ")
}

func (v *Validator) schemaFor(kind string) (*gojsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if s, ok := v.compiled[kind]; ok {
		return s, nil
	}

	k, err := ParseKind(kind)
	if err != nil {
		return nil, err
	}

	doc, err := v.provider.Get(k.TypeName(), k.Version)
	if err != nil {
		return nil, err
	}

	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(doc.Document()))
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrTypeConfig, "invalid JSON schema for %s", kind)
	}

	v.compiled[kind] = s

	return s, nil
}
