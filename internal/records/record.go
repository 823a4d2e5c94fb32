// Package records models metadata records and the checks applied to them
// before they are stored.
package records

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/kyleking/rafs-ddms/internal/errors"
)

// DDMSDatasetsField lists the dataset URNs attached to a record
const DDMSDatasetsField = "DDMSDatasets"

// Record is a metadata record as stored by the record backend
type Record struct {
	ID      string                 `json:"id"`
	Kind    string                 `json:"kind"`
	Version int64                  `json:"version,omitempty"`
	ACL     map[string]interface{} `json:"acl,omitempty"`
	Legal   map[string]interface{} `json:"legal,omitempty"`
	Data    map[string]interface{} `json:"data"`
}

// DDMSDatasets returns the dataset URNs of the record
func (r *Record) DDMSDatasets() []string {
	var urns []string

	switch v := r.Data[DDMSDatasetsField].(type) {
	case []string:
		urns = append(urns, v...)
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok {
				urns = append(urns, s)
			}
		}
	}

	return urns
}

// AddDDMSDataset appends urn to the dataset list, replacing an existing URN
// of the same entity type
func (r *Record) AddDDMSDataset(urn DatasetURN) {
	if r.Data == nil {
		r.Data = make(map[string]interface{})
	}

	current := r.DDMSDatasets()
	out := make([]interface{}, 0, len(current)+1)

	for _, existing := range current {
		parsed, err := ParseDatasetURN(existing)
		if err == nil && parsed.EntityType == urn.EntityType {
			continue
		}

		out = append(out, existing)
	}

	r.Data[DDMSDatasetsField] = append(out, urn.String())
}

// QueryResult is the answer of a record lookup by ids
type QueryResult struct {
	Records        []*Record `json:"records"`
	InvalidRecords []string  `json:"invalidRecords"`
}

// Kind is a parsed "authority:source:entity-type:version" kind
type Kind struct {
	Authority  string
	Source     string
	EntityType string
	Version    string
}

// ParseKind splits a record kind
func ParseKind(kind string) (Kind, error) {
	parts := strings.Split(kind, ":")
	if len(parts) != 4 || slices.Contains(parts, "") {
		return Kind{}, errors.Newf(errors.ErrTypeRecordValidation,
			"Kind `%s` should have the form authority:source:entity-type:version", kind)
	}

	return Kind{Authority: parts[0], Source: parts[1], EntityType: parts[2], Version: parts[3]}, nil
}

// TypeName returns the entity type without its group prefix
// ("work-product-component--SamplesAnalysis" gives "SamplesAnalysis")
func (k Kind) TypeName() string {
	if i := strings.LastIndex(k.EntityType, "--"); i >= 0 {
		return k.EntityType[i+2:]
	}

	return k.EntityType
}

func (k Kind) String() string {
	return strings.Join([]string{k.Authority, k.Source, k.EntityType, k.Version}, ":")
}

// ParseIDVersion splits a full record id into the id and its numeric
// version. Ids have three colon separated parts; anything after them is the
// version. A version of 0 means none was given.
func ParseIDVersion(fullID string) (string, int64, error) {
	parts := strings.Split(fullID, ":")

	var id, version string

	switch {
	case len(parts) > 3:
		id = strings.Join(parts[:len(parts)-1], ":")
		version = parts[len(parts)-1]
	default:
		id = fullID
	}

	if version == "" {
		return id, 0, nil
	}

	n, err := strconv.ParseInt(version, 10, 64)
	if err != nil {
		return "", 0, errors.Newf(errors.ErrTypeUnprocessable, "Record id version '%s' should be numeric", version)
	}

	return id, n, nil
}

// FormatList renders ids the way validation messages show them: ['a', 'b']
func FormatList(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = fmt.Sprintf("'%s'", id)
	}

	return "[" + strings.Join(quoted, ", ") + "]"
}

func sortedUnique(values map[string]struct{}) []string {
	out := make([]string, 0, len(values))
	for v := range values {
		out = append(out, v)
	}

	sort.Strings(out)

	return out
}
