package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/kyleking/rafs-ddms/internal/errors"
)

var (
	semverPattern        = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
	acceptVersionPattern = regexp.MustCompile(`version=(\d+\.\d+\.\d+)`)
)

// Provider resolves the content schema of a record type
type Provider interface {
	Get(recordType, version string) (*Schema, error)
}

// Registry is an immutable record type to schema lookup built at startup
type Registry struct {
	schemas map[string]map[string]*Schema
}

var _ Provider = (*Registry)(nil)

// NewRegistry indexes the given schemas by record type and version
func NewRegistry(schemas ...*Schema) (*Registry, error) {
	r := &Registry{schemas: make(map[string]map[string]*Schema)}

	for _, s := range schemas {
		versions, ok := r.schemas[s.RecordType]
		if !ok {
			versions = make(map[string]*Schema)
			r.schemas[s.RecordType] = versions
		}

		if _, dup := versions[s.Version]; dup {
			return nil, errors.Newf(errors.ErrTypeConfig, "duplicate schema %s", s)
		}

		versions[s.Version] = s
	}

	return r, nil
}

// LoadRegistryDir builds a registry from files named <RecordType>.<MAJOR.MINOR.PATCH>.json
func LoadRegistryDir(dir string) (*Registry, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeConfig, "failed to list schema directory")
	}

	sort.Strings(paths)

	schemas := make([]*Schema, 0, len(paths))

	for _, path := range paths {
		recordType, version, ok := splitSchemaFileName(filepath.Base(path))
		if !ok {
			return nil, errors.Newf(errors.ErrTypeConfig,
				"schema file %s must be named <RecordType>.<MAJOR.MINOR.PATCH>.json", filepath.Base(path))
		}

		doc, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrTypeConfig, "failed to read schema %s", path)
		}

		s, err := Build(recordType, version, doc)
		if err != nil {
			return nil, err
		}

		schemas = append(schemas, s)
	}

	return NewRegistry(schemas...)
}

func splitSchemaFileName(name string) (string, string, bool) {
	base := strings.TrimSuffix(name, ".json")

	idx := strings.Index(base, ".")
	if idx <= 0 {
		return "", "", false
	}

	recordType, version := base[:idx], base[idx+1:]
	if !semverPattern.MatchString(version) {
		return "", "", false
	}

	return recordType, version, true
}

// Get returns the schema for a record type at a content version
func (r *Registry) Get(recordType, version string) (*Schema, error) {
	versions, ok := r.schemas[recordType]
	if !ok {
		return nil, errors.Newf(errors.ErrTypeNotFound, "Record type %s not supported. Supported types: %s",
			recordType, FormatSet(r.RecordTypes()))
	}

	s, ok := versions[version]
	if !ok {
		return nil, errors.Newf(errors.ErrTypeBadRequest, "Version %s not supported for %s. Supported versions: %s",
			version, recordType, FormatSet(r.Versions(recordType)))
	}

	return s, nil
}

// RecordTypes lists the registered record types, sorted
func (r *Registry) RecordTypes() []string {
	types := make([]string, 0, len(r.schemas))
	for t := range r.schemas {
		types = append(types, t)
	}

	sort.Strings(types)

	return types
}

// Versions lists the registered versions of a record type, sorted
func (r *Registry) Versions(recordType string) []string {
	versions := make([]string, 0, len(r.schemas[recordType]))
	for v := range r.schemas[recordType] {
		versions = append(versions, v)
	}

	sort.Strings(versions)

	return versions
}

// ParseAcceptVersion extracts the content schema version from an Accept
// header such as "*/*;version=1.0.0"
func ParseAcceptVersion(header string) (string, error) {
	m := acceptVersionPattern.FindStringSubmatch(header)
	if m == nil {
		return "", errors.New(errors.ErrTypeBadRequest,
			fmt.Sprintf("Content schema version is missing or invalid in Accept header %q. Example: '*/*;version=1.0.0'", header))
	}

	return m[1], nil
}
