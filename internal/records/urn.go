package records

import (
	"strings"

	"github.com/google/uuid"

	"github.com/kyleking/rafs-ddms/internal/errors"
)

const urnScheme = "urn://"

// DatasetURN locates a bulk dataset attached to a record:
// urn://{ddms_id}-{api_version}/{entity_type}/{record_id}/{dataset_id}
type DatasetURN struct {
	DDMSID     string
	APIVersion string
	EntityType string
	RecordID   string
	DatasetID  string
}

// NewDatasetURN creates a URN for a freshly generated dataset id
func NewDatasetURN(ddmsID, apiVersion, entityType, recordID string) DatasetURN {
	return DatasetURN{
		DDMSID:     ddmsID,
		APIVersion: apiVersion,
		EntityType: entityType,
		RecordID:   recordID,
		DatasetID:  uuid.NewString(),
	}
}

func (u DatasetURN) String() string {
	return urnScheme + u.DDMSID + "-" + u.APIVersion + "/" + u.EntityType + "/" + u.RecordID + "/" + u.DatasetID
}

// ObjectKey is where the dataset payload is kept in the blob store
func (u DatasetURN) ObjectKey() string {
	return u.EntityType + "/" + u.DatasetID
}

// ParseDatasetURN parses a dataset URN
func ParseDatasetURN(s string) (DatasetURN, error) {
	rest, ok := strings.CutPrefix(s, urnScheme)
	if !ok {
		return DatasetURN{}, errors.Newf(errors.ErrTypeBadRequest, "Invalid dataset URN '%s'", s)
	}

	parts := strings.Split(rest, "/")
	if len(parts) != 4 {
		return DatasetURN{}, errors.Newf(errors.ErrTypeBadRequest, "Invalid dataset URN '%s'", s)
	}

	sep := strings.LastIndex(parts[0], "-")
	if sep <= 0 || sep == len(parts[0])-1 {
		return DatasetURN{}, errors.Newf(errors.ErrTypeBadRequest, "Invalid dataset URN '%s'", s)
	}

	for _, p := range parts[1:] {
		if p == "" {
			return DatasetURN{}, errors.Newf(errors.ErrTypeBadRequest, "Invalid dataset URN '%s'", s)
		}
	}

	return DatasetURN{
		DDMSID:     parts[0][:sep],
		APIVersion: parts[0][sep+1:],
		EntityType: parts[1],
		RecordID:   parts[2],
		DatasetID:  parts[3],
	}, nil
}

// FindDataset returns the URN among urns whose dataset id or entity type
// matches name
func FindDataset(urns []string, name string) (DatasetURN, bool) {
	for _, s := range urns {
		u, err := ParseDatasetURN(s)
		if err != nil {
			continue
		}

		if u.DatasetID == name || u.EntityType == name || strings.HasSuffix(s, "/"+name) {
			return u, true
		}
	}

	return DatasetURN{}, false
}
