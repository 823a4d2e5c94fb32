package records

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kyleking/rafs-ddms/internal/errors"
	"github.com/kyleking/rafs-ddms/internal/logging"
)

const (
	// DefaultChunkSize is how many ids one store lookup carries
	DefaultChunkSize = 100

	maxConcurrentLookups = 4
)

// Querier looks records up by id
type Querier interface {
	QueryRecords(ctx context.Context, ids []string) (*QueryResult, error)
}

// IntegrityChecker verifies that records reference existing records
type IntegrityChecker struct {
	store     Querier
	chunkSize int
	walk      WalkOptions
}

// NewIntegrityChecker creates a checker querying store in chunks of chunkSize ids
func NewIntegrityChecker(store Querier, chunkSize int, walk WalkOptions) *IntegrityChecker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	return &IntegrityChecker{store: store, chunkSize: chunkSize, walk: walk}
}

// Check fails when a mandatory field holds no id, or when a referenced id
// is unknown to the store
func (c *IntegrityChecker) Check(ctx context.Context, recs []*Record, mandatory []string) error {
	if err := c.checkMandatory(recs, mandatory); err != nil {
		return err
	}

	ids := c.ReferencedIDs(recs)
	logging.FromContext(ctx).Debugf("checking %d referenced ids", len(ids))

	missing, err := c.missing(ctx, ids)
	if err != nil {
		return err
	}

	if len(missing) > 0 {
		return errors.Newf(errors.ErrTypeRecordValidation,
			"Request can't be processed due to missing referenced records. Records not found: %s",
			FormatList(missing))
	}

	return nil
}

func (c *IntegrityChecker) checkMandatory(recs []*Record, mandatory []string) error {
	var problems []string

	for i, rec := range recs {
		for _, field := range mandatory {
			found := false

			for range WalkIDs(rec.Data[field], c.walk) {
				found = true
				break
			}

			if !found {
				problems = append(problems, fmt.Sprintf("Missing %s in index %d", field, i))
			}
		}
	}

	if len(problems) > 0 {
		return errors.New(errors.ErrTypeRecordValidation, strings.Join(problems, "; "))
	}

	return nil
}

// ReferencedIDs returns the sorted, version-less ids the records point to,
// excluding the records' own ids
func (c *IntegrityChecker) ReferencedIDs(recs []*Record) []string {
	own := make(map[string]struct{}, len(recs))
	for _, rec := range recs {
		id, _, err := ParseIDVersion(rec.ID)
		if err != nil {
			id = rec.ID
		}

		own[id] = struct{}{}
	}

	ids := make(map[string]struct{})

	for _, rec := range recs {
		for ref := range WalkIDs(rec.Data, c.walk) {
			id, _, err := ParseIDVersion(strings.TrimSpace(ref))
			if err != nil || id == "" {
				continue
			}

			if _, self := own[id]; !self {
				ids[id] = struct{}{}
			}
		}
	}

	return sortedUnique(ids)
}

func (c *IntegrityChecker) missing(ctx context.Context, ids []string) ([]string, error) {
	var (
		mu      sync.Mutex
		missing []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentLookups)

	for start := 0; start < len(ids); start += c.chunkSize {
		chunk := ids[start:min(start+c.chunkSize, len(ids))]

		g.Go(func() error {
			result, err := c.store.QueryRecords(gctx, chunk)
			if err != nil {
				return errors.Wrap(err, errors.ErrTypeStorage, "failed to query referenced records")
			}

			mu.Lock()
			missing = append(missing, result.InvalidRecords...)
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Strings(missing)

	return missing, nil
}
