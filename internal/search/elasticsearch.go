package search

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/goccy/go-json"

	"github.com/kyleking/rafs-ddms/internal/config"
	"github.com/kyleking/rafs-ddms/internal/errors"
)

// ElasticsearchBackend searches the record index of an Elasticsearch cluster
type ElasticsearchBackend struct {
	client *elasticsearch.Client
	index  string
}

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []struct {
			ID     string                 `json:"_id"`
			Source map[string]interface{} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// NewElasticsearchBackend creates a backend from the search configuration
func NewElasticsearchBackend(cfg config.SearchConfig) (*ElasticsearchBackend, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: &http.Transport{
			MaxIdleConnsPerHost:   10,
			ResponseHeaderTimeout: config.Duration(cfg.Timeout, 30*time.Second),
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeConfig, "failed to create elasticsearch client")
	}

	return NewElasticsearchBackendWithClient(client, cfg.Index), nil
}

// NewElasticsearchBackendWithClient wraps an existing client
func NewElasticsearchBackendWithClient(client *elasticsearch.Client, index string) *ElasticsearchBackend {
	return &ElasticsearchBackend{client: client, index: index}
}

// FindRecords runs query as a query_string search. An empty query matches
// every record.
func (b *ElasticsearchBackend) FindRecords(ctx context.Context, query string, offset, limit int) (*Result, error) {
	q := map[string]interface{}{"match_all": map[string]interface{}{}}
	if query != "" {
		q = map[string]interface{}{"query_string": map[string]interface{}{"query": query}}
	}

	body, err := json.Marshal(map[string]interface{}{"query": q})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeInternal, "failed to marshal search body")
	}

	es := b.client
	res, err := es.Search(
		es.Search.WithContext(ctx),
		es.Search.WithIndex(b.index),
		es.Search.WithBody(bytes.NewReader(body)),
		es.Search.WithFrom(offset),
		es.Search.WithSize(limit),
		es.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeNetwork, "failed to execute search")
	}
	defer res.Body.Close()

	if res.IsError() {
		detail, _ := io.ReadAll(res.Body)
		return nil, errors.Newf(errors.ErrTypeNetwork, "search error: %s: %s", res.Status(), bytes.TrimSpace(detail))
	}

	var decoded searchResponse
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeNetwork, "failed to decode search result")
	}

	result := &Result{Total: decoded.Hits.Total.Value, Hits: make([]map[string]interface{}, 0, len(decoded.Hits.Hits))}

	for _, hit := range decoded.Hits.Hits {
		source := hit.Source
		if source == nil {
			source = make(map[string]interface{})
		}

		if _, ok := source["id"]; !ok {
			source["id"] = hit.ID
		}

		result.Hits = append(result.Hits, source)
	}

	return result, nil
}
