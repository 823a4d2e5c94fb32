package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/kyleking/rafs-ddms/internal/errors"
	"github.com/kyleking/rafs-ddms/internal/records"
	"github.com/kyleking/rafs-ddms/internal/search"
)

// MockBlobStore is an in-memory blob.Store with error injection
type MockBlobStore struct {
	mu sync.RWMutex

	payloads     map[string][]byte
	contentTypes map[string]string
	injector     *ErrorInjector
	callCounts   map[string]int
}

// BlobOption is a functional option for configuring MockBlobStore
type BlobOption func(*MockBlobStore)

// WithPayload stores a payload under id
func WithPayload(id string, payload []byte) BlobOption {
	return func(m *MockBlobStore) {
		m.payloads[id] = payload
	}
}

// WithBlobError makes every access to id fail with err
func WithBlobError(id string, err error) BlobOption {
	return func(m *MockBlobStore) {
		m.injector.InjectError(id, err)
	}
}

// NewMockBlobStore creates a new mock blob store with the given options
func NewMockBlobStore(opts ...BlobOption) *MockBlobStore {
	mock := &MockBlobStore{
		payloads:     make(map[string][]byte),
		contentTypes: make(map[string]string),
		injector:     NewErrorInjector(),
		callCounts:   make(map[string]int),
	}

	for _, opt := range opts {
		opt(mock)
	}

	return mock
}

// GetPayload returns the stored payload of id
func (m *MockBlobStore) GetPayload(_ context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	m.callCounts["GetPayload"]++
	m.mu.Unlock()

	if err := m.injector.ShouldError(id); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	payload, ok := m.payloads[id]
	if !ok {
		return nil, errors.Newf(errors.ErrTypeNotFound, "Dataset %s not found", id)
	}

	return payload, nil
}

// PutPayload stores a payload
func (m *MockBlobStore) PutPayload(_ context.Context, id string, data []byte, contentType string) error {
	m.mu.Lock()
	m.callCounts["PutPayload"]++
	m.mu.Unlock()

	if err := m.injector.ShouldError(id); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.payloads[id] = data
	m.contentTypes[id] = contentType

	return nil
}

// Keys lists the stored ids with their content types, as "id (type)"
func (m *MockBlobStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.payloads))
	for id := range m.payloads {
		keys = append(keys, fmt.Sprintf("%s (%s)", id, m.contentTypes[id]))
	}

	return keys
}

// Payload returns the stored payload of id
func (m *MockBlobStore) Payload(id string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.payloads[id]

	return p, ok
}

// GetCallCount returns the number of times a method was called
func (m *MockBlobStore) GetCallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.callCounts[method]
}

// MockSearchBackend serves records as search hits. A query selects the
// records whose serialized data contains any quoted value of the query;
// an empty query selects all.
type MockSearchBackend struct {
	mu sync.Mutex

	records []*records.Record
	err     error
	queries []string
}

// NewMockSearchBackend creates a backend holding recs
func NewMockSearchBackend(recs ...*records.Record) *MockSearchBackend {
	return &MockSearchBackend{records: recs}
}

// FailWith makes every search fail with err
func (m *MockSearchBackend) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Queries returns the queries received so far
func (m *MockSearchBackend) Queries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.queries...)
}

// FindRecords returns one page of the matching records
func (m *MockSearchBackend) FindRecords(_ context.Context, query string, offset, limit int) (*search.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queries = append(m.queries, query)

	if m.err != nil {
		return nil, m.err
	}

	var hits []map[string]interface{}

	for _, rec := range m.records {
		if matchesQuery(rec, query) {
			hits = append(hits, map[string]interface{}{
				"id":   rec.ID,
				"kind": rec.Kind,
				"data": rec.Data,
			})
		}
	}

	total := len(hits)
	start := min(offset, total)
	end := min(start+limit, total)

	return &search.Result{Total: total, Hits: hits[start:end]}, nil
}

func matchesQuery(rec *records.Record, query string) bool {
	values := quotedValues(query)
	if len(values) == 0 {
		return true
	}

	data := fmt.Sprint(rec.Data)
	for _, v := range values {
		if strings.Contains(data, v) {
			return true
		}
	}

	return false
}

func quotedValues(query string) []string {
	parts := strings.Split(query, `"`)

	var values []string

	for i := 1; i < len(parts); i += 2 {
		values = append(values, parts[i])
	}

	return values
}

// ErrorInjector provides systematic error injection for testing
type ErrorInjector struct {
	errors map[string]error
	counts map[string]int
	mu     sync.Mutex
}

// NewErrorInjector creates a new error injector
func NewErrorInjector() *ErrorInjector {
	return &ErrorInjector{
		errors: make(map[string]error),
		counts: make(map[string]int),
	}
}

// InjectError configures an error to be returned for a specific key
func (e *ErrorInjector) InjectError(key string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errors[key] = err
}

// ShouldError checks if an error should be returned for the given key
func (e *ErrorInjector) ShouldError(key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.counts[key]++

	return e.errors[key]
}

// GetCount returns the number of times a key was checked
func (e *ErrorInjector) GetCount(key string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counts[key]
}
