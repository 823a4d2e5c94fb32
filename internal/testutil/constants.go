// Package testutil provides common constants and utilities for tests
package testutil

import "time"

const (
	// TestTimeout is the default timeout for test operations
	TestTimeout = 30 * time.Second

	// ShortTestTimeout is a shorter timeout for quick operations
	ShortTestTimeout = 5 * time.Second

	// TestBatchSize is the default batch size for test operations
	TestBatchSize = 5

	// TestDatasetCount is a common number of test datasets to create
	TestDatasetCount = 10
)

// Common test identifiers
const (
	// TestPartition is the authority of test record ids
	TestPartition = "opendes"

	// TestAnalysisKind is the kind of test analysis records
	TestAnalysisKind = "osdu:wks:work-product-component--SamplesAnalysis:1.0.0"

	// TestSampleKind is the kind of test sample records
	TestSampleKind = "osdu:wks:master-data--Sample:1.0.0"

	// TestEntityType is the dataset entity type used by tests
	TestEntityType = "pvt"

	// TestSchemaVersion is the content schema version used by tests
	TestSchemaVersion = "1.0.0"

	// TestDDMSID and TestAPIVersion build test dataset URNs
	TestDDMSID     = "rafs"
	TestAPIVersion = "v2"
)

// TestContentSchema is a content schema with scalar, object and array columns
const TestContentSchema = `{
  "definitions": {
    "measurement": {
      "type": "object",
      "properties": {
        "value": {"type": "number"},
        "unit": {"type": "string"}
      }
    }
  },
  "type": "object",
  "properties": {
    "SampleID": {"type": "string"},
    "Depth": {"type": "integer"},
    "Pressure": {"$ref": "#/definitions/measurement"},
    "Valid": {"type": "boolean"}
  }
}`
