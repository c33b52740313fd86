package regex

import (
	"context"
	"testing"

	"cratenlp/pkg/nlpcore"
)

func TestExtractorDescribeReportsTabularSchema(t *testing.T) {
	e := New("crp", "C-reactive protein", "1", crpParser(), nlpcore.DialectSQLite, true)
	descriptors, err := e.Describe(context.Background())
	if err != nil {
		t.Fatalf("describe failed: %v", err)
	}
	if len(descriptors) != 1 {
		t.Fatalf("expected 1 descriptor, got %d", len(descriptors))
	}
	d := descriptors[0]
	if d.SchemaType != "tabular" || d.Schema == nil {
		t.Fatalf("expected tabular schema, got %+v", d)
	}
	if _, ok := d.Schema.Tables["crp_results"]; !ok {
		t.Fatalf("expected crp_results table in schema, got %+v", d.Schema.Tables)
	}
}

func TestExtractorProcessBatchPreservesOneResultPerRecord(t *testing.T) {
	e := New("crp", "C-reactive protein", "1", crpParser(), nlpcore.DialectSQLite, true)
	records := []nlpcore.SourceRecord{
		{PKValue: 1, Text: "CRP 45 mg/L today."},
		{PKValue: 2, Text: "no mention here"},
		{PKValue: 3, Text: ""},
	}

	results, err := e.ProcessBatch(context.Background(), records)
	if err != nil {
		t.Fatalf("process batch failed: %v", err)
	}
	if len(results) != len(records) {
		t.Fatalf("expected %d results, got %d", len(records), len(results))
	}

	if len(results[0].ProcessorResults[0].Rows) != 1 {
		t.Fatalf("expected 1 row for record 0, got %d", len(results[0].ProcessorResults[0].Rows))
	}
	if !results[0].ProcessorResults[0].Success {
		t.Fatal("expected success=true for record 0")
	}
	if len(results[1].ProcessorResults[0].Rows) != 0 {
		t.Fatalf("expected 0 rows for record 1 (no mention), got %d", len(results[1].ProcessorResults[0].Rows))
	}
	if !results[1].ProcessorResults[0].Success {
		t.Fatal("expected success=true even with zero rows for record 1")
	}
	if len(results[2].ProcessorResults[0].Rows) != 0 || !results[2].ProcessorResults[0].Success {
		t.Fatalf("expected success=true, zero rows for empty text, got %+v", results[2].ProcessorResults[0])
	}
}
