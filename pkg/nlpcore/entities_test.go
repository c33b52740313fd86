package nlpcore

import (
	"sync"
	"testing"
)

func TestExtractionRowSetGetColumn(t *testing.T) {
	row := NewExtractionRow("crp_results")
	row.SetColumn("value_in_canonical_unit", 105.0)

	v, ok := row.GetColumn("value_in_canonical_unit")
	if !ok {
		t.Fatal("expected column to be set")
	}
	if v.(float64) != 105.0 {
		t.Fatalf("expected 105.0, got %v", v)
	}
}

func TestExtractionRowCopyColumnsIsIndependent(t *testing.T) {
	row := NewExtractionRow("crp_results")
	row.SetColumn("a", 1)

	snapshot := row.CopyColumns()
	row.SetColumn("b", 2)

	if _, ok := snapshot["b"]; ok {
		t.Fatal("expected snapshot to be unaffected by later writes")
	}
}

func TestExtractionRowConcurrentAccess(t *testing.T) {
	row := NewExtractionRow("t")
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			row.SetColumn("k", i)
			row.CopyColumns()
		}(i)
	}
	wg.Wait()
}

func TestProgressEntryKey(t *testing.T) {
	p := ProgressEntry{
		NlpDefinitionName: "crp_assessment",
		SourceDB:          "secondary",
		SourceTable:       "notes",
		SourcePKInt:       42,
		SourceHash:        "abc",
	}

	k := p.Key()
	if k.NlpDefinitionName != "crp_assessment" || k.SourcePKInt != 42 {
		t.Fatalf("unexpected key: %+v", k)
	}
}

func TestSourceRecordIsStringPK(t *testing.T) {
	intPK := SourceRecord{PKValue: 5}
	strPK := SourceRecord{PKValue: StringPKSurrogate("p-5"), PKString: "p-5"}

	if intPK.IsStringPK() {
		t.Fatal("expected integer PK record to report false")
	}
	if !strPK.IsStringPK() {
		t.Fatal("expected string PK record to report true")
	}
}
