package regex

import (
	"testing"

	"cratenlp/pkg/nlpcore"
)

func crpParser() *NumericUnitParser {
	return NewNumericUnitParser("CRP", "crp_results", []string{"CRP"}, unitProfiles["crp"])
}

func TestCRPHappyPath(t *testing.T) {
	p := crpParser()
	rows, err := p.Parse(nlpcore.SourceRecord{Text: "CRP 45 mg/L today."})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}

	row := rows[0]
	assertColumn(t, row, "variable_name", "CRP")
	assertColumn(t, row, "value_text", "45")
	assertColumn(t, row, "units", "mg/L")
	assertColumn(t, row, "value_in_canonical_unit", 45.0)
	assertColumn(t, row, "tense", "present")
}

func TestCRPOutOfScaleUnitConverts(t *testing.T) {
	p := crpParser()
	rows, err := p.Parse(nlpcore.SourceRecord{Text: "CRP 45 mg/dL."})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	assertColumn(t, rows[0], "value_in_canonical_unit", 450.0)
}

func TestCRPEmptyTextProducesNoRowsNoError(t *testing.T) {
	p := crpParser()
	rows, err := p.Parse(nlpcore.SourceRecord{Text: ""})
	if err != nil {
		t.Fatalf("expected no error on empty text, got %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected 0 rows on empty text, got %d", len(rows))
	}
}

func TestCRPUnrecognisedUnitSkipsMatch(t *testing.T) {
	p := crpParser()
	rows, err := p.Parse(nlpcore.SourceRecord{Text: "CRP 45 furlongs."})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected unrecognised unit to be skipped, got %d rows", len(rows))
	}
}

func TestCRPNoUnitDefaultsToCanonical(t *testing.T) {
	p := crpParser()
	rows, err := p.Parse(nlpcore.SourceRecord{Text: "CRP 45."})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	assertColumn(t, rows[0], "value_in_canonical_unit", 45.0)
}

func assertColumn(t *testing.T, row *nlpcore.ExtractionRow, name string, want any) {
	t.Helper()
	got, ok := row.GetColumn(name)
	if !ok {
		t.Fatalf("column %s missing", name)
	}
	if got != want {
		t.Fatalf("column %s: got %v, want %v", name, got, want)
	}
}
