package regex

import (
	"testing"

	"cratenlp/pkg/nlpcore"
)

func mmseParser() *DenominatorParser {
	return NewDenominatorParser("MMSE", "mmse_results", []string{"MMSE"}, denominatorProfiles["mmse"])
}

func TestMMSEDisallowedDenominatorProducesNoRow(t *testing.T) {
	p := mmseParser()
	rows, err := p.Parse(nlpcore.SourceRecord{Text: "MMSE 25/29."})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected denominator 29 to be rejected, got %d rows", len(rows))
	}
}

func TestMMSEAllowedDenominatorProducesRow(t *testing.T) {
	p := mmseParser()
	rows, err := p.Parse(nlpcore.SourceRecord{Text: "MMSE 25/30."})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	assertColumn(t, rows[0], "value", 25)
	assertColumn(t, rows[0], "out_of", 30)
}
