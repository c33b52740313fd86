package regex

import (
	"testing"

	"cratenlp/pkg/nlpcore"
)

func TestValidatorMatchesKeywordWithoutRequiringValue(t *testing.T) {
	p := NewValidatorParser("CRP", "crp_validator", []string{"CRP"})
	rows, err := p.Parse(nlpcore.SourceRecord{Text: "CRP was discussed but no number given."})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected validator to match on keyword alone, got %d rows", len(rows))
	}
	assertColumn(t, rows[0], "variable_name", "CRP")
}

func TestValidatorRecallFloorExceedsParserPrecision(t *testing.T) {
	text := "CRP was discussed but no number given."
	numericRows, err := crpParser().Parse(nlpcore.SourceRecord{Text: text})
	if err != nil {
		t.Fatalf("numeric parse failed: %v", err)
	}
	validatorRows, err := NewValidatorParser("CRP", "crp_validator", []string{"CRP"}).Parse(nlpcore.SourceRecord{Text: text})
	if err != nil {
		t.Fatalf("validator parse failed: %v", err)
	}
	if len(numericRows) != 0 {
		t.Fatalf("expected numeric parser to find no value, got %d rows", len(numericRows))
	}
	if len(validatorRows) != 1 {
		t.Fatalf("expected validator to still flag the mention, got %d rows", len(validatorRows))
	}
}
