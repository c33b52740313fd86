package regex

import (
	"regexp"
	"strconv"

	"cratenlp/pkg/nlpcore"
)

// DenominatorParser matches "<keyword> <value>/<denominator>" phrases
// used by cognitive test scores (MMSE, ACE, ...), rejecting denominators
// the rule does not recognise as plausible for that test.
type DenominatorParser struct {
	name      string
	destTable string
	rule      DenominatorRule
	re        *regexp.Regexp
}

// NewDenominatorParser builds a denominator parser for one clinical
// variable against one destination table.
func NewDenominatorParser(variableName, destTable string, keywords []string, rule DenominatorRule) *DenominatorParser {
	return &DenominatorParser{
		name:      variableName,
		destTable: destTable,
		rule:      rule,
		re:        buildDenominatorRegex(keywords),
	}
}

func (p *DenominatorParser) VariableName() string { return p.name }

func (p *DenominatorParser) Schema() nlpcore.TabularSchema {
	return nlpcore.TabularSchema{
		Tables: map[string][]nlpcore.ColumnDef{
			p.destTable: {
				{Name: "variable_name", SQLType: "VARCHAR(64)"},
				{Name: "_content", SQLType: "TEXT"},
				{Name: "_start", SQLType: "INTEGER"},
				{Name: "_end", SQLType: "INTEGER"},
				{Name: "variable_text", SQLType: "VARCHAR(64)"},
				{Name: "tense_text", SQLType: "VARCHAR(16)", Nullable: true},
				{Name: "tense", SQLType: "VARCHAR(16)"},
				{Name: "value", SQLType: "INTEGER"},
				{Name: "out_of", SQLType: "INTEGER"},
			},
		},
	}
}

// Parse returns zero rows (never an error) for a denominator the rule
// disallows: spec.md's MMSE "25/29" boundary scenario.
func (p *DenominatorParser) Parse(rec nlpcore.SourceRecord) ([]*nlpcore.ExtractionRow, error) {
	if rec.Text == "" {
		return nil, nil
	}

	var rows []*nlpcore.ExtractionRow
	for _, m := range p.re.FindAllStringSubmatchIndex(rec.Text, -1) {
		keywordText := sliceAt(rec.Text, m, 2)
		tenseToken := sliceAt(rec.Text, m, 4)
		valueText := sliceAt(rec.Text, m, 6)
		outOfText := sliceAt(rec.Text, m, 8)

		value, err := strconv.Atoi(valueText)
		if err != nil {
			continue
		}
		outOf, err := strconv.Atoi(outOfText)
		if err != nil {
			continue
		}
		if !p.rule.permits(outOf) {
			continue
		}

		tenseText, tense := resolveTense(tenseToken)

		row := nlpcore.NewExtractionRow(p.destTable)
		row.SetColumn("variable_name", p.name)
		row.SetColumn("_content", rec.Text[m[0]:m[1]])
		row.SetColumn("_start", m[0])
		row.SetColumn("_end", m[1])
		row.SetColumn("variable_text", keywordText)
		row.SetColumn("tense_text", tenseText)
		row.SetColumn("tense", tense)
		row.SetColumn("value", value)
		row.SetColumn("out_of", outOf)
		rows = append(rows, row)
	}
	return rows, nil
}
