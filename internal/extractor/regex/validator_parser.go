package regex

import (
	"regexp"

	"cratenlp/pkg/nlpcore"
)

// ValidatorParser is a numeric or denominator parser's recall-floor
// sibling: it matches only the keyword, producing a row whenever the
// variable is even mentioned, independent of whether a value could be
// extracted. Comparing a validator's row count against its paired
// parser's row count quantifies the parser's precision gap.
type ValidatorParser struct {
	name      string
	destTable string
	re        *regexp.Regexp
}

// NewValidatorParser builds the validator sibling for the given keyword
// list and destination table.
func NewValidatorParser(variableName, destTable string, keywords []string) *ValidatorParser {
	return &ValidatorParser{
		name:      variableName,
		destTable: destTable,
		re:        buildKeywordOnlyRegex(keywords),
	}
}

func (p *ValidatorParser) VariableName() string { return p.name }

func (p *ValidatorParser) Schema() nlpcore.TabularSchema {
	return nlpcore.TabularSchema{
		Tables: map[string][]nlpcore.ColumnDef{
			p.destTable: {
				{Name: "variable_name", SQLType: "VARCHAR(64)"},
				{Name: "_content", SQLType: "TEXT"},
				{Name: "_start", SQLType: "INTEGER"},
				{Name: "_end", SQLType: "INTEGER"},
			},
		},
	}
}

func (p *ValidatorParser) Parse(rec nlpcore.SourceRecord) ([]*nlpcore.ExtractionRow, error) {
	if rec.Text == "" {
		return nil, nil
	}

	var rows []*nlpcore.ExtractionRow
	for _, m := range p.re.FindAllStringIndex(rec.Text, -1) {
		row := nlpcore.NewExtractionRow(p.destTable)
		row.SetColumn("variable_name", p.name)
		row.SetColumn("_content", rec.Text[m[0]:m[1]])
		row.SetColumn("_start", m[0])
		row.SetColumn("_end", m[1])
		rows = append(rows, row)
	}
	return rows, nil
}
