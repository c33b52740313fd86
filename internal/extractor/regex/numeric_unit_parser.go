package regex

import (
	"regexp"
	"strings"

	"cratenlp/pkg/nlpcore"
)

// NumericUnitParser matches "<keyword> <value> <unit>" clinical phrases
// and converts the recognised unit into the parser's canonical unit,
// e.g. CRP: "CRP 45 mg/dL" -> value_in_canonical_unit=450 (mg/L).
type NumericUnitParser struct {
	name       string
	destTable  string
	conversion UnitConversion
	re         *regexp.Regexp
}

// NewNumericUnitParser builds a numeric-unit parser for one clinical
// variable against one destination table.
func NewNumericUnitParser(variableName, destTable string, keywords []string, conversion UnitConversion) *NumericUnitParser {
	return &NumericUnitParser{
		name:       variableName,
		destTable:  destTable,
		conversion: conversion,
		re:         buildUnitRegex(keywords),
	}
}

func (p *NumericUnitParser) VariableName() string { return p.name }

func (p *NumericUnitParser) Schema() nlpcore.TabularSchema {
	aliasColumn := "value_" + canonicalColumnSuffix(p.conversion.CanonicalUnit)
	return nlpcore.TabularSchema{
		Tables: map[string][]nlpcore.ColumnDef{
			p.destTable: {
				{Name: "variable_name", SQLType: "VARCHAR(64)"},
				{Name: "_content", SQLType: "TEXT"},
				{Name: "_start", SQLType: "INTEGER"},
				{Name: "_end", SQLType: "INTEGER"},
				{Name: "variable_text", SQLType: "VARCHAR(64)"},
				{Name: "relation_text", SQLType: "VARCHAR(16)", Nullable: true},
				{Name: "relation", SQLType: "VARCHAR(4)"},
				{Name: "value_text", SQLType: "VARCHAR(32)"},
				{Name: "units", SQLType: "VARCHAR(32)", Nullable: true},
				{Name: "value_in_canonical_unit", SQLType: "REAL"},
				{Name: aliasColumn, SQLType: "REAL"},
				{Name: "tense_text", SQLType: "VARCHAR(16)", Nullable: true},
				{Name: "tense", SQLType: "VARCHAR(16)"},
			},
		},
	}
}

// Parse returns zero or more rows, one per regex match. Malformed text
// (empty, or a matched unit the conversion table doesn't recognise) is
// tolerated by skipping the match, never by returning an error.
func (p *NumericUnitParser) Parse(rec nlpcore.SourceRecord) ([]*nlpcore.ExtractionRow, error) {
	if rec.Text == "" {
		return nil, nil
	}

	var rows []*nlpcore.ExtractionRow
	for _, m := range p.re.FindAllStringSubmatchIndex(rec.Text, -1) {
		keywordText := sliceAt(rec.Text, m, 2)
		tenseToken := sliceAt(rec.Text, m, 4)
		relationToken := sliceAt(rec.Text, m, 6)
		numberText := sliceAt(rec.Text, m, 8)
		unitText := sliceAt(rec.Text, m, 10)

		value, ok := parseNumber(numberText)
		if !ok {
			continue
		}

		multiplier := 1.0
		if unitText != "" {
			mult, known := p.conversion.Multipliers[strings.ToLower(unitText)]
			if !known {
				continue // unrecognised unit: tolerate by skipping, not erroring
			}
			multiplier = mult
		}

		tenseText, tense := resolveTense(tenseToken)
		relationText, relation := resolveRelation(relationToken)

		row := nlpcore.NewExtractionRow(p.destTable)
		row.SetColumn("variable_name", p.name)
		row.SetColumn("_content", rec.Text[m[0]:m[1]])
		row.SetColumn("_start", m[0])
		row.SetColumn("_end", m[1])
		row.SetColumn("variable_text", keywordText)
		row.SetColumn("relation_text", relationText)
		row.SetColumn("relation", relation)
		row.SetColumn("value_text", numberText)
		row.SetColumn("units", unitText)
		row.SetColumn("value_in_canonical_unit", value*multiplier)
		row.SetColumn("value_"+canonicalColumnSuffix(p.conversion.CanonicalUnit), value*multiplier)
		row.SetColumn("tense_text", tenseText)
		row.SetColumn("tense", tense)
		rows = append(rows, row)
	}
	return rows, nil
}

// sliceAt returns the substring spanning m[idx:idx+1] from a
// FindAllStringSubmatchIndex match, or "" if that submatch group did not
// participate in the match (idx is an even offset: 0 for the whole
// match, 2 for the first capturing group, 4 for the second, ...).
func sliceAt(s string, m []int, idx int) string {
	lo, hi := m[idx], m[idx+1]
	if lo < 0 || hi < 0 {
		return ""
	}
	return s[lo:hi]
}
