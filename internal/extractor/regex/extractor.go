package regex

import (
	"context"
	"strconv"

	apperrors "cratenlp/pkg/errors"
	"cratenlp/pkg/nlpcore"
)

// Extractor is RegexExtractor: one compiled Parser run in-process over
// each SourceRecord. Grounded on the teacher's LogProcessor step
// registry shape (internal/processing/log_processor.go) — one
// configured processor compiled once at startup, invoked per record
// thereafter — generalised from a YAML pipeline-of-steps to a single
// clinical-variable parser per [processor:NAME] section.
type Extractor struct {
	name       string
	title      string
	version    string
	parser     Parser
	dialect    nlpcore.Dialect
	isDefault  bool
}

// New builds a RegexExtractor around one compiled Parser.
func New(name, title, version string, parser Parser, dialect nlpcore.Dialect, isDefault bool) *Extractor {
	return &Extractor{
		name:      name,
		title:     title,
		version:   version,
		parser:    parser,
		dialect:   dialect,
		isDefault: isDefault,
	}
}

func (e *Extractor) Describe(ctx context.Context) ([]nlpcore.ProcessorDescriptor, error) {
	schema := e.parser.Schema()
	return []nlpcore.ProcessorDescriptor{
		{
			Name:             e.name,
			Title:            e.title,
			Version:          e.version,
			IsDefaultVersion: e.isDefault,
			SchemaType:       "tabular",
			Schema:           &schema,
			SQLDialect:       e.dialect,
		},
	}, nil
}

// ProcessBatch runs the parser over every record, preserving a
// one-result-per-input-record shape. A parser never returns an error for
// malformed text (empty, unit not recognised, disallowed denominator) —
// those are tolerated as zero rows with success=true; only an actual
// regex-engine fault would surface as success=false here, which in
// practice cannot happen once the parser has compiled.
func (e *Extractor) ProcessBatch(ctx context.Context, records []nlpcore.SourceRecord) ([]nlpcore.PerRecordResult, error) {
	results := make([]nlpcore.PerRecordResult, 0, len(records))
	for i, rec := range records {
		recordID := recordIdentity(rec, i)

		rows, err := e.parser.Parse(rec)
		result := nlpcore.ProcessorResult{Name: e.name, Success: true, Rows: rows}
		if err != nil {
			result.Success = false
			result.Errors = []string{apperrors.RecordError("regex", "ProcessBatch",
				apperrors.CodeRecordExtractorFailure, err.Error()).Error()}
		}

		results = append(results, nlpcore.PerRecordResult{
			RecordID:         recordID,
			ProcessorResults: []nlpcore.ProcessorResult{result},
		})
	}
	return results, nil
}

// Close is a no-op: RegexExtractor owns no external resources.
func (e *Extractor) Close() error { return nil }

func recordIdentity(rec nlpcore.SourceRecord, index int) string {
	if rec.IsStringPK() {
		return rec.PKString
	}
	return strconv.FormatInt(rec.PKValue, 10)
}
