package remote

import (
	"cratenlp/internal/nlprp"
	"cratenlp/pkg/nlpcore"
)

func wireToDescriptor(w nlprp.ProcessorDescriptorWire) nlpcore.ProcessorDescriptor {
	d := nlpcore.ProcessorDescriptor{
		Name:             w.Name,
		Title:            w.Title,
		Version:          w.Version,
		IsDefaultVersion: w.IsDefaultVersion,
		SchemaType:       w.SchemaType,
		SQLDialect:       nlpcore.Dialect(w.SQLDialect),
	}
	if w.TabularSchema != nil {
		schema := nlpcore.TabularSchema{Tables: make(map[string][]nlpcore.ColumnDef, len(w.TabularSchema))}
		for table, cols := range w.TabularSchema {
			colDefs := make([]nlpcore.ColumnDef, 0, len(cols))
			for _, c := range cols {
				colDefs = append(colDefs, nlpcore.ColumnDef{
					Name:     c.ColumnName,
					SQLType:  c.ColumnType,
					Nullable: c.IsNullable,
					Comment:  c.ColumnComment,
				})
			}
			schema.Tables[table] = colDefs
		}
		d.Schema = &schema
	}
	return d
}

// wireToProcessorResult converts one processor's wire-format result into
// the in-process shape. Remote rows arrive as plain maps (decoded JSON),
// never as the in-process *ExtractionRow from a local Extractor, so this
// just wraps each row map into a fresh row rather than unwrapping one.
func wireToProcessorResult(w nlprp.ProcessorResultWire) nlpcore.ProcessorResult {
	pr := nlpcore.ProcessorResult{Name: w.Name, Success: w.Success, Errors: w.Errors}

	switch rows := w.Results.(type) {
	case []any:
		for _, r := range rows {
			if m, ok := r.(map[string]any); ok {
				pr.Rows = append(pr.Rows, rowFromMap("", m))
			}
		}
	case map[string]any:
		for table, tableRows := range rows {
			rowList, ok := tableRows.([]any)
			if !ok {
				continue
			}
			for _, r := range rowList {
				if m, ok := r.(map[string]any); ok {
					pr.Rows = append(pr.Rows, rowFromMap(table, m))
				}
			}
		}
	}
	return pr
}

func rowFromMap(table string, m map[string]any) *nlpcore.ExtractionRow {
	row := nlpcore.NewExtractionRow(table)
	for k, v := range m {
		row.SetColumn(k, v)
	}
	return row
}
