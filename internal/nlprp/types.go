package nlprp

import "cratenlp/pkg/nlpcore"

// ProcessorSelector names one processor (plus optional version/args) a
// `process` request wants run over the submitted content.
type ProcessorSelector struct {
	Name    string         `json:"name"`
	Version string         `json:"version,omitempty"`
	Args    map[string]any `json:"args,omitempty"`
}

// ContentItem is one unit of text a `process` request submits, with
// client-supplied metadata echoed back verbatim so the client can
// reassemble response ordering.
type ContentItem struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ProcessorResultWire is one processor's outcome against one content
// item, as carried on the wire.
type ProcessorResultWire struct {
	Name    string `json:"name"`
	Title   string `json:"title,omitempty"`
	Version string `json:"version,omitempty"`
	Success bool   `json:"success"`
	Errors  []string `json:"errors,omitempty"`

	// Results is either []map[string]any (single-table processors) or
	// map[string][]map[string]any (multi-table processors) on the wire;
	// the remote extractor's wireToProcessorResult accepts both.
	// processorResultToWire always sends the flat list form, whatever
	// the number of tables in the processor's declared schema.
	Results any `json:"results,omitempty"`
}

// ContentResult bundles every selected processor's outcome for one
// submitted content item.
type ContentResult struct {
	Metadata   map[string]any        `json:"metadata,omitempty"`
	Processors []ProcessorResultWire `json:"processors"`
}

// ColumnDefWire is one column of a tabular_schema entry.
type ColumnDefWire struct {
	ColumnName    string `json:"column_name"`
	ColumnType    string `json:"column_type"`
	DataType      string `json:"data_type"`
	IsNullable    bool   `json:"is_nullable"`
	ColumnComment string `json:"column_comment,omitempty"`
}

// ProcessorDescriptorWire is one entry of a list_processors response.
type ProcessorDescriptorWire struct {
	Name             string                     `json:"name"`
	Title            string                     `json:"title"`
	Version          string                     `json:"version"`
	IsDefaultVersion bool                       `json:"is_default_version"`
	SchemaType       string                     `json:"schema_type"`
	TabularSchema    map[string][]ColumnDefWire `json:"tabular_schema,omitempty"`
	SQLDialect       string                     `json:"sql_dialect,omitempty"`
}

// QueueEntryWire is one entry of a show_queue response.
type QueueEntryWire struct {
	QueueID           string  `json:"queue_id"`
	ClientJobID       string  `json:"client_job_id,omitempty"`
	Status            string  `json:"status"`
	DatetimeSubmitted string  `json:"datetime_submitted"`
	DatetimeCompleted *string `json:"datetime_completed"`
}

func descriptorToWire(d nlpcore.ProcessorDescriptor) ProcessorDescriptorWire {
	w := ProcessorDescriptorWire{
		Name:             d.Name,
		Title:            d.Title,
		Version:          d.Version,
		IsDefaultVersion: d.IsDefaultVersion,
		SchemaType:       d.SchemaType,
		SQLDialect:       string(d.SQLDialect),
	}
	if d.Schema != nil {
		w.TabularSchema = make(map[string][]ColumnDefWire, len(d.Schema.Tables))
		for table, cols := range d.Schema.Tables {
			wireCols := make([]ColumnDefWire, 0, len(cols))
			for _, c := range cols {
				wireCols = append(wireCols, ColumnDefWire{
					ColumnName: c.Name,
					ColumnType: c.SQLType,
					DataType:   c.SQLType,
					IsNullable: c.Nullable,
					ColumnComment: c.Comment,
				})
			}
			w.TabularSchema[table] = wireCols
		}
	}
	return w
}

func rowsToWire(rows []*nlpcore.ExtractionRow) []map[string]any {
	out := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.CopyColumns())
	}
	return out
}

func processorResultToWire(name string, pr nlpcore.ProcessorResult) ProcessorResultWire {
	return ProcessorResultWire{
		Name:    name,
		Success: pr.Success,
		Errors:  pr.Errors,
		Results: rowsToWire(pr.Rows),
	}
}
