package coprocess

import "strings"

// parseRecordLines turns one record's output lines into ExtractionRow
// column maps. Each line is a tab-separated set of key=value pairs, the
// GATE-style wire shape documented for CoprocessExtractor: one line per
// output row, blank lines ignored.
func parseRecordLines(lines []string) []map[string]string {
	var rows []map[string]string
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		row := make(map[string]string, len(fields))
		for _, f := range fields {
			k, v, ok := strings.Cut(f, "=")
			if !ok {
				continue
			}
			row[k] = v
		}
		if len(row) > 0 {
			rows = append(rows, row)
		}
	}
	return rows
}
