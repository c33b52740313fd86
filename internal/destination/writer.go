package destination

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"cratenlp/internal/metrics"
	"cratenlp/internal/progress"
	apperrors "cratenlp/pkg/errors"
	"cratenlp/pkg/nlpcore"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// pendingRecord is one source record's full set of destination rows plus
// the progress entry that will be upserted once those rows are
// committed. Buffered together so a flush can apply the
// destination-then-progress ordering per record, not per row.
type pendingRecord struct {
	rows  []*nlpcore.ExtractionRow
	entry nlpcore.ProgressEntry
	bytes int64
}

// Writer is DestinationWriter: schema reconciliation plus buffered,
// threshold-flushed inserts paired with progress upserts. Grounded on
// the teacher's KafkaSink batch/flush/threshold shape (processLoop's
// size-or-timeout flush, flushBatch's swap-then-send), adapted from a
// topic send to a destination-insert-then-progress-upsert pair.
type Writer struct {
	db      *sqlx.DB
	dialect nlpcore.Dialect
	store   *progress.Store
	logger  *logrus.Logger

	commitRows  int
	commitBytes int64

	mu       sync.Mutex
	pending  []pendingRecord
	rowCount int
	byteSize int64

	tableMu    sync.Mutex
	knownCols  map[string]map[string]bool // table -> column set, cached after reconciliation
}

// New builds a Writer against an already-connected destination database.
func New(db *sqlx.DB, dialect nlpcore.Dialect, store *progress.Store, commitRows int, commitBytes int64, logger *logrus.Logger) *Writer {
	if commitRows <= 0 {
		commitRows = 1000
	}
	if commitBytes <= 0 {
		commitBytes = 8 << 20
	}
	return &Writer{
		db:          db,
		dialect:     dialect,
		store:       store,
		logger:      logger,
		commitRows:  commitRows,
		commitBytes: commitBytes,
		knownCols:   make(map[string]map[string]bool),
	}
}

// ReconcileSchema creates missing tables/columns/indexes declared by an
// extractor's TabularSchema. full re-creates every named table from
// scratch (the only case in which columns are ever dropped).
func (w *Writer) ReconcileSchema(ctx context.Context, schema nlpcore.TabularSchema, indexesByTable map[string][]string, full bool) error {
	w.tableMu.Lock()
	defer w.tableMu.Unlock()

	for table, declared := range schema.Tables {
		if full {
			if _, err := w.db.ExecContext(ctx, dropTableDDL(w.dialect, table)); err != nil {
				return apperrors.SchemaError("destination", "ReconcileSchema", apperrors.CodeSchemaTypeConflict,
					fmt.Sprintf("dropping table %s for --dropremake: %v", table, err)).Wrap(err)
			}
			delete(w.knownCols, table)
		}

		if _, err := w.db.ExecContext(ctx, createTableDDL(w.dialect, table, declared)); err != nil {
			return apperrors.SchemaError("destination", "ReconcileSchema", apperrors.CodeSchemaTypeConflict,
				fmt.Sprintf("creating table %s: %v", table, err)).Wrap(err)
		}

		cols := w.knownCols[table]
		if cols == nil {
			existing, err := w.db.QueryContext(ctx, "SELECT * FROM "+quoteIdent(w.dialect, table)+" WHERE 1 = 0")
			var names []string
			if err == nil {
				names, err = existing.Columns()
				existing.Close()
			}
			if err != nil {
				return apperrors.SchemaError("destination", "ReconcileSchema", apperrors.CodeSchemaTypeConflict,
					fmt.Sprintf("reading columns of %s: %v", table, err)).Wrap(err)
			}
			cols = make(map[string]bool)
			for _, name := range names {
				cols[name] = true
			}
			w.knownCols[table] = cols
		}

		for _, col := range declared {
			if cols[col.Name] {
				continue
			}
			if _, err := w.db.ExecContext(ctx, addColumnDDL(w.dialect, table, col)); err != nil {
				return apperrors.SchemaError("destination", "ReconcileSchema", apperrors.CodeSchemaUnknownColumn,
					fmt.Sprintf("adding column %s.%s: %v", table, col.Name, err)).Wrap(err)
			}
			cols[col.Name] = true
		}

		for _, indexCol := range indexesByTable[table] {
			indexName := fmt.Sprintf("idx_%s_%s", table, indexCol)
			if _, err := w.db.ExecContext(ctx, createIndexDDL(w.dialect, table, indexName, []string{indexCol})); err != nil {
				return apperrors.SchemaError("destination", "ReconcileSchema", apperrors.CodeSchemaTypeConflict,
					fmt.Sprintf("creating index on %s.%s: %v", table, indexCol, err)).Wrap(err)
			}
		}
	}

	return nil
}

// Stage buffers one source record's destination rows and progress entry,
// flushing automatically once either commit threshold is crossed.
func (w *Writer) Stage(ctx context.Context, rows []*nlpcore.ExtractionRow, entry nlpcore.ProgressEntry, approxBytes int64) error {
	w.mu.Lock()
	w.pending = append(w.pending, pendingRecord{rows: rows, entry: entry, bytes: approxBytes})
	w.rowCount += len(rows)
	w.byteSize += approxBytes
	trigger := ""
	switch {
	case w.rowCount >= w.commitRows:
		trigger = "rows"
	case w.byteSize >= w.commitBytes:
		trigger = "bytes"
	}
	w.mu.Unlock()

	if trigger != "" {
		return w.flush(ctx, trigger)
	}
	return nil
}

// Flush commits every buffered record: all destination rows first, then
// all progress upserts — the destination-then-progress ordering (see
// DESIGN.md's resolved Open Question). If a progress upsert fails after
// its destination rows are already committed, the next incremental run
// recomputes the same hash, finds no matching entry, and reprocesses the
// record, overwriting the rows it just wrote.
func (w *Writer) Flush(ctx context.Context) error {
	return w.flush(ctx, "final")
}

func (w *Writer) flush(ctx context.Context, trigger string) error {
	w.mu.Lock()
	batch := w.pending
	w.pending = nil
	w.rowCount = 0
	w.byteSize = 0
	w.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	touchedTables := make(map[string]bool)
	for _, rec := range batch {
		if err := w.deleteStaleRows(ctx, rec.entry); err != nil {
			return err
		}
		for _, row := range rec.rows {
			if err := w.insertRow(ctx, row); err != nil {
				return err
			}
			touchedTables[row.Table] = true
		}
	}
	for table := range touchedTables {
		metrics.RecordCommitFlush(table, trigger)
	}

	for _, rec := range batch {
		if err := w.store.Upsert(ctx, rec.entry); err != nil {
			w.logger.WithError(err).WithFields(logrus.Fields{
				"nlpdef":  rec.entry.NlpDefinitionName,
				"pk_int":  rec.entry.SourcePKInt,
				"table":   rec.entry.SourceTable,
			}).Warn("progress upsert failed after destination commit, record will reprocess next run")
			return err
		}
	}

	w.logger.WithFields(logrus.Fields{"records": len(batch)}).Debug("destination writer flushed batch")
	return nil
}

func (w *Writer) insertRow(ctx context.Context, row *nlpcore.ExtractionRow) error {
	cols := row.CopyColumns()
	if len(cols) == 0 {
		return nil
	}

	names := make([]string, 0, len(cols))
	placeholders := make([]string, 0, len(cols))
	values := make([]any, 0, len(cols))
	for name, val := range cols {
		names = append(names, quoteIdent(w.dialect, name))
		placeholders = append(placeholders, "?")
		values = append(values, val)
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(w.dialect, row.Table), strings.Join(names, ", "), strings.Join(placeholders, ", "))

	if _, err := w.db.ExecContext(ctx, w.db.Rebind(stmt), values...); err != nil {
		return apperrors.TransientError("destination", "insertRow", apperrors.CodeTransientDatabase,
			fmt.Sprintf("inserting into %s: %v", row.Table, err)).Wrap(err)
	}
	return nil
}

// deleteStaleRows removes any destination rows already committed for a
// record's prior processing, across every table this Writer manages, so
// a reprocessed (changed, or re-recovered after a failed progress
// upsert) record's rows get recomputed in place instead of accumulating
// alongside their stale predecessors.
func (w *Writer) deleteStaleRows(ctx context.Context, entry nlpcore.ProgressEntry) error {
	w.tableMu.Lock()
	tables := make([]string, 0, len(w.knownCols))
	for table := range w.knownCols {
		tables = append(tables, table)
	}
	w.tableMu.Unlock()

	for _, table := range tables {
		clause := fmt.Sprintf("%s = ? AND %s = ? AND %s = ? AND %s = ?",
			quoteIdent(w.dialect, "_nlpdef"), quoteIdent(w.dialect, "_srcdb"),
			quoteIdent(w.dialect, "_srctable"), quoteIdent(w.dialect, "_srcpkval"))
		args := []any{entry.NlpDefinitionName, entry.SourceDB, entry.SourceTable, entry.SourcePKInt}

		if entry.SourcePKString != "" {
			clause += fmt.Sprintf(" AND %s = ?", quoteIdent(w.dialect, "_srcpkstr"))
			args = append(args, entry.SourcePKString)
		}

		stmt := fmt.Sprintf("DELETE FROM %s WHERE %s", quoteIdent(w.dialect, table), clause)
		if _, err := w.db.ExecContext(ctx, w.db.Rebind(stmt), args...); err != nil {
			return apperrors.TransientError("destination", "deleteStaleRows", apperrors.CodeTransientDatabase,
				fmt.Sprintf("deleting stale rows from %s: %v", table, err)).Wrap(err)
		}
	}
	return nil
}
