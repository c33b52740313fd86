package destination

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"cratenlp/internal/progress"
	"cratenlp/pkg/nlpcore"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

func newTestWriter(t *testing.T, commitRows int) (*Writer, *progress.Store) {
	t.Helper()
	rawDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	t.Cleanup(func() { rawDB.Close() })

	store := progress.Open(rawDB, "sqlite")
	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("failed to create progress schema: %v", err)
	}

	db := sqlx.NewDb(rawDB, "sqlite")
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	w := New(db, nlpcore.DialectSQLite, store, commitRows, 1<<20, logger)
	return w, store
}

func crpSchema() nlpcore.TabularSchema {
	return nlpcore.TabularSchema{
		Tables: map[string][]nlpcore.ColumnDef{
			"crp_results": {
				{Name: "variable_name", SQLType: "VARCHAR(64)", Nullable: false},
				{Name: "value_in_canonical_unit", SQLType: "REAL", Nullable: true},
			},
		},
	}
}

func sampleRow() *nlpcore.ExtractionRow {
	row := nlpcore.NewExtractionRow("crp_results")
	row.SetColumn("_pk", int64(1))
	row.SetColumn("_nlpdef", "crp_assessment")
	row.SetColumn("_srcdb", "secondary")
	row.SetColumn("_srctable", "notes")
	row.SetColumn("_srcpkfield", "note_id")
	row.SetColumn("_srcpkval", int64(17))
	row.SetColumn("_srcfield", "note_text")
	row.SetColumn("_crate_version", "0.1.0")
	row.SetColumn("_when_fetched_utc", time.Now().UTC())
	row.SetColumn("variable_name", "CRP")
	row.SetColumn("value_in_canonical_unit", 45.0)
	return row
}

func TestReconcileSchemaCreatesTableAndColumns(t *testing.T) {
	w, _ := newTestWriter(t, 100)

	if err := w.ReconcileSchema(context.Background(), crpSchema(), nil, false); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	if _, err := w.db.ExecContext(context.Background(), "SELECT variable_name FROM crp_results LIMIT 1"); err != nil {
		t.Fatalf("expected crp_results table with variable_name column, got error: %v", err)
	}
}

func TestStageFlushesAtRowThreshold(t *testing.T) {
	w, store := newTestWriter(t, 1)

	if err := w.ReconcileSchema(context.Background(), crpSchema(), nil, false); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	entry := nlpcore.ProgressEntry{
		NlpDefinitionName: "crp_assessment",
		SourceDB:          "secondary",
		SourceTable:       "notes",
		SourcePKInt:       17,
		SourceHash:        "h1",
		WhenFetchedUTC:    time.Now().UTC(),
		CrateVersion:      "0.1.0",
	}

	if err := w.Stage(context.Background(), []*nlpcore.ExtractionRow{sampleRow()}, entry, 128); err != nil {
		t.Fatalf("stage failed: %v", err)
	}

	got, err := store.Get(context.Background(), entry.NlpDefinitionName, entry.SourceDB, entry.SourceTable, entry.SourcePKInt)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected progress entry to be committed after threshold flush")
	}

	var count int
	if err := w.db.GetContext(context.Background(), &count, "SELECT COUNT(*) FROM crp_results"); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row inserted, got %d", count)
	}
}

func TestStageDoesNotFlushBeforeThreshold(t *testing.T) {
	w, store := newTestWriter(t, 100)

	if err := w.ReconcileSchema(context.Background(), crpSchema(), nil, false); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	entry := nlpcore.ProgressEntry{NlpDefinitionName: "crp_assessment", SourceTable: "notes", SourcePKInt: 17, SourceHash: "h1"}
	if err := w.Stage(context.Background(), []*nlpcore.ExtractionRow{sampleRow()}, entry, 128); err != nil {
		t.Fatalf("stage failed: %v", err)
	}

	got, err := store.Get(context.Background(), "crp_assessment", "", "notes", 17)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != nil {
		t.Fatal("expected progress entry to remain buffered, not yet committed")
	}
}
