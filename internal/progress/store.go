// Package progress implements ProgressStore: CRATE's durable record of
// which source rows have already been extracted, and with which hash, so
// an incremental run can tell unchanged rows from rows that need
// reprocessing.
package progress

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	apperrors "cratenlp/pkg/errors"
	"cratenlp/pkg/nlpcore"

	"github.com/jmoiron/sqlx"
)

const tableName = "crate_nlp_progress"

// progressRow is the sqlx scan target for one crate_nlp_progress row.
type progressRow struct {
	NlpDefinitionName string    `db:"nlp_definition_name"`
	SourceDB          string    `db:"source_db"`
	SourceTable       string    `db:"source_table"`
	SourcePKInt       int64     `db:"source_pk_int"`
	SourcePKString    string    `db:"source_pk_string"`
	SourceHash        string    `db:"source_hash"`
	WhenFetchedUTC    time.Time `db:"when_fetched_utc"`
	CrateVersion      string    `db:"crate_version"`
}

func (r progressRow) toEntry() nlpcore.ProgressEntry {
	return nlpcore.ProgressEntry{
		NlpDefinitionName: r.NlpDefinitionName,
		SourceDB:          r.SourceDB,
		SourceTable:       r.SourceTable,
		SourcePKInt:       r.SourcePKInt,
		SourcePKString:    r.SourcePKString,
		SourceHash:        r.SourceHash,
		WhenFetchedUTC:    r.WhenFetchedUTC,
		CrateVersion:      r.CrateVersion,
	}
}

// Store is the database/sql + sqlx-backed ProgressStore. A single logical
// table, crate_nlp_progress, carries a unique index on
// (nlp_definition_name, source_db, source_table, source_pk_int); disjoint
// shards writing under that index never collide, since coordinator
// sharding partitions the PK space.
type Store struct {
	db *sqlx.DB
}

// Open wraps an existing *sql.DB (already connected with the dialect's
// driver registered via blank import) as a ProgressStore.
func Open(db *sql.DB, driverName string) *Store {
	return &Store{db: sqlx.NewDb(db, driverName)}
}

// EnsureSchema creates crate_nlp_progress if it does not already exist.
// Column types are kept dialect-portable (VARCHAR/BIGINT/DATETIME-ish);
// dialect-specific DDL lives in internal/destination, which owns richer
// schema reconciliation for extractor-declared tables.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS `+tableName+` (
	nlp_definition_name VARCHAR(64) NOT NULL,
	source_db           VARCHAR(64) NOT NULL,
	source_table        VARCHAR(64) NOT NULL,
	source_pk_int       BIGINT NOT NULL,
	source_pk_string    VARCHAR(64) NOT NULL DEFAULT '',
	source_hash         VARCHAR(128) NOT NULL,
	when_fetched_utc    TIMESTAMP NOT NULL,
	crate_version       VARCHAR(147) NOT NULL,
	PRIMARY KEY (nlp_definition_name, source_db, source_table, source_pk_int)
)`)
	if err != nil {
		return apperrors.TransientError("progress", "EnsureSchema", apperrors.CodeTransientDatabase, err.Error()).Wrap(err)
	}
	return nil
}

// Get looks up the ProgressEntry for one source record, if one exists.
func (s *Store) Get(ctx context.Context, defName, sourceDB, sourceTable string, pkInt int64) (*nlpcore.ProgressEntry, error) {
	var row progressRow
	err := s.db.GetContext(ctx, &row, `
SELECT nlp_definition_name, source_db, source_table, source_pk_int,
       source_pk_string, source_hash, when_fetched_utc, crate_version
FROM `+tableName+`
WHERE nlp_definition_name = ? AND source_db = ? AND source_table = ? AND source_pk_int = ?`,
		defName, sourceDB, sourceTable, pkInt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.TransientError("progress", "Get", apperrors.CodeTransientDatabase, err.Error()).Wrap(err)
	}

	entry := row.toEntry()
	return &entry, nil
}

// Upsert writes a ProgressEntry, replacing any existing entry under the
// same composite key. Dialect-specific upsert syntax is avoided in favor
// of delete-then-insert within one statement batch, which is portable
// across the three registered dialects and simple enough to reason about
// under concurrent disjoint-shard writers (each shard only ever touches
// keys inside its own PK partition, so no other writer can race this
// delete+insert pair for the same key).
func (s *Store) Upsert(ctx context.Context, entry nlpcore.ProgressEntry) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.TransientError("progress", "Upsert", apperrors.CodeTransientDatabase, err.Error()).Wrap(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
DELETE FROM `+tableName+`
WHERE nlp_definition_name = ? AND source_db = ? AND source_table = ? AND source_pk_int = ?`,
		entry.NlpDefinitionName, entry.SourceDB, entry.SourceTable, entry.SourcePKInt); err != nil {
		return apperrors.TransientError("progress", "Upsert", apperrors.CodeTransientDatabase, err.Error()).Wrap(err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO `+tableName+`
	(nlp_definition_name, source_db, source_table, source_pk_int, source_pk_string, source_hash, when_fetched_utc, crate_version)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.NlpDefinitionName, entry.SourceDB, entry.SourceTable, entry.SourcePKInt,
		entry.SourcePKString, entry.SourceHash, entry.WhenFetchedUTC, entry.CrateVersion); err != nil {
		return apperrors.TransientError("progress", "Upsert", apperrors.CodeTransientDatabase, err.Error()).Wrap(err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.TransientError("progress", "Upsert", apperrors.CodeTransientDatabase, err.Error()).Wrap(err)
	}
	return nil
}

// DeleteAbsentSources removes every progress entry for defName/sourceTable
// whose source_pk_int is not in knownPKs. Used by a full run, at end of
// run, to clear progress for source rows that have since been deleted
// (unless skip_delete is set).
func (s *Store) DeleteAbsentSources(ctx context.Context, defName, sourceTable string, knownPKs map[int64]bool) ([]int64, error) {
	var rows []progressRow
	err := s.db.SelectContext(ctx, &rows, `
SELECT nlp_definition_name, source_db, source_table, source_pk_int,
       source_pk_string, source_hash, when_fetched_utc, crate_version
FROM `+tableName+`
WHERE nlp_definition_name = ? AND source_table = ?`, defName, sourceTable)
	if err != nil {
		return nil, apperrors.TransientError("progress", "DeleteAbsentSources", apperrors.CodeTransientDatabase, err.Error()).Wrap(err)
	}

	var absent []int64
	for _, r := range rows {
		if !knownPKs[r.SourcePKInt] {
			absent = append(absent, r.SourcePKInt)
		}
	}
	if len(absent) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, apperrors.TransientError("progress", "DeleteAbsentSources", apperrors.CodeTransientDatabase, err.Error()).Wrap(err)
	}
	defer tx.Rollback()

	for _, pk := range absent {
		if _, err := tx.ExecContext(ctx, `
DELETE FROM `+tableName+`
WHERE nlp_definition_name = ? AND source_table = ? AND source_pk_int = ?`, defName, sourceTable, pk); err != nil {
			return nil, apperrors.TransientError("progress", "DeleteAbsentSources", apperrors.CodeTransientDatabase,
				fmt.Sprintf("deleting pk %d: %v", pk, err)).Wrap(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.TransientError("progress", "DeleteAbsentSources", apperrors.CodeTransientDatabase, err.Error()).Wrap(err)
	}
	return absent, nil
}
