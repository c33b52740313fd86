package app

import (
	"context"
	"database/sql"
	"time"

	apperrors "cratenlp/pkg/errors"

	"github.com/jmoiron/sqlx"
)

const clientQueueTableName = "crate_nlprp_client_queue"

// ClientQueueEntry is one locally tracked outstanding `process --queue`
// submission: the CLI's own record of a queue_id it is waiting to
// collect, scoped to the nlpdef that submitted it (spec.md §4.5's
// "persist the returned queue_id ... to a local request-tracking area
// keyed by NLP definition").
type ClientQueueEntry struct {
	QueueID     string
	NlpDefName  string
	ClientJobID string
	SubmittedAt time.Time
}

// ClientQueueStore is the CLI-side counterpart to nlprp.QueueStore: it
// remembers which queue_ids this installation has outstanding against a
// remote NLPRP server, so a later `--retrieve` run knows what to fetch
// without re-submitting. Grounded on internal/nlprp/queuestore.go's
// database/sql + sqlx shape, narrowed to the four columns the CLI's
// --retrieve/--showqueue/--cancelrequest/--cancelall flags need.
type ClientQueueStore struct {
	db *sqlx.DB
}

// OpenClientQueueStore wraps an already-connected *sql.DB, typically the
// same connection RunNlpDef uses for its ProgressStore.
func OpenClientQueueStore(db *sql.DB, driverName string) *ClientQueueStore {
	return &ClientQueueStore{db: sqlx.NewDb(db, driverName)}
}

func (s *ClientQueueStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS `+clientQueueTableName+` (
	queue_id      VARCHAR(36) PRIMARY KEY,
	nlp_def_name  VARCHAR(64) NOT NULL,
	client_job_id VARCHAR(64) NOT NULL DEFAULT '',
	submitted_at  TIMESTAMP NOT NULL
)`)
	if err != nil {
		return apperrors.TransientError("app", "ClientQueueStore.EnsureSchema", apperrors.CodeTransientDatabase, err.Error()).Wrap(err)
	}
	return nil
}

// Track records a queue_id this run just submitted.
func (s *ClientQueueStore) Track(ctx context.Context, queueID, nlpDefName, clientJobID string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO `+clientQueueTableName+` (queue_id, nlp_def_name, client_job_id, submitted_at)
VALUES (?, ?, ?, ?)`, queueID, nlpDefName, clientJobID, time.Now().UTC())
	if err != nil {
		return apperrors.TransientError("app", "ClientQueueStore.Track", apperrors.CodeTransientDatabase, err.Error()).Wrap(err)
	}
	return nil
}

// List returns every outstanding entry tracked for one nlpdef.
func (s *ClientQueueStore) List(ctx context.Context, nlpDefName string) ([]ClientQueueEntry, error) {
	var rows []struct {
		QueueID     string    `db:"queue_id"`
		NlpDefName  string    `db:"nlp_def_name"`
		ClientJobID string    `db:"client_job_id"`
		SubmittedAt time.Time `db:"submitted_at"`
	}
	if err := s.db.SelectContext(ctx, &rows, `
SELECT queue_id, nlp_def_name, client_job_id, submitted_at
FROM `+clientQueueTableName+` WHERE nlp_def_name = ?`, nlpDefName); err != nil {
		return nil, apperrors.TransientError("app", "ClientQueueStore.List", apperrors.CodeTransientDatabase, err.Error()).Wrap(err)
	}

	out := make([]ClientQueueEntry, len(rows))
	for i, r := range rows {
		out[i] = ClientQueueEntry{QueueID: r.QueueID, NlpDefName: r.NlpDefName, ClientJobID: r.ClientJobID, SubmittedAt: r.SubmittedAt}
	}
	return out, nil
}

// Untrack drops one entry, called once its result has been collected or
// its request cancelled.
func (s *ClientQueueStore) Untrack(ctx context.Context, queueID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM `+clientQueueTableName+` WHERE queue_id = ?`, queueID)
	if err != nil {
		return apperrors.TransientError("app", "ClientQueueStore.Untrack", apperrors.CodeTransientDatabase, err.Error()).Wrap(err)
	}
	return nil
}

// UntrackAll drops every entry tracked for one nlpdef, used by
// --cancelall.
func (s *ClientQueueStore) UntrackAll(ctx context.Context, nlpDefName string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM `+clientQueueTableName+` WHERE nlp_def_name = ?`, nlpDefName)
	if err != nil {
		return apperrors.TransientError("app", "ClientQueueStore.UntrackAll", apperrors.CodeTransientDatabase, err.Error()).Wrap(err)
	}
	return nil
}
