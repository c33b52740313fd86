package nlprp

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	apperrors "cratenlp/pkg/errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const queueTableName = "crate_nlprp_queue"

// QueueStatus mirrors the two states show_queue reports, per spec.md §4.5.
type QueueStatus string

const (
	QueueStatusReady QueueStatus = "ready"
	QueueStatusBusy  QueueStatus = "busy"
)

// QueueRecord is one persisted `process --queue` submission: the request
// content plus the eventual result, keyed by queue_id and scoped to the
// submitting user so show_queue never leaks another user's entries.
type QueueRecord struct {
	QueueID           string
	ClientJobID       string
	Username          string
	Status            QueueStatus
	Content           []ContentItem
	Selectors         []ProcessorSelector
	Results           []ContentResult
	DatetimeSubmitted time.Time
	DatetimeCompleted *time.Time
}

type queueRow struct {
	QueueID           string         `db:"queue_id"`
	ClientJobID       string         `db:"client_job_id"`
	Username          string         `db:"username"`
	Status            string         `db:"status"`
	Content           string         `db:"content"`
	Processors        string         `db:"processors"`
	Results           sql.NullString `db:"results"`
	DatetimeSubmitted time.Time      `db:"datetime_submitted"`
	DatetimeCompleted sql.NullTime   `db:"datetime_completed"`
}

// QueueStore persists NLPRP `process --queue` submissions, backed by the
// same database/sql + sqlx layer as internal/progress — adopting
// ProgressStore's table-per-concern shape rather than routing queued
// requests through Sarama (present in the teacher's go.mod for log
// shipping, not a fit for a request/response queue with per-user
// visibility rules; see DESIGN.md).
type QueueStore struct {
	db *sqlx.DB
}

func OpenQueueStore(db *sql.DB, driverName string) *QueueStore {
	return &QueueStore{db: sqlx.NewDb(db, driverName)}
}

func (s *QueueStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS `+queueTableName+` (
	queue_id           VARCHAR(36) PRIMARY KEY,
	client_job_id      VARCHAR(64) NOT NULL DEFAULT '',
	username           VARCHAR(64) NOT NULL,
	status             VARCHAR(16) NOT NULL,
	content            TEXT NOT NULL,
	processors         TEXT NOT NULL,
	results            TEXT,
	datetime_submitted TIMESTAMP NOT NULL,
	datetime_completed TIMESTAMP
)`)
	if err != nil {
		return apperrors.TransientError("nlprp", "EnsureSchema", apperrors.CodeTransientDatabase, err.Error()).Wrap(err)
	}
	return nil
}

// Submit persists a new queued request, returning its generated queue_id.
func (s *QueueStore) Submit(ctx context.Context, username string, clientJobID string, content []ContentItem, selectors []ProcessorSelector) (string, error) {
	queueID := uuid.NewString()
	contentJSON, err := json.Marshal(content)
	if err != nil {
		return "", apperrors.ConfigError("nlprp", "Submit", apperrors.CodeConfigInvalid, err.Error())
	}
	selectorsJSON, err := json.Marshal(selectors)
	if err != nil {
		return "", apperrors.ConfigError("nlprp", "Submit", apperrors.CodeConfigInvalid, err.Error())
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO `+queueTableName+`
	(queue_id, client_job_id, username, status, content, processors, datetime_submitted)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		queueID, clientJobID, username, string(QueueStatusBusy), string(contentJSON), string(selectorsJSON), time.Now().UTC())
	if err != nil {
		return "", apperrors.TransientError("nlprp", "Submit", apperrors.CodeTransientDatabase, err.Error()).Wrap(err)
	}
	return queueID, nil
}

// Complete records a queued request's results and flips it to ready.
func (s *QueueStore) Complete(ctx context.Context, queueID string, results []ContentResult) error {
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return apperrors.ConfigError("nlprp", "Complete", apperrors.CodeConfigInvalid, err.Error())
	}
	_, err = s.db.ExecContext(ctx, `
UPDATE `+queueTableName+`
SET status = ?, results = ?, datetime_completed = ?
WHERE queue_id = ?`, string(QueueStatusReady), string(resultsJSON), time.Now().UTC(), queueID)
	if err != nil {
		return apperrors.TransientError("nlprp", "Complete", apperrors.CodeTransientDatabase, err.Error()).Wrap(err)
	}
	return nil
}

// Get fetches one queue record, scoped to username (an empty username
// matches any user).
func (s *QueueStore) Get(ctx context.Context, queueID, username string) (*QueueRecord, error) {
	var row queueRow
	query := `SELECT * FROM ` + queueTableName + ` WHERE queue_id = ?`
	args := []any{queueID}
	if username != "" {
		query += ` AND username = ?`
		args = append(args, username)
	}
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apperrors.TransientError("nlprp", "Get", apperrors.CodeTransientDatabase, err.Error()).Wrap(err)
	}
	return rowToRecord(row)
}

// List returns every queue entry visible to username, optionally
// filtered to one client_job_id.
func (s *QueueStore) List(ctx context.Context, username, clientJobID string) ([]*QueueRecord, error) {
	query := `SELECT * FROM ` + queueTableName + ` WHERE username = ?`
	args := []any{username}
	if clientJobID != "" {
		query += ` AND client_job_id = ?`
		args = append(args, clientJobID)
	}

	var rows []queueRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, apperrors.TransientError("nlprp", "List", apperrors.CodeTransientDatabase, err.Error()).Wrap(err)
	}

	out := make([]*QueueRecord, 0, len(rows))
	for _, r := range rows {
		rec, err := rowToRecord(r)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Delete removes a queue entry, scoped to username.
func (s *QueueStore) Delete(ctx context.Context, queueID, username string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM `+queueTableName+` WHERE queue_id = ? AND username = ?`, queueID, username)
	if err != nil {
		return apperrors.TransientError("nlprp", "Delete", apperrors.CodeTransientDatabase, err.Error()).Wrap(err)
	}
	return nil
}

// DeleteAllForUser removes every queue entry belonging to username,
// implementing delete_from_queue's delete_all option.
func (s *QueueStore) DeleteAllForUser(ctx context.Context, username string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM `+queueTableName+` WHERE username = ?`, username)
	if err != nil {
		return apperrors.TransientError("nlprp", "DeleteAllForUser", apperrors.CodeTransientDatabase, err.Error()).Wrap(err)
	}
	return nil
}

func rowToRecord(row queueRow) (*QueueRecord, error) {
	var content []ContentItem
	if err := json.Unmarshal([]byte(row.Content), &content); err != nil {
		return nil, apperrors.SchemaError("nlprp", "rowToRecord", apperrors.CodeSchemaTypeConflict, err.Error())
	}
	var selectors []ProcessorSelector
	if err := json.Unmarshal([]byte(row.Processors), &selectors); err != nil {
		return nil, apperrors.SchemaError("nlprp", "rowToRecord", apperrors.CodeSchemaTypeConflict, err.Error())
	}
	var results []ContentResult
	if row.Results.Valid && row.Results.String != "" {
		if err := json.Unmarshal([]byte(row.Results.String), &results); err != nil {
			return nil, apperrors.SchemaError("nlprp", "rowToRecord", apperrors.CodeSchemaTypeConflict, err.Error())
		}
	}

	rec := &QueueRecord{
		QueueID:           row.QueueID,
		ClientJobID:       row.ClientJobID,
		Username:          row.Username,
		Status:            QueueStatus(row.Status),
		Content:           content,
		Selectors:         selectors,
		Results:           results,
		DatetimeSubmitted: row.DatetimeSubmitted,
	}
	if row.DatetimeCompleted.Valid {
		rec.DatetimeCompleted = &row.DatetimeCompleted.Time
	}
	return rec, nil
}
