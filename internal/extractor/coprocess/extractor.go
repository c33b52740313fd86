package coprocess

import (
	"context"
	"strconv"
	"sync"

	apperrors "cratenlp/pkg/errors"
	"cratenlp/pkg/nlpcore"

	"github.com/sirupsen/logrus"
)

// Extractor is CoprocessExtractor: one long-lived external process fed
// one record at a time over stdin/stdout, per the state machine
// STARTING -> READY -> BUSY -> READY -> ... -> CRASHED | STOPPED.
// Grounded on the teacher's docker_json_parser.go line-oriented parsing
// discipline (internal/monitors/docker_json_parser.go), generalised from
// a JSON-lines Docker log stream to the coprocess key/value line
// protocol, and on pkg/docker/context_reader.go for wrapping a blocking
// child-process read so it can be torn down by context cancellation.
type Extractor struct {
	name      string
	title     string
	version   string
	destTable string
	cfg       Config
	logger    *logrus.Logger

	mu             sync.Mutex
	proc           *child
	state          State
	usesSinceStart int
}

// New builds a CoprocessExtractor. The child process is not started until
// the first ProcessBatch call.
func New(name, title, version, destTable string, cfg Config, logger *logrus.Logger) *Extractor {
	if logger == nil {
		logger = logrus.New()
	}
	return &Extractor{
		name:      name,
		title:     title,
		version:   version,
		destTable: destTable,
		cfg:       cfg,
		logger:    logger,
		state:     StateStopped,
	}
}

// Describe reports an unknown schema type: a coprocess's output columns
// vary per line and are not known until a record has actually been run.
func (e *Extractor) Describe(ctx context.Context) ([]nlpcore.ProcessorDescriptor, error) {
	return []nlpcore.ProcessorDescriptor{
		{
			Name:       e.name,
			Title:      e.title,
			Version:    e.version,
			SchemaType: "unknown",
		},
	}, nil
}

// ensureStarted spawns the child if it is not currently READY. Must be
// called with e.mu held.
func (e *Extractor) ensureStarted(ctx context.Context) error {
	if e.state == StateReady {
		return nil
	}
	e.state = StateStarting
	proc, err := startChild(ctx, e.cfg, e.logger)
	if err != nil {
		e.state = StateCrashed
		return err
	}
	e.proc = proc
	e.usesSinceStart = 0
	e.state = StateReady
	return nil
}

// processOne runs one record through the started child. Must be called
// with e.mu held. On any protocol fault the child is killed and the
// extractor's state moves to CRASHED; the caller decides whether to
// restart and retry.
func (e *Extractor) processOne(ctx context.Context, rec nlpcore.SourceRecord) ([]*nlpcore.ExtractionRow, error) {
	e.state = StateBusy

	type outcome struct {
		lines []string
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		if err := e.proc.send(rec.Text, e.cfg.InputTerminator); err != nil {
			done <- outcome{err: err}
			return
		}
		lines, err := e.proc.readUntilTerminator(e.cfg.OutputTerminator)
		done <- outcome{lines: lines, err: err}
	}()

	var res outcome
	select {
	case <-ctx.Done():
		e.proc.kill()
		e.state = StateCrashed
		return nil, apperrors.TransientError("coprocess", "processOne", apperrors.CodeTransientPipe,
			"context cancelled mid-record").Wrap(ctx.Err())
	case res = <-done:
	}

	if res.err != nil {
		e.proc.kill()
		e.state = StateCrashed
		return nil, res.err
	}

	rows := make([]*nlpcore.ExtractionRow, 0, len(res.lines))
	for _, fields := range parseRecordLines(res.lines) {
		row := nlpcore.NewExtractionRow(e.destTable)
		for k, v := range fields {
			row.SetColumn(k, v)
		}
		rows = append(rows, row)
	}

	e.usesSinceStart++
	if e.cfg.MaxUses > 0 && e.usesSinceStart >= e.cfg.MaxUses {
		e.proc.stop()
		e.proc = nil
		e.state = StateStopped
	} else {
		e.state = StateReady
	}
	return rows, nil
}

// ProcessBatch runs every record through the child in order, one in
// flight at a time. A crashed child is restarted and the failing record
// retried exactly once before the record is recorded as a failure, per
// the coprocess recovery policy.
func (e *Extractor) ProcessBatch(ctx context.Context, records []nlpcore.SourceRecord) ([]nlpcore.PerRecordResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	results := make([]nlpcore.PerRecordResult, 0, len(records))
	for i, rec := range records {
		recordID := recordIdentity(rec, i)
		result := nlpcore.ProcessorResult{Name: e.name, Success: true}

		rows, err := e.runWithOneRetry(ctx, rec)
		if err != nil {
			result.Success = false
			result.Errors = []string{err.Error()}
		} else {
			result.Rows = rows
		}

		results = append(results, nlpcore.PerRecordResult{
			RecordID:         recordID,
			ProcessorResults: []nlpcore.ProcessorResult{result},
		})
	}
	return results, nil
}

func (e *Extractor) runWithOneRetry(ctx context.Context, rec nlpcore.SourceRecord) ([]*nlpcore.ExtractionRow, error) {
	if err := e.ensureStarted(ctx); err != nil {
		return nil, err
	}
	rows, err := e.processOne(ctx, rec)
	if err == nil {
		return rows, nil
	}

	e.logger.WithFields(logrus.Fields{"processor": e.name}).Warn("coprocess child crashed, restarting and retrying once")
	if startErr := e.ensureStarted(ctx); startErr != nil {
		return nil, startErr
	}
	return e.processOne(ctx, rec)
}

// Close stops the child process, if one is running.
func (e *Extractor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.proc == nil {
		return nil
	}
	err := e.proc.stop()
	e.proc = nil
	e.state = StateStopped
	return err
}

func recordIdentity(rec nlpcore.SourceRecord, index int) string {
	if rec.IsStringPK() {
		return rec.PKString
	}
	return strconv.FormatInt(rec.PKValue, 10)
}
