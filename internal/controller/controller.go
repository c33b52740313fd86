// Package controller implements Controller: the per-process engine loop
// that pulls batches from one Planner, fans them out across an
// NlpDefinition's bound extractors, injects the standard metadata
// columns, and stages the resulting rows on each processor's
// DestinationWriter.
//
// Grounded on the teacher's internal/dispatcher/dispatcher.go worker
// loop shape (pull a batch, process it, retry-or-record failures, flush
// on exit) generalized from a channel-fed fan-out-to-sinks loop to a
// pull-based fan-out-to-extractors loop; the per-run failure ledger is
// adapted from pkg/dlq/dead_letter_queue.go's failed-item bookkeeping,
// narrowed from a persistent reprocessing queue to an in-memory
// end-of-run summary (see DESIGN.md's Resolved Open Questions — a
// per-record failure is terminal for the run by design, not requeued).
package controller

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"cratenlp/internal/destination"
	"cratenlp/internal/metrics"
	"cratenlp/internal/planner"
	"cratenlp/internal/progress"
	apperrors "cratenlp/pkg/errors"
	"cratenlp/pkg/nlpcore"

	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"
)

// Target binds one ExtractorBinding to the DestinationWriter its rows
// land on. An NlpDefinition may bind several processors, each to its
// own [output:NAME]/[database:NAME] pair, so Controller is handed one
// Target per binding rather than a single shared Writer.
type Target struct {
	Binding nlpcore.ExtractorBinding
	Writer  *destination.Writer
}

// Config carries the run-level policy knobs from spec.md §3/§6: commit
// batching size, the stop_at_failure propagation choice, and whether a
// full run should sweep deleted source rows out of ProgressStore.
type Config struct {
	ChunkSize        int
	MaxBytesPerBatch int64
	StopAtFailure    bool
	FullMode         bool
	SkipDelete       bool
	CrateVersion     string
}

// FailureSample is one recorded per-record extraction failure, kept for
// the end-of-run summary (spec.md §7 "user-visible behaviour").
type FailureSample struct {
	Processor string
	RecordID  string
	Message   string
}

// Summary is Controller.Run's report of what happened, used by the CLI
// to choose an exit code (spec.md §6a: 0 success, 2 partial record
// failures, 3 aborted on stop_at_failure).
type Summary struct {
	RecordsRead         int
	RecordsFailed        int
	FailuresByProcessor map[string]int
	Failures            []FailureSample
	Aborted             bool
	SourcesDeleted      map[string][]int64 // source table -> deleted PKs, full mode only
}

// Controller is the per-process engine loop, scoped to one
// (NlpDefinition, InputFieldSpec) pair — one Planner's worth of work.
// An NlpDefinition with several inputs is run as several Controllers
// (see internal/app), since Planner itself is scoped the same way.
type Controller struct {
	def           *nlpcore.NlpDefinition
	input         nlpcore.InputFieldSpec
	planner       *planner.Planner
	registry      *nlpcore.ExtractorRegistry
	targets       []Target
	progressStore *progress.Store
	logger        *logrus.Logger
	cfg           Config

	mu       sync.Mutex
	failures []FailureSample
	byProc   map[string]int
}

func New(def *nlpcore.NlpDefinition, input nlpcore.InputFieldSpec, p *planner.Planner, registry *nlpcore.ExtractorRegistry,
	targets []Target, progressStore *progress.Store, logger *logrus.Logger, cfg Config) *Controller {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	return &Controller{
		def:           def,
		input:         input,
		planner:       p,
		registry:      registry,
		targets:       targets,
		progressStore: progressStore,
		logger:        logger,
		cfg:           cfg,
		byProc:        make(map[string]int),
	}
}

// recordOutcome accumulates one batch record's per-processor rows as
// each Target's ProcessBatch result comes back, so Controller can defer
// staging until every bound processor has reported on that record.
type recordOutcome struct {
	rows   map[string][]*nlpcore.ExtractionRow
	failed bool
}

// Run drains the Planner to exhaustion, one chunk at a time, and
// returns once every staged Writer has flushed. stop_at_failure aborts
// the run immediately on the first record-level or processor-level
// failure; otherwise failures are recorded and the affected record is
// simply left without a progress entry, so the next incremental run
// reprocesses it naturally.
func (c *Controller) Run(ctx context.Context) (Summary, error) {
	summary := Summary{FailuresByProcessor: make(map[string]int)}

	for {
		select {
		case <-ctx.Done():
			return c.finish(summary, ctx)
		default:
		}

		batch, err := c.planner.NextBatch(ctx, c.cfg.ChunkSize, c.cfg.MaxBytesPerBatch)
		if err != nil {
			return summary, err
		}
		if len(batch) == 0 {
			break
		}
		summary.RecordsRead += len(batch)
		metrics.RecordRecordsRead(c.def.Name, c.input.Table, len(batch))

		byIdentity := make(map[string]nlpcore.SourceRecord, len(batch))
		outcomes := make(map[string]*recordOutcome, len(batch))
		for _, rec := range batch {
			id := recordIdentity(rec)
			byIdentity[id] = rec
			outcomes[id] = &recordOutcome{rows: make(map[string][]*nlpcore.ExtractionRow)}
		}

		for _, target := range c.targets {
			extractor, ok := c.registry.Get(target.Binding.ProcessorName)
			if !ok {
				return summary, apperrors.ConfigError("controller", "Run", apperrors.CodeConfigUnknownProcessor,
					"no extractor registered for processor "+target.Binding.ProcessorName)
			}

			batchStart := time.Now()
			results, err := extractor.ProcessBatch(ctx, batch)
			metrics.RecordExtractorBatch(target.Binding.ProcessorName, target.Binding.ExtractorType, time.Since(batchStart))
			if err != nil {
				if c.cfg.StopAtFailure {
					summary.Aborted = true
					return c.abort(summary, ctx, err)
				}
				for id := range outcomes {
					c.recordFailure(target.Binding.ProcessorName, id, err.Error())
					if !outcomes[id].failed {
						outcomes[id].failed = true
						summary.RecordsFailed++
					}
				}
				continue
			}

			for _, pr := range results {
				outcome, ok := outcomes[pr.RecordID]
				if !ok {
					continue // extractor reported a record identity Controller never sent it
				}
				for _, procResult := range pr.ProcessorResults {
					if !procResult.Success {
						message := strings.Join(procResult.Errors, "; ")
						c.recordFailure(procResult.Name, pr.RecordID, message)
						if !outcome.failed {
							outcome.failed = true
							summary.RecordsFailed++
						}
						if c.cfg.StopAtFailure {
							summary.Aborted = true
							return c.abort(summary, ctx, apperrors.RecordError("controller", "Run", apperrors.CodeRecordExtractorFailure, message))
						}
						continue
					}
					outcome.rows[procResult.Name] = append(outcome.rows[procResult.Name], procResult.Rows...)
				}
			}
		}

		for id, rec := range byIdentity {
			outcome := outcomes[id]
			if outcome.failed {
				continue
			}

			entry := c.buildProgressEntry(rec)
			for _, target := range c.targets {
				rows := outcome.rows[target.Binding.ProcessorName]
				for i, row := range rows {
					c.injectMetadata(row, rec, entry, i)
				}
				if err := target.Writer.Stage(ctx, rows, entry, approxRowBytes(rows)); err != nil {
					return summary, err
				}
				if len(rows) > 0 {
					metrics.RecordRowsWritten(c.def.Name, rows[0].Table, len(rows))
				}
			}
			metrics.RecordProgressUpsert(c.def.Name, c.input.Table)
		}
	}

	return c.finish(summary, ctx)
}

// abort flushes every Writer's already-staged, below-threshold records
// before returning the triggering error, so a stop_at_failure abort
// loses at most the in-flight batch, not prior successful ones.
// The full-mode deletion sweep is deliberately skipped: an aborted run
// never saw every source row, so its KnownPKs set is incomplete and
// cannot be trusted to name every row that is still present.
func (c *Controller) abort(summary Summary, ctx context.Context, cause error) (Summary, error) {
	for _, target := range c.targets {
		if flushErr := target.Writer.Flush(ctx); flushErr != nil {
			c.logger.WithError(flushErr).Warn("failed to flush writer during aborted run")
		}
	}
	c.mu.Lock()
	summary.Failures = c.failures
	for proc, n := range c.byProc {
		summary.FailuresByProcessor[proc] = n
	}
	c.mu.Unlock()
	return summary, cause
}

func (c *Controller) finish(summary Summary, ctx context.Context) (Summary, error) {
	for _, target := range c.targets {
		if err := target.Writer.Flush(ctx); err != nil {
			return summary, err
		}
	}

	if c.cfg.FullMode && !c.cfg.SkipDelete {
		deleted, err := c.progressStore.DeleteAbsentSources(ctx, c.def.Name, c.input.Table, c.planner.KnownPKs())
		if err != nil {
			return summary, err
		}
		if len(deleted) > 0 {
			summary.SourcesDeleted = map[string][]int64{c.input.Table: deleted}
			c.logger.WithFields(logrus.Fields{
				"nlpdef": c.def.Name, "table": c.input.Table, "count": len(deleted),
			}).Info("removed progress entries for sources no longer present")
		}
	}

	c.mu.Lock()
	summary.Failures = c.failures
	for proc, n := range c.byProc {
		summary.FailuresByProcessor[proc] = n
	}
	c.mu.Unlock()

	return summary, nil
}

func (c *Controller) recordFailure(processor, recordID, message string) {
	metrics.RecordRecordFailed(c.def.Name, processor)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, FailureSample{Processor: processor, RecordID: recordID, Message: message})
	c.byProc[processor]++
	c.logger.WithFields(logrus.Fields{
		"processor": processor, "record_id": recordID,
	}).WithError(apperrors.RecordError("controller", "recordFailure", apperrors.CodeRecordExtractorFailure, message)).
		Warn("record failed extraction, no progress entry written")
}

func (c *Controller) buildProgressEntry(rec nlpcore.SourceRecord) nlpcore.ProgressEntry {
	return nlpcore.ProgressEntry{
		NlpDefinitionName: c.def.Name,
		SourceDB:          rec.InputSpec.SourceDB,
		SourceTable:       rec.InputSpec.Table,
		SourcePKInt:       rec.PKValue,
		SourcePKString:    rec.PKString,
		SourceHash:        rec.SourceHash,
		WhenFetchedUTC:    time.Now().UTC(),
		CrateVersion:      c.cfg.CrateVersion,
	}
}

// injectMetadata sets the standard _pk/_nlpdef/... columns (spec.md §6)
// on an extractor-produced row. _pk is a deterministic hash of the
// record's identity, its destination table, and the row's position
// within that record's output, rather than a process-local counter:
// disjoint shard processes write into the same destination table
// concurrently, and a per-process counter would collide across shards
// where an xxhash-derived value will not.
func (c *Controller) injectMetadata(row *nlpcore.ExtractionRow, rec nlpcore.SourceRecord, entry nlpcore.ProgressEntry, rowIndex int) {
	row.SetColumn("_pk", syntheticPK(c.def.Name, row.Table, rec, rowIndex))
	row.SetColumn("_nlpdef", c.def.Name)
	row.SetColumn("_srcdb", rec.InputSpec.SourceDB)
	row.SetColumn("_srctable", rec.InputSpec.Table)
	row.SetColumn("_srcpkfield", rec.InputSpec.PKColumn)
	row.SetColumn("_srcpkval", rec.PKValue)
	if rec.PKString != "" {
		row.SetColumn("_srcpkstr", rec.PKString)
	}
	row.SetColumn("_srcfield", rec.InputSpec.TextColumn)
	if rec.InputSpec.DatetimeColumn != "" {
		row.SetColumn("_srcdatetimefield", rec.InputSpec.DatetimeColumn)
	}
	if rec.DatetimeValue != nil {
		row.SetColumn("_srcdatetimeval", *rec.DatetimeValue)
	}
	row.SetColumn("_crate_version", entry.CrateVersion)
	row.SetColumn("_when_fetched_utc", entry.WhenFetchedUTC)
}

func syntheticPK(nlpdef, table string, rec nlpcore.SourceRecord, rowIndex int) int64 {
	var b strings.Builder
	b.WriteString(nlpdef)
	b.WriteByte('|')
	b.WriteString(table)
	b.WriteByte('|')
	b.WriteString(recordIdentity(rec))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(rowIndex))
	sum := xxhash.Sum64String(b.String())
	return int64(sum & 0x7fffffffffffffff)
}

func recordIdentity(rec nlpcore.SourceRecord) string {
	if rec.IsStringPK() {
		return rec.PKString
	}
	return strconv.FormatInt(rec.PKValue, 10)
}

func approxRowBytes(rows []*nlpcore.ExtractionRow) int64 {
	var total int64
	for _, row := range rows {
		for _, v := range row.CopyColumns() {
			if s, ok := v.(string); ok {
				total += int64(len(s))
			} else {
				total += 8
			}
		}
	}
	return total
}
