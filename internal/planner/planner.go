// Package planner implements Planner: a deterministic, resumable,
// partition-aware stream of SourceRecords pulled from one input table.
package planner

import (
	"context"
	"fmt"
	"time"

	"cratenlp/internal/config"
	"cratenlp/internal/progress"
	apperrors "cratenlp/pkg/errors"
	"cratenlp/pkg/nlpcore"

	"github.com/jmoiron/sqlx"
)

// datetimeLayouts are tried in order when parsing a source datetime
// column value, since the wire value may come from drivers that hand
// back a pre-formatted string rather than a time.Time.
var datetimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseDatetimeValue(s string) *time.Time {
	for _, layout := range datetimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// sourceRow is the generic scan target for one page of a source table.
// PKString is populated only when the source PK column holds non-integer
// values; rowFromScan tells which from the type of the scanned value.
type sourceRow struct {
	PKInt         int64
	PKString      string
	Text          string
	DatetimeValue *string
	CopyValues    map[string]any
}

// Planner pulls pages of SourceRecords from one InputFieldSpec, ordered
// by source PK, applying the shard partition predicate and (in
// incremental mode) change detection against ProgressStore. One Planner
// instance is scoped to one (NlpDefinition, InputFieldSpec) pair;
// NextBatch is the pull-based primary operation per the pipeline's
// required re-architecture away from iterator/generator chains.
type Planner struct {
	db         *sqlx.DB
	store      *progress.Store
	def        *nlpcore.NlpDefinition
	input      nlpcore.InputFieldSpec
	shardIndex int
	shardCount int
	fullMode   bool
	chunksize  int

	lastPKInt int64
	lastPKStr string
	havePKStr bool // true once a string-PK row has been seen; switches fetchPage to page on lastPKStr
	started   bool
	exhausted bool
	knownPKs  map[int64]bool // accumulated across NextBatch calls, for full-mode deletion sweep
}

// New builds a Planner for one input spec of an NlpDefinition, scoped to
// one coordinator shard.
func New(db *sqlx.DB, store *progress.Store, def *nlpcore.NlpDefinition, input nlpcore.InputFieldSpec, shardIndex, shardCount int, fullMode bool, chunksize int) *Planner {
	if chunksize <= 0 {
		chunksize = 1000
	}
	return &Planner{
		db:         db,
		store:      store,
		def:        def,
		input:      input,
		shardIndex: shardIndex,
		shardCount: shardCount,
		fullMode:   fullMode,
		chunksize:  chunksize,
		knownPKs:   make(map[int64]bool),
	}
}

// NextBatch returns the next page of SourceRecords belonging to this
// shard, applying incremental change detection unless running in full
// mode. An empty, nil-error result means the input is exhausted.
func (p *Planner) NextBatch(ctx context.Context, maxRows int, maxBytes int64) ([]nlpcore.SourceRecord, error) {
	if p.exhausted {
		return nil, nil
	}
	if maxRows <= 0 || maxRows > p.chunksize {
		maxRows = p.chunksize
	}

	rows, err := p.fetchPage(ctx, maxRows)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		p.exhausted = true
		return nil, nil
	}
	last := rows[len(rows)-1]
	if last.PKString != "" {
		p.havePKStr = true
		p.lastPKStr = last.PKString
	} else {
		p.lastPKInt = last.PKInt
	}
	if len(rows) < maxRows {
		p.exhausted = true
	}

	var batch []nlpcore.SourceRecord
	var bytesSoFar int64

	for i, r := range rows {
		pkInt := r.PKInt
		if r.PKString != "" {
			pkInt = nlpcore.StringPKSurrogate(r.PKString)
		}
		if !p.belongsToShard(pkInt) {
			continue
		}
		p.knownPKs[pkInt] = true

		text := r.Text
		if p.def.TruncateTextAt > 0 && len(text) > p.def.TruncateTextAt {
			text = text[:p.def.TruncateTextAt]
		}

		hash := nlpcore.SourceHash(p.def.HashKey, text, r.CopyValues)

		if !p.fullMode {
			existing, err := p.store.Get(ctx, p.def.Name, p.input.SourceDB, p.input.Table, pkInt)
			if err != nil {
				return nil, err
			}
			if existing != nil && existing.SourceHash == hash {
				continue // unchanged: incremental mode skips it entirely
			}
		}

		rec := nlpcore.SourceRecord{
			InputSpec:  p.input,
			PKValue:    pkInt,
			Text:       text,
			CopyValues: r.CopyValues,
			SourceHash: hash,
		}
		if r.PKString != "" {
			rec.PKString = r.PKString
		}
		if r.DatetimeValue != nil {
			rec.DatetimeValue = parseDatetimeValue(*r.DatetimeValue)
		}

		bytesSoFar += int64(len(text))
		batch = append(batch, rec)

		if len(batch) >= maxRows || bytesSoFar >= maxBytes && maxBytes > 0 {
			if i < len(rows)-1 {
				p.exhausted = false
				if r.PKString != "" {
					p.lastPKStr = r.PKString
				} else {
					p.lastPKInt = r.PKInt
				}
			}
			break
		}
	}

	if len(batch) == 0 && !p.exhausted {
		return p.NextBatch(ctx, maxRows, maxBytes)
	}
	return batch, nil
}

// belongsToShard applies the disjoint-partition predicate: pk mod N ==
// shard_index. Used identically whether pkInt came from a genuine
// integer source PK or the string-PK surrogate hash, which is the point
// of computing a surrogate in the first place.
func (p *Planner) belongsToShard(pkInt int64) bool {
	if p.shardCount <= 1 {
		return true
	}
	mod := pkInt % int64(p.shardCount)
	if mod < 0 {
		mod += int64(p.shardCount)
	}
	return mod == int64(p.shardIndex)
}

// KnownPKs returns every integer (or surrogate) PK seen so far across all
// NextBatch calls, for the Controller's end-of-run
// ProgressStore.DeleteAbsentSources sweep in full mode.
func (p *Planner) KnownPKs() map[int64]bool {
	return p.knownPKs
}

func (p *Planner) fetchPage(ctx context.Context, limit int) ([]sourceRow, error) {
	selectList := append([]string{p.input.PKColumn, p.input.TextColumn}, p.input.CopyColumns...)
	if p.input.DatetimeColumn != "" {
		selectList = append(selectList, p.input.DatetimeColumn)
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s > ? ORDER BY %s ASC LIMIT ?",
		joinComma(selectList), p.input.Table, p.input.PKColumn, p.input.PKColumn)

	var cursor any = p.lastPKInt
	if p.havePKStr {
		cursor = p.lastPKStr
	}
	raw, err := p.db.QueryxContext(ctx, p.db.Rebind(query), cursor, limit)
	if err != nil {
		return nil, apperrors.TransientError("planner", "fetchPage", apperrors.CodeTransientDatabase, err.Error()).Wrap(err)
	}
	defer raw.Close()

	var out []sourceRow
	for raw.Next() {
		cols, err := raw.SliceScan()
		if err != nil {
			return nil, apperrors.TransientError("planner", "fetchPage", apperrors.CodeTransientDatabase, err.Error()).Wrap(err)
		}
		out = append(out, rowFromScan(p.input, selectList, cols))
	}
	return out, raw.Err()
}

func rowFromScan(input nlpcore.InputFieldSpec, selectList []string, values []any) sourceRow {
	row := sourceRow{CopyValues: make(map[string]any)}
	for i, col := range selectList {
		v := values[i]
		switch col {
		case input.PKColumn:
			switch t := v.(type) {
			case int64:
				row.PKInt = t
			case []byte:
				row.PKString = string(t)
			case string:
				row.PKString = t
			}
		case input.TextColumn:
			switch t := v.(type) {
			case []byte:
				row.Text = string(t)
			case string:
				row.Text = t
			}
		case input.DatetimeColumn:
			switch t := v.(type) {
			case []byte:
				s := string(t)
				row.DatetimeValue = &s
			case string:
				row.DatetimeValue = &t
			case time.Time:
				s := t.Format(time.RFC3339)
				row.DatetimeValue = &s
			}
		default:
			row.CopyValues[col] = v
		}
	}
	return row
}

func joinComma(items []string) string {
	out := items[0]
	for _, i := range items[1:] {
		out += ", " + i
	}
	return out
}

// HashKeyFromConfig builds the NlpDefinition hash key from the configured
// hashphrase, matching the shared-secret requirement in the data model.
func HashKeyFromConfig(def config.NlpDefConfig) []byte {
	return []byte(def.HashPhrase)
}
