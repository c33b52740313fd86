package app

import (
	"context"
	"fmt"
	"sync"

	"cratenlp/internal/config"
	"cratenlp/internal/controller"
	"cratenlp/internal/destination"
	"cratenlp/internal/extractor/coprocess"
	"cratenlp/internal/extractor/regex"
	"cratenlp/internal/extractor/remote"
	"cratenlp/internal/nlprp"
	"cratenlp/internal/planner"
	"cratenlp/internal/progress"
	apperrors "cratenlp/pkg/errors"
	"cratenlp/pkg/nlpcore"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// App owns every database connection and extractor lifetime for one
// process invocation, whether that invocation runs a single shard
// in-process, runs as one Coordinator-spawned shard, or serves NLPRP.
// Grounded on the teacher's internal/app/app.go top-level wiring object
// (lazy per-source *sql.DB cache keyed by name, one shared logger),
// generalized from log-source connections to CRATE's
// database/input/processor/output section graph.
type App struct {
	cfg    *config.Config
	logger *logrus.Logger

	mu        sync.Mutex
	databases map[string]*sqlx.DB
}

// New wires an App against an already loaded and validated Config. It
// opens no database connections itself; every [database:NAME] is opened
// lazily the first time some processor or progress store needs it.
func New(cfg *config.Config, logger *logrus.Logger) *App {
	return &App{cfg: cfg, logger: logger, databases: make(map[string]*sqlx.DB)}
}

// database lazily opens and caches the [database:NAME] connection named
// dbName, so two processors sharing a destdb share one *sqlx.DB and one
// connection pool.
func (a *App) database(dbName string) (*sqlx.DB, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if db, ok := a.databases[dbName]; ok {
		return db, nil
	}
	dbCfg, ok := a.cfg.Databases[dbName]
	if !ok {
		return nil, apperrors.ConfigError("app", "database", apperrors.CodeConfigUnknownDatabase,
			"no [database:"+dbName+"] section")
	}
	db, err := openDatabase(dbCfg)
	if err != nil {
		return nil, err
	}
	a.databases[dbName] = db
	return db, nil
}

// Close releases every database connection this App has opened so far.
// Errors from individual closes are collected but do not stop the rest
// from being attempted; the first is returned.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var firstErr error
	for name, db := range a.databases {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing database %s: %w", name, err)
		}
	}
	return firstErr
}

// RunOptions carries the CLI-level knobs that vary per invocation of an
// otherwise static NlpDefinition: which shard this process is, whether
// it is running --full or --incremental, and the two destructive-mode
// flags (SkipDelete only matters in a full run; DropRemake is applied
// whenever it is set).
type RunOptions struct {
	ShardIndex   int
	ShardCount   int
	FullMode     bool
	SkipDelete   bool
	DropRemake   bool
	ChunkSize    int
	CrateVersion string

	// CommitRows/CommitBytes override the nlpdef's configured commit
	// thresholds when non-zero, backing --commit-rows/--commit-bytes.
	CommitRows  int
	CommitBytes int64
}

// RunNlpDef runs one [nlpdef:NAME] definition to completion as this
// process's shard of ShardCount, building one Controller per bound
// input and returning each Controller's Summary. cmd/cratenlp calls this
// directly for a single-shard invocation, or once per spawned worker
// when running under a Coordinator.
func (a *App) RunNlpDef(ctx context.Context, nlpDefName string, opts RunOptions) ([]controller.Summary, error) {
	defCfg, ok := a.cfg.NlpDefs[nlpDefName]
	if !ok {
		return nil, apperrors.ConfigError("app", "RunNlpDef", apperrors.CodeConfigInvalid,
			"no [nlpdef:"+nlpDefName+"] section")
	}

	progressDB, err := a.database(defCfg.ProgressDB)
	if err != nil {
		return nil, err
	}
	progressDialect := a.cfg.Databases[defCfg.ProgressDB].Dialect
	store := progress.Open(progressDB.DB, driverNames[progressDialect])
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	def, err := a.buildNlpDefinition(defCfg, opts)
	if err != nil {
		return nil, err
	}

	registry := nlpcore.NewExtractorRegistry()
	defer registry.CloseAll()

	targets, err := a.buildTargets(ctx, defCfg, def, registry, store, opts)
	if err != nil {
		return nil, err
	}

	cfg := controller.Config{
		ChunkSize:        opts.ChunkSize,
		MaxBytesPerBatch: def.CommitBytes,
		StopAtFailure:    def.StopAtFailure,
		FullMode:         opts.FullMode,
		SkipDelete:       opts.SkipDelete || defCfg.SkipDelete,
		CrateVersion:     opts.CrateVersion,
	}

	summaries := make([]controller.Summary, 0, len(def.Inputs))
	for _, inputSpec := range def.Inputs {
		srcDB, err := a.database(inputSpec.SourceDB)
		if err != nil {
			return summaries, err
		}

		p := planner.New(srcDB, store, def, inputSpec, opts.ShardIndex, opts.ShardCount, opts.FullMode, opts.ChunkSize)
		ctrl := controller.New(def, inputSpec, p, registry, targets, store, a.logger, cfg)

		summary, err := ctrl.Run(ctx)
		summaries = append(summaries, summary)
		if err != nil {
			return summaries, err
		}
	}

	return summaries, nil
}

// DescribeProcessors builds every processor bound to nlpDefName and
// returns each one's declared schema, without opening any destination
// database or running a pipeline. Backs --listprocessors/
// --describeprocessors.
func (a *App) DescribeProcessors(ctx context.Context, nlpDefName string) ([]nlpcore.ProcessorDescriptor, error) {
	defCfg, ok := a.cfg.NlpDefs[nlpDefName]
	if !ok {
		return nil, apperrors.ConfigError("app", "DescribeProcessors", apperrors.CodeConfigInvalid,
			"no [nlpdef:"+nlpDefName+"] section")
	}

	var out []nlpcore.ProcessorDescriptor
	for _, procName := range defCfg.Processors {
		procCfg, ok := a.cfg.Processors[procName]
		if !ok {
			return nil, apperrors.ConfigError("app", "DescribeProcessors", apperrors.CodeConfigUnknownProcessor,
				"[nlpdef:"+defCfg.Name+"] references undefined [processor:"+procName+"]")
		}
		extractor, err := a.buildExtractor(procCfg, defCfg)
		if err != nil {
			return nil, err
		}
		descs, err := extractor.Describe(ctx)
		extractor.Close()
		if err != nil {
			return nil, err
		}
		out = append(out, descs...)
	}
	return out, nil
}

// BuildNLPRPServer builds an nlprp.Server exposing every processor bound
// to any [nlpdef:NAME] in this config, keyed by processor name. A remote
// processor's cloud config comes from whichever nlpdef first binds it,
// since a [processor:NAME] section does not itself name one (only the
// owning nlpdef's cloud_config does) — the same cloud account is assumed
// for all of a processor's callers, which holds for every config this
// implementation has seen exercised. The queue backing store lives in
// the lexicographically first [database:NAME] section; spec.md's
// [server:NAME] fields name no dedicated queue database, so this reuses
// whichever database section sorts first, a deterministic but arbitrary
// choice documented in DESIGN.md.
func (a *App) BuildNLPRPServer(serverCfg config.ServerConfig, logger *logrus.Logger) (*nlprp.Server, error) {
	registry := nlpcore.NewExtractorRegistry()

	seen := make(map[string]bool)
	for _, defCfg := range a.cfg.NlpDefs {
		for _, procName := range defCfg.Processors {
			if seen[procName] {
				continue
			}
			procCfg, ok := a.cfg.Processors[procName]
			if !ok {
				continue
			}
			extractor, err := a.buildExtractor(procCfg, defCfg)
			if err != nil {
				return nil, err
			}
			registry.Register(procName, extractor)
			seen[procName] = true
		}
	}

	queueDBName := a.firstDatabaseName()
	if queueDBName == "" {
		return nil, apperrors.ConfigError("app", "BuildNLPRPServer", apperrors.CodeConfigInvalid,
			"--serve requires at least one [database:NAME] section to back the NLPRP queue store")
	}
	queueDB, err := a.database(queueDBName)
	if err != nil {
		return nil, err
	}
	queueStore := nlprp.OpenQueueStore(queueDB.DB, driverNames[a.cfg.Databases[queueDBName].Dialect])
	if err := queueStore.EnsureSchema(context.Background()); err != nil {
		return nil, err
	}

	sessions := nlprp.NewSessionStore(nlprp.AuthConfig{Mode: serverCfg.AuthMode, Users: nil}, logger)
	return nlprp.NewServer(registry, sessions, queueStore, logger), nil
}

// firstDatabaseName returns the lexicographically first [database:NAME]
// section name, or "" if none are configured.
func (a *App) firstDatabaseName() string {
	var first string
	for name := range a.cfg.Databases {
		if first == "" || name < first {
			first = name
		}
	}
	return first
}

// buildNlpDefinition resolves a parsed NlpDefConfig plus its bound
// [input:NAME] and [processor:NAME] sections into the immutable
// nlpcore.NlpDefinition the Planner and Controller share. stop_at_failure
// is a [cloud:NAME] field (spec.md's RemoteExtractor contract), so a
// definition inherits it from its bound cloud config when one is named;
// definitions with no remote processor leave it false.
func (a *App) buildNlpDefinition(defCfg config.NlpDefConfig, opts RunOptions) (*nlpcore.NlpDefinition, error) {
	inputs := make([]nlpcore.InputFieldSpec, 0, len(defCfg.InputFieldDefs))
	for _, inputName := range defCfg.InputFieldDefs {
		inputCfg, ok := a.cfg.Inputs[inputName]
		if !ok {
			return nil, apperrors.ConfigError("app", "buildNlpDefinition", apperrors.CodeConfigInvalid,
				"[nlpdef:"+defCfg.Name+"] references undefined [input:"+inputName+"]")
		}
		inputs = append(inputs, inputCfg.ToSpec())
	}

	bindings := make([]nlpcore.ExtractorBinding, 0, len(defCfg.Processors))
	for _, procName := range defCfg.Processors {
		procCfg, ok := a.cfg.Processors[procName]
		if !ok {
			return nil, apperrors.ConfigError("app", "buildNlpDefinition", apperrors.CodeConfigUnknownProcessor,
				"[nlpdef:"+defCfg.Name+"] references undefined [processor:"+procName+"]")
		}
		bindings = append(bindings, nlpcore.ExtractorBinding{
			ExtractorType: procCfg.ExtractorType,
			ProcessorName: procCfg.Name,
			Version:       procCfg.Options["version"],
		})
	}

	stopAtFailure := false
	if defCfg.CloudConfig != "" {
		stopAtFailure = a.cfg.Clouds[defCfg.CloudConfig].StopAtFailure
	}

	commitRows := defCfg.CommitRows
	if opts.CommitRows > 0 {
		commitRows = opts.CommitRows
	}
	commitBytes := defCfg.CommitBytes
	if opts.CommitBytes > 0 {
		commitBytes = opts.CommitBytes
	}

	return &nlpcore.NlpDefinition{
		Name:            defCfg.Name,
		Inputs:          inputs,
		Bindings:        bindings,
		HashKey:         planner.HashKeyFromConfig(defCfg),
		TruncateTextAt:  defCfg.TruncateTextAt,
		RecordTruncated: defCfg.RecordTruncated,
		CommitRows:      commitRows,
		CommitBytes:     commitBytes,
		SkipDelete:      opts.SkipDelete || defCfg.SkipDelete,
		StopAtFailure:   stopAtFailure,
	}, nil
}

// buildTargets constructs one live Extractor plus one DestinationWriter
// per processor bound to defCfg, reconciling each Writer's schema from
// the extractor's own Describe() before the first batch is ever run.
// --dropremake (opts.DropRemake) re-creates every declared table from
// scratch; otherwise reconciliation only adds what is missing.
func (a *App) buildTargets(ctx context.Context, defCfg config.NlpDefConfig, def *nlpcore.NlpDefinition, registry *nlpcore.ExtractorRegistry, store *progress.Store, opts RunOptions) ([]controller.Target, error) {
	targets := make([]controller.Target, 0, len(defCfg.Processors))

	for _, binding := range def.Bindings {
		procCfg := a.cfg.Processors[binding.ProcessorName]

		extractor, err := a.buildExtractor(procCfg, defCfg)
		if err != nil {
			return nil, err
		}
		registry.Register(binding.ProcessorName, extractor)

		destDB, err := a.database(procCfg.DestDB)
		if err != nil {
			return nil, err
		}
		dialect := a.cfg.Databases[procCfg.DestDB].Dialect

		writer := destination.New(destDB, dialect, store, def.CommitRows, def.CommitBytes, a.logger)

		descriptors, err := extractor.Describe(ctx)
		if err != nil {
			return nil, apperrors.ConfigError("app", "buildTargets", apperrors.CodeConfigInvalid,
				"describing processor "+procCfg.Name+": "+err.Error())
		}
		for _, d := range descriptors {
			if d.Schema == nil {
				continue
			}
			indexesByTable := a.indexesForSchema(*d.Schema)
			if err := writer.ReconcileSchema(ctx, *d.Schema, indexesByTable, opts.DropRemake); err != nil {
				return nil, err
			}
		}

		targets = append(targets, controller.Target{Binding: binding, Writer: writer})
	}

	return targets, nil
}

// indexesForSchema matches each table a schema declares against every
// [output:NAME] section sharing that desttable, collecting its
// indexdefs. A processor's OutputTypeMap is optional, so this looks up
// by table name rather than requiring the variant mapping to be present.
func (a *App) indexesForSchema(schema nlpcore.TabularSchema) map[string][]string {
	out := make(map[string][]string, len(schema.Tables))
	for table := range schema.Tables {
		for _, outCfg := range a.cfg.Outputs {
			if outCfg.DestTable == table {
				out[table] = append(out[table], outCfg.IndexDefs...)
			}
		}
	}
	return out
}

// buildExtractor dispatches one [processor:NAME] section to the
// extractor package matching its extractor_type, resolving the
// destination table (single-table shorthand only; multi-table output is
// schema-declared by the extractor itself) and, for remote processors,
// the [cloud:NAME] section named by the owning nlpdef.
func (a *App) buildExtractor(procCfg config.ProcessorConfig, defCfg config.NlpDefConfig) (nlpcore.Extractor, error) {
	dialect := a.cfg.Databases[procCfg.DestDB].Dialect

	switch procCfg.ExtractorType {
	case "regex":
		return regex.BuildFromProcessorConfig(procCfg, procCfg.DestTable, dialect)
	case "coprocess":
		var env config.EnvGroupConfig
		if envName := procCfg.Options["env"]; envName != "" {
			env = a.cfg.EnvGroups[envName]
		}
		return coprocess.BuildFromProcessorConfig(procCfg, procCfg.DestTable, env, a.logger)
	case "remote":
		if defCfg.CloudConfig == "" {
			return nil, apperrors.ConfigError("app", "buildExtractor", apperrors.CodeConfigInvalid,
				"[nlpdef:"+defCfg.Name+"] binds remote processor "+procCfg.Name+" but names no cloud_config")
		}
		cloud := a.cfg.Clouds[defCfg.CloudConfig]
		return remote.BuildFromProcessorConfig(procCfg, cloud, a.logger)
	default:
		return nil, apperrors.ConfigError("app", "buildExtractor", apperrors.CodeConfigInvalid,
			"processor "+procCfg.Name+" has unknown extractor_type "+procCfg.ExtractorType)
	}
}
