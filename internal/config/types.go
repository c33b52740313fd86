// Package config loads CRATE's INI-style configuration: one or more
// [nlpdef:NAME] sections tying together [input:NAME], [processor:NAME],
// [output:NAME], [env:NAME], [database:NAME], and [cloud:NAME] sections.
package config

import (
	"time"

	"cratenlp/pkg/nlpcore"
)

// AppConfig carries process-wide identity and logging settings, mirrored
// on the teacher's types.Config.App section.
type AppConfig struct {
	Name        string
	Version     string
	Environment string
	LogLevel    string
	LogFormat   string
}

// ServerConfig controls the optional NLPRP server (`--serve`).
type ServerConfig struct {
	Enabled  bool
	Host     string
	Port     int
	AuthMode string // "basic", "bearer", or "none"
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool
	Host    string
	Port    int
	Path    string
}

// DatabaseConfig is one [database:NAME] section: a source, progress, or
// destination database connection.
type DatabaseConfig struct {
	Name    string
	URL     string
	Dialect nlpcore.Dialect
	Echo    bool
}

// InputConfig is one [input:NAME] section.
type InputConfig struct {
	Name               string
	SourceDB           string
	SourceTable        string
	PKColumn           string
	TextColumn         string
	DatetimeColumn     string
	CopyColumns        []string
	IndexedCopyColumns []string
	DebugRowLimit      int
}

// ToSpec converts a parsed InputConfig into the pkg/nlpcore value the
// Planner consumes.
func (c InputConfig) ToSpec() nlpcore.InputFieldSpec {
	return nlpcore.InputFieldSpec{
		SourceDB:           c.SourceDB,
		Table:              c.SourceTable,
		PKColumn:           c.PKColumn,
		TextColumn:         c.TextColumn,
		DatetimeColumn:     c.DatetimeColumn,
		CopyColumns:        c.CopyColumns,
		IndexedCopyColumns: c.IndexedCopyColumns,
		DebugRowLimit:      c.DebugRowLimit,
	}
}

// OutputConfig is one [output:NAME] section, describing how a processor's
// rows land in a destination table.
type OutputConfig struct {
	Name         string
	DestTable    string
	Renames      map[string]string
	NullLiterals []string
	DestFields   []string
	IndexDefs    []string
}

// ProcessorConfig is one [processor:NAME] section, naming the extractor
// type and its destination(s).
type ProcessorConfig struct {
	Name          string
	ExtractorType string // "regex", "coprocess", "remote"
	DestDB        string
	DestTable     string // single-table shorthand
	OutputTypeMap map[string]string // multi-table: variant -> [output:NAME]
	Options       map[string]string // extractor-type-specific, e.g. command, working_dir
}

// EnvGroupConfig is one [env:NAME] section: environment variables passed
// to a CoprocessExtractor child on launch.
type EnvGroupConfig struct {
	Name      string
	Variables map[string]string
}

// CloudConfig is one [cloud:NAME] section, the RemoteExtractor's NLPRP
// client configuration.
type CloudConfig struct {
	Name                 string
	CloudURL             string
	VerifySSL            bool
	Compress             bool
	Username             string
	Password             string
	WaitOnConnErr        time.Duration
	MaxContentLength     int64
	MaxRecordsPerRequest int
	LimitBeforeCommit    int
	StopAtFailure        bool
	MaxTries             int
	RateLimitHz          float64
}

// NlpDefConfig is one [nlpdef:NAME] section: the top-level unit of work.
type NlpDefConfig struct {
	Name            string
	InputFieldDefs  []string // [input:NAME] section names
	Processors      []string // [processor:NAME] section names
	ProgressDB      string   // [database:NAME] section name
	HashPhrase      string
	CommitRows      int
	CommitBytes     int64
	TruncateTextAt  int
	RecordTruncated bool
	SkipDelete      bool
	DropRemake      bool
	CloudConfig     string // optional [cloud:NAME] section name
}

// Config is the fully parsed, defaulted, and validated configuration.
type Config struct {
	App        AppConfig
	Server     ServerConfig
	Metrics    MetricsConfig
	Databases  map[string]DatabaseConfig
	Inputs     map[string]InputConfig
	Processors map[string]ProcessorConfig
	Outputs    map[string]OutputConfig
	EnvGroups  map[string]EnvGroupConfig
	Clouds     map[string]CloudConfig
	NlpDefs    map[string]NlpDefConfig
}

func newEmptyConfig() *Config {
	return &Config{
		Databases:  make(map[string]DatabaseConfig),
		Inputs:     make(map[string]InputConfig),
		Processors: make(map[string]ProcessorConfig),
		Outputs:    make(map[string]OutputConfig),
		EnvGroups:  make(map[string]EnvGroupConfig),
		Clouds:     make(map[string]CloudConfig),
		NlpDefs:    make(map[string]NlpDefConfig),
	}
}
