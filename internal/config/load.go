package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "cratenlp/pkg/errors"
	"cratenlp/pkg/nlpcore"

	"gopkg.in/ini.v1"
)

// Load reads an INI configuration file, applies defaults, then validates
// the result. Mirrors the teacher's LoadConfig three-step shape
// (parse → applyDefaults → ValidateConfig) adapted to section-keyed INI
// instead of a single YAML document.
func Load(path string) (*Config, error) {
	cfg := newEmptyConfig()

	f, err := ini.LoadSources(ini.LoadOptions{AllowShadows: true}, path)
	if err != nil {
		return nil, apperrors.ConfigError("config", "Load", apperrors.CodeConfigMalformedINI,
			fmt.Sprintf("failed to parse %s: %v", path, err))
	}

	for _, section := range f.Sections() {
		kind, name, ok := splitSectionName(section.Name())
		if !ok {
			continue // DEFAULT and bare top-level sections are handled separately below
		}

		switch kind {
		case "nlpdef":
			cfg.NlpDefs[name] = parseNlpDef(name, section)
		case "input":
			cfg.Inputs[name] = parseInput(name, section)
		case "processor":
			cfg.Processors[name] = parseProcessor(name, section)
		case "output":
			cfg.Outputs[name] = parseOutput(name, section)
		case "env":
			cfg.EnvGroups[name] = parseEnvGroup(name, section)
		case "database":
			cfg.Databases[name] = parseDatabase(name, section)
		case "cloud":
			cfg.Clouds[name] = parseCloud(name, section)
		}
	}

	if app := f.Section("app"); app != nil {
		cfg.App = AppConfig{
			Name:        app.Key("name").String(),
			Version:     app.Key("version").String(),
			Environment: app.Key("environment").String(),
			LogLevel:    app.Key("log_level").String(),
			LogFormat:   app.Key("log_format").String(),
		}
	}
	if srv := f.Section("server"); srv != nil {
		cfg.Server = ServerConfig{
			Enabled:  srv.Key("enabled").MustBool(false),
			Host:     srv.Key("host").String(),
			Port:     srv.Key("port").MustInt(0),
			AuthMode: srv.Key("auth_mode").String(),
		}
	}
	if met := f.Section("metrics"); met != nil {
		cfg.Metrics = MetricsConfig{
			Enabled: met.Key("enabled").MustBool(false),
			Host:    met.Key("host").String(),
			Port:    met.Key("port").MustInt(0),
			Path:    met.Key("path").String(),
		}
	}

	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// splitSectionName splits "kind:name" into its parts. Sections without a
// colon (DEFAULT, app, server, metrics) are not domain sections.
func splitSectionName(raw string) (kind, name string, ok bool) {
	idx := strings.IndexByte(raw, ':')
	if idx < 0 {
		return "", "", false
	}
	return raw[:idx], raw[idx+1:], true
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseNlpDef(name string, s *ini.Section) NlpDefConfig {
	return NlpDefConfig{
		Name:            name,
		InputFieldDefs:  splitCSV(s.Key("inputfielddefs").String()),
		Processors:      splitCSV(s.Key("processors").String()),
		ProgressDB:      s.Key("progressdb").String(),
		HashPhrase:      s.Key("hashphrase").String(),
		CommitRows:      s.Key("max_rows_before_commit").MustInt(1000),
		CommitBytes:     s.Key("max_bytes_before_commit").MustInt64(8 << 20),
		TruncateTextAt:  s.Key("truncate_text_at").MustInt(0),
		RecordTruncated: s.Key("record_truncated_values").MustBool(false),
		SkipDelete:      s.Key("skipdelete").MustBool(false),
		DropRemake:      s.Key("dropremake").MustBool(false),
		CloudConfig:     s.Key("cloud_config").String(),
	}
}

func parseInput(name string, s *ini.Section) InputConfig {
	return InputConfig{
		Name:               name,
		SourceDB:           s.Key("srcdb").String(),
		SourceTable:        s.Key("srctable").String(),
		PKColumn:           s.Key("srcpkfield").String(),
		TextColumn:         s.Key("srcfield").String(),
		DatetimeColumn:     s.Key("srcdatetimefield").String(),
		CopyColumns:        splitCSV(s.Key("copyfields").String()),
		IndexedCopyColumns: splitCSV(s.Key("indexed_copyfields").String()),
		DebugRowLimit:      s.Key("debug_row_limit").MustInt(0),
	}
}

func parseProcessor(name string, s *ini.Section) ProcessorConfig {
	outputTypeMap := make(map[string]string)
	for _, kv := range s.Key("outputtypemap").Strings(",") {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			outputTypeMap[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}

	options := make(map[string]string)
	for _, key := range s.Keys() {
		switch key.Name() {
		case "extractor_type", "destdb", "desttable", "outputtypemap":
			continue
		default:
			options[key.Name()] = key.String()
		}
	}

	return ProcessorConfig{
		Name:          name,
		ExtractorType: s.Key("extractor_type").String(),
		DestDB:        s.Key("destdb").String(),
		DestTable:     s.Key("desttable").String(),
		OutputTypeMap: outputTypeMap,
		Options:       options,
	}
}

func parseOutput(name string, s *ini.Section) OutputConfig {
	renames := make(map[string]string)
	for _, kv := range s.Key("renames").Strings(",") {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			renames[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}

	return OutputConfig{
		Name:         name,
		DestTable:    s.Key("desttable").String(),
		Renames:      renames,
		NullLiterals: splitCSV(s.Key("null_literals").String()),
		DestFields:   splitCSV(s.Key("destfields").String()),
		IndexDefs:    splitCSV(s.Key("indexdefs").String()),
	}
}

func parseEnvGroup(name string, s *ini.Section) EnvGroupConfig {
	vars := make(map[string]string)
	for _, key := range s.Keys() {
		vars[key.Name()] = key.String()
	}
	return EnvGroupConfig{Name: name, Variables: vars}
}

func parseDatabase(name string, s *ini.Section) DatabaseConfig {
	return DatabaseConfig{
		Name:    name,
		URL:     s.Key("url").String(),
		Dialect: nlpcore.Dialect(s.Key("dialect").String()),
		Echo:    s.Key("echo").MustBool(false),
	}
}

func parseCloud(name string, s *ini.Section) CloudConfig {
	wait := s.Key("wait_on_conn_err").String()
	waitDuration, err := time.ParseDuration(wait)
	if err != nil {
		waitDuration = 5 * time.Second
	}

	return CloudConfig{
		Name:                 name,
		CloudURL:             s.Key("cloud_url").String(),
		VerifySSL:            s.Key("verify_ssl").MustBool(true),
		Compress:             s.Key("compress").MustBool(true),
		Username:             s.Key("username").String(),
		Password:             s.Key("password").String(),
		WaitOnConnErr:        waitDuration,
		MaxContentLength:     s.Key("max_content_length").MustInt64(10 << 20),
		MaxRecordsPerRequest: s.Key("max_records_per_request").MustInt(1000),
		LimitBeforeCommit:    s.Key("limit_before_commit").MustInt(1000),
		StopAtFailure:        s.Key("stop_at_failure").MustBool(false),
		MaxTries:             s.Key("max_tries").MustInt(3),
		RateLimitHz:          mustFloat(s.Key("rate_limit_hz").String(), 0),
	}
}

func mustFloat(raw string, fallback float64) float64 {
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}
