package config

import (
	"fmt"

	apperrors "cratenlp/pkg/errors"
	"cratenlp/pkg/nlpcore"
)

// driversRegistered lists the dialects this binary ships a database/sql
// driver for. mssql and oracle are valid wire/config values (an NLPRP
// peer may declare either) but have no registered driver here — see
// DESIGN.md's dialect note.
var driversRegistered = map[nlpcore.Dialect]bool{
	nlpcore.DialectMySQL:      true,
	nlpcore.DialectPostgreSQL: true,
	nlpcore.DialectSQLite:     true,
}

// Validate checks cross-section references and fatal configuration
// invariants. Every failure here is a KindConfig error: the pipeline
// never starts a run against a malformed or incomplete definition.
func Validate(cfg *Config) error {
	if len(cfg.NlpDefs) == 0 {
		return apperrors.ConfigError("config", "Validate", apperrors.CodeConfigInvalid,
			"no [nlpdef:NAME] sections defined")
	}

	for name, def := range cfg.NlpDefs {
		if err := validateNlpDef(cfg, name, def); err != nil {
			return err
		}
	}

	for name, db := range cfg.Databases {
		if db.URL == "" {
			return apperrors.ConfigError("config", "Validate", apperrors.CodeConfigInvalid,
				fmt.Sprintf("[database:%s] is missing url", name))
		}
		if db.Dialect != "" && !driversRegistered[db.Dialect] {
			return apperrors.ConfigError("config", "Validate", apperrors.CodeConfigUnknownDatabase,
				fmt.Sprintf("[database:%s] declares dialect %q, which has no registered driver in this build", name, db.Dialect))
		}
	}

	return nil
}

func validateNlpDef(cfg *Config, name string, def NlpDefConfig) error {
	if def.HashPhrase == "" {
		return apperrors.ConfigError("config", "Validate", apperrors.CodeConfigMissingSecret,
			fmt.Sprintf("[nlpdef:%s] is missing hashphrase", name))
	}
	if len(def.InputFieldDefs) == 0 {
		return apperrors.ConfigError("config", "Validate", apperrors.CodeConfigInvalid,
			fmt.Sprintf("[nlpdef:%s] names no inputfielddefs", name))
	}
	if len(def.Processors) == 0 {
		return apperrors.ConfigError("config", "Validate", apperrors.CodeConfigInvalid,
			fmt.Sprintf("[nlpdef:%s] names no processors", name))
	}

	for _, inputName := range def.InputFieldDefs {
		if _, ok := cfg.Inputs[inputName]; !ok {
			return apperrors.ConfigError("config", "Validate", apperrors.CodeConfigInvalid,
				fmt.Sprintf("[nlpdef:%s] references undefined [input:%s]", name, inputName))
		}
	}

	for _, procName := range def.Processors {
		proc, ok := cfg.Processors[procName]
		if !ok {
			return apperrors.ConfigError("config", "Validate", apperrors.CodeConfigUnknownProcessor,
				fmt.Sprintf("[nlpdef:%s] references undefined [processor:%s]", name, procName))
		}
		if err := validateProcessor(cfg, procName, proc); err != nil {
			return err
		}
	}

	if def.ProgressDB != "" {
		if _, ok := cfg.Databases[def.ProgressDB]; !ok {
			return apperrors.ConfigError("config", "Validate", apperrors.CodeConfigUnknownDatabase,
				fmt.Sprintf("[nlpdef:%s] references undefined progressdb %q", name, def.ProgressDB))
		}
	}

	if def.CloudConfig != "" {
		if _, ok := cfg.Clouds[def.CloudConfig]; !ok {
			return apperrors.ConfigError("config", "Validate", apperrors.CodeConfigInvalid,
				fmt.Sprintf("[nlpdef:%s] references undefined [cloud:%s]", name, def.CloudConfig))
		}
	}

	return nil
}

func validateProcessor(cfg *Config, name string, proc ProcessorConfig) error {
	switch proc.ExtractorType {
	case "regex", "coprocess", "remote":
	default:
		return apperrors.ConfigError("config", "Validate", apperrors.CodeConfigInvalid,
			fmt.Sprintf("[processor:%s] has unknown extractor_type %q", name, proc.ExtractorType))
	}

	if proc.DestDB != "" {
		if _, ok := cfg.Databases[proc.DestDB]; !ok {
			return apperrors.ConfigError("config", "Validate", apperrors.CodeConfigUnknownDatabase,
				fmt.Sprintf("[processor:%s] references undefined destdb %q", name, proc.DestDB))
		}
	}

	for variant, outputName := range proc.OutputTypeMap {
		if _, ok := cfg.Outputs[outputName]; !ok {
			return apperrors.ConfigError("config", "Validate", apperrors.CodeConfigInvalid,
				fmt.Sprintf("[processor:%s] maps variant %q to undefined [output:%s]", name, variant, outputName))
		}
	}

	return nil
}
