package coprocess

import (
	"strconv"
	"strings"
	"time"

	"cratenlp/internal/config"

	apperrors "cratenlp/pkg/errors"

	"github.com/sirupsen/logrus"
)

// BuildFromProcessorConfig builds a CoprocessExtractor from a
// [processor:NAME] section whose extractor_type is "coprocess", plus an
// optional resolved [env:NAME] group for the child's environment.
func BuildFromProcessorConfig(pc config.ProcessorConfig, destTable string, env config.EnvGroupConfig, logger *logrus.Logger) (*Extractor, error) {
	opts := pc.Options

	command := opts["command"]
	if command == "" {
		return nil, apperrors.ConfigError("coprocess", "BuildFromProcessorConfig",
			apperrors.CodeConfigInvalid, "processor "+pc.Name+": command is required")
	}

	inputTerminator := opts["input_terminator"]
	if inputTerminator == "" {
		inputTerminator = "END OF TEXT FOR NLP"
	}
	outputTerminator := opts["output_terminator"]
	if outputTerminator == "" {
		outputTerminator = "END OF OUTPUT FOR NLP"
	}

	cfg := Config{
		Command:          command,
		Args:             splitArgs(opts["args"]),
		WorkingDir:       opts["working_dir"],
		Env:              env.Variables,
		InputTerminator:  inputTerminator,
		OutputTerminator: outputTerminator,
	}

	if raw := opts["max_external_prog_uses"]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, apperrors.ConfigError("coprocess", "BuildFromProcessorConfig",
				apperrors.CodeConfigInvalid, "processor "+pc.Name+": max_external_prog_uses must be an integer")
		}
		cfg.MaxUses = n
	}
	if raw := opts["start_timeout_seconds"]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, apperrors.ConfigError("coprocess", "BuildFromProcessorConfig",
				apperrors.CodeConfigInvalid, "processor "+pc.Name+": start_timeout_seconds must be an integer")
		}
		cfg.StartTimeout = time.Duration(n) * time.Second
	}
	if raw := opts["record_timeout_seconds"]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, apperrors.ConfigError("coprocess", "BuildFromProcessorConfig",
				apperrors.CodeConfigInvalid, "processor "+pc.Name+": record_timeout_seconds must be an integer")
		}
		cfg.RecordTimeout = time.Duration(n) * time.Second
	}

	title := opts["title"]
	if title == "" {
		title = pc.Name
	}
	version := opts["version"]
	if version == "" {
		version = "1.0"
	}

	return New(pc.Name, title, version, destTable, cfg, logger), nil
}

func splitArgs(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	fields := strings.Fields(raw)
	return fields
}
