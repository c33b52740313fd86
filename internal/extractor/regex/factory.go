package regex

import (
	"strings"

	"cratenlp/internal/config"
	apperrors "cratenlp/pkg/errors"
	"cratenlp/pkg/nlpcore"
)

// BuildFromProcessorConfig compiles one RegexExtractor from a parsed
// [processor:NAME] section whose extractor_type is "regex". The
// section's Options carry the parser's shape:
//
//	variant             = "numeric_unit" | "denominator" | "validator"
//	variable_name        = the clinical variable this processor reports
//	keywords             = comma-separated keyword list
//	unit_profile         = name into the built-in unit conversion table (numeric_unit only)
//	denominator_profile  = name into the built-in denominator rule table (denominator only)
//	title                = optional human-readable title (defaults to variable_name)
//	version               = optional version string (defaults to "1")
//	is_default_version   = "true"/"false" (defaults to "true")
func BuildFromProcessorConfig(pc config.ProcessorConfig, destTable string, dialect nlpcore.Dialect) (*Extractor, error) {
	opts := pc.Options
	variant := opts["variant"]
	variableName := opts["variable_name"]
	if variableName == "" {
		variableName = pc.Name
	}
	title := opts["title"]
	if title == "" {
		title = variableName
	}
	version := opts["version"]
	if version == "" {
		version = "1"
	}
	isDefault := opts["is_default_version"] != "false"

	keywords := splitKeywords(opts["keywords"])
	if len(keywords) == 0 {
		return nil, apperrors.ConfigError("regex", "BuildFromProcessorConfig", apperrors.CodeConfigInvalid,
			"processor "+pc.Name+" declares no keywords")
	}

	var parser Parser
	switch variant {
	case "numeric_unit":
		profile, ok := unitProfiles[strings.ToLower(opts["unit_profile"])]
		if !ok {
			return nil, apperrors.ConfigError("regex", "BuildFromProcessorConfig", apperrors.CodeConfigInvalid,
				"processor "+pc.Name+" names unknown unit_profile "+opts["unit_profile"])
		}
		parser = NewNumericUnitParser(variableName, destTable, keywords, profile)
	case "denominator":
		rule, ok := denominatorProfiles[strings.ToLower(opts["denominator_profile"])]
		if !ok {
			return nil, apperrors.ConfigError("regex", "BuildFromProcessorConfig", apperrors.CodeConfigInvalid,
				"processor "+pc.Name+" names unknown denominator_profile "+opts["denominator_profile"])
		}
		parser = NewDenominatorParser(variableName, destTable, keywords, rule)
	case "validator":
		parser = NewValidatorParser(variableName, destTable, keywords)
	default:
		return nil, apperrors.ConfigError("regex", "BuildFromProcessorConfig", apperrors.CodeConfigInvalid,
			"processor "+pc.Name+" names unknown regex variant "+variant)
	}

	return New(pc.Name, title, version, parser, dialect, isDefault), nil
}

func splitKeywords(raw string) []string {
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
