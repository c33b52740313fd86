package config

import (
	"testing"

	apperrors "cratenlp/pkg/errors"
)

func baseValidConfig() *Config {
	cfg := newEmptyConfig()
	cfg.Databases["progress_db"] = DatabaseConfig{Name: "progress_db", URL: "sqlite://progress.db", Dialect: "sqlite"}
	cfg.Inputs["notes"] = InputConfig{Name: "notes", SourceDB: "secondary", SourceTable: "t", PKColumn: "id", TextColumn: "txt"}
	cfg.Processors["crp"] = ProcessorConfig{Name: "crp", ExtractorType: "regex", DestDB: "progress_db", DestTable: "crp_results"}
	cfg.NlpDefs["crp_assessment"] = NlpDefConfig{
		Name:           "crp_assessment",
		InputFieldDefs: []string{"notes"},
		Processors:     []string{"crp"},
		ProgressDB:     "progress_db",
		HashPhrase:     "secret",
	}
	return cfg
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	if err := Validate(baseValidConfig()); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateRejectsMissingHashphrase(t *testing.T) {
	cfg := baseValidConfig()
	def := cfg.NlpDefs["crp_assessment"]
	def.HashPhrase = ""
	cfg.NlpDefs["crp_assessment"] = def

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for missing hashphrase")
	}
	ae, ok := apperrors.AsAppError(err)
	if !ok || ae.Code != apperrors.CodeConfigMissingSecret {
		t.Fatalf("expected CodeConfigMissingSecret, got %v", err)
	}
}

func TestValidateRejectsUndefinedProcessorReference(t *testing.T) {
	cfg := baseValidConfig()
	def := cfg.NlpDefs["crp_assessment"]
	def.Processors = []string{"nonexistent"}
	cfg.NlpDefs["crp_assessment"] = def

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for undefined processor reference")
	}
	ae, ok := apperrors.AsAppError(err)
	if !ok || ae.Code != apperrors.CodeConfigUnknownProcessor {
		t.Fatalf("expected CodeConfigUnknownProcessor, got %v", err)
	}
}

func TestValidateRejectsUnknownExtractorType(t *testing.T) {
	cfg := baseValidConfig()
	proc := cfg.Processors["crp"]
	proc.ExtractorType = "magic"
	cfg.Processors["crp"] = proc

	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown extractor_type")
	}
}

func TestValidateRejectsUnregisteredDialect(t *testing.T) {
	cfg := baseValidConfig()
	cfg.Databases["progress_db"] = DatabaseConfig{Name: "progress_db", URL: "oracle://host/db", Dialect: "oracle"}

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for dialect with no registered driver")
	}
	ae, ok := apperrors.AsAppError(err)
	if !ok || ae.Code != apperrors.CodeConfigUnknownDatabase {
		t.Fatalf("expected CodeConfigUnknownDatabase, got %v", err)
	}
}

func TestValidateRejectsNoNlpDefs(t *testing.T) {
	cfg := newEmptyConfig()
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error when no nlpdefs are configured")
	}
}
