package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleINI = `
[database:progress_db]
url = sqlite://progress.db
dialect = sqlite

[database:dest_db]
url = postgres://localhost/crate_dest
dialect = postgresql

[input:notes]
srcdb = secondary
srctable = progress_notes
srcpkfield = note_id
srcfield = note_text
srcdatetimefield = note_datetime
copyfields = patient_age, patient_sex
indexed_copyfields = patient_sex

[processor:crp]
extractor_type = regex
destdb = dest_db
desttable = crp_results

[nlpdef:crp_assessment]
inputfielddefs = notes
processors = crp
progressdb = progress_db
hashphrase = correct-horse-battery-staple
max_rows_before_commit = 500
`

func writeTempINI(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "crate.ini")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write temp ini: %v", err)
	}
	return path
}

func TestLoadParsesNlpDefAndReferences(t *testing.T) {
	path := writeTempINI(t, sampleINI)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected valid config, got error: %v", err)
	}

	def, ok := cfg.NlpDefs["crp_assessment"]
	if !ok {
		t.Fatal("expected crp_assessment nlpdef to be parsed")
	}
	if def.HashPhrase != "correct-horse-battery-staple" {
		t.Fatalf("unexpected hashphrase: %q", def.HashPhrase)
	}
	if def.CommitRows != 500 {
		t.Fatalf("expected max_rows_before_commit override, got %d", def.CommitRows)
	}

	input, ok := cfg.Inputs["notes"]
	if !ok {
		t.Fatal("expected notes input to be parsed")
	}
	if len(input.CopyColumns) != 2 {
		t.Fatalf("expected 2 copy columns, got %v", input.CopyColumns)
	}
}

func TestLoadAppliesDefaultsForUnsetSections(t *testing.T) {
	path := writeTempINI(t, sampleINI)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.App.Name != "cratenlp" {
		t.Fatalf("expected default app name, got %q", cfg.App.Name)
	}
	if cfg.Metrics.Port != 8451 {
		t.Fatalf("expected default metrics port, got %d", cfg.Metrics.Port)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/crate.ini"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
