package app

import (
	"context"
	"testing"
	"time"

	"cratenlp/internal/config"
	"cratenlp/pkg/nlpcore"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// testLogger mirrors controller_test.go's quiet logger: assertions read
// Summary values, not log output.
func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

// sqliteDBConfig points at an in-memory sqlite database unique to dbName,
// so source/progress/destination can share or diverge per test.
func sqliteDBConfig(dbName string) config.DatabaseConfig {
	return config.DatabaseConfig{
		Name:    dbName,
		URL:     "file:" + dbName + "?mode=memory&cache=shared",
		Dialect: nlpcore.DialectSQLite,
	}
}

func baseConfig() *config.Config {
	cfg := &config.Config{
		Databases:  map[string]config.DatabaseConfig{"src": sqliteDBConfig("src"), "dest": sqliteDBConfig("dest")},
		Inputs:     map[string]config.InputConfig{},
		Processors: map[string]config.ProcessorConfig{},
		Outputs:    map[string]config.OutputConfig{},
		EnvGroups:  map[string]config.EnvGroupConfig{},
		Clouds:     map[string]config.CloudConfig{},
		NlpDefs:    map[string]config.NlpDefConfig{},
	}
	return cfg
}

func seedSourceTable(t *testing.T, a *App) {
	t.Helper()
	db, err := a.database("src")
	require.NoError(t, err)

	_, err = db.Exec(`CREATE TABLE notes (note_id INTEGER PRIMARY KEY, note_text TEXT, note_datetime TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO notes (note_id, note_text, note_datetime) VALUES
		(1, 'CRP was mentioned but no value given', '2024-01-01 10:00:00'),
		(2, 'no markers of interest here', '2024-01-01 11:00:00')`)
	require.NoError(t, err)
}

func crpNlpDefConfig() (config.NlpDefConfig, config.InputConfig, config.ProcessorConfig) {
	input := config.InputConfig{
		Name:           "notes_input",
		SourceDB:       "src",
		SourceTable:    "notes",
		PKColumn:       "note_id",
		TextColumn:     "note_text",
		DatetimeColumn: "note_datetime",
	}
	proc := config.ProcessorConfig{
		Name:          "crp_validator",
		ExtractorType: "regex",
		DestDB:        "dest",
		DestTable:     "crp_validator",
		Options: map[string]string{
			"variant":       "validator",
			"variable_name": "CRP",
			"keywords":      "CRP,C-reactive protein",
		},
	}
	def := config.NlpDefConfig{
		Name:           "crp_def",
		InputFieldDefs: []string{"notes_input"},
		Processors:     []string{"crp_validator"},
		ProgressDB:     "dest",
		HashPhrase:     "test-hash-phrase",
		CommitRows:     1000,
		CommitBytes:    8 << 20,
	}
	return def, input, proc
}

func TestRunNlpDefExtractsAndWritesRows(t *testing.T) {
	cfg := baseConfig()
	def, input, proc := crpNlpDefConfig()
	cfg.NlpDefs[def.Name] = def
	cfg.Inputs[input.Name] = input
	cfg.Processors[proc.Name] = proc

	a := New(cfg, testLogger())
	defer a.Close()

	seedSourceTable(t, a)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	summaries, err := a.RunNlpDef(ctx, "crp_def", RunOptions{
		ShardIndex: 0, ShardCount: 1, FullMode: true, ChunkSize: 100, CrateVersion: "test",
	})
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.Equal(t, 2, summaries[0].RecordsRead)
	require.Equal(t, 0, summaries[0].RecordsFailed)

	destDB, err := a.database("dest")
	require.NoError(t, err)

	var rowCount int
	require.NoError(t, destDB.Get(&rowCount, `SELECT COUNT(*) FROM crp_validator`))
	require.Equal(t, 1, rowCount, "only the record mentioning CRP should produce a validator row")
}

func TestRunNlpDefRejectsUnknownNlpDef(t *testing.T) {
	cfg := baseConfig()
	a := New(cfg, testLogger())
	defer a.Close()

	_, err := a.RunNlpDef(context.Background(), "does_not_exist", RunOptions{ShardCount: 1, ChunkSize: 100})
	require.Error(t, err)
}

func TestBuildExtractorRejectsRemoteWithoutCloudConfig(t *testing.T) {
	cfg := baseConfig()
	cfg.Processors["remote_proc"] = config.ProcessorConfig{
		Name: "remote_proc", ExtractorType: "remote", DestDB: "dest", DestTable: "remote_out",
	}
	a := New(cfg, testLogger())
	defer a.Close()

	_, err := a.buildExtractor(cfg.Processors["remote_proc"], config.NlpDefConfig{Name: "no_cloud"})
	require.Error(t, err)
}
