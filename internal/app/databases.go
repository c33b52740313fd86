package app

import (
	"database/sql"

	"cratenlp/internal/config"
	apperrors "cratenlp/pkg/errors"
	"cratenlp/pkg/nlpcore"

	"github.com/jmoiron/sqlx"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// driverNames maps a config dialect to the database/sql driver name
// registered by that dialect's blank import above. mssql/oracle are
// config.Validate-rejected earlier, so they never reach here.
var driverNames = map[nlpcore.Dialect]string{
	nlpcore.DialectMySQL:      "mysql",
	nlpcore.DialectPostgreSQL: "postgres",
	nlpcore.DialectSQLite:     "sqlite",
}

// openDatabase opens one [database:NAME] section's connection, resolving
// driverName from its declared dialect. The URL itself is passed through
// verbatim as the driver DSN, matching each driver's own expected form
// (lib/pq's "postgres://..." or key=value, go-sql-driver's
// "user:pass@tcp(host)/db", modernc.org/sqlite's file path or ":memory:").
func openDatabase(db config.DatabaseConfig) (*sqlx.DB, error) {
	driverName, ok := driverNames[db.Dialect]
	if !ok {
		return nil, apperrors.ConfigError("app", "openDatabase", apperrors.CodeConfigUnknownDatabase,
			"database "+db.Name+" declares unsupported dialect "+string(db.Dialect))
	}

	raw, err := sql.Open(driverName, db.URL)
	if err != nil {
		return nil, apperrors.ConfigError("app", "openDatabase", apperrors.CodeConfigInvalid,
			"opening database "+db.Name+": "+err.Error())
	}
	return sqlx.NewDb(raw, driverName), nil
}
