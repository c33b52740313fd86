package destination

import (
	"fmt"
	"strings"

	"cratenlp/pkg/nlpcore"
)

// quoteIdent quotes a table or column identifier for the given dialect.
func quoteIdent(dialect nlpcore.Dialect, ident string) string {
	switch dialect {
	case nlpcore.DialectMySQL:
		return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
	case nlpcore.DialectPostgreSQL, nlpcore.DialectSQLite:
		return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
	default:
		return ident
	}
}

// standardMetadataColumns returns the _nlpdef/_srcdb/... columns every
// destination row carries, per the pipeline's external interface
// contract, ahead of any processor-declared columns.
func standardMetadataColumns() []nlpcore.ColumnDef {
	return []nlpcore.ColumnDef{
		{Name: "_pk", SQLType: "BIGINT", Nullable: false, Comment: "synthetic per-row identifier"},
		{Name: "_nlpdef", SQLType: "VARCHAR(64)", Nullable: false, Comment: "NLP definition name"},
		{Name: "_srcdb", SQLType: "VARCHAR(64)", Nullable: false, Comment: "source database name"},
		{Name: "_srctable", SQLType: "VARCHAR(64)", Nullable: false, Comment: "source table name"},
		{Name: "_srcpkfield", SQLType: "VARCHAR(64)", Nullable: false, Comment: "source PK column name"},
		{Name: "_srcpkval", SQLType: "BIGINT", Nullable: false, Comment: "integer source PK or hash of string PK"},
		{Name: "_srcpkstr", SQLType: "VARCHAR(64)", Nullable: true, Comment: "original string PK, if applicable"},
		{Name: "_srcfield", SQLType: "VARCHAR(64)", Nullable: false, Comment: "source text column name"},
		{Name: "_srcdatetimefield", SQLType: "VARCHAR(64)", Nullable: true, Comment: "source datetime column name"},
		{Name: "_srcdatetimeval", SQLType: "DATETIME", Nullable: true, Comment: "source datetime value"},
		{Name: "_crate_version", SQLType: "VARCHAR(147)", Nullable: false, Comment: "semantic version string"},
		{Name: "_when_fetched_utc", SQLType: "DATETIME", Nullable: false, Comment: "UTC timestamp at record fetch"},
	}
}

// createTableDDL builds a dialect-appropriate CREATE TABLE IF NOT EXISTS
// for a destination table carrying the standard metadata columns plus
// the processor's declared columns.
func createTableDDL(dialect nlpcore.Dialect, table string, declared []nlpcore.ColumnDef) string {
	columns := append(standardMetadataColumns(), declared...)

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", quoteIdent(dialect, table))
	for i, c := range columns {
		if i > 0 {
			b.WriteString(",\n")
		}
		fmt.Fprintf(&b, "\t%s %s", quoteIdent(dialect, c.Name), c.SQLType)
		if !c.Nullable {
			b.WriteString(" NOT NULL")
		}
	}
	b.WriteString("\n)")
	return b.String()
}

func addColumnDDL(dialect nlpcore.Dialect, table string, col nlpcore.ColumnDef) string {
	nullability := ""
	if !col.Nullable {
		nullability = " NOT NULL"
	}
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s%s",
		quoteIdent(dialect, table), quoteIdent(dialect, col.Name), col.SQLType, nullability)
}

func dropTableDDL(dialect nlpcore.Dialect, table string) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdent(dialect, table))
}

func createIndexDDL(dialect nlpcore.Dialect, table, indexName string, columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdent(dialect, c)
	}
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		quoteIdent(dialect, indexName), quoteIdent(dialect, table), strings.Join(quoted, ", "))
}
