package sql

import "fmt"

// SQLDialect defines database-specific SQL syntax
type SQLDialect interface {
	// PlaceholderFormat returns the format for SQL placeholders ("?" or "$")
	PlaceholderFormat() string

	// PayloadType returns the column type for the raw request body. It must
	// keep the bytes exactly as received, so normalizing types such as
	// Postgres JSONB or MySQL JSON are not allowed.
	PayloadType() string

	// TimeType returns the column type for storing timestamps
	TimeType() string

	// SchemaSQL returns the statements that create the deliveries table and
	// its indexes, one statement per element.
	SchemaSQL(tableName string) []string
}

func createTableSQL(tableName, payloadType, timeType, extra string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(36) PRIMARY KEY,
			outcome VARCHAR(32) NOT NULL,
			path VARCHAR(255) NOT NULL,
			payload %s NULL,
			payload_sha256 CHAR(64) NOT NULL,
			payload_size INTEGER NOT NULL,
			content_type VARCHAR(255) NOT NULL,
			remote_addr VARCHAR(255) NOT NULL,
			created_at %s NOT NULL%s
		)`, tableName, payloadType, timeType, extra)
}

// schemaSQL is shared by dialects that support CREATE INDEX IF NOT EXISTS.
func schemaSQL(d SQLDialect, tableName string) []string {
	return []string{
		createTableSQL(tableName, d.PayloadType(), d.TimeType(), ""),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%[1]s_created_at ON %[1]s (created_at)", tableName),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%[1]s_outcome ON %[1]s (outcome)", tableName),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%[1]s_remote_addr ON %[1]s (remote_addr)", tableName),
	}
}
