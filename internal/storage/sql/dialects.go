package sql

// SQLiteDialect implements SQLDialect for SQLite
type SQLiteDialect struct{}

func (d *SQLiteDialect) PlaceholderFormat() string {
	return "?"
}

func (d *SQLiteDialect) PayloadType() string {
	return "TEXT"
}

func (d *SQLiteDialect) TimeType() string {
	return "DATETIME"
}

func (d *SQLiteDialect) SchemaSQL(tableName string) []string {
	return schemaSQL(d, tableName)
}

// PostgresDialect implements SQLDialect for PostgreSQL, through either lib/pq
// or pgx.
type PostgresDialect struct{}

func (d *PostgresDialect) PlaceholderFormat() string {
	return "$"
}

func (d *PostgresDialect) PayloadType() string {
	return "TEXT"
}

func (d *PostgresDialect) TimeType() string {
	return "TIMESTAMP WITH TIME ZONE"
}

func (d *PostgresDialect) SchemaSQL(tableName string) []string {
	return schemaSQL(d, tableName)
}

// MySQLDialect implements SQLDialect for MySQL. MySQL has no CREATE INDEX IF
// NOT EXISTS, so indexes are declared inline with the table.
type MySQLDialect struct{}

func (d *MySQLDialect) PlaceholderFormat() string {
	return "?"
}

func (d *MySQLDialect) PayloadType() string {
	return "LONGTEXT"
}

func (d *MySQLDialect) TimeType() string {
	return "DATETIME(6)"
}

func (d *MySQLDialect) SchemaSQL(tableName string) []string {
	return []string{
		createTableSQL(tableName, d.PayloadType(), d.TimeType(), `,
			INDEX idx_created_at (created_at),
			INDEX idx_outcome (outcome),
			INDEX idx_remote_addr (remote_addr)`),
	}
}
