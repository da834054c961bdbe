// Package storage records the outcome of every signed request that reaches
// the protected route. Backends implement Storage; the SQL implementation in
// storage/sql covers SQLite, PostgreSQL and MySQL.
package storage
