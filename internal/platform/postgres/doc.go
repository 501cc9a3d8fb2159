// Package postgres stores task history in PostgreSQL. It implements
// store.TaskStore over database/sql with the pgx driver, maps driver errors
// onto the store package's sentinel errors, and carries the goose
// migrations that create its schema.
package postgres
