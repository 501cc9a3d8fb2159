// Package store defines interfaces for task history persistence.
// These interfaces abstract the underlying storage mechanism from the
// scheduler, so the scheduler's rules stay independent of whether history
// lives in a JSON file or a PostgreSQL table.
package store
