// Package runs persists training-run history in SQLite.
//
// The Store manages database connections, schema initialization, run
// lifecycle transitions, and per-epoch metric records. Runs capture the
// dataset, architecture, hyperparameters, terminal outcome, and test
// metrics so experiments remain comparable after the fact.
//
// The database is an append-mostly archive rather than transient state.
// Schema changes bump the version in schema.go; a version mismatch on
// open is reported instead of silently migrating.
//
// Treat this package as the single source of truth for run semantics;
// when you add new statuses or metric fields, update schema.sql and
// bump schemaVersion.
package runs
