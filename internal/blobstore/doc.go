// Package blobstore provides the name-addressed document namespace every
// persisted scheduler document lives in (schedule config, breaker state,
// lease lock, run logs, delivery markers).
//
// The contract is deliberately small: list by name or prefix, get by id,
// create, update. There are no transactions. Create rejects a name that
// already exists (ErrExists) on every driver, which callers may use as a
// create-if-absent primitive.
//
// Drivers:
//   - "file": one file per document inside a directory
//   - "sqlite": a single table in a SQLite database file
//   - "redis": one string key per document plus a name index set
//   - "dynamodb": one item per document, conditional put on create
//   - "memory": process-local, used by tests and dry runs
package blobstore
