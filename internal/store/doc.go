// Package store provides durable storage for run state.
//
// Three implementations satisfy core.RunStateStore:
//   - MemoryStore: in-process map, for tests and the precheck CLI
//   - Store: SQLite database (the default durable backend)
//   - PostgresStore: Postgres via lib/pq, for shared deployments
//
// # Save Semantics
//
// Every Save is a compare-and-swap on the run's version:
//   - Version 0 creates the run; an existing key fails with core.ErrRunExists
//   - Version N updates only if the stored version is N, else core.ErrVersionConflict
//   - On success the stored and in-memory versions become N+1
//
// State is stored as one JSON document per run. Loads decode numbers as
// json.Number so integers above 2^53 survive a round trip.
//
// # Listing
//
// Query takes a queryir.Select. The SQL stores compile it with querysql
// against the indexed columns of the runs table; MemoryStore evaluates it
// with queryir.Match. All three return rows ordered by run id.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
