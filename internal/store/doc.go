// Package store provides SQLite-backed durable storage for diagnostic record
// streams.
//
// The store is an append-only log with two tables:
//   - runs: one row per run, opened by its scope-start record and finished by
//     its scope-end record
//   - records: every record of every run, keyed by its content-addressed id
//
// # Critical Patterns
//
// Record-Level Idempotency:
//   - records.id is ir.RecordID(record), so writing the same record twice is a
//     no-op (ON CONFLICT(id) DO NOTHING)
//   - a different record at an existing (run_id, seq) is a constraint error
//
// Logical Time:
//   - All ordering uses seq INTEGER (logical clock), never timestamps
//   - MaxSeq lets a writer resume the clock after existing records
//
// Deterministic Reads:
//   - Record queries use ORDER BY seq ASC, id ASC COLLATE BINARY
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: A record must belong to a known run
//
// Payloads are stored as canonical JSON produced by internal/ir.
package store
