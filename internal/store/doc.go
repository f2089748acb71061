// Package store provides SQLite-backed durable storage for the ban ledger.
//
// The store holds three tables:
//   - jails: named monitoring units (identity = name, plus an enabled flag)
//   - logs: per-jail tracked log files with fingerprint and read position
//   - bans: ban events ("tickets"), immutable once written
//
// # Concurrency
//
// Writes (AddBan, RecordPosition, ResumePosition, RegisterJail, Purge,
// Migrate) take the store's write lock for the whole transaction. Reads
// share the read lock and therefore never observe a half-applied write.
// The merge cache is invalidated while the write lock is held and before
// the transaction commits, so a reader can never see a cached merge that
// predates a committed ban.
//
// # Ordering
//
// Event queries order by time_of_ban and then by the autoincrement row id,
// so events with equal timestamps keep insertion order. Multi-address
// results are ordered by address.
//
// # Schema versions
//
// The version lives in PRAGMA user_version. Version 0 with tables present is
// the legacy layout (jails keyed by name, one global set of log files, bans
// without ban time or ban count). Each upgrade step is applied in order
// inside a single transaction after a full backup copy of the file is made.
// A file with a version newer than CurrentSchemaVersion is refused.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
