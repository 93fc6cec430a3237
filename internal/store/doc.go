// Package store records generation runs in a SQLite symbol database.
//
// A run stores what the resolver and emitter produced:
//   - Symbols: the external name and convention of every declaration ID
//   - Layouts: size, alignment and the placement detail of every record
//   - Instances: the template instances with their content digests
//   - Units: the emitted package specs with their digests
//   - Diagnostics: the report of the run
//
// Reference symbol tables (nm output of a real compilation) are imported
// under a source name and compared against a run by the validate command.
//
// # Ordering
//
// Runs are ordered by seq, a logical clock, never by timestamps. Every
// query orders its rows explicitly so that reads are deterministic.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Layout detail is stored as canonical JSON (see ir.MarshalCanonical).
package store
