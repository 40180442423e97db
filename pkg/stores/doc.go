// Package stores persists iloctl run history. It provides SQLite-based
// storage with WAL mode and embedded migrations for runs, redacted
// session transcripts, per-domain state snapshots used for drift
// detection, and the audit trail.
package stores
