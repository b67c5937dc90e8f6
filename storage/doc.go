// Package storage runs work against the shared SQLite store without letting
// write contention reach the caller.
//
// Every operation goes through a storage-classified resilience.Retry:
// SQLITE_BUSY and SQLITE_LOCKED are retried with backoff, everything else
// (constraint violations, schema errors) fails on first occurrence.
//
// RunInTransaction wraps a body in BEGIN IMMEDIATE / COMMIT with rollback on
// error or panic. The whole begin-body-commit sequence is retried, so a body
// may run more than once and must not touch anything outside the transaction.
//
// ClaimOne hands one row of a shared pool to one requester with a conditional
// UPDATE instead of a lock. Losing the race for a candidate is reported as
// "nothing claimed", not as an error.
package storage
