// Package scope implements the run → step → measurement series hierarchy
// that every diagnostic record is emitted through.
//
// ARCHITECTURE:
//
// Single Writer:
// A Manager owns one record stream. Every record is stamped with the next
// value of the logical clock and handed to the sink while the manager's
// mutex is held, so:
// - seq order equals emission order
// - records from concurrent emitters never interleave
// - a scope's end record always follows every record emitted inside it
//
// Scope Lifecycle:
// 1. enter validates nesting and emits the start record
// 2. the body runs with a *Scope handle
// 3. the end record is emitted on every exit path: return, error, panic,
// runtime.Goexit
// 4. panics are re-raised after the end record is written
//
// A body ends its scope early with Skip or EndWith. Any other error ends the
// scope with an Error outcome and is returned to the caller.
//
// Misuse of the hierarchy (a step outside a run, emitting through a closed
// handle, a second run while one is open) returns a *ProtocolError.
package scope
