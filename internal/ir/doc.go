// Package ir provides the record model shared by every diagrun package.
//
// This package contains type definitions and the canonical encoding only.
// All other internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Records are ordered by a logical sequence (Seq), never by wall-clock time
//   - Every record belongs to exactly one scope (ScopeID) within one run (RunID)
//   - Exactly one payload field is set per record, matching Kind
//   - All JSON tags use snake_case
package ir
