// Package deduplication collapses repeated findings within a single run.
//
// # Overview
//
// Analyzers frequently report the same problem more than once: two tools
// wrapping the same linter, overlapping include globs, or a finding emitted
// per build target. Deduplicate keeps the first finding for each identity
// token and drops the rest, so later stages see one finding per problem.
//
// # Semantics
//
//   - Identity is the fingerprint token (see package fingerprint); findings
//     that arrive without a token are stamped first.
//   - First occurrence wins. The relative order of survivors is the input order.
//   - The function is pure: no I/O, no shared state, input is not modified.
//
// # Usage
//
//	result := deduplication.Deduplicate(findings)
//	if err := result.Validate(); err != nil {
//	    return err
//	}
//	stats.SkippedDuplicate += result.Stats.WithinBatchDuplicateCount
//
// WithinBatchDuplicates maps each dropped index to the index of the finding it
// duplicated, which is useful when reporting what was skipped.
package deduplication
