package deduplication

import (
	"fmt"

	"github.com/steveyegge/issuesync/internal/fingerprint"
	"github.com/steveyegge/issuesync/internal/types"
)

// Result represents the result of batch deduplication
type Result struct {
	// Unique are the first occurrences of each identity token, in input order
	Unique []types.Finding `json:"unique"`

	// WithinBatchDuplicates maps duplicate finding indices to the first occurrence index
	// Key: index in the original findings slice (duplicate)
	// Value: index in the original findings slice (first occurrence)
	WithinBatchDuplicates map[int]int `json:"within_batch_duplicates,omitempty"`

	// Statistics about the deduplication process
	Stats Stats `json:"stats"`
}

// Stats provides metrics about the deduplication process
type Stats struct {
	// TotalCandidates is the number of findings checked
	TotalCandidates int `json:"total_candidates"`

	// UniqueCount is the number of unique findings
	UniqueCount int `json:"unique_count"`

	// WithinBatchDuplicateCount is the number of duplicates within the batch
	WithinBatchDuplicateCount int `json:"within_batch_duplicate_count"`
}

// Deduplicate collapses findings that share an identity token. The first
// occurrence wins and order is preserved. Findings without a token are
// stamped before comparison; the input slice is not modified.
func Deduplicate(findings []types.Finding) *Result {
	result := &Result{
		Unique:                make([]types.Finding, 0, len(findings)),
		WithinBatchDuplicates: make(map[int]int),
		Stats:                 Stats{TotalCandidates: len(findings)},
	}

	firstIndex := make(map[string]int, len(findings))
	for i := range findings {
		f := findings[i]
		if f.IdentityToken == "" {
			f.IdentityToken = fingerprint.Token(&f)
		}
		if orig, ok := firstIndex[f.IdentityToken]; ok {
			result.WithinBatchDuplicates[i] = orig
			continue
		}
		firstIndex[f.IdentityToken] = i
		result.Unique = append(result.Unique, f)
	}

	result.Stats.UniqueCount = len(result.Unique)
	result.Stats.WithinBatchDuplicateCount = len(result.WithinBatchDuplicates)
	return result
}

// Validate checks if the deduplication result has valid values
func (r *Result) Validate() error {
	uniqueCount := len(r.Unique)
	withinBatchCount := len(r.WithinBatchDuplicates)

	// Validate stats match actual data
	if r.Stats.UniqueCount != uniqueCount {
		return fmt.Errorf("stats.unique_count (%d) does not match unique length (%d)",
			r.Stats.UniqueCount, uniqueCount)
	}
	if r.Stats.WithinBatchDuplicateCount != withinBatchCount {
		return fmt.Errorf("stats.within_batch_duplicate_count (%d) does not match within_batch_duplicates length (%d)",
			r.Stats.WithinBatchDuplicateCount, withinBatchCount)
	}

	// Total should add up
	total := uniqueCount + withinBatchCount
	if r.Stats.TotalCandidates != total {
		return fmt.Errorf("stats.total_candidates (%d) does not match sum of unique + within_batch (%d)",
			r.Stats.TotalCandidates, total)
	}

	// Validate within-batch duplicates reference valid indices
	for dupIdx, origIdx := range r.WithinBatchDuplicates {
		if dupIdx < 0 || dupIdx >= r.Stats.TotalCandidates {
			return fmt.Errorf("within_batch_duplicates contains invalid duplicate index %d (total: %d)",
				dupIdx, r.Stats.TotalCandidates)
		}
		if origIdx < 0 || origIdx >= r.Stats.TotalCandidates {
			return fmt.Errorf("within_batch_duplicates contains invalid original index %d (total: %d)",
				origIdx, r.Stats.TotalCandidates)
		}
		if dupIdx <= origIdx {
			return fmt.Errorf("within_batch_duplicates: duplicate index %d must be > original index %d",
				dupIdx, origIdx)
		}
	}

	seen := make(map[string]bool, uniqueCount)
	for _, f := range r.Unique {
		if seen[f.IdentityToken] {
			return fmt.Errorf("unique contains token %s more than once", fingerprint.Short(f.IdentityToken))
		}
		seen[f.IdentityToken] = true
	}

	return nil
}
