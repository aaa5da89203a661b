// Package wshash computes the workspace-wide aggregate digest: a cheap
// "has anything changed?" fingerprint over every project's input-file
// merkle root. Grounded on internal/digest's
// Combine/CombineAll folding convention, the same primitive
// internal/merkle and internal/collector use, kept consistent across
// all three so a workspace hash, a task digest, and a merkle root are
// never accidentally comparable to one another.
package wshash

import (
	"sort"

	"github.com/omni-build/omni/internal/digest"
	"github.com/omni-build/omni/internal/merkle"
)

// seed is the fixed starting accumulator for Combine, so that a
// workspace with a single project doesn't hash to that project's root
// verbatim.
var seed = digest.OfString("omni-workspace-hash-v1")

// ProjectRoot pairs a project name with its input-file merkle root,
// the unit wshash aggregates over.
type ProjectRoot struct {
	Project string
	Root    digest.Digest
}

// Aggregate combines a workspace's per-project input roots into one
// digest. Project order in the input slice does not affect the result:
// roots are sorted by their own hash value before folding.
func Aggregate(roots []ProjectRoot) digest.Digest {
	sorted := make([]ProjectRoot, len(roots))
	copy(sorted, roots)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Root.String() < sorted[j].Root.String()
	})

	acc := seed
	for _, r := range sorted {
		acc = digest.Combine(acc, r.Root)
	}
	return acc
}

// UnionInputs merges several tasks' declared input-file lists into one
// deduplicated-by-key set, keeping the first occurrence of a
// repeated key.
func UnionInputs(perTask [][]merkle.Input) []merkle.Input {
	seen := map[string]bool{}
	var out []merkle.Input
	for _, inputs := range perTask {
		for _, in := range inputs {
			if seen[in.Key] {
				continue
			}
			seen[in.Key] = true
			out = append(out, in)
		}
	}
	return out
}

// ProjectRootFor computes a project's input-file merkle root over the
// union of its tasks' declared inputs, delegating to internal/merkle for
// the actual mtime-reuse-aware hashing.
func ProjectRootFor(idx merkle.Index, perTaskInputs [][]merkle.Input) (digest.Digest, merkle.Index, error) {
	return merkle.Hash(idx, UnionInputs(perTaskInputs))
}
