// Package bucket implements deterministic hash-based bucketing and
// weighted variation selection for experiments.
//
// Assignment stability is the whole point: the same (subject, experiment)
// pair must land in the same bucket on every call, in every process, so
// the bucket value is a pure function of the two identifiers. The hash is
// a 32-bit signed rolling hash, not a cryptographic one; collisions across
// different pairs are accepted approximate uniformity.
package bucket

import (
	"fmt"
	"math"
	"sort"
)

// weightTolerance is the floating tolerance accepted when checking that
// distribution weights sum to 1.0.
const weightTolerance = 1e-9

// Value maps a (subjectID, experimentID) pair to a float in [0, 1).
//
// The two identifiers are joined with a separator and run through the
// rolling hash h = h*31 + char, truncated to 32 signed bits. The absolute
// value is normalized by 2^31 rather than the maximum int32 so the result
// stays strictly below 1 even at the minimum-int32 edge.
func Value(subjectID, experimentID string) float64 {
	var h int32
	for _, r := range subjectID + ":" + experimentID {
		h = h*31 + int32(r)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return float64(v) / (1 << 31)
}

// Entry is a single variation weight in a distribution.
type Entry struct {
	Variation string  `json:"variation"`
	Weight    float64 `json:"weight"`
}

// Distribution maps variation names to probability weights. It is a slice,
// not a map: iteration order decides tie-breaking at cumulative weight
// boundaries, so insertion order is part of the observable contract.
type Distribution []Entry

// Pick returns the first variation whose cumulative weight strictly
// exceeds the bucket value. ok is false when no entry qualifies, which
// happens when the weights under-cover [0,1) due to floating error or a
// bucket value at the very top of the range; callers fall back to the
// experiment's control variation in that case.
func (d Distribution) Pick(b float64) (string, bool) {
	cum := 0.0
	for _, e := range d {
		cum += e.Weight
		if cum > b {
			return e.Variation, true
		}
	}
	return "", false
}

// Has reports whether the distribution contains the named variation.
func (d Distribution) Has(name string) bool {
	for _, e := range d {
		if e.Variation == name {
			return true
		}
	}
	return false
}

// Validate checks that the distribution covers exactly the given variation
// key set with non-negative weights summing to 1.0 within tolerance.
func (d Distribution) Validate(variations []string) error {
	if len(d) != len(variations) {
		return fmt.Errorf("distribution has %d entries, experiment has %d variations", len(d), len(variations))
	}
	keys := make(map[string]bool, len(variations))
	for _, v := range variations {
		keys[v] = true
	}
	sum := 0.0
	seen := make(map[string]bool, len(d))
	for _, e := range d {
		if !keys[e.Variation] {
			return fmt.Errorf("distribution entry %q is not a variation of the experiment", e.Variation)
		}
		if seen[e.Variation] {
			return fmt.Errorf("duplicate distribution entry %q", e.Variation)
		}
		seen[e.Variation] = true
		if e.Weight < 0 {
			return fmt.Errorf("variation %q has negative weight %v", e.Variation, e.Weight)
		}
		sum += e.Weight
	}
	if math.Abs(sum-1.0) > weightTolerance {
		return fmt.Errorf("distribution weights sum to %v, want 1.0", sum)
	}
	return nil
}

// EvenSplit builds an equal-weight distribution over the given variation
// names. Names are sorted so the defaulted order is deterministic
// regardless of map iteration order at the call site.
func EvenSplit(names []string) Distribution {
	if len(names) == 0 {
		return nil
	}
	sorted := make([]string, len(names))
	copy(sorted, names)
	sort.Strings(sorted)

	w := 1.0 / float64(len(sorted))
	d := make(Distribution, len(sorted))
	for i, n := range sorted {
		d[i] = Entry{Variation: n, Weight: w}
	}
	return d
}
