package detector

import "sort"

// resolveOverlaps walks the candidate spans left to right, keeping a span
// only when it does not overlap the last kept one; on overlap the winner is
// chosen by category priority, then the tie-break in higherPriority.
// Output is sorted by Start and pairwise disjoint (spec.md §4.1).
func resolveOverlaps(candidates []Span) []Span {
	if len(candidates) == 0 {
		return nil
	}

	sorted := make([]Span, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End < sorted[j].End
	})

	kept := make([]Span, 0, len(sorted))
	kept = append(kept, sorted[0])

	for _, cand := range sorted[1:] {
		last := kept[len(kept)-1]
		if cand.Start >= last.End {
			kept = append(kept, cand)
			continue
		}
		// Overlap: keep whichever of last/cand has priority, discard the
		// other. If cand wins, it replaces last in place.
		if higherPriority(cand, last) {
			kept[len(kept)-1] = cand
		}
	}

	return kept
}
