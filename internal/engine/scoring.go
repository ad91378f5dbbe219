package engine

import (
	"sort"

	"github.com/sleuthstack/sleuth-engine/internal/models"
)

// MergeAndRank concatenates candidate lists and orders them by score
// descending. Ties break by kind priority (dependency, metric, logs, then
// the rest) and finally by title, so identical input multisets always yield
// the identical output order regardless of input arrangement. Inputs are not
// mutated and duplicates are kept: the same underlying cause flagged by two
// analyzers appears twice, each at its own score.
func MergeAndRank(lists ...[]models.Candidate) []models.Candidate {
	total := 0
	for _, list := range lists {
		total += len(list)
	}

	merged := make([]models.Candidate, 0, total)
	for _, list := range lists {
		merged = append(merged, list...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		ri, rj := models.KindRank(merged[i].Kind), models.KindRank(merged[j].Kind)
		if ri != rj {
			return ri < rj
		}
		return merged[i].Title < merged[j].Title
	})
	return merged
}
