// Package results groups match records and persists detection sessions.
package results

import (
	"cryptoscan/models"
)

// Group is every record for one algorithm, in discovery order.
type Group struct {
	Algorithm string
	Matches   []models.Match
}

// Deduplicate keeps the first record for each (algorithm, source, line).
func Deduplicate(matches []models.Match) []models.Match {
	if matches == nil {
		return nil
	}
	seen := make(map[models.MatchKey]bool, len(matches))
	unique := make([]models.Match, 0, len(matches))
	for _, m := range matches {
		key := m.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, m)
	}
	return unique
}

// GroupByAlgorithm partitions records by algorithm. Groups appear in the order
// their algorithm was first seen.
func GroupByAlgorithm(matches []models.Match) []Group {
	index := make(map[string]int)
	var groups []Group
	for _, m := range matches {
		i, ok := index[m.Algorithm]
		if !ok {
			i = len(groups)
			index[m.Algorithm] = i
			groups = append(groups, Group{Algorithm: m.Algorithm})
		}
		groups[i].Matches = append(groups[i].Matches, m)
	}
	return groups
}
