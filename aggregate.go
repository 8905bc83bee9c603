package main

import (
	"math"
	"sort"
)

// CalculateAggregateRankings combines per-judge rankings into the consensus
// ordering. participants is the Stage-1 label assignment order (model ids of
// the models that received labels); it anchors the final tie-break and keeps
// the aggregate complete: a model no judge mentioned is still listed, with
// RankingsCount zero rather than a penalty rank. Missing data lowers the
// count, it never inflates the average.
//
// Ordering: ascending average rank; ties broken by higher rankings count,
// then by participant order. Unranked models sort after all ranked ones.
func CalculateAggregateRankings(stage2Results []Stage2Ranking, labelToModel map[string]string, participants []string) []AggregateRanking {
	// Collect 1-based positions per model across all judges.
	modelPositions := make(map[string][]int)
	for _, ranking := range stage2Results {
		for position, label := range ranking.ParsedRanking {
			if model, ok := labelToModel[label]; ok {
				modelPositions[model] = append(modelPositions[model], position+1)
			}
		}
	}

	participantOrder := make(map[string]int, len(participants))
	aggregate := make([]AggregateRanking, 0, len(participants))
	for i, model := range participants {
		if _, seen := participantOrder[model]; seen {
			continue // duplicate model id in the council; positions already pooled
		}
		participantOrder[model] = i

		entry := AggregateRanking{Model: model}
		if positions := modelPositions[model]; len(positions) > 0 {
			sum := 0
			for _, pos := range positions {
				sum += pos
			}
			avg := float64(sum) / float64(len(positions))
			entry.AverageRank = math.Round(avg*100) / 100
			entry.RankingsCount = len(positions)
		}
		aggregate = append(aggregate, entry)
	}

	sort.SliceStable(aggregate, func(i, j int) bool {
		a, b := aggregate[i], aggregate[j]
		// Unranked models carry no usable average; they go last.
		if (a.RankingsCount == 0) != (b.RankingsCount == 0) {
			return b.RankingsCount == 0
		}
		if a.AverageRank != b.AverageRank {
			return a.AverageRank < b.AverageRank
		}
		if a.RankingsCount != b.RankingsCount {
			return a.RankingsCount > b.RankingsCount
		}
		return participantOrder[a.Model] < participantOrder[b.Model]
	})

	return aggregate
}
