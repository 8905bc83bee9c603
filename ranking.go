package main

import "regexp"

var (
	// finalRankingMarker locates the ranking section a judge was instructed
	// to end with. Case-insensitive: models don't reliably shout.
	finalRankingMarker = regexp.MustCompile(`(?i)FINAL RANKING:`)

	// rankingEntry matches one list entry in the ranking section. List
	// numbering and punctuation around the label are tolerated; the label
	// itself is captured. Multi-letter labels cover councils past 26 models.
	rankingEntry = regexp.MustCompile(`Response [A-Z]+\b`)
)

// ParseRankingFromText extracts the ordered label list from a judge's
// free-text ranking judgment. It locates the final-ranking marker and
// collects the labels that follow it, in order. Garbled lines inside the
// section simply contribute nothing. No marker, or a marker followed by no
// recognizable labels, yields an empty slice - the judge's raw text is
// still kept upstream, it just carries no data point for aggregation.
func ParseRankingFromText(rankingText string) []string {
	loc := finalRankingMarker.FindStringIndex(rankingText)
	if loc == nil {
		return []string{}
	}

	section := rankingText[loc[1]:]
	matches := rankingEntry.FindAllString(section, -1)
	if matches == nil {
		return []string{}
	}
	return matches
}
