package tokenizer

// commonTrigrams are frequent English letter trigrams. Running prose hits
// them often; OCR noise and markup rarely do.
var commonTrigrams = map[string]struct{}{
	"all": {}, "and": {}, "edt": {}, "ent": {}, "ere": {}, "for": {}, "has": {},
	"hat": {}, "her": {}, "his": {}, "ing": {}, "ion": {}, "ith": {}, "men": {},
	"nce": {}, "nde": {}, "oft": {}, "sth": {}, "ter": {}, "tha": {}, "the": {},
	"thi": {}, "tio": {}, "tis": {}, "ver": {}, "was": {}, "wit": {}, "you": {},
}

// TrigramStats is the raw material of the garbage heuristic.
type TrigramStats struct {
	Common int
	Total  int
}

// Ratio is Common/Total, or 0 when the text has fewer than three runes.
func (s TrigramStats) Ratio() float64 {
	if s.Total <= 0 {
		return 0
	}
	return float64(s.Common) / float64(s.Total)
}

// CountTrigrams slides a three-rune window over the raw text and counts the
// windows that are common trigrams. Total is runes-2.
func CountTrigrams(text string) TrigramStats {
	var ring [3]int
	var stats TrigramStats
	n := 0
	check := func(end int) {
		if n < 3 {
			return
		}
		if _, ok := commonTrigrams[text[ring[n%3]:end]]; ok {
			stats.Common++
		}
	}
	for i := range text {
		check(i)
		ring[n%3] = i
		n++
	}
	check(len(text))
	stats.Total = n - 2
	if stats.Total < 0 {
		stats.Total = 0
	}
	return stats
}

// GarbageRatio is CountTrigrams(text).Ratio().
func GarbageRatio(text string) float64 {
	return CountTrigrams(text).Ratio()
}

// IsGarbage flags a ratio under threshold. It is advisory only.
func IsGarbage(ratio, threshold float64) bool {
	return ratio < threshold
}
