package speakers

import (
	"sort"
)

// Window is a query time range in absolute seconds, e.g. one subtitle line.
type Window struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

func (w Window) mid() float64 { return (w.Start + w.End) / 2 }

// Scoring ranks fragments against a window: seconds of overlap plus a bonus
// when the fragment contains the window midpoint. The bonus only needs to
// dominate raw overlap.
type Scoring struct {
	MidpointBonus float64
}

func DefaultScoring() Scoring { return Scoring{MidpointBonus: 10} }

func (s Scoring) score(w Window, f FragmentInfo) float64 {
	v := max(0, min(w.End, f.End)-max(w.Start, f.Start))
	if m := w.mid(); f.Start <= m && m <= f.End {
		v += s.MidpointBonus
	}
	return v
}

// AssignSpeaker returns the speaker whose fragments score highest against w.
// It reports false when no speaker scores above zero.
func AssignSpeaker(w Window, clusters Clusters, s Scoring) (string, bool) {
	best, bestScore := "", 0.0
	for _, id := range clusters.SpeakerIDs() {
		total := 0.0
		for _, f := range clusters[id] {
			total += s.score(w, f)
		}
		if total > bestScore {
			best, bestScore = id, total
		}
	}
	return best, best != ""
}

// anchor returns the single best-scoring fragment of cluster for w.
func anchor(w Window, cluster []FragmentInfo, s Scoring) (FragmentInfo, bool) {
	var (
		best      FragmentInfo
		bestScore float64
		found     bool
	)
	for _, f := range cluster {
		if v := s.score(w, f); v > bestScore {
			best, bestScore, found = f, v, true
		}
	}
	return best, found
}

// SelectReferenceFragments picks the longest fragments of a cluster while the
// running total stays within maxDuration, at most maxCount of them. A cluster
// whose longest fragment alone exceeds maxDuration still yields that fragment.
func SelectReferenceFragments(cluster []FragmentInfo, maxDuration float64, maxCount int) []FragmentInfo {
	sorted := make([]FragmentInfo, len(cluster))
	copy(sorted, cluster)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Duration > sorted[j].Duration })

	var (
		selected []FragmentInfo
		total    float64
	)
	for _, f := range sorted {
		if total+f.Duration > maxDuration {
			if len(selected) == 0 {
				selected = append(selected, f)
			}
			break
		}
		selected = append(selected, f)
		total += f.Duration
		if len(selected) >= maxCount {
			break
		}
	}
	return selected
}

// chronological sorts fragments by start time in place.
func chronological(frags []FragmentInfo) {
	sort.SliceStable(frags, func(i, j int) bool { return frags[i].Start < frags[j].Start })
}
