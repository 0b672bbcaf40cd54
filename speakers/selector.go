package speakers

import (
	"math"
	"sort"
)

// ReferencePolicy bounds the duration of a dynamically assembled reference.
type ReferencePolicy struct {
	MinDuration    float64
	TargetDuration float64
	// OvershootFactor caps the running total at TargetDuration*OvershootFactor
	// while extending a short anchor.
	OvershootFactor float64
}

func DefaultReferencePolicy() ReferencePolicy {
	return ReferencePolicy{MinDuration: 5, TargetDuration: 10, OvershootFactor: 1.5}
}

// Strategy extends a short anchor with other fragments of the same speaker.
// It returns the full selection (anchor included) and its total duration.
type Strategy func(anchor FragmentInfo, cluster []FragmentInfo, p ReferencePolicy) ([]FragmentInfo, float64)

// NearestFirst adds the speaker's fragments closest in time to the anchor's
// midpoint, skipping any that would overshoot, until MinDuration is reached.
// The selection is returned in chronological order.
func NearestFirst(anchor FragmentInfo, cluster []FragmentInfo, p ReferencePolicy) ([]FragmentInfo, float64) {
	mid := (anchor.Start + anchor.End) / 2
	others := make([]FragmentInfo, 0, len(cluster))
	for _, f := range cluster {
		if f.FragmentID != anchor.FragmentID {
			others = append(others, f)
		}
	}
	sort.SliceStable(others, func(i, j int) bool {
		return math.Abs((others[i].Start+others[i].End)/2-mid) < math.Abs((others[j].Start+others[j].End)/2-mid)
	})

	selected := []FragmentInfo{anchor}
	total := anchor.Duration
	limit := p.TargetDuration * p.OvershootFactor
	for _, f := range others {
		if total >= p.TargetDuration {
			break
		}
		if total+f.Duration > limit {
			continue
		}
		selected = append(selected, f)
		total += f.Duration
		if total >= p.MinDuration {
			break
		}
	}
	chronological(selected)
	return selected, total
}

// ReferenceSelection is the reference audio chosen for one window. An empty
// SpeakerID means no speaker matched.
type ReferenceSelection struct {
	SpeakerID     string         `json:"speaker_id,omitempty"`
	Fragments     []FragmentInfo `json:"fragments"`
	TotalDuration float64        `json:"total_duration"`
}

// Files lists the selected fragment files in time order.
func (r ReferenceSelection) Files() []string {
	out := make([]string, len(r.Fragments))
	for i, f := range r.Fragments {
		out[i] = f.File
	}
	return out
}

// Selector resolves a window to a speaker and a reference of usable length.
type Selector struct {
	Policy   ReferencePolicy
	Scoring  Scoring
	Strategy Strategy
}

func NewSelector(p ReferencePolicy, s Scoring) *Selector {
	return &Selector{Policy: p, Scoring: s, Strategy: NearestFirst}
}

// Select assigns w to a speaker, finds the anchor fragment overlapping w the
// most, and uses it alone when it is at least MinDuration long; shorter
// anchors are extended by the Strategy.
func (s *Selector) Select(w Window, clusters Clusters) ReferenceSelection {
	id, ok := AssignSpeaker(w, clusters, s.Scoring)
	if !ok {
		return ReferenceSelection{Fragments: []FragmentInfo{}}
	}
	cluster := clusters[id]
	a, ok := anchor(w, cluster, s.Scoring)
	if !ok {
		return ReferenceSelection{SpeakerID: id, Fragments: []FragmentInfo{}}
	}

	if a.Duration >= s.Policy.MinDuration {
		// at or past the target, or already acceptable
		return ReferenceSelection{SpeakerID: id, Fragments: []FragmentInfo{a}, TotalDuration: a.Duration}
	}
	frags, total := s.Strategy(a, cluster, s.Policy)
	return ReferenceSelection{SpeakerID: id, Fragments: frags, TotalDuration: total}
}
