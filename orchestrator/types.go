package orchestrator

import (
	"github.com/stream-polyglot/voiceline/speakers"
	"github.com/stream-polyglot/voiceline/timeline"
)

// Utterance is one subtitle cue, or one timeline fragment when no
// subtitles are given.
type Utterance struct {
	Index int     `json:"index"`
	Start float64 `json:"start"` // sec
	End   float64 `json:"end"`   // sec
	Text  string  `json:"text,omitempty"`
}

func (u Utterance) window() speakers.Window { return speakers.Window{Start: u.Start, End: u.End} }

// Reference is the reference audio chosen for one utterance.
type Reference struct {
	Utterance Utterance `json:"utterance"`
	speakers.ReferenceSelection
	// Output is the concatenated WAV, empty when nothing was selected.
	Output string `json:"output,omitempty"`
}

// SpeakerReference is a cluster-level voice sample: the speaker's longest
// fragments within the configured limits.
type SpeakerReference struct {
	SpeakerID string                  `json:"speaker_id"`
	Fragments []speakers.FragmentInfo `json:"fragments"`
	Output    string                  `json:"output,omitempty"`
}

// Analysis is a segmented and clustered recording.
type Analysis struct {
	AudioPath    string
	CacheKey     string
	Timeline     *timeline.Timeline
	FragmentsDir string
	Clusters     speakers.Clusters
}
