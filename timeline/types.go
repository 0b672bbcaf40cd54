// Package timeline turns a full recording into an ordered, non-overlapping list
// of speech fragments by running voice activity detection chunk by chunk, and
// caches the result on disk.
package timeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/stream-polyglot/voiceline/audio"
)

var (
	// ErrVoiceActivity wraps every failure of the voice activity oracle.
	// A run that hits it has no trustworthy timeline.
	ErrVoiceActivity = errors.New("voice activity detection failed")
	// ErrInvalidChunkDuration is returned for a non-positive chunk size.
	ErrInvalidChunkDuration = errors.New("chunk duration must be positive")
)

// Interval is a speech span in seconds, relative or absolute depending on context.
type Interval struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

func (iv Interval) Duration() float64 { return iv.End - iv.Start }

// VoiceActivityOracle detects speech in a bounded chunk of audio. Returned
// intervals are relative to the chunk start, ordered, with End > Start.
type VoiceActivityOracle interface {
	DetectSpeech(ctx context.Context, chunk *audio.Clip) ([]Interval, error)
}

// Fragment is one contiguous speech interval with absolute timestamps.
type Fragment struct {
	ID        int     `json:"id"`
	SourceRef string  `json:"file"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
}

func (f Fragment) Duration() float64 { return f.End - f.Start }

// Metadata describes the recording a timeline was built from.
type Metadata struct {
	InputDuration float64 `json:"inputDuration"`
	SampleRate    int     `json:"sampleRate"`
	FragmentCount int     `json:"fragmentCount"`
}

// Timeline is the ordered fragment list for one recording. It is not
// modified after Segment returns.
type Timeline struct {
	Fragments []Fragment `json:"timeline"`
	Metadata  Metadata   `json:"metadata"`
}

// FragmentFileName names a fragment's audio file from its bounds.
func FragmentFileName(start, end float64) string {
	return fmt.Sprintf("fragment_%.10f_%.10f.wav", start, end)
}

// Validate checks ordering, positivity and non-overlap.
func (tl *Timeline) Validate() error {
	for i, f := range tl.Fragments {
		if f.End <= f.Start {
			return fmt.Errorf("fragment %d: end %.3f <= start %.3f", f.ID, f.End, f.Start)
		}
		if i > 0 && f.Start < tl.Fragments[i-1].End {
			return fmt.Errorf("fragment %d overlaps fragment %d", f.ID, tl.Fragments[i-1].ID)
		}
	}
	if tl.Metadata.FragmentCount != len(tl.Fragments) {
		return fmt.Errorf("fragment count %d does not match %d fragments", tl.Metadata.FragmentCount, len(tl.Fragments))
	}
	return nil
}
