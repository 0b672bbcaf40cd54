package timeline

import (
	"context"
	"errors"

	"github.com/stream-polyglot/voiceline/audio"
)

// energyVAD reports runs of samples above a fixed amplitude.
type energyVAD struct {
	calls int
}

func (v *energyVAD) DetectSpeech(_ context.Context, c *audio.Clip) ([]Interval, error) {
	v.calls++
	var out []Interval
	start := -1
	for i, s := range c.Samples {
		loud := s > 0.1 || s < -0.1
		if loud && start < 0 {
			start = i
		}
		if !loud && start >= 0 {
			out = append(out, Interval{Start: float64(start) / float64(c.SampleRate), End: float64(i) / float64(c.SampleRate)})
			start = -1
		}
	}
	if start >= 0 {
		out = append(out, Interval{Start: float64(start) / float64(c.SampleRate), End: float64(len(c.Samples)) / float64(c.SampleRate)})
	}
	return out, nil
}

// scriptedVAD returns a fixed relative interval list per call.
type scriptedVAD struct {
	script [][]Interval
	calls  int
}

func (v *scriptedVAD) DetectSpeech(_ context.Context, _ *audio.Clip) ([]Interval, error) {
	i := v.calls
	v.calls++
	if i < len(v.script) {
		return v.script[i], nil
	}
	return nil, nil
}

type failingVAD struct{}

func (failingVAD) DetectSpeech(context.Context, *audio.Clip) ([]Interval, error) {
	return nil, errors.New("connection refused")
}

// speechClip builds a clip of the given length with constant-amplitude
// "speech" over each region and silence elsewhere.
func speechClip(rate int, seconds float64, regions ...Interval) *audio.Clip {
	s := make([]float64, int(seconds*float64(rate)))
	for _, r := range regions {
		for i := int(r.Start * float64(rate)); i < int(r.End*float64(rate)) && i < len(s); i++ {
			s[i] = 0.5
		}
	}
	return &audio.Clip{SampleRate: rate, Samples: s}
}
