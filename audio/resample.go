package audio

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resample converts c to the target rate. A clip already at rate is copied.
func Resample(c *Clip, rate int) (*Clip, error) {
	if c.SampleRate == rate || len(c.Samples) == 0 {
		out := make([]float64, len(c.Samples))
		copy(out, c.Samples)
		return &Clip{SampleRate: rate, Samples: out}, nil
	}
	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(c.SampleRate),
		OutputRate: float64(rate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}
	out, err := r.Process(c.Samples)
	if err != nil {
		return nil, fmt.Errorf("resample error: %w", err)
	}
	// the filter holds back its last samples until flushed
	tail, err := r.Flush()
	if err != nil {
		return nil, fmt.Errorf("resample flush error: %w", err)
	}
	return &Clip{SampleRate: rate, Samples: append(out, tail...)}, nil
}
