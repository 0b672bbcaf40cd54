// Package audio holds the mono PCM representation shared by the segmenter and
// the clusterer, and the WAV codec used for chunks, fragments and references.
package audio

import "math"

// Clip is mono PCM audio with samples normalized to [-1, 1].
type Clip struct {
	SampleRate int
	Samples    []float64
}

// Duration returns the clip length in seconds.
func (c *Clip) Duration() float64 {
	if c == nil || c.SampleRate <= 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate)
}

// Slice returns the samples between start and end seconds. Bounds are clamped
// to the clip; the returned clip shares the underlying sample array.
func (c *Clip) Slice(start, end float64) *Clip {
	lo := c.index(start)
	hi := c.index(end)
	if hi < lo {
		hi = lo
	}
	return &Clip{SampleRate: c.SampleRate, Samples: c.Samples[lo:hi]}
}

func (c *Clip) index(t float64) int {
	i := int(t * float64(c.SampleRate))
	if i < 0 {
		return 0
	}
	if i > len(c.Samples) {
		return len(c.Samples)
	}
	return i
}

// Append concatenates other onto c. Both must share a sample rate.
func (c *Clip) Append(other *Clip) {
	c.Samples = append(c.Samples, other.Samples...)
}

func toInt16(s float64) int {
	v := math.Round(s * 32767)
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int(v)
}
