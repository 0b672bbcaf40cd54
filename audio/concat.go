package audio

import (
	"github.com/sirupsen/logrus"
)

// Concat joins the given WAV files in order and writes the result to out.
// Missing or unreadable files and files whose sample rate differs from the
// first usable one are skipped with a warning.
func Concat(paths []string, out string, log logrus.FieldLogger) (*Clip, error) {
	var joined *Clip
	for _, p := range paths {
		c, err := Load(p)
		if err != nil {
			log.WithError(err).WithField("file", p).Warn("fragment not loadable, skipping")
			continue
		}
		if joined == nil {
			joined = &Clip{SampleRate: c.SampleRate}
		} else if c.SampleRate != joined.SampleRate {
			log.WithFields(logrus.Fields{
				"file":     p,
				"rate":     c.SampleRate,
				"expected": joined.SampleRate,
			}).Warn("sample rate mismatch, skipping")
			continue
		}
		joined.Append(c)
	}
	if joined == nil {
		return nil, ErrNoSegments
	}
	if out != "" {
		if err := Save(out, joined); err != nil {
			return nil, err
		}
	}
	return joined, nil
}
