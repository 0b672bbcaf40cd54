package timeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/stream-polyglot/voiceline/audio"
	"github.com/stream-polyglot/voiceline/metrics"
)

// DefaultChunkDuration is the window size used when none is configured.
const DefaultChunkDuration = 30.0

// Tunables are the boundary heuristics of the chunk loop. They are empirical
// and meant to be configured, not relied upon as exact behavior.
type Tunables struct {
	// MergeTolerance: a window's first interval starting this close to the
	// window start continues the pending fragment.
	MergeTolerance float64
	// IncompleteTolerance: a last interval ending this close to the window end
	// is treated as cut off.
	IncompleteTolerance float64
	// EndTolerance: a window ending this close to the recording end is final.
	EndTolerance float64
	// SafetyAdvance is the forced step when a window would not move forward.
	SafetyAdvance float64
}

// DefaultTunables returns the values the segmenter was tuned with.
func DefaultTunables() Tunables {
	return Tunables{
		MergeTolerance:      0.5,
		IncompleteTolerance: 0.1,
		EndTolerance:        0.05,
		SafetyAdvance:       1.0,
	}
}

// Segmenter drives a VoiceActivityOracle over consecutive chunks.
type Segmenter struct {
	vad     VoiceActivityOracle
	tun     Tunables
	log     logrus.FieldLogger
	metrics *metrics.Recorder
}

// NewSegmenter builds a Segmenter. rec may be nil.
func NewSegmenter(vad VoiceActivityOracle, tun Tunables, log logrus.FieldLogger, rec *metrics.Recorder) *Segmenter {
	return &Segmenter{
		vad:     vad,
		tun:     tun,
		log:     log.WithField("component", "segmenter"),
		metrics: rec,
	}
}

// emitter assigns ids and keeps the output non-overlapping.
type emitter struct {
	out []Fragment
	log logrus.FieldLogger
	rec *metrics.Recorder
}

func (e *emitter) emit(iv Interval) {
	if n := len(e.out); n > 0 {
		last := e.out[n-1]
		if iv.End <= last.End {
			// already covered by an emitted fragment (rewound window)
			e.log.WithFields(logrus.Fields{"start": iv.Start, "end": iv.End}).Debug("interval already emitted")
			return
		}
		if iv.Start < last.End {
			iv.Start = last.End
		}
	}
	if iv.End <= iv.Start {
		return
	}
	e.out = append(e.out, Fragment{
		ID:        len(e.out),
		SourceRef: FragmentFileName(iv.Start, iv.End),
		Start:     iv.Start,
		End:       iv.End,
	})
	e.rec.FragmentEmitted()
}

// Segment walks clip in windows of chunkDuration seconds and returns the
// stitched timeline. Any oracle failure aborts the run.
func (s *Segmenter) Segment(ctx context.Context, clip *audio.Clip, chunkDuration float64) (*Timeline, error) {
	if chunkDuration <= 0 {
		return nil, ErrInvalidChunkDuration
	}
	total := clip.Duration()
	s.log.WithFields(logrus.Fields{
		"duration":    total,
		"sample_rate": clip.SampleRate,
		"chunk":       chunkDuration,
	}).Info("segmenting audio")

	em := &emitter{log: s.log, rec: s.metrics}
	var buf carry
	chunkStart := 0.0

	for chunkStart < total {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunkEnd := min(chunkStart+chunkDuration, total)
		log := s.log.WithFields(logrus.Fields{"chunk_start": chunkStart, "chunk_end": chunkEnd})

		rel, err := s.vad.DetectSpeech(ctx, clip.Slice(chunkStart, chunkEnd))
		if err != nil {
			return nil, fmt.Errorf("%w: chunk %.2f-%.2f: %v", ErrVoiceActivity, chunkStart, chunkEnd, err)
		}
		s.metrics.ChunkProcessed()
		log.WithField("segments", len(rel)).Debug("chunk processed")

		intervals := absolute(rel, chunkStart, total)

		action, intervals, flushed := buf.resolve(intervals, chunkStart, s.tun.MergeTolerance)
		switch action {
		case carryFlush:
			log.WithField("start", flushed.Start).Debug("pending fragment complete, flushing")
			em.emit(flushed)
		case carryMerge:
			log.WithField("start", intervals[0].Start).Debug("pending fragment continued")
		}

		next := chunkEnd
		if n := len(intervals); n > 0 {
			last := intervals[n-1]
			atEnd := chunkEnd >= total-s.tun.EndTolerance
			if s.isIncomplete(last, chunkEnd) && !atEnd {
				log.WithField("end", last.End).Debug("last segment incomplete, buffering")
				buf.hold(last)
				intervals = intervals[:n-1]
				next = last.Start
				if last.Start < chunkStart {
					// continuation of a merged span: its onset is already known
					next = chunkEnd
				}
			}
		}

		for _, iv := range intervals {
			em.emit(iv)
		}

		if next <= chunkStart {
			log.Warn("no progress made, advancing by safety step")
			next = chunkStart + s.tun.SafetyAdvance
		}
		chunkStart = next
	}

	if iv, ok := buf.take(); ok {
		s.log.WithField("start", iv.Start).Debug("saving final pending fragment")
		em.emit(iv)
	}

	tl := &Timeline{
		Fragments: em.out,
		Metadata: Metadata{
			InputDuration: total,
			SampleRate:    clip.SampleRate,
			FragmentCount: len(em.out),
		},
	}
	s.log.WithField("fragments", len(tl.Fragments)).Info("segmentation complete")
	return tl, nil
}

func (s *Segmenter) isIncomplete(iv Interval, chunkEnd float64) bool {
	d := iv.End - chunkEnd
	if d < 0 {
		d = -d
	}
	return d < s.tun.IncompleteTolerance
}

// absolute shifts relative intervals by offset, clamps them to the recording
// and orders them by start.
func absolute(rel []Interval, offset, total float64) []Interval {
	out := make([]Interval, 0, len(rel))
	for _, iv := range rel {
		a := Interval{Start: iv.Start + offset, End: min(iv.End+offset, total)}
		if a.End <= a.Start {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// WriteFragments stores one WAV file per fragment under dir, named by SourceRef.
func WriteFragments(clip *audio.Clip, tl *Timeline, dir string, log logrus.FieldLogger) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, f := range tl.Fragments {
		path := filepath.Join(dir, f.SourceRef)
		if err := audio.Save(path, clip.Slice(f.Start, f.End)); err != nil {
			return fmt.Errorf("write fragment %d: %w", f.ID, err)
		}
		log.WithFields(logrus.Fields{
			"fragment_id": f.ID,
			"file":        f.SourceRef,
			"duration":    f.Duration(),
		}).Debug("saved fragment")
	}
	return nil
}
