// Package speakers groups timeline fragments by voice and picks reference
// fragments for a time window from the matching speaker's cluster.
package speakers

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/stream-polyglot/voiceline/audio"
	"github.com/stream-polyglot/voiceline/metrics"
	"github.com/stream-polyglot/voiceline/timeline"
)

// ErrNoValidFragments is returned when no fragment survives filtering.
var ErrNoValidFragments = errors.New("no valid fragments for clustering")

// EmbeddingOracle maps a mono waveform at the configured rate to a voice
// identity vector of fixed length.
type EmbeddingOracle interface {
	Embed(ctx context.Context, wave *audio.Clip) ([]float32, error)
}

// EmbeddingCache stores vectors by key across runs. Get reports false on a miss.
type EmbeddingCache interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Put(ctx context.Context, key string, v []float32) error
}

// FragmentInfo is a timeline fragment as seen by clustering.
type FragmentInfo struct {
	FragmentID int     `json:"fragment_id"`
	File       string  `json:"file"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Duration   float64 `json:"duration"`
}

// Clusters maps a speaker id to its fragments. Ids are only stable within
// one Cluster call.
type Clusters map[string][]FragmentInfo

// SpeakerIDs returns the ids in label order (speaker_2 before speaker_10).
func (c Clusters) SpeakerIDs() []string {
	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if len(ids[i]) != len(ids[j]) {
			return len(ids[i]) < len(ids[j])
		}
		return ids[i] < ids[j]
	})
	return ids
}

// SpeakerSummary is a per-speaker rollup for reports.
type SpeakerSummary struct {
	SpeakerID     string  `json:"speaker_id"`
	Fragments     int     `json:"fragments"`
	TotalDuration float64 `json:"total_duration"`
}

func (c Clusters) Summary() []SpeakerSummary {
	out := make([]SpeakerSummary, 0, len(c))
	for _, id := range c.SpeakerIDs() {
		s := SpeakerSummary{SpeakerID: id, Fragments: len(c[id])}
		for _, f := range c[id] {
			s.TotalDuration += f.Duration
		}
		out = append(out, s)
	}
	return out
}

func speakerID(label int) string { return "speaker_" + strconv.Itoa(label) }

// Config controls clustering.
type Config struct {
	// SimilarityThreshold is the cosine similarity two groups must exceed to
	// merge. Raising it demands closer voices and yields more clusters.
	SimilarityThreshold float64
	// MinAnalysisSeconds drops fragments too short for a stable embedding.
	MinAnalysisSeconds float64
	// EmbeddingSampleRate is the rate the oracle expects.
	EmbeddingSampleRate int
}

func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: 0.65,
		MinAnalysisSeconds:  0.4,
		EmbeddingSampleRate: 16000,
	}
}

// Clusterer embeds fragments and groups them by speaker.
type Clusterer struct {
	oracle    EmbeddingOracle
	cfg       Config
	log       logrus.FieldLogger
	metrics   *metrics.Recorder
	cache     EmbeddingCache
	namespace string
}

// NewClusterer builds a Clusterer. rec may be nil.
func NewClusterer(oracle EmbeddingOracle, cfg Config, log logrus.FieldLogger, rec *metrics.Recorder) *Clusterer {
	return &Clusterer{
		oracle:  oracle,
		cfg:     cfg,
		log:     log.WithField("component", "clusterer"),
		metrics: rec,
	}
}

// WithCache makes the clusterer reuse embeddings stored under namespace.
func (c *Clusterer) WithCache(cache EmbeddingCache, namespace string) *Clusterer {
	c.cache = cache
	c.namespace = namespace
	return c
}

// Cluster embeds every usable fragment of tl (audio read from fragmentsDir)
// and partitions them with average-linkage agglomerative clustering at
// distance 1 - SimilarityThreshold. Unusable fragments are skipped with a
// warning and appear in no cluster.
func (c *Clusterer) Cluster(ctx context.Context, tl *timeline.Timeline, fragmentsDir string) (Clusters, error) {
	var (
		valid   []FragmentInfo
		vectors [][]float32
	)
	for _, f := range tl.Fragments {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		log := c.log.WithFields(logrus.Fields{"fragment_id": f.ID, "file": f.SourceRef})

		v, reason, err := c.embed(ctx, f, fragmentsDir)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.WithError(err).Warn("fragment skipped")
			c.metrics.FragmentSkipped(reason)
			continue
		}
		valid = append(valid, FragmentInfo{
			FragmentID: f.ID,
			File:       f.SourceRef,
			Start:      f.Start,
			End:        f.End,
			Duration:   f.Duration(),
		})
		vectors = append(vectors, v)
	}
	if len(valid) == 0 {
		return nil, ErrNoValidFragments
	}

	labels := agglomerate(vectors, 1-c.cfg.SimilarityThreshold)
	clusters := make(Clusters)
	for i, l := range labels {
		id := speakerID(l)
		clusters[id] = append(clusters[id], valid[i])
	}

	c.log.WithFields(logrus.Fields{
		"fragments": len(valid),
		"skipped":   len(tl.Fragments) - len(valid),
		"speakers":  len(clusters),
		"threshold": c.cfg.SimilarityThreshold,
	}).Info("speaker clustering complete")
	return clusters, nil
}

var errTooShort = errors.New("fragment too short for embedding")

// embed returns the fragment's vector, or the skip reason and cause.
func (c *Clusterer) embed(ctx context.Context, f timeline.Fragment, dir string) ([]float32, string, error) {
	key := c.namespace + "/" + f.SourceRef
	if c.cache != nil {
		v, ok, err := c.cache.Get(ctx, key)
		if err != nil {
			c.log.WithError(err).Warn("embedding cache read failed")
		} else if ok {
			return v, "", nil
		}
	}

	clip, err := audio.Load(filepath.Join(dir, f.SourceRef))
	if err != nil {
		return nil, metrics.ReasonLoadError, err
	}
	if clip.Duration() < c.cfg.MinAnalysisSeconds {
		return nil, metrics.ReasonTooShort, fmt.Errorf("%w: %.3fs", errTooShort, clip.Duration())
	}
	wave, err := audio.Resample(clip, c.cfg.EmbeddingSampleRate)
	if err != nil {
		return nil, metrics.ReasonLoadError, err
	}

	v, err := c.oracle.Embed(ctx, wave)
	if err != nil {
		return nil, metrics.ReasonEmbeddingError, err
	}
	if len(v) == 0 {
		return nil, metrics.ReasonEmbeddingError, errors.New("empty embedding")
	}
	if c.cache != nil {
		if err := c.cache.Put(ctx, key, v); err != nil {
			c.log.WithError(err).Warn("embedding cache write failed")
		}
	}
	return v, "", nil
}
