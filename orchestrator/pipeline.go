// Package orchestrator runs the reference pipeline: segment a recording into
// speech fragments, group them by speaker and pick reference audio for each
// subtitle cue.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stream-polyglot/voiceline/audio"
	"github.com/stream-polyglot/voiceline/clients"
	cfg "github.com/stream-polyglot/voiceline/config"
	"github.com/stream-polyglot/voiceline/embedcache"
	"github.com/stream-polyglot/voiceline/metrics"
	"github.com/stream-polyglot/voiceline/speakers"
	"github.com/stream-polyglot/voiceline/timeline"
)

// Separator produces vocal and accompaniment stems for a recording.
type Separator interface {
	Separate(ctx context.Context, audioPath string) (*clients.Stems, error)
}

// Oracles are the external services the pipeline calls. Separator may be nil.
type Oracles struct {
	VAD       timeline.VoiceActivityOracle
	Embedder  speakers.EmbeddingOracle
	Separator Separator
}

type Pipeline struct {
	cfg     *cfg.Root
	oracles Oracles
	log     logrus.FieldLogger
	metrics *metrics.Recorder
	store   *timeline.Store
	cache   speakers.EmbeddingCache
	closers []func() error
	bg      sync.WaitGroup
}

// NewPipeline wires a pipeline around the given oracles. rec may be nil.
func NewPipeline(c *cfg.Root, o Oracles, log logrus.FieldLogger, rec *metrics.Recorder) *Pipeline {
	log = log.WithField("component", "pipeline")
	return &Pipeline{
		cfg:     c,
		oracles: o,
		log:     log,
		metrics: rec,
		store:   timeline.NewStore(filepath.Join(c.Paths.Cache, "timelines"), log, rec),
	}
}

// FromConfig builds the HTTP oracles and, if enabled, the on-disk embedding
// cache. Call Close when done.
func FromConfig(c *cfg.Root, log logrus.FieldLogger, rec *metrics.Recorder) (*Pipeline, error) {
	h := clients.NewHTTP(cfg.DurSeconds(c.Services.TimeoutSeconds), c.Retry.MaxRetries, log, rec)
	seg := c.Segmentation
	o := Oracles{
		VAD:      clients.NewVAD(h, c.Services.VAD.URL, seg.VADThreshold, seg.MinSpeechMs, seg.MinSilenceMs),
		Embedder: clients.NewEmbedder(h, c.Services.Embedding.URL),
	}
	if c.Paths.Separation != "" {
		o.Separator = clients.NewSeparator(h, c.Services.Separation.URL, c.Paths.Separation)
	}
	p := NewPipeline(c, o, log, rec)

	if c.Clustering.EmbeddingCache {
		ec, err := embedcache.Open(embedcache.Options{Dir: filepath.Join(c.Paths.Cache, "embeddings"), Log: log})
		if err != nil {
			return nil, err
		}
		p.WithEmbeddingCache(ec)
		p.closers = append(p.closers, ec.Close)
	}
	return p, nil
}

// WithEmbeddingCache reuses embeddings across runs of the same timeline.
func (p *Pipeline) WithEmbeddingCache(c speakers.EmbeddingCache) *Pipeline {
	p.cache = c
	return p
}

// Close waits for background tasks and releases resources.
func (p *Pipeline) Close() error {
	p.bg.Wait()
	var errs []error
	for _, c := range p.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

func (p *Pipeline) tunables() timeline.Tunables {
	s := p.cfg.Segmentation
	return timeline.Tunables{
		MergeTolerance:      s.MergeTolerance,
		IncompleteTolerance: s.IncompleteTolerance,
		EndTolerance:        s.EndTolerance,
		SafetyAdvance:       s.SafetyAdvance,
	}
}

func (p *Pipeline) selector() *speakers.Selector {
	r := p.cfg.Reference
	return speakers.NewSelector(
		speakers.ReferencePolicy{MinDuration: r.MinDuration, TargetDuration: r.TargetDuration, OvershootFactor: r.OvershootFactor},
		speakers.Scoring{MidpointBonus: r.MidpointBonus},
	)
}

// Segment returns the recording's timeline (from cache when the cached entry
// is intact), the directory holding its fragment files and its cache key.
func (p *Pipeline) Segment(ctx context.Context, audioPath string) (*timeline.Timeline, string, string, error) {
	chunk := p.cfg.Segmentation.ChunkDuration
	key, err := timeline.CacheKey(audioPath, chunk)
	if err != nil {
		return nil, "", "", err
	}
	tl, dir, err := p.store.Load(key)
	if err != nil {
		return nil, "", "", err
	}
	if tl != nil {
		return tl, dir, key, nil
	}

	clip, err := audio.Load(audioPath)
	if err != nil {
		return nil, "", "", err
	}
	tl, err = timeline.NewSegmenter(p.oracles.VAD, p.tunables(), p.log, p.metrics).Segment(ctx, clip, chunk)
	if err != nil {
		return nil, "", "", err
	}
	dir = filepath.Join(p.cfg.Paths.Cache, "fragments", key)
	if err := timeline.WriteFragments(clip, tl, dir, p.log); err != nil {
		return nil, "", "", err
	}
	if err := p.store.Save(tl, key, dir); err != nil {
		return nil, "", "", err
	}
	return tl, dir, key, nil
}

// Analyze segments and clusters a recording.
func (p *Pipeline) Analyze(ctx context.Context, audioPath string) (*Analysis, error) {
	tl, dir, key, err := p.Segment(ctx, audioPath)
	if err != nil {
		return nil, err
	}
	cl := p.cfg.Clustering
	clusterer := speakers.NewClusterer(p.oracles.Embedder, speakers.Config{
		SimilarityThreshold: cl.SimilarityThreshold,
		MinAnalysisSeconds:  cl.MinAnalysisSeconds,
		EmbeddingSampleRate: p.cfg.Audio.SampleRate,
	}, p.log, p.metrics)
	if p.cache != nil {
		clusterer.WithCache(p.cache, key)
	}
	clusters, err := clusterer.Cluster(ctx, tl, dir)
	if err != nil {
		return nil, err
	}
	return &Analysis{AudioPath: audioPath, CacheKey: key, Timeline: tl, FragmentsDir: dir, Clusters: clusters}, nil
}

// Reference picks reference audio for u and, when out is set and anything
// was selected, writes the fragments concatenated to out.
func (p *Pipeline) Reference(a *Analysis, u Utterance, out string) (Reference, error) {
	sel := p.selector().Select(u.window(), a.Clusters)
	ref := Reference{Utterance: u, ReferenceSelection: sel}
	if sel.SpeakerID == "" {
		p.metrics.ReferenceSelected("unmatched")
		p.log.WithFields(logrus.Fields{"index": u.Index, "start": u.Start, "end": u.End}).Warn("no speaker for utterance")
		return ref, nil
	}
	p.metrics.ReferenceSelected("matched")
	if out == "" {
		return ref, nil
	}
	if _, err := audio.Concat(p.paths(a, sel.Files()), out, p.log); err != nil {
		if errors.Is(err, audio.ErrNoSegments) {
			p.log.WithField("index", u.Index).Warn("reference fragments unavailable")
			return ref, nil
		}
		return ref, err
	}
	ref.Output = out
	return ref, nil
}

func (p *Pipeline) paths(a *Analysis, files []string) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = filepath.Join(a.FragmentsDir, f)
	}
	return out
}

// speakerReferences builds one voice sample per speaker under dir.
func (p *Pipeline) speakerReferences(a *Analysis, dir string) []SpeakerReference {
	r := p.cfg.Reference
	var out []SpeakerReference
	for _, id := range a.Clusters.SpeakerIDs() {
		frags := speakers.SelectReferenceFragments(a.Clusters[id], r.ClusterMaxDuration, r.ClusterMaxCount)
		sr := SpeakerReference{SpeakerID: id, Fragments: frags}
		if dir != "" {
			files := make([]string, len(frags))
			for i, f := range frags {
				files[i] = f.File
			}
			target := filepath.Join(dir, id+".wav")
			if _, err := audio.Concat(p.paths(a, files), target, p.log); err == nil {
				sr.Output = target
			} else {
				p.log.WithError(err).WithField("speaker_id", id).Warn("speaker reference not written")
			}
		}
		out = append(out, sr)
	}
	return out
}

// separate runs source separation in the background. Its result is not
// needed by the rest of the run.
func (p *Pipeline) separate(ctx context.Context, audioPath string) {
	if p.oracles.Separator == nil {
		return
	}
	log := p.log.WithField("component", "separation")
	p.bg.Add(1)
	go func() {
		defer p.bg.Done()
		st, err := p.oracles.Separator.Separate(ctx, audioPath)
		if err != nil {
			log.WithError(err).Warn("source separation failed")
			return
		}
		log.WithField("vocals", st.Vocals).Info("source separation complete")
	}()
}

// Result describes a finished run.
type Result struct {
	SessionID  string
	Dir        string
	Analysis   *Analysis
	Speakers   []SpeakerReference
	References []Reference
}

// Run processes audioPath end to end. With srtPath each subtitle cue gets a
// reference; without it each fragment does. Artifacts go to a new session
// directory under paths.outputs.
func (p *Pipeline) Run(ctx context.Context, audioPath, srtPath string) (*Result, error) {
	runID := uuid.NewString()
	log := p.log.WithField("run_id", runID)
	start := time.Now()

	p.separate(ctx, audioPath)

	var utts []Utterance
	if srtPath != "" {
		var err error
		if utts, err = ReadSRT(srtPath); err != nil {
			return nil, fmt.Errorf("subtitles: %w", err)
		}
	}

	a, err := p.Analyze(ctx, audioPath)
	if err != nil {
		return nil, err
	}
	if srtPath == "" {
		utts = fragmentUtterances(a.Timeline)
	}

	sid, dir, err := mkSessionDir(p.cfg.Paths.Outputs)
	if err != nil {
		return nil, err
	}
	res := &Result{SessionID: sid, Dir: dir, Analysis: a}
	res.Speakers = p.speakerReferences(a, filepath.Join(dir, "refs"))

	bundle := PersistBundle{
		SessionID:     sid,
		RunID:         runID,
		AudioPath:     audioPath,
		SubtitlePath:  srtPath,
		CacheKey:      a.CacheKey,
		GeneratedAt:   time.Now(),
		Metadata:      a.Timeline.Metadata,
		Speakers:      a.Clusters.Summary(),
		SpeakingShare: speakingShare(a.Clusters),
	}
	res.References = make([]Reference, 0, len(utts))
	for i, u := range utts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ref, err := p.Reference(a, u, filepath.Join(dir, "refs", fmt.Sprintf("ref_%d.wav", i)))
		if err != nil {
			return nil, err
		}
		if ref.SpeakerID == "" {
			bundle.Unmatched++
		} else {
			bundle.Matched++
		}
		res.References = append(res.References, ref)
	}

	if err := persist(dir, bundle, a, res.Speakers, res.References); err != nil {
		return nil, err
	}
	if err := p.metrics.WriteFile(p.cfg.Paths.MetricsFile); err != nil {
		log.WithError(err).Warn("metrics not written")
	}
	log.WithFields(logrus.Fields{
		"session":    sid,
		"fragments":  len(a.Timeline.Fragments),
		"speakers":   len(a.Clusters),
		"references": len(res.References),
		"matched":    bundle.Matched,
		"took":       time.Since(start).Round(time.Millisecond),
	}).Info("run complete")
	return res, nil
}
