package timeline

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stream-polyglot/voiceline/audio"
	"github.com/stream-polyglot/voiceline/metrics"
)

func newTestSegmenter(vad VoiceActivityOracle) *Segmenter {
	log, _ := test.NewNullLogger()
	return NewSegmenter(vad, DefaultTunables(), log, nil)
}

func bounds(tl *Timeline) []Interval {
	out := make([]Interval, len(tl.Fragments))
	for i, f := range tl.Fragments {
		out[i] = Interval{Start: f.Start, End: f.End}
	}
	return out
}

func TestSegmentSingleChunk(t *testing.T) {
	clip := speechClip(1000, 10,
		Interval{Start: 0.5, End: 1.5},
		Interval{Start: 4.0, End: 6.0},
		Interval{Start: 8.0, End: 9.5},
	)
	rec := metrics.New()
	log, _ := test.NewNullLogger()
	s := NewSegmenter(&energyVAD{}, DefaultTunables(), log, rec)

	tl, err := s.Segment(context.Background(), clip, 30)
	require.NoError(t, err)

	want := []Interval{{Start: 0.5, End: 1.5}, {Start: 4.0, End: 6.0}, {Start: 8.0, End: 9.5}}
	require.Len(t, tl.Fragments, 3)
	for i, iv := range bounds(tl) {
		assert.InDelta(t, want[i].Start, iv.Start, 1e-3)
		assert.InDelta(t, want[i].End, iv.End, 1e-3)
		assert.Equal(t, i, tl.Fragments[i].ID)
	}
	assert.Equal(t, 3, tl.Metadata.FragmentCount)
	assert.InDelta(t, 10.0, tl.Metadata.InputDuration, 1e-9)
	assert.Equal(t, 1000, tl.Metadata.SampleRate)
	assert.Equal(t, FragmentFileName(0.5, 1.5), tl.Fragments[0].SourceRef)
	assert.NoError(t, tl.Validate())
}

func TestSegmentCarryOverMergeAcrossBoundary(t *testing.T) {
	vad := &energyVAD{}
	clip := speechClip(100, 60, Interval{Start: 28, End: 32})

	tl, err := newTestSegmenter(vad).Segment(context.Background(), clip, 30)
	require.NoError(t, err)
	assert.Equal(t, []Interval{{Start: 28, End: 32}}, bounds(tl))
}

func TestSegmentCarryOverMergeScripted(t *testing.T) {
	// second window is rewound to 28.0, so [0,4) relative is [28,32) absolute
	vad := &scriptedVAD{script: [][]Interval{
		{{Start: 28, End: 30}},
		{{Start: 0, End: 4}},
	}}
	clip := speechClip(100, 60)

	tl, err := newTestSegmenter(vad).Segment(context.Background(), clip, 30)
	require.NoError(t, err)
	assert.Equal(t, []Interval{{Start: 28, End: 32}}, bounds(tl))
}

func TestSegmentCarryOverFlush(t *testing.T) {
	vad := &scriptedVAD{script: [][]Interval{
		{{Start: 28, End: 30}},
		{{Start: 4, End: 6}},
	}}
	clip := speechClip(100, 60)

	tl, err := newTestSegmenter(vad).Segment(context.Background(), clip, 30)
	require.NoError(t, err)
	assert.Equal(t, []Interval{{Start: 28, End: 30}, {Start: 32, End: 34}}, bounds(tl))
	assert.Equal(t, []int{0, 1}, []int{tl.Fragments[0].ID, tl.Fragments[1].ID})
}

func TestSegmentSeparateUtterancesNearBoundary(t *testing.T) {
	clip := speechClip(100, 60, Interval{Start: 28, End: 30}, Interval{Start: 32, End: 35})

	tl, err := newTestSegmenter(&energyVAD{}).Segment(context.Background(), clip, 30)
	require.NoError(t, err)
	assert.Equal(t, []Interval{{Start: 28, End: 30}, {Start: 32, End: 35}}, bounds(tl))
}

func TestSegmentKeepsUtteranceAtRecordingEnd(t *testing.T) {
	clip := speechClip(100, 60, Interval{Start: 10, End: 12}, Interval{Start: 55, End: 60})

	tl, err := newTestSegmenter(&energyVAD{}).Segment(context.Background(), clip, 30)
	require.NoError(t, err)
	assert.Equal(t, []Interval{{Start: 10, End: 12}, {Start: 55, End: 60}}, bounds(tl))
}

func TestSegmentPendingFlushedWhenNextWindowSilent(t *testing.T) {
	vad := &scriptedVAD{script: [][]Interval{
		{{Start: 25, End: 30}},
	}}
	clip := speechClip(100, 40)

	tl, err := newTestSegmenter(vad).Segment(context.Background(), clip, 30)
	require.NoError(t, err)
	assert.Equal(t, []Interval{{Start: 25, End: 30}}, bounds(tl))
}

func TestSegmentSafetyAdvance(t *testing.T) {
	vad := &scriptedVAD{script: [][]Interval{
		{{Start: 0, End: 30}},
		{{Start: 0, End: 5}},
	}}
	clip := speechClip(100, 100)

	tl, err := newTestSegmenter(vad).Segment(context.Background(), clip, 30)
	require.NoError(t, err)
	// the pending span is never shortened by a later, shorter detection
	assert.Equal(t, []Interval{{Start: 0, End: 30}}, bounds(tl))
	assert.Equal(t, 5, vad.calls)
}

func TestSegmentLongUtteranceTerminates(t *testing.T) {
	clip := speechClip(100, 90, Interval{Start: 20, End: 75})

	tl, err := newTestSegmenter(&energyVAD{}).Segment(context.Background(), clip, 30)
	require.NoError(t, err)
	require.Len(t, tl.Fragments, 1)
	assert.Equal(t, 20.0, tl.Fragments[0].Start)
	assert.InDelta(t, 75.0, tl.Fragments[0].End, 1e-6)
}

func TestSegmentMonologueWindowCount(t *testing.T) {
	vad := &energyVAD{}
	clip := speechClip(100, 300, Interval{Start: 5, End: 295})

	tl, err := newTestSegmenter(vad).Segment(context.Background(), clip, 30)
	require.NoError(t, err)
	require.Len(t, tl.Fragments, 1)
	assert.Equal(t, 5.0, tl.Fragments[0].Start)
	assert.InDelta(t, 295.0, tl.Fragments[0].End, 1e-6)
	// windows at 0, 5, 6 and then every 30s from 36
	assert.Equal(t, 12, vad.calls)
}

func TestSegmentNonOverlapProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 40; trial++ {
		total := 120.0
		var regions []Interval
		at := rng.Float64() * 3
		for at < total-1 {
			length := 0.3 + rng.Float64()*8
			end := min(at+length, total)
			regions = append(regions, Interval{Start: float64(int(at*100)) / 100, End: float64(int(end*100)) / 100})
			at = end + 0.2 + rng.Float64()*4
		}
		clip := speechClip(100, total, regions...)
		chunk := float64(5 + rng.Intn(35))

		tl, err := newTestSegmenter(&energyVAD{}).Segment(context.Background(), clip, chunk)
		require.NoError(t, err)
		require.NoError(t, tl.Validate(), "trial %d chunk %.0f", trial, chunk)

		for _, r := range regions {
			mid := (r.Start + r.End) / 2
			covered := false
			for _, f := range tl.Fragments {
				if f.Start <= mid && mid <= f.End {
					covered = true
					break
				}
			}
			assert.True(t, covered, "trial %d chunk %.0f: region %v lost", trial, chunk, r)
		}
	}
}

func TestSegmentOracleFailureIsFatal(t *testing.T) {
	_, err := newTestSegmenter(failingVAD{}).Segment(context.Background(), speechClip(100, 10), 30)
	assert.ErrorIs(t, err, ErrVoiceActivity)
}

func TestSegmentRejectsBadChunkDuration(t *testing.T) {
	_, err := newTestSegmenter(&energyVAD{}).Segment(context.Background(), speechClip(100, 10), 0)
	assert.ErrorIs(t, err, ErrInvalidChunkDuration)
}

func TestWriteFragments(t *testing.T) {
	clip := speechClip(1000, 5, Interval{Start: 1, End: 2})
	tl, err := newTestSegmenter(&energyVAD{}).Segment(context.Background(), clip, 30)
	require.NoError(t, err)

	dir := t.TempDir()
	log, _ := test.NewNullLogger()
	require.NoError(t, WriteFragments(clip, tl, dir, log))

	got, err := audio.Load(filepath.Join(dir, tl.Fragments[0].SourceRef))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, got.Duration(), 1e-3)
}

func TestFragmentFileName(t *testing.T) {
	assert.Equal(t, "fragment_1.2500000000_3.0000000000.wav", FragmentFileName(1.25, 3))
}
