package clients

import (
	"context"
	"fmt"
	"strconv"

	"github.com/stream-polyglot/voiceline/audio"
	"github.com/stream-polyglot/voiceline/timeline"
)

type speechSegment struct {
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Duration float64 `json:"duration"`
}

type vadResp struct {
	SpeechSegments []speechSegment `json:"speech_segments"`
}

// VAD is the voice activity oracle served at {BaseURL}/v1/detect-voice.
type VAD struct {
	http         *HTTP
	BaseURL      string
	Threshold    float64
	MinSpeechMs  int
	MinSilenceMs int
}

func NewVAD(h *HTTP, baseURL string, threshold float64, minSpeechMs, minSilenceMs int) *VAD {
	return &VAD{http: h, BaseURL: baseURL, Threshold: threshold, MinSpeechMs: minSpeechMs, MinSilenceMs: minSilenceMs}
}

// DetectSpeech returns the speech intervals of clip, relative to its start.
func (v *VAD) DetectSpeech(ctx context.Context, clip *audio.Clip) ([]timeline.Interval, error) {
	wav, err := audio.Encode(clip)
	if err != nil {
		return nil, err
	}
	body, ct, err := wavForm(wav, map[string]string{
		"threshold":               strconv.FormatFloat(v.Threshold, 'f', -1, 64),
		"min_speech_duration_ms":  strconv.Itoa(v.MinSpeechMs),
		"min_silence_duration_ms": strconv.Itoa(v.MinSilenceMs),
	})
	if err != nil {
		return nil, err
	}

	var out vadResp
	if err := v.http.do(ctx, "vad", postForm(ctx, v.BaseURL+"/v1/detect-voice", body, ct), &out); err != nil {
		return nil, err
	}
	ivs := make([]timeline.Interval, 0, len(out.SpeechSegments))
	for _, s := range out.SpeechSegments {
		if s.End <= s.Start {
			return nil, fmt.Errorf("vad: empty segment %.3f-%.3f", s.Start, s.End)
		}
		ivs = append(ivs, timeline.Interval{Start: s.Start, End: s.End})
	}
	return ivs, nil
}
