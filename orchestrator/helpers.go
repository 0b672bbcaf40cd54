package orchestrator

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/asticode/go-astisub"

	"github.com/stream-polyglot/voiceline/speakers"
	"github.com/stream-polyglot/voiceline/timeline"
)

// ReadSRT loads the cues of a SubRip file as utterances.
func ReadSRT(path string) ([]Utterance, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseSRT(f)
}

func parseSRT(r io.Reader) ([]Utterance, error) {
	subs, err := astisub.ReadFromSRT(r)
	if err != nil {
		return nil, fmt.Errorf("srt: %w", err)
	}
	if len(subs.Items) == 0 {
		return nil, errors.New("srt: no cues")
	}
	out := make([]Utterance, 0, len(subs.Items))
	for _, it := range subs.Items {
		lines := make([]string, 0, len(it.Lines))
		for _, l := range it.Lines {
			lines = append(lines, l.String())
		}
		out = append(out, Utterance{
			Index: it.Index,
			Start: it.StartAt.Seconds(),
			End:   it.EndAt.Seconds(),
			Text:  strings.Join(lines, "\n"),
		})
	}
	return out, nil
}

// fragmentUtterances makes one utterance per timeline fragment.
func fragmentUtterances(tl *timeline.Timeline) []Utterance {
	out := make([]Utterance, 0, len(tl.Fragments))
	for _, f := range tl.Fragments {
		out = append(out, Utterance{Index: f.ID, Start: f.Start, End: f.End})
	}
	return out
}

// speakingShare returns each speaker's fraction of the clustered speech.
func speakingShare(c speakers.Clusters) map[string]float64 {
	share := map[string]float64{}
	total := 0.0
	for id, frags := range c {
		for _, f := range frags {
			share[id] += f.Duration
			total += f.Duration
		}
	}
	if total > 0 {
		for k := range share {
			share[k] /= total
		}
	}
	return share
}
