package orchestrator

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/stream-polyglot/voiceline/speakers"
	"github.com/stream-polyglot/voiceline/timeline"
)

// PersistBundle is the session summary written as session.json.
type PersistBundle struct {
	SessionID     string                    `json:"session_id"`
	RunID         string                    `json:"run_id"`
	AudioPath     string                    `json:"audio_path"`
	SubtitlePath  string                    `json:"subtitle_path,omitempty"`
	CacheKey      string                    `json:"cache_key"`
	GeneratedAt   time.Time                 `json:"generated_at"`
	Metadata      timeline.Metadata         `json:"metadata"`
	Speakers      []speakers.SpeakerSummary `json:"speakers"`
	SpeakingShare map[string]float64        `json:"speaking_share"`
	Matched       int                       `json:"matched"`
	Unmatched     int                       `json:"unmatched"`
}

type clustersFile struct {
	Clusters   speakers.Clusters  `json:"clusters"`
	References []SpeakerReference `json:"references"`
}

func mkSessionDir(outputsRoot string) (string, string, error) {
	ts := time.Now().Format("20060102-150405")
	sid := "session_" + ts
	dir := filepath.Join(outputsRoot, sid)
	if err := os.MkdirAll(filepath.Join(dir, "refs"), 0o755); err != nil {
		return "", "", err
	}
	return sid, dir, nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// persist writes the run's artifacts into dir.
func persist(dir string, bundle PersistBundle, a *Analysis, spk []SpeakerReference, refs []Reference) error {
	if err := writeJSON(filepath.Join(dir, "timeline.json"), a.Timeline); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, "clusters.json"), clustersFile{Clusters: a.Clusters, References: spk}); err != nil {
		return err
	}
	if refs != nil {
		if err := writeJSON(filepath.Join(dir, "references.json"), refs); err != nil {
			return err
		}
	}
	return writeJSON(filepath.Join(dir, "session.json"), bundle)
}
