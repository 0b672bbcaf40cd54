package clients

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type separationResp struct {
	Vocals        string `json:"vocals"`
	Accompaniment string `json:"accompaniment"`
}

// Stems are the files written by Separate.
type Stems struct {
	Vocals        string `json:"vocals"`
	Accompaniment string `json:"accompaniment"`
}

// Separator splits a recording into vocals and accompaniment via
// {BaseURL}/v1/separate and stores both stems under Dir.
type Separator struct {
	http    *HTTP
	BaseURL string
	Dir     string
}

func NewSeparator(h *HTTP, baseURL, dir string) *Separator {
	return &Separator{http: h, BaseURL: baseURL, Dir: dir}
}

func (s *Separator) stems(audioPath string) Stems {
	base := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	return Stems{
		Vocals:        filepath.Join(s.Dir, base+"_vocals.wav"),
		Accompaniment: filepath.Join(s.Dir, base+"_accompaniment.wav"),
	}
}

// Separate returns existing stems for audioPath when both are on disk,
// otherwise asks the service and writes them.
func (s *Separator) Separate(ctx context.Context, audioPath string) (*Stems, error) {
	st := s.stems(audioPath)
	if fileExists(st.Vocals) && fileExists(st.Accompaniment) {
		return &st, nil
	}

	wav, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, err
	}
	body, ct, err := wavForm(wav, nil)
	if err != nil {
		return nil, err
	}
	var out separationResp
	if err := s.http.do(ctx, "separation", postForm(ctx, s.BaseURL+"/v1/separate", body, ct), &out); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return nil, err
	}
	for path, enc := range map[string]string{st.Vocals: out.Vocals, st.Accompaniment: out.Accompaniment} {
		raw, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return nil, fmt.Errorf("separation decode %s: %w", filepath.Base(path), err)
		}
		if err := os.WriteFile(path, raw, 0o644); err != nil {
			return nil, err
		}
	}
	return &st, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
