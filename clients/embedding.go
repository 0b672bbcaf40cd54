package clients

import (
	"context"
	"errors"

	"github.com/stream-polyglot/voiceline/audio"
)

type embeddingResp struct {
	Embedding []float32 `json:"embedding"`
}

// Embedder is the speaker embedding oracle served at
// {BaseURL}/v1/speaker-embedding.
type Embedder struct {
	http    *HTTP
	BaseURL string
}

func NewEmbedder(h *HTTP, baseURL string) *Embedder {
	return &Embedder{http: h, BaseURL: baseURL}
}

func (e *Embedder) Embed(ctx context.Context, wave *audio.Clip) ([]float32, error) {
	wav, err := audio.Encode(wave)
	if err != nil {
		return nil, err
	}
	body, ct, err := wavForm(wav, nil)
	if err != nil {
		return nil, err
	}
	var out embeddingResp
	if err := e.http.do(ctx, "embedding", postForm(ctx, e.BaseURL+"/v1/speaker-embedding", body, ct), &out); err != nil {
		return nil, err
	}
	if len(out.Embedding) == 0 {
		return nil, errors.New("embedding: empty vector")
	}
	return out.Embedding, nil
}
