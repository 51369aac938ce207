package embed

import (
	"context"
	"fmt"

	"github.com/suPer8Hu/dbrag/internal/ai"
	"github.com/suPer8Hu/dbrag/internal/errs"
)

// Embedder maps text to vectors through a backend. Backend failures come back
// as EmbeddingBackendError carrying the backend's message; nothing is retried
// here.
type Embedder struct {
	backend ai.TextEmbedder
}

func New(backend ai.TextEmbedder) *Embedder {
	return &Embedder{backend: backend}
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	v, err := e.backend.EmbedQuery(ctx, text)
	if err != nil {
		return nil, errs.Wrap(errs.KindEmbeddingBackend, "embed query", err)
	}
	return v, nil
}

// EmbedDocuments returns one vector per input, in input order, all of the
// same length.
func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	vecs, err := e.backend.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, errs.Wrap(errs.KindEmbeddingBackend, "embed documents", err)
	}
	if len(vecs) != len(texts) {
		return nil, errs.Newf(errs.KindEmbeddingBackend, "backend returned %d vectors for %d texts", len(vecs), len(texts))
	}
	dim := len(vecs[0])
	for i, v := range vecs {
		if len(v) != dim {
			return nil, errs.New(errs.KindEmbeddingBackend, fmt.Sprintf("vector %d has dimension %d, want %d", i, len(v), dim))
		}
	}
	return vecs, nil
}
