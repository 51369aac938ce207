// Package rag answers questions against a session's database by running a
// text-to-SQL branch and a semantic branch side by side and fusing them.
package rag

import (
	"context"

	"github.com/suPer8Hu/dbrag/internal/embed"
	"github.com/suPer8Hu/dbrag/internal/vector"
)

const DefaultK = 5

type Retriever struct {
	embedder *embed.Embedder
	index    *vector.Index
}

func NewRetriever(embedder *embed.Embedder, index *vector.Index) *Retriever {
	return &Retriever{embedder: embedder, index: index}
}

// Retrieve embeds query and returns the session's k best matches. A session
// with nothing indexed yields an empty slice.
func (r *Retriever) Retrieve(ctx context.Context, sessionID, query string, k int) ([]vector.Match, error) {
	q, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return r.index.Search(sessionID, q, k), nil
}
